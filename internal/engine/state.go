package engine

import (
	"math"
	"sort"
	"time"

	"github.com/talgya/tradeworld/internal/assets"
	"github.com/talgya/tradeworld/internal/capital"
	"github.com/talgya/tradeworld/internal/economy"
	"github.com/talgya/tradeworld/internal/events"
	"github.com/talgya/tradeworld/internal/interconnect"
	"github.com/talgya/tradeworld/internal/labor"
	"github.com/talgya/tradeworld/internal/ledger"
	"github.com/talgya/tradeworld/internal/market"
)

// EconomicState is one complete snapshot of the economy. It is the unit of
// publication and persistence.
type EconomicState struct {
	Tick         uint64                        `json:"tick"`
	Time         time.Time                     `json:"time"`
	Prices       map[string]float64            `json:"prices"`
	Commodities  map[string]economy.Conditions `json:"commodities"`
	Capital      capital.Stats                 `json:"capital"`
	Assets       assets.Stats                  `json:"assets"`
	Labor        labor.Stats                   `json:"labor"`
	Interconnect interconnect.Stats            `json:"interconnect"`
	Events       events.Statistics             `json:"events"`
	Indicators   Indicators                    `json:"indicators"`
	Performance  PerformanceMetrics            `json:"performance"`
	// Ledger holds lifetime cash-flow totals by kind, to the cent.
	Ledger map[ledger.Kind]string `json:"ledger"`
}

// Indicators are the macro series. Unemployment, inflation and GDP growth
// are percentages; CPI is 100 at the base price basket; confidence is 0-100.
type Indicators struct {
	CPI          float64 `json:"cpi"`
	GDPGrowth    float64 `json:"gdp_growth"`
	Unemployment float64 `json:"unemployment"`
	Inflation    float64 `json:"inflation"`
	Confidence   float64 `json:"confidence"`
}

// Indicator names used in notifications.
const (
	IndicatorCPI          = "cpi"
	IndicatorGDPGrowth    = "gdp_growth"
	IndicatorUnemployment = "unemployment"
	IndicatorInflation    = "inflation"
	IndicatorConfidence   = "confidence"
)

func (in Indicators) named() map[string]float64 {
	return map[string]float64{
		IndicatorCPI:          in.CPI,
		IndicatorGDPGrowth:    in.GDPGrowth,
		IndicatorUnemployment: in.Unemployment,
		IndicatorInflation:    in.Inflation,
		IndicatorConfidence:   in.Confidence,
	}
}

const (
	cpiBase        = 100.0
	gdpTrend       = 2.0
	gdpSensitivity = 10.0
	// Unemployment and volatility at which their confidence factors hit zero.
	unemploymentCeiling = 0.15
	volatilityCeiling   = 0.5
)

// cpi prices the fixed-weight commodity basket against base prices.
func cpi(prices map[string]float64) float64 {
	total := 0.0
	for _, c := range economy.Catalog() {
		p, ok := prices[string(c.ID)]
		if !ok {
			p = c.BasePrice
		}
		total += c.CPIWeight * p / c.BasePrice
	}
	return cpiBase * total
}

// computeIndicators derives the macro series. indexBase is the equity index
// level GDP growth is measured against.
func computeIndicators(prices map[string]float64, equityIndex, indexBase, unemployment, volatility float64) Indicators {
	c := cpi(prices)
	if indexBase <= 0 {
		indexBase = 100
	}
	marketFactor := market.Clamp(0.5+(equityIndex/indexBase-1), 0, 1)
	jobsFactor := market.Clamp(1-unemployment/unemploymentCeiling, 0, 1)
	volFactor := market.Clamp(1-volatility/volatilityCeiling, 0, 1)
	return Indicators{
		CPI:          c,
		GDPGrowth:    gdpTrend + gdpSensitivity*(equityIndex/indexBase-1),
		Unemployment: unemployment * 100,
		Inflation:    (c/cpiBase - 1) * 100,
		Confidence:   100 * (0.4*marketFactor + 0.3*jobsFactor + 0.3*volFactor),
	}
}

// Conditions is the headline view of the economy.
type Conditions struct {
	Time         time.Time    `json:"time"`
	Season       string       `json:"season"`
	Cycle        events.Cycle `json:"cycle"`
	Stress       float64      `json:"stress"`
	Indicators   Indicators   `json:"indicators"`
	BaseRate     float64      `json:"base_rate"`
	EquityIndex  float64      `json:"equity_index"`
	Volatility   float64      `json:"volatility"`
	ActiveShocks int          `json:"active_shocks"`
}

// NotificationKind tags a discrete notification.
type NotificationKind string

const (
	MarketMove    NotificationKind = "market_move"
	IndicatorMove NotificationKind = "indicator_move"
	EventExecuted NotificationKind = "event_executed"
)

// Materiality thresholds.
const (
	priceMoveThreshold     = 0.05
	indicatorMoveThreshold = 0.5
)

// Notification reports a material change between two snapshots or an
// executed event.
type Notification struct {
	Kind     NotificationKind `json:"kind"`
	Time     time.Time        `json:"time"`
	Subject  string           `json:"subject"`
	Previous float64          `json:"previous,omitempty"`
	Current  float64          `json:"current,omitempty"`
	Change   float64          `json:"change,omitempty"`
	Event    *events.Event    `json:"event,omitempty"`
}

// diff compares consecutive snapshots. Prices that move more than 5% and
// indicators that move more than half a point are reported, sorted by subject.
func diff(prev, cur EconomicState) []Notification {
	if prev.Prices == nil {
		return nil
	}
	var out []Notification
	for id, p := range cur.Prices {
		old, ok := prev.Prices[id]
		if !ok || old <= 0 {
			continue
		}
		change := (p - old) / old
		if math.Abs(change) > priceMoveThreshold {
			out = append(out, Notification{Kind: MarketMove, Time: cur.Time, Subject: id, Previous: old, Current: p, Change: change})
		}
	}
	prevIn := prev.Indicators.named()
	for name, v := range cur.Indicators.named() {
		if d := v - prevIn[name]; math.Abs(d) > indicatorMoveThreshold {
			out = append(out, Notification{Kind: IndicatorMove, Time: cur.Time, Subject: name, Previous: prevIn[name], Current: v, Change: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Subject < out[j].Subject
	})
	return out
}

// PerformanceMetrics summarises recent tick durations.
type PerformanceMetrics struct {
	Ticks       uint64        `json:"ticks"`
	Failures    uint64        `json:"failures"`
	LastTick    time.Duration `json:"last_tick"`
	AverageTick time.Duration `json:"average_tick"`
	MaxTick     time.Duration `json:"max_tick"`
	Window      int           `json:"window"`
	Ceiling     time.Duration `json:"ceiling"`
	Healthy     bool          `json:"healthy"`
}

// perfWindow is a ring of the last n tick durations.
type perfWindow struct {
	samples  []time.Duration
	next     int
	filled   int
	ticks    uint64
	failures uint64
	last     time.Duration
}

func newPerfWindow(n int) *perfWindow {
	if n <= 0 {
		n = 60
	}
	return &perfWindow{samples: make([]time.Duration, n)}
}

func (w *perfWindow) record(d time.Duration, failed bool) {
	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.filled < len(w.samples) {
		w.filled++
	}
	w.ticks++
	if failed {
		w.failures++
	}
	w.last = d
}

// metrics reports the window; healthy means the average is under ceiling.
func (w *perfWindow) metrics(ceiling time.Duration) PerformanceMetrics {
	pm := PerformanceMetrics{
		Ticks:    w.ticks,
		Failures: w.failures,
		LastTick: w.last,
		Window:   w.filled,
		Ceiling:  ceiling,
		Healthy:  true,
	}
	if w.filled == 0 {
		return pm
	}
	var total time.Duration
	for _, d := range w.samples[:w.filled] {
		total += d
		if d > pm.MaxTick {
			pm.MaxTick = d
		}
	}
	pm.AverageTick = total / time.Duration(w.filled)
	pm.Healthy = pm.AverageTick < ceiling
	return pm
}
