// Package labor models the aggregate labor market that feeds wages into
// production costs and unemployment into the macro indicators.
package labor

import (
	"math"
	"sync"
	"time"

	"github.com/talgya/tradeworld/internal/market"
)

// MarketID is the labor market's id in the interconnection graph.
const MarketID = "labor"

const (
	indexBase       = 100.0
	adjustDays      = 30.0 // unemployment closes its gap to target over about a month
	stressBump      = 0.15 // unemployment added at full market stress
	wageSensitivity = 0.5  // annual wage growth per point of labor-market tightness
	maxUnemployment = 0.5
)

// Config sets the labor pool.
type Config struct {
	Workforce   float64
	NaturalRate float64
}

// DefaultConfig returns a mid-sized trading economy.
func DefaultConfig() Config {
	return Config{Workforce: 2_000_000, NaturalRate: 0.05}
}

// Market tracks unemployment and a wage index. Its order book trades
// labor-hours; the discovered price is the wage index.
type Market struct {
	*market.Book

	cfg Config

	mu           sync.RWMutex
	unemployment float64
	wage         float64
	stress       float64
}

// NewMarket starts at the natural rate with the wage index at 100.
func NewMarket(cfg Config, clock market.Clock) *Market {
	m := &Market{
		Book:         market.NewBook(MarketID, indexBase, clock),
		cfg:          cfg,
		unemployment: cfg.NaturalRate,
		wage:         indexBase,
	}
	m.Book.SetDiscoverer(m.WageIndex)
	return m
}

// ApplyStress sets the market stress in [0, 1] the labor market responds to.
func (m *Market) ApplyStress(s float64) {
	m.mu.Lock()
	m.stress = market.Clamp(s, 0, 1)
	m.mu.Unlock()
}

// Unemployment is the unemployment rate as a fraction.
func (m *Market) Unemployment() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unemployment
}

// SetUnemployment overwrites the rate (restore).
func (m *Market) SetUnemployment(u float64) {
	m.mu.Lock()
	m.unemployment = market.Clamp(u, 0, maxUnemployment)
	m.mu.Unlock()
}

// WageIndex is the wage level, 100 at start.
func (m *Market) WageIndex() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wage
}

// Update moves unemployment toward natural rate plus the stress
// component and lets wages respond to tightness, then runs the book step.
func (m *Market) Update(dt time.Duration) []market.Trade {
	if days := dt.Hours() / 24; days > 0 {
		m.mu.Lock()
		target := m.cfg.NaturalRate + stressBump*m.stress
		step := math.Min(1, days/adjustDays)
		m.unemployment = market.Clamp(m.unemployment+(target-m.unemployment)*step, 0, maxUnemployment)
		tightness := m.cfg.NaturalRate - m.unemployment
		m.wage = market.ClampPrice(m.wage * (1 + wageSensitivity*tightness*days/365))
		m.mu.Unlock()
	}
	return m.Book.Update(dt)
}

// Stats is the labor market summary.
type Stats struct {
	market.Stats
	Workforce    float64 `json:"workforce"`
	Employed     float64 `json:"employed"`
	Unemployment float64 `json:"unemployment"`
	WageIndex    float64 `json:"wage_index"`
	Stress       float64 `json:"stress"`
}

// LaborStats returns the book stats plus labor aggregates.
func (m *Market) LaborStats() Stats {
	s := Stats{Stats: m.Stats(), Workforce: m.cfg.Workforce}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s.Unemployment = m.unemployment
	s.Employed = m.cfg.Workforce * (1 - m.unemployment)
	s.WageIndex = m.wage
	s.Stress = m.stress
	return s
}

var _ market.Market = (*Market)(nil)
