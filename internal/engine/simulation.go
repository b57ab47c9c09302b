// Package engine owns every market and drives them. The Simulation holds
// the economy and runs one tick at a time; the Engine calls it on a
// wall-clock cadence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/tradeworld/internal/assets"
	"github.com/talgya/tradeworld/internal/capital"
	"github.com/talgya/tradeworld/internal/economy"
	"github.com/talgya/tradeworld/internal/entropy"
	"github.com/talgya/tradeworld/internal/events"
	"github.com/talgya/tradeworld/internal/interconnect"
	"github.com/talgya/tradeworld/internal/labor"
	"github.com/talgya/tradeworld/internal/ledger"
	"github.com/talgya/tradeworld/internal/market"
	"github.com/talgya/tradeworld/internal/stream"
)

// ErrTickInProgress is returned when a tick is requested while one runs.
var ErrTickInProgress = errors.New("engine: tick already in progress")

// Store persists snapshots and executed events.
type Store interface {
	Save(ctx context.Context, st EconomicState) error
	Load(ctx context.Context) (EconomicState, error)
	SaveEvents(ctx context.Context, evs []events.Event) error
}

// Config holds the simulation parameters.
type Config struct {
	TickInterval  time.Duration // simulated time per tick
	SweepInterval time.Duration
	Speed         float64 // wall-clock multiplier for the Engine; 0 pauses
	Seed          int64
	Start         time.Time
	HealthCeiling time.Duration
	PerfWindow    int
	SaveEvery     int // ticks between autosaves; 0 disables
	LedgerSize    int

	Commodity economy.Config
	Capital   capital.Config
	Assets    assets.Config
	Labor     labor.Config
	Events    events.Config
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		TickInterval:  time.Minute,
		SweepInterval: 10 * time.Second,
		Speed:         1,
		Start:         time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		HealthCeiling: 500 * time.Millisecond,
		PerfWindow:    60,
		LedgerSize:    1000,
		Commodity:     economy.DefaultConfig(0),
		Capital:       capital.DefaultConfig(),
		Assets:        assets.DefaultConfig(),
		Labor:         labor.DefaultConfig(),
		Events:        events.DefaultConfig(),
	}
}

// tradable is a market that also takes orders.
type tradable interface {
	market.Market
	market.Trader
	SetPrice(p float64)
	RecentTrades(n int) []market.Trade
}

// Simulation owns the clock, every market, the interconnection layer and
// the event system.
type Simulation struct {
	cfg    Config
	clock  *market.ManualClock
	ledger *ledger.Ledger

	commodities map[string]*economy.Market
	capital     *capital.Market
	assets      *assets.Market
	labor       *labor.Market
	markets     map[string]tradable
	ids         []string

	links  *interconnect.Layer
	events *events.System
	hub    *stream.Hub
	store  Store

	indexBase float64
	lastFuel  float64

	tickMu sync.Mutex

	mu       sync.RWMutex
	tick     uint64
	state    EconomicState
	perf     *perfWindow
	executed []events.Event // awaiting persistence
}

// NewSimulation builds and seeds the economy. hub and store may be nil.
func NewSimulation(cfg Config, hub *stream.Hub, store Store) (*Simulation, error) {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.Start.IsZero() {
		cfg.Start = def.Start
	}
	if cfg.HealthCeiling <= 0 {
		cfg.HealthCeiling = def.HealthCeiling
	}
	if hub == nil {
		hub = stream.NewHub(StreamDropped.Inc)
	}

	clock := market.NewManualClock(cfg.Start)
	s := &Simulation{
		cfg:         cfg,
		clock:       clock,
		ledger:      ledger.New(cfg.LedgerSize),
		commodities: make(map[string]*economy.Market),
		markets:     make(map[string]tradable),
		links:       interconnect.New(clock),
		hub:         hub,
		store:       store,
		perf:        newPerfWindow(cfg.PerfWindow),
	}

	ccfg := cfg.Commodity
	ccfg.Seed = cfg.Seed
	for _, c := range economy.Catalog() {
		m := economy.NewMarket(c, clock, ccfg)
		s.commodities[string(c.ID)] = m
		s.register(m)
	}

	// Separate sources keep concurrent market updates reproducible per seed.
	s.capital = capital.NewMarket(cfg.Capital, clock, entropy.New(cfg.Seed+1), s.ledger)
	if err := capital.Seed(s.capital); err != nil {
		return nil, fmt.Errorf("seed capital market: %w", err)
	}
	s.assets = assets.NewMarket(cfg.Assets, clock, entropy.New(cfg.Seed+2), s.ledger)
	if err := assets.Seed(s.assets); err != nil {
		return nil, fmt.Errorf("seed asset market: %w", err)
	}
	s.labor = labor.NewMarket(cfg.Labor, clock)
	s.register(s.capital)
	s.register(s.assets)
	s.register(s.labor)

	if err := interconnect.WireDefaults(s.links); err != nil {
		return nil, fmt.Errorf("wire interconnections: %w", err)
	}

	sys, err := events.New(cfg.Events, clock, entropy.New(cfg.Seed+3), s)
	if err != nil {
		return nil, fmt.Errorf("event system: %w", err)
	}
	s.events = sys
	s.events.OnExecute(s.onEvent)

	s.indexBase = s.capital.EquityIndex()
	s.lastFuel = s.commodities[string(economy.Fuel)].CurrentPrice()
	s.state = s.buildStateLocked()

	slog.Info("simulation created",
		"markets", len(s.ids),
		"links", len(s.links.Links()),
		"start", SimTime(cfg.Start),
		"seed", cfg.Seed,
	)
	return s, nil
}

func (s *Simulation) register(m tradable) {
	s.markets[m.ID()] = m
	s.ids = append(s.ids, m.ID())
	s.links.Register(m.ID(), m)
}

// Tick advances simulated time by one interval: markets update, fuel and
// stress feed through, events are generated, interconnections propagate,
// then a snapshot is built and published. Ticks never overlap.
func (s *Simulation) Tick(ctx context.Context) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.tickMu.TryLock() {
		return ErrTickInProgress
	}
	defer s.tickMu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
		elapsed := time.Since(start)
		TickDuration.Observe(elapsed.Seconds())
		if err != nil {
			TickFailures.Inc()
		}
		s.mu.Lock()
		s.perf.record(elapsed, err != nil)
		s.mu.Unlock()
	}()

	dt := s.cfg.TickInterval
	prevDay := s.clock.Now().YearDay()
	now := s.clock.Advance(dt)

	s.labor.ApplyStress(s.events.Stress())
	if err := s.updateMarkets(dt); err != nil {
		return err
	}
	s.syncFuel()
	s.events.Generate(dt)
	s.links.Process(dt)

	s.mu.Lock()
	s.tick++
	prev := s.state
	cur := s.buildStateLocked()
	s.state = cur
	s.mu.Unlock()

	s.publish(cur, diff(prev, cur))
	if now.YearDay() != prevDay {
		s.dailyReport(cur)
	}
	return nil
}

// updateMarkets runs every market's update concurrently. A panicking market
// fails the tick without stopping the others.
func (s *Simulation) updateMarkets(dt time.Duration) error {
	var g errgroup.Group
	for _, id := range s.ids {
		m := s.markets[id]
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("update %s: panic: %v", m.ID(), r)
				}
			}()
			m.Update(dt)
			return nil
		})
	}
	return g.Wait()
}

// syncFuel moves the asset fuel scalar by the fuel commodity's price change
// since the last tick, so fuel shocks applied directly to assets persist.
// The scaling is a single locked step because sweeps run beside the tick.
func (s *Simulation) syncFuel() {
	cur := s.commodities[string(economy.Fuel)].CurrentPrice()
	if s.lastFuel > 0 && cur != s.lastFuel {
		s.assets.ScaleFuelPrice(cur / s.lastFuel)
	}
	s.lastFuel = cur
}

// buildStateLocked assembles a snapshot. Caller holds mu (or owns s).
func (s *Simulation) buildStateLocked() EconomicState {
	st := EconomicState{
		Tick:        s.tick,
		Time:        s.clock.Now(),
		Prices:      make(map[string]float64, len(s.ids)),
		Commodities: make(map[string]economy.Conditions, len(s.commodities)),
	}
	for _, id := range s.ids {
		st.Prices[id] = s.markets[id].CurrentPrice()
	}
	for id, m := range s.commodities {
		st.Commodities[id] = m.Conditions()
	}
	st.Capital = s.capital.CapitalStats()
	st.Assets = s.assets.AssetStats()
	st.Labor = s.labor.LaborStats()
	st.Interconnect = s.links.Stats()
	st.Events = s.events.Statistics()
	st.Indicators = computeIndicators(st.Prices, st.Capital.EquityIndex, s.indexBase, st.Labor.Unemployment, st.Capital.Volatility)
	st.Performance = s.perf.metrics(s.cfg.HealthCeiling)
	st.Ledger = s.ledger.Totals()
	return st
}

func (s *Simulation) publish(st EconomicState, notes []Notification) {
	MarketStress.Set(st.Events.Stress)
	for id, p := range st.Prices {
		MarketPrice.WithLabelValues(id).Set(p)
	}
	s.hub.Publish(stream.Message{Kind: stream.KindSnapshot, Time: st.Time, Payload: st})
	for _, n := range notes {
		kind := stream.KindMarket
		if n.Kind == IndicatorMove {
			kind = stream.KindIndicator
		}
		s.hub.Publish(stream.Message{Kind: kind, Time: n.Time, Payload: n})
	}
}

// onEvent runs on the sweep goroutine after each executed event.
func (s *Simulation) onEvent(ev events.Event) {
	EventsExecuted.WithLabelValues(ev.Category.String(), ev.Severity.String()).Inc()
	now := s.clock.Now()

	s.mu.Lock()
	s.executed = append(s.executed, ev)
	if limit := s.pendingLimit(); len(s.executed) > limit {
		s.executed = s.executed[len(s.executed)-limit:]
	}
	s.mu.Unlock()

	e := ev
	s.hub.Publish(stream.Message{
		Kind:    stream.KindEvent,
		Time:    now,
		Payload: Notification{Kind: EventExecuted, Time: now, Subject: ev.Name, Event: &e},
	})
}

func (s *Simulation) pendingLimit() int {
	if s.cfg.Events.HistorySize > 0 {
		return s.cfg.Events.HistorySize
	}
	return events.DefaultConfig().HistorySize
}

func (s *Simulation) dailyReport(st EconomicState) {
	volume := 0.0
	for _, c := range st.Commodities {
		volume += c.Volume24h
	}
	slog.Info("daily report",
		"tick", st.Tick,
		"time", SimTime(st.Time),
		"cpi", fmt.Sprintf("%.2f", st.Indicators.CPI),
		"gdp_growth", fmt.Sprintf("%.2f", st.Indicators.GDPGrowth),
		"unemployment", fmt.Sprintf("%.2f", st.Indicators.Unemployment),
		"confidence", fmt.Sprintf("%.1f", st.Indicators.Confidence),
		"cycle", st.Events.Cycle,
		"stress", fmt.Sprintf("%.3f", st.Events.Stress),
		"commodity_volume", humanize.Comma(int64(volume)),
		"fleet_value", humanize.Comma(int64(st.Assets.TotalValue)),
		"events_executed", st.Events.Executed,
		"coupons", st.Ledger[ledger.KindCoupon],
		"dividends", st.Ledger[ledger.KindDividend],
		"loan_interest", st.Ledger[ledger.KindLoanInterest],
		"lease_payments", st.Ledger[ledger.KindLeasePayment],
	)
}

// SweepEvents executes due events and returns how many ran.
func (s *Simulation) SweepEvents() (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panic: %v", r)
		}
	}()
	return len(s.events.Sweep()), nil
}

// CommodityShock implements events.Markets.
func (s *Simulation) CommodityShock(commodity string, kind economy.ShockKind, multiplier float64, d time.Duration, reason string) error {
	m, ok := s.commodities[commodity]
	if !ok {
		return fmt.Errorf("%w: %s", market.ErrUnknownMarket, commodity)
	}
	m.AddShock(kind, multiplier, d, reason)
	return nil
}

// CapitalEvent implements events.Markets.
func (s *Simulation) CapitalEvent(ev capital.Event) error { return s.capital.ApplyEvent(ev) }

// AssetEvent implements events.Markets.
func (s *Simulation) AssetEvent(ev assets.Event) error { return s.assets.ApplyEvent(ev) }

// DamageAssets implements events.Markets.
func (s *Simulation) DamageAssets(p float64) int { return s.assets.Damage(p) }

var _ events.Markets = (*Simulation)(nil)

func (s *Simulation) trader(id string) (tradable, error) {
	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", market.ErrUnknownMarket, id)
	}
	return m, nil
}

// AddBuyOrder rests a buy order in the named market.
func (s *Simulation) AddBuyOrder(marketID string, quantity, price float64, ownerID string) (market.OrderID, error) {
	m, err := s.trader(marketID)
	if err != nil {
		return 0, err
	}
	return m.AddBuyOrder(quantity, price, ownerID)
}

// AddSellOrder rests a sell order in the named market.
func (s *Simulation) AddSellOrder(marketID string, quantity, price float64, ownerID string) (market.OrderID, error) {
	m, err := s.trader(marketID)
	if err != nil {
		return 0, err
	}
	return m.AddSellOrder(quantity, price, ownerID)
}

// CancelOrder removes a resting order. It reports false if the order had
// already filled or been cancelled.
func (s *Simulation) CancelOrder(marketID string, id market.OrderID) (bool, error) {
	m, err := s.trader(marketID)
	if err != nil {
		return false, err
	}
	return m.CancelOrder(id), nil
}

// RecentTrades returns up to n of a market's newest executions, oldest first.
func (s *Simulation) RecentTrades(marketID string, n int) ([]market.Trade, error) {
	m, err := s.trader(marketID)
	if err != nil {
		return nil, err
	}
	return m.RecentTrades(n), nil
}

// MarketIDs lists every market, commodities first.
func (s *Simulation) MarketIDs() []string {
	return append([]string(nil), s.ids...)
}

// MarketStats returns live stats for one market.
func (s *Simulation) MarketStats(id string) (market.Stats, error) {
	m, err := s.trader(id)
	if err != nil {
		return market.Stats{}, err
	}
	return m.Stats(), nil
}

// EconomicConditions summarises the latest snapshot with live stress.
func (s *Simulation) EconomicConditions() Conditions {
	st := s.Snapshot()
	stress := s.events.Stress()
	shocks := 0
	for _, c := range st.Commodities {
		shocks += c.ActiveShocks
	}
	return Conditions{
		Time:         st.Time,
		Season:       economy.SeasonName(st.Time),
		Cycle:        events.ClassifyCycle(stress),
		Stress:       stress,
		Indicators:   st.Indicators,
		BaseRate:     st.Capital.BaseRate,
		EquityIndex:  st.Capital.EquityIndex,
		Volatility:   st.Capital.Volatility,
		ActiveShocks: shocks,
	}
}

// EventStatistics returns live event counters.
func (s *Simulation) EventStatistics() events.Statistics { return s.events.Statistics() }

// RecentEvents returns up to n executed events, oldest first.
func (s *Simulation) RecentEvents(n int) []events.Event { return s.events.History(n) }

// PendingEvents returns the scheduled queue, earliest first.
func (s *Simulation) PendingEvents() []events.Scheduled { return s.events.Pending() }

// PerformanceMetrics reports tick durations and health.
func (s *Simulation) PerformanceMetrics() PerformanceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.perf.metrics(s.cfg.HealthCeiling)
}

// Snapshot returns the last published state.
func (s *Simulation) Snapshot() EconomicState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// TickCount returns the number of completed ticks.
func (s *Simulation) TickCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tick
}

// Now returns simulated time.
func (s *Simulation) Now() time.Time { return s.clock.Now() }

// Config returns the effective configuration.
func (s *Simulation) Config() Config { return s.cfg }

// Hub returns the stream hub snapshots are published on.
func (s *Simulation) Hub() *stream.Hub { return s.hub }

// Ledger returns the cash-flow ledger shared by the capital and asset markets.
func (s *Simulation) Ledger() *ledger.Ledger { return s.ledger }

// Capital returns the capital market.
func (s *Simulation) Capital() *capital.Market { return s.capital }

// Assets returns the asset market.
func (s *Simulation) Assets() *assets.Market { return s.assets }

// Labor returns the labor market.
func (s *Simulation) Labor() *labor.Market { return s.labor }

// Interconnect returns the cross-market propagation layer.
func (s *Simulation) Interconnect() *interconnect.Layer { return s.links }

// Commodity returns one commodity market.
func (s *Simulation) Commodity(id string) (*economy.Market, bool) {
	m, ok := s.commodities[id]
	return m, ok
}

// TriggerEvent schedules an event of the given kind for the next sweep.
func (s *Simulation) TriggerEvent(c events.Category, sev events.Severity) (events.Event, error) {
	return s.events.Trigger(c, sev)
}

// ForceCycle moves market stress to the cycle's representative level.
func (s *Simulation) ForceCycle(c events.Cycle) error { return s.events.ForceCycle(c) }

// Save persists the executed events since the last save and the latest
// snapshot. Failure is logged and reported as false.
func (s *Simulation) Save(ctx context.Context) bool {
	if s.store == nil {
		return false
	}
	st := s.Snapshot()

	s.mu.Lock()
	pending := s.executed
	s.executed = nil
	s.mu.Unlock()

	if err := s.store.SaveEvents(ctx, pending); err != nil {
		slog.Error("save events failed", "events", len(pending), "error", err)
		s.mu.Lock()
		s.executed = append(pending, s.executed...)
		s.mu.Unlock()
		return false
	}
	if err := s.store.Save(ctx, st); err != nil {
		slog.Error("save state failed", "tick", st.Tick, "error", err)
		return false
	}
	slog.Info("economic state saved", "tick", st.Tick, "events", len(pending))
	return true
}

// Load restores the newest saved snapshot: clock, prices, base rate,
// equity index, volatility, credit spreads, asset scalars, unemployment,
// stress and the tick counter. It reports false if nothing
// could be restored.
func (s *Simulation) Load(ctx context.Context) bool {
	if s.store == nil {
		return false
	}
	st, err := s.store.Load(ctx)
	if err != nil {
		slog.Warn("load state failed", "error", err)
		return false
	}

	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	if !st.Time.IsZero() {
		shift := st.Time.Sub(s.clock.Now())
		s.clock.Set(st.Time)
		s.capital.ShiftSchedules(shift)
		s.assets.ShiftSchedules(shift)
	}
	for id, p := range st.Prices {
		if m, ok := s.markets[id]; ok {
			m.SetPrice(p)
		}
	}
	if st.Capital.BaseRate > 0 {
		s.capital.SetBaseRate(st.Capital.BaseRate)
	}
	s.capital.Restore(st.Capital.EquityIndex, st.Capital.Volatility, st.Capital.PremiumAddOn)
	s.assets.RestoreScalars(st.Assets.MarketScalars)
	if st.Labor.Unemployment > 0 {
		s.labor.SetUnemployment(st.Labor.Unemployment)
	}
	s.events.SetStress(st.Events.Stress)
	if err := s.ledger.Restore(st.Ledger); err != nil {
		slog.Warn("ledger totals not restored", "error", err)
	}
	s.lastFuel = s.commodities[string(economy.Fuel)].CurrentPrice()

	s.mu.Lock()
	s.tick = st.Tick
	s.state = s.buildStateLocked()
	s.mu.Unlock()

	slog.Info("economic state restored", "tick", st.Tick, "time", SimTime(st.Time))
	return true
}
