package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tradeworld/internal/assets"
	"github.com/talgya/tradeworld/internal/capital"
	"github.com/talgya/tradeworld/internal/economy"
	"github.com/talgya/tradeworld/internal/events"
	"github.com/talgya/tradeworld/internal/ledger"
	"github.com/talgya/tradeworld/internal/market"
	"github.com/talgya/tradeworld/internal/stream"
)

// quietConfig turns off every stochastic input.
func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Seed = 7
	cfg.Commodity.NoiseAmplitude = 0
	cfg.Capital.DefaultScale = 0
	cfg.Capital.RateVolatility = 0
	cfg.Capital.EquityVolatility = 0
	cfg.Assets.WearScale = 0
	cfg.Events.Generation = false
	return cfg
}

func newTestSim(t *testing.T, store Store) *Simulation {
	t.Helper()
	s, err := NewSimulation(quietConfig(), nil, store)
	require.NoError(t, err)
	return s
}

type memStore struct {
	mu      sync.Mutex
	states  []EconomicState
	events  []events.Event
	failEvs bool
}

func (m *memStore) Save(_ context.Context, st EconomicState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, st)
	return nil
}

func (m *memStore) Load(_ context.Context) (EconomicState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.states) == 0 {
		return EconomicState{}, errors.New("no state")
	}
	return m.states[len(m.states)-1], nil
}

func (m *memStore) SaveEvents(_ context.Context, evs []events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failEvs {
		return errors.New("disk full")
	}
	m.events = append(m.events, evs...)
	return nil
}

func TestNewSimulationWiresEveryMarket(t *testing.T) {
	s := newTestSim(t, nil)

	ids := s.MarketIDs()
	assert.Len(t, ids, len(economy.Catalog())+3)
	assert.Contains(t, ids, "capital")
	assert.Contains(t, ids, "assets")
	assert.Contains(t, ids, "labor")
	assert.NotEmpty(t, s.Interconnect().Links())

	st := s.Snapshot()
	assert.Zero(t, st.Tick)
	assert.InDelta(t, 100, st.Indicators.CPI, 1e-9)
	assert.InDelta(t, 0, st.Indicators.Inflation, 1e-9)
	assert.InDelta(t, gdpTrend, st.Indicators.GDPGrowth, 1e-9)
}

func TestTickAdvancesClockAndSnapshot(t *testing.T) {
	s := newTestSim(t, nil)
	start := s.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Tick(context.Background()))
	}

	assert.Equal(t, start.Add(5*s.Config().TickInterval), s.Now())
	assert.EqualValues(t, 5, s.TickCount())
	st := s.Snapshot()
	assert.EqualValues(t, 5, st.Tick)
	for id, p := range st.Prices {
		assert.Greater(t, p, 0.0, id)
	}
	assert.EqualValues(t, 5, s.PerformanceMetrics().Ticks)
}

func TestTickIsSingleFlight(t *testing.T) {
	s := newTestSim(t, nil)
	s.tickMu.Lock()
	err := s.Tick(context.Background())
	s.tickMu.Unlock()

	assert.ErrorIs(t, err, ErrTickInProgress)
	assert.Zero(t, s.TickCount())
	assert.Equal(t, DefaultConfig().Start, s.Now())
}

func TestCancelledTickLeavesStateUntouched(t *testing.T) {
	s := newTestSim(t, nil)
	require.NoError(t, s.Tick(context.Background()))
	before := s.Now()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Tick(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, s.Now())
	assert.EqualValues(t, 1, s.TickCount())
	assert.EqualValues(t, 1, s.Snapshot().Tick)
	pm := s.PerformanceMetrics()
	assert.EqualValues(t, 1, pm.Ticks)
	assert.Zero(t, pm.Failures)
}

func TestEngineStepFinishesTickOnCancelledParent(t *testing.T) {
	s := newTestSim(t, nil)
	e := NewEngine(s)
	ctx, cancel := context.WithCancel(context.Background())
	e.step(ctx)
	cancel()
	e.step(ctx)

	assert.EqualValues(t, 1, s.TickCount())
	assert.Zero(t, s.PerformanceMetrics().Failures)
}

func TestCrossingOrdersMatchThroughEngine(t *testing.T) {
	s := newTestSim(t, nil)
	fuel := string(economy.Fuel)

	_, err := s.AddBuyOrder(fuel, 10, 105, "buyer")
	require.NoError(t, err)
	_, err = s.AddSellOrder(fuel, 10, 95, "seller")
	require.NoError(t, err)
	require.NoError(t, s.Tick(context.Background()))

	stats, err := s.MarketStats(fuel)
	require.NoError(t, err)
	assert.Zero(t, stats.BuyOrders)
	assert.Zero(t, stats.SellOrders)
	assert.InDelta(t, 1000, stats.Volume24h, 1e-6)
}

func TestOrdersForUnknownMarket(t *testing.T) {
	s := newTestSim(t, nil)
	_, err := s.AddBuyOrder("unobtainium", 1, 1, "x")
	assert.ErrorIs(t, err, market.ErrUnknownMarket)
	_, err = s.MarketStats("unobtainium")
	assert.ErrorIs(t, err, market.ErrUnknownMarket)
	_, err = s.CancelOrder("unobtainium", 1)
	assert.ErrorIs(t, err, market.ErrUnknownMarket)
}

func TestCancelOrder(t *testing.T) {
	s := newTestSim(t, nil)
	id, err := s.AddBuyOrder("steel", 5, 10, "x")
	require.NoError(t, err)

	ok, err := s.CancelOrder("steel", id)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.CancelOrder("steel", id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTriggeredEventExecutesAndPublishes(t *testing.T) {
	s := newTestSim(t, nil)
	_, ch := s.Hub().Subscribe(16)

	ev, err := s.TriggerEvent(events.MarketShock, events.Critical)
	require.NoError(t, err)
	n, err := s.SweepEvents()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats := s.EventStatistics()
	assert.EqualValues(t, 1, stats.Executed)
	assert.Equal(t, 1, stats.Pending, "credit freeze cascade is queued")

	msg := <-ch
	assert.Equal(t, stream.KindEvent, msg.Kind)
	note, ok := msg.Payload.(Notification)
	require.True(t, ok)
	assert.Equal(t, EventExecuted, note.Kind)
	assert.Equal(t, ev.ID, note.Event.ID)

	require.Len(t, s.RecentEvents(10), 1)
}

func TestTickPublishesSnapshot(t *testing.T) {
	s := newTestSim(t, nil)
	_, ch := s.Hub().Subscribe(64)
	require.NoError(t, s.Tick(context.Background()))

	msg := <-ch
	require.Equal(t, stream.KindSnapshot, msg.Kind)
	st, ok := msg.Payload.(EconomicState)
	require.True(t, ok)
	assert.EqualValues(t, 1, st.Tick)
}

func TestForceCycleChangesConditions(t *testing.T) {
	s := newTestSim(t, nil)
	require.NoError(t, s.ForceCycle(events.Recession))
	c := s.EconomicConditions()
	assert.Equal(t, events.Recession, c.Cycle)
	assert.InDelta(t, 0.8, c.Stress, 1e-9)

	assert.Error(t, s.ForceCycle(events.Cycle("boom")))
}

type panicMarket struct {
	*market.Book
}

func (panicMarket) Update(time.Duration) []market.Trade { panic("boom") }

func TestPanickingMarketFailsTickOnly(t *testing.T) {
	s := newTestSim(t, nil)
	bad := panicMarket{market.NewBook("bad", 1, s.clock)}
	s.markets["bad"] = bad
	s.ids = append(s.ids, "bad")

	err := s.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.EqualValues(t, 1, s.PerformanceMetrics().Failures)

	delete(s.markets, "bad")
	s.ids = s.ids[:len(s.ids)-1]
	assert.NoError(t, s.Tick(context.Background()))
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := &memStore{}
	s := newTestSim(t, store)
	require.NoError(t, s.CapitalEvent(capital.MarketCrash{Drop: 0.3, VolatilityMultiplier: 2}))
	require.NoError(t, s.CapitalEvent(capital.CreditCrunch{PremiumIncrease: 0.02}))
	require.NoError(t, s.AssetEvent(assets.MaintenanceCostChange{Multiplier: 1.4}))
	require.NoError(t, s.AssetEvent(assets.AssetBubble{Multiplier: 1.15}))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Tick(context.Background()))
	}
	require.NoError(t, s.ForceCycle(events.Contraction))
	_, err := s.TriggerEvent(events.DemandShift, events.Minor)
	require.NoError(t, err)
	_, err = s.SweepEvents()
	require.NoError(t, err)
	require.NoError(t, s.Tick(context.Background()))

	require.True(t, s.Save(context.Background()))
	assert.Len(t, store.events, 1)
	saved := s.Snapshot()

	restored := newTestSim(t, store)
	require.True(t, restored.Load(context.Background()))
	assert.Equal(t, saved.Tick, restored.TickCount())
	assert.Equal(t, saved.Time, restored.Now())
	assert.InDelta(t, saved.Events.Stress, restored.EventStatistics().Stress, 1e-12)
	for id, p := range saved.Prices {
		if id == "capital" || id == "assets" || id == "labor" {
			continue
		}
		assert.InDelta(t, p, restored.Snapshot().Prices[id], 1e-9, id)
	}

	got := restored.Snapshot()
	require.Less(t, saved.Capital.EquityIndex, 90.0)
	assert.InDelta(t, saved.Capital.EquityIndex, got.Capital.EquityIndex, 1e-9)
	assert.InDelta(t, saved.Capital.Volatility, got.Capital.Volatility, 1e-12)
	assert.InDelta(t, saved.Capital.PremiumAddOn, got.Capital.PremiumAddOn, 1e-12)
	assert.InDelta(t, saved.Indicators.GDPGrowth, got.Indicators.GDPGrowth, 1e-9)
	assert.InDelta(t, saved.Indicators.Confidence, got.Indicators.Confidence, 1e-9)
	assert.Equal(t, saved.Assets.MarketScalars, got.Assets.MarketScalars)

	// The first tick after a resume must not read as a material move.
	require.NoError(t, restored.Tick(context.Background()))
	next := restored.Snapshot()
	assert.InDelta(t, saved.Capital.EquityIndex, next.Capital.EquityIndex, 0.5)
	assert.InDelta(t, saved.Indicators.GDPGrowth, next.Indicators.GDPGrowth, indicatorMoveThreshold)
	assert.InDelta(t, saved.Indicators.Confidence, next.Indicators.Confidence, indicatorMoveThreshold)
}

func TestFuelSyncKeepsConcurrentShock(t *testing.T) {
	s := newTestSim(t, nil)
	fuel, ok := s.Commodity(string(economy.Fuel))
	require.True(t, ok)

	require.NoError(t, s.AssetEvent(assets.FuelPriceShock{Multiplier: 1.5}))
	fuel.SetPrice(fuel.CurrentPrice() * 1.2)
	s.syncFuel()

	assert.InDelta(t, 1.5*1.2, s.Assets().Scalars().FuelPrice, 1e-9)
}

func TestLoadShiftsSchedulesToRestoredClock(t *testing.T) {
	store := &memStore{}
	s := newTestSim(t, store)
	require.NoError(t, s.Tick(context.Background()))
	require.True(t, s.Save(context.Background()))
	store.states[0].Time = store.states[0].Time.AddDate(1, 6, 0)

	restored := newTestSim(t, store)
	loans := restored.Capital().Loans()
	require.NotEmpty(t, loans)
	require.True(t, restored.Load(context.Background()))
	require.NoError(t, restored.Tick(context.Background()))

	assert.Empty(t, restored.Ledger().Recent(0))
	for _, l := range restored.Capital().Loans() {
		assert.True(t, l.NextPayment.After(restored.Now()), l.Borrower)
	}
	ages := make(map[string]float64)
	for _, a := range s.Assets().Assets() {
		ages[a.Name] = a.AgeYears(s.Now())
	}
	for _, a := range restored.Assets().Assets() {
		assert.InDelta(t, ages[a.Name], a.AgeYears(restored.Now()), 0.01, a.Name)
	}
}

func TestLedgerTotalsTravelWithSnapshot(t *testing.T) {
	store := &memStore{}
	s := newTestSim(t, store)
	s.Ledger().Record(s.Now(), ledger.KindCoupon, "bond", "port", 41.005)
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, "41.01", s.Snapshot().Ledger[ledger.KindCoupon])
	require.True(t, s.Save(context.Background()))

	restored := newTestSim(t, store)
	require.True(t, restored.Load(context.Background()))
	assert.Equal(t, "41.01", restored.Ledger().Total(ledger.KindCoupon).StringFixed(2))
	assert.Equal(t, "41.01", restored.Snapshot().Ledger[ledger.KindCoupon])
}

func TestRecentTradesThroughEngine(t *testing.T) {
	s := newTestSim(t, nil)
	fuel := string(economy.Fuel)
	_, err := s.AddBuyOrder(fuel, 10, 105, "buyer")
	require.NoError(t, err)
	_, err = s.AddSellOrder(fuel, 10, 95, "seller")
	require.NoError(t, err)
	require.NoError(t, s.Tick(context.Background()))

	trades, err := s.RecentTrades(fuel, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.InDelta(t, 10, trades[0].Quantity, 1e-9)

	_, err = s.RecentTrades("unobtainium", 10)
	assert.ErrorIs(t, err, market.ErrUnknownMarket)
}

func TestSaveWithoutStoreOrFailingStore(t *testing.T) {
	assert.False(t, newTestSim(t, nil).Save(context.Background()))
	assert.False(t, newTestSim(t, nil).Load(context.Background()))

	store := &memStore{failEvs: true}
	s := newTestSim(t, store)
	_, err := s.TriggerEvent(events.Seasonal, events.Minor)
	require.NoError(t, err)
	_, err = s.SweepEvents()
	require.NoError(t, err)

	assert.False(t, s.Save(context.Background()))
	s.mu.RLock()
	kept := len(s.executed)
	s.mu.RUnlock()
	assert.Equal(t, 1, kept, "unsaved events are retried next time")

	store.failEvs = false
	assert.True(t, s.Save(context.Background()))
	assert.Len(t, store.events, 1)
}

func TestEngineRunsUntilStopped(t *testing.T) {
	s := newTestSim(t, nil)
	e := NewEngine(s)
	e.Speed = 60_000 // one simulated minute per wall millisecond
	e.SweepInterval = time.Millisecond

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	require.Eventually(t, func() bool { return s.TickCount() >= 3 }, 5*time.Second, time.Millisecond)
	assert.True(t, e.Running())
	e.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.False(t, e.Running())
}

func TestPausedEngineDoesNotTick(t *testing.T) {
	s := newTestSim(t, nil)
	e := NewEngine(s)
	e.Speed = 0
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, e.Run(ctx))
	assert.Zero(t, s.TickCount())
}

func TestSimTime(t *testing.T) {
	at := time.Date(2026, time.January, 12, 6, 5, 0, 0, time.UTC)
	assert.Equal(t, "Winter Day 12, 6:05 Year 2026", SimTime(at))
}
