package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tradeworld/internal/assets"
	"github.com/talgya/tradeworld/internal/capital"
	"github.com/talgya/tradeworld/internal/economy"
	"github.com/talgya/tradeworld/internal/entropy"
	"github.com/talgya/tradeworld/internal/market"
)

var epoch = time.Date(2030, time.July, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	shocks  []string
	capital []capital.Event
	assets  []assets.Event
	damage  []float64
	panics  bool
}

func (r *recorder) CommodityShock(c string, kind economy.ShockKind, mult float64, d time.Duration, reason string) error {
	if r.panics {
		panic("boom")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shocks = append(r.shocks, c+":"+kind.String())
	return nil
}

func (r *recorder) CapitalEvent(ev capital.Event) error {
	if r.panics {
		panic("boom")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capital = append(r.capital, ev)
	return nil
}

func (r *recorder) AssetEvent(ev assets.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets = append(r.assets, ev)
	return nil
}

func (r *recorder) DamageAssets(p float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.damage = append(r.damage, p)
	return 0
}

func newTestSystem(t *testing.T, cfg Config) (*System, *market.ManualClock, *recorder) {
	t.Helper()
	clock := market.NewManualClock(epoch)
	rec := &recorder{}
	s, err := New(cfg, clock, entropy.New(42), rec)
	require.NoError(t, err)
	return s, clock, rec
}

func quiet() Config {
	return Config{HistorySize: 100, MaxDelay: 30 * time.Minute}
}

func testEvent(name string) Event {
	return newEvent(name, Seasonal, Minor, Positive, epoch, time.Hour, DemandPayload{Commodity: "grain", Multiplier: 1.05}, "grain")
}

func TestScheduledEventExecutesExactlyOnceWhenDue(t *testing.T) {
	s, clock, rec := newTestSystem(t, quiet())
	require.NoError(t, s.Schedule(testEvent("later"), epoch.Add(time.Hour)))

	assert.Empty(t, s.Sweep())
	clock.Advance(59 * time.Minute)
	assert.Empty(t, s.Sweep())

	clock.Advance(time.Minute)
	done := s.Sweep()
	require.Len(t, done, 1)
	assert.Equal(t, "later", done[0].Name)
	assert.Empty(t, s.Pending())

	clock.Advance(time.Hour)
	assert.Empty(t, s.Sweep())
	assert.EqualValues(t, 1, s.Statistics().Executed)
	assert.Equal(t, []string{"grain:demand"}, rec.shocks)
}

func TestSweepStampsExecutionTime(t *testing.T) {
	s, clock, _ := newTestSystem(t, quiet())
	require.NoError(t, s.Schedule(testEvent("stamped"), epoch.Add(10*time.Minute)))
	clock.Advance(25 * time.Minute)

	done := s.Sweep()
	require.Len(t, done, 1)
	assert.Equal(t, epoch, done[0].CreatedAt)
	assert.Equal(t, epoch.Add(25*time.Minute), done[0].ExecutedAt)
	assert.Equal(t, done[0].ExecutedAt, s.History(1)[0].ExecutedAt)
}

func TestSweepRunsInTimeOrder(t *testing.T) {
	s, clock, _ := newTestSystem(t, quiet())
	require.NoError(t, s.Schedule(testEvent("third"), epoch.Add(3*time.Hour)))
	require.NoError(t, s.Schedule(testEvent("first"), epoch.Add(time.Hour)))
	require.NoError(t, s.Schedule(testEvent("second"), epoch.Add(2*time.Hour)))
	require.NoError(t, s.Schedule(testEvent("second-b"), epoch.Add(2*time.Hour)))

	clock.Advance(3 * time.Hour)
	var names []string
	for _, ev := range s.Sweep() {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"first", "second", "second-b", "third"}, names)
}

func TestScheduleRejectsNonPositiveDuration(t *testing.T) {
	s, _, _ := newTestSystem(t, quiet())
	ev := testEvent("broken")
	ev.Duration = 0
	assert.Error(t, s.Schedule(ev, epoch))
	assert.Empty(t, s.Pending())
}

func TestSevereMarketShockSchedulesOneCreditFreeze(t *testing.T) {
	for _, sev := range []Severity{Major, Critical} {
		t.Run(sev.String(), func(t *testing.T) {
			s, clock, _ := newTestSystem(t, quiet())
			parent, err := s.Trigger(MarketShock, sev)
			require.NoError(t, err)
			require.Len(t, s.Sweep(), 1)

			pending := s.Pending()
			require.Len(t, pending, 1)
			freeze := pending[0]
			assert.Equal(t, "Credit Market Freeze", freeze.Event.Name)
			assert.Equal(t, parent.ID, freeze.Event.ParentID)
			assert.Equal(t, epoch.Add(2*time.Hour), freeze.ExecuteAt)

			clock.Advance(2 * time.Hour)
			done := s.Sweep()
			require.Len(t, done, 1)
			assert.Empty(t, s.Pending(), "cascades never cascade")
			assert.EqualValues(t, 1, s.Statistics().Cascaded)
		})
	}
}

func TestMinorShockDoesNotCascade(t *testing.T) {
	s, _, _ := newTestSystem(t, quiet())
	_, err := s.Trigger(MarketShock, Minor)
	require.NoError(t, err)
	s.Sweep()
	assert.Empty(t, s.Pending())
}

func TestOtherCascades(t *testing.T) {
	tests := []struct {
		cat   Category
		name  string
		delay time.Duration
	}{
		{NaturalDisaster, "Supply Chain Disruption", 6 * time.Hour},
		{Geopolitical, "Trade Route Restrictions", 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.cat.String(), func(t *testing.T) {
			s, _, _ := newTestSystem(t, quiet())
			_, err := s.Trigger(tt.cat, Critical)
			require.NoError(t, err)
			s.Sweep()
			pending := s.Pending()
			require.Len(t, pending, 1)
			assert.Equal(t, tt.name, pending[0].Event.Name)
			assert.Equal(t, epoch.Add(tt.delay), pending[0].ExecuteAt)
		})
	}
}

func TestStressDrivesRecessionAndShockProbability(t *testing.T) {
	s, _, _ := newTestSystem(t, quiet())
	baseline := s.Probability(MarketShock, 24*time.Hour)
	assert.Equal(t, Expansion, s.Cycle())

	for s.Stress() <= 0.7 {
		_, err := s.Trigger(MarketShock, Critical)
		require.NoError(t, err)
		s.Sweep()
	}
	assert.Equal(t, Recession, s.Cycle())
	assert.Greater(t, s.DailyProbability(MarketShock), BaseProbability(MarketShock))
	assert.Greater(t, s.Probability(MarketShock, 24*time.Hour), baseline*1.5)
	assert.LessOrEqual(t, s.Stress(), 1.0)
}

func TestStressArithmetic(t *testing.T) {
	s, _, _ := newTestSystem(t, quiet())
	_, _ = s.Trigger(MarketShock, Critical)
	s.Sweep()
	assert.InDelta(t, 0.30*0.99, s.Stress(), 1e-12)

	_, _ = s.Trigger(TechnologicalChange, Moderate)
	s.Sweep()
	assert.InDelta(t, (0.30*0.99-0.05)*0.99, s.Stress(), 1e-12)

	s.SetStress(0)
	_, _ = s.Trigger(TechnologicalChange, Critical)
	s.Sweep()
	assert.Zero(t, s.Stress(), "stress never goes negative")
}

func TestClassifyCycleThresholds(t *testing.T) {
	tests := []struct {
		stress float64
		want   Cycle
	}{
		{0, Expansion},
		{0.19, Expansion},
		{0.2, Recovery},
		{0.4, Recovery},
		{0.41, Contraction},
		{0.7, Contraction},
		{0.71, Recession},
		{1, Recession},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyCycle(tt.stress), "stress %v", tt.stress)
	}
}

func TestSevereRecessionSetsEmergencyRate(t *testing.T) {
	s, _, rec := newTestSystem(t, quiet())
	require.NoError(t, s.ForceCycle(Recession))

	ev, err := s.Trigger(Cyclical, Critical)
	require.NoError(t, err)
	assert.Equal(t, "Emergency Rate Cut", ev.Name)
	assert.Equal(t, RatePayload{Rate: emergencyRate}, ev.Payload)

	mild, err := s.Trigger(Cyclical, Minor)
	require.NoError(t, err)
	assert.IsType(t, EasingPayload{}, mild.Payload)

	s.Sweep()
	require.Len(t, rec.capital, 2)
	assert.Contains(t, rec.capital, capital.Event(capital.InterestRateChange{Rate: emergencyRate}))
}

func TestForceCycle(t *testing.T) {
	s, _, _ := newTestSystem(t, quiet())
	for _, c := range []Cycle{Recession, Contraction, Recovery, Expansion} {
		require.NoError(t, s.ForceCycle(c))
		assert.Equal(t, c, s.Cycle())
	}
	assert.Error(t, s.ForceCycle("boom"))
}

func TestHistoryIsBounded(t *testing.T) {
	cfg := quiet()
	cfg.HistorySize = 3
	s, _, _ := newTestSystem(t, cfg)
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.Schedule(testEvent(n), epoch))
	}
	s.Sweep()

	h := s.History(0)
	require.Len(t, h, 3)
	assert.Equal(t, "c", h[0].Name)
	assert.Equal(t, "e", h[2].Name)
	assert.Len(t, s.History(2), 2)
}

func TestGenerateSchedulesWithinDelayWindow(t *testing.T) {
	cfg := quiet()
	cfg.Generation = true
	s, clock, _ := newTestSystem(t, cfg)

	scheduled := s.Generate(30 * 24 * time.Hour)
	require.NotEmpty(t, scheduled)
	for _, sc := range scheduled {
		assert.False(t, sc.ExecuteAt.Before(epoch))
		assert.True(t, sc.ExecuteAt.Before(epoch.Add(30*time.Minute)))
		assert.Positive(t, sc.Event.Duration)
	}
	assert.EqualValues(t, len(scheduled), s.Statistics().Generated)

	clock.Advance(30 * time.Minute)
	assert.Len(t, s.Sweep(), len(scheduled))
}

func TestGenerationDisabled(t *testing.T) {
	s, _, _ := newTestSystem(t, quiet())
	assert.Nil(t, s.Generate(365*24*time.Hour))
}

func TestPanickingMarketDoesNotStopSweep(t *testing.T) {
	s, _, rec := newTestSystem(t, quiet())
	rec.panics = true
	require.NoError(t, s.Schedule(testEvent("explodes"), epoch))
	require.NoError(t, s.Schedule(testEvent("also"), epoch))

	assert.Len(t, s.Sweep(), 2)
	st := s.Statistics()
	assert.EqualValues(t, 2, st.Failed)
	assert.EqualValues(t, 2, st.Executed)
}

func TestOnExecuteHook(t *testing.T) {
	s, _, _ := newTestSystem(t, quiet())
	var seen []string
	s.OnExecute(func(ev Event) { seen = append(seen, ev.Name) })
	require.NoError(t, s.Schedule(testEvent("hooked"), epoch))
	s.Sweep()
	assert.Equal(t, []string{"hooked"}, seen)
}

func TestConcurrentScheduleAndSweepExecuteEachOnce(t *testing.T) {
	s, _, _ := newTestSystem(t, quiet())
	const n = 200

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_ = s.Schedule(testEvent("e"), epoch)
		}
	}()
	executed := 0
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			executed += len(s.Sweep())
		}
	}()
	wg.Wait()
	executed += len(s.Sweep())

	assert.Equal(t, n, executed)
	assert.EqualValues(t, n, s.Statistics().Executed)
	assert.Empty(t, s.Pending())
}

func TestApplyDispatchesPayloads(t *testing.T) {
	rec := &recorder{}
	evs := []Event{
		{Payload: ShockPayload{Drop: 0.1}, Duration: time.Hour},
		{Payload: SupplyPayload{Commodity: "fuel", Multiplier: 0.8}, Duration: time.Hour},
		{Payload: RegulationPayload{InsuranceRate: 0.02, RateChange: 0.01}, Duration: time.Hour},
		{Payload: TechnologyPayload{MaintenanceMultiplier: 0.9}, Duration: time.Hour},
		{Payload: DisasterPayload{Commodity: "grain", SupplyMultiplier: 0.7, DamageProbability: 0.1}, Duration: time.Hour},
		{Payload: GeopoliticalPayload{FuelMultiplier: 1.2, SupplyMultiplier: 0.9}, Duration: time.Hour},
		{Payload: CreditPayload{RateIncrease: 0.01}, Duration: time.Hour},
		{Payload: EasingPayload{RateDecrease: 0.01}, Duration: time.Hour},
		{Payload: RatePayload{Rate: 0.05}, Duration: time.Hour},
		{Payload: BubblePayload{Multiplier: 1.1}, Duration: time.Hour},
	}
	for _, ev := range evs {
		require.NoError(t, Apply(ev, rec))
	}
	assert.Equal(t, []string{"fuel:supply", "grain:supply", "fuel:supply"}, rec.shocks)
	assert.Len(t, rec.capital, 5)
	assert.Len(t, rec.assets, 4)
	assert.Equal(t, []float64{0.1}, rec.damage)
	assert.IsType(t, capital.MarketCrash{}, rec.capital[0])
}

func TestParseNames(t *testing.T) {
	c, err := ParseCategory("natural_disaster")
	require.NoError(t, err)
	assert.Equal(t, NaturalDisaster, c)
	_, err = ParseCategory("alien_invasion")
	assert.Error(t, err)

	sev, err := ParseSeverity("critical")
	require.NoError(t, err)
	assert.Equal(t, Critical, sev)
	assert.Len(t, Categories(), 9)
}
