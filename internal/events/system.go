package events

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/talgya/tradeworld/internal/entropy"
	"github.com/talgya/tradeworld/internal/market"
)

const stressDecay = 0.99

// Config tunes the event system.
type Config struct {
	HistorySize int
	Generation  bool          // false disables random generation; triggers still work
	MaxDelay    time.Duration // generated events land in [now, now+MaxDelay)
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{HistorySize: 500, Generation: true, MaxDelay: 30 * time.Minute}
}

// Statistics summarises event activity.
type Statistics struct {
	Generated     int64              `json:"generated"`
	Executed      int64              `json:"executed"`
	Cascaded      int64              `json:"cascaded"`
	Failed        int64              `json:"failed"`
	ByCategory    map[Category]int64 `json:"by_category"`
	BySeverity    map[Severity]int64 `json:"by_severity"`
	Pending       int                `json:"pending"`
	Stress        float64            `json:"stress"`
	Cycle         Cycle              `json:"cycle"`
	NextExecution *time.Time         `json:"next_execution,omitempty"`
}

// System owns the scheduled queue, the executed history and market stress.
// Generate and Trigger add to the queue; Sweep drains it. Both may run on
// different goroutines.
type System struct {
	cfg     Config
	clock   market.Clock
	rng     *entropy.Source
	markets Markets
	history *lru.Cache

	mu         sync.Mutex
	queue      eventQueue
	seq        uint64
	stress     float64
	generated  int64
	executed   int64
	cascaded   int64
	failed     int64
	byCategory map[Category]int64
	bySeverity map[Severity]int64
	hooks      []func(Event)
}

// New creates an event system applying events to markets.
func New(cfg Config, clock market.Clock, rng *entropy.Source, markets Markets) (*System, error) {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	if cfg.MaxDelay < 0 {
		cfg.MaxDelay = 0
	}
	if clock == nil {
		clock = market.SystemClock{}
	}
	if rng == nil {
		rng = entropy.New(0)
	}
	history, err := lru.New(cfg.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("event history: %w", err)
	}
	return &System{
		cfg:        cfg,
		clock:      clock,
		rng:        rng,
		markets:    markets,
		history:    history,
		byCategory: make(map[Category]int64),
		bySeverity: make(map[Severity]int64),
	}, nil
}

// OnExecute registers fn to be called after every executed event.
func (s *System) OnExecute(fn func(Event)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Stress returns market stress in [0, 1].
func (s *System) Stress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stress
}

// SetStress overwrites market stress (restore).
func (s *System) SetStress(v float64) {
	s.mu.Lock()
	s.stress = market.Clamp(v, 0, 1)
	s.mu.Unlock()
}

// Cycle classifies the current stress.
func (s *System) Cycle() Cycle {
	return ClassifyCycle(s.Stress())
}

// ForceCycle sets stress to the cycle's representative value.
func (s *System) ForceCycle(c Cycle) error {
	v, err := c.Representative()
	if err != nil {
		return err
	}
	s.SetStress(v)
	slog.Info("economic cycle forced", "cycle", c, "stress", v)
	return nil
}

// DailyProbability is the category's current per-day probability after
// stress and cycle adjustments.
func (s *System) DailyProbability(c Category) float64 {
	stress := s.Stress()
	return dailyProbability(c, stress, ClassifyCycle(stress))
}

// Probability is the chance the category fires during a pass covering dt.
func (s *System) Probability(c Category, dt time.Duration) float64 {
	return windowProbability(s.DailyProbability(c), dt)
}

// Generate rolls every category for a pass covering dt and schedules the
// events that fire with a random delay.
func (s *System) Generate(dt time.Duration) []Scheduled {
	if !s.cfg.Generation || dt <= 0 {
		return nil
	}
	now := s.clock.Now()
	stress := s.Stress()
	cycle := ClassifyCycle(stress)

	var out []Scheduled
	for _, c := range Categories() {
		if !s.rng.Chance(windowProbability(dailyProbability(c, stress, cycle), dt)) {
			continue
		}
		ev := generators[c](s.rng, rollSeverity(s.rng, stress), now, cycle)
		at := now.Add(time.Duration(s.rng.Float64() * float64(s.cfg.MaxDelay)))
		if err := s.Schedule(ev, at); err != nil {
			slog.Warn("event not scheduled", "name", ev.Name, "error", err)
			continue
		}
		out = append(out, Scheduled{Event: ev, ExecuteAt: at})
	}
	if len(out) > 0 {
		s.mu.Lock()
		s.generated += int64(len(out))
		s.mu.Unlock()
	}
	return out
}

// Trigger builds an event of the given category and severity and schedules
// it for immediate execution on the next sweep.
func (s *System) Trigger(c Category, sev Severity) (Event, error) {
	gen, ok := generators[c]
	if !ok {
		return Event{}, fmt.Errorf("trigger: unknown category %d", int(c))
	}
	if !sev.valid() {
		return Event{}, fmt.Errorf("trigger: unknown severity %d", int(sev))
	}
	now := s.clock.Now()
	ev := gen(s.rng, sev, now, s.Cycle())
	if err := s.Schedule(ev, now); err != nil {
		return Event{}, err
	}
	slog.Info("event triggered", "name", ev.Name, "category", c, "severity", ev.Severity)
	return ev, nil
}

// Schedule queues ev for execution at at.
func (s *System) Schedule(ev Event, at time.Time) error {
	if ev.Duration <= 0 {
		return fmt.Errorf("schedule %q: duration must be positive, got %v", ev.Name, ev.Duration)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Payload != nil && ev.PayloadKey == "" {
		ev.PayloadKey = ev.Payload.Kind()
	}
	s.mu.Lock()
	s.seq++
	s.queue.push(Scheduled{Event: ev, ExecuteAt: at}, s.seq)
	s.mu.Unlock()
	return nil
}

// Pending returns the queued events, earliest first.
func (s *System) Pending() []Scheduled {
	s.mu.Lock()
	items := make([]queueItem, len(s.queue))
	copy(items, s.queue)
	s.mu.Unlock()
	sort.Slice(items, func(i, j int) bool { return eventQueue(items).Less(i, j) })
	out := make([]Scheduled, len(items))
	for i, it := range items {
		out[i] = it.Scheduled
	}
	return out
}

// Sweep executes every queued event whose time has come, in time order,
// and returns them. Each event is removed before it executes.
func (s *System) Sweep() []Event {
	now := s.clock.Now()
	var done []Event
	for {
		s.mu.Lock()
		next, ok := s.queue.peek()
		if !ok || now.Before(next.ExecuteAt) {
			s.mu.Unlock()
			break
		}
		s.queue.pop()
		s.mu.Unlock()

		next.Event.ExecutedAt = now
		s.execute(next)
		done = append(done, next.Event)
	}
	return done
}

func (s *System) execute(sc Scheduled) {
	ev := sc.Event
	err := s.apply(ev)

	s.mu.Lock()
	if err != nil {
		s.failed++
	}
	s.executed++
	s.byCategory[ev.Category]++
	s.bySeverity[ev.Severity]++
	s.stress = market.Clamp((s.stress+ev.Polarity.sign()*ev.Severity.StressDelta())*stressDecay, 0, 1)
	stress := s.stress
	hooks := append([]func(Event){}, s.hooks...)
	s.mu.Unlock()

	s.history.Add(ev.ID, ev)

	attrs := []any{"name", ev.Name, "category", ev.Category, "severity", ev.Severity, "stress", stress}
	if err != nil {
		slog.Error("event application failed", append(attrs, "error", err)...)
	} else if ev.Severity.Severe() {
		slog.Info("event executed", attrs...)
	} else {
		slog.Debug("event executed", attrs...)
	}

	if cascade, delay, ok := cascadeFor(ev, sc.ExecuteAt); ok {
		if err := s.Schedule(cascade, sc.ExecuteAt.Add(delay)); err == nil {
			s.mu.Lock()
			s.cascaded++
			s.mu.Unlock()
			slog.Info("cascade scheduled", "parent", ev.Name, "name", cascade.Name, "delay", delay)
		}
	}

	for _, fn := range hooks {
		fn(ev)
	}
}

// apply runs the payload against the markets, turning a panic into an error.
func (s *System) apply(ev Event) (err error) {
	if s.markets == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic applying %q: %v", ev.Name, r)
		}
	}()
	return Apply(ev, s.markets)
}

// History returns up to n executed events, oldest first.
func (s *System) History(n int) []Event {
	keys := s.history.Keys()
	if n > 0 && n < len(keys) {
		keys = keys[len(keys)-n:]
	}
	out := make([]Event, 0, len(keys))
	for _, k := range keys {
		if v, ok := s.history.Peek(k); ok {
			out = append(out, v.(Event))
		}
	}
	return out
}

// Statistics returns counters and the current stress and cycle.
func (s *System) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Statistics{
		Generated:  s.generated,
		Executed:   s.executed,
		Cascaded:   s.cascaded,
		Failed:     s.failed,
		ByCategory: make(map[Category]int64, len(s.byCategory)),
		BySeverity: make(map[Severity]int64, len(s.bySeverity)),
		Pending:    len(s.queue),
		Stress:     s.stress,
		Cycle:      ClassifyCycle(s.stress),
	}
	for k, v := range s.byCategory {
		st.ByCategory[k] = v
	}
	for k, v := range s.bySeverity {
		st.BySeverity[k] = v
	}
	if next, ok := s.queue.peek(); ok {
		at := next.ExecuteAt
		st.NextExecution = &at
	}
	return st
}
