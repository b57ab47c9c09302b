package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/tradeworld/internal/economy"
)

// Engine drives a Simulation: one goroutine ticks it, another sweeps the
// event queue. Each loop runs on its own ticker.
type Engine struct {
	sim *Simulation

	Interval      time.Duration // wall time between ticks at speed 1
	SweepInterval time.Duration
	Speed         float64 // 0 pauses ticking; sweeps continue
	SaveEvery     int

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewEngine creates a driver using the simulation's configured cadence.
func NewEngine(sim *Simulation) *Engine {
	cfg := sim.Config()
	return &Engine{
		sim:           sim,
		Interval:      cfg.TickInterval,
		SweepInterval: cfg.SweepInterval,
		Speed:         cfg.Speed,
		SaveEvery:     cfg.SaveEvery,
	}
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Run starts both loops and blocks until ctx is done or Stop is called.
// In-flight work finishes before it returns.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine: already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.mu.Unlock()

	slog.Info("simulation engine started", "tick", e.sim.TickCount(), "speed", e.Speed, "interval", e.Interval)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.tickLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		e.sweepLoop(ctx)
	}()
	wg.Wait()

	e.mu.Lock()
	e.running = false
	e.cancel = nil
	e.mu.Unlock()
	cancel()

	slog.Info("simulation engine stopped", "tick", e.sim.TickCount())
	return nil
}

// Stop halts both loops.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// period is the wall time between ticks, adjusted for speed.
func (e *Engine) period() time.Duration {
	if e.Speed <= 0 {
		return 0
	}
	return time.Duration(float64(e.Interval) / e.Speed)
}

func (e *Engine) tickLoop(ctx context.Context) {
	p := e.period()
	if p <= 0 {
		// Paused: wait for shutdown.
		<-ctx.Done()
		return
	}
	t := time.NewTicker(p)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.step(ctx)
		}
	}
}

// step runs one tick. Errors are logged; the loop keeps going. A tick that
// starts always finishes, even if ctx is cancelled meanwhile.
func (e *Engine) step(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	err := e.sim.Tick(ctx)
	switch {
	case errors.Is(err, ErrTickInProgress):
		slog.Debug("tick skipped", "reason", err)
		return
	case err != nil:
		slog.Error("tick failed", "tick", e.sim.TickCount()+1, "error", err)
		return
	}
	if n := e.sim.TickCount(); e.SaveEvery > 0 && n%uint64(e.SaveEvery) == 0 {
		e.sim.Save(ctx)
	}
}

func (e *Engine) sweepLoop(ctx context.Context) {
	interval := e.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := e.sim.SweepEvents(); err != nil {
				slog.Error("event sweep failed", "error", err)
			}
		}
	}
}

// SimTime renders simulated time for logs, e.g. "Winter Day 12, 6:05 Year 2026".
func SimTime(t time.Time) string {
	return fmt.Sprintf("%s Day %d, %d:%02d Year %d",
		economy.SeasonName(t), t.YearDay(), t.Hour(), t.Minute(), t.Year())
}
