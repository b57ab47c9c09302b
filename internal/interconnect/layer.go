// Package interconnect propagates price changes between markets along
// weighted, lagged links.
package interconnect

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/talgya/tradeworld/internal/market"
)

// Kind is the economic relationship a link models.
type Kind string

const (
	InputOutput   Kind = "input_output"
	Substitute    Kind = "substitute"
	Complementary Kind = "complementary"
	Financial     Kind = "financial"
)

// Sign is the direction a source move pushes the target.
func (k Kind) Sign() float64 {
	if k == Complementary {
		return -1
	}
	return 1
}

const (
	minChange = 1e-6
	maxEffect = 0.5
)

// Link is one directed connection.
type Link struct {
	Source   string        `json:"source"`
	Target   string        `json:"target"`
	Kind     Kind          `json:"kind"`
	Strength float64       `json:"strength"`
	Lag      time.Duration `json:"lag"`
}

// Effect is a pending fractional price change for a target market.
type Effect struct {
	Source string    `json:"source"`
	Target string    `json:"target"`
	Kind   Kind      `json:"kind"`
	Change float64   `json:"change"`
	Due    time.Time `json:"due"`
	round  uint64
}

// Stats summarises the layer.
type Stats struct {
	Markets        int       `json:"markets"`
	Links          int       `json:"links"`
	PendingEffects int       `json:"pending_effects"`
	EffectsQueued  int64     `json:"effects_queued"`
	EffectsApplied int64     `json:"effects_applied"`
	LastProcessed  time.Time `json:"last_processed"`
}

// Layer owns the market registry and the pending effect queue.
type Layer struct {
	clock market.Clock

	mu      sync.Mutex
	markets map[string]market.Market
	links   []Link
	last    map[string]float64
	pending []Effect
	round   uint64
	queued  int64
	applied int64
	lastRun time.Time
}

// New creates an empty layer reading time from clock.
func New(clock market.Clock) *Layer {
	if clock == nil {
		clock = market.SystemClock{}
	}
	return &Layer{
		clock:   clock,
		markets: make(map[string]market.Market),
		last:    make(map[string]float64),
	}
}

// Register adds a market under id, replacing any previous one.
func (l *Layer) Register(id string, m market.Market) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.markets[id] = m
	delete(l.last, id)
}

// Market returns a registered market.
func (l *Layer) Market(id string) (market.Market, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.markets[id]
	return m, ok
}

// IDs returns the registered market ids, sorted.
func (l *Layer) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.markets))
	for id := range l.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AddLink connects two registered markets. Strength must lie in [0, 1].
func (l *Layer) AddLink(source, target string, kind Kind, strength float64, lag time.Duration) error {
	if strength < 0 || strength > 1 || math.IsNaN(strength) {
		return fmt.Errorf("link %s→%s: strength %v outside [0,1]", source, target, strength)
	}
	if lag < 0 {
		return fmt.Errorf("link %s→%s: negative lag %v", source, target, lag)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range []string{source, target} {
		if _, ok := l.markets[id]; !ok {
			return fmt.Errorf("link %s→%s: %s: %w", source, target, id, market.ErrUnknownMarket)
		}
	}
	l.links = append(l.links, Link{Source: source, Target: target, Kind: kind, Strength: strength, Lag: lag})
	return nil
}

// Links returns a copy of every link.
func (l *Layer) Links() []Link {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Link(nil), l.links...)
}

// Pending returns a copy of the queued effects, earliest first.
func (l *Layer) Pending() []Effect {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := append([]Effect(nil), l.pending...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Due.Before(out[j].Due) })
	return out
}

// Process measures each market's fractional price change since the
// previous call, applies effects queued by earlier calls that are now due,
// and queues strength × sign × change for every dependent at now + lag.
// Moves caused by applied effects are excluded from the next measurement,
// so two-way links do not echo. Effects queued here are never applied in
// the same call. It returns the number of effects applied.
func (l *Layer) Process(dt time.Duration) int {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.round++
	changes := make(map[string]float64, len(l.markets))
	for id, m := range l.markets {
		if prev, ok := l.last[id]; ok && prev > 0 {
			changes[id] = (m.CurrentPrice() - prev) / prev
		}
	}

	applied := 0
	kept := l.pending[:0]
	for _, e := range l.pending {
		if e.round < l.round && !now.Before(e.Due) {
			if m, ok := l.markets[e.Target]; ok {
				m.ApplyExternalEffect(e.Change)
				applied++
			}
			continue
		}
		kept = append(kept, e)
	}
	l.pending = kept
	l.applied += int64(applied)

	for id, m := range l.markets {
		l.last[id] = m.CurrentPrice()
	}

	for _, link := range l.links {
		change := changes[link.Source]
		if math.Abs(change) < minChange {
			continue
		}
		effect := market.Clamp(change*link.Strength*link.Kind.Sign(), -maxEffect, maxEffect)
		l.pending = append(l.pending, Effect{
			Source: link.Source,
			Target: link.Target,
			Kind:   link.Kind,
			Change: effect,
			Due:    now.Add(link.Lag),
			round:  l.round,
		})
		l.queued++
	}
	l.lastRun = now
	return applied
}

// Stats returns the layer summary.
func (l *Layer) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Markets:        len(l.markets),
		Links:          len(l.links),
		PendingEffects: len(l.pending),
		EffectsQueued:  l.queued,
		EffectsApplied: l.applied,
		LastProcessed:  l.lastRun,
	}
}
