// Package events generates, schedules and executes macro-economic events
// and tracks the market stress they leave behind.
package events

import (
	"fmt"
	"time"
)

// Category is one of the nine event families.
type Category int

const (
	MarketShock Category = iota
	SupplyDisruption
	DemandShift
	RegulatoryChange
	TechnologicalChange
	NaturalDisaster
	Geopolitical
	Seasonal
	Cyclical
)

var categoryNames = [...]string{
	"market_shock", "supply_disruption", "demand_shift", "regulatory_change",
	"technological_change", "natural_disaster", "geopolitical", "seasonal", "cyclical",
}

// Categories lists every category in declaration order.
func Categories() []Category {
	out := make([]Category, len(categoryNames))
	for i := range out {
		out[i] = Category(i)
	}
	return out
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryNames[c]
}

// MarshalText renders the category name.
func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText parses a category name.
func (c *Category) UnmarshalText(b []byte) error {
	v, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseCategory resolves a category name such as "market_shock".
func ParseCategory(s string) (Category, error) {
	for i, n := range categoryNames {
		if n == s {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event category %q", s)
}

// Severity grades an event's impact.
type Severity int

const (
	Minor Severity = iota
	Moderate
	Major
	Critical
)

var severityNames = [...]string{"minor", "moderate", "major", "critical"}

// stressDeltas is how far one executed event moves market stress.
var stressDeltas = [...]float64{0.01, 0.05, 0.15, 0.30}

// scale is a generic magnitude per severity used by the generators.
var severityScale = [...]float64{0.25, 0.5, 1, 2}

func (s Severity) valid() bool { return s >= Minor && s <= Critical }

// StressDelta is the unsigned stress change of an event of this severity.
func (s Severity) StressDelta() float64 {
	if !s.valid() {
		return 0
	}
	return stressDeltas[s]
}

// Severe reports whether the severity can trigger cascades.
func (s Severity) Severe() bool { return s >= Major }

func (s Severity) scale() float64 {
	if !s.valid() {
		return 1
	}
	return severityScale[s]
}

func (s Severity) String() string {
	if !s.valid() {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// MarshalText renders the severity name.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity resolves a severity name such as "critical".
func ParseSeverity(s string) (Severity, error) {
	for i, n := range severityNames {
		if n == s {
			return Severity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

// Polarity says whether an event relieves or adds economic pressure.
type Polarity string

const (
	Positive Polarity = "positive"
	Negative Polarity = "negative"
)

// sign is the direction the event moves stress.
func (p Polarity) sign() float64 {
	if p == Positive {
		return -1
	}
	return 1
}

// Event is an immutable description of one economic event.
type Event struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Category   Category           `json:"category"`
	Severity   Severity           `json:"severity"`
	Polarity   Polarity           `json:"polarity"`
	Markets    []string           `json:"markets"`
	Duration   time.Duration      `json:"duration"`
	Magnitudes map[string]float64 `json:"magnitudes"`
	Payload    Payload            `json:"payload"`
	PayloadKey string             `json:"payload_kind"`
	ParentID   string             `json:"parent_id,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	ExecutedAt time.Time          `json:"executed_at,omitzero"`
}

// IsCascade reports whether the event was spawned by another event.
func (e Event) IsCascade() bool { return e.ParentID != "" }

// Scheduled is an event waiting in the queue.
type Scheduled struct {
	Event     Event     `json:"event"`
	ExecuteAt time.Time `json:"execute_at"`
}

// Cycle is the economic phase derived from market stress.
type Cycle string

const (
	Expansion   Cycle = "expansion"
	Recovery    Cycle = "recovery"
	Contraction Cycle = "contraction"
	Recession   Cycle = "recession"
)

// ClassifyCycle maps stress to a phase: below 0.2 expansion, up to 0.4
// recovery, above 0.4 contraction and above 0.7 recession.
func ClassifyCycle(stress float64) Cycle {
	switch {
	case stress > 0.7:
		return Recession
	case stress > 0.4:
		return Contraction
	case stress >= 0.2:
		return Recovery
	default:
		return Expansion
	}
}

// Representative is the stress a forced cycle change sets.
func (c Cycle) Representative() (float64, error) {
	switch c {
	case Expansion:
		return 0.1, nil
	case Recovery:
		return 0.3, nil
	case Contraction:
		return 0.5, nil
	case Recession:
		return 0.8, nil
	}
	return 0, fmt.Errorf("unknown cycle %q", string(c))
}
