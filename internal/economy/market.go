package economy

import (
	"math"
	"sync"
	"time"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/tradeworld/internal/market"
)

const (
	shockWeight      = 0.1
	storageFloor     = 0.8
	inventoryScale   = 1000.0
	depthScale       = 1000.0
	noiseTimeScale   = 24.0 // simulated hours per unit of noise input
	defaultResidual  = 0.01
	defaultNoiseAmpl = 0.02
)

// ShockKind says which side of the market a shock multiplies.
type ShockKind int

const (
	ShockSupply ShockKind = iota
	ShockDemand
)

func (k ShockKind) String() string {
	if k == ShockDemand {
		return "demand"
	}
	return "supply"
}

// Shock is a temporary supply or demand multiplier active in [Start, End).
type Shock struct {
	Kind       ShockKind `json:"kind"`
	Multiplier float64   `json:"multiplier"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Reason     string    `json:"reason,omitempty"`
}

func (s Shock) activeAt(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}

// Config tunes the stochastic parts of a commodity market.
type Config struct {
	// NoiseAmplitude is the random-walk magnitude at zero depth. Zero disables noise.
	NoiseAmplitude float64
	// Seed selects the opensimplex field.
	Seed int64
	// MinResidual is the quantity below which spoiled sell orders are dropped.
	MinResidual float64
}

// DefaultConfig returns production defaults.
func DefaultConfig(seed int64) Config {
	return Config{NoiseAmplitude: defaultNoiseAmpl, Seed: seed, MinResidual: defaultResidual}
}

// Market is an order book for one commodity. It replaces the book's price
// discovery with an elasticity, shock, storage and noise model, and spoils
// resting sell orders after each match.
type Market struct {
	*market.Book

	def   Commodity
	cfg   Config
	noise opensimplex.Noise
	lane  float64
	epoch time.Time

	mu        sync.RWMutex
	shocks    []Shock
	inventory float64
}

// NewMarket creates a commodity market seeded at the commodity's base price.
func NewMarket(def Commodity, clock market.Clock, cfg Config) *Market {
	if cfg.MinResidual <= 0 {
		cfg.MinResidual = defaultResidual
	}
	book := market.NewBook(string(def.ID), def.BasePrice, clock)
	m := &Market{
		Book:      book,
		def:       def,
		cfg:       cfg,
		noise:     opensimplex.NewNormalized(cfg.Seed),
		lane:      laneFor(def.ID),
		epoch:     book.Clock().Now(),
		inventory: def.Inventory,
	}
	book.SetDiscoverer(m.DiscoverPrice)
	return m
}

// laneFor spreads commodities across the noise field so they don't move in lockstep.
func laneFor(id CommodityID) float64 {
	h := 0
	for _, r := range id {
		h = h*31 + int(r)
	}
	return float64(h%997) * 7.3
}

// Commodity returns the static definition.
func (m *Market) Commodity() Commodity { return m.def }

// AddShock registers a shock starting now and lasting d.
func (m *Market) AddShock(kind ShockKind, multiplier float64, d time.Duration, reason string) Shock {
	if multiplier <= 0 {
		multiplier = market.MinPrice
	}
	now := m.Clock().Now()
	s := Shock{Kind: kind, Multiplier: multiplier, Start: now, End: now.Add(d), Reason: reason}
	m.mu.Lock()
	m.shocks = append(m.shocks, s)
	m.mu.Unlock()
	return s
}

// ActiveShocks returns the shocks in force now.
func (m *Market) ActiveShocks() []Shock {
	now := m.Clock().Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Shock
	for _, s := range m.shocks {
		if s.activeAt(now) {
			out = append(out, s)
		}
	}
	return out
}

func (m *Market) purgeShocks(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.shocks[:0]
	for _, s := range m.shocks {
		if now.Before(s.End) {
			kept = append(kept, s)
		}
	}
	purged := len(m.shocks) - len(kept)
	m.shocks = kept
	return purged
}

// ShockFactor folds the active shocks: demand multipliers multiply, supply
// multipliers divide.
func (m *Market) ShockFactor() float64 {
	factor := 1.0
	for _, s := range m.ActiveShocks() {
		if s.Kind == ShockDemand {
			factor *= s.Multiplier
		} else {
			factor /= s.Multiplier
		}
	}
	return factor
}

// Inventory returns warehoused stock outside the book.
func (m *Market) Inventory() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inventory
}

// AddInventory changes warehoused stock; it never goes below zero.
func (m *Market) AddInventory(q float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inventory = math.Max(0, m.inventory+q)
	return m.inventory
}

// StoragePressure is 1 − storageCost·ln(1 + inventory/1000), clamped to [0.8, 1].
// Inventory counts warehoused stock plus resting sell quantity.
func (m *Market) StoragePressure() float64 {
	inv := m.Inventory() + m.TotalQuantity(market.SideSell)
	p := 1 - m.def.StorageCost*math.Log1p(inv/inventoryScale)
	return market.Clamp(p, storageFloor, 1)
}

// Noise returns the random-walk term for the current book depth.
func (m *Market) Noise() float64 {
	if m.cfg.NoiseAmplitude == 0 {
		return 0
	}
	hours := m.Clock().Now().Sub(m.epoch).Hours()
	s := m.noise.Eval2(hours/noiseTimeScale, m.lane)
	return m.cfg.NoiseAmplitude * (2*s - 1) / (1 + m.LiquidityDepth()/depthScale)
}

// SupplyDemandRatio is resting buy quantity over resting sell quantity,
// 1 when either side is empty.
func (m *Market) SupplyDemandRatio() float64 {
	demand := m.TotalQuantity(market.SideBuy)
	supply := m.TotalQuantity(market.SideSell)
	if demand <= 0 || supply <= 0 {
		return 1
	}
	return demand / supply
}

// DiscoverPrice prices the commodity from its reference price: elasticity
// on the book imbalance with seasonally scaled elasticity, then the damped
// shock factor, storage pressure and depth-scaled noise.
func (m *Market) DiscoverPrice() float64 {
	now := m.Clock().Now()
	elasticity := m.def.Elasticity * m.def.SeasonalMultiplier(now)
	price := market.ApplyElasticity(m.def.BasePrice, m.SupplyDemandRatio(), elasticity)
	price *= 1 + shockWeight*(m.ShockFactor()-1)
	price *= m.StoragePressure()
	price *= 1 + m.Noise()
	return market.ClampPrice(price)
}

// Update purges expired shocks, runs the book step, then spoils the sell
// side and warehoused stock by (1 − rate)^days.
func (m *Market) Update(dt time.Duration) []market.Trade {
	m.purgeShocks(m.Clock().Now())
	trades := m.Book.Update(dt)

	if m.def.SpoilageRate > 0 && dt > 0 {
		factor := math.Pow(1-m.def.SpoilageRate, dt.Hours()/24)
		m.DecaySells(factor, m.cfg.MinResidual)
		m.mu.Lock()
		m.inventory *= factor
		m.mu.Unlock()
	}
	return trades
}

// Conditions is the commodity-specific view added to the book stats.
type Conditions struct {
	market.Stats
	Season          string  `json:"season"`
	Seasonal        float64 `json:"seasonal_multiplier"`
	ShockFactor     float64 `json:"shock_factor"`
	ActiveShocks    int     `json:"active_shocks"`
	Inventory       float64 `json:"inventory"`
	StoragePressure float64 `json:"storage_pressure"`
}

// Conditions returns the book stats plus commodity state.
func (m *Market) Conditions() Conditions {
	now := m.Clock().Now()
	return Conditions{
		Stats:           m.Stats(),
		Season:          SeasonName(now),
		Seasonal:        m.def.SeasonalMultiplier(now),
		ShockFactor:     m.ShockFactor(),
		ActiveShocks:    len(m.ActiveShocks()),
		Inventory:       m.Inventory(),
		StoragePressure: m.StoragePressure(),
	}
}

var _ market.Market = (*Market)(nil)
