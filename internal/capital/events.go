package capital

import (
	"fmt"
	"math"

	"github.com/talgya/tradeworld/internal/market"
)

// Event is a capital-market event. The set of variants is closed.
type Event interface {
	capitalEvent()
}

// InterestRateChange sets the base rate directly.
type InterestRateChange struct {
	Rate float64 `json:"rate"`
}

// MarketCrash cuts equity prices by Drop × beta and multiplies volatility.
type MarketCrash struct {
	Drop                 float64 `json:"drop"` // fraction, e.g. 0.2
	VolatilityMultiplier float64 `json:"volatility_multiplier"`
}

// CreditCrunch raises the base rate and widens every credit spread.
type CreditCrunch struct {
	RateIncrease    float64 `json:"rate_increase"`
	PremiumIncrease float64 `json:"premium_increase"`
}

// QuantitativeEasing lowers the base rate.
type QuantitativeEasing struct {
	RateDecrease float64 `json:"rate_decrease"`
}

func (InterestRateChange) capitalEvent() {}
func (MarketCrash) capitalEvent()        {}
func (CreditCrunch) capitalEvent()       {}
func (QuantitativeEasing) capitalEvent() {}

// ApplyEvent applies one capital event.
func (m *Market) ApplyEvent(ev Event) error {
	switch e := ev.(type) {
	case InterestRateChange:
		m.SetBaseRate(e.Rate)
	case MarketCrash:
		m.crash(e)
	case CreditCrunch:
		m.mu.Lock()
		m.baseRate = market.Clamp(m.baseRate+e.RateIncrease, minBaseRate, maxBaseRate)
		m.premiumAddOn += math.Max(0, e.PremiumIncrease)
		m.mu.Unlock()
	case QuantitativeEasing:
		m.mu.Lock()
		m.baseRate = market.Clamp(m.baseRate-e.RateDecrease, minBaseRate, maxBaseRate)
		m.mu.Unlock()
	default:
		return fmt.Errorf("capital: unsupported event %T", ev)
	}
	return nil
}

func (m *Market) crash(e MarketCrash) {
	drop := market.Clamp(e.Drop, 0, 0.95)
	m.mu.Lock()
	for _, eq := range m.equities {
		cut := market.Clamp(drop*eq.Beta, 0, 0.95)
		eq.Price = market.ClampPrice(eq.Price * (1 - cut))
	}
	if e.VolatilityMultiplier > 1 {
		m.volMultiplier *= e.VolatilityMultiplier
	}
	m.mu.Unlock()
	m.AdjustPrice(1 - drop)
}
