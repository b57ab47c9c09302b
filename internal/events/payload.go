package events

import (
	"fmt"
	"time"

	"github.com/talgya/tradeworld/internal/assets"
	"github.com/talgya/tradeworld/internal/capital"
	"github.com/talgya/tradeworld/internal/economy"
)

// Payload is the market effect an event carries. The variants are closed.
type Payload interface {
	Kind() string
}

// ShockPayload crashes the capital market.
type ShockPayload struct {
	Drop                 float64 `json:"drop"`
	VolatilityMultiplier float64 `json:"volatility_multiplier"`
}

// SupplyPayload scales a commodity's supply.
type SupplyPayload struct {
	Commodity  string  `json:"commodity"`
	Multiplier float64 `json:"multiplier"`
}

// DemandPayload scales a commodity's demand.
type DemandPayload struct {
	Commodity  string  `json:"commodity"`
	Multiplier float64 `json:"multiplier"`
}

// RegulationPayload changes insurance rates and nudges the base rate.
type RegulationPayload struct {
	InsuranceRate float64 `json:"insurance_rate"`
	RateChange    float64 `json:"rate_change"`
}

// TechnologyPayload scales maintenance costs.
type TechnologyPayload struct {
	MaintenanceMultiplier float64 `json:"maintenance_multiplier"`
}

// DisasterPayload cuts a commodity's supply and damages physical assets.
type DisasterPayload struct {
	Commodity         string  `json:"commodity"`
	SupplyMultiplier  float64 `json:"supply_multiplier"`
	DamageProbability float64 `json:"damage_probability"`
}

// GeopoliticalPayload shocks fuel prices and fuel supply.
type GeopoliticalPayload struct {
	FuelMultiplier   float64 `json:"fuel_multiplier"`
	SupplyMultiplier float64 `json:"supply_multiplier"`
}

// CreditPayload tightens credit.
type CreditPayload struct {
	RateIncrease    float64 `json:"rate_increase"`
	PremiumIncrease float64 `json:"premium_increase"`
}

// EasingPayload loosens monetary policy.
type EasingPayload struct {
	RateDecrease float64 `json:"rate_decrease"`
}

// RatePayload sets the base rate.
type RatePayload struct {
	Rate float64 `json:"rate"`
}

// BubblePayload inflates physical asset values.
type BubblePayload struct {
	Multiplier float64 `json:"multiplier"`
}

func (ShockPayload) Kind() string        { return "shock" }
func (SupplyPayload) Kind() string       { return "supply" }
func (DemandPayload) Kind() string       { return "demand" }
func (RegulationPayload) Kind() string   { return "regulation" }
func (TechnologyPayload) Kind() string   { return "technology" }
func (DisasterPayload) Kind() string     { return "disaster" }
func (GeopoliticalPayload) Kind() string { return "geopolitical" }
func (CreditPayload) Kind() string       { return "credit" }
func (EasingPayload) Kind() string       { return "easing" }
func (RatePayload) Kind() string         { return "rate" }
func (BubblePayload) Kind() string       { return "bubble" }

// Markets is what event execution touches.
type Markets interface {
	CommodityShock(commodity string, kind economy.ShockKind, multiplier float64, d time.Duration, reason string) error
	CapitalEvent(ev capital.Event) error
	AssetEvent(ev assets.Event) error
	DamageAssets(p float64) int
}

// Apply dispatches the event's payload to the markets.
func Apply(ev Event, m Markets) error {
	switch p := ev.Payload.(type) {
	case ShockPayload:
		return m.CapitalEvent(capital.MarketCrash{Drop: p.Drop, VolatilityMultiplier: p.VolatilityMultiplier})
	case SupplyPayload:
		return m.CommodityShock(p.Commodity, economy.ShockSupply, p.Multiplier, ev.Duration, ev.Name)
	case DemandPayload:
		return m.CommodityShock(p.Commodity, economy.ShockDemand, p.Multiplier, ev.Duration, ev.Name)
	case RegulationPayload:
		if err := m.AssetEvent(assets.InsuranceRateChange{Rate: p.InsuranceRate}); err != nil {
			return err
		}
		if p.RateChange > 0 {
			return m.CapitalEvent(capital.CreditCrunch{RateIncrease: p.RateChange})
		}
		return nil
	case TechnologyPayload:
		return m.AssetEvent(assets.MaintenanceCostChange{Multiplier: p.MaintenanceMultiplier})
	case DisasterPayload:
		m.DamageAssets(p.DamageProbability)
		return m.CommodityShock(p.Commodity, economy.ShockSupply, p.SupplyMultiplier, ev.Duration, ev.Name)
	case GeopoliticalPayload:
		if err := m.AssetEvent(assets.FuelPriceShock{Multiplier: p.FuelMultiplier}); err != nil {
			return err
		}
		return m.CommodityShock(string(economy.Fuel), economy.ShockSupply, p.SupplyMultiplier, ev.Duration, ev.Name)
	case CreditPayload:
		return m.CapitalEvent(capital.CreditCrunch{RateIncrease: p.RateIncrease, PremiumIncrease: p.PremiumIncrease})
	case EasingPayload:
		return m.CapitalEvent(capital.QuantitativeEasing{RateDecrease: p.RateDecrease})
	case RatePayload:
		return m.CapitalEvent(capital.InterestRateChange{Rate: p.Rate})
	case BubblePayload:
		return m.AssetEvent(assets.AssetBubble{Multiplier: p.Multiplier})
	case nil:
		return nil
	default:
		return fmt.Errorf("events: unsupported payload %T", ev.Payload)
	}
}
