package assets

import (
	"fmt"
	"math"

	"github.com/talgya/tradeworld/internal/market"
)

// Event is an asset-market event. The set of variants is closed.
type Event interface {
	assetEvent()
}

// FuelPriceShock multiplies the fuel scalar.
type FuelPriceShock struct {
	Multiplier float64 `json:"multiplier"`
}

// MaintenanceCostChange multiplies the maintenance cost index.
type MaintenanceCostChange struct {
	Multiplier float64 `json:"multiplier"`
}

// InsuranceRateChange sets the annual insurance rate.
type InsuranceRateChange struct {
	Rate float64 `json:"rate"`
}

// AssetBubble inflates every asset class by the same multiplier.
type AssetBubble struct {
	Multiplier float64 `json:"multiplier"`
}

func (FuelPriceShock) assetEvent()        {}
func (MaintenanceCostChange) assetEvent() {}
func (InsuranceRateChange) assetEvent()   {}
func (AssetBubble) assetEvent()           {}

// ApplyEvent applies one asset event and revalues the fleet.
func (m *Market) ApplyEvent(ev Event) error {
	now := m.Clock().Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	switch e := ev.(type) {
	case FuelPriceShock:
		m.scalars.FuelPrice = math.Max(market.MinPrice, m.scalars.FuelPrice*e.Multiplier)
	case MaintenanceCostChange:
		m.scalars.MaintenanceIndex = math.Max(market.MinPrice, m.scalars.MaintenanceIndex*e.Multiplier)
	case InsuranceRateChange:
		m.scalars.InsuranceRate = market.Clamp(e.Rate, 0, 1)
	case AssetBubble:
		m.scalars.Bubble = math.Max(market.MinPrice, m.scalars.Bubble*e.Multiplier)
	default:
		return fmt.Errorf("assets: unsupported event %T", ev)
	}
	for _, a := range m.assets {
		m.revalueLocked(a, now)
	}
	return nil
}
