// Package assets implements the physical asset market: ships, aircraft,
// warehouses and vehicles that depreciate, wear out and can be leased.
package assets

import (
	"fmt"
	"math"
)

// Class is the asset family.
type Class string

const (
	ClassShip      Class = "ship"
	ClassAircraft  Class = "aircraft"
	ClassWarehouse Class = "warehouse"
	ClassVehicle   Class = "vehicle"
)

// Spec describes an asset's physical attributes. The variants are closed:
// ShipSpec, AircraftSpec, WarehouseSpec and VehicleSpec.
type Spec interface {
	Class() Class
	baseValue() float64
}

// ShipSpec: tonnage in dwt, speed in knots, efficiency 1.0 = fleet average.
type ShipSpec struct {
	Tonnage        float64 `json:"tonnage"`
	Speed          float64 `json:"speed"`
	FuelEfficiency float64 `json:"fuel_efficiency"`
	Crew           int     `json:"crew"`
}

// AircraftSpec: max takeoff weight in tonnes, cruise speed in knots, fuel
// burn in tonnes per block hour.
type AircraftSpec struct {
	MaxTakeoffWeight float64 `json:"max_takeoff_weight"`
	CruiseSpeed      float64 `json:"cruise_speed"`
	FuelBurn         float64 `json:"fuel_burn"`
	Crew             int     `json:"crew"`
}

// WarehouseSpec: floor area in m², location factor 1.0 = average site.
type WarehouseSpec struct {
	FloorArea      float64 `json:"floor_area"`
	LocationFactor float64 `json:"location_factor"`
	Automated      bool    `json:"automated"`
	ColdStorage    bool    `json:"cold_storage"`
}

// VehicleSpec: payload in tonnes, efficiency in km per litre.
type VehicleSpec struct {
	Payload        float64 `json:"payload"`
	FuelEfficiency float64 `json:"fuel_efficiency"`
}

func (ShipSpec) Class() Class      { return ClassShip }
func (AircraftSpec) Class() Class  { return ClassAircraft }
func (WarehouseSpec) Class() Class { return ClassWarehouse }
func (VehicleSpec) Class() Class   { return ClassVehicle }

func (s ShipSpec) baseValue() float64 {
	return (s.Tonnage*900 + s.Speed*50_000) * nonZero(s.FuelEfficiency)
}

func (s AircraftSpec) baseValue() float64 {
	return s.MaxTakeoffWeight*300_000 + s.CruiseSpeed*20_000
}

func (s WarehouseSpec) baseValue() float64 {
	v := s.FloorArea * 900 * nonZero(s.LocationFactor)
	if s.Automated {
		v += 2_000_000
	}
	if s.ColdStorage {
		v += 1_500_000
	}
	return v
}

func (s VehicleSpec) baseValue() float64 {
	return s.Payload*8_000 + 30_000
}

func nonZero(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return v
}

// depreciation is the class-specific continuous annual rate.
type depreciation struct {
	rate      float64
	threshold float64 // years after which the rate doubles, 0 for never
}

var depreciationTable = map[Class]depreciation{
	ClassShip:      {rate: 0.05, threshold: 20},
	ClassAircraft:  {rate: 0.07},
	ClassWarehouse: {rate: 0.02},
	ClassVehicle:   {rate: 0.15},
}

// DepreciationFactor is exp(−rate·age) for the class; ships depreciate at
// twice the rate for every year past their threshold age.
func DepreciationFactor(class Class, ageYears float64) float64 {
	if ageYears <= 0 {
		return 1
	}
	d := depreciationTable[class]
	if d.threshold > 0 && ageYears > d.threshold {
		return math.Exp(-d.rate*d.threshold - 2*d.rate*(ageYears-d.threshold))
	}
	return math.Exp(-d.rate * ageYears)
}

// Condition is an ordinal wear level; it only worsens without repair.
type Condition int

const (
	Excellent Condition = iota
	Good
	Fair
	Poor
	NeedsRepair
)

var conditionMultipliers = [...]float64{1.0, 0.85, 0.7, 0.5, 0.3}

var conditionNames = [...]string{"excellent", "good", "fair", "poor", "needs_repair"}

// Multiplier is the valuation multiplier for the condition.
func (c Condition) Multiplier() float64 {
	if c < Excellent || c > NeedsRepair {
		return conditionMultipliers[NeedsRepair]
	}
	return conditionMultipliers[c]
}

// Worse returns the next condition down, saturating at NeedsRepair.
func (c Condition) Worse() Condition {
	if c >= NeedsRepair {
		return NeedsRepair
	}
	return c + 1
}

func (c Condition) String() string {
	if c < Excellent || c > NeedsRepair {
		return fmt.Sprintf("Condition(%d)", int(c))
	}
	return conditionNames[c]
}

// MarshalText renders the condition name in JSON.
func (c Condition) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText parses a condition name.
func (c *Condition) UnmarshalText(b []byte) error {
	for i, n := range conditionNames {
		if n == string(b) {
			*c = Condition(i)
			return nil
		}
	}
	return fmt.Errorf("unknown condition %q", b)
}
