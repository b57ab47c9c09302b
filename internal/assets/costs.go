package assets

// OperatingCosts is a monthly cost breakdown.
type OperatingCosts struct {
	Fuel        float64 `json:"fuel"`
	Crew        float64 `json:"crew"`
	Maintenance float64 `json:"maintenance"`
	Insurance   float64 `json:"insurance"`
	PortFees    float64 `json:"port_fees"`
	Total       float64 `json:"total"`
}

// Scalars are the market-wide inputs to operating costs and valuation.
type Scalars struct {
	FuelPrice        float64 `json:"fuel_price"`        // 1.0 = baseline fuel price
	MaintenanceIndex float64 `json:"maintenance_index"` // 1.0 = baseline
	InsuranceRate    float64 `json:"insurance_rate"`    // annual fraction of value
	Bubble           float64 `json:"bubble"`            // uniform valuation multiplier
}

// DefaultScalars are the baseline inputs.
func DefaultScalars() Scalars {
	return Scalars{FuelPrice: 1, MaintenanceIndex: 1, InsuranceRate: 0.015, Bubble: 1}
}

const (
	crewMonthlyShip     = 4_000.0
	crewMonthlyAircraft = 9_000.0
	crewMonthlyDriver   = 3_500.0
	warehouseStaffArea  = 500.0 // m² per worker
	warehouseStaffWage  = 3_000.0
	maintenanceRate     = 0.002 // of base value per month
)

// costsFor derives the monthly breakdown for one asset.
func costsFor(spec Spec, base, value float64, cond Condition, s Scalars) OperatingCosts {
	var c OperatingCosts
	switch sp := spec.(type) {
	case ShipSpec:
		c.Fuel = sp.Tonnage * 0.8 / nonZero(sp.FuelEfficiency) * s.FuelPrice
		c.Crew = float64(sp.Crew) * crewMonthlyShip
		c.PortFees = sp.Tonnage * 0.5
	case AircraftSpec:
		c.Fuel = sp.FuelBurn * 300 * 900 * s.FuelPrice
		c.Crew = float64(sp.Crew) * crewMonthlyAircraft
		c.PortFees = sp.MaxTakeoffWeight * 2 * 60
	case WarehouseSpec:
		energy := sp.FloorArea * 0.3
		if sp.ColdStorage {
			energy *= 2
		}
		c.Fuel = energy * s.FuelPrice
		staff := sp.FloorArea / warehouseStaffArea * warehouseStaffWage
		if sp.Automated {
			staff /= 2
		}
		c.Crew = staff
	case VehicleSpec:
		c.Fuel = sp.Payload * 20 * 30 / nonZero(sp.FuelEfficiency) * s.FuelPrice
		c.Crew = crewMonthlyDriver
	}
	c.Maintenance = base * maintenanceRate * s.MaintenanceIndex * (2 - cond.Multiplier())
	c.Insurance = value * s.InsuranceRate / 12
	c.Total = c.Fuel + c.Crew + c.Maintenance + c.Insurance + c.PortFees
	return c
}
