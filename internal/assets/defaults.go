package assets

import "fmt"

// Seed registers the starting fleet and facilities.
func Seed(m *Market) error {
	fleet := []struct {
		name, owner string
		spec        Spec
		age         float64
	}{
		{"Northern Star", "coastal-shipping", ShipSpec{Tonnage: 45_000, Speed: 14, FuelEfficiency: 1.0, Crew: 22}, 8},
		{"Meridian", "coastal-shipping", ShipSpec{Tonnage: 80_000, Speed: 16, FuelEfficiency: 1.2, Crew: 25}, 24},
		{"Swift Cargo 1", "airx", AircraftSpec{MaxTakeoffWeight: 350, CruiseSpeed: 480, FuelBurn: 7, Crew: 3}, 5},
		{"Harbor DC", "port-authority", WarehouseSpec{FloorArea: 20_000, LocationFactor: 1.3, Automated: true}, 3},
		{"Cold Store East", "port-authority", WarehouseSpec{FloorArea: 8_000, LocationFactor: 0.9, ColdStorage: true}, 12},
		{"Hauler 7", "frontier-freight", VehicleSpec{Payload: 25, FuelEfficiency: 3}, 2},
	}
	for _, f := range fleet {
		if _, err := m.Register(f.name, f.owner, f.spec, f.age); err != nil {
			return fmt.Errorf("seed asset %s: %w", f.name, err)
		}
	}
	return nil
}
