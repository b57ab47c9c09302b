// Package economy provides the commodity catalog and the commodity market:
// an order book with spoilage, seasonality, storage pressure and shocks.
package economy

import "sort"

// CommodityID identifies a traded good.
type CommodityID string

const (
	Fuel        CommodityID = "fuel"
	Food        CommodityID = "food"
	Grain       CommodityID = "grain"
	Steel       CommodityID = "steel"
	Electronics CommodityID = "electronics"
	Textiles    CommodityID = "textiles"
	Chemicals   CommodityID = "chemicals"
	Lumber      CommodityID = "lumber"
)

// Commodity is the static description of one good.
type Commodity struct {
	ID                CommodityID `json:"id"`
	Name              string      `json:"name"`
	BasePrice         float64     `json:"base_price"`
	Elasticity        float64     `json:"elasticity"`
	SpoilageRate      float64     `json:"spoilage_rate"` // fraction lost per day, 0 for durables
	StorageCost       float64     `json:"storage_cost"`
	SeasonalAmplitude float64     `json:"seasonal_amplitude"`
	SeasonalPeakDay   int         `json:"seasonal_peak_day"` // day of year with the highest multiplier
	Inventory         float64     `json:"inventory"`         // warehoused stock at start
	CPIWeight         float64     `json:"cpi_weight"`
}

// catalog holds the default goods. Food peaks in late winter, opposite the
// autumn harvest; fuel peaks mid-winter; lumber with the spring building season.
var catalog = map[CommodityID]Commodity{
	Fuel:        {ID: Fuel, Name: "Bunker Fuel", BasePrice: 80, Elasticity: 0.6, StorageCost: 0.02, SeasonalAmplitude: 0.15, SeasonalPeakDay: 15, Inventory: 4000, CPIWeight: 0.25},
	Food:        {ID: Food, Name: "Perishable Food", BasePrice: 30, Elasticity: 0.8, SpoilageRate: 0.05, StorageCost: 0.05, SeasonalAmplitude: 0.25, SeasonalPeakDay: 80, Inventory: 1500, CPIWeight: 0.25},
	Grain:       {ID: Grain, Name: "Grain", BasePrice: 12, Elasticity: 1.0, SpoilageRate: 0.002, StorageCost: 0.03, SeasonalAmplitude: 0.2, SeasonalPeakDay: 90, Inventory: 8000, CPIWeight: 0.1},
	Steel:       {ID: Steel, Name: "Steel", BasePrice: 600, Elasticity: 1.2, StorageCost: 0.01, SeasonalAmplitude: 0.03, SeasonalPeakDay: 120, Inventory: 500, CPIWeight: 0.1},
	Electronics: {ID: Electronics, Name: "Electronics", BasePrice: 1200, Elasticity: 1.5, StorageCost: 0.02, SeasonalAmplitude: 0.1, SeasonalPeakDay: 330, Inventory: 300, CPIWeight: 0.1},
	Textiles:    {ID: Textiles, Name: "Textiles", BasePrice: 45, Elasticity: 1.1, StorageCost: 0.02, SeasonalAmplitude: 0.08, SeasonalPeakDay: 280, Inventory: 2000, CPIWeight: 0.1},
	Chemicals:   {ID: Chemicals, Name: "Chemicals", BasePrice: 220, Elasticity: 0.9, SpoilageRate: 0.001, StorageCost: 0.04, SeasonalAmplitude: 0.05, SeasonalPeakDay: 200, Inventory: 700, CPIWeight: 0.05},
	Lumber:      {ID: Lumber, Name: "Lumber", BasePrice: 95, Elasticity: 1.0, StorageCost: 0.02, SeasonalAmplitude: 0.12, SeasonalPeakDay: 120, Inventory: 1200, CPIWeight: 0.05},
}

// Catalog returns every default commodity sorted by id.
func Catalog() []Commodity {
	out := make([]Commodity, 0, len(catalog))
	for _, c := range catalog {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lookup returns the default definition of a commodity.
func Lookup(id CommodityID) (Commodity, bool) {
	c, ok := catalog[id]
	return c, ok
}

// CommodityFromString resolves a commodity id.
func CommodityFromString(s string) (CommodityID, bool) {
	id := CommodityID(s)
	_, ok := catalog[id]
	return id, ok
}
