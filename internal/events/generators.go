package events

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/tradeworld/internal/assets"
	"github.com/talgya/tradeworld/internal/capital"
	"github.com/talgya/tradeworld/internal/economy"
	"github.com/talgya/tradeworld/internal/entropy"
)

// baseDaily is each category's chance of firing per simulated day.
var baseDaily = map[Category]float64{
	MarketShock:         0.02,
	SupplyDisruption:    0.05,
	DemandShift:         0.08,
	RegulatoryChange:    0.03,
	TechnologicalChange: 0.02,
	NaturalDisaster:     0.01,
	Geopolitical:        0.02,
	Seasonal:            0.10,
	Cyclical:            0.03,
}

// cycleBias scales category probabilities per phase.
var cycleBias = map[Cycle]map[Category]float64{
	Recession: {
		MarketShock:      1.5,
		RegulatoryChange: 1.3,
		Cyclical:         1.5,
	},
	Contraction: {
		MarketShock:      1.2,
		RegulatoryChange: 1.1,
	},
	Recovery: {
		DemandShift: 1.1,
	},
	Expansion: {
		TechnologicalChange: 1.5,
		DemandShift:         1.3,
	},
}

// BaseProbability is the category's unadjusted daily probability.
func BaseProbability(c Category) float64 { return baseDaily[c] }

// dailyProbability adjusts the base rate for stress and cycle. Stress
// amplifies market shocks and supply disruptions up to threefold.
func dailyProbability(c Category, stress float64, cycle Cycle) float64 {
	p := baseDaily[c]
	if c == MarketShock || c == SupplyDisruption {
		p *= 1 + 2*stress
	}
	if bias, ok := cycleBias[cycle][c]; ok {
		p *= bias
	}
	return math.Min(p, 1)
}

// windowProbability turns a daily probability into one for dt.
func windowProbability(daily float64, dt time.Duration) float64 {
	days := dt.Hours() / 24
	if days <= 0 || daily <= 0 {
		return 0
	}
	return 1 - math.Pow(1-daily, days)
}

// rollSeverity draws a severity; higher stress fattens the tail.
func rollSeverity(rng *entropy.Source, stress float64) Severity {
	r := rng.Float64()
	tail := 0.05 + 0.1*stress
	switch {
	case r < tail:
		return Critical
	case r < tail+0.15:
		return Major
	case r < tail+0.45:
		return Moderate
	default:
		return Minor
	}
}

type generator func(rng *entropy.Source, sev Severity, now time.Time, cycle Cycle) Event

var generators = map[Category]generator{
	MarketShock:         genMarketShock,
	SupplyDisruption:    genSupplyDisruption,
	DemandShift:         genDemandShift,
	RegulatoryChange:    genRegulatory,
	TechnologicalChange: genTechnology,
	NaturalDisaster:     genDisaster,
	Geopolitical:        genGeopolitical,
	Seasonal:            genSeasonal,
	Cyclical:            genCyclical,
}

func newEvent(name string, cat Category, sev Severity, pol Polarity, now time.Time, d time.Duration, p Payload, markets ...string) Event {
	if d <= 0 {
		d = time.Hour
	}
	mag := make(map[string]float64, len(markets))
	for _, m := range markets {
		mag[m] = sev.scale()
	}
	return Event{
		ID:         uuid.NewString(),
		Name:       name,
		Category:   cat,
		Severity:   sev,
		Polarity:   pol,
		Markets:    markets,
		Duration:   d,
		Magnitudes: mag,
		Payload:    p,
		PayloadKey: p.Kind(),
		CreatedAt:  now,
	}
}

func days(n float64) time.Duration { return time.Duration(n * 24 * float64(time.Hour)) }

func pick(rng *entropy.Source, ids []economy.CommodityID) string {
	return string(ids[rng.Intn(len(ids))])
}

var allCommodities = []economy.CommodityID{
	economy.Fuel, economy.Food, economy.Grain, economy.Steel,
	economy.Electronics, economy.Textiles, economy.Chemicals, economy.Lumber,
}

func genMarketShock(rng *entropy.Source, sev Severity, now time.Time, _ Cycle) Event {
	drop := 0.05 * sev.scale()
	p := ShockPayload{Drop: drop, VolatilityMultiplier: 1 + 4*drop}
	ev := newEvent("Equity Market Selloff", MarketShock, sev, Negative, now, days(1+2*rng.Float64()), p, capital.MarketID)
	ev.Magnitudes[capital.MarketID] = -drop
	return ev
}

func genSupplyDisruption(rng *entropy.Source, sev Severity, now time.Time, _ Cycle) Event {
	c := pick(rng, allCommodities)
	mult := math.Max(0.3, 1-0.12*sev.scale())
	ev := newEvent("Supply Disruption: "+c, SupplyDisruption, sev, Negative, now, days(2+5*rng.Float64()), SupplyPayload{Commodity: c, Multiplier: mult}, c)
	ev.Magnitudes[c] = mult - 1
	return ev
}

func genDemandShift(rng *entropy.Source, sev Severity, now time.Time, _ Cycle) Event {
	c := pick(rng, allCommodities)
	delta := 0.1 * sev.scale()
	name, pol, mult := "Demand Surge: "+c, Positive, 1+delta
	if rng.Chance(0.4) {
		name, pol, mult = "Demand Slump: "+c, Negative, math.Max(0.3, 1-delta)
	}
	ev := newEvent(name, DemandShift, sev, pol, now, days(3+7*rng.Float64()), DemandPayload{Commodity: c, Multiplier: mult}, c)
	ev.Magnitudes[c] = mult - 1
	return ev
}

func genRegulatory(rng *entropy.Source, sev Severity, now time.Time, _ Cycle) Event {
	base := assets.DefaultScalars().InsuranceRate
	p := RegulationPayload{
		InsuranceRate: base * (1 + 0.2*sev.scale()),
		RateChange:    0.0025 * sev.scale(),
	}
	return newEvent("Regulatory Tightening", RegulatoryChange, sev, Negative, now, days(30), p, assets.MarketID, capital.MarketID)
}

func genTechnology(rng *entropy.Source, sev Severity, now time.Time, _ Cycle) Event {
	mult := math.Max(0.5, 1-0.05*sev.scale())
	ev := newEvent("Logistics Technology Breakthrough", TechnologicalChange, sev, Positive, now, days(60), TechnologyPayload{MaintenanceMultiplier: mult}, assets.MarketID)
	ev.Magnitudes[assets.MarketID] = mult - 1
	return ev
}

func genDisaster(rng *entropy.Source, sev Severity, now time.Time, _ Cycle) Event {
	c := pick(rng, []economy.CommodityID{economy.Food, economy.Grain, economy.Lumber})
	p := DisasterPayload{
		Commodity:         c,
		SupplyMultiplier:  math.Max(0.2, 1-0.15*sev.scale()),
		DamageProbability: math.Min(1, 0.05*sev.scale()),
	}
	return newEvent("Natural Disaster", NaturalDisaster, sev, Negative, now, days(5+10*rng.Float64()), p, c, assets.MarketID)
}

func genGeopolitical(rng *entropy.Source, sev Severity, now time.Time, _ Cycle) Event {
	p := GeopoliticalPayload{
		FuelMultiplier:   1 + 0.1*sev.scale(),
		SupplyMultiplier: math.Max(0.3, 1-0.08*sev.scale()),
	}
	return newEvent("Geopolitical Tension", Geopolitical, sev, Negative, now, days(7+14*rng.Float64()), p, string(economy.Fuel), assets.MarketID)
}

func genSeasonal(rng *entropy.Source, sev Severity, now time.Time, _ Cycle) Event {
	if sev > Moderate {
		sev = Moderate
	}
	var c economy.CommodityID
	switch economy.SeasonName(now) {
	case economy.SeasonWinter:
		c = economy.Fuel
	case economy.SeasonSpring:
		c = economy.Lumber
	case economy.SeasonSummer:
		c = economy.Textiles
	default:
		c = economy.Grain
	}
	mult := 1 + 0.08*sev.scale()
	return newEvent("Seasonal Demand: "+string(c), Seasonal, sev, Positive, now, days(14), DemandPayload{Commodity: string(c), Multiplier: mult}, string(c))
}

// emergencyRate is the base rate a severe recession cuts to outright.
const emergencyRate = 0.005

func genCyclical(rng *entropy.Source, sev Severity, now time.Time, cycle Cycle) Event {
	switch {
	case cycle == Recession && sev.Severe():
		return newEvent("Emergency Rate Cut", Cyclical, sev, Positive, now, days(90),
			RatePayload{Rate: emergencyRate}, capital.MarketID)
	case cycle == Recession || cycle == Contraction:
		return newEvent("Quantitative Easing", Cyclical, sev, Positive, now, days(90),
			EasingPayload{RateDecrease: 0.0025 * sev.scale()}, capital.MarketID)
	case cycle == Recovery:
		return newEvent("Asset Rally", Cyclical, sev, Positive, now, days(30),
			BubblePayload{Multiplier: 1 + 0.03*sev.scale()}, assets.MarketID)
	default:
		return newEvent("Monetary Tightening", Cyclical, sev, Negative, now, days(90),
			CreditPayload{RateIncrease: 0.0025 * sev.scale()}, capital.MarketID)
	}
}

// cascadeFor returns the follow-up a severe event executed at at triggers,
// and its delay. Cascades never cascade again.
func cascadeFor(parent Event, at time.Time) (Event, time.Duration, bool) {
	if parent.IsCascade() || !parent.Severity.Severe() {
		return Event{}, 0, false
	}
	var ev Event
	var delay time.Duration
	switch parent.Category {
	case MarketShock:
		delay = 2 * time.Hour
		ev = newEvent("Credit Market Freeze", MarketShock, parent.Severity, Negative, at, days(3),
			CreditPayload{RateIncrease: 0.005, PremiumIncrease: 0.01 * parent.Severity.scale()}, capital.MarketID)
	case NaturalDisaster:
		delay = 6 * time.Hour
		c := string(economy.Grain)
		if p, ok := parent.Payload.(DisasterPayload); ok {
			c = p.Commodity
		}
		ev = newEvent("Supply Chain Disruption", SupplyDisruption, parent.Severity, Negative, at, days(7),
			SupplyPayload{Commodity: c, Multiplier: 0.8}, c)
	case Geopolitical:
		delay = 24 * time.Hour
		ev = newEvent("Trade Route Restrictions", Geopolitical, parent.Severity, Negative, at, days(14),
			GeopoliticalPayload{FuelMultiplier: 1.1, SupplyMultiplier: 0.9}, string(economy.Fuel), assets.MarketID)
	default:
		return Event{}, 0, false
	}
	ev.ParentID = parent.ID
	return ev, delay, true
}
