package economy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tradeworld/internal/market"
)

var epoch = time.Date(2030, time.March, 1, 0, 0, 0, 0, time.UTC)

func testCommodity() Commodity {
	return Commodity{ID: "widget", Name: "Widget", BasePrice: 100, Elasticity: 1, StorageCost: 0.02}
}

func newTestMarket(def Commodity) (*Market, *market.ManualClock) {
	clock := market.NewManualClock(epoch)
	return NewMarket(def, clock, Config{Seed: 1}), clock
}

func TestCommodityCrossingOrdersClearAtMidpoint(t *testing.T) {
	m, clock := newTestMarket(testCommodity())
	_, err := m.AddBuyOrder(10, 105, "buyer")
	require.NoError(t, err)
	_, err = m.AddSellOrder(10, 95, "seller")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	trades := m.Update(time.Minute)

	require.Len(t, trades, 1)
	assert.InDelta(t, 100.0, trades[0].Price, 1e-9)
	assert.Empty(t, m.Orders(market.SideBuy))
	assert.Empty(t, m.Orders(market.SideSell))
	assert.InDelta(t, 1000.0, m.Volume24h(), 1e-9)
}

func TestDemandShockRaisesPriceUntilExpiry(t *testing.T) {
	m, clock := newTestMarket(testCommodity())
	baseline := m.DiscoverPrice()

	m.AddShock(ShockDemand, 1.3, 24*time.Hour, "test")
	clock.Advance(time.Hour)
	during := m.DiscoverPrice()
	assert.Greater(t, during, baseline)
	assert.InDelta(t, baseline*1.03, during, 1e-9)

	clock.Advance(24 * time.Hour)
	assert.InDelta(t, baseline, m.DiscoverPrice(), 1e-9)

	m.Update(time.Hour)
	assert.Empty(t, m.ActiveShocks())
}

func TestSupplyShockDividesFactor(t *testing.T) {
	m, _ := newTestMarket(testCommodity())
	m.AddShock(ShockSupply, 0.5, time.Hour, "")
	m.AddShock(ShockDemand, 1.2, time.Hour, "")
	assert.InDelta(t, 2.4, m.ShockFactor(), 1e-9)
}

func TestSpoilageDecaysRestingSells(t *testing.T) {
	def := testCommodity()
	def.SpoilageRate = 0.05
	m, clock := newTestMarket(def)
	id, err := m.AddSellOrder(100, 150, "farm")
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	m.Update(24 * time.Hour)
	o, ok := m.Order(id)
	require.True(t, ok)
	assert.InDelta(t, 95.0, o.Quantity, 1e-9)

	tiny, err := m.AddSellOrder(0.0105, 150, "farm")
	require.NoError(t, err)
	clock.Advance(24 * time.Hour)
	m.Update(24 * time.Hour)
	_, ok = m.Order(tiny)
	assert.False(t, ok, "residual below the minimum is dropped")
}

func TestDurablesDoNotSpoil(t *testing.T) {
	m, clock := newTestMarket(testCommodity())
	id, _ := m.AddSellOrder(50, 150, "mill")
	clock.Advance(72 * time.Hour)
	m.Update(72 * time.Hour)
	o, ok := m.Order(id)
	require.True(t, ok)
	assert.Equal(t, 50.0, o.Quantity)
}

func TestStoragePressureClamped(t *testing.T) {
	def := testCommodity()
	def.StorageCost = 0.5
	m, _ := newTestMarket(def)
	assert.Equal(t, 1.0, m.StoragePressure())

	m.AddInventory(1e9)
	assert.Equal(t, storageFloor, m.StoragePressure())

	m.AddInventory(-2e9)
	assert.Equal(t, 0.0, m.Inventory())
}

func TestExcessDemandRaisesDiscoveredPrice(t *testing.T) {
	m, _ := newTestMarket(testCommodity())
	neutral := m.DiscoverPrice()

	_, _ = m.AddBuyOrder(30, 90, "a")
	_, _ = m.AddSellOrder(10, 120, "b")
	assert.Greater(t, m.DiscoverPrice(), neutral)
}

func TestNoiseShrinksWithDepth(t *testing.T) {
	clock := market.NewManualClock(epoch)
	m := NewMarket(testCommodity(), clock, Config{Seed: 3, NoiseAmplitude: 0.05})
	var shallow float64
	for i := 0; i < 50 && shallow == 0; i++ {
		clock.Advance(5 * time.Hour)
		shallow = m.Noise()
	}
	require.NotZero(t, shallow)
	assert.LessOrEqual(t, abs(shallow), 0.05)

	_, _ = m.AddBuyOrder(1000, 50, "deep")
	deep := m.Noise()
	assert.Less(t, abs(deep), abs(shallow))
}

func TestSeasonalMultiplierPeaks(t *testing.T) {
	food, ok := Lookup(Food)
	require.True(t, ok)

	peak := time.Date(2031, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, food.SeasonalPeakDay-1)
	trough := peak.AddDate(0, 6, 0)
	assert.InDelta(t, 1+food.SeasonalAmplitude, food.SeasonalMultiplier(peak), 1e-9)
	assert.Less(t, food.SeasonalMultiplier(trough), 1.0)
}

func TestCatalogSortedAndWeighted(t *testing.T) {
	goods := Catalog()
	require.Len(t, goods, 8)
	total := 0.0
	for i, g := range goods {
		if i > 0 {
			assert.Less(t, string(goods[i-1].ID), string(g.ID))
		}
		assert.Positive(t, g.BasePrice)
		total += g.CPIWeight
	}
	assert.InDelta(t, 1.0, total, 1e-9)

	_, ok := CommodityFromString("unobtainium")
	assert.False(t, ok)
}

func TestPriceStaysPositiveUnderSupplyGlut(t *testing.T) {
	m, clock := newTestMarket(testCommodity())
	m.AddShock(ShockSupply, 100, 48*time.Hour, "glut")
	for i := 0; i < 200; i++ {
		m.ApplyExternalEffect(-0.5)
		clock.Advance(time.Hour)
		m.Update(time.Hour)
		require.Positive(t, m.CurrentPrice())
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
