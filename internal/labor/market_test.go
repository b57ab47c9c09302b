package labor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/talgya/tradeworld/internal/market"
)

func TestStressRaisesUnemploymentAndCoolsWages(t *testing.T) {
	clock := market.NewManualClock(time.Date(2030, time.June, 1, 0, 0, 0, 0, time.UTC))
	m := NewMarket(DefaultConfig(), clock)
	assert.InDelta(t, 0.05, m.Unemployment(), 1e-12)

	m.ApplyStress(1)
	for i := 0; i < 120; i++ {
		clock.Advance(24 * time.Hour)
		m.Update(24 * time.Hour)
	}
	assert.InDelta(t, 0.20, m.Unemployment(), 0.02)
	assert.Less(t, m.WageIndex(), 100.0)
	assert.Less(t, m.CurrentPrice(), 100.0)

	m.ApplyStress(0)
	for i := 0; i < 150; i++ {
		clock.Advance(24 * time.Hour)
		m.Update(24 * time.Hour)
	}
	assert.InDelta(t, 0.05, m.Unemployment(), 0.01)

	s := m.LaborStats()
	assert.InDelta(t, s.Workforce*(1-s.Unemployment), s.Employed, 1e-6)
}

func TestStressClamped(t *testing.T) {
	m := NewMarket(DefaultConfig(), nil)
	m.ApplyStress(7)
	assert.Equal(t, 1.0, m.LaborStats().Stress)
	m.SetUnemployment(2)
	assert.Equal(t, maxUnemployment, m.Unemployment())
}
