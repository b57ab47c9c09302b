package capital

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tradeworld/internal/entropy"
	"github.com/talgya/tradeworld/internal/ledger"
	"github.com/talgya/tradeworld/internal/market"
)

var epoch = time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)

func quietConfig() Config {
	return Config{BaseRate: 0.03, LongRunRate: 0.03, MarketRiskPremium: 0.06}
}

func newTestMarket(cfg Config) (*Market, *market.ManualClock) {
	clock := market.NewManualClock(epoch)
	return NewMarket(cfg, clock, entropy.New(11), ledger.New(100)), clock
}

func TestRatingOrdering(t *testing.T) {
	assert.Less(t, AAA.RiskPremium(), BB.RiskPremium())
	assert.Less(t, BB.RiskPremium(), CCC.RiskPremium())

	all := Ratings()
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].RiskPremium(), all[i].RiskPremium(), all[i].String())
		assert.Less(t, all[i-1].DefaultProbability(), all[i].DefaultProbability(), all[i].String())
	}

	r, err := ParseRating("BBB")
	require.NoError(t, err)
	assert.Equal(t, BBB, r)
	_, err = ParseRating("ZZZ")
	assert.Error(t, err)
}

func TestBondPricedAsDiscountedCashFlows(t *testing.T) {
	m, _ := newTestMarket(quietConfig())
	b, err := m.IssueBond("coastal", 1000, 0.05, BBB, 5)
	require.NoError(t, err)

	assert.InDelta(t, 0.05+BBB.RiskPremium(), b.EffectiveCoupon, 1e-12)

	coupon := 1000 * b.EffectiveCoupon
	want := 1000 / math.Pow(1.03, 5)
	for k := 1; k <= 5; k++ {
		want += coupon / math.Pow(1.03, float64(k))
	}
	assert.InDelta(t, want, b.CurrentPrice, 1e-6)
}

func TestBondPaysAnnualCouponsAndMatures(t *testing.T) {
	m, clock := newTestMarket(quietConfig())
	b, err := m.IssueBond("port", 1000, 0.04, AAA, 2)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		clock.Set(epoch.AddDate(i+1, 0, 1))
		m.Update(365 * 24 * time.Hour)
	}
	got, err := m.Bond(b.ID)
	require.NoError(t, err)
	assert.True(t, got.Matured)
	assert.Equal(t, 1000.0, got.CurrentPrice)
	assert.Equal(t, "82.00", m.Ledger().Total(ledger.KindCoupon).StringFixed(2))
}

func TestLoanAmortisesToPaidOff(t *testing.T) {
	m, clock := newTestMarket(quietConfig())
	l, err := m.CreateLoan("carrier", 1200, AAA, 12)
	require.NoError(t, err)
	assert.InDelta(t, MonthlyPayment(1200, l.Rate, 12), l.MonthlyPayment, 1e-9)

	for i := 1; i <= 12; i++ {
		clock.Set(epoch.AddDate(0, i, 0))
		m.Update(30 * 24 * time.Hour)
	}
	got, err := m.Loan(l.ID)
	require.NoError(t, err)
	assert.Equal(t, LoanPaidOff, got.Status)
	assert.Zero(t, got.RemainingPrincipal)
	assert.InDelta(t, 1200, m.Ledger().Total(ledger.KindLoanPrincipal).InexactFloat64(), 0.05)
	assert.Positive(t, m.Ledger().Total(ledger.KindLoanInterest).InexactFloat64())
}

func TestLoanDefaultIsAStateTransition(t *testing.T) {
	cfg := quietConfig()
	cfg.DefaultScale = 1e6
	m, clock := newTestMarket(cfg)
	l, err := m.CreateLoan("wildcat", 1000, CCC, 24)
	require.NoError(t, err)

	clock.Set(epoch.AddDate(0, 1, 0))
	m.Update(30 * 24 * time.Hour)
	got, err := m.Loan(l.ID)
	require.NoError(t, err)
	assert.Equal(t, LoanDefaulted, got.Status)

	_, err = m.Restructure(l.ID, 12)
	assert.Error(t, err)
}

func TestRestructureReamortises(t *testing.T) {
	m, _ := newTestMarket(quietConfig())
	l, err := m.CreateLoan("carrier", 10000, BB, 12)
	require.NoError(t, err)

	got, err := m.Restructure(l.ID, 36)
	require.NoError(t, err)
	assert.Equal(t, LoanRestructured, got.Status)
	assert.Equal(t, 36, got.RemainingTerm)
	assert.Less(t, got.MonthlyPayment, l.MonthlyPayment)

	_, err = m.Restructure("missing", 12)
	assert.ErrorIs(t, err, ErrUnknownInstrument)
}

func TestEquityDriftAndDividends(t *testing.T) {
	m, clock := newTestMarket(quietConfig())
	e, err := m.IssueEquity("MRSK", 1000, 100, 1, 0.04)
	require.NoError(t, err)

	clock.Advance(365 * 24 * time.Hour)
	m.Update(365 * 24 * time.Hour)

	got, err := m.Equity(e.ID)
	require.NoError(t, err)
	assert.InDelta(t, 100*(1+0.03+0.06), got.Price, 1e-6)
	assert.InDelta(t, 109, m.EquityIndex(), 1e-6)
	assert.Len(t, m.Ledger().Recent(0), 4, "quarterly dividends")
	assert.InDelta(t, 4*1000*109*0.01, m.Ledger().Total(ledger.KindDividend).InexactFloat64(), 0.01)
}

func TestMarketCrashIsBetaWeighted(t *testing.T) {
	m, _ := newTestMarket(quietConfig())
	hi, _ := m.IssueEquity("AIRX", 100, 100, 1.5, 0)
	lo, _ := m.IssueEquity("PORT", 100, 100, 0.5, 0)

	require.NoError(t, m.ApplyEvent(MarketCrash{Drop: 0.2, VolatilityMultiplier: 2}))

	h, _ := m.Equity(hi.ID)
	l, _ := m.Equity(lo.ID)
	assert.InDelta(t, 70, h.Price, 1e-9)
	assert.InDelta(t, 90, l.Price, 1e-9)
	assert.Less(t, m.CurrentPrice(), 100.0)
}

func TestCreditCrunchKeepsRatingOrder(t *testing.T) {
	m, _ := newTestMarket(quietConfig())
	require.NoError(t, m.ApplyEvent(CreditCrunch{RateIncrease: 0.01, PremiumIncrease: 0.02}))
	assert.InDelta(t, 0.04, m.BaseRate(), 1e-12)

	prime, _ := m.CreateLoan("prime", 1000, AAA, 12)
	junk, _ := m.CreateLoan("junk", 1000, CCC, 12)
	assert.InDelta(t, 0.04+AAA.RiskPremium()+0.02, prime.Rate, 1e-12)
	assert.Less(t, prime.Rate, junk.Rate)
}

func TestBaseRateClamped(t *testing.T) {
	m, _ := newTestMarket(quietConfig())
	require.NoError(t, m.ApplyEvent(InterestRateChange{Rate: 0.5}))
	assert.Equal(t, maxBaseRate, m.BaseRate())
	require.NoError(t, m.ApplyEvent(QuantitativeEasing{RateDecrease: 1}))
	assert.Equal(t, minBaseRate, m.BaseRate())
}

func TestBaseRateMeanReverts(t *testing.T) {
	cfg := quietConfig()
	cfg.BaseRate = 0.12
	cfg.MeanReversion = 2
	m, clock := newTestMarket(cfg)
	for i := 0; i < 10; i++ {
		clock.Advance(30 * 24 * time.Hour)
		m.Update(30 * 24 * time.Hour)
	}
	assert.Less(t, m.BaseRate(), 0.12)
	assert.Greater(t, m.BaseRate(), 0.03)
}

func TestRealisedVolatility(t *testing.T) {
	cfg := quietConfig()
	cfg.EquityVolatility = 0.3
	m, clock := newTestMarket(cfg)
	_, _ = m.IssueEquity("RAIL", 1000, 50, 1, 0)
	for i := 0; i < 40; i++ {
		clock.Advance(24 * time.Hour)
		m.Update(24 * time.Hour)
	}
	assert.Positive(t, m.Volatility())
	assert.Len(t, m.VolatilityHistory(), 40)

	stats := m.CapitalStats()
	assert.Equal(t, 1, stats.Equities)
	assert.Positive(t, stats.EquityIndex)
}

func TestSeedPopulatesInstruments(t *testing.T) {
	m, _ := newTestMarket(quietConfig())
	require.NoError(t, Seed(m))
	stats := m.CapitalStats()
	assert.Equal(t, 4, stats.Equities)
	assert.Equal(t, 4, stats.Bonds)
	assert.Equal(t, 2, stats.LoansByStatus[LoanActive])
	assert.InDelta(t, 6.2e6, stats.OutstandingPrincipal, 1e-6)
}

func TestIssueRejectsNonFiniteInputs(t *testing.T) {
	m, _ := newTestMarket(quietConfig())
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := m.IssueEquity("NAN", 1000, v, 1, 0.02)
		assert.ErrorIs(t, err, market.ErrInvalidOrder)
		_, err = m.IssueEquity("NAN", v, 10, 1, 0.02)
		assert.ErrorIs(t, err, market.ErrInvalidOrder)
		_, err = m.IssueEquity("NAN", 1000, 10, 1, v)
		assert.ErrorIs(t, err, market.ErrInvalidOrder)
		_, err = m.IssueBond("port", v, 0.04, AAA, 2)
		assert.ErrorIs(t, err, market.ErrInvalidOrder)
		_, err = m.CreateLoan("shipper", v, AAA, 12)
		assert.ErrorIs(t, err, market.ErrInvalidOrder)
	}
	assert.Empty(t, m.Equities())
	assert.Empty(t, m.Bonds())
	assert.Empty(t, m.Loans())
}

func TestShiftSchedulesAvoidsCatchUp(t *testing.T) {
	m, clock := newTestMarket(quietConfig())
	b, err := m.IssueBond("port", 1000, 0.04, AAA, 2)
	require.NoError(t, err)
	e, err := m.IssueEquity("SHIP", 1000, 10, 1, 0.02)
	require.NoError(t, err)
	l, err := m.CreateLoan("shipper", 1200, AAA, 12)
	require.NoError(t, err)

	shift := 3 * 365 * 24 * time.Hour
	m.ShiftSchedules(shift)
	clock.Set(epoch.Add(shift + time.Minute))
	m.Update(time.Minute)
	assert.Empty(t, m.Ledger().Recent(0))

	gotB, _ := m.Bond(b.ID)
	assert.False(t, gotB.Matured)
	assert.Equal(t, b.NextCoupon.Add(shift), gotB.NextCoupon)
	gotE, _ := m.Equity(e.ID)
	assert.Equal(t, e.NextDividend.Add(shift), gotE.NextDividend)
	gotL, _ := m.Loan(l.ID)
	assert.Equal(t, l.NextPayment.Add(shift), gotL.NextPayment)
	assert.Equal(t, 12, gotL.RemainingTerm)
}

func TestRestoreRebasesIndexAndRiskReadings(t *testing.T) {
	m, clock := newTestMarket(quietConfig())
	_, err := m.IssueEquity("SHIP", 1000, 10, 1.2, 0)
	require.NoError(t, err)
	_, err = m.IssueEquity("RAIL", 500, 40, 0.8, 0)
	require.NoError(t, err)

	m.Restore(65.61, 0.42, 0.015)

	stats := m.CapitalStats()
	assert.InDelta(t, 65.61, stats.EquityIndex, 1e-9)
	assert.InDelta(t, 0.42, stats.Volatility, 1e-12)
	assert.InDelta(t, 0.015, stats.PremiumAddOn, 1e-12)

	// One quiet step keeps the restored readings instead of snapping back.
	clock.Advance(time.Minute)
	m.Update(time.Minute)
	assert.InDelta(t, 65.61, m.EquityIndex(), 0.01)
	assert.InDelta(t, 0.42, m.Volatility(), 1e-12)
}
