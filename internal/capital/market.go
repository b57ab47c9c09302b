package capital

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/tradeworld/internal/entropy"
	"github.com/talgya/tradeworld/internal/ledger"
	"github.com/talgya/tradeworld/internal/market"
)

// MarketID is the capital market's id in the interconnection graph.
const MarketID = "capital"

const (
	minBaseRate       = 0.001
	maxBaseRate       = 0.20
	dividendPeriod    = 91 * 24 * time.Hour
	tradingDays       = 252.0
	returnWindow      = 30
	volHistorySize    = 100
	volShockDecay     = 0.9 // per simulated day
	premiumAddOnDecay = 0.98
	indexBase         = 100.0
)

// ErrUnknownInstrument is returned for ids the market never issued.
var ErrUnknownInstrument = errors.New("capital: unknown instrument")

// Config holds the rate and equity model parameters.
type Config struct {
	BaseRate          float64 // starting annual base rate
	LongRunRate       float64 // mean-reversion target
	MeanReversion     float64 // per year
	RateVolatility    float64 // annual
	MarketRiskPremium float64
	EquityVolatility  float64 // annual
	// DefaultScale multiplies rating default probabilities. Zero disables defaults.
	DefaultScale float64
}

// DefaultConfig returns production parameters.
func DefaultConfig() Config {
	return Config{
		BaseRate:          0.03,
		LongRunRate:       0.035,
		MeanReversion:     0.5,
		RateVolatility:    0.01,
		MarketRiskPremium: 0.06,
		EquityVolatility:  0.2,
		DefaultScale:      1,
	}
}

// Market is the capital market. Its order book trades index units; the
// discovered price is the equity index level.
type Market struct {
	*market.Book

	cfg    Config
	rng    *entropy.Source
	ledger *ledger.Ledger

	mu            sync.RWMutex
	baseRate      float64
	premiumAddOn  float64
	volMultiplier float64
	bonds         map[string]*Bond
	equities      map[string]*Equity
	loans         map[string]*Loan
	lastIndex     float64
	returns       []float64
	volatility    float64
	volHistory    []float64
	baselineYield float64
}

// NewMarket creates an empty capital market.
func NewMarket(cfg Config, clock market.Clock, rng *entropy.Source, book *ledger.Ledger) *Market {
	if book == nil {
		book = ledger.New(0)
	}
	if rng == nil {
		rng = entropy.New(0)
	}
	m := &Market{
		Book:          market.NewBook(MarketID, indexBase, clock),
		cfg:           cfg,
		rng:           rng,
		ledger:        book,
		baseRate:      market.Clamp(cfg.BaseRate, minBaseRate, maxBaseRate),
		volMultiplier: 1,
		bonds:         make(map[string]*Bond),
		equities:      make(map[string]*Equity),
		loans:         make(map[string]*Loan),
		lastIndex:     indexBase,
	}
	m.Book.SetDiscoverer(m.EquityIndex)
	return m
}

// Ledger returns the ledger cash flows are booked to.
func (m *Market) Ledger() *ledger.Ledger { return m.ledger }

// BaseRate returns the current annual base rate.
func (m *Market) BaseRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.baseRate
}

// SetBaseRate sets the base rate directly, clamped to [0.1%, 20%].
func (m *Market) SetBaseRate(r float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseRate = market.Clamp(r, minBaseRate, maxBaseRate)
	return m.baseRate
}

// PremiumAddOn is the market-wide spread added by credit crunches.
func (m *Market) PremiumAddOn() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.premiumAddOn
}

func (m *Market) spreadLocked(r Rating) float64 {
	return r.RiskPremium() + m.premiumAddOn
}

// IssueBond issues a bond maturing after years. Its effective coupon is the
// coupon plus the issuer's rating premium.
func (m *Market) IssueBond(issuer string, principal, couponRate float64, rating Rating, years float64) (Bond, error) {
	if !finite(principal, couponRate, years) || principal <= 0 || couponRate < 0 || years <= 0 {
		return Bond{}, fmt.Errorf("issue bond for %s: principal %.2f, coupon %.4f, years %.2f: %w",
			issuer, principal, couponRate, years, market.ErrInvalidOrder)
	}
	now := m.Clock().Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &Bond{
		ID:              uuid.NewString(),
		Issuer:          issuer,
		Principal:       principal,
		CouponRate:      couponRate,
		EffectiveCoupon: couponRate + m.spreadLocked(rating),
		Rating:          rating,
		Issued:          now,
		Maturity:        now.Add(time.Duration(years * hoursPerYear * float64(time.Hour))),
		NextCoupon:      now.AddDate(1, 0, 0),
	}
	b.CurrentPrice = BondPrice(b.Principal, b.EffectiveCoupon, m.baseRate, b.YearsToMaturity(now))
	m.bonds[b.ID] = b
	return *b, nil
}

// IssueEquity lists a share line.
func (m *Market) IssueEquity(symbol string, shares, price, beta, dividendYield float64) (Equity, error) {
	if !finite(shares, price, beta, dividendYield) || shares <= 0 || price <= 0 {
		return Equity{}, fmt.Errorf("issue equity %s: %w", symbol, market.ErrInvalidOrder)
	}
	now := m.Clock().Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &Equity{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		Shares:        shares,
		Price:         price,
		InitialPrice:  price,
		Beta:          beta,
		DividendYield: dividendYield,
		NextDividend:  now.Add(dividendPeriod),
	}
	m.equities[e.ID] = e
	return *e, nil
}

// CreateLoan originates an amortising loan at base rate plus the
// borrower's rating premium.
func (m *Market) CreateLoan(borrower string, principal float64, rating Rating, termMonths int) (Loan, error) {
	if !finite(principal) || principal <= 0 || termMonths <= 0 {
		return Loan{}, fmt.Errorf("create loan for %s: %w", borrower, market.ErrInvalidOrder)
	}
	now := m.Clock().Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	rate := m.baseRate + m.spreadLocked(rating)
	l := &Loan{
		ID:                 uuid.NewString(),
		Borrower:           borrower,
		Principal:          principal,
		Rate:               rate,
		Rating:             rating,
		TermMonths:         termMonths,
		RemainingPrincipal: principal,
		RemainingTerm:      termMonths,
		MonthlyPayment:     MonthlyPayment(principal, rate, termMonths),
		Status:             LoanActive,
		NextPayment:        now.AddDate(0, 1, 0),
	}
	m.loans[l.ID] = l
	return *l, nil
}

// ShiftSchedules moves every instrument date by d. Restoring a saved clock
// uses it so payments stay due relative to the restored time.
func (m *Market) ShiftSchedules(d time.Duration) {
	if d == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bonds {
		b.Issued = b.Issued.Add(d)
		b.Maturity = b.Maturity.Add(d)
		b.NextCoupon = b.NextCoupon.Add(d)
	}
	for _, e := range m.equities {
		e.NextDividend = e.NextDividend.Add(d)
	}
	for _, l := range m.loans {
		l.NextPayment = l.NextPayment.Add(d)
	}
}

// Restore brings a freshly seeded market back to a saved reading: equity
// prices are scaled so the index equals equityIndex, and the realised
// volatility and credit-spread add-on are set directly.
func (m *Market) Restore(equityIndex, volatility, premiumAddOn float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.equityIndexLocked(); equityIndex > 0 && cur > 0 && !math.IsInf(equityIndex, 0) {
		f := equityIndex / cur
		for _, e := range m.equities {
			e.Price = market.ClampPrice(e.Price * f)
		}
	}
	m.lastIndex = m.equityIndexLocked()
	m.returns = nil
	if finite(volatility) && volatility >= 0 {
		m.volatility = volatility
	}
	if finite(premiumAddOn) && premiumAddOn >= 0 {
		m.premiumAddOn = premiumAddOn
	}
}

// Restructure re-amortises an open loan's remaining principal over a new
// term and marks it Restructured.
func (m *Market) Restructure(id string, newTermMonths int) (Loan, error) {
	if newTermMonths <= 0 {
		return Loan{}, fmt.Errorf("restructure %s: term %d: %w", id, newTermMonths, market.ErrInvalidOrder)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	if !ok {
		return Loan{}, fmt.Errorf("restructure %s: %w", id, ErrUnknownInstrument)
	}
	if !l.Status.Open() {
		return *l, fmt.Errorf("restructure %s: loan is %s", id, l.Status)
	}
	l.RemainingTerm = newTermMonths
	l.MonthlyPayment = MonthlyPayment(l.RemainingPrincipal, l.Rate, newTermMonths)
	l.Status = LoanRestructured
	return *l, nil
}

// Bond returns a bond by id.
func (m *Market) Bond(id string) (Bond, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bonds[id]
	if !ok {
		return Bond{}, fmt.Errorf("bond %s: %w", id, ErrUnknownInstrument)
	}
	return *b, nil
}

// Equity returns an equity by id.
func (m *Market) Equity(id string) (Equity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.equities[id]
	if !ok {
		return Equity{}, fmt.Errorf("equity %s: %w", id, ErrUnknownInstrument)
	}
	return *e, nil
}

// Loan returns a loan by id.
func (m *Market) Loan(id string) (Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loans[id]
	if !ok {
		return Loan{}, fmt.Errorf("loan %s: %w", id, ErrUnknownInstrument)
	}
	return *l, nil
}

// Equities returns every equity sorted by symbol.
func (m *Market) Equities() []Equity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Equity, 0, len(m.equities))
	for _, e := range m.equities {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Bonds returns every bond sorted by maturity.
func (m *Market) Bonds() []Bond {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Bond, 0, len(m.bonds))
	for _, b := range m.bonds {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Maturity.Before(out[j].Maturity) })
	return out
}

// Loans returns every loan sorted by borrower.
func (m *Market) Loans() []Loan {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Loan, 0, len(m.loans))
	for _, l := range m.loans {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Borrower < out[j].Borrower })
	return out
}

// EquityIndex is 100 × total market cap over total market cap at listing.
func (m *Market) EquityIndex() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.equityIndexLocked()
}

func (m *Market) equityIndexLocked() float64 {
	var total, initial float64
	for _, e := range m.equities {
		total += e.MarketCap()
		initial += e.Shares * e.InitialPrice
	}
	if initial == 0 {
		return indexBase
	}
	return market.ClampPrice(indexBase * total / initial)
}

func (m *Market) averageYieldLocked() float64 {
	var spread float64
	n := 0
	for _, b := range m.bonds {
		if b.Matured {
			continue
		}
		spread += b.Rating.RiskPremium()
		n++
	}
	if n > 0 {
		spread /= float64(n)
	}
	return m.baseRate + m.premiumAddOn + spread
}

// BondIndex moves inversely with the average bond yield: 100 at the
// yield seen on the first update.
func (m *Market) BondIndex() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bondIndexLocked()
}

func (m *Market) bondIndexLocked() float64 {
	y := m.averageYieldLocked()
	if m.baselineYield == 0 || y <= 0 {
		return indexBase
	}
	return indexBase * m.baselineYield / y
}

// Volatility is the annualised realised volatility of the equity index.
func (m *Market) Volatility() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.volatility
}

// VolatilityHistory returns the rolling volatility readings, oldest first.
func (m *Market) VolatilityHistory() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]float64(nil), m.volHistory...)
}

// Update advances the rate and instruments by dt, then runs the book step.
func (m *Market) Update(dt time.Duration) []market.Trade {
	if dt > 0 {
		m.step(dt)
	}
	return m.Book.Update(dt)
}

func (m *Market) step(dt time.Duration) {
	now := m.Clock().Now()
	years := dt.Hours() / hoursPerYear
	days := dt.Hours() / 24

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.baselineYield == 0 {
		m.baselineYield = m.averageYieldLocked()
	}

	drift := m.cfg.MeanReversion * (m.cfg.LongRunRate - m.baseRate) * years
	diffusion := m.cfg.RateVolatility * math.Sqrt(years) * m.rng.NormFloat64()
	m.baseRate = market.Clamp(m.baseRate+drift+diffusion, minBaseRate, maxBaseRate)

	m.volMultiplier = 1 + (m.volMultiplier-1)*math.Pow(volShockDecay, days)
	m.premiumAddOn *= math.Pow(premiumAddOnDecay, days)

	sigma := m.cfg.EquityVolatility * m.volMultiplier
	for _, e := range m.equities {
		expected := m.baseRate + e.Beta*m.cfg.MarketRiskPremium
		shock := sigma * e.Beta * math.Sqrt(years) * m.rng.NormFloat64()
		e.Price = market.ClampPrice(e.Price * (1 + expected*years + shock))
		for !now.Before(e.NextDividend) {
			m.ledger.Record(e.NextDividend, ledger.KindDividend, e.ID, e.Symbol, e.MarketCap()*e.DividendYield/4)
			e.NextDividend = e.NextDividend.Add(dividendPeriod)
		}
	}

	for _, b := range m.bonds {
		if b.Matured {
			continue
		}
		for !now.Before(b.NextCoupon) && !b.NextCoupon.After(b.Maturity) {
			m.ledger.Record(b.NextCoupon, ledger.KindCoupon, b.ID, b.Issuer, b.Principal*b.EffectiveCoupon)
			b.NextCoupon = b.NextCoupon.AddDate(1, 0, 0)
		}
		if !now.Before(b.Maturity) {
			b.Matured = true
			b.CurrentPrice = b.Principal
			continue
		}
		b.CurrentPrice = BondPrice(b.Principal, b.EffectiveCoupon, m.baseRate, b.YearsToMaturity(now))
	}

	for _, l := range m.loans {
		m.serviceLoanLocked(l, now)
	}

	index := m.equityIndexLocked()
	if m.lastIndex > 0 {
		m.returns = append(m.returns, math.Log(index/m.lastIndex))
		if over := len(m.returns) - returnWindow; over > 0 {
			m.returns = m.returns[over:]
		}
	}
	m.lastIndex = index
	// Until two returns exist the previous reading stands.
	if len(m.returns) >= 2 {
		m.volatility = stdev(m.returns) * math.Sqrt(tradingDays)
	}
	m.volHistory = append(m.volHistory, m.volatility)
	if over := len(m.volHistory) - volHistorySize; over > 0 {
		m.volHistory = m.volHistory[over:]
	}
}

// serviceLoanLocked applies every monthly payment that fell due by now.
// Each month first rolls the default check.
func (m *Market) serviceLoanLocked(l *Loan, now time.Time) {
	monthly := l.Rating.DefaultProbability() * m.cfg.DefaultScale / 12
	for l.Status.Open() && !now.Before(l.NextPayment) {
		if monthly > 0 && m.rng.Chance(monthly) {
			l.Status = LoanDefaulted
			return
		}
		interest, principal := l.payment()
		m.ledger.Record(l.NextPayment, ledger.KindLoanInterest, l.ID, l.Borrower, interest)
		m.ledger.Record(l.NextPayment, ledger.KindLoanPrincipal, l.ID, l.Borrower, principal)
		l.NextPayment = l.NextPayment.AddDate(0, 1, 0)
	}
}

func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	v := 0.0
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	return math.Sqrt(v / float64(len(xs)-1))
}

// Stats is the capital market summary.
type Stats struct {
	market.Stats
	BaseRate             float64            `json:"base_rate"`
	EquityIndex          float64            `json:"equity_index"`
	BondIndex            float64            `json:"bond_index"`
	Volatility           float64            `json:"volatility"`
	PremiumAddOn         float64            `json:"premium_add_on"`
	OutstandingPrincipal float64            `json:"outstanding_principal"`
	LoansByStatus        map[LoanStatus]int `json:"loans_by_status"`
	Bonds                int                `json:"bonds"`
	Equities             int                `json:"equities"`
}

// CapitalStats returns the book stats plus rate, index and loan aggregates.
func (m *Market) CapitalStats() Stats {
	s := Stats{Stats: m.Stats(), LoansByStatus: make(map[LoanStatus]int)}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s.BaseRate = m.baseRate
	s.EquityIndex = m.equityIndexLocked()
	s.BondIndex = m.bondIndexLocked()
	s.Volatility = m.volatility
	s.PremiumAddOn = m.premiumAddOn
	s.Bonds = len(m.bonds)
	s.Equities = len(m.equities)
	for _, l := range m.loans {
		s.LoansByStatus[l.Status]++
		if l.Status.Open() {
			s.OutstandingPrincipal += l.RemainingPrincipal
		}
	}
	return s
}

var _ market.Market = (*Market)(nil)
