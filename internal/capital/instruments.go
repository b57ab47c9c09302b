package capital

import (
	"math"
	"time"
)

const (
	hoursPerYear = 24 * 365.0
	loanEpsilon  = 0.005
)

// Bond pays an annual coupon of Principal × EffectiveCoupon and returns the
// principal at Maturity.
type Bond struct {
	ID              string    `json:"id"`
	Issuer          string    `json:"issuer"`
	Principal       float64   `json:"principal"`
	CouponRate      float64   `json:"coupon_rate"`
	EffectiveCoupon float64   `json:"effective_coupon"`
	Rating          Rating    `json:"rating"`
	Issued          time.Time `json:"issued"`
	Maturity        time.Time `json:"maturity"`
	CurrentPrice    float64   `json:"current_price"`
	NextCoupon      time.Time `json:"next_coupon"`
	Matured         bool      `json:"matured"`
}

// YearsToMaturity is the remaining life at t, never negative.
func (b Bond) YearsToMaturity(t time.Time) float64 {
	return math.Max(0, b.Maturity.Sub(t).Hours()/hoursPerYear)
}

// BondPrice discounts the remaining annual coupons and the principal at
// rate. Coupons fall due every whole year counted back from maturity.
func BondPrice(principal, effectiveCoupon, rate, yearsToMaturity float64) float64 {
	if yearsToMaturity <= 0 {
		return principal
	}
	n := int(math.Ceil(yearsToMaturity - 1e-9))
	coupon := principal * effectiveCoupon
	price := 0.0
	for k := 1; k <= n; k++ {
		t := yearsToMaturity - float64(n-k)
		price += coupon / math.Pow(1+rate, t)
	}
	return price + principal/math.Pow(1+rate, yearsToMaturity)
}

// Equity is a listed share line.
type Equity struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Shares        float64   `json:"shares"`
	Price         float64   `json:"price"`
	InitialPrice  float64   `json:"initial_price"`
	Beta          float64   `json:"beta"`
	DividendYield float64   `json:"dividend_yield"`
	NextDividend  time.Time `json:"next_dividend"`
}

// MarketCap is shares × price.
func (e Equity) MarketCap() float64 { return e.Shares * e.Price }

// LoanStatus is the lifecycle state of a loan.
type LoanStatus string

const (
	LoanActive       LoanStatus = "active"
	LoanPaidOff      LoanStatus = "paid_off"
	LoanDefaulted    LoanStatus = "defaulted"
	LoanRestructured LoanStatus = "restructured"
)

// Open reports whether the loan still amortises.
func (s LoanStatus) Open() bool { return s == LoanActive || s == LoanRestructured }

// Loan is an amortising loan with monthly payments.
type Loan struct {
	ID                 string     `json:"id"`
	Borrower           string     `json:"borrower"`
	Principal          float64    `json:"principal"`
	Rate               float64    `json:"rate"` // annual, rating premium included
	Rating             Rating     `json:"rating"`
	TermMonths         int        `json:"term_months"`
	RemainingPrincipal float64    `json:"remaining_principal"`
	RemainingTerm      int        `json:"remaining_term"`
	MonthlyPayment     float64    `json:"monthly_payment"`
	Status             LoanStatus `json:"status"`
	NextPayment        time.Time  `json:"next_payment"`
}

// MonthlyPayment is the standard amortisation payment for principal over
// months at an annual rate.
func MonthlyPayment(principal, annualRate float64, months int) float64 {
	if months <= 0 {
		return principal
	}
	r := annualRate / 12
	if r == 0 {
		return principal / float64(months)
	}
	return principal * r / (1 - math.Pow(1+r, -float64(months)))
}

// payment splits one monthly payment into interest and principal and
// advances the schedule. It returns the two amounts.
func (l *Loan) payment() (interest, principal float64) {
	interest = l.RemainingPrincipal * l.Rate / 12
	principal = math.Min(l.MonthlyPayment-interest, l.RemainingPrincipal)
	if l.RemainingTerm <= 1 {
		principal = l.RemainingPrincipal
	}
	principal = math.Max(0, principal)
	l.RemainingPrincipal -= principal
	l.RemainingTerm--
	if l.RemainingPrincipal <= loanEpsilon || l.RemainingTerm <= 0 {
		l.RemainingPrincipal = 0
		l.RemainingTerm = 0
		l.Status = LoanPaidOff
	}
	return interest, principal
}
