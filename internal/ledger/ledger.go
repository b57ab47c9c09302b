// Package ledger records settled cash flows (coupons, dividends, loan and
// lease payments) as exact decimal amounts rounded to cents.
package ledger

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Kind classifies a cash flow.
type Kind string

const (
	KindCoupon        Kind = "coupon"
	KindDividend      Kind = "dividend"
	KindLoanInterest  Kind = "loan_interest"
	KindLoanPrincipal Kind = "loan_principal"
	KindLeasePayment  Kind = "lease_payment"
)

// Entry is one booked cash flow.
type Entry struct {
	Time      time.Time       `json:"time"`
	Kind      Kind            `json:"kind"`
	Reference string          `json:"reference"` // instrument, loan or lease id
	Party     string          `json:"party"`     // payer
	Amount    decimal.Decimal `json:"amount"`
}

// Ledger keeps running totals per kind plus a bounded tail of entries.
type Ledger struct {
	mu      sync.RWMutex
	entries []Entry
	max     int
	totals  map[Kind]decimal.Decimal
}

// New creates a ledger retaining at most max entries (totals are unbounded).
func New(max int) *Ledger {
	if max <= 0 {
		max = 1000
	}
	return &Ledger{
		max:    max,
		totals: make(map[Kind]decimal.Decimal),
	}
}

// Record books amount (rounded to cents). Non-positive and non-finite
// amounts are ignored.
func (l *Ledger) Record(at time.Time, kind Kind, reference, party string, amount float64) (Entry, bool) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return Entry{}, false
	}
	d := decimal.NewFromFloat(amount).Round(2)
	if !d.IsPositive() {
		return Entry{}, false
	}
	e := Entry{Time: at, Kind: kind, Reference: reference, Party: party, Amount: d}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.max; over > 0 {
		l.entries = append([]Entry(nil), l.entries[over:]...)
	}
	l.totals[kind] = l.totals[kind].Add(d)
	return e, true
}

// Total returns the lifetime total for one kind.
func (l *Ledger) Total(kind Kind) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totals[kind]
}

// Totals returns lifetime totals keyed by kind, formatted to cents.
func (l *Ledger) Totals() map[Kind]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[Kind]string, len(l.totals))
	for k, v := range l.totals {
		out[k] = v.StringFixed(2)
	}
	return out
}

// Restore replaces the lifetime totals with previously saved ones. Entries
// are not restored.
func (l *Ledger) Restore(totals map[Kind]string) error {
	parsed := make(map[Kind]decimal.Decimal, len(totals))
	for k, v := range totals {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("restore %s total %q: %w", k, v, err)
		}
		parsed[k] = d
	}
	l.mu.Lock()
	l.totals = parsed
	l.mu.Unlock()
	return nil
}

// Recent returns up to n of the newest entries, oldest first.
func (l *Ledger) Recent(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	return append([]Entry(nil), l.entries[len(l.entries)-n:]...)
}
