package capital

import "fmt"

// Seed lists the starting instruments for a new world: carriers, port
// operators and lenders the trade game revolves around.
func Seed(m *Market) error {
	equities := []struct {
		symbol              string
		shares, price, beta float64
		yield               float64
	}{
		{"MRSK", 2e6, 140, 1.2, 0.03},
		{"PORT", 1e6, 60, 0.8, 0.045},
		{"AIRX", 5e5, 210, 1.5, 0.01},
		{"RAIL", 1.5e6, 85, 0.9, 0.035},
	}
	for _, e := range equities {
		if _, err := m.IssueEquity(e.symbol, e.shares, e.price, e.beta, e.yield); err != nil {
			return fmt.Errorf("seed equity %s: %w", e.symbol, err)
		}
	}

	bonds := []struct {
		issuer    string
		principal float64
		coupon    float64
		rating    Rating
		years     float64
	}{
		{"treasury", 1000, 0.03, AAA, 10},
		{"port-authority", 1000, 0.04, A, 7},
		{"coastal-shipping", 1000, 0.05, BBB, 5},
		{"frontier-freight", 1000, 0.07, B, 3},
	}
	for _, b := range bonds {
		if _, err := m.IssueBond(b.issuer, b.principal, b.coupon, b.rating, b.years); err != nil {
			return fmt.Errorf("seed bond %s: %w", b.issuer, err)
		}
	}

	if _, err := m.CreateLoan("fleet-expansion", 5e6, BBB, 120); err != nil {
		return fmt.Errorf("seed loan: %w", err)
	}
	if _, err := m.CreateLoan("warehouse-build", 1.2e6, BB, 60); err != nil {
		return fmt.Errorf("seed loan: %w", err)
	}
	return nil
}
