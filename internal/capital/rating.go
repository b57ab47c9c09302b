// Package capital implements the financial market: bonds, equities and
// loans priced off a mean-reverting base rate and credit ratings.
package capital

import "fmt"

// Rating is a credit rating, best first.
type Rating int

const (
	AAA Rating = iota
	AA
	A
	BBB
	BB
	B
	CCC
)

type ratingTerms struct {
	name           string
	premium        float64 // annual spread over the base rate
	defaultPerYear float64
}

var ratingTable = [...]ratingTerms{
	AAA: {"AAA", 0.001, 0.0005},
	AA:  {"AA", 0.004, 0.001},
	A:   {"A", 0.008, 0.002},
	BBB: {"BBB", 0.015, 0.005},
	BB:  {"BB", 0.03, 0.015},
	B:   {"B", 0.05, 0.04},
	CCC: {"CCC", 0.10, 0.12},
}

// Ratings lists every rating, best first.
func Ratings() []Rating {
	return []Rating{AAA, AA, A, BBB, BB, B, CCC}
}

func (r Rating) valid() bool { return r >= AAA && r <= CCC }

// RiskPremium is the rating's annual spread over the base rate.
func (r Rating) RiskPremium() float64 {
	if !r.valid() {
		return ratingTable[CCC].premium
	}
	return ratingTable[r].premium
}

// DefaultProbability is the annual probability of default.
func (r Rating) DefaultProbability() float64 {
	if !r.valid() {
		return ratingTable[CCC].defaultPerYear
	}
	return ratingTable[r].defaultPerYear
}

func (r Rating) String() string {
	if !r.valid() {
		return fmt.Sprintf("Rating(%d)", int(r))
	}
	return ratingTable[r].name
}

// MarshalText renders the rating name in JSON.
func (r Rating) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText parses a rating name.
func (r *Rating) UnmarshalText(b []byte) error {
	v, err := ParseRating(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseRating resolves a rating name such as "BBB".
func ParseRating(s string) (Rating, error) {
	for _, r := range Ratings() {
		if ratingTable[r].name == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown credit rating %q", s)
}
