package economy

import (
	"math"
	"time"
)

const daysPerYear = 365.0

// SeasonalMultiplier returns 1 + A·cos(2π(doy − peak)/365) for the
// commodity: exactly 1+A on its peak day and 1−A half a year later.
func (c Commodity) SeasonalMultiplier(t time.Time) float64 {
	if c.SeasonalAmplitude == 0 {
		return 1
	}
	phase := 2 * math.Pi * float64(t.YearDay()-c.SeasonalPeakDay) / daysPerYear
	return 1 + c.SeasonalAmplitude*math.Cos(phase)
}

// Season names for status output.
const (
	SeasonSpring = "Spring"
	SeasonSummer = "Summer"
	SeasonAutumn = "Autumn"
	SeasonWinter = "Winter"
)

// SeasonName returns the northern-hemisphere season for t.
func SeasonName(t time.Time) string {
	switch t.Month() {
	case time.March, time.April, time.May:
		return SeasonSpring
	case time.June, time.July, time.August:
		return SeasonSummer
	case time.September, time.October, time.November:
		return SeasonAutumn
	default:
		return SeasonWinter
	}
}
