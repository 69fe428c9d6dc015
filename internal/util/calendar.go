package util

import (
	"time"

	"strategylab/internal/domain"
)

var (
	newYork  = loadLocation("America/New_York", -5*3600)
	shanghai = loadLocation("Asia/Shanghai", 8*3600)
)

func loadLocation(name string, fallbackOffset int) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, fallbackOffset)
	}
	return loc
}

// MarketLocation returns the exchange time zone of a market. Unknown markets
// use UTC.
func MarketLocation(m domain.Market) *time.Location {
	switch m {
	case domain.MarketUS:
		return newYork
	case domain.MarketCN:
		return shanghai
	default:
		return time.UTC
	}
}

// SessionDate returns the trading date of t in the market's time zone as
// midnight UTC. Daily bars are keyed by this value so that a provider
// stamping bars at 04:00 or 05:00 UTC lands on the same calendar day.
func SessionDate(m domain.Market, t time.Time) time.Time {
	local := t.In(MarketLocation(m))
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// IsWeekday reports whether t falls on Monday through Friday in the market's
// time zone. Exchange holidays are not modelled.
func IsWeekday(m domain.Market, t time.Time) bool {
	switch t.In(MarketLocation(m)).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}
