package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe is a bar interval key such as "1d" or "15m".
type Timeframe string

const (
	Timeframe1Min  Timeframe = "1m"
	Timeframe5Min  Timeframe = "5m"
	Timeframe15Min Timeframe = "15m"
	Timeframe30Min Timeframe = "30m"
	Timeframe1Hour Timeframe = "1h"
	Timeframe4Hour Timeframe = "4h"
	Timeframe1Day  Timeframe = "1d"
	Timeframe1Week Timeframe = "1w"
)

// tradingDaysPerYear and sessionMinutes describe a regular US equity session.
const (
	tradingDaysPerYear = 252
	sessionMinutes     = 390
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1Min:  time.Minute,
	Timeframe5Min:  5 * time.Minute,
	Timeframe15Min: 15 * time.Minute,
	Timeframe30Min: 30 * time.Minute,
	Timeframe1Hour: time.Hour,
	Timeframe4Hour: 4 * time.Hour,
	Timeframe1Day:  24 * time.Hour,
	Timeframe1Week: 7 * 24 * time.Hour,
}

// ParseTimeframe normalises input and returns the matching Timeframe.
func ParseTimeframe(input string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(input)))
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("unsupported timeframe %q", input)
	}
	return tf, nil
}

// SupportedTimeframes returns all timeframe keys, sorted.
func SupportedTimeframes() []string {
	keys := make([]string, 0, len(timeframeDurations))
	for k := range timeframeDurations {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}

// Duration returns the wall-clock length of one bar.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// PeriodsPerYear returns the number of bars in a trading year, assuming a
// 252-day year of 390-minute sessions for intraday frames.
func (tf Timeframe) PeriodsPerYear() float64 {
	switch tf {
	case Timeframe1Day:
		return tradingDaysPerYear
	case Timeframe1Week:
		return 52
	}
	d := tf.Duration()
	if d <= 0 {
		return tradingDaysPerYear
	}
	return tradingDaysPerYear * sessionMinutes / d.Minutes()
}
