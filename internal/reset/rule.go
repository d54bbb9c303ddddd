// Package reset describes recurring stock-reset cadences.
//
// A Rule is a closed set of variants (None, Hourly, MinuteInterval,
// SecondInterval, Daily, Weekly, Monthly, Yearly, Once). Every variant
// computes its most recent occurrence at-or-before an instant and its next
// occurrence strictly after it, directly from its parameters. Rules hold no
// "already fired" state: the caller keeps the last-run timestamp and asks
// ShouldReset.
package reset

import "time"

// Kind identifies a Rule variant.
type Kind int32

const (
	KindNone Kind = iota
	KindHourly
	KindMinuteInterval
	KindSecondInterval
	KindDaily
	KindWeekly
	KindMonthly
	KindYearly
	KindOnce
)

// String returns the config name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindHourly:
		return "hourly"
	case KindMinuteInterval:
		return "minutes"
	case KindSecondInterval:
		return "seconds"
	case KindDaily:
		return "daily"
	case KindWeekly:
		return "weekly"
	case KindMonthly:
		return "monthly"
	case KindYearly:
		return "yearly"
	case KindOnce:
		return "once"
	default:
		return "unknown"
	}
}

// Rule is a reset cadence. Implementations live in this package only.
type Rule interface {
	Kind() Kind

	// MostRecent returns the latest occurrence <= now.
	MostRecent(now time.Time) (time.Time, bool)

	// Next returns the earliest occurrence > now.
	Next(now time.Time) (time.Time, bool)

	// Describe renders the rule for logs and admin output.
	Describe() string

	sealed()
}

// ShouldReset reports whether an occurrence has fired since lastRunMillis.
// Only the most recent occurrence counts, so a process that was down across
// several occurrences catches up with a single reset.
func ShouldReset(r Rule, lastRunMillis int64, now time.Time) bool {
	if r == nil {
		return false
	}
	occ, ok := r.MostRecent(now)
	if !ok || now.Before(occ) {
		return false
	}
	return lastRunMillis < occ.UnixMilli()
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// clampDay fits day into [1, days in month].
func clampDay(year int, month time.Month, day int, loc *time.Location) int {
	if day < 1 {
		return 1
	}
	if last := daysIn(year, month, loc); day > last {
		return last
	}
	return day
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
