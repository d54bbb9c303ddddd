package reset

import (
	"fmt"
	"strings"
	"time"

	"github.com/udisondev/la2shop/internal/timeofday"
)

// None never fires.
type None struct{}

func (None) Kind() Kind                             { return KindNone }
func (None) MostRecent(time.Time) (time.Time, bool) { return time.Time{}, false }
func (None) Next(time.Time) (time.Time, bool)       { return time.Time{}, false }
func (None) Describe() string                       { return "never" }
func (None) sealed()                                {}

// Hourly fires at Minute:Second past every hour in Loc.
type Hourly struct {
	Minute int
	Second int
	Loc    *time.Location
}

func (Hourly) Kind() Kind { return KindHourly }
func (Hourly) sealed()    {}

func (r Hourly) MostRecent(now time.Time) (time.Time, bool) {
	t := now.In(orUTC(r.Loc))
	hourStart := t.Add(-(time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())))
	occ := hourStart.Add(time.Duration(r.Minute)*time.Minute + time.Duration(r.Second)*time.Second)
	if occ.After(now) {
		occ = occ.Add(-time.Hour)
	}
	return occ, true
}

func (r Hourly) Next(now time.Time) (time.Time, bool) {
	occ, _ := r.MostRecent(now)
	return occ.Add(time.Hour), true
}

func (r Hourly) Describe() string {
	return fmt.Sprintf("hourly at :%02d:%02d", r.Minute, r.Second)
}

// MinuteInterval fires every N minutes, aligned to the Unix epoch rather than
// to process start, so the schedule survives restarts unchanged.
type MinuteInterval struct {
	N int
}

func (MinuteInterval) Kind() Kind { return KindMinuteInterval }
func (MinuteInterval) sealed()    {}

func (r MinuteInterval) MostRecent(now time.Time) (time.Time, bool) {
	return epochAligned(now, int64(r.N)*60, 0)
}

func (r MinuteInterval) Next(now time.Time) (time.Time, bool) {
	return epochAligned(now, int64(r.N)*60, 1)
}

func (r MinuteInterval) Describe() string { return fmt.Sprintf("every %dm", r.N) }

// SecondInterval fires every N seconds, epoch aligned.
type SecondInterval struct {
	N int
}

func (SecondInterval) Kind() Kind { return KindSecondInterval }
func (SecondInterval) sealed()    {}

func (r SecondInterval) MostRecent(now time.Time) (time.Time, bool) {
	return epochAligned(now, int64(r.N), 0)
}

func (r SecondInterval) Next(now time.Time) (time.Time, bool) {
	return epochAligned(now, int64(r.N), 1)
}

func (r SecondInterval) Describe() string { return fmt.Sprintf("every %ds", r.N) }

// epochAligned returns floor(now/period)*period + steps*period, in seconds.
func epochAligned(now time.Time, period, steps int64) (time.Time, bool) {
	if period <= 0 {
		return time.Time{}, false
	}
	sec := now.Unix()
	floor := sec - sec%period
	if sec%period < 0 {
		floor -= period
	}
	return time.Unix(floor+steps*period, 0), true
}

// Daily fires at At every day in Loc.
type Daily struct {
	At  timeofday.Clock
	Loc *time.Location
}

func (Daily) Kind() Kind { return KindDaily }
func (Daily) sealed()    {}

func (r Daily) MostRecent(now time.Time) (time.Time, bool) {
	loc := orUTC(r.Loc)
	t := now.In(loc)
	occ := r.At.On(t.Year(), t.Month(), t.Day(), loc)
	if occ.After(now) {
		occ = r.At.On(t.Year(), t.Month(), t.Day()-1, loc)
	}
	return occ, true
}

func (r Daily) Next(now time.Time) (time.Time, bool) {
	loc := orUTC(r.Loc)
	t := now.In(loc)
	occ := r.At.On(t.Year(), t.Month(), t.Day(), loc)
	if !occ.After(now) {
		occ = r.At.On(t.Year(), t.Month(), t.Day()+1, loc)
	}
	return occ, true
}

func (r Daily) Describe() string {
	return fmt.Sprintf("daily at %s (%s)", r.At, orUTC(r.Loc))
}

// Weekly fires at At on Day every week in Loc.
type Weekly struct {
	Day time.Weekday
	At  timeofday.Clock
	Loc *time.Location
}

func (Weekly) Kind() Kind { return KindWeekly }
func (Weekly) sealed()    {}

func (r Weekly) MostRecent(now time.Time) (time.Time, bool) {
	loc := orUTC(r.Loc)
	t := now.In(loc)
	back := (int(t.Weekday()) - int(r.Day) + 7) % 7
	occ := r.At.On(t.Year(), t.Month(), t.Day()-back, loc)
	if occ.After(now) {
		// Target day is today but the time has not come yet.
		occ = r.At.On(t.Year(), t.Month(), t.Day()-back-7, loc)
	}
	return occ, true
}

func (r Weekly) Next(now time.Time) (time.Time, bool) {
	loc := orUTC(r.Loc)
	t := now.In(loc)
	ahead := (int(r.Day) - int(t.Weekday()) + 7) % 7
	occ := r.At.On(t.Year(), t.Month(), t.Day()+ahead, loc)
	if !occ.After(now) {
		occ = r.At.On(t.Year(), t.Month(), t.Day()+ahead+7, loc)
	}
	return occ, true
}

func (r Weekly) Describe() string {
	return fmt.Sprintf("weekly on %s at %s (%s)", strings.ToUpper(r.Day.String()), r.At, orUTC(r.Loc))
}

// Monthly fires at At on Day of every month. Days past the end of a month
// fall on its last day (31 in February means Feb 28 or 29).
type Monthly struct {
	Day int
	At  timeofday.Clock
	Loc *time.Location
}

func (Monthly) Kind() Kind { return KindMonthly }
func (Monthly) sealed()    {}

func (r Monthly) occurrence(year int, month time.Month, loc *time.Location) time.Time {
	// Normalize month overflow before clamping.
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	y, m := first.Year(), first.Month()
	return r.At.On(y, m, clampDay(y, m, r.Day, loc), loc)
}

func (r Monthly) MostRecent(now time.Time) (time.Time, bool) {
	loc := orUTC(r.Loc)
	t := now.In(loc)
	occ := r.occurrence(t.Year(), t.Month(), loc)
	if occ.After(now) {
		occ = r.occurrence(t.Year(), t.Month()-1, loc)
	}
	return occ, true
}

func (r Monthly) Next(now time.Time) (time.Time, bool) {
	loc := orUTC(r.Loc)
	t := now.In(loc)
	occ := r.occurrence(t.Year(), t.Month(), loc)
	if !occ.After(now) {
		occ = r.occurrence(t.Year(), t.Month()+1, loc)
	}
	return occ, true
}

func (r Monthly) Describe() string {
	return fmt.Sprintf("monthly on day %d at %s (%s)", r.Day, r.At, orUTC(r.Loc))
}

// Yearly fires at At on Month/Day every year, with the same end-of-month
// clamping as Monthly.
type Yearly struct {
	Month time.Month
	Day   int
	At    timeofday.Clock
	Loc   *time.Location
}

func (Yearly) Kind() Kind { return KindYearly }
func (Yearly) sealed()    {}

func (r Yearly) occurrence(year int, loc *time.Location) time.Time {
	return r.At.On(year, r.Month, clampDay(year, r.Month, r.Day, loc), loc)
}

func (r Yearly) MostRecent(now time.Time) (time.Time, bool) {
	loc := orUTC(r.Loc)
	t := now.In(loc)
	occ := r.occurrence(t.Year(), loc)
	if occ.After(now) {
		occ = r.occurrence(t.Year()-1, loc)
	}
	return occ, true
}

func (r Yearly) Next(now time.Time) (time.Time, bool) {
	loc := orUTC(r.Loc)
	t := now.In(loc)
	occ := r.occurrence(t.Year(), loc)
	if !occ.After(now) {
		occ = r.occurrence(t.Year()+1, loc)
	}
	return occ, true
}

func (r Yearly) Describe() string {
	return fmt.Sprintf("yearly on %s %d at %s (%s)", r.Month, r.Day, r.At, orUTC(r.Loc))
}

// Once fires a single time at At. Once At has passed, MostRecent keeps
// returning At; an instant already in the past at startup is not an error.
type Once struct {
	At time.Time
}

func (Once) Kind() Kind { return KindOnce }
func (Once) sealed()    {}

func (r Once) MostRecent(now time.Time) (time.Time, bool) {
	if now.Before(r.At) {
		return time.Time{}, false
	}
	return r.At, true
}

func (r Once) Next(now time.Time) (time.Time, bool) {
	if now.Before(r.At) {
		return r.At, true
	}
	return time.Time{}, false
}

func (r Once) Describe() string {
	return "once at " + r.At.Format(time.RFC3339)
}
