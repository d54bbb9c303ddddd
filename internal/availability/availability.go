// Package availability decides whether a shop or item is open at a given
// instant. A Rule is a list of clauses (clock range, date range, weekday
// range) that must all hold; a rule with no clauses is always open.
package availability

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/udisondev/la2shop/internal/timeofday"
)

// Config is the YAML form of a rule. Each list entry becomes one clause.
//
//	availability:
//	  times: ["09:00-17:00"]
//	  dates: ["2026-12-01 to 2026-12-31"]
//	  days:  ["FRIDAY-SUNDAY"]
type Config struct {
	Times []string `yaml:"times"`
	Dates []string `yaml:"dates"`
	Days  []string `yaml:"days"`
}

// Clause is one restriction window.
type Clause interface {
	Contains(t time.Time) bool
	String() string
}

// Rule is an immutable AND of clauses evaluated in Loc.
type Rule struct {
	clauses []Clause
	loc     *time.Location
}

// Always is a rule without restrictions.
var Always = Rule{}

// New builds a rule from already parsed clauses.
func New(loc *time.Location, clauses ...Clause) Rule {
	return Rule{clauses: clauses, loc: loc}
}

// FromConfig parses every clause in cfg. A clause that fails to parse is
// dropped with a warning, which leaves it always satisfied.
func FromConfig(cfg Config, loc *time.Location, scope string) Rule {
	var clauses []Clause
	add := func(kind, raw string, parse func(string) (Clause, error)) {
		c, err := parse(raw)
		if err != nil {
			slog.Warn("invalid availability clause ignored",
				"scope", scope, "kind", kind, "value", raw, "error", err)
			return
		}
		clauses = append(clauses, c)
	}
	for _, s := range cfg.Times {
		add("time", s, ParseClockRange)
	}
	for _, s := range cfg.Dates {
		add("date", s, ParseDateRange)
	}
	for _, s := range cfg.Days {
		add("day", s, ParseWeekdayRange)
	}
	return Rule{clauses: clauses, loc: loc}
}

// Clauses returns the parsed clauses.
func (r Rule) Clauses() []Clause { return r.clauses }

// IsAvailable reports whether every clause holds at now.
func (r Rule) IsAvailable(now time.Time) bool {
	if len(r.clauses) == 0 {
		return true
	}
	t := now
	if r.loc != nil {
		t = now.In(r.loc)
	}
	for _, c := range r.clauses {
		if !c.Contains(t) {
			return false
		}
	}
	return true
}

// Format renders the rule for player-facing messages.
func (r Rule) Format(now time.Time) string {
	if len(r.clauses) == 0 {
		return "always"
	}
	parts := make([]string, len(r.clauses))
	for i, c := range r.clauses {
		parts[i] = c.String()
	}
	s := strings.Join(parts, ", ")
	if !r.IsAvailable(now) {
		s += " (closed)"
	}
	return s
}

// ClockRange is a time-of-day window. When End is before Start the window
// wraps past midnight. Both bounds are inclusive.
type ClockRange struct {
	Start timeofday.Clock
	End   timeofday.Clock
}

// ParseClockRange parses "HH:mm-HH:mm" in 24h or 12h notation.
func ParseClockRange(s string) (Clause, error) {
	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return nil, fmt.Errorf("clock range %q: want START-END", s)
	}
	from, err := timeofday.Parse(start)
	if err != nil {
		return nil, err
	}
	to, err := timeofday.Parse(end)
	if err != nil {
		return nil, err
	}
	return ClockRange{Start: from, End: to}, nil
}

func (c ClockRange) Contains(t time.Time) bool {
	now := timeofday.Of(t).Seconds()
	start, end := c.Start.Seconds(), c.End.Seconds()
	if start <= end {
		return now >= start && now <= end
	}
	return now >= start || now <= end
}

func (c ClockRange) String() string { return c.Start.String() + "-" + c.End.String() }

// DateRange is an inclusive calendar-day window.
type DateRange struct {
	From civilDate
	To   civilDate
}

type civilDate struct {
	Year  int
	Month time.Month
	Day   int
}

func (d civilDate) key() int { return d.Year*10000 + int(d.Month)*100 + d.Day }

func (d civilDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// ParseDateRange parses "yyyy-MM-dd to yyyy-MM-dd".
func ParseDateRange(s string) (Clause, error) {
	from, to, ok := strings.Cut(s, " to ")
	if !ok {
		return nil, fmt.Errorf("date range %q: want FROM to TO", s)
	}
	start, err := time.Parse(time.DateOnly, strings.TrimSpace(from))
	if err != nil {
		return nil, fmt.Errorf("date range %q: %w", s, err)
	}
	end, err := time.Parse(time.DateOnly, strings.TrimSpace(to))
	if err != nil {
		return nil, fmt.Errorf("date range %q: %w", s, err)
	}
	return DateRange{
		From: civilDate{start.Year(), start.Month(), start.Day()},
		To:   civilDate{end.Year(), end.Month(), end.Day()},
	}, nil
}

func (c DateRange) Contains(t time.Time) bool {
	today := civilDate{t.Year(), t.Month(), t.Day()}.key()
	return today >= c.From.key() && today <= c.To.key()
}

func (c DateRange) String() string { return c.From.String() + " to " + c.To.String() }

// WeekdayRange is a span of weekdays, wrapping the week when To precedes From.
type WeekdayRange struct {
	From time.Weekday
	To   time.Weekday
}

// ParseWeekdayRange parses "MONDAY" or "FRIDAY-SUNDAY".
func ParseWeekdayRange(s string) (Clause, error) {
	from, to, ranged := strings.Cut(s, "-")
	start, err := parseWeekday(from)
	if err != nil {
		return nil, err
	}
	end := start
	if ranged {
		if end, err = parseWeekday(to); err != nil {
			return nil, err
		}
	}
	return WeekdayRange{From: start, To: end}, nil
}

func (c WeekdayRange) Contains(t time.Time) bool {
	d := t.Weekday()
	if c.From <= c.To {
		return d >= c.From && d <= c.To
	}
	return d >= c.From || d <= c.To
}

func (c WeekdayRange) String() string {
	if c.From == c.To {
		return strings.ToUpper(c.From.String())
	}
	return strings.ToUpper(c.From.String()) + "-" + strings.ToUpper(c.To.String())
}

func parseWeekday(s string) (time.Weekday, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if name == strings.ToUpper(d.String()) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
