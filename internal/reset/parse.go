package reset

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/udisondev/la2shop/internal/timeofday"
)

// Config is the YAML form of a rule.
//
//	reset:
//	  type: weekly        # none|hourly|minutes|seconds|daily|weekly|monthly|yearly|once
//	  time: "18:00"       # time of day; hourly uses only minutes and seconds
//	  day: FRIDAY         # weekday for weekly, day of month for monthly/yearly
//	  month: 2            # yearly only, number or name
//	  interval: 15        # minutes/seconds only
//	  at: "2026-12-31 23:00"  # once only
//	  timezone: Europe/Berlin
type Config struct {
	Type     string `yaml:"type"`
	Time     string `yaml:"time"`
	Day      string `yaml:"day"`
	Month    string `yaml:"month"`
	Interval int    `yaml:"interval"`
	At       string `yaml:"at"`
	TimeZone string `yaml:"timezone"`
}

// IsZero reports whether no rule was configured.
func (c Config) IsZero() bool {
	return c == Config{}
}

// FromConfig builds a rule and falls back to None when the config is
// malformed. Operators edit these files by hand, so a typo disables the
// reset with a warning instead of failing the catalog load.
func FromConfig(cfg Config, defaultLoc *time.Location, scope string) Rule {
	r, err := Parse(cfg, defaultLoc)
	if err != nil {
		slog.Warn("invalid reset rule, resets disabled", "scope", scope, "error", err)
		return None{}
	}
	return r
}

// Parse builds a rule from cfg. defaultLoc applies when cfg has no timezone.
func Parse(cfg Config, defaultLoc *time.Location) (Rule, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Type))
	if kind == "" || kind == "none" {
		return None{}, nil
	}

	loc := orUTC(defaultLoc)
	if cfg.TimeZone != "" {
		l, err := time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("timezone %q: %w", cfg.TimeZone, err)
		}
		loc = l
	}

	at := timeofday.Midnight
	if cfg.Time != "" {
		c, err := timeofday.Parse(cfg.Time)
		if err != nil {
			return nil, err
		}
		at = c
	}

	switch kind {
	case "hourly":
		return Hourly{Minute: at.Minute, Second: at.Second, Loc: loc}, nil

	case "minutes", "minute_interval", "minute-interval":
		if cfg.Interval <= 0 {
			return nil, fmt.Errorf("minute interval must be positive, got %d", cfg.Interval)
		}
		return MinuteInterval{N: cfg.Interval}, nil

	case "seconds", "second_interval", "second-interval":
		if cfg.Interval <= 0 {
			return nil, fmt.Errorf("second interval must be positive, got %d", cfg.Interval)
		}
		return SecondInterval{N: cfg.Interval}, nil

	case "daily":
		return Daily{At: at, Loc: loc}, nil

	case "weekly":
		day, err := ParseWeekday(cfg.Day)
		if err != nil {
			return nil, err
		}
		return Weekly{Day: day, At: at, Loc: loc}, nil

	case "monthly":
		day, err := parseDayOfMonth(cfg.Day)
		if err != nil {
			return nil, err
		}
		return Monthly{Day: day, At: at, Loc: loc}, nil

	case "yearly":
		month, err := parseMonth(cfg.Month)
		if err != nil {
			return nil, err
		}
		day, err := parseDayOfMonth(cfg.Day)
		if err != nil {
			return nil, err
		}
		return Yearly{Month: month, Day: day, At: at, Loc: loc}, nil

	case "once":
		instant, err := parseInstant(cfg.At, loc)
		if err != nil {
			return nil, err
		}
		return Once{At: instant}, nil

	default:
		return nil, fmt.Errorf("unknown reset type %q", cfg.Type)
	}
}

// ParseWeekday accepts full English day names in any case ("friday") and
// three-letter abbreviations ("FRI").
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToUpper(d.String())
		if name == full || (len(name) == 3 && name == full[:3]) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

func parseDayOfMonth(s string) (int, error) {
	day, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("day of month %q: %w", s, err)
	}
	if day < 1 || day > 31 {
		return 0, fmt.Errorf("day of month %d out of range", day)
	}
	return day, nil
}

func parseMonth(s string) (time.Month, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 || n > 12 {
			return 0, fmt.Errorf("month %d out of range", n)
		}
		return time.Month(n), nil
	}
	name := strings.ToUpper(s)
	for m := time.January; m <= time.December; m++ {
		full := strings.ToUpper(m.String())
		if name == full || (len(name) == 3 && name == full[:3]) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown month %q", s)
}

var instantLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseInstant reads RFC 3339, or a zone-less local layout interpreted in loc.
func parseInstant(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("once rule needs an instant")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range instantLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("instant %q: unsupported format", s)
}
