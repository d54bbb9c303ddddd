// Package timeofday parses and applies wall-clock times such as "18:00" or
// "6:30 PM" used by availability windows and reset rules.
package timeofday

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a time of day with second precision.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

// Midnight is 00:00:00.
var Midnight = Clock{}

// Parse accepts "HH:mm", "HH:mm:ss" and their 12-hour forms with an AM/PM
// suffix ("6:30 PM", "06:30pm").
func Parse(s string) (Clock, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	if raw == "" {
		return Clock{}, fmt.Errorf("empty time of day")
	}

	meridiem := ""
	switch {
	case strings.HasSuffix(raw, "AM"):
		meridiem = "AM"
	case strings.HasSuffix(raw, "PM"):
		meridiem = "PM"
	}
	if meridiem != "" {
		raw = strings.TrimSpace(strings.TrimSuffix(raw, meridiem))
	}

	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Clock{}, fmt.Errorf("time of day %q: want HH:mm or HH:mm:ss", s)
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Clock{}, fmt.Errorf("time of day %q: bad field %q", s, p)
		}
		nums[i] = n
	}
	c := Clock{Hour: nums[0], Minute: nums[1], Second: nums[2]}

	if meridiem != "" {
		if c.Hour < 1 || c.Hour > 12 {
			return Clock{}, fmt.Errorf("time of day %q: hour must be 1-12 with %s", s, meridiem)
		}
		if meridiem == "AM" && c.Hour == 12 {
			c.Hour = 0
		} else if meridiem == "PM" && c.Hour != 12 {
			c.Hour += 12
		}
	}

	if c.Hour > 23 || c.Minute > 59 || c.Second > 59 {
		return Clock{}, fmt.Errorf("time of day %q out of range", s)
	}
	return c, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Clock {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Of returns the clock reading of t.
func Of(t time.Time) Clock {
	return Clock{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

// On places the clock on the given calendar day in loc.
// Day overflow is normalized by time.Date.
func (c Clock) On(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, c.Hour, c.Minute, c.Second, 0, loc)
}

// Seconds returns seconds since midnight.
func (c Clock) Seconds() int {
	return c.Hour*3600 + c.Minute*60 + c.Second
}

// String renders HH:mm, or HH:mm:ss when seconds are set.
func (c Clock) String() string {
	if c.Second != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
	}
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}
