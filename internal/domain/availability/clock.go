package availability

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	// Office timezones must resolve even on hosts without a zoneinfo database.
	_ "time/tzdata"
)

var ErrInvalidClock = errors.New("invalid time of day")

// Clock is a wall-clock time of day parsed from "H:MM" or "HH:MM".
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses a strict 24-hour time of day. Hours are 0-23 with one or
// two digits, minutes are 00-59 with exactly two digits.
func ParseClock(s string) (Clock, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok || len(h) < 1 || len(h) > 2 || len(m) != 2 || !digits(h) || !digits(m) {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	hour, _ := strconv.Atoi(h)
	minute, _ := strconv.Atoi(m)
	if hour > 23 || minute > 59 {
		return Clock{}, fmt.Errorf("%w: %q out of range", ErrInvalidClock, s)
	}
	return Clock{Hour: hour, Minute: minute}, nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

// On places the clock on the calendar date of day in loc. Wall times that
// fall into a DST gap are normalized by time.Date.
func (c Clock) On(day time.Time, loc *time.Location) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, c.Hour, c.Minute, 0, 0, loc)
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}
