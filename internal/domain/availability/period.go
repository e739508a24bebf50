package availability

import (
	"time"
)

// TimePeriod is a half-open interval [Start, End). A period whose start is
// not before its end is empty and contributes no availability.
type TimePeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewTimePeriod(start, end time.Time) TimePeriod {
	return TimePeriod{Start: start, End: end}
}

// IsEmpty reports whether the period covers no instant.
func (p TimePeriod) IsEmpty() bool {
	return !p.Start.Before(p.End)
}

// Duration returns End - Start, or zero for an empty period.
func (p TimePeriod) Duration() time.Duration {
	if p.IsEmpty() {
		return 0
	}
	return p.End.Sub(p.Start)
}

// Overlaps reports whether the two periods share at least one instant.
// Touching periods (p.End == o.Start) do not overlap.
func (p TimePeriod) Overlaps(o TimePeriod) bool {
	return Overlaps(p.Start, p.End, o.Start, o.End)
}

// Contains reports whether t lies in [Start, End).
func (p TimePeriod) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Covers reports whether o lies entirely within p.
func (p TimePeriod) Covers(o TimePeriod) bool {
	return !o.Start.Before(p.Start) && !o.End.After(p.End)
}

// Equal compares instants, ignoring location.
func (p TimePeriod) Equal(o TimePeriod) bool {
	return p.Start.Equal(o.Start) && p.End.Equal(o.End)
}

func (p TimePeriod) String() string {
	return p.Start.Format("2006-01-02 15:04") + "-" + p.End.Format("15:04")
}
