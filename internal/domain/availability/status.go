package availability

import (
	"fmt"
	"strings"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

var validStatuses = map[AppointmentStatus]bool{
	StatusPending:   true,
	StatusConfirmed: true,
	StatusCancelled: true,
	StatusCompleted: true,
}

var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

func (s AppointmentStatus) Valid() bool { return validStatuses[s] }

// Terminal statuses accept no further transitions.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether an appointment may move from one status to another.
func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// BlockingPredicate decides whether an appointment in a given status
// occupies provider time.
type BlockingPredicate func(AppointmentStatus) bool

// DefaultBlocking treats pending and confirmed appointments as blocking.
var DefaultBlocking = BlockingStatuses(StatusPending, StatusConfirmed)

func BlockingStatuses(statuses ...AppointmentStatus) BlockingPredicate {
	set := make(map[AppointmentStatus]bool, len(statuses))
	for _, s := range statuses {
		set[s] = true
	}
	return func(s AppointmentStatus) bool { return set[s] }
}

// ParseStatuses parses a comma separated status list such as "pending,confirmed".
func ParseStatuses(raw string) ([]AppointmentStatus, error) {
	var out []AppointmentStatus
	for _, part := range strings.Split(raw, ",") {
		s := AppointmentStatus(strings.ToLower(strings.TrimSpace(part)))
		if s == "" {
			continue
		}
		if !s.Valid() {
			return nil, fmt.Errorf("%w: unknown appointment status %q", ErrInvalidArgument, part)
		}
		out = append(out, s)
	}
	return out, nil
}
