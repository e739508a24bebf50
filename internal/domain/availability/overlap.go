package availability

import "time"

// Overlaps is the half-open overlap rule shared by schedule validation,
// the booking write path and slot classification.
func Overlaps(startA, endA, startB, endB time.Time) bool {
	return startA.Before(endB) && startB.Before(endA)
}
