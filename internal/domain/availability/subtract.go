package availability

import (
	"sort"
	"time"
)

// AvailablePeriods subtracts every busy period from the open periods and
// returns the remaining fragments ordered by start. Busy periods are applied
// cumulatively to the current fragment set, so the result does not depend on
// their order. Empty inputs and zero-length fragments are dropped.
func AvailablePeriods(open, busy []TimePeriod) []TimePeriod {
	fragments := make([]TimePeriod, 0, len(open))
	for _, p := range open {
		if !p.IsEmpty() {
			fragments = append(fragments, p)
		}
	}

	for _, b := range busy {
		if b.IsEmpty() {
			continue
		}
		next := make([]TimePeriod, 0, len(fragments)+1)
		for _, f := range fragments {
			next = subtract(next, f, b)
		}
		fragments = next
	}

	sort.SliceStable(fragments, func(i, j int) bool {
		return fragments[i].Start.Before(fragments[j].Start)
	})
	return fragments
}

// subtract appends what remains of open after removing busy.
func subtract(dst []TimePeriod, open, busy TimePeriod) []TimePeriod {
	startCovered := !busy.Start.After(open.Start)
	endCovered := !busy.End.Before(open.End)

	switch {
	case !open.Overlaps(busy):
		return append(dst, open)
	case startCovered && endCovered:
		return dst
	case startCovered:
		return keep(dst, busy.End, open.End)
	case endCovered:
		return keep(dst, open.Start, busy.Start)
	default:
		dst = keep(dst, open.Start, busy.Start)
		return keep(dst, busy.End, open.End)
	}
}

func keep(dst []TimePeriod, start, end time.Time) []TimePeriod {
	if !start.Before(end) {
		return dst
	}
	return append(dst, TimePeriod{Start: start, End: end})
}
