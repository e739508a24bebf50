package availability

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidSlotConfiguration = errors.New("invalid slot configuration")

// SlotConfiguration bundles the slot grid parameters with one day's open periods.
type SlotConfiguration struct {
	SlotDuration time.Duration
	SlotBuffer   time.Duration
	Periods      []TimePeriod
}

// Step is the distance between consecutive slot starts.
func (c SlotConfiguration) Step() time.Duration {
	return c.SlotDuration + c.SlotBuffer
}

func (c SlotConfiguration) Validate() error {
	if c.SlotDuration <= 0 {
		return fmt.Errorf("%w: slot duration must be positive, got %s", ErrInvalidSlotConfiguration, c.SlotDuration)
	}
	if c.SlotBuffer < 0 {
		return fmt.Errorf("%w: slot buffer must not be negative, got %s", ErrInvalidSlotConfiguration, c.SlotBuffer)
	}
	for i, p := range c.Periods {
		if p.IsEmpty() {
			return fmt.Errorf("%w: period %d (%s) is empty", ErrInvalidSlotConfiguration, i, p)
		}
		for _, q := range c.Periods[i+1:] {
			if p.Overlaps(q) {
				return fmt.Errorf("%w: periods %s and %s overlap", ErrInvalidSlotConfiguration, p, q)
			}
		}
	}
	return nil
}
