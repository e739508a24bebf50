package scheduling

import (
	"errors"
	"fmt"

	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/domain/availability"
)

var (
	// ErrNotFound is shared with the engine so loaders report missing keys
	// in the form the calculator expects.
	ErrNotFound = availability.ErrNotFound

	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidWorkPeriods  = fmt.Errorf("%w: invalid work periods", ErrInvalidInput)
	ErrOutsideWorkingHours = fmt.Errorf("%w: appointment is outside the provider's working hours", ErrInvalidInput)

	ErrDuplicateActiveSchedule = errors.New("an active work schedule already exists for this provider, office and day")
	ErrSlotTaken               = errors.New("time slot is no longer available")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrVersionConflict         = errors.New("resource was modified concurrently")
	ErrForbidden               = errors.New("forbidden")
)
