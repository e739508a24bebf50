package availability

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned by loaders when a keyed record does not exist.
	ErrNotFound = errors.New("not found")
)

// CalculationError wraps an expected input failure with a message that is
// safe to show to callers. The cause stays reachable through Unwrap.
type CalculationError struct {
	Message string
	Err     error
}

func (e *CalculationError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *CalculationError) Unwrap() error { return e.Err }

// IsExpected reports whether err belongs to the recoverable input class.
func IsExpected(err error) bool {
	return errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidClock)
}
