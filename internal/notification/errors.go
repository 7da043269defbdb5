package notification

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRecurrence marks a malformed rule (empty weekday set,
	// out-of-range day-of-month, ...). Rejected at schedule time; the
	// notification stays a Draft.
	ErrInvalidRecurrence = errors.New("invalid recurrence rule")

	// ErrDirectoryUnavailable marks a hard audience-resolution failure.
	// It fails the whole dispatch cycle, unlike per-recipient errors.
	ErrDirectoryUnavailable = errors.New("user directory unavailable")
)

// InvalidTransitionError reports a lifecycle transition attempted from a
// state that does not permit it.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}
