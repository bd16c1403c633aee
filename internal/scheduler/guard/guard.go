// Package guard holds preconditions shared by scheduler jobs.
package guard

import (
	"errors"
	"time"
)

var (
	ErrCycleAlreadyClosed = errors.New("usage_cycle_already_closed")
	ErrCycleNotElapsed    = errors.New("usage_cycle_not_elapsed")
)

// EnsureCycleCanClose rejects closing a cycle that is already closed or
// whose window has not ended yet.
func EnsureCycleCanClose(closed bool, endsAt, now time.Time) error {
	if closed {
		return ErrCycleAlreadyClosed
	}
	if now.Before(endsAt) {
		return ErrCycleNotElapsed
	}
	return nil
}
