package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRedundantEvent = errors.New("redundant event")
	ErrNoPriceData    = errors.New("no native price data")
	ErrNotImplemented = errors.New("sub-kind not implemented")
	ErrUnknownDecoder = errors.New("no decoder registered for kind")
	ErrLockHeld       = errors.New("lock already held")
	ErrContextDone    = errors.New("context cancelled")
)

// ThrottledError is returned by rate-limited external providers. It carries
// the delay after which the caller should reschedule the request. Callers
// must honor RetryAfter instead of retrying immediately.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("throttled, retry after %s", e.RetryAfter)
}

// IsThrottled reports whether err wraps a ThrottledError and returns the
// requested delay when it does.
func IsThrottled(err error) (time.Duration, bool) {
	var te *ThrottledError
	if errors.As(err, &te) {
		return te.RetryAfter, true
	}
	return 0, false
}
