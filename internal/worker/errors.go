package worker

import (
	"errors"
	"fmt"
)

var (
	// ErrNotCached is the cache-miss condition. It only ever triggers the
	// next step of a strategy.
	ErrNotCached = errors.New("not found in cache")
	// ErrNoResponse means every step of a strategy failed and no offline
	// document applies. The client sees a network error.
	ErrNoResponse = errors.New("no response")
	// ErrInstall marks a failed install attempt. Nothing was precached.
	ErrInstall = errors.New("install failed")
	// ErrInvalidState is returned when a lifecycle step is attempted out of order.
	ErrInvalidState = errors.New("invalid worker state")
	// ErrAlreadyResponded is returned by a second RespondWith on one event.
	ErrAlreadyResponded = errors.New("event already responded to")
)

// NetworkError is a failed network fetch: the upstream could not be
// reached or the body could not be read. HTTP error statuses are
// responses, not NetworkErrors.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
