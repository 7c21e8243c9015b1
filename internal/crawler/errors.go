package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed marks an item-level remote failure such as an error envelope.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrNotFound marks a response that does not contain the requested item.
	ErrNotFound = errors.New("item not found in response")
	// ErrProxyUnavailable is returned when no egress identity can be acquired.
	ErrProxyUnavailable = errors.New("proxy unavailable")
	// ErrSessionBootstrap wraps failures while opening or authenticating the session.
	ErrSessionBootstrap = errors.New("session bootstrap failed")
)

// FetchError carries the error envelope returned by the platform.
type FetchError struct {
	Op      string
	Code    int
	Message string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: remote error %d: %s", e.Op, e.Code, e.Message)
}

// Unwrap lets errors.Is match ErrFetchFailed.
func (e *FetchError) Unwrap() error {
	return ErrFetchFailed
}

// IsItemLevel reports whether err only makes a single item unavailable.
func IsItemLevel(err error) bool {
	return errors.Is(err, ErrFetchFailed) || errors.Is(err, ErrNotFound)
}
