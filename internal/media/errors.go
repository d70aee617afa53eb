package media

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages.
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrQueueClosed     = errors.New("queue closed")
	ErrInvalidRequest  = errors.New("invalid scrape request")
	ErrStoreNotReady   = errors.New("store is not configured")
	ErrInvalidMediaRow = errors.New("invalid media record")
	ErrJobInterrupted  = errors.New("job interrupted by shutdown")
)

// FetchError reports that no HTML could be obtained for a URL.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("Cannot load HTML from %s", e.URL)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RenderError describes a failure inside the dynamic renderer. It is logged
// by the renderer and never crosses the Renderer interface.
type RenderError struct {
	URL   string
	Stage string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %s: %v", e.URL, e.Stage, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// PersistenceError wraps a storage failure; it fails the whole job attempt.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// QueueConnectionError reports that the queue broker stayed unreachable
// after the bounded reconnect attempts.
type QueueConnectionError struct {
	Addr     string
	Attempts int
	Err      error
}

func (e *QueueConnectionError) Error() string {
	return fmt.Sprintf("queue broker %s unreachable after %d attempts: %v", e.Addr, e.Attempts, e.Err)
}

func (e *QueueConnectionError) Unwrap() error { return e.Err }
