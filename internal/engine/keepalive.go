package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultKeepaliveTimeout bounds how long one hold may last.
const DefaultKeepaliveTimeout = 60 * time.Second

// Keepalive is a scoped hold that keeps the host from suspending work while
// tasks run. Acquire returns the release function; calling it more than
// once is harmless.
type Keepalive interface {
	Acquire() (release func())
}

// Hold is the default Keepalive. It tracks whether a hold is active and
// releases it on its own once the timeout elapses. Expiry only drops the
// hold; the running task is not cancelled.
//
// Thread-safety: Hold is safe for concurrent use.
type Hold struct {
	timeout   time.Duration
	afterFunc AfterFunc

	active   atomic.Int32
	acquired atomic.Int64
	expired  atomic.Int64
}

// NewHold creates a hold with the given timeout. Zero uses
// DefaultKeepaliveTimeout.
func NewHold(timeout time.Duration) *Hold {
	if timeout <= 0 {
		timeout = DefaultKeepaliveTimeout
	}
	return &Hold{timeout: timeout, afterFunc: systemAfterFunc}
}

// Acquire takes the hold.
func (h *Hold) Acquire() func() {
	h.active.Add(1)
	h.acquired.Add(1)

	var once sync.Once
	release := func() {
		once.Do(func() { h.active.Add(-1) })
	}

	timer := h.afterFunc(h.timeout, func() {
		released := true
		once.Do(func() {
			released = false
			h.active.Add(-1)
		})
		if !released {
			h.expired.Add(1)
			slog.Warn("keepalive expired before tasks finished", "timeout", h.timeout)
		}
	})

	return func() {
		timer.Stop()
		release()
	}
}

// Held reports whether any hold is active.
func (h *Hold) Held() bool {
	return h.active.Load() > 0
}

// Acquired returns how many holds were taken.
func (h *Hold) Acquired() int64 {
	return h.acquired.Load()
}

// Expired returns how many holds lapsed at the timeout.
func (h *Hold) Expired() int64 {
	return h.expired.Load()
}
