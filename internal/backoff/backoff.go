// Package backoff computes retry delays and tracks the current delay for
// each retryable facet of the registration engine.
//
// The delay sequence is: first failure yields Min, every further failure
// doubles the previous delay, capped at Max. A success resets the facet to
// zero. Counters are restorable so that a retry task fired after a restart
// can continue the sequence from the delay it carried.
package backoff

import (
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultMin is the delay after the first failure.
	DefaultMin = 10 * time.Second
	// DefaultMax caps the delay.
	DefaultMax = 5120 * time.Second
)

// Policy bounds the retry delay.
type Policy struct {
	Min time.Duration
	Max time.Duration
}

// DefaultPolicy returns the standard 10s..5120s policy.
func DefaultPolicy() Policy {
	return Policy{Min: DefaultMin, Max: DefaultMax}
}

// Validate checks that the bounds are usable.
func (p Policy) Validate() error {
	if p.Min <= 0 {
		return fmt.Errorf("backoff min must be positive, got %s", p.Min)
	}
	if p.Max < p.Min {
		return fmt.Errorf("backoff max %s is below min %s", p.Max, p.Min)
	}
	return nil
}

// Next returns max(min(prev*2, Max), Min).
func (p Policy) Next(prev time.Duration) time.Duration {
	next := prev * 2
	// prev*2 can overflow for absurd carried values.
	if next > p.Max || next < prev {
		next = p.Max
	}
	if next < p.Min {
		next = p.Min
	}
	return next
}

// Facet names one of the retryable operations.
type Facet int

const (
	ChannelRegistration Facet = iota
	PlatformRegistration
	NamedUser
	ChannelTags
	NamedUserTags
)

// Facets lists every facet.
var Facets = []Facet{ChannelRegistration, PlatformRegistration, NamedUser, ChannelTags, NamedUserTags}

func (f Facet) String() string {
	switch f {
	case ChannelRegistration:
		return "channel_registration"
	case PlatformRegistration:
		return "platform_registration"
	case NamedUser:
		return "named_user"
	case ChannelTags:
		return "channel_tags"
	case NamedUserTags:
		return "named_user_tags"
	default:
		return fmt.Sprintf("facet(%d)", int(f))
	}
}

// Counters holds the current delay per facet. The zero value is not usable;
// call NewCounters.
//
// Counters are written only from the single task worker, but status readers
// may run on other goroutines, hence the mutex.
type Counters struct {
	policy Policy

	mu     sync.Mutex
	delays map[Facet]time.Duration
}

// NewCounters returns counters at zero for every facet.
func NewCounters(p Policy) *Counters {
	return &Counters{policy: p, delays: make(map[Facet]time.Duration, len(Facets))}
}

// Policy returns the policy used for Fail.
func (c *Counters) Policy() Policy {
	return c.policy
}

// Get returns the current delay for f.
func (c *Counters) Get(f Facet) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delays[f]
}

// Fail advances f to the next delay and returns it.
func (c *Counters) Fail(f Facet) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.policy.Next(c.delays[f])
	c.delays[f] = next
	return next
}

// Reset sets f back to zero.
func (c *Counters) Reset(f Facet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.delays, f)
}

// Restore overwrites f with a carried value from a retry task. Negative
// values are treated as zero.
func (c *Counters) Restore(f Facet, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		delete(c.delays, f)
		return
	}
	c.delays[f] = d
}

// Snapshot returns a copy of all non-zero delays.
func (c *Counters) Snapshot() map[Facet]time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Facet]time.Duration, len(c.delays))
	for f, d := range c.delays {
		out[f] = d
	}
	return out
}
