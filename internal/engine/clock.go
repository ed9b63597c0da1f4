package engine

import "time"

// Clock supplies wall time for fire-at computation and snapshot ages.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Stopper cancels a pending timer.
type Stopper interface {
	Stop() bool
}

// AfterFunc arms f to run after d. time.AfterFunc is the production
// implementation; tests substitute one that never fires.
type AfterFunc func(d time.Duration, f func()) Stopper

func systemAfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}
