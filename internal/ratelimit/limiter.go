// Package ratelimit implements a weighted sliding-window rate limiter
// for sensitive operation classes. Each (class, key) pair gets its own
// window; counts from the previous window are weighted by how much of
// it still overlaps the current one.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Class identifies an operation class with its own budget.
type Class string

const (
	ClassAuth   Class = "auth"   // login, register, 2fa verify
	ClassReset  Class = "reset"  // password reset request/confirm
	ClassVerify Class = "verify" // email verification and change
	ClassOTP    Class = "otp"    // challenge code attempts
)

// LimitExceededError carries how long the caller should wait.
type LimitExceededError struct {
	Class      Class
	RetryAfter time.Duration
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Class, e.RetryAfter)
}

type window struct {
	start     time.Time
	count     int
	prevCount int
}

// Limiter admits or rejects operations per (class, key). Windows reset
// lazily on access; idle entries are dropped by an occasional sweep so
// the map does not grow with every address ever seen.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	budgets map[Class]int
	period  time.Duration
	now     func() time.Time

	lastSweep time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter with the given window length and per-class budgets.
func New(period time.Duration, budgets map[Class]int, opts ...Option) *Limiter {
	l := &Limiter{
		windows: make(map[string]*window),
		budgets: budgets,
		period:  period,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep = l.now()
	return l
}

// Admit records an attempt for the key under the class. It returns a
// LimitExceededError when the weighted count would exceed the budget;
// rejected attempts are not recorded.
func (l *Limiter) Admit(class Class, key string) error {
	budget, ok := l.budgets[class]
	if !ok || budget <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybeSweep(now)

	mapKey := string(class) + ":" + key
	w, ok := l.windows[mapKey]
	if !ok {
		w = &window{start: now}
		l.windows[mapKey] = w
	}

	elapsed := now.Sub(w.start)
	switch {
	case elapsed >= 2*l.period:
		// Both windows fully in the past.
		w.start = now
		w.count = 0
		w.prevCount = 0
	case elapsed >= l.period:
		// Roll the current window into the previous slot.
		w.start = w.start.Add(l.period)
		w.prevCount = w.count
		w.count = 0
	}

	// Weight the previous window by its remaining overlap.
	overlap := 1.0 - float64(now.Sub(w.start))/float64(l.period)
	weighted := float64(w.count) + float64(w.prevCount)*overlap

	if weighted+1 > float64(budget) {
		return &LimitExceededError{
			Class:      class,
			RetryAfter: l.retryAfter(w, budget, now),
		}
	}

	w.count++
	return nil
}

// retryAfter estimates when the weighted count will drop below budget.
// With no previous-window contribution the caller must wait out the
// rest of the current window.
func (l *Limiter) retryAfter(w *window, budget int, now time.Time) time.Duration {
	remaining := w.start.Add(l.period).Sub(now)
	if w.prevCount == 0 {
		return remaining
	}
	// Need overlap small enough that count + prev*overlap < budget.
	needed := float64(budget-1-w.count) / float64(w.prevCount)
	if needed >= 1 {
		return time.Second
	}
	if needed < 0 {
		return remaining
	}
	wait := time.Duration((1 - needed) * float64(l.period))
	wait -= now.Sub(w.start)
	if wait < time.Second {
		wait = time.Second
	}
	return time.Duration(math.Min(float64(wait), float64(remaining)))
}

// maybeSweep drops entries idle for two full windows. Runs at most once
// per period while the lock is held.
func (l *Limiter) maybeSweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.period {
		return
	}
	l.lastSweep = now
	for key, w := range l.windows {
		if now.Sub(w.start) >= 2*l.period {
			delete(l.windows, key)
		}
	}
}
