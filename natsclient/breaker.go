package natsclient

import (
	"sync"
	"time"
)

// breaker guards Connect. It opens after threshold consecutive failures and
// refuses attempts until the current backoff has passed; the first attempt
// after that is let through (half-open). Every opening doubles the backoff up
// to max. A success closes it and resets everything.
type breaker struct {
	mu        sync.Mutex
	threshold int
	base      time.Duration
	max       time.Duration
	now       func() time.Time

	consecutive int
	total       int
	backoff     time.Duration
	openUntil   time.Time
	lastFailure time.Time
}

func newBreaker(threshold int, base, max time.Duration) *breaker {
	return &breaker{
		threshold: threshold,
		base:      base,
		max:       max,
		now:       time.Now,
		backoff:   base,
	}
}

// allow reports whether a connect attempt may run now.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.openUntil)
}

// failure records a failed attempt. When it opens the breaker it returns
// true and how long the breaker stays open.
func (b *breaker) failure() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.consecutive++
	b.total++
	b.lastFailure = now

	if b.consecutive < b.threshold {
		return false, 0
	}

	wait := b.backoff
	b.consecutive = 0
	b.openUntil = now.Add(wait)
	b.backoff *= 2
	if b.backoff > b.max {
		b.backoff = b.max
	}
	return true, wait
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
	b.total = 0
	b.backoff = b.base
	b.openUntil = time.Time{}
	b.lastFailure = time.Time{}
}

type breakerState struct {
	open        bool
	failures    int
	backoff     time.Duration
	lastFailure time.Time
}

func (b *breaker) state() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return breakerState{
		open:        b.now().Before(b.openUntil),
		failures:    b.total,
		backoff:     b.backoff,
		lastFailure: b.lastFailure,
	}
}
