package llm

import (
	"errors"
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerProbing // cooldown elapsed, one call is testing the provider
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// BreakerConfig controls when a provider is treated as down.
type BreakerConfig struct {
	// Threshold is the number of consecutive outage errors that opens the breaker.
	Threshold int
	// Cooldown is how long an open breaker rejects calls before letting a probe through.
	Cooldown time.Duration
}

// DefaultBreakerConfig trips after 5 consecutive outages and probes again after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second}
}

// breaker fails calls to one provider fast while it is down, so a batch of
// queued jobs does not each wait out a full timeout. Only outages count:
// bad requests and auth failures leave it alone.
type breaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	state    breakerState
	fails    int
	openedAt time.Time
	now      func() time.Time
}

func newBreaker(cfg BreakerConfig) *breaker {
	def := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &breaker{cfg: cfg, now: time.Now}
}

// admit reports whether a call may proceed. When it may not, it returns the
// time left until the next probe.
func (b *breaker) admit() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if wait := b.cfg.Cooldown - b.now().Sub(b.openedAt); wait > 0 {
			return wait, false
		}
		b.state = breakerProbing
		return 0, true
	case breakerProbing:
		return b.cfg.Cooldown, false
	default:
		return 0, true
	}
}

// record feeds the outcome of an admitted call back into the breaker.
func (b *breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !isOutage(err) {
		b.fails = 0
		b.state = breakerClosed
		return
	}

	b.fails++
	if b.state == breakerProbing || b.fails >= b.cfg.Threshold {
		b.state = breakerOpen
		b.openedAt = b.now()
	}
}

func (b *breaker) snapshot() (breakerState, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.fails
}

// isOutage reports whether err means the provider itself is unavailable.
func isOutage(err error) bool {
	if err == nil {
		return false
	}
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return true
	}
	var pErr *ProviderError
	return errors.As(err, &pErr) && pErr.Retryable
}
