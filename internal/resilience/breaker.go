package resilience

import (
	"sync"
	"time"

	apperrors "github.com/authrelay/authrelay/internal/errors"
)

// BreakerState is the circuit state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	// WindowSize is the number of recent outcomes considered. Defaults
	// to 20.
	WindowSize int

	// MinRequests is the minimum outcomes in the window before the
	// failure ratio is meaningful. Defaults to 10.
	MinRequests int

	// FailureRatio opens the circuit when reached. Defaults to 0.5.
	FailureRatio float64

	// Cooldown before a half-open probe is allowed. Defaults to 20s.
	Cooldown time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.WindowSize <= 0 {
		c.WindowSize = 20
	}
	if c.MinRequests <= 0 {
		c.MinRequests = 10
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = 0.5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 20 * time.Second
	}
	return c
}

// ErrBreakerOpen is returned when the circuit rejects a call.
var ErrBreakerOpen = apperrors.New(apperrors.KindDependencyUnavailable, "circuit breaker open")

// Breaker is a sliding-window circuit breaker. Closed counts outcomes;
// when the failure ratio over the window crosses the threshold it
// opens and rejects calls until the cooldown, then admits a single
// half-open probe whose outcome closes or re-opens the circuit.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu        sync.Mutex
	state     BreakerState
	window    []bool // true = failure
	openedAt  time.Time
	probeBusy bool
	now       func() time.Time
}

// NewBreaker creates a breaker named for its dependency.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		state: BreakerClosed,
		now:   time.Now,
	}
}

// Name identifies the protected dependency.
func (b *Breaker) Name() string {
	return b.name
}

// State reports the current state, advancing open→half-open when the
// cooldown has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() BreakerState {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = BreakerHalfOpen
		b.probeBusy = false
	}
	return b.state
}

// Allow reports whether a call may proceed. In half-open, only one
// probe is admitted at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if b.probeBusy {
			return false
		}
		b.probeBusy = true
		return true
	default:
		return false
	}
}

// Record feeds a call outcome back. failed should be true for
// dependency failures only; rejected calls (ErrBreakerOpen) must not be
// recorded.
func (b *Breaker) Record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case BreakerHalfOpen:
		b.probeBusy = false
		if failed {
			b.state = BreakerOpen
			b.openedAt = b.now()
		} else {
			b.state = BreakerClosed
			b.window = b.window[:0]
		}
		return
	case BreakerOpen:
		return
	}

	b.window = append(b.window, failed)
	if len(b.window) > b.cfg.WindowSize {
		b.window = b.window[len(b.window)-b.cfg.WindowSize:]
	}
	if len(b.window) < b.cfg.MinRequests {
		return
	}
	failures := 0
	for _, f := range b.window {
		if f {
			failures++
		}
	}
	if float64(failures)/float64(len(b.window)) >= b.cfg.FailureRatio {
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.window = b.window[:0]
	}
}

// Do runs op through the breaker. Classified non-dependency errors
// (authentication, validation) count as successes for breaker purposes:
// the dependency answered.
func (b *Breaker) Do(op func() error) error {
	if !b.Allow() {
		return ErrBreakerOpen
	}
	err := op()
	b.Record(err != nil && apperrors.KindOf(err) == apperrors.KindDependencyUnavailable)
	return err
}
