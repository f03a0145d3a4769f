// Package resilience provides the circuit breaker guarding calls to remote
// systems, such as media downloads from arbitrary URLs.
//
// Breaker is a classic three-state breaker (closed → open → half-open):
// consecutive failures trip it open, calls are then rejected immediately until
// a cool-down elapses, after which a limited number of probe calls decide
// whether it closes again.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker is open.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	defaultTripAfter  = 5
	defaultCooldown   = 30 * time.Second
	defaultProbeQuota = 3
)

// Option configures a [Breaker].
type Option func(*Breaker)

// WithTripAfter sets how many consecutive failures open the breaker.
func WithTripAfter(n int) Option {
	return func(b *Breaker) { b.tripAfter = n }
}

// WithCooldown sets how long the breaker stays open before probing.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) { b.cooldown = d }
}

// WithProbeQuota sets how many probe calls the half-open state admits.
func WithProbeQuota(n int) Option {
	return func(b *Breaker) { b.probeQuota = n }
}

// WithLogger sets the logger used for state transition messages.
func WithLogger(log *slog.Logger) Option {
	return func(b *Breaker) { b.log = log }
}

// Breaker is a three-state circuit breaker. It is safe for concurrent use.
type Breaker struct {
	name       string
	tripAfter  int
	cooldown   time.Duration
	probeQuota int
	log        *slog.Logger

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	probeFail int
}

// NewBreaker returns a closed [Breaker]. The name appears in log messages.
func NewBreaker(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:       name,
		tripAfter:  defaultTripAfter,
		cooldown:   defaultCooldown,
		probeQuota: defaultProbeQuota,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.tripAfter <= 0 {
		b.tripAfter = defaultTripAfter
	}
	if b.cooldown <= 0 {
		b.cooldown = defaultCooldown
	}
	if b.probeQuota <= 0 {
		b.probeQuota = defaultProbeQuota
	}
	return b
}

// Do runs fn if the breaker admits the call, and feeds the outcome back into
// the breaker state. While open it returns [ErrOpen] without calling fn.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if time.Since(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.probes = 0
		b.probeFail = 0
		b.log.Info("circuit breaker probing", "name", b.name)
	case HalfOpen:
		if b.probes >= b.probeQuota {
			b.mu.Unlock()
			return ErrOpen
		}
	}
	probing := b.state == HalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.openedAt = time.Now()
	if probing {
		b.probeFail++
		b.state = Open
		b.failures = b.tripAfter
		b.log.Warn("circuit breaker re-opened", "name", b.name)
		return
	}
	b.failures++
	if b.failures >= b.tripAfter && b.state == Closed {
		b.state = Open
		b.log.Warn("circuit breaker opened",
			"name", b.name, "consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probes-b.probeFail >= b.probeQuota {
			b.state = Closed
			b.failures = 0
			b.log.Info("circuit breaker closed", "name", b.name)
		}
		return
	}
	b.failures = 0
}

// State reports the breaker's mode. An open breaker whose cool-down has
// elapsed reports [HalfOpen]; the transition itself happens on the next call
// to [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.openedAt) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [Closed].
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probes = 0
	b.probeFail = 0
}
