// Package circuitbreaker implements a small closed/open/half-open breaker,
// used by the event source adapter to stop hammering an unreachable sensor
// and to surface SensorUnavailable promptly instead of retrying forever.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit breaker is open")

type state int

const (
	closed state = iota
	open
	halfOpen
)

// Config controls the breaker's trip and recovery behavior.
type Config struct {
	MaxFailures  int64
	ResetTimeout time.Duration
}

// Breaker guards calls to a flaky external collaborator.
type Breaker struct {
	config Config

	mu            sync.Mutex
	st            state
	failures      int64
	nextRetryTime time.Time
}

// New creates a Breaker, applying sensible defaults when unset.
func New(config Config) *Breaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	return &Breaker{config: config, st: closed}
}

// Execute runs fn through the breaker, returning ErrOpen without calling fn
// if the breaker is currently open.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	if b.st == open {
		if time.Now().Before(b.nextRetryTime) {
			b.mu.Unlock()
			return ErrOpen
		}
		b.st = halfOpen
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.failures >= b.config.MaxFailures {
			b.st = open
			b.nextRetryTime = time.Now().Add(b.config.ResetTimeout)
		}
		return err
	}
	b.failures = 0
	b.st = closed
	return nil
}

// IsOpen reports whether the breaker is currently rejecting calls.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st == open
}
