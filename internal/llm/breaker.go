package llm

import (
	"sync"
	"time"

	"github.com/chatcart/chatcart/internal/logging"
)

// Breaker states.
const (
	BreakerClosed   = "CLOSED"
	BreakerOpen     = "OPEN"
	BreakerHalfOpen = "HALF_OPEN"
)

// CircuitBreaker stops calls to the API after repeated consecutive
// failures. After a cooldown it lets one probe through (HALF_OPEN); a
// success closes it again, a failure re-opens it.
type CircuitBreaker struct {
	mu          sync.Mutex
	threshold   int
	cooldown    time.Duration
	failures    int
	lastFailure time.Time
	state       string

	now func() time.Time
	log *logging.Logger
}

// NewCircuitBreaker creates a closed breaker that opens once consecutive
// failures reach the threshold.
func NewCircuitBreaker(threshold int, cooldown time.Duration, log *logging.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     BreakerClosed,
		now:       time.Now,
		log:       log.Sub("breaker"),
	}
}

// CallAllowed reports whether a call may go out right now. An open
// breaker transitions to HALF_OPEN once the cooldown has passed.
func (b *CircuitBreaker) CallAllowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) >= b.cooldown {
			b.state = BreakerHalfOpen
			b.log.Info().Msg("circuit breaker half-open, probing")
			return true
		}
		return false
	}
	return false
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerClosed {
		b.log.Info().Msg("circuit breaker closed")
	}
	b.failures = 0
	b.state = BreakerClosed
}

// RecordFailure counts a failure and opens the breaker at the threshold.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	if b.failures >= b.threshold && b.state != BreakerOpen {
		b.state = BreakerOpen
		b.log.Warn().Int("failures", b.failures).Msg("circuit breaker opened")
	}
}

// State returns the breaker state as a string for status reporting.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
