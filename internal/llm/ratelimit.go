package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chatcart/chatcart/internal/logging"
)

// ErrDailyQuotaExhausted is returned when the per-day request cap is
// already met. Unlike the per-minute caps there is no point waiting.
var ErrDailyQuotaExhausted = errors.New("llm: daily API quota exhausted")

const rateWindow = time.Minute

type tokenUse struct {
	at time.Time
	n  int
}

// RateLimiter enforces sliding-window request and token caps plus a
// per-calendar-day request cap. State is process-local; horizontally
// scaled instances each get their own budget.
type RateLimiter struct {
	mu         sync.Mutex
	rpmLimit   int
	tpmLimit   int
	dailyLimit int

	requests    []time.Time
	tokens      []tokenUse
	day         string
	dayCount    int
	lastRequest time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	log   *logging.Logger
}

// NewRateLimiter creates a limiter with the given per-minute request,
// per-minute token and per-day request caps.
func NewRateLimiter(rpm, tpm, daily int, log *logging.Logger) *RateLimiter {
	l := &RateLimiter{
		rpmLimit:   rpm,
		tpmLimit:   tpm,
		dailyLimit: daily,
		now:        time.Now,
		sleep:      sleepCtx,
		log:        log.Sub("ratelimit"),
	}
	l.log.Info().Int("rpm", rpm).Int("tpm", tpm).Int("daily", daily).Msg("rate limiter initialized")
	return l
}

// Acquire blocks until the request fits the per-minute windows, then
// records it. It returns ErrDailyQuotaExhausted immediately when the
// daily cap is met, and the context error if the wait is cancelled.
func (l *RateLimiter) Acquire(ctx context.Context, estimatedTokens int) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.purge(now)
		l.rollDay(now)

		if l.dayCount >= l.dailyLimit {
			l.mu.Unlock()
			l.log.Warn().Int("limit", l.dailyLimit).Msg("daily request limit exceeded")
			return ErrDailyQuotaExhausted
		}

		wait := l.requiredWait(now, estimatedTokens)
		if wait <= 0 {
			l.requests = append(l.requests, now)
			l.tokens = append(l.tokens, tokenUse{at: now, n: estimatedTokens})
			l.dayCount++
			l.lastRequest = now
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		l.log.Info().Dur("wait", wait).Msg("rate limit hit, waiting")
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
		// re-validate after sleeping; the window may have refilled
		// from other callers in the meantime
	}
}

// requiredWait returns how long until the oldest blocking window entry
// expires, or zero when the request can proceed now. Caller holds the lock.
func (l *RateLimiter) requiredWait(now time.Time, estimatedTokens int) time.Duration {
	if len(l.requests) >= l.rpmLimit {
		return rateWindow - now.Sub(l.requests[0])
	}

	inWindow := 0
	for _, t := range l.tokens {
		inWindow += t.n
	}
	if inWindow+estimatedTokens > l.tpmLimit && len(l.tokens) > 0 {
		return rateWindow - now.Sub(l.tokens[0].at)
	}

	return 0
}

// purge drops window entries older than one minute. Caller holds the lock.
func (l *RateLimiter) purge(now time.Time) {
	cutoff := now.Add(-rateWindow)
	for len(l.requests) > 0 && l.requests[0].Before(cutoff) {
		l.requests = l.requests[1:]
	}
	for len(l.tokens) > 0 && l.tokens[0].at.Before(cutoff) {
		l.tokens = l.tokens[1:]
	}
}

// rollDay resets the daily counter when the calendar day changes.
// Caller holds the lock.
func (l *RateLimiter) rollDay(now time.Time) {
	day := now.Format(time.DateOnly)
	if day != l.day {
		l.day = day
		l.dayCount = 0
	}
}

// RateUsage is a snapshot of the limiter's windows.
type RateUsage struct {
	RequestsThisMinute int    `json:"requests_this_minute"`
	RPMLimit           int    `json:"rpm_limit"`
	TokensThisMinute   int    `json:"tokens_this_minute"`
	TPMLimit           int    `json:"tpm_limit"`
	RequestsToday      int    `json:"requests_today"`
	DailyLimit         int    `json:"daily_limit"`
	LastRequest        string `json:"last_request,omitempty"`
}

// Usage returns current rate limiting statistics.
func (l *RateLimiter) Usage() RateUsage {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.purge(now)
	l.rollDay(now)

	tokens := 0
	for _, t := range l.tokens {
		tokens += t.n
	}

	u := RateUsage{
		RequestsThisMinute: len(l.requests),
		RPMLimit:           l.rpmLimit,
		TokensThisMinute:   tokens,
		TPMLimit:           l.tpmLimit,
		RequestsToday:      l.dayCount,
		DailyLimit:         l.dailyLimit,
	}
	if !l.lastRequest.IsZero() {
		u.LastRequest = l.lastRequest.Format(time.RFC3339)
	}
	return u
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
