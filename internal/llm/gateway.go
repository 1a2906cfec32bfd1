package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chatcart/chatcart/internal/logging"
)

// Degraded responses keep the conversation flowing when the API is
// unavailable or returns nothing usable.
const (
	busyResponse     = "I'm currently experiencing high traffic. Please try again in a moment."
	filteredResponse = "I apologize, but I cannot process that request. Please try rephrasing or contact support for assistance."
)

// GatewayConfig bundles the gateway's collaborators and policy knobs.
type GatewayConfig struct {
	Client     Client
	Limiter    *RateLimiter
	Breaker    *CircuitBreaker
	Sink       UsageSink // optional; nil disables the ledger
	MaxRetries int
	BaseDelay  time.Duration
}

// Gateway is the sole caller of the AI provider. It layers the circuit
// breaker, rate limiter, retry policy and usage ledger around the raw
// client. One gateway is constructed at process start and shared; its
// limiter and breaker state are process-scoped, not cluster-wide.
type Gateway struct {
	client     Client
	limiter    *RateLimiter
	breaker    *CircuitBreaker
	sink       UsageSink
	maxRetries int
	baseDelay  time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	log   *logging.Logger
}

// NewGateway creates a gateway from its parts.
func NewGateway(cfg GatewayConfig, log *logging.Logger) *Gateway {
	return &Gateway{
		client:     cfg.Client,
		limiter:    cfg.Limiter,
		breaker:    cfg.Breaker,
		sink:       cfg.Sink,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		sleep:      sleepCtx,
		log:        log.Sub("gateway"),
	}
}

// Complete runs a completion through the full policy stack. API failures
// surface as a degraded canned response rather than an error so the
// conversation never hard-fails; the only errors returned are daily
// quota exhaustion and context cancellation.
func (g *Gateway) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if !g.breaker.CallAllowed() {
		g.log.Warn().Str("method", req.Method).Msg("circuit breaker open, returning degraded response")
		return &CompletionResponse{Content: busyResponse, Degraded: true}, nil
	}

	estimated := EstimateTokens(promptText(req))

	if err := g.limiter.Acquire(ctx, estimated); err != nil {
		if errors.Is(err, ErrDailyQuotaExhausted) {
			g.record(req, estimated, nil, 0, err)
		}
		return nil, err
	}

	start := time.Now()
	resp, err := g.callWithRetry(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.breaker.RecordFailure()
		g.record(req, estimated, nil, elapsed, err)
		g.log.Error().Err(err).Str("method", req.Method).Msg("API call failed, returning degraded response")
		return &CompletionResponse{Content: busyResponse, Degraded: true}, nil
	}

	g.breaker.RecordSuccess()

	if strings.TrimSpace(resp.Content) == "" {
		g.log.Warn().Str("method", req.Method).Msg("empty response from provider, likely content filtered")
		resp.Content = filteredResponse
		resp.Degraded = true
	}

	g.record(req, estimated, resp, elapsed, nil)
	g.warnQuotaThresholds()
	return resp, nil
}

// Usage exposes the limiter snapshot for status reporting.
func (g *Gateway) Usage() RateUsage {
	return g.limiter.Usage()
}

// BreakerState exposes the breaker state for status reporting.
func (g *Gateway) BreakerState() string {
	return g.breaker.State()
}

func (g *Gateway) callWithRetry(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		resp, err := g.client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsTransient(err) {
			g.log.Error().Err(err).Msg("non-transient API error")
			return nil, err
		}

		if attempt < g.maxRetries {
			delay := backoffDelay(g.baseDelay, attempt)
			g.log.Warn().Int("attempt", attempt+1).Dur("delay", delay).Msg("rate limit hit, retrying")
			if err := g.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("API call failed after %d attempts: %w", g.maxRetries+1, lastErr)
}

func (g *Gateway) record(req CompletionRequest, estimated int, resp *CompletionResponse, elapsed time.Duration, callErr error) {
	if g.sink == nil {
		return
	}

	method := req.Method
	if method == "" {
		method = "chat_completion"
	}

	e := UsageEntry{
		Timestamp:       time.Now(),
		Provider:        g.client.Name(),
		Method:          method,
		CustomerID:      req.CustomerID,
		EstimatedTokens: estimated,
		Success:         callErr == nil,
		ResponseTimeMs:  elapsed.Milliseconds(),
	}

	if resp != nil {
		in, out := resp.Usage.InputTokens, resp.Usage.OutputTokens
		if in+out > 0 {
			e.TokensUsed = in + out
			e.ResponseTokens = out
			e.EstimatedCost = EstimateCost(in, out)
		} else {
			// Provider omitted usage; fall back to the estimate.
			e.TokensUsed = estimated
		}
	}

	if callErr != nil {
		e.ErrorCode = ClassifyError(callErr)
		e.ErrorMessage = callErr.Error()
	}

	if err := g.sink.Record(e); err != nil {
		g.log.Error().Err(err).Msg("failed to record API usage")
	}
}

// warnQuotaThresholds logs once the daily request budget passes 75% and 90%.
func (g *Gateway) warnQuotaThresholds() {
	u := g.limiter.Usage()
	if u.DailyLimit == 0 {
		return
	}
	pct := float64(u.RequestsToday) / float64(u.DailyLimit) * 100
	if pct > 90 {
		g.log.Warn().Float64("percent", pct).Msg("API requests above 90% of daily limit")
	} else if pct > 75 {
		g.log.Info().Float64("percent", pct).Msg("API requests above 75% of daily limit")
	}
}
