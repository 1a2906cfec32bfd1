// Package llm wraps the external text-classification/generation API behind
// a rate-limited, circuit-broken gateway.
//
// The raw HTTP client lives in anthropic.go; everything else composes policy
// around it: a sliding-window rate limiter (ratelimit.go), a circuit breaker
// (breaker.go), retry with backoff (retry.go) and a usage ledger (usage.go).
// Callers go through Gateway, never the client directly.
package llm

import (
	"context"
	"strings"
	"time"
)

// Role constants for messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a Complete call.
type CompletionRequest struct {
	Model     string    `json:"model,omitempty"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"maxTokens,omitempty"`

	// Ledger attribution. Not sent to the provider.
	Method     string `json:"-"`
	CustomerID string `json:"-"`
}

// CompletionResponse is the result of a completion.
type CompletionResponse struct {
	Content    string        `json:"content"`
	StopReason string        `json:"stopReason,omitempty"`
	Usage      Usage         `json:"usage"`
	Model      string        `json:"model,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`

	// Degraded marks a canned response produced without reaching the
	// provider. Callers fall back to their own deterministic behavior.
	Degraded bool `json:"degraded,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Client is the interface the raw API provider implements.
type Client interface {
	// Complete sends a request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name (e.g., "anthropic").
	Name() string
}

// EstimateTokens gives a rough token count for a piece of text. Words
// times 1.3 tracks the provider's tokenizer closely enough for rate
// limiting purposes.
func EstimateTokens(text string) int {
	return int(float64(len(strings.Fields(text))) * 1.3)
}

// promptText flattens a request into the text the token estimate runs over.
func promptText(req CompletionRequest) string {
	var b strings.Builder
	b.WriteString(req.System)
	for _, m := range req.Messages {
		b.WriteString(" ")
		b.WriteString(m.Content)
	}
	return b.String()
}
