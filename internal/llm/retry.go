package llm

import (
	"strings"
	"time"
)

// IsTransient reports whether an error looks like a rate-limit or quota
// problem worth retrying. Anything else propagates immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "quota exceeded") ||
		strings.Contains(msg, "too many requests")
}

// ClassifyError maps an API error to a ledger error code.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.Contains(msg, "429") {
		return "rate_limit_exceeded"
	}
	if strings.Contains(strings.ToLower(msg), "quota") {
		return "quota_exceeded"
	}
	return "api_error"
}

// backoffDelay is base * 2^attempt plus ten percent.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base * (1 << attempt)
	return d + d/10
}
