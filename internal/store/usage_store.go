package store

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/chatcart/chatcart/internal/llm"
)

// UsageStore persists the AI API usage ledger.
type UsageStore struct {
	q querier
}

// NewUsageStore creates a usage store using the given database.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{q: db.sql}
}

// Record appends one API call to the ledger. Implements llm.UsageSink.
func (s *UsageStore) Record(e llm.UsageEntry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.q.Exec(
		`INSERT INTO api_usage (timestamp, provider, method, customer_id,
			estimated_tokens, tokens_used, response_tokens, success,
			response_time_ms, error_code, error_message, estimated_cost)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC().Format(time.DateTime), e.Provider, e.Method, e.CustomerID,
		e.EstimatedTokens, e.TokensUsed, e.ResponseTokens, boolToInt(e.Success),
		e.ResponseTimeMs, e.ErrorCode, e.ErrorMessage, e.EstimatedCost,
	)
	if err != nil {
		return fmt.Errorf("recording api usage: %w", err)
	}
	return nil
}

// RequestsOnDay counts ledger entries for a day given as "2006-01-02".
func (s *UsageStore) RequestsOnDay(day string) (int, error) {
	var n int
	err := s.q.QueryRow(
		`SELECT COUNT(*) FROM api_usage WHERE date(timestamp) = ?`, day,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting requests for %s: %w", day, err)
	}
	return n, nil
}

// TokensOnDay sums tokens used on a day given as "2006-01-02".
func (s *UsageStore) TokensOnDay(day string) (int, error) {
	var n int
	err := s.q.QueryRow(
		`SELECT COALESCE(SUM(tokens_used), 0) FROM api_usage WHERE date(timestamp) = ?`, day,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("summing tokens for %s: %w", day, err)
	}
	return n, nil
}

// UsageSummary aggregates the ledger over a period.
type UsageSummary struct {
	TotalCalls            int     `json:"total_calls"`
	SuccessfulCalls       int     `json:"successful_calls"`
	FailedCalls           int     `json:"failed_calls"`
	SuccessRate           float64 `json:"success_rate"`
	TotalTokens           int     `json:"total_tokens"`
	TotalCost             float64 `json:"total_cost"`
	AverageResponseTimeMs float64 `json:"average_response_time_ms"`
}

// ProviderUsage is one provider's (or one day's) share of the ledger.
type ProviderUsage struct {
	Calls  int     `json:"calls"`
	Tokens int     `json:"tokens"`
	Cost   float64 `json:"cost"`
}

// UsageStats is the full usage report for an ops endpoint.
type UsageStats struct {
	Summary        UsageSummary             `json:"summary"`
	ByProvider     map[string]ProviderUsage `json:"by_provider"`
	DailyBreakdown map[string]ProviderUsage `json:"daily_breakdown"`
}

// StatsSince builds a usage report covering entries at or after the cutoff.
func (s *UsageStore) StatsSince(since time.Time) (*UsageStats, error) {
	cutoff := since.UTC().Format(time.DateTime)

	stats := &UsageStats{
		ByProvider:     make(map[string]ProviderUsage),
		DailyBreakdown: make(map[string]ProviderUsage),
	}

	var avgLatency sql.NullFloat64
	err := s.q.QueryRow(
		`SELECT COUNT(*),
			COALESCE(SUM(success), 0),
			COALESCE(SUM(tokens_used), 0),
			COALESCE(SUM(estimated_cost), 0),
			AVG(response_time_ms)
		 FROM api_usage WHERE timestamp >= ?`, cutoff,
	).Scan(
		&stats.Summary.TotalCalls, &stats.Summary.SuccessfulCalls,
		&stats.Summary.TotalTokens, &stats.Summary.TotalCost, &avgLatency,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregating usage: %w", err)
	}

	stats.Summary.FailedCalls = stats.Summary.TotalCalls - stats.Summary.SuccessfulCalls
	if stats.Summary.TotalCalls > 0 {
		rate := float64(stats.Summary.SuccessfulCalls) / float64(stats.Summary.TotalCalls) * 100
		stats.Summary.SuccessRate = math.Round(rate*100) / 100
	}
	if avgLatency.Valid {
		stats.Summary.AverageResponseTimeMs = math.Round(avgLatency.Float64*100) / 100
	}

	if err := s.groupUsage(
		`SELECT provider, COUNT(*), COALESCE(SUM(tokens_used), 0), COALESCE(SUM(estimated_cost), 0)
		 FROM api_usage WHERE timestamp >= ? GROUP BY provider`,
		cutoff, stats.ByProvider,
	); err != nil {
		return nil, err
	}

	if err := s.groupUsage(
		`SELECT date(timestamp), COUNT(*), COALESCE(SUM(tokens_used), 0), COALESCE(SUM(estimated_cost), 0)
		 FROM api_usage WHERE timestamp >= ? GROUP BY date(timestamp)`,
		cutoff, stats.DailyBreakdown,
	); err != nil {
		return nil, err
	}

	return stats, nil
}

func (s *UsageStore) groupUsage(query, cutoff string, dest map[string]ProviderUsage) error {
	rows, err := s.q.Query(query, cutoff)
	if err != nil {
		return fmt.Errorf("grouping usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var u ProviderUsage
		if err := rows.Scan(&key, &u.Calls, &u.Tokens, &u.Cost); err != nil {
			return fmt.Errorf("scanning usage group: %w", err)
		}
		dest[key] = u
	}
	return rows.Err()
}

// ErrorSample is one failed call in an error report.
type ErrorSample struct {
	Timestamp    string `json:"timestamp"`
	Provider     string `json:"provider"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// ErrorAnalysis summarizes failed calls over a period.
type ErrorAnalysis struct {
	TotalErrors     int            `json:"total_errors"`
	ErrorTypes      map[string]int `json:"error_types"`
	RateLimitErrors int            `json:"rate_limit_errors"`
	RecentErrors    []ErrorSample  `json:"recent_errors"`
}

// ErrorsSince summarizes failed calls at or after the cutoff.
func (s *UsageStore) ErrorsSince(since time.Time) (*ErrorAnalysis, error) {
	cutoff := since.UTC().Format(time.DateTime)

	analysis := &ErrorAnalysis{ErrorTypes: make(map[string]int)}

	rows, err := s.q.Query(
		`SELECT error_code, COUNT(*) FROM api_usage
		 WHERE timestamp >= ? AND success = 0 GROUP BY error_code`, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("grouping errors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		var n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, fmt.Errorf("scanning error group: %w", err)
		}
		analysis.ErrorTypes[code] = n
		analysis.TotalErrors += n
		if code == "rate_limit_exceeded" {
			analysis.RateLimitErrors = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	recent, err := s.q.Query(
		`SELECT timestamp, provider, error_code, error_message FROM api_usage
		 WHERE timestamp >= ? AND success = 0 ORDER BY id DESC LIMIT 10`, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recent errors: %w", err)
	}
	defer recent.Close()

	for recent.Next() {
		var sample ErrorSample
		if err := recent.Scan(&sample.Timestamp, &sample.Provider, &sample.ErrorCode, &sample.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scanning recent error: %w", err)
		}
		analysis.RecentErrors = append(analysis.RecentErrors, sample)
	}
	return analysis, recent.Err()
}
