package llm

import "time"

// Pricing per 1K tokens, Haiku-class model.
const (
	inputCostPer1K  = 0.0008
	outputCostPer1K = 0.004
)

// UsageEntry is one API call recorded to the usage ledger.
type UsageEntry struct {
	Timestamp       time.Time
	Provider        string
	Method          string
	CustomerID      string
	EstimatedTokens int
	TokensUsed      int
	ResponseTokens  int
	Success         bool
	ResponseTimeMs  int64
	ErrorCode       string
	ErrorMessage    string
	EstimatedCost   float64
}

// UsageSink receives ledger entries. The store implements this; the
// gateway records every call, success or failure.
type UsageSink interface {
	Record(e UsageEntry) error
}

// EstimateCost converts token counts to an approximate dollar cost.
func EstimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*inputCostPer1K + float64(outputTokens)/1000*outputCostPer1K
}
