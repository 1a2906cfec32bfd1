package domain

import "time"

// CampaignType identifies where a recovery message sits in the escalation
// ladder.
type CampaignType string

const (
	CampaignImmediate      CampaignType = "immediate"
	CampaignGentleReminder CampaignType = "gentle_reminder"
	CampaignUrgent         CampaignType = "urgent"
	CampaignFinalCall      CampaignType = "final_call"
)

// CampaignStatus tracks a recovery campaign's lifecycle. Campaigns are never
// deleted; they are the audit trail of the recovery workflow.
type CampaignStatus string

const (
	CampaignPending    CampaignStatus = "PENDING"
	CampaignInProgress CampaignStatus = "IN_PROGRESS"
	CampaignSuccessful CampaignStatus = "SUCCESSFUL"
	CampaignFailed     CampaignStatus = "FAILED"
	CampaignExhausted  CampaignStatus = "EXHAUSTED"
)

// Incentive is the offer attached to a recovery message.
type Incentive struct {
	Type  string  `json:"type"` // "discount", "free_shipping", "none"
	Value float64 `json:"value,omitempty"`
}

// RecoveryCampaign is one outbound attempt to win back an abandoned cart.
type RecoveryCampaign struct {
	ID                  int64          `json:"id"`
	CartSessionID       int64          `json:"cart_session_id"`
	CustomerID          string         `json:"customer_id"`
	CampaignType        CampaignType   `json:"campaign_type"`
	Status              CampaignStatus `json:"status"`
	AttemptNumber       int            `json:"attempt_number"`
	MessageContent      string         `json:"message_content"`
	Incentive           *Incentive     `json:"incentive,omitempty"`
	FallbackUsed        bool           `json:"fallback_used"`
	ProviderMessageID   string         `json:"provider_message_id,omitempty"`
	SentAt              *time.Time     `json:"message_sent_at,omitempty"`
	CustomerRespondedAt *time.Time     `json:"customer_responded_at,omitempty"`
	CustomerResponse    string         `json:"customer_response,omitempty"`
	ResultedInRecovery  bool           `json:"resulted_in_recovery"`
	CreatedAt           time.Time      `json:"created_at"`
}
