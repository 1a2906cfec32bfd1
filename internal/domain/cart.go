package domain

import "time"

// CartStatus tracks a cart session through the recovery workflow.
type CartStatus string

const (
	CartActive    CartStatus = "ACTIVE"
	CartAbandoned CartStatus = "ABANDONED"
	CartRecovered CartStatus = "RECOVERED"
	CartExpired   CartStatus = "EXPIRED"
	CartCompleted CartStatus = "COMPLETED"
)

// Terminal reports whether no further recovery campaigns may target a cart
// in this status.
func (s CartStatus) Terminal() bool {
	switch s {
	case CartRecovered, CartExpired, CartCompleted:
		return true
	}
	return false
}

// AbandonmentReason classifies why a customer walked away from a cart.
type AbandonmentReason string

const (
	ReasonPricingConcern     AbandonmentReason = "PRICING_CONCERN"
	ReasonDeliveryIssue      AbandonmentReason = "DELIVERY_ISSUE"
	ReasonProductUnavailable AbandonmentReason = "PRODUCT_UNAVAILABLE"
	ReasonPaymentHesitation  AbandonmentReason = "PAYMENT_HESITATION"
	ReasonDistraction        AbandonmentReason = "CUSTOMER_DISTRACTION"
	ReasonUnknown            AbandonmentReason = "UNKNOWN"
)

// CartItem is one line in a captured cart.
type CartItem struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// CartSession is a snapshot of an in-progress order, materialized from
// conversation context when a session stalls. It is the unit the recovery
// workflow operates on.
type CartSession struct {
	ID                    int64             `json:"id"`
	CustomerID            string            `json:"customer_id"`
	GroupID               string            `json:"group_id,omitempty"`
	ConversationSessionID int64             `json:"conversation_session_id"`
	Items                 []CartItem        `json:"items"`
	EstimatedTotal        float64           `json:"estimated_total"`
	ItemsCount            int               `json:"items_count"`
	Status                CartStatus        `json:"status"`
	AbandonmentReason     AbandonmentReason `json:"abandonment_reason,omitempty"`
	AbandonedAt           *time.Time        `json:"abandoned_at,omitempty"`
	RecoveryAttempts      int               `json:"recovery_attempts"`
	LastRecoveryMessageAt *time.Time        `json:"last_recovery_message_at,omitempty"`
	RecoveredAt           *time.Time        `json:"recovered_at,omitempty"`
	CompletedOrderID      string            `json:"completed_order_id,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}
