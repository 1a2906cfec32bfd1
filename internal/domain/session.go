package domain

import "time"

// Context keys the state machine, validator, and detector read. Anything
// else in the context map is opaque payload owned by the conversation flow.
const (
	CtxPendingOrderID  = "pending_order_id"
	CtxLastOrderID     = "last_order_id"
	CtxPaymentMethod   = "selected_payment_method"
	CtxTrackingOrderID = "tracking_order_id"
	CtxOrderData       = "order_data"
	CtxExtractedItems  = "extracted_items"
	CtxEstimatedTotal  = "estimated_total"
	CtxRecentMessages  = "recent_messages"
)

// ConversationSession is the persistent record of one customer conversation
// thread. At most one active session per customer is authoritative; lookup
// order (most recently updated first) enforces that, not a DB constraint.
type ConversationSession struct {
	ID              int64             `json:"id"`
	CustomerID      string            `json:"customer_id"`
	CurrentState    ConversationState `json:"current_state"`
	Context         map[string]any    `json:"context"`
	LastInteraction time.Time         `json:"last_interaction"`
	IsActive        bool              `json:"is_active"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// HasContext reports whether any of the given keys holds a non-empty value.
func (s *ConversationSession) HasContext(keys ...string) bool {
	for _, k := range keys {
		v, ok := s.Context[k]
		if !ok || v == nil {
			continue
		}
		if str, isStr := v.(string); isStr && str == "" {
			continue
		}
		return true
	}
	return false
}

// ContextString returns the context value for key when it is a string.
func (s *ConversationSession) ContextString(key string) (string, bool) {
	v, ok := s.Context[key]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// MergeContext shallow-merges updates into the session context, overwriting
// existing keys and preserving everything else.
func (s *ConversationSession) MergeContext(updates map[string]any) {
	if len(updates) == 0 {
		return
	}
	if s.Context == nil {
		s.Context = make(map[string]any, len(updates))
	}
	for k, v := range updates {
		s.Context[k] = v
	}
}

// InactiveFor reports whether the session has seen no interaction for at
// least d as of now.
func (s *ConversationSession) InactiveFor(d time.Duration, now time.Time) bool {
	return now.Sub(s.LastInteraction) > d
}
