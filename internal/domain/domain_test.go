package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- ConversationState tests ---

func TestCanTransition_AdjacencyTable(t *testing.T) {
	tests := []struct {
		name string
		from ConversationState
		to   ConversationState
		want bool
	}{
		{"initial to welcome", StateInitial, StateWelcome, true},
		{"welcome to order details", StateWelcome, StateAwaitingOrder, true},
		{"welcome to tracking", StateWelcome, StateTrackingOrder, true},
		{"welcome to support", StateWelcome, StateWaitingForSupport, true},
		{"welcome straight to payment", StateWelcome, StateAwaitingPayment, false},
		{"order details to payment", StateAwaitingOrder, StateAwaitingPayment, true},
		{"order details to confirmation", StateAwaitingOrder, StateAwaitingPaymentConf, false},
		{"payment to confirmation", StateAwaitingPayment, StateAwaitingPaymentConf, true},
		{"payment back to order details", StateAwaitingPayment, StateAwaitingOrder, true},
		{"confirmation back to payment", StateAwaitingPaymentConf, StateAwaitingPayment, true},
		{"confirmation to order details", StateAwaitingPaymentConf, StateAwaitingOrder, false},
		{"tracking to order details", StateTrackingOrder, StateAwaitingOrder, true},
		{"support to order details", StateWaitingForSupport, StateAwaitingOrder, true},
		{"support to tracking", StateWaitingForSupport, StateTrackingOrder, false},
		{"idle to welcome", StateIdle, StateWelcome, true},
		{"idle to payment", StateIdle, StateAwaitingPayment, true},
		{"re-welcome from tracking", StateTrackingOrder, StateWelcome, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestCanTransition_IdleAlwaysReachable(t *testing.T) {
	for _, from := range States() {
		assert.True(t, from.CanTransition(StateIdle), "IDLE must be reachable from %s", from)
	}
}

func TestParseState(t *testing.T) {
	st, ok := ParseState("AWAITING_PAYMENT")
	require.True(t, ok)
	assert.Equal(t, StateAwaitingPayment, st)

	_, ok = ParseState("awaiting_payment")
	assert.False(t, ok)

	_, ok = ParseState("")
	assert.False(t, ok)
}

func TestAllowedNext_ReturnsCopy(t *testing.T) {
	next := StateWelcome.AllowedNext()
	require.NotEmpty(t, next)
	next[0] = StateInitial

	assert.NotContains(t, StateWelcome.AllowedNext(), StateInitial)
}

func TestStateClassifiers(t *testing.T) {
	assert.True(t, StateAwaitingPayment.PaymentAdjacent())
	assert.True(t, StateAwaitingPaymentConf.PaymentAdjacent())
	assert.False(t, StateAwaitingOrder.PaymentAdjacent())

	assert.True(t, StateAwaitingOrder.OrderInProgress())
	assert.True(t, StateAwaitingPayment.OrderInProgress())
	assert.True(t, StateAwaitingPaymentConf.OrderInProgress())
	assert.False(t, StateWelcome.OrderInProgress())
	assert.False(t, StateIdle.OrderInProgress())
}

// --- ConversationSession tests ---

func TestSessionHasContext(t *testing.T) {
	s := &ConversationSession{Context: map[string]any{
		CtxPendingOrderID: "ORD-17",
		CtxPaymentMethod:  "",
		"note":            nil,
	}}

	assert.True(t, s.HasContext(CtxPendingOrderID))
	assert.True(t, s.HasContext(CtxLastOrderID, CtxPendingOrderID), "any key matching is enough")
	assert.False(t, s.HasContext(CtxPaymentMethod), "empty string does not count")
	assert.False(t, s.HasContext("note"), "nil value does not count")
	assert.False(t, s.HasContext(CtxTrackingOrderID))
}

func TestSessionContextString(t *testing.T) {
	s := &ConversationSession{Context: map[string]any{
		CtxLastOrderID:    "ORD-9",
		CtxEstimatedTotal: 1200.0,
	}}

	v, ok := s.ContextString(CtxLastOrderID)
	require.True(t, ok)
	assert.Equal(t, "ORD-9", v)

	_, ok = s.ContextString(CtxEstimatedTotal)
	assert.False(t, ok, "non-string values are not coerced")

	_, ok = s.ContextString("missing")
	assert.False(t, ok)
}

func TestSessionMergeContext(t *testing.T) {
	s := &ConversationSession{Context: map[string]any{
		"keep":           "original",
		CtxLastOrderID:   "ORD-1",
		CtxPaymentMethod: "mpesa",
	}}

	s.MergeContext(map[string]any{
		CtxLastOrderID: "ORD-2",
		"added":        true,
	})

	assert.Equal(t, "original", s.Context["keep"])
	assert.Equal(t, "ORD-2", s.Context[CtxLastOrderID])
	assert.Equal(t, "mpesa", s.Context[CtxPaymentMethod])
	assert.Equal(t, true, s.Context["added"])
}

func TestSessionMergeContext_NilMap(t *testing.T) {
	s := &ConversationSession{}
	s.MergeContext(nil)
	assert.Nil(t, s.Context)

	s.MergeContext(map[string]any{"a": 1})
	assert.Equal(t, 1, s.Context["a"])
}

func TestSessionInactiveFor(t *testing.T) {
	now := time.Now()
	s := &ConversationSession{LastInteraction: now.Add(-45 * time.Minute)}

	assert.True(t, s.InactiveFor(30*time.Minute, now))
	assert.False(t, s.InactiveFor(time.Hour, now))
}

// --- Cart tests ---

func TestCartStatusTerminal(t *testing.T) {
	tests := []struct {
		status CartStatus
		want   bool
	}{
		{CartActive, false},
		{CartAbandoned, false},
		{CartRecovered, true},
		{CartExpired, true},
		{CartCompleted, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Terminal())
		})
	}
}

// --- Intent tests ---

func TestParseIntent(t *testing.T) {
	assert.Equal(t, IntentPlaceOrder, ParseIntent("place_order"))
	assert.Equal(t, IntentMpesaPayment, ParseIntent("mpesa_payment"))
	assert.Equal(t, IntentUnknown, ParseIntent("order pizza"))
	assert.Equal(t, IntentUnknown, ParseIntent(""))
}

func TestParseReplyIntent(t *testing.T) {
	assert.Equal(t, ReplyContinueOrder, ParseReplyIntent("continue_order"))
	assert.Equal(t, ReplyNotInterested, ParseReplyIntent("not_interested"))
	assert.Equal(t, ReplyGeneral, ParseReplyIntent("something else"))
	assert.Equal(t, ReplyGeneral, ParseReplyIntent(""))
}

// --- JSON shape tests ---

func TestCampaignJSON_OmitsUnsetFields(t *testing.T) {
	c := RecoveryCampaign{
		ID:            1,
		CartSessionID: 2,
		CustomerID:    "254700111222",
		CampaignType:  CampaignGentleReminder,
		Status:        CampaignPending,
		AttemptNumber: 1,
	}

	data, err := json.Marshal(c)
	require.NoError(t, err)

	raw := string(data)
	assert.NotContains(t, raw, "incentive")
	assert.NotContains(t, raw, "message_sent_at")
	assert.NotContains(t, raw, "customer_responded_at")
	assert.NotContains(t, raw, "provider_message_id")
}

func TestIncentiveJSON(t *testing.T) {
	data, err := json.Marshal(Incentive{Type: "free_shipping"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"free_shipping"}`, string(data))

	data, err = json.Marshal(Incentive{Type: "discount", Value: 10})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"discount","value":10}`, string(data))
}
