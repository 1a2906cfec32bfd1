package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcart/chatcart/internal/domain"
	"github.com/chatcart/chatcart/internal/llm"
)

func textMsg(body string) domain.InboundMessage {
	return domain.InboundMessage{From: "254700000001", Body: body, Type: domain.MessageText}
}

func TestKeywordIntent_Table(t *testing.T) {
	cases := []struct {
		body  string
		state domain.ConversationState
		want  domain.Intent
	}{
		{"", domain.StateIdle, domain.IntentUnknown},
		{"help", domain.StateIdle, domain.IntentGeneralInquiry},
		{"show me the menu", domain.StateIdle, domain.IntentGeneralInquiry},
		{"where is my order", domain.StateIdle, domain.IntentTrackOrder},
		{"status please", domain.StateIdle, domain.IntentTrackOrder},
		{"cancel it", domain.StateIdle, domain.IntentCancelOrder},
		{"i have a problem", domain.StateIdle, domain.IntentContactSupport},
		{"QWE123 Confirmed. Ksh450 sent to SHOP", domain.StateAwaitingPaymentConf, domain.IntentMpesaPayment},
		{"1", domain.StateAwaitingPayment, domain.IntentMpesaPayment},
		{"2", domain.StateAwaitingPayment, domain.IntentCashPayment},
		{"cash please", domain.StateAwaitingPayment, domain.IntentCashPayment},
		{"1", domain.StateWelcome, domain.IntentPlaceOrder},
		{"2 pairs of green socks", domain.StateAwaitingOrder, domain.IntentPlaceOrder},
	}

	for _, tc := range cases {
		got := KeywordIntent(textMsg(tc.body), tc.state)
		assert.Equal(t, tc.want, got, "body=%q state=%s", tc.body, tc.state)
	}
}

func TestButtonIntent(t *testing.T) {
	cases := map[string]domain.Intent{
		"track_order":     domain.IntentTrackOrder,
		"cancel_order_42": domain.IntentCancelOrder,
		"contact_support": domain.IntentContactSupport,
		"help_menu":       domain.IntentGeneralInquiry,
		"payment_mpesa":   domain.IntentMpesaPayment,
		"payment_cash":    domain.IntentCashPayment,
		"something_else":  domain.IntentUnknown,
	}
	for id, want := range cases {
		assert.Equal(t, want, buttonIntent(id), "button=%s", id)
	}
}

func TestParseIntentAnswer(t *testing.T) {
	got, ok := parseIntentAnswer("place_order")
	require.True(t, ok)
	assert.Equal(t, domain.IntentPlaceOrder, got)

	got, ok = parseIntentAnswer("The intent is: TRACK_ORDER.")
	require.True(t, ok)
	assert.Equal(t, domain.IntentTrackOrder, got)

	_, ok = parseIntentAnswer("I cannot classify this")
	assert.False(t, ok)
}

func TestDetect_FallsBackWhenGatewayFails(t *testing.T) {
	log := testLogger()
	client := &llm.MockClient{
		CompleteFunc: func(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, errors.New("API error (500): upstream down")
		},
	}
	gw := llm.NewGateway(llm.GatewayConfig{
		Client:  client,
		Limiter: llm.NewRateLimiter(100, 100000, 10000, log),
		Breaker: llm.NewCircuitBreaker(5, time.Minute, log),
	}, log)
	c := NewClassifier(gw, "test-model", 64, log)

	sess := &domain.ConversationSession{CustomerID: "254700000001", CurrentState: domain.StateIdle}
	got := c.Detect(context.Background(), sess, textMsg("cancel that please"))
	// Degraded gateway answer is ignored; keyword table wins.
	assert.Equal(t, domain.IntentCancelOrder, got)
}

func TestDetect_ButtonBeatsGateway(t *testing.T) {
	c := NewClassifier(nil, "", 0, testLogger())
	sess := &domain.ConversationSession{CustomerID: "254700000001", CurrentState: domain.StateWelcome}

	msg := domain.InboundMessage{
		From:     "254700000001",
		Type:     domain.MessageInteractive,
		ButtonID: "track_order",
	}
	assert.Equal(t, domain.IntentTrackOrder, c.Detect(context.Background(), sess, msg))
}
