package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcart/chatcart/internal/domain"
	"github.com/chatcart/chatcart/internal/llm"
	"github.com/chatcart/chatcart/internal/trace"
)

// fakeMessenger records outbound messages.
type fakeMessenger struct {
	mu   sync.Mutex
	sent []domain.OutboundMessage
}

func (f *fakeMessenger) Send(_ context.Context, msg domain.OutboundMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return "msg-1", nil
}

func (f *fakeMessenger) last(t *testing.T) domain.OutboundMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func testManager(t *testing.T) (*Manager, *StateMachine, *trace.Tracer, *fakeMessenger) {
	t.Helper()
	m, _, tracer := testMachine(t)
	msgr := &fakeMessenger{}
	// No gateway: intent detection exercises the keyword fallback.
	classifier := NewClassifier(nil, "", 0, testLogger())
	mgr := NewManager(m, classifier, msgr, nil, testLogger())
	return mgr, m, tracer, msgr
}

func inbound(body string) domain.InboundMessage {
	return domain.InboundMessage{
		From:      "254700000001",
		Body:      body,
		Type:      domain.MessageText,
		Timestamp: time.Now(),
	}
}

func currentState(t *testing.T, m *StateMachine) domain.ConversationState {
	t.Helper()
	sess, err := m.GetOrCreateSession("254700000001")
	require.NoError(t, err)
	return sess.CurrentState
}

func TestHandleMessage_FirstContactWelcomes(t *testing.T) {
	mgr, m, _, msgr := testManager(t)

	mgr.HandleMessage(context.Background(), inbound("hi"))

	assert.Equal(t, domain.StateWelcome, currentState(t, m))
	reply := msgr.last(t)
	assert.Contains(t, reply.Body, "Welcome")
	assert.Len(t, reply.QuickReplies, 3)
}

// A menu pick from WELCOME moves to order details, never straight to
// payment, and no premature-jump issue is recorded.
func TestHandleMessage_MenuPickFromWelcome(t *testing.T) {
	mgr, m, tracer, _ := testManager(t)
	sessionInState(t, m, "254700000001", domain.StateWelcome)

	mgr.HandleMessage(context.Background(), inbound("1"))

	assert.Equal(t, domain.StateAwaitingOrder, currentState(t, m))
	for _, tr := range tracer.ForCustomer("254700000001", 0) {
		assert.NotContains(t, tr.Issues, "Premature jump to payment without order details")
	}
}

// Order text while awaiting details populates the order context and moves
// to payment; no ignored-input issue is recorded.
func TestHandleMessage_OrderDetailsCaptured(t *testing.T) {
	mgr, m, tracer, msgr := testManager(t)
	sessionInState(t, m, "254700000001", domain.StateAwaitingOrder)

	mgr.HandleMessage(context.Background(), inbound("2 pairs of green socks"))

	sess, err := m.GetOrCreateSession("254700000001")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingPayment, sess.CurrentState)
	assert.Equal(t, "2 pairs of green socks", sess.Context[domain.CtxOrderData])
	assert.NotEmpty(t, sess.Context[domain.CtxPendingOrderID])

	for _, tr := range tracer.ForCustomer("254700000001", 0) {
		for _, issue := range tr.Issues {
			assert.NotContains(t, issue, "may have been ignored")
		}
	}

	reply := msgr.last(t)
	assert.Len(t, reply.QuickReplies, 2)
}

func TestHandleMessage_FullOrderFlow(t *testing.T) {
	mgr, m, _, msgr := testManager(t)
	ctx := context.Background()

	mgr.HandleMessage(ctx, inbound("hello"))                           // INITIAL -> WELCOME
	mgr.HandleMessage(ctx, inbound("1"))                               // WELCOME -> AWAITING_ORDER_DETAILS
	mgr.HandleMessage(ctx, inbound("3 sodas"))                         // -> AWAITING_PAYMENT
	mgr.HandleMessage(ctx, inbound("1"))                               // -> AWAITING_PAYMENT_CONFIRMATION (mpesa)
	mgr.HandleMessage(ctx, inbound("QWE123 Confirmed. Ksh450 sent to")) // -> IDLE, order complete

	sess, err := m.GetOrCreateSession("254700000001")
	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, sess.CurrentState)
	assert.Equal(t, "mpesa", sess.Context[domain.CtxPaymentMethod])
	assert.NotEmpty(t, sess.Context[domain.CtxLastOrderID])
	assert.Empty(t, sess.Context[domain.CtxPendingOrderID])
	assert.Contains(t, msgr.last(t).Body, "ORDER CONFIRMATION")
}

func TestHandleMessage_TrackWithoutOrder(t *testing.T) {
	mgr, m, _, msgr := testManager(t)
	sessionInState(t, m, "254700000001", domain.StateIdle)

	mgr.HandleMessage(context.Background(), inbound("where is my order"))

	assert.Equal(t, domain.StateIdle, currentState(t, m))
	assert.Contains(t, msgr.last(t).Body, "couldn't find a recent order")
}

func TestHandleMessage_TrackWithOrder(t *testing.T) {
	mgr, m, _, msgr := testManager(t)
	sess := sessionInState(t, m, "254700000001", domain.StateIdle)
	sess.Context = map[string]any{domain.CtxLastOrderID: "ORD-7"}
	require.NoError(t, m.sessions.Update(sess))

	mgr.HandleMessage(context.Background(), inbound("track my order"))

	got, err := m.GetOrCreateSession("254700000001")
	require.NoError(t, err)
	assert.Equal(t, domain.StateTrackingOrder, got.CurrentState)
	assert.Equal(t, "ORD-7", got.Context[domain.CtxTrackingOrderID])
	assert.Contains(t, msgr.last(t).Body, "ORD-7")
}

func TestHandleMessage_HelpKeepsState(t *testing.T) {
	mgr, m, _, msgr := testManager(t)
	sessionInState(t, m, "254700000001", domain.StateAwaitingOrder)

	mgr.HandleMessage(context.Background(), inbound("help"))

	assert.Equal(t, domain.StateAwaitingOrder, currentState(t, m))
	assert.Contains(t, msgr.last(t).Body, "how I can help")
}

func TestHandleMessage_RecentMessagesCapped(t *testing.T) {
	mgr, m, _, _ := testManager(t)
	ctx := context.Background()

	for _, body := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		mgr.HandleMessage(ctx, inbound(body))
	}

	sess, err := m.GetOrCreateSession("254700000001")
	require.NoError(t, err)
	recent, ok := sess.Context[domain.CtxRecentMessages].([]any)
	require.True(t, ok)
	require.Len(t, recent, maxRecentMessages)
	assert.Equal(t, "g", recent[len(recent)-1])
}

// trackerStub simulates the recovery engine claiming a message.
type trackerStub struct {
	handled   bool
	seen      []string
	recovered []string // order ids passed to CompleteRecovery
}

func (s *trackerStub) TrackResponse(_ context.Context, _, message string) (bool, error) {
	s.seen = append(s.seen, message)
	return s.handled, nil
}

func (s *trackerStub) CompleteRecovery(_, orderID string) error {
	s.recovered = append(s.recovered, orderID)
	return nil
}

func TestHandleMessage_RecoveryReplyShortCircuits(t *testing.T) {
	m, _, _ := testMachine(t)
	msgr := &fakeMessenger{}
	tracker := &trackerStub{handled: true}
	mgr := NewManager(m, NewClassifier(nil, "", 0, testLogger()), msgr, tracker, testLogger())

	sessionInState(t, m, "254700000001", domain.StateIdle)
	mgr.HandleMessage(context.Background(), inbound("yes, continue"))

	assert.Equal(t, []string{"yes, continue"}, tracker.seen)
	assert.Empty(t, msgr.sent)
}

// Completing an order settles the customer's abandoned cart through the
// recovery engine, with the completed order's id.
func TestHandleMessage_OrderCompletionSettlesRecovery(t *testing.T) {
	m, _, _ := testMachine(t)
	msgr := &fakeMessenger{}
	tracker := &trackerStub{}
	mgr := NewManager(m, NewClassifier(nil, "", 0, testLogger()), msgr, tracker, testLogger())

	sess := sessionInState(t, m, "254700000001", domain.StateAwaitingPaymentConf)
	sess.Context = map[string]any{
		domain.CtxPaymentMethod:  "mpesa",
		domain.CtxPendingOrderID: "ORD-42",
	}
	require.NoError(t, m.sessions.Update(sess))

	mgr.HandleMessage(context.Background(), inbound("QWE123 Confirmed. Ksh450 sent"))

	assert.Equal(t, domain.StateIdle, currentState(t, m))
	assert.Equal(t, []string{"ORD-42"}, tracker.recovered)
}

func TestHandleMessage_GatewayDrivenIntent(t *testing.T) {
	m, _, _ := testMachine(t)
	log := testLogger()
	client := &llm.MockClient{
		CompleteFunc: func(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: "contact_support"}, nil
		},
	}
	gw := llm.NewGateway(llm.GatewayConfig{
		Client:  client,
		Limiter: llm.NewRateLimiter(100, 100000, 10000, log),
		Breaker: llm.NewCircuitBreaker(5, time.Minute, log),
	}, log)

	msgr := &fakeMessenger{}
	mgr := NewManager(m, NewClassifier(gw, "test-model", 64, log), msgr, nil, log)

	sessionInState(t, m, "254700000001", domain.StateWelcome)
	mgr.HandleMessage(context.Background(), inbound("the thing I got is broken"))

	assert.Equal(t, domain.StateWaitingForSupport, currentState(t, m))
	require.Len(t, client.Calls(), 1)
	assert.Equal(t, "intent_detection", client.Calls()[0].Method)
}
