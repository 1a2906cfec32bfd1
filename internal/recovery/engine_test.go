package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcart/chatcart/internal/domain"
	"github.com/chatcart/chatcart/internal/llm"
	"github.com/chatcart/chatcart/internal/logging"
	"github.com/chatcart/chatcart/internal/store"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent", "json")
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []domain.OutboundMessage
	fail bool
}

func (f *fakeMessenger) Send(_ context.Context, msg domain.OutboundMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("provider rejected message")
	}
	f.sent = append(f.sent, msg)
	return "wamid.test", nil
}

func (f *fakeMessenger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeMessenger) last(t *testing.T) domain.OutboundMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func testEngine(t *testing.T, gw *llm.Gateway) (*Engine, *store.CartStore, *store.CampaignStore, *fakeMessenger) {
	t.Helper()
	log := testLogger()
	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	carts := store.NewCartStore(db)
	campaigns := store.NewCampaignStore(db)
	messenger := &fakeMessenger{}
	e := NewEngine(carts, campaigns, gw, messenger, Config{
		Model:       "test-model",
		MaxTokens:   128,
		MaxAttempts: 3,
		Spacing:     2 * time.Hour,
	}, log)
	return e, carts, campaigns, messenger
}

func abandonedCart(t *testing.T, carts *store.CartStore, abandonedAgo time.Duration, attempts int) *domain.CartSession {
	t.Helper()
	abandonedAt := time.Now().UTC().Add(-abandonedAgo)
	cart := &domain.CartSession{
		CustomerID:            "254700000001",
		ConversationSessionID: 1,
		Items:                 []domain.CartItem{{Name: "maize flour", Quantity: 2, UnitPrice: 210}},
		EstimatedTotal:        420,
		ItemsCount:            1,
		Status:                domain.CartActive,
	}
	require.NoError(t, carts.Create(cart))
	cart.Status = domain.CartAbandoned
	cart.AbandonedAt = &abandonedAt
	cart.RecoveryAttempts = attempts
	if attempts > 0 {
		last := time.Now().UTC().Add(-3 * time.Hour)
		cart.LastRecoveryMessageAt = &last
	}
	require.NoError(t, carts.Update(cart))
	return cart
}

// --- campaign type selection tests ---

func TestSelectCampaignType_Ladder(t *testing.T) {
	e, carts, _, _ := testEngine(t, nil)

	// Caught within the hour, regardless of attempt count.
	fresh := abandonedCart(t, carts, 30*time.Minute, 0)
	assert.Equal(t, domain.CampaignImmediate, e.SelectCampaignType(fresh))

	first := abandonedCart(t, carts, 3*time.Hour, 0)
	assert.Equal(t, domain.CampaignGentleReminder, e.SelectCampaignType(first))

	second := abandonedCart(t, carts, 5*time.Hour, 1)
	assert.Equal(t, domain.CampaignUrgent, e.SelectCampaignType(second))

	third := abandonedCart(t, carts, 8*time.Hour, 2)
	assert.Equal(t, domain.CampaignFinalCall, e.SelectCampaignType(third))
}

// --- campaign creation tests ---

func TestCreateCampaign_FallbackWithoutGateway(t *testing.T) {
	e, carts, campaigns, _ := testEngine(t, nil)
	cart := abandonedCart(t, carts, 3*time.Hour, 1)

	campaign, err := e.CreateCampaign(context.Background(), cart)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignUrgent, campaign.CampaignType)
	assert.Equal(t, domain.CampaignPending, campaign.Status)
	assert.Equal(t, 2, campaign.AttemptNumber)
	assert.True(t, campaign.FallbackUsed)
	assert.Contains(t, campaign.MessageContent, "FREE delivery")
	require.NotNil(t, campaign.Incentive)
	assert.Equal(t, "free_shipping", campaign.Incentive.Type)

	// The attempt is consumed immediately.
	got, err := carts.Get(cart.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RecoveryAttempts)
	require.NotNil(t, got.LastRecoveryMessageAt)

	stored, err := campaigns.Get(campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, campaign.MessageContent, stored.MessageContent)
}

func TestCreateCampaign_PersonalizedByGateway(t *testing.T) {
	log := testLogger()
	client := &llm.MockClient{
		CompleteFunc: func(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: "Hey! Your maize flour is waiting, 5% off if you finish today 🛒"}, nil
		},
	}
	gw := llm.NewGateway(llm.GatewayConfig{
		Client:  client,
		Limiter: llm.NewRateLimiter(100, 100000, 10000, log),
		Breaker: llm.NewCircuitBreaker(5, time.Minute, log),
	}, log)

	e, carts, _, _ := testEngine(t, gw)
	cart := abandonedCart(t, carts, 3*time.Hour, 0)

	campaign, err := e.CreateCampaign(context.Background(), cart)
	require.NoError(t, err)
	assert.False(t, campaign.FallbackUsed)
	assert.Contains(t, campaign.MessageContent, "maize flour")

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "recovery_personalization", calls[0].Method)
	assert.Equal(t, cart.CustomerID, calls[0].CustomerID)
}

func TestCreateCampaign_DegradedGatewayFallsBack(t *testing.T) {
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

	e, carts, _, _ := testEngine(t, gw)
	cart := abandonedCart(t, carts, 3*time.Hour, 0)

	campaign, err := e.CreateCampaign(context.Background(), cart)
	require.NoError(t, err)
	assert.True(t, campaign.FallbackUsed)
	assert.Equal(t, fallbackTemplates[domain.CampaignGentleReminder].text, campaign.MessageContent)
}

func TestCreateCampaign_NotEligible(t *testing.T) {
	e, carts, _, _ := testEngine(t, nil)

	exhausted := abandonedCart(t, carts, 3*time.Hour, 3)
	_, err := e.CreateCampaign(context.Background(), exhausted)
	assert.ErrorIs(t, err, ErrNotEligible)

	active := &domain.CartSession{CustomerID: "254700000002", ConversationSessionID: 2, Status: domain.CartActive}
	require.NoError(t, carts.Create(active))
	_, err = e.CreateCampaign(context.Background(), active)
	assert.ErrorIs(t, err, ErrNotEligible)
}

// --- send tests ---

func TestSend_MarksInProgress(t *testing.T) {
	e, carts, campaigns, messenger := testEngine(t, nil)
	cart := abandonedCart(t, carts, 3*time.Hour, 0)

	campaign, err := e.CreateCampaign(context.Background(), cart)
	require.NoError(t, err)
	require.NoError(t, e.Send(context.Background(), campaign))

	assert.Equal(t, 1, messenger.count())
	assert.Equal(t, cart.CustomerID, messenger.last(t).To)

	got, err := campaigns.Get(campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignInProgress, got.Status)
	assert.Equal(t, "wamid.test", got.ProviderMessageID)
	require.NotNil(t, got.SentAt)
}

func TestSend_FailureMarksFailedWithoutRetry(t *testing.T) {
	e, carts, campaigns, messenger := testEngine(t, nil)
	messenger.fail = true
	cart := abandonedCart(t, carts, 3*time.Hour, 0)

	campaign, err := e.CreateCampaign(context.Background(), cart)
	require.NoError(t, err)
	err = e.Send(context.Background(), campaign)
	require.Error(t, err)

	got, err := campaigns.Get(campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignFailed, got.Status)
	assert.Empty(t, got.ProviderMessageID)
	assert.Equal(t, 0, messenger.count())

	// The consumed attempt stands; the next detection pass may try again.
	cartNow, err := carts.Get(cart.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cartNow.RecoveryAttempts)
}

// --- response tracking tests ---

func sentCampaign(t *testing.T, e *Engine, carts *store.CartStore, attempts int) (*domain.CartSession, *domain.RecoveryCampaign) {
	t.Helper()
	cart := abandonedCart(t, carts, 3*time.Hour, attempts)
	campaign, err := e.CreateCampaign(context.Background(), cart)
	require.NoError(t, err)
	require.NoError(t, e.Send(context.Background(), campaign))
	return cart, campaign
}

func TestTrackResponse_AttributesAndReplies(t *testing.T) {
	e, carts, campaigns, messenger := testEngine(t, nil)
	_, campaign := sentCampaign(t, e, carts, 0)

	handled, err := e.TrackResponse(context.Background(), "254700000001", "yes let's continue")
	require.NoError(t, err)
	assert.True(t, handled)

	got, err := campaigns.Get(campaign.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CustomerRespondedAt)
	assert.Equal(t, "yes let's continue", got.CustomerResponse)

	// Campaign message plus the canned reply.
	assert.Equal(t, 2, messenger.count())
	assert.Contains(t, messenger.last(t).Body, "pick up where you left off")
}

func TestTrackResponse_NoCampaignNotHandled(t *testing.T) {
	e, _, _, messenger := testEngine(t, nil)

	handled, err := e.TrackResponse(context.Background(), "254700000001", "hello")
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Equal(t, 0, messenger.count())
}

func TestTrackResponse_OutsideWindowNotHandled(t *testing.T) {
	e, carts, campaigns, _ := testEngine(t, nil)
	_, campaign := sentCampaign(t, e, carts, 0)

	// Push the send outside the attribution window.
	old := time.Now().UTC().Add(-25 * time.Hour)
	campaign.SentAt = &old
	require.NoError(t, campaigns.Update(campaign))

	handled, err := e.TrackResponse(context.Background(), "254700000001", "yes")
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestTrackResponse_NotInterestedExpiresCart(t *testing.T) {
	e, carts, campaigns, _ := testEngine(t, nil)
	cart, campaign := sentCampaign(t, e, carts, 0)

	handled, err := e.TrackResponse(context.Background(), "254700000001", "no thanks, not interested")
	require.NoError(t, err)
	assert.True(t, handled)

	got, err := campaigns.Get(campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignExhausted, got.Status)

	cartNow, err := carts.Get(cart.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CartExpired, cartNow.Status)
}

func TestKeywordReplyIntent(t *testing.T) {
	cases := map[string]domain.ReplyIntent{
		"yes please":              domain.ReplyContinueOrder,
		"can I change the order":  domain.ReplyModifyOrder,
		"too expensive":           domain.ReplyPriceConcern,
		"not interested":          domain.ReplyNotInterested,
		"cancel":                  domain.ReplyNotInterested,
		"no, maybe later":         domain.ReplyNotInterested,
		"No":                      domain.ReplyNotInterested,
		"I know what I ordered":   domain.ReplyGeneral,
		"what are your hours":     domain.ReplyGeneral,
		"any discount available?": domain.ReplyPriceConcern,
	}
	for msg, want := range cases {
		assert.Equal(t, want, KeywordReplyIntent(msg), "msg=%q", msg)
	}
}

// --- recovery completion tests ---

func TestCompleteRecovery_SettlesAbandonedCart(t *testing.T) {
	e, carts, campaigns, _ := testEngine(t, nil)
	cart, campaign := sentCampaign(t, e, carts, 0)

	require.NoError(t, e.CompleteRecovery("254700000001", "order-77"))

	cartNow, err := carts.Get(cart.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CartRecovered, cartNow.Status)
	assert.Equal(t, "order-77", cartNow.CompletedOrderID)

	got, err := campaigns.Get(campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignSuccessful, got.Status)
	assert.True(t, got.ResultedInRecovery)
}

func TestCompleteRecovery_NoAbandonedCartIsNoop(t *testing.T) {
	e, _, _, _ := testEngine(t, nil)
	require.NoError(t, e.CompleteRecovery("254700000001", "order-77"))
}

func TestMarkCartRecovered_SettlesCampaigns(t *testing.T) {
	e, carts, campaigns, _ := testEngine(t, nil)
	cart, campaign := sentCampaign(t, e, carts, 0)

	require.NoError(t, e.MarkCartRecovered(cart, "order-123"))

	cartNow, err := carts.Get(cart.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CartRecovered, cartNow.Status)
	assert.Equal(t, "order-123", cartNow.CompletedOrderID)
	require.NotNil(t, cartNow.RecoveredAt)

	got, err := campaigns.Get(campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignSuccessful, got.Status)
	assert.True(t, got.ResultedInRecovery)
}
