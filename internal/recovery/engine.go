// Package recovery runs escalating campaigns to win back abandoned carts:
// campaign creation with gateway-personalized messages (deterministic
// fallback), delivery, reply attribution, and recovery completion.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/chatcart/chatcart/internal/abandonment"
	"github.com/chatcart/chatcart/internal/domain"
	"github.com/chatcart/chatcart/internal/llm"
	"github.com/chatcart/chatcart/internal/logging"
	"github.com/chatcart/chatcart/internal/store"
)

// ErrNotEligible is returned when a campaign is requested for a cart the
// eligibility rule rejects.
var ErrNotEligible = errors.New("recovery: cart not eligible for recovery")

// responseWindow is how long after a campaign send an inbound message is
// still attributed to it.
const responseWindow = 24 * time.Hour

const personalizationPrompt = `You write short, warm cart-recovery messages for a WhatsApp shopping assistant.
Write ONE message (max 2 sentences, emoji welcome) nudging the customer to complete their order.
Mention the incentive if one is given. Do not invent discounts.`

const replyClassifierPrompt = `You classify a customer's reply to a cart-recovery message.
Respond with ONLY one of: continue_order, modify_order, price_concern, not_interested, general.`

// Config carries the engine's policy knobs.
type Config struct {
	Model       string
	MaxTokens   int
	MaxAttempts int           // default 3
	Spacing     time.Duration // default 2h
}

// Engine creates, sends and settles recovery campaigns.
type Engine struct {
	carts     *store.CartStore
	campaigns *store.CampaignStore
	gw        *llm.Gateway
	messenger domain.Messenger

	model       string
	maxTokens   int
	maxAttempts int
	spacing     time.Duration

	now func() time.Time
	log *logging.Logger
}

// NewEngine wires the recovery engine. gw may be nil; every message then
// comes from the fallback templates.
func NewEngine(carts *store.CartStore, campaigns *store.CampaignStore, gw *llm.Gateway, messenger domain.Messenger, cfg Config, log *logging.Logger) *Engine {
	return &Engine{
		carts:       carts,
		campaigns:   campaigns,
		gw:          gw,
		messenger:   messenger,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		maxAttempts: cfg.MaxAttempts,
		spacing:     cfg.Spacing,
		now:         time.Now,
		log:         log.Sub("recovery"),
	}
}

// SelectCampaignType places a cart on the escalation ladder: carts caught
// within the first hour get the immediate nudge; after that the attempt
// number decides.
func (e *Engine) SelectCampaignType(cart *domain.CartSession) domain.CampaignType {
	if cart.AbandonedAt != nil && e.now().Sub(*cart.AbandonedAt) < time.Hour {
		return domain.CampaignImmediate
	}
	switch cart.RecoveryAttempts + 1 {
	case 1:
		return domain.CampaignGentleReminder
	case 2:
		return domain.CampaignUrgent
	}
	return domain.CampaignFinalCall
}

// CreateCampaign builds the next campaign for an eligible cart: picks the
// campaign type, produces the message (gateway with fallback), persists
// the campaign PENDING, and consumes one recovery attempt on the cart.
func (e *Engine) CreateCampaign(ctx context.Context, cart *domain.CartSession) (*domain.RecoveryCampaign, error) {
	if !abandonment.EligibleForRecovery(cart, e.maxAttempts, e.spacing, e.now()) {
		return nil, ErrNotEligible
	}

	campaignType := e.SelectCampaignType(cart)
	template := fallbackTemplates[campaignType]
	content, fallbackUsed := e.personalize(ctx, cart, campaignType, template)

	incentive := template.incentive
	campaign := &domain.RecoveryCampaign{
		CartSessionID:  cart.ID,
		CustomerID:     cart.CustomerID,
		CampaignType:   campaignType,
		Status:         domain.CampaignPending,
		AttemptNumber:  cart.RecoveryAttempts + 1,
		MessageContent: content,
		Incentive:      &incentive,
		FallbackUsed:   fallbackUsed,
	}
	if err := e.campaigns.Create(campaign); err != nil {
		return nil, fmt.Errorf("creating campaign for cart %d: %w", cart.ID, err)
	}

	now := e.now().UTC()
	cart.RecoveryAttempts++
	cart.LastRecoveryMessageAt = &now
	if err := e.carts.Update(cart); err != nil {
		return nil, fmt.Errorf("consuming recovery attempt on cart %d: %w", cart.ID, err)
	}

	e.log.Info().
		Int64("cart_id", cart.ID).
		Str("type", string(campaignType)).
		Int("attempt", campaign.AttemptNumber).
		Bool("fallback", fallbackUsed).
		Msg("recovery campaign created")
	return campaign, nil
}

// personalize asks the gateway for a tailored message. Any failure or
// degraded answer falls back to the template.
func (e *Engine) personalize(ctx context.Context, cart *domain.CartSession, campaignType domain.CampaignType, template fallbackTemplate) (string, bool) {
	if e.gw == nil {
		return template.text, true
	}

	var items []string
	for _, item := range cart.Items {
		items = append(items, fmt.Sprintf("%dx %s", item.Quantity, item.Name))
	}
	prompt := fmt.Sprintf(
		"Campaign: %s\nAbandonment reason: %s\nCart items: %s\nEstimated total: %.2f\nIncentive: %s",
		campaignType, cart.AbandonmentReason, strings.Join(items, ", "),
		cart.EstimatedTotal, describeIncentive(template.incentive),
	)

	resp, err := e.gw.Complete(ctx, llm.CompletionRequest{
		Model:      e.model,
		System:     personalizationPrompt,
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:  e.maxTokens,
		Method:     "recovery_personalization",
		CustomerID: cart.CustomerID,
	})
	if err != nil || resp.Degraded || strings.TrimSpace(resp.Content) == "" {
		if err != nil {
			e.log.Warn().Err(err).Int64("cart_id", cart.ID).Msg("personalization failed, using template")
		}
		return template.text, true
	}
	return strings.TrimSpace(resp.Content), false
}

// Send delivers a campaign. Success moves it to IN_PROGRESS with the
// provider's message id; failure marks it FAILED with no in-process retry.
// A later detection pass may create a fresh attempt, bounded by the cart's
// attempt cap.
func (e *Engine) Send(ctx context.Context, campaign *domain.RecoveryCampaign) error {
	providerID, err := e.messenger.Send(ctx, domain.OutboundMessage{
		To:   campaign.CustomerID,
		Body: campaign.MessageContent,
	})

	now := e.now().UTC()
	if err != nil {
		campaign.Status = domain.CampaignFailed
		if uerr := e.campaigns.Update(campaign); uerr != nil {
			return fmt.Errorf("marking campaign %d failed: %w", campaign.ID, uerr)
		}
		return fmt.Errorf("sending campaign %d: %w", campaign.ID, err)
	}

	campaign.Status = domain.CampaignInProgress
	campaign.ProviderMessageID = providerID
	campaign.SentAt = &now
	if err := e.campaigns.Update(campaign); err != nil {
		return fmt.Errorf("recording campaign %d delivery: %w", campaign.ID, err)
	}

	e.log.Info().
		Int64("campaign_id", campaign.ID).
		Str("customer_id", campaign.CustomerID).
		Str("provider_message_id", providerID).
		Msg("recovery message sent")
	return nil
}

// TrackResponse attributes an inbound message to the customer's most
// recent in-progress campaign within the response window, classifies the
// reply, answers it, and settles the campaign. Returns false when no
// campaign claims the message.
func (e *Engine) TrackResponse(ctx context.Context, customerID, message string) (bool, error) {
	cutoff := e.now().Add(-responseWindow)
	inProgress, err := e.campaigns.InProgressForCustomer(customerID, cutoff)
	if err != nil {
		return false, err
	}
	if len(inProgress) == 0 {
		return false, nil
	}
	campaign := inProgress[0] // newest first

	now := e.now().UTC()
	campaign.CustomerRespondedAt = &now
	campaign.CustomerResponse = message

	intent := e.classifyReply(ctx, customerID, message)
	e.log.Info().
		Str("customer_id", customerID).
		Int64("campaign_id", campaign.ID).
		Str("reply_intent", string(intent)).
		Msg("recovery response attributed")

	if intent == domain.ReplyNotInterested {
		campaign.Status = domain.CampaignExhausted
		if err := e.expireCart(campaign.CartSessionID); err != nil {
			e.log.Error().Err(err).Int64("cart_id", campaign.CartSessionID).Msg("failed to expire cart")
		}
	}
	if err := e.campaigns.Update(campaign); err != nil {
		return true, fmt.Errorf("recording response on campaign %d: %w", campaign.ID, err)
	}

	reply := replyTexts[intent]
	if _, err := e.messenger.Send(ctx, domain.OutboundMessage{To: customerID, Body: reply}); err != nil {
		e.log.Error().Err(err).Str("customer_id", customerID).Msg("failed to send recovery reply")
	}
	return true, nil
}

// classifyReply resolves the reply intent via the gateway with a keyword
// fallback, mirroring the conversation classifier's shape.
func (e *Engine) classifyReply(ctx context.Context, customerID, message string) domain.ReplyIntent {
	if e.gw != nil {
		resp, err := e.gw.Complete(ctx, llm.CompletionRequest{
			Model:      e.model,
			System:     replyClassifierPrompt,
			Messages:   []llm.Message{{Role: llm.RoleUser, Content: message}},
			MaxTokens:  e.maxTokens,
			Method:     "recovery_reply_classification",
			CustomerID: customerID,
		})
		if err == nil && !resp.Degraded {
			if intent, ok := parseReplyAnswer(resp.Content); ok {
				return intent
			}
		}
	}
	return KeywordReplyIntent(message)
}

func parseReplyAnswer(answer string) (domain.ReplyIntent, bool) {
	lower := strings.ToLower(answer)
	for _, intent := range domain.ReplyIntents() {
		if strings.Contains(lower, string(intent)) {
			return intent, true
		}
	}
	return domain.ReplyGeneral, false
}

var (
	continueKeywords      = []string{"yes", "continue", "proceed", "complete"}
	modifyKeywords        = []string{"change", "modify", "different", "instead"}
	priceKeywords         = []string{"expensive", "cost", "price", "discount", "cheaper"}
	notInterestedKeywords = []string{"not interested", "no thanks", "cancel", "don't want"}
)

// KeywordReplyIntent is the deterministic reply classifier used when the
// gateway is degraded. A bare "no" counts as not interested, but only as
// its own word so "know" and "now" don't match.
func KeywordReplyIntent(message string) domain.ReplyIntent {
	lower := strings.ToLower(message)
	switch {
	case containsAny(lower, notInterestedKeywords) || hasWord(lower, "no"):
		return domain.ReplyNotInterested
	case containsAny(lower, continueKeywords):
		return domain.ReplyContinueOrder
	case containsAny(lower, modifyKeywords):
		return domain.ReplyModifyOrder
	case containsAny(lower, priceKeywords):
		return domain.ReplyPriceConcern
	}
	return domain.ReplyGeneral
}

// CompleteRecovery settles the customer's outstanding abandoned cart when
// an order completes. No-op when the customer has none; the pipeline
// calls this on every completed order.
func (e *Engine) CompleteRecovery(customerID, orderID string) error {
	cart, err := e.carts.AbandonedForCustomer(customerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return e.MarkCartRecovered(cart, orderID)
}

// MarkCartRecovered settles a recovered cart: status, timestamps, order
// link, and every in-progress campaign flipped to SUCCESSFUL.
func (e *Engine) MarkCartRecovered(cart *domain.CartSession, orderID string) error {
	now := e.now().UTC()
	cart.Status = domain.CartRecovered
	cart.RecoveredAt = &now
	cart.CompletedOrderID = orderID
	if err := e.carts.Update(cart); err != nil {
		return fmt.Errorf("marking cart %d recovered: %w", cart.ID, err)
	}

	campaigns, err := e.campaigns.InProgressForCart(cart.ID)
	if err != nil {
		return err
	}
	for _, c := range campaigns {
		c.Status = domain.CampaignSuccessful
		c.ResultedInRecovery = true
		if err := e.campaigns.Update(c); err != nil {
			return fmt.Errorf("settling campaign %d: %w", c.ID, err)
		}
	}

	e.log.Info().
		Int64("cart_id", cart.ID).
		Str("order_id", orderID).
		Int("campaigns_settled", len(campaigns)).
		Msg("cart recovered")
	return nil
}

// expireCart marks a cart EXPIRED, ending its recovery workflow.
func (e *Engine) expireCart(cartID int64) error {
	cart, err := e.carts.Get(cartID)
	if err != nil {
		return err
	}
	cart.Status = domain.CartExpired
	return e.carts.Update(cart)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func hasWord(s, word string) bool {
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if f == word {
			return true
		}
	}
	return false
}

func describeIncentive(inc domain.Incentive) string {
	switch inc.Type {
	case "discount":
		return fmt.Sprintf("%.0f%% discount", inc.Value)
	case "free_shipping":
		return "free delivery"
	}
	return "none"
}
