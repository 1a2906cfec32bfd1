package conversation

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/chatcart/chatcart/internal/domain"
	"github.com/chatcart/chatcart/internal/llm"
	"github.com/chatcart/chatcart/internal/logging"
)

const intentSystemPrompt = `You are an intent classifier for a shopping assistant on a messaging channel.
Classify the customer's message into exactly one of these intents:
place_order, track_order, cancel_order, mpesa_payment, cash_payment, contact_support, general_inquiry, unknown.
Respond with ONLY one of these intents and nothing else.`

// Classifier resolves the intent of an inbound message, preferring the AI
// gateway and falling back to deterministic keyword rules when the gateway
// is degraded or its answer is unparseable.
type Classifier struct {
	gw        *llm.Gateway
	model     string
	maxTokens int
	log       *logging.Logger
}

// NewClassifier creates an intent classifier backed by the gateway.
func NewClassifier(gw *llm.Gateway, model string, maxTokens int, log *logging.Logger) *Classifier {
	return &Classifier{gw: gw, model: model, maxTokens: maxTokens, log: log.Sub("intent")}
}

// Detect classifies one inbound message given the customer's current
// session. Button taps are resolved directly; free text goes through the
// gateway with the keyword table as fallback. Detect never fails.
func (c *Classifier) Detect(ctx context.Context, sess *domain.ConversationSession, msg domain.InboundMessage) domain.Intent {
	if msg.ButtonID != "" {
		return buttonIntent(msg.ButtonID)
	}

	if c.gw != nil {
		resp, err := c.gw.Complete(ctx, llm.CompletionRequest{
			Model:      c.model,
			System:     intentSystemPrompt,
			Messages:   []llm.Message{{Role: llm.RoleUser, Content: classifierInput(sess, msg)}},
			MaxTokens:  c.maxTokens,
			Method:     "intent_detection",
			CustomerID: sess.CustomerID,
		})
		if err == nil && !resp.Degraded {
			if intent, ok := parseIntentAnswer(resp.Content); ok {
				return intent
			}
			c.log.Debug().
				Str("customer_id", sess.CustomerID).
				Str("answer", resp.Content).
				Msg("unparseable intent answer, using keyword fallback")
		}
	}
	return KeywordIntent(msg, sess.CurrentState)
}

// classifierInput gives the model the message plus the minimal state
// context it needs to disambiguate payment replies.
func classifierInput(sess *domain.ConversationSession, msg domain.InboundMessage) string {
	return fmt.Sprintf("Conversation state: %s\nCustomer message: %s", sess.CurrentState, msg.Body)
}

// parseIntentAnswer scans the completion for a known intent token. The
// model is told to answer with the bare intent, but extra prose around it
// is tolerated.
func parseIntentAnswer(answer string) (domain.Intent, bool) {
	lower := strings.ToLower(answer)
	for _, intent := range domain.Intents() {
		if intent == domain.IntentUnknown {
			continue
		}
		if strings.Contains(lower, string(intent)) {
			return intent, true
		}
	}
	if strings.Contains(lower, string(domain.IntentUnknown)) {
		return domain.IntentUnknown, true
	}
	return domain.IntentUnknown, false
}

// buttonIntent resolves a quick-reply tap by its id prefix.
func buttonIntent(buttonID string) domain.Intent {
	switch {
	case strings.HasPrefix(buttonID, "track_"):
		return domain.IntentTrackOrder
	case strings.HasPrefix(buttonID, "cancel_"):
		return domain.IntentCancelOrder
	case strings.HasPrefix(buttonID, "contact_"):
		return domain.IntentContactSupport
	case strings.HasPrefix(buttonID, "help_"):
		return domain.IntentGeneralInquiry
	case buttonID == "payment_cash":
		return domain.IntentCashPayment
	case strings.HasPrefix(buttonID, "payment_"):
		return domain.IntentMpesaPayment
	}
	return domain.IntentUnknown
}

var (
	helpKeywords    = []string{"help", "menu", "options", "commands", "start", "info"}
	trackKeywords   = []string{"track", "status", "where", "order"}
	cancelKeywords  = []string{"cancel", "stop", "end"}
	supportKeywords = []string{"support", "issue", "problem", "contact"}
	cashKeywords    = []string{"cash", "delivery payment", "pay on delivery"}

	mpesaIndicators = []string{"confirmed", "m-pesa", "mpesa", "transaction", "new balance", "transaction cost"}
)

// KeywordIntent is the deterministic intent table used when the gateway is
// unavailable. Rules run in priority order; anything unmatched defaults to
// place_order, the flow's most common intent.
func KeywordIntent(msg domain.InboundMessage, state domain.ConversationState) domain.Intent {
	body := strings.ToLower(strings.TrimSpace(msg.Body))
	if body == "" {
		return domain.IntentUnknown
	}

	if isMpesaConfirmation(body) {
		return domain.IntentMpesaPayment
	}
	if containsAny(body, helpKeywords) {
		return domain.IntentGeneralInquiry
	}
	if containsAny(body, trackKeywords) {
		return domain.IntentTrackOrder
	}
	if containsAny(body, cancelKeywords) {
		return domain.IntentCancelOrder
	}
	if containsAny(body, supportKeywords) {
		return domain.IntentContactSupport
	}

	if state == domain.StateAwaitingPayment {
		// Numbered payment menu: 1 is mobile money, 2 is cash.
		if isDigits(body) {
			if body == "2" {
				return domain.IntentCashPayment
			}
			return domain.IntentMpesaPayment
		}
		if containsAny(body, cashKeywords) {
			return domain.IntentCashPayment
		}
	}

	return domain.IntentPlaceOrder
}

// isMpesaConfirmation detects pasted mobile-money confirmation texts: an
// M-Pesa indicator plus something transaction-shaped.
func isMpesaConfirmation(body string) bool {
	if !containsAny(body, mpesaIndicators) {
		return false
	}
	hasTransactionShape := strings.Contains(body, "ksh") ||
		strings.Contains(body, "kes") ||
		strings.ContainsFunc(body, unicode.IsDigit)
	return hasTransactionShape
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
