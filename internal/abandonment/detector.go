// Package abandonment detects stalled order conversations and turns them
// into abandoned cart sessions the recovery workflow can act on.
package abandonment

import (
	"fmt"
	"strings"
	"time"

	"github.com/chatcart/chatcart/internal/domain"
	"github.com/chatcart/chatcart/internal/logging"
	"github.com/chatcart/chatcart/internal/store"
)

// DetectReport summarizes one detection pass.
type DetectReport struct {
	SessionsScanned int      `json:"sessions_scanned"`
	CartsAbandoned  int      `json:"carts_abandoned"`
	Errors          []string `json:"errors"`
}

// Detector scans for sessions stuck mid-order and marks their carts
// abandoned. Like the janitor, a pass runs in one transaction with
// per-cart error isolation.
type Detector struct {
	db       *store.DB
	sessions *store.SessionStore
	carts    *store.CartStore

	threshold   time.Duration // stall time before a session counts as abandoned
	maxAttempts int
	spacing     time.Duration

	now func() time.Time
	log *logging.Logger
}

// Config carries the detector's policy knobs.
type Config struct {
	Threshold   time.Duration // default 15m
	MaxAttempts int           // default 3
	Spacing     time.Duration // default 2h
}

// NewDetector creates a detector over the given stores.
func NewDetector(db *store.DB, sessions *store.SessionStore, carts *store.CartStore, cfg Config, log *logging.Logger) *Detector {
	return &Detector{
		db:          db,
		sessions:    sessions,
		carts:       carts,
		threshold:   cfg.Threshold,
		maxAttempts: cfg.MaxAttempts,
		spacing:     cfg.Spacing,
		now:         time.Now,
		log:         log.Sub("abandonment"),
	}
}

// Detect finds active sessions sitting in an order-in-progress state past
// the stall threshold, materializes a cart for each from the session's
// order context, and marks it abandoned.
func (d *Detector) Detect() (*DetectReport, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting detection pass: %w", err)
	}

	sessions := d.sessions.WithTx(tx)
	carts := d.carts.WithTx(tx)

	now := d.now().UTC()
	cutoff := now.Add(-d.threshold)
	stalled, err := sessions.ActiveInStates(domain.OrderInProgress(), cutoff)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("listing stalled sessions: %w", err)
	}

	report := &DetectReport{Errors: []string{}}
	for _, sess := range stalled {
		report.SessionsScanned++

		cart, err := d.cartForSession(carts, sess)
		if err != nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("session %d: %v", sess.ID, err))
			continue
		}
		if cart.Status != domain.CartActive {
			continue
		}

		cart.Status = domain.CartAbandoned
		cart.AbandonmentReason = classifyReason(sess)
		cart.AbandonedAt = &now
		if err := carts.Update(cart); err != nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("cart %d: %v", cart.ID, err))
			continue
		}

		d.log.Info().
			Str("customer_id", sess.CustomerID).
			Int64("cart_id", cart.ID).
			Str("reason", string(cart.AbandonmentReason)).
			Msg("cart abandoned")
		report.CartsAbandoned++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing detection pass: %w", err)
	}

	d.log.Info().
		Int("scanned", report.SessionsScanned).
		Int("abandoned", report.CartsAbandoned).
		Int("errors", len(report.Errors)).
		Msg("detection pass complete")
	return report, nil
}

// IsEligibleForRecovery reports whether a recovery campaign may target the
// cart right now, per the detector's configured limits.
func (d *Detector) IsEligibleForRecovery(cart *domain.CartSession) bool {
	return EligibleForRecovery(cart, d.maxAttempts, d.spacing, d.now())
}

// EligibleForRecovery is the recovery eligibility rule: the cart must be
// abandoned, under the attempt cap, and past the spacing gap since the
// last recovery message.
func EligibleForRecovery(cart *domain.CartSession, maxAttempts int, spacing time.Duration, now time.Time) bool {
	if cart.Status != domain.CartAbandoned {
		return false
	}
	if cart.RecoveryAttempts >= maxAttempts {
		return false
	}
	if cart.LastRecoveryMessageAt != nil && now.Sub(*cart.LastRecoveryMessageAt) < spacing {
		return false
	}
	return true
}

// cartForSession returns the session's most recent cart, creating one from
// the conversation context when none exists yet. A cart already past ACTIVE
// is returned as-is so repeated passes cannot mint extra attempts.
func (d *Detector) cartForSession(carts *store.CartStore, sess *domain.ConversationSession) (*domain.CartSession, error) {
	cart, err := carts.LatestByConversation(sess.ID)
	if err == nil {
		return cart, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	items, total := cartDataFromContext(sess)
	cart = &domain.CartSession{
		CustomerID:            sess.CustomerID,
		ConversationSessionID: sess.ID,
		Items:                 items,
		EstimatedTotal:        total,
		ItemsCount:            len(items),
		Status:                domain.CartActive,
	}
	if err := carts.Create(cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// cartDataFromContext extracts cart contents from the session context:
// structured extracted_items when present, otherwise the raw order text as
// a single line item.
func cartDataFromContext(sess *domain.ConversationSession) ([]domain.CartItem, float64) {
	var items []domain.CartItem

	if raw, ok := sess.Context[domain.CtxExtractedItems].([]any); ok {
		for _, v := range raw {
			entry, ok := v.(map[string]any)
			if !ok {
				continue
			}
			item := domain.CartItem{Quantity: 1}
			if name, ok := entry["name"].(string); ok {
				item.Name = name
			}
			if q, ok := entry["quantity"].(float64); ok && q > 0 {
				item.Quantity = int(q)
			}
			if p, ok := entry["unit_price"].(float64); ok {
				item.UnitPrice = p
			}
			if item.Name != "" {
				items = append(items, item)
			}
		}
	}

	if len(items) == 0 {
		if orderText, ok := sess.ContextString(domain.CtxOrderData); ok && strings.TrimSpace(orderText) != "" {
			items = append(items, domain.CartItem{Name: strings.TrimSpace(orderText), Quantity: 1})
		}
	}

	total := 0.0
	if v, ok := sess.Context[domain.CtxEstimatedTotal].(float64); ok {
		total = v
	} else {
		for _, item := range items {
			total += float64(item.Quantity) * item.UnitPrice
		}
	}
	return items, total
}

var (
	pricingKeywords     = []string{"expensive", "cost", "price", "too much"}
	deliveryKeywords    = []string{"delivery", "shipping", "location"}
	unavailableKeywords = []string{"out of stock", "unavailable", "not available"}
)

// classifyReason scans the customer's recent messages for abandonment
// signals, falling back to the state itself when the words say nothing.
func classifyReason(sess *domain.ConversationSession) domain.AbandonmentReason {
	recent := recentMessages(sess)
	if len(recent) == 0 {
		return domain.ReasonUnknown
	}

	joined := strings.ToLower(strings.Join(recent, " "))
	switch {
	case containsAny(joined, pricingKeywords):
		return domain.ReasonPricingConcern
	case containsAny(joined, deliveryKeywords):
		return domain.ReasonDeliveryIssue
	case containsAny(joined, unavailableKeywords):
		return domain.ReasonProductUnavailable
	case sess.CurrentState.PaymentAdjacent():
		return domain.ReasonPaymentHesitation
	}
	return domain.ReasonDistraction
}

// recentMessages decodes the session's message history from context.
func recentMessages(sess *domain.ConversationSession) []string {
	raw, ok := sess.Context[domain.CtxRecentMessages].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
