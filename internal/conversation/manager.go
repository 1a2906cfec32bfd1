package conversation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/chatcart/chatcart/internal/domain"
	"github.com/chatcart/chatcart/internal/logging"
)

// maxRecentMessages caps the per-session message history kept in context
// for abandonment-reason classification.
const maxRecentMessages = 5

// ResponseTracker is the recovery engine as seen from the pipeline:
// inbound messages are offered to it for campaign attribution, and a
// completed order settles the customer's outstanding abandoned cart.
// When a message is attributed and answered there, the normal pipeline
// is skipped.
type ResponseTracker interface {
	TrackResponse(ctx context.Context, customerID, message string) (bool, error)
	CompleteRecovery(customerID, orderID string) error
}

// Manager is the inbound message pipeline: session lookup, recovery-reply
// attribution, intent detection, state transition, and the outbound reply.
// It never returns an error to the trigger; every failure is absorbed into
// a best-effort next state and logged.
type Manager struct {
	machine    *StateMachine
	classifier *Classifier
	messenger  domain.Messenger
	responses  ResponseTracker // optional

	log *logging.Logger
}

// NewManager wires the pipeline. responses may be nil when the recovery
// workflow is not running.
func NewManager(machine *StateMachine, classifier *Classifier, messenger domain.Messenger, responses ResponseTracker, log *logging.Logger) *Manager {
	return &Manager{
		machine:    machine,
		classifier: classifier,
		messenger:  messenger,
		responses:  responses,
		log:        log.Sub("manager"),
	}
}

// HandleMessage processes one inbound customer message end to end.
func (m *Manager) HandleMessage(ctx context.Context, msg domain.InboundMessage) {
	log := m.log.WithCustomer(msg.From)

	sess, err := m.machine.GetOrCreateSession(msg.From)
	if err != nil {
		log.Error().Err(err).Msg("failed to load session")
		return
	}

	if m.responses != nil {
		handled, err := m.responses.TrackResponse(ctx, msg.From, msg.Body)
		if err != nil {
			log.Error().Err(err).Msg("recovery response tracking failed")
		}
		if handled {
			return
		}
	}

	intent := m.classifier.Detect(ctx, sess, msg)

	step, reply := m.plan(sess, intent, msg)
	step.Message = msg.Body
	step.Intent = intent
	if step.ContextUpdates == nil {
		step.ContextUpdates = map[string]any{}
	}
	step.ContextUpdates[domain.CtxRecentMessages] = appendRecent(sess, msg.Body)

	committed, err := m.machine.Transition(sess, step)
	if err != nil {
		log.Error().Err(err).Msg("failed to persist transition")
	}
	log.Debug().
		Str("intent", string(intent)).
		Str("state", string(committed)).
		Str("action", step.Action).
		Msg("message processed")

	// A completed order recovers the customer's abandoned cart, if any.
	if m.responses != nil && step.Action == "complete_order" {
		if orderID, ok := step.ContextUpdates[domain.CtxLastOrderID].(string); ok {
			if err := m.responses.CompleteRecovery(msg.From, orderID); err != nil {
				log.Error().Err(err).Msg("failed to settle recovered cart")
			}
		}
	}

	if reply != nil {
		reply.To = msg.From
		if _, err := m.messenger.Send(ctx, *reply); err != nil {
			log.Error().Err(err).Msg("failed to send reply")
		}
	}
}

// plan maps (state, intent, message) to the requested transition and the
// outbound reply. Disallowed targets are fine here; the state machine's
// recovery remapping is the safety net.
func (m *Manager) plan(sess *domain.ConversationSession, intent domain.Intent, msg domain.InboundMessage) (Step, *domain.OutboundMessage) {
	// First contact: greet regardless of what the message said.
	if sess.CurrentState == domain.StateInitial {
		return Step{Target: domain.StateWelcome, Action: "send_welcome"},
			&domain.OutboundMessage{Body: welcomeText, QuickReplies: mainMenuButtons()}
	}

	// A message while awaiting payment confirmation is the confirmation,
	// unless it is clearly something else (cancel, support, help).
	if sess.CurrentState == domain.StateAwaitingPaymentConf && confirmsPayment(intent) {
		return m.completeOrder(sess)
	}

	switch intent {
	case domain.IntentPlaceOrder:
		if sess.CurrentState == domain.StateAwaitingOrder {
			return m.captureOrder(sess, msg)
		}
		return Step{Target: domain.StateAwaitingOrder, Action: "ask_order_details"},
			&domain.OutboundMessage{Body: askOrderText}

	case domain.IntentMpesaPayment:
		return Step{
				Target:         domain.StateAwaitingPaymentConf,
				ContextUpdates: map[string]any{domain.CtxPaymentMethod: "mpesa"},
				Action:         "request_payment_confirmation",
			},
			&domain.OutboundMessage{Body: mpesaInstructionsText}

	case domain.IntentCashPayment:
		return Step{
				Target:         domain.StateAwaitingPaymentConf,
				ContextUpdates: map[string]any{domain.CtxPaymentMethod: "cash"},
				Action:         "request_payment_confirmation",
			},
			&domain.OutboundMessage{Body: cashInstructionsText}

	case domain.IntentTrackOrder:
		orderID, ok := sess.ContextString(domain.CtxLastOrderID)
		if !ok || orderID == "" {
			return Step{Target: domain.StateIdle, Action: "no_order_to_track"},
				&domain.OutboundMessage{Body: noOrderToTrackText, QuickReplies: mainMenuButtons()}
		}
		return Step{
				Target:         domain.StateTrackingOrder,
				ContextUpdates: map[string]any{domain.CtxTrackingOrderID: orderID},
				Action:         "track_order",
			},
			&domain.OutboundMessage{Body: fmt.Sprintf("📦 Order %s is being processed and will be delivered soon!", orderID)}

	case domain.IntentCancelOrder:
		return Step{
				Target: domain.StateIdle,
				ContextUpdates: map[string]any{
					domain.CtxPendingOrderID: "",
					domain.CtxOrderData:      "",
				},
				Action: "cancel_order",
			},
			&domain.OutboundMessage{Body: orderCancelledText}

	case domain.IntentContactSupport:
		return Step{Target: domain.StateWaitingForSupport, Action: "escalate_to_support"},
			&domain.OutboundMessage{Body: supportText}

	case domain.IntentGeneralInquiry:
		return Step{Target: sess.CurrentState, Force: true, Action: "send_help"},
			&domain.OutboundMessage{Body: helpText, QuickReplies: mainMenuButtons()}
	}

	// Unknown: hold state, offer the menu.
	return Step{Target: sess.CurrentState, Force: true, Action: "send_default_options"},
		&domain.OutboundMessage{Body: unclearText, QuickReplies: mainMenuButtons()}
}

// captureOrder records the free-text order details and moves to payment.
func (m *Manager) captureOrder(sess *domain.ConversationSession, msg domain.InboundMessage) (Step, *domain.OutboundMessage) {
	return Step{
			Target: domain.StateAwaitingPayment,
			ContextUpdates: map[string]any{
				domain.CtxOrderData:      msg.Body,
				domain.CtxPendingOrderID: uuid.NewString(),
			},
			Action: "capture_order",
		},
		&domain.OutboundMessage{Body: paymentPromptText, QuickReplies: paymentButtons()}
}

// completeOrder closes out the pending order after payment confirmation.
func (m *Manager) completeOrder(sess *domain.ConversationSession) (Step, *domain.OutboundMessage) {
	orderID, _ := sess.ContextString(domain.CtxPendingOrderID)
	if orderID == "" {
		orderID = uuid.NewString()
	}
	return Step{
			Target: domain.StateIdle,
			ContextUpdates: map[string]any{
				domain.CtxLastOrderID:    orderID,
				domain.CtxPendingOrderID: "",
			},
			Action: "complete_order",
		},
		&domain.OutboundMessage{Body: orderConfirmedText}
}

// confirmsPayment reports whether an intent seen in the payment
// confirmation state counts as confirming rather than redirecting.
func confirmsPayment(intent domain.Intent) bool {
	switch intent {
	case domain.IntentMpesaPayment, domain.IntentCashPayment,
		domain.IntentPlaceOrder, domain.IntentUnknown:
		return true
	}
	return false
}

// appendRecent returns the session's message history with the new message
// appended, capped at maxRecentMessages.
func appendRecent(sess *domain.ConversationSession, body string) []string {
	var recent []string
	if raw, ok := sess.Context[domain.CtxRecentMessages]; ok {
		if list, ok := raw.([]any); ok {
			for _, v := range list {
				if s, ok := v.(string); ok {
					recent = append(recent, s)
				}
			}
		}
	}
	recent = append(recent, body)
	if len(recent) > maxRecentMessages {
		recent = recent[len(recent)-maxRecentMessages:]
	}
	return recent
}
