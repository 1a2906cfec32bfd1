// Package conversation drives the customer order flow: the state machine
// that validates and applies transitions, the session lifecycle, the
// periodic janitor, intent detection, and the inbound message pipeline.
package conversation

import (
	"errors"
	"fmt"
	"time"

	"github.com/chatcart/chatcart/internal/domain"
	"github.com/chatcart/chatcart/internal/logging"
	"github.com/chatcart/chatcart/internal/store"
	"github.com/chatcart/chatcart/internal/trace"
)

// RepairAction is what the consistency validator recommends for a broken
// session. The janitor applies these.
type RepairAction string

const (
	RepairNone           RepairAction = "none"
	RepairResetToIdle    RepairAction = "reset_to_idle"
	RepairResetToWelcome RepairAction = "reset_to_welcome"
)

// ConsistencyReport is the result of validating a session's state against
// its context.
type ConsistencyReport struct {
	Valid             bool         `json:"is_valid"`
	Issues            []string     `json:"issues"`
	RecommendedAction RepairAction `json:"recommended_action"`
}

// Step is one requested transition handed to the state machine.
type Step struct {
	Target         domain.ConversationState
	ContextUpdates map[string]any
	Message        string
	Intent         domain.Intent
	Action         string

	// Force applies the target unconditionally, bypassing the adjacency
	// table. Used for same-state stamps and janitor resets.
	Force bool
}

// StateMachine validates and applies conversation state transitions.
// Disallowed transitions are never surfaced as errors; they are remapped
// to a safe state (ultimately IDLE) and logged.
type StateMachine struct {
	sessions      *store.SessionStore
	tracer        *trace.Tracer
	sessionWindow time.Duration

	now func() time.Time
	log *logging.Logger
}

// NewStateMachine creates a state machine over the given session store.
// sessionWindow is the inactivity span after which a session is replaced
// rather than resumed.
func NewStateMachine(sessions *store.SessionStore, tracer *trace.Tracer, sessionWindow time.Duration, log *logging.Logger) *StateMachine {
	return &StateMachine{
		sessions:      sessions,
		tracer:        tracer,
		sessionWindow: sessionWindow,
		now:           time.Now,
		log:           log.Sub("statemachine"),
	}
}

// GetOrCreateSession returns the customer's authoritative session: the
// most recently updated active one, unless it has been inactive past the
// session window, in which case it is deactivated and a fresh INITIAL
// session takes its place.
func (m *StateMachine) GetOrCreateSession(customerID string) (*domain.ConversationSession, error) {
	sess, err := m.sessions.MostRecentActive(customerID)
	if errors.Is(err, store.ErrNotFound) {
		return m.sessions.Create(customerID)
	}
	if err != nil {
		return nil, err
	}

	if sess.InactiveFor(m.sessionWindow, m.now()) {
		if err := m.sessions.Deactivate(sess.ID); err != nil {
			return nil, err
		}
		m.log.Info().
			Str("customer_id", customerID).
			Int64("expired_session_id", sess.ID).
			Msg("session expired, starting fresh")
		return m.sessions.Create(customerID)
	}
	return sess, nil
}

// Transition applies a step to the session and persists it. The returned
// state is the committed one, which may differ from the requested target
// when recovery remapping kicked in. The committed transition, not the
// requested one, is what gets traced.
func (m *StateMachine) Transition(sess *domain.ConversationSession, step Step) (domain.ConversationState, error) {
	return m.TransitionIn(m.sessions, sess, step)
}

// TransitionIn is Transition against an explicit session store. The
// janitor uses it to apply forced resets inside its batch transaction;
// every session mutation still flows through here so it stamps
// LastInteraction and reaches the tracer.
func (m *StateMachine) TransitionIn(sessions *store.SessionStore, sess *domain.ConversationSession, step Step) (domain.ConversationState, error) {
	from := sess.CurrentState

	committed := step.Target
	if !step.Force && !from.CanTransition(step.Target) {
		committed = recoverTarget(from, step.Target)
		m.log.Warn().
			Str("customer_id", sess.CustomerID).
			Str("from", string(from)).
			Str("requested", string(step.Target)).
			Str("committed", string(committed)).
			Msg("invalid transition recovered")
	}

	sess.CurrentState = committed
	sess.MergeContext(step.ContextUpdates)
	sess.LastInteraction = m.now().UTC()

	if err := sessions.Update(sess); err != nil {
		return committed, fmt.Errorf("persisting transition for %s: %w", sess.CustomerID, err)
	}

	if m.tracer != nil {
		m.tracer.Record(trace.Step{
			CustomerID: sess.CustomerID,
			Message:    step.Message,
			FromState:  from,
			ToState:    committed,
			Intent:     step.Intent,
			Action:     step.Action,
			Context:    sess.Context,
		})
	}
	return committed, nil
}

// recoverTarget maps a disallowed transition to a safe one. Only the
// payment states and WELCOME get dedicated remaps; everything else falls
// straight to IDLE, as does a remap target that is itself unreachable.
func recoverTarget(current, requested domain.ConversationState) domain.ConversationState {
	var remapped domain.ConversationState
	switch {
	case requested == domain.StateAwaitingPayment:
		remapped = domain.StateAwaitingOrder
	case requested == domain.StateAwaitingPaymentConf:
		remapped = domain.StateAwaitingPayment
	case requested == domain.StateWelcome && current != domain.StateInitial:
		return domain.StateIdle
	default:
		return domain.StateIdle
	}

	if !current.CanTransition(remapped) {
		return domain.StateIdle
	}
	return remapped
}

// ValidateConsistency checks that a session's state agrees with its
// context and freshness. Valid is true iff no issues were found.
func (m *StateMachine) ValidateConsistency(sess *domain.ConversationSession) ConsistencyReport {
	report := ConsistencyReport{Issues: []string{}, RecommendedAction: RepairNone}

	recommend := func(a RepairAction) {
		if report.RecommendedAction == RepairNone {
			report.RecommendedAction = a
		}
	}

	switch sess.CurrentState {
	case domain.StateAwaitingPayment:
		if !sess.HasContext(domain.CtxPendingOrderID, domain.CtxLastOrderID) {
			report.Issues = append(report.Issues, "In payment state but no order context found")
			recommend(RepairResetToIdle)
		}
	case domain.StateAwaitingPaymentConf:
		if !sess.HasContext(domain.CtxPaymentMethod) {
			report.Issues = append(report.Issues, "In payment confirmation state but no payment method selected")
			recommend(RepairResetToIdle)
		}
	case domain.StateTrackingOrder:
		if !sess.HasContext(domain.CtxTrackingOrderID, domain.CtxLastOrderID) {
			report.Issues = append(report.Issues, "In tracking state but no order to track")
		}
	}

	if sess.InactiveFor(m.sessionWindow, m.now()) {
		report.Issues = append(report.Issues,
			fmt.Sprintf("Session stale: no interaction for over %s", m.sessionWindow))
		recommend(RepairResetToWelcome)
	}

	report.Valid = len(report.Issues) == 0
	return report
}
