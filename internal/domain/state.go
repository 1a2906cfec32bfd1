package domain

import "slices"

// ConversationState is a customer's position in the order flow.
type ConversationState string

const (
	StateInitial             ConversationState = "INITIAL"
	StateWelcome             ConversationState = "WELCOME"
	StateAwaitingOrder       ConversationState = "AWAITING_ORDER_DETAILS"
	StateAwaitingPayment     ConversationState = "AWAITING_PAYMENT"
	StateAwaitingPaymentConf ConversationState = "AWAITING_PAYMENT_CONFIRMATION"
	StateTrackingOrder       ConversationState = "TRACKING_ORDER"
	StateWaitingForSupport   ConversationState = "WAITING_FOR_SUPPORT"
	StateIdle                ConversationState = "IDLE"
)

// States lists every conversation state.
func States() []ConversationState {
	return []ConversationState{
		StateInitial,
		StateWelcome,
		StateAwaitingOrder,
		StateAwaitingPayment,
		StateAwaitingPaymentConf,
		StateTrackingOrder,
		StateWaitingForSupport,
		StateIdle,
	}
}

// ParseState converts a stored string into a ConversationState.
func ParseState(s string) (ConversationState, bool) {
	st := ConversationState(s)
	if slices.Contains(States(), st) {
		return st, true
	}
	return "", false
}

// transitions is the fixed adjacency table for the conversation flow.
// IDLE is handled separately: it is reachable from every state.
var transitions = map[ConversationState][]ConversationState{
	StateInitial:             {StateWelcome, StateIdle},
	StateWelcome:             {StateAwaitingOrder, StateTrackingOrder, StateWaitingForSupport, StateIdle},
	StateAwaitingOrder:       {StateAwaitingPayment, StateIdle, StateWaitingForSupport},
	StateAwaitingPayment:     {StateAwaitingPaymentConf, StateIdle, StateAwaitingOrder},
	StateAwaitingPaymentConf: {StateIdle, StateAwaitingPayment},
	StateTrackingOrder:       {StateIdle, StateAwaitingOrder, StateWaitingForSupport},
	StateWaitingForSupport:   {StateIdle, StateAwaitingOrder},
	StateIdle:                {StateWelcome, StateAwaitingOrder, StateAwaitingPayment, StateTrackingOrder, StateWaitingForSupport},
}

// CanTransition reports whether moving from s to next is allowed.
// IDLE always is, from anywhere.
func (s ConversationState) CanTransition(next ConversationState) bool {
	if next == StateIdle {
		return true
	}
	return slices.Contains(transitions[s], next)
}

// AllowedNext returns the states reachable from s per the adjacency table.
func (s ConversationState) AllowedNext() []ConversationState {
	return slices.Clone(transitions[s])
}

// PaymentAdjacent reports whether s is one of the payment-side states.
func (s ConversationState) PaymentAdjacent() bool {
	return s == StateAwaitingPayment || s == StateAwaitingPaymentConf
}

// OrderInProgress lists the states in which an order is being assembled,
// the states the abandonment detector watches.
func OrderInProgress() []ConversationState {
	return []ConversationState{StateAwaitingOrder, StateAwaitingPayment, StateAwaitingPaymentConf}
}

// OrderInProgress reports whether s indicates an order being assembled.
func (s ConversationState) OrderInProgress() bool {
	return slices.Contains(OrderInProgress(), s)
}
