// Package trace records conversation transitions in a bounded in-memory
// buffer and flags flow problems as they happen: premature payment jumps,
// state loops, ignored order details, undetected intents. The ops server
// exposes the buffer for debugging and streams new entries to subscribers.
package trace

import (
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chatcart/chatcart/internal/domain"
	"github.com/chatcart/chatcart/internal/logging"
)

const (
	bufferCap  = 1000
	bufferTrim = 500

	// loopWindow is how many of a customer's prior transitions are
	// inspected for loop detection; loopMin of them must exist.
	loopWindow = 5
	loopMin    = 3
)

// Step is one conversation turn handed to the tracer. FromState and
// ToState are the committed transition, after any recovery remapping.
type Step struct {
	CustomerID string
	Message    string
	FromState  domain.ConversationState
	ToState    domain.ConversationState
	Intent     domain.Intent
	Action     string
	Context    map[string]any
}

// Trace is a recorded conversation step plus any issues detected on it.
// Field names follow the debug API payloads.
type Trace struct {
	Timestamp  time.Time      `json:"timestamp"`
	CustomerID string         `json:"customer_id"`
	FromState  string         `json:"from_state"`
	ToState    string         `json:"to_state"`
	Message    string         `json:"message"`
	Intent     string         `json:"intent_detected"`
	Action     string         `json:"action_taken"`
	Context    map[string]any `json:"context_snapshot"`
	Issues     []string       `json:"issues_detected"`
}

// Tracer holds the ring buffer of conversation traces. All methods are
// safe for concurrent use.
type Tracer struct {
	mu      sync.Mutex
	traces  []Trace
	subs    map[int]chan Trace
	nextSub int

	now func() time.Time
	log *logging.Logger
}

// NewTracer creates an empty tracer.
func NewTracer(log *logging.Logger) *Tracer {
	return &Tracer{
		subs: make(map[int]chan Trace),
		now:  time.Now,
		log:  log.Sub("trace"),
	}
}

// Record analyzes a conversation step, stores it, and returns the trace
// with any detected issues. Subscribers with a full channel miss the
// entry rather than blocking the conversation path.
func (t *Tracer) Record(step Step) Trace {
	t.mu.Lock()
	issues := t.detectIssues(step)
	tr := Trace{
		Timestamp:  t.now().UTC(),
		CustomerID: step.CustomerID,
		FromState:  string(step.FromState),
		ToState:    string(step.ToState),
		Message:    step.Message,
		Intent:     string(step.Intent),
		Action:     step.Action,
		Context:    maps.Clone(step.Context),
		Issues:     issues,
	}
	t.traces = append(t.traces, tr)
	if len(t.traces) > bufferCap {
		trimmed := make([]Trace, bufferTrim)
		copy(trimmed, t.traces[len(t.traces)-bufferTrim:])
		t.traces = trimmed
	}
	for _, ch := range t.subs {
		select {
		case ch <- tr:
		default:
		}
	}
	t.mu.Unlock()

	if len(issues) > 0 {
		t.log.Warn().
			Str("customer_id", step.CustomerID).
			Strs("issues", issues).
			Msg("conversation issues detected")
	}
	return tr
}

// detectIssues runs the fixed flow heuristics over one step. Caller
// holds the lock.
func (t *Tracer) detectIssues(step Step) []string {
	issues := []string{}

	hasOrderRef := hasContextValue(step.Context, domain.CtxPendingOrderID) ||
		hasContextValue(step.Context, domain.CtxLastOrderID)

	if (step.FromState == domain.StateWelcome || step.FromState == domain.StateIdle) &&
		step.ToState == domain.StateAwaitingPayment && !hasOrderRef {
		issues = append(issues, "Premature jump to payment without order details")
	}

	if prior := t.recentToStates(step.CustomerID, loopWindow); len(prior) >= loopMin && allEqual(prior, string(step.ToState)) {
		issues = append(issues, fmt.Sprintf("State loop detected: stuck in %s", step.ToState))
	}

	switch step.ToState {
	case domain.StateAwaitingPayment:
		if !hasOrderRef {
			issues = append(issues, "In payment state but no order context found")
		}
	case domain.StateAwaitingPaymentConf:
		if !hasContextValue(step.Context, domain.CtxPaymentMethod) {
			issues = append(issues, "In payment confirmation state but no payment method context found")
		}
	}

	msgLen := utf8.RuneCountInString(strings.TrimSpace(step.Message))
	if step.Intent == domain.IntentUnknown && msgLen > 5 {
		issues = append(issues, fmt.Sprintf("Failed to detect intent for meaningful message: '%s...'", firstRunes(step.Message, 30)))
	}

	if step.FromState == domain.StateAwaitingOrder &&
		(step.ToState == domain.StateWelcome || step.ToState == domain.StateIdle) &&
		msgLen > 10 {
		issues = append(issues, fmt.Sprintf("Order details '%s...' may have been ignored", firstRunes(step.Message, 30)))
	}

	return issues
}

// recentToStates returns up to n most recent destination states recorded
// for the customer, newest first. Caller holds the lock.
func (t *Tracer) recentToStates(customerID string, n int) []string {
	var states []string
	for i := len(t.traces) - 1; i >= 0 && len(states) < n; i-- {
		if t.traces[i].CustomerID == customerID {
			states = append(states, t.traces[i].ToState)
		}
	}
	return states
}

// ForCustomer returns the customer's traces in chronological order,
// keeping only the most recent limit entries when limit is positive.
func (t *Tracer) ForCustomer(customerID string, limit int) []Trace {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Trace
	for _, tr := range t.traces {
		if tr.CustomerID == customerID {
			out = append(out, tr)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Since returns all traces recorded after the cutoff in chronological order.
func (t *Tracer) Since(cutoff time.Time) []Trace {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Trace
	for _, tr := range t.traces {
		if tr.Timestamp.After(cutoff) {
			out = append(out, tr)
		}
	}
	return out
}

// Len returns the number of buffered traces.
func (t *Tracer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.traces)
}

// Subscribe returns a channel that receives every trace recorded from now
// on, plus a cancel function that unregisters and closes it.
func (t *Tracer) Subscribe() (<-chan Trace, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSub
	t.nextSub++
	ch := make(chan Trace, 32)
	t.subs[id] = ch

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func hasContextValue(ctx map[string]any, key string) bool {
	v, ok := ctx[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return s != ""
	}
	return true
}

func allEqual(states []string, want string) bool {
	for _, s := range states {
		if s != want {
			return false
		}
	}
	return len(states) > 0
}

// firstRunes returns at most the first n runes of s, never splitting a
// multi-byte character.
func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
