package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcart/chatcart/internal/domain"
	"github.com/chatcart/chatcart/internal/logging"
	"github.com/chatcart/chatcart/internal/store"
	"github.com/chatcart/chatcart/internal/trace"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent", "json")
}

func testMachine(t *testing.T) (*StateMachine, *store.DB, *trace.Tracer) {
	t.Helper()
	log := testLogger()
	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tracer := trace.NewTracer(log)
	m := NewStateMachine(store.NewSessionStore(db), tracer, 30*time.Minute, log)
	return m, db, tracer
}

func sessionInState(t *testing.T, m *StateMachine, customerID string, state domain.ConversationState) *domain.ConversationSession {
	t.Helper()
	sess, err := m.GetOrCreateSession(customerID)
	require.NoError(t, err)
	sess.CurrentState = state
	require.NoError(t, m.sessions.Update(sess))
	return sess
}

// --- Transition tests ---

func TestTransition_AllowedMove(t *testing.T) {
	m, _, _ := testMachine(t)
	sess := sessionInState(t, m, "254700000001", domain.StateWelcome)

	committed, err := m.Transition(sess, Step{Target: domain.StateAwaitingOrder})
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingOrder, committed)
	assert.Equal(t, domain.StateAwaitingOrder, sess.CurrentState)
}

func TestTransition_IdleAlwaysSucceeds(t *testing.T) {
	m, _, _ := testMachine(t)

	for _, state := range domain.States() {
		sess := sessionInState(t, m, "cust-"+string(state), state)
		committed, err := m.Transition(sess, Step{Target: domain.StateIdle})
		require.NoError(t, err)
		assert.Equal(t, domain.StateIdle, committed, "from %s", state)
	}
}

// Every disallowed (from, to) pair must be remapped: the committed state is
// never the requested one.
func TestTransition_DisallowedNeverCommitsRequested(t *testing.T) {
	m, _, _ := testMachine(t)

	for _, from := range domain.States() {
		for _, to := range domain.States() {
			if to == domain.StateIdle || from.CanTransition(to) {
				continue
			}
			sess := sessionInState(t, m, "cust-"+string(from)+"-"+string(to), from)
			committed, err := m.Transition(sess, Step{Target: to})
			require.NoError(t, err)
			assert.NotEqual(t, to, committed, "from=%s to=%s", from, to)
			assert.Equal(t, committed, sess.CurrentState)
			// The recovered state must itself be reachable (or IDLE).
			assert.True(t, from.CanTransition(committed), "from=%s committed=%s", from, committed)
		}
	}
}

func TestTransition_PaymentRemaps(t *testing.T) {
	m, _, _ := testMachine(t)

	// Payment requested straight from IDLE is actually allowed; from
	// TRACKING_ORDER it is not and redirects to order details.
	sess := sessionInState(t, m, "254700000001", domain.StateTrackingOrder)
	committed, err := m.Transition(sess, Step{Target: domain.StateAwaitingPayment})
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingOrder, committed)

	// Payment confirmation from WELCOME redirects toward payment, but
	// payment is unreachable from WELCOME too, so it lands on IDLE.
	sess = sessionInState(t, m, "254700000002", domain.StateWelcome)
	committed, err = m.Transition(sess, Step{Target: domain.StateAwaitingPaymentConf})
	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, committed)
}

func TestTransition_WelcomeFromNonInitialGoesIdle(t *testing.T) {
	m, _, _ := testMachine(t)
	sess := sessionInState(t, m, "254700000001", domain.StateAwaitingOrder)

	committed, err := m.Transition(sess, Step{Target: domain.StateWelcome})
	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, committed)
}

func TestTransition_ForceBypassesTable(t *testing.T) {
	m, _, _ := testMachine(t)
	sess := sessionInState(t, m, "254700000001", domain.StateAwaitingPaymentConf)

	committed, err := m.Transition(sess, Step{Target: domain.StateWelcome, Force: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StateWelcome, committed)
}

func TestTransition_MergesContextAndStamps(t *testing.T) {
	m, _, _ := testMachine(t)
	sess := sessionInState(t, m, "254700000001", domain.StateWelcome)
	sess.Context = map[string]any{"keep": "me", domain.CtxLastOrderID: "ORD-1"}
	require.NoError(t, m.sessions.Update(sess))

	before := time.Now().UTC().Add(-time.Second)
	_, err := m.Transition(sess, Step{
		Target:         domain.StateAwaitingOrder,
		ContextUpdates: map[string]any{domain.CtxOrderData: "2 sodas", "keep": "overwritten"},
	})
	require.NoError(t, err)

	got, err := m.sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "overwritten", got.Context["keep"])
	assert.Equal(t, "ORD-1", got.Context[domain.CtxLastOrderID])
	assert.Equal(t, "2 sodas", got.Context[domain.CtxOrderData])
	assert.True(t, got.LastInteraction.After(before))
}

func TestTransition_RecordsCommittedTransition(t *testing.T) {
	m, _, tracer := testMachine(t)
	sess := sessionInState(t, m, "254700000001", domain.StateTrackingOrder)

	_, err := m.Transition(sess, Step{Target: domain.StateAwaitingPayment, Message: "pay now"})
	require.NoError(t, err)

	traces := tracer.ForCustomer("254700000001", 0)
	require.NotEmpty(t, traces)
	last := traces[len(traces)-1]
	assert.Equal(t, string(domain.StateTrackingOrder), last.FromState)
	assert.Equal(t, string(domain.StateAwaitingOrder), last.ToState)
}

// --- GetOrCreateSession tests ---

func TestGetOrCreateSession_ReusesWithinWindow(t *testing.T) {
	m, _, _ := testMachine(t)

	first, err := m.GetOrCreateSession("254700000001")
	require.NoError(t, err)
	again, err := m.GetOrCreateSession("254700000001")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}

func TestGetOrCreateSession_RotatesAfterWindow(t *testing.T) {
	m, _, _ := testMachine(t)

	first, err := m.GetOrCreateSession("254700000001")
	require.NoError(t, err)

	// Jump past the 30-minute window.
	m.now = func() time.Time { return time.Now().Add(31 * time.Minute) }

	fresh, err := m.GetOrCreateSession("254700000001")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, fresh.ID)
	assert.Equal(t, domain.StateInitial, fresh.CurrentState)

	old, err := m.sessions.Get(first.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
}

// --- ValidateConsistency tests ---

func TestValidateConsistency_CleanSession(t *testing.T) {
	m, _, _ := testMachine(t)
	sess := sessionInState(t, m, "254700000001", domain.StateWelcome)
	sess.LastInteraction = time.Now().UTC()

	report := m.ValidateConsistency(sess)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Issues)
	assert.Equal(t, RepairNone, report.RecommendedAction)
}

func TestValidateConsistency_PaymentWithoutOrder(t *testing.T) {
	m, _, _ := testMachine(t)
	sess := sessionInState(t, m, "254700000001", domain.StateAwaitingPayment)
	sess.LastInteraction = time.Now().UTC()

	report := m.ValidateConsistency(sess)
	assert.False(t, report.Valid)
	assert.Equal(t, RepairResetToIdle, report.RecommendedAction)

	sess.Context = map[string]any{domain.CtxPendingOrderID: "ORD-1"}
	report = m.ValidateConsistency(sess)
	assert.True(t, report.Valid)
}

func TestValidateConsistency_PaymentConfWithoutMethod(t *testing.T) {
	m, _, _ := testMachine(t)
	sess := sessionInState(t, m, "254700000001", domain.StateAwaitingPaymentConf)
	sess.LastInteraction = time.Now().UTC()

	report := m.ValidateConsistency(sess)
	assert.False(t, report.Valid)
	assert.Equal(t, RepairResetToIdle, report.RecommendedAction)
}

func TestValidateConsistency_TrackingWithoutOrder(t *testing.T) {
	m, _, _ := testMachine(t)
	sess := sessionInState(t, m, "254700000001", domain.StateTrackingOrder)
	sess.LastInteraction = time.Now().UTC()

	report := m.ValidateConsistency(sess)
	assert.False(t, report.Valid)
	// Issue only; no automatic repair for tracking.
	assert.Equal(t, RepairNone, report.RecommendedAction)
}

func TestValidateConsistency_Staleness(t *testing.T) {
	m, _, _ := testMachine(t)
	sess := sessionInState(t, m, "254700000001", domain.StateIdle)
	sess.LastInteraction = time.Now().UTC().Add(-45 * time.Minute)

	report := m.ValidateConsistency(sess)
	assert.False(t, report.Valid)
	assert.Equal(t, RepairResetToWelcome, report.RecommendedAction)
}
