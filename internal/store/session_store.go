package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chatcart/chatcart/internal/domain"
)

// SessionStore persists conversation sessions.
type SessionStore struct {
	q querier
}

// NewSessionStore creates a session store using the given database.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{q: db.sql}
}

// WithTx returns a view of the store bound to the given transaction.
// Batch jobs use this so a whole pass commits as one unit.
func (s *SessionStore) WithTx(tx *sql.Tx) *SessionStore {
	return &SessionStore{q: tx}
}

const sessionColumns = `id, customer_id, current_state, context, last_interaction, is_active, created_at, updated_at`

// Create inserts a fresh session in the INITIAL state.
func (s *SessionStore) Create(customerID string) (*domain.ConversationSession, error) {
	now := time.Now().UTC()
	ts := now.Format(time.DateTime)

	res, err := s.q.Exec(
		`INSERT INTO conversation_sessions (customer_id, current_state, context, last_interaction, is_active, created_at, updated_at)
		 VALUES (?, ?, '{}', ?, 1, ?, ?)`,
		customerID, domain.StateInitial, ts, ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading session id: %w", err)
	}

	return &domain.ConversationSession{
		ID:              id,
		CustomerID:      customerID,
		CurrentState:    domain.StateInitial,
		Context:         map[string]any{},
		LastInteraction: now,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Get returns a session by ID.
func (s *SessionStore) Get(id int64) (*domain.ConversationSession, error) {
	row := s.q.QueryRow(
		`SELECT `+sessionColumns+` FROM conversation_sessions WHERE id = ?`, id,
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %d: %w", id, err)
	}
	return sess, nil
}

// MostRecentActive returns the customer's most recently updated active
// session, or ErrNotFound when the customer has none.
func (s *SessionStore) MostRecentActive(customerID string) (*domain.ConversationSession, error) {
	row := s.q.QueryRow(
		`SELECT `+sessionColumns+` FROM conversation_sessions
		 WHERE customer_id = ? AND is_active = 1
		 ORDER BY updated_at DESC, id DESC LIMIT 1`, customerID,
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading active session for %s: %w", customerID, err)
	}
	return sess, nil
}

// Update writes the session's state, context, interaction timestamp and
// active flag back to the database.
func (s *SessionStore) Update(sess *domain.ConversationSession) error {
	ctxJSON, err := json.Marshal(sess.Context)
	if err != nil {
		return fmt.Errorf("encoding session context: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.q.Exec(
		`UPDATE conversation_sessions
		 SET current_state = ?, context = ?, last_interaction = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		sess.CurrentState, string(ctxJSON),
		sess.LastInteraction.UTC().Format(time.DateTime),
		boolToInt(sess.IsActive), now.Format(time.DateTime), sess.ID,
	)
	if err != nil {
		return fmt.Errorf("updating session %d: %w", sess.ID, err)
	}
	sess.UpdatedAt = now
	return nil
}

// Deactivate marks a session inactive without touching its state or context.
func (s *SessionStore) Deactivate(id int64) error {
	_, err := s.q.Exec(
		`UPDATE conversation_sessions SET is_active = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.DateTime), id,
	)
	if err != nil {
		return fmt.Errorf("deactivating session %d: %w", id, err)
	}
	return nil
}

// ListActive returns all active sessions, most recently updated first.
func (s *SessionStore) ListActive() ([]*domain.ConversationSession, error) {
	rows, err := s.q.Query(
		`SELECT ` + sessionColumns + ` FROM conversation_sessions
		 WHERE is_active = 1 ORDER BY updated_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ActiveInStates returns active sessions sitting in any of the given states
// whose last interaction is older than the cutoff.
func (s *SessionStore) ActiveInStates(states []domain.ConversationState, cutoff time.Time) ([]*domain.ConversationSession, error) {
	if len(states) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(states)), ",")
	args := make([]any, 0, len(states)+1)
	for _, st := range states {
		args = append(args, st)
	}
	args = append(args, cutoff.UTC().Format(time.DateTime))

	rows, err := s.q.Query(
		`SELECT `+sessionColumns+` FROM conversation_sessions
		 WHERE is_active = 1 AND current_state IN (`+placeholders+`) AND last_interaction < ?
		 ORDER BY last_interaction ASC`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing stalled sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// StateDistribution counts active sessions per state.
func (s *SessionStore) StateDistribution() (map[string]int, error) {
	rows, err := s.q.Query(
		`SELECT current_state, COUNT(*) FROM conversation_sessions
		 WHERE is_active = 1 GROUP BY current_state`,
	)
	if err != nil {
		return nil, fmt.Errorf("counting sessions by state: %w", err)
	}
	defer rows.Close()

	dist := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scanning state count: %w", err)
		}
		dist[state] = n
	}
	return dist, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.ConversationSession, error) {
	var sess domain.ConversationSession
	var state, ctxJSON, lastInteraction, createdAt, updatedAt string
	var active int

	err := row.Scan(
		&sess.ID, &sess.CustomerID, &state, &ctxJSON,
		&lastInteraction, &active, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.CurrentState = domain.ConversationState(state)
	sess.IsActive = active != 0
	sess.LastInteraction, _ = time.Parse(time.DateTime, lastInteraction)
	sess.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	sess.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)

	sess.Context = map[string]any{}
	if ctxJSON != "" {
		if err := json.Unmarshal([]byte(ctxJSON), &sess.Context); err != nil {
			return nil, fmt.Errorf("decoding session context: %w", err)
		}
	}
	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]*domain.ConversationSession, error) {
	var sessions []*domain.ConversationSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
