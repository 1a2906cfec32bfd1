package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatcart/chatcart/internal/domain"
)

// CartStore persists cart sessions.
type CartStore struct {
	q querier
}

// NewCartStore creates a cart store using the given database.
func NewCartStore(db *DB) *CartStore {
	return &CartStore{q: db.sql}
}

// WithTx returns a view of the store bound to the given transaction.
func (s *CartStore) WithTx(tx *sql.Tx) *CartStore {
	return &CartStore{q: tx}
}

const cartColumns = `id, customer_id, group_id, conversation_session_id, cart_items,
	estimated_total, items_count, status, abandonment_reason, abandoned_at,
	recovery_attempts, last_recovery_message_at, recovered_at, completed_order_id,
	created_at, updated_at`

// Create inserts a new cart session and fills in its ID and timestamps.
func (s *CartStore) Create(cart *domain.CartSession) error {
	itemsJSON, err := json.Marshal(cart.Items)
	if err != nil {
		return fmt.Errorf("encoding cart items: %w", err)
	}

	now := time.Now().UTC()
	ts := now.Format(time.DateTime)

	res, err := s.q.Exec(
		`INSERT INTO cart_sessions (customer_id, group_id, conversation_session_id, cart_items,
			estimated_total, items_count, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cart.CustomerID, cart.GroupID, cart.ConversationSessionID, string(itemsJSON),
		cart.EstimatedTotal, cart.ItemsCount, cart.Status, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("creating cart session: %w", err)
	}

	cart.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading cart id: %w", err)
	}
	cart.CreatedAt = now
	cart.UpdatedAt = now
	return nil
}

// Get returns a cart session by ID.
func (s *CartStore) Get(id int64) (*domain.CartSession, error) {
	row := s.q.QueryRow(`SELECT `+cartColumns+` FROM cart_sessions WHERE id = ?`, id)
	cart, err := scanCart(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading cart %d: %w", id, err)
	}
	return cart, nil
}

// ActiveByConversation returns the active cart tied to a conversation
// session, or ErrNotFound when there is none.
func (s *CartStore) ActiveByConversation(conversationSessionID int64) (*domain.CartSession, error) {
	row := s.q.QueryRow(
		`SELECT `+cartColumns+` FROM cart_sessions
		 WHERE conversation_session_id = ? AND status = ?
		 ORDER BY id DESC LIMIT 1`,
		conversationSessionID, domain.CartActive,
	)
	cart, err := scanCart(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading active cart for conversation %d: %w", conversationSessionID, err)
	}
	return cart, nil
}

// LatestByConversation returns the most recent cart tied to a conversation
// session regardless of status, or ErrNotFound when none exists.
func (s *CartStore) LatestByConversation(conversationSessionID int64) (*domain.CartSession, error) {
	row := s.q.QueryRow(
		`SELECT `+cartColumns+` FROM cart_sessions
		 WHERE conversation_session_id = ?
		 ORDER BY id DESC LIMIT 1`,
		conversationSessionID,
	)
	cart, err := scanCart(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest cart for conversation %d: %w", conversationSessionID, err)
	}
	return cart, nil
}

// AbandonedForCustomer returns the customer's most recent abandoned cart,
// or ErrNotFound when none exists.
func (s *CartStore) AbandonedForCustomer(customerID string) (*domain.CartSession, error) {
	row := s.q.QueryRow(
		`SELECT `+cartColumns+` FROM cart_sessions
		 WHERE customer_id = ? AND status = ?
		 ORDER BY id DESC LIMIT 1`,
		customerID, domain.CartAbandoned,
	)
	cart, err := scanCart(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading abandoned cart for customer %s: %w", customerID, err)
	}
	return cart, nil
}

// Update writes the cart's mutable fields back to the database.
func (s *CartStore) Update(cart *domain.CartSession) error {
	itemsJSON, err := json.Marshal(cart.Items)
	if err != nil {
		return fmt.Errorf("encoding cart items: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.q.Exec(
		`UPDATE cart_sessions
		 SET cart_items = ?, estimated_total = ?, items_count = ?, status = ?,
			 abandonment_reason = ?, abandoned_at = ?, recovery_attempts = ?,
			 last_recovery_message_at = ?, recovered_at = ?, completed_order_id = ?,
			 updated_at = ?
		 WHERE id = ?`,
		string(itemsJSON), cart.EstimatedTotal, cart.ItemsCount, cart.Status,
		cart.AbandonmentReason, nullTime(cart.AbandonedAt), cart.RecoveryAttempts,
		nullTime(cart.LastRecoveryMessageAt), nullTime(cart.RecoveredAt), cart.CompletedOrderID,
		now.Format(time.DateTime), cart.ID,
	)
	if err != nil {
		return fmt.Errorf("updating cart %d: %w", cart.ID, err)
	}
	cart.UpdatedAt = now
	return nil
}

// ByStatus returns all carts with the given status, oldest first.
func (s *CartStore) ByStatus(status domain.CartStatus) ([]*domain.CartSession, error) {
	rows, err := s.q.Query(
		`SELECT `+cartColumns+` FROM cart_sessions WHERE status = ? ORDER BY id ASC`, status,
	)
	if err != nil {
		return nil, fmt.Errorf("listing carts by status: %w", err)
	}
	defer rows.Close()
	return scanCarts(rows)
}

// AbandonedBefore returns abandoned carts whose abandonment happened before
// the cutoff. Used by the expiry pass.
func (s *CartStore) AbandonedBefore(cutoff time.Time) ([]*domain.CartSession, error) {
	rows, err := s.q.Query(
		`SELECT `+cartColumns+` FROM cart_sessions
		 WHERE status = ? AND abandoned_at IS NOT NULL AND abandoned_at < ?
		 ORDER BY abandoned_at ASC`,
		domain.CartAbandoned, cutoff.UTC().Format(time.DateTime),
	)
	if err != nil {
		return nil, fmt.Errorf("listing expired carts: %w", err)
	}
	defer rows.Close()
	return scanCarts(rows)
}

// StatusDistribution counts carts per status.
func (s *CartStore) StatusDistribution() (map[string]int, error) {
	rows, err := s.q.Query(`SELECT status, COUNT(*) FROM cart_sessions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting carts by status: %w", err)
	}
	defer rows.Close()

	dist := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning cart count: %w", err)
		}
		dist[status] = n
	}
	return dist, rows.Err()
}

func scanCart(row rowScanner) (*domain.CartSession, error) {
	var cart domain.CartSession
	var status, reason, itemsJSON, createdAt, updatedAt string
	var abandonedAt, lastRecoveryAt, recoveredAt sql.NullString

	err := row.Scan(
		&cart.ID, &cart.CustomerID, &cart.GroupID, &cart.ConversationSessionID, &itemsJSON,
		&cart.EstimatedTotal, &cart.ItemsCount, &status, &reason, &abandonedAt,
		&cart.RecoveryAttempts, &lastRecoveryAt, &recoveredAt, &cart.CompletedOrderID,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	cart.Status = domain.CartStatus(status)
	cart.AbandonmentReason = domain.AbandonmentReason(reason)
	cart.AbandonedAt = parseNullTime(abandonedAt)
	cart.LastRecoveryMessageAt = parseNullTime(lastRecoveryAt)
	cart.RecoveredAt = parseNullTime(recoveredAt)
	cart.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	cart.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)

	if itemsJSON != "" {
		if err := json.Unmarshal([]byte(itemsJSON), &cart.Items); err != nil {
			return nil, fmt.Errorf("decoding cart items: %w", err)
		}
	}
	return &cart, nil
}

func scanCarts(rows *sql.Rows) ([]*domain.CartSession, error) {
	var carts []*domain.CartSession
	for rows.Next() {
		cart, err := scanCart(rows)
		if err != nil {
			return nil, err
		}
		carts = append(carts, cart)
	}
	return carts, rows.Err()
}

// nullTime converts an optional timestamp to its SQL value.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.DateTime)
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.DateTime, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
