package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatcart/chatcart/internal/domain"
)

// CampaignStore persists recovery campaigns.
type CampaignStore struct {
	q querier
}

// NewCampaignStore creates a campaign store using the given database.
func NewCampaignStore(db *DB) *CampaignStore {
	return &CampaignStore{q: db.sql}
}

// WithTx returns a view of the store bound to the given transaction.
func (s *CampaignStore) WithTx(tx *sql.Tx) *CampaignStore {
	return &CampaignStore{q: tx}
}

const campaignColumns = `id, cart_session_id, customer_id, campaign_type, status,
	attempt_number, message_content, incentive, fallback_used, provider_message_id,
	message_sent_at, customer_responded_at, customer_response, resulted_in_recovery, created_at`

// Create inserts a new campaign and fills in its ID and creation time.
func (s *CampaignStore) Create(c *domain.RecoveryCampaign) error {
	incentiveJSON := ""
	if c.Incentive != nil {
		data, err := json.Marshal(c.Incentive)
		if err != nil {
			return fmt.Errorf("encoding incentive: %w", err)
		}
		incentiveJSON = string(data)
	}

	now := time.Now().UTC()
	res, err := s.q.Exec(
		`INSERT INTO recovery_campaigns (cart_session_id, customer_id, campaign_type, status,
			attempt_number, message_content, incentive, fallback_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CartSessionID, c.CustomerID, c.CampaignType, c.Status,
		c.AttemptNumber, c.MessageContent, incentiveJSON, boolToInt(c.FallbackUsed),
		now.Format(time.DateTime),
	)
	if err != nil {
		return fmt.Errorf("creating campaign: %w", err)
	}

	c.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading campaign id: %w", err)
	}
	c.CreatedAt = now
	return nil
}

// Get returns a campaign by ID.
func (s *CampaignStore) Get(id int64) (*domain.RecoveryCampaign, error) {
	row := s.q.QueryRow(`SELECT `+campaignColumns+` FROM recovery_campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading campaign %d: %w", id, err)
	}
	return c, nil
}

// Update writes the campaign's delivery and response fields back.
func (s *CampaignStore) Update(c *domain.RecoveryCampaign) error {
	_, err := s.q.Exec(
		`UPDATE recovery_campaigns
		 SET status = ?, provider_message_id = ?, message_sent_at = ?,
			 customer_responded_at = ?, customer_response = ?, resulted_in_recovery = ?
		 WHERE id = ?`,
		c.Status, c.ProviderMessageID, nullTime(c.SentAt),
		nullTime(c.CustomerRespondedAt), c.CustomerResponse, boolToInt(c.ResultedInRecovery),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating campaign %d: %w", c.ID, err)
	}
	return nil
}

// ByCart returns all campaigns for a cart, oldest first.
func (s *CampaignStore) ByCart(cartSessionID int64) ([]*domain.RecoveryCampaign, error) {
	rows, err := s.q.Query(
		`SELECT `+campaignColumns+` FROM recovery_campaigns
		 WHERE cart_session_id = ? ORDER BY id ASC`, cartSessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing campaigns for cart %d: %w", cartSessionID, err)
	}
	defer rows.Close()
	return scanCampaigns(rows)
}

// InProgressForCustomer returns the customer's in-progress campaigns sent
// after the cutoff. Used to attribute inbound replies.
func (s *CampaignStore) InProgressForCustomer(customerID string, sentAfter time.Time) ([]*domain.RecoveryCampaign, error) {
	rows, err := s.q.Query(
		`SELECT `+campaignColumns+` FROM recovery_campaigns
		 WHERE customer_id = ? AND status = ? AND message_sent_at IS NOT NULL AND message_sent_at >= ?
		 ORDER BY message_sent_at DESC`,
		customerID, domain.CampaignInProgress, sentAfter.UTC().Format(time.DateTime),
	)
	if err != nil {
		return nil, fmt.Errorf("listing in-progress campaigns for %s: %w", customerID, err)
	}
	defer rows.Close()
	return scanCampaigns(rows)
}

// InProgressForCart returns a cart's in-progress campaigns.
func (s *CampaignStore) InProgressForCart(cartSessionID int64) ([]*domain.RecoveryCampaign, error) {
	rows, err := s.q.Query(
		`SELECT `+campaignColumns+` FROM recovery_campaigns
		 WHERE cart_session_id = ? AND status = ? ORDER BY id ASC`,
		cartSessionID, domain.CampaignInProgress,
	)
	if err != nil {
		return nil, fmt.Errorf("listing in-progress campaigns for cart %d: %w", cartSessionID, err)
	}
	defer rows.Close()
	return scanCampaigns(rows)
}

// StatusDistribution counts campaigns per status.
func (s *CampaignStore) StatusDistribution() (map[string]int, error) {
	rows, err := s.q.Query(`SELECT status, COUNT(*) FROM recovery_campaigns GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting campaigns by status: %w", err)
	}
	defer rows.Close()

	dist := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning campaign count: %w", err)
		}
		dist[status] = n
	}
	return dist, rows.Err()
}

func scanCampaign(row rowScanner) (*domain.RecoveryCampaign, error) {
	var c domain.RecoveryCampaign
	var campaignType, status, incentiveJSON, createdAt string
	var sentAt, respondedAt sql.NullString
	var fallback, recovered int

	err := row.Scan(
		&c.ID, &c.CartSessionID, &c.CustomerID, &campaignType, &status,
		&c.AttemptNumber, &c.MessageContent, &incentiveJSON, &fallback, &c.ProviderMessageID,
		&sentAt, &respondedAt, &c.CustomerResponse, &recovered, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	c.CampaignType = domain.CampaignType(campaignType)
	c.Status = domain.CampaignStatus(status)
	c.FallbackUsed = fallback != 0
	c.ResultedInRecovery = recovered != 0
	c.SentAt = parseNullTime(sentAt)
	c.CustomerRespondedAt = parseNullTime(respondedAt)
	c.CreatedAt, _ = time.Parse(time.DateTime, createdAt)

	if incentiveJSON != "" {
		var inc domain.Incentive
		if err := json.Unmarshal([]byte(incentiveJSON), &inc); err != nil {
			return nil, fmt.Errorf("decoding incentive: %w", err)
		}
		c.Incentive = &inc
	}
	return &c, nil
}

func scanCampaigns(rows *sql.Rows) ([]*domain.RecoveryCampaign, error) {
	var campaigns []*domain.RecoveryCampaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}
