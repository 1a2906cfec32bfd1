package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create conversation sessions",
		SQL: `
			CREATE TABLE conversation_sessions (
				id               INTEGER PRIMARY KEY AUTOINCREMENT,
				customer_id      TEXT NOT NULL,
				current_state    TEXT NOT NULL DEFAULT 'INITIAL',
				context          TEXT NOT NULL DEFAULT '{}',
				last_interaction TEXT NOT NULL DEFAULT (datetime('now')),
				is_active        INTEGER NOT NULL DEFAULT 1,
				created_at       TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_sessions_customer ON conversation_sessions (customer_id, updated_at);
			CREATE INDEX idx_sessions_active ON conversation_sessions (is_active, current_state, last_interaction);
		`,
	},
	{
		Version: 2,
		Name:    "create cart sessions and recovery campaigns",
		SQL: `
			CREATE TABLE cart_sessions (
				id                       INTEGER PRIMARY KEY AUTOINCREMENT,
				customer_id              TEXT NOT NULL,
				group_id                 TEXT NOT NULL DEFAULT '',
				conversation_session_id  INTEGER NOT NULL,
				cart_items               TEXT NOT NULL DEFAULT '[]',
				estimated_total          REAL NOT NULL DEFAULT 0,
				items_count              INTEGER NOT NULL DEFAULT 0,
				status                   TEXT NOT NULL DEFAULT 'ACTIVE',
				abandonment_reason       TEXT NOT NULL DEFAULT '',
				abandoned_at             TEXT,
				recovery_attempts        INTEGER NOT NULL DEFAULT 0,
				last_recovery_message_at TEXT,
				recovered_at             TEXT,
				completed_order_id       TEXT NOT NULL DEFAULT '',
				created_at               TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at               TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_carts_conversation ON cart_sessions (conversation_session_id, status);
			CREATE INDEX idx_carts_status ON cart_sessions (status, abandoned_at);
			CREATE INDEX idx_carts_customer ON cart_sessions (customer_id);

			CREATE TABLE recovery_campaigns (
				id                    INTEGER PRIMARY KEY AUTOINCREMENT,
				cart_session_id       INTEGER NOT NULL REFERENCES cart_sessions(id) ON DELETE CASCADE,
				customer_id           TEXT NOT NULL,
				campaign_type         TEXT NOT NULL,
				status                TEXT NOT NULL DEFAULT 'PENDING',
				attempt_number        INTEGER NOT NULL DEFAULT 1,
				message_content       TEXT NOT NULL DEFAULT '',
				incentive             TEXT NOT NULL DEFAULT '',
				fallback_used         INTEGER NOT NULL DEFAULT 0,
				provider_message_id   TEXT NOT NULL DEFAULT '',
				message_sent_at       TEXT,
				customer_responded_at TEXT,
				customer_response     TEXT NOT NULL DEFAULT '',
				resulted_in_recovery  INTEGER NOT NULL DEFAULT 0,
				created_at            TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_campaigns_cart ON recovery_campaigns (cart_session_id, status);
			CREATE INDEX idx_campaigns_customer ON recovery_campaigns (customer_id, status, message_sent_at);
		`,
	},
	{
		Version: 3,
		Name:    "create api usage ledger",
		SQL: `
			CREATE TABLE api_usage (
				id               INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp        TEXT NOT NULL DEFAULT (datetime('now')),
				provider         TEXT NOT NULL,
				method           TEXT NOT NULL,
				customer_id      TEXT NOT NULL DEFAULT '',
				estimated_tokens INTEGER NOT NULL DEFAULT 0,
				tokens_used      INTEGER NOT NULL DEFAULT 0,
				response_tokens  INTEGER NOT NULL DEFAULT 0,
				success          INTEGER NOT NULL DEFAULT 0,
				response_time_ms INTEGER NOT NULL DEFAULT 0,
				error_code       TEXT NOT NULL DEFAULT '',
				error_message    TEXT NOT NULL DEFAULT '',
				estimated_cost   REAL NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_usage_timestamp ON api_usage (timestamp);
			CREATE INDEX idx_usage_provider ON api_usage (provider, timestamp);
		`,
	},
}
