// quotebook/database/migrations.go
package database

// migration represents a single database schema migration.
type migration struct {
	Version uint
	Query   string
}

// allMigrations holds all schema changes in order.
var allMigrations = []migration{
	{
		Version: 1,
		Query: `
-- Indexes backing the review queues and the pending-signature lookup
CREATE INDEX IF NOT EXISTS idx_quotes_approved ON quotes(approved, approved_at);
CREATE INDEX IF NOT EXISTS idx_quotes_flagged ON quotes(is_flagged);
CREATE INDEX IF NOT EXISTS idx_quotes_created_by ON quotes(created_by);
CREATE INDEX IF NOT EXISTS idx_participants_user ON quote_participants(user_id);
CREATE INDEX IF NOT EXISTS idx_lines_quote ON quote_lines(quote_id, position);
CREATE INDEX IF NOT EXISTS idx_signatures_user ON signatures(user_id);
		`,
	},
	{
		Version: 2,
		Query: `
CREATE INDEX IF NOT EXISTS idx_mod_actions_timestamp ON mod_actions(timestamp);
		`,
	},
}
