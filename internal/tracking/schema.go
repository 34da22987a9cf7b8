// Package tracking persists planned sends and their delivery lifecycle in
// each org's database.
package tracking

import (
	"context"

	"github.com/maxretain/lifecycle-mailer/internal/pkg/errs"
)

// Send statuses a tracking row moves through. delivered, bounced,
// dropped, failed, and skipped are terminal.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusAccepted   = "accepted"
	StatusDelivered  = "delivered"
	StatusSent       = "sent"
	StatusDeferred   = "deferred"
	StatusBounced    = "bounced"
	StatusDropped    = "dropped"
	StatusFailed     = "failed"
	StatusSkipped    = "skipped"
)

// Send modes.
const (
	ModeTest       = "test"
	ModeProduction = "production"
)

// ValidMode reports whether m is a known send mode.
func ValidMode(m string) bool {
	return m == ModeTest || m == ModeProduction
}

const tableSchema = `
CREATE TABLE IF NOT EXISTS email_send_tracking (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    org_id INTEGER NOT NULL,
    contact_id TEXT NOT NULL,
    email_type TEXT NOT NULL,
    scheduled_date TEXT NOT NULL,
    send_status TEXT NOT NULL CHECK(send_status IN ('pending', 'processing', 'accepted', 'delivered', 'sent', 'deferred', 'bounced', 'dropped', 'failed', 'skipped')) DEFAULT 'pending',
    send_mode TEXT NOT NULL CHECK(send_mode IN ('test', 'production')) DEFAULT 'test',
    test_email TEXT,
    send_attempt_count INTEGER NOT NULL DEFAULT 0,
    last_attempt_date TEXT,
    last_error TEXT,
    batch_id TEXT NOT NULL,
    message_id TEXT,
    delivery_status TEXT,
    status_checked_at TEXT,
    status_details TEXT,
    created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

var indexSchemas = []string{
	`CREATE INDEX IF NOT EXISTS idx_email_tracking_batch_id ON email_send_tracking(batch_id)`,
	`CREATE INDEX IF NOT EXISTS idx_email_tracking_send_status ON email_send_tracking(send_status)`,
	`CREATE INDEX IF NOT EXISTS idx_email_tracking_send_mode ON email_send_tracking(send_mode)`,
	`CREATE INDEX IF NOT EXISTS idx_email_tracking_contact_id ON email_send_tracking(contact_id)`,
	`CREATE INDEX IF NOT EXISTS idx_email_tracking_contact_type ON email_send_tracking(contact_id, email_type)`,
	`CREATE INDEX IF NOT EXISTS idx_email_tracking_status_date ON email_send_tracking(send_status, scheduled_date)`,
	`CREATE INDEX IF NOT EXISTS idx_email_tracking_message_id ON email_send_tracking(message_id)`,
	`CREATE INDEX IF NOT EXISTS idx_email_tracking_delivery_status ON email_send_tracking(delivery_status)`,
}

const touchTrigger = `
CREATE TRIGGER IF NOT EXISTS update_email_tracking_timestamp
AFTER UPDATE ON email_send_tracking
BEGIN
    UPDATE email_send_tracking SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END`

// EnsureSchema creates the tracking table, its indexes, and the
// updated_at trigger if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, tableSchema); err != nil {
		return errs.Storef("creating tracking table: %v", err)
	}
	for _, stmt := range indexSchemas {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errs.Storef("creating tracking index: %v", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, touchTrigger); err != nil {
		return errs.Storef("creating tracking trigger: %v", err)
	}
	return nil
}
