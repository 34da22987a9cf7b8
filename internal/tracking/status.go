package tracking

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/maxretain/lifecycle-mailer/internal/pkg/errs"
)

// BatchStatus aggregates one batch's rows by send status.
type BatchStatus struct {
	BatchID    string
	Total      int
	Pending    int
	Processing int
	Accepted   int
	Sent       int
	Delivered  int
	Deferred   int
	Bounced    int
	Dropped    int
	Failed     int
	Skipped    int
	SendMode   string
	TestEmail  string
	CreatedAt  string
	UpdatedAt  string
}

// IsComplete reports whether no rows remain pending or processing.
func (b BatchStatus) IsComplete() bool {
	return b.Pending == 0 && b.Processing == 0
}

// CompletionPercentage is the share of rows past the queue.
func (b BatchStatus) CompletionPercentage() float64 {
	if b.Total == 0 {
		return 0
	}
	return float64(b.Total-b.Pending-b.Processing) / float64(b.Total) * 100
}

// DeliveryPercentage is the share of rows confirmed delivered.
func (b BatchStatus) DeliveryPercentage() float64 {
	if b.Total == 0 {
		return 0
	}
	return float64(b.Delivered) / float64(b.Total) * 100
}

const batchAggregate = `
	COUNT(*),
	SUM(CASE WHEN send_status = 'pending' THEN 1 ELSE 0 END),
	SUM(CASE WHEN send_status = 'processing' THEN 1 ELSE 0 END),
	SUM(CASE WHEN send_status = 'accepted' THEN 1 ELSE 0 END),
	SUM(CASE WHEN send_status = 'sent' THEN 1 ELSE 0 END),
	SUM(CASE WHEN send_status = 'delivered' THEN 1 ELSE 0 END),
	SUM(CASE WHEN send_status = 'deferred' THEN 1 ELSE 0 END),
	SUM(CASE WHEN send_status = 'bounced' THEN 1 ELSE 0 END),
	SUM(CASE WHEN send_status = 'dropped' THEN 1 ELSE 0 END),
	SUM(CASE WHEN send_status = 'failed' THEN 1 ELSE 0 END),
	SUM(CASE WHEN send_status = 'skipped' THEN 1 ELSE 0 END),
	MAX(send_mode),
	MAX(COALESCE(test_email, '')),
	MIN(created_at),
	MAX(updated_at)`

// BatchStatus aggregates one batch. The second return is false when the
// batch id matches no rows.
func (s *Store) BatchStatus(ctx context.Context, batchID string) (BatchStatus, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+batchAggregate+` FROM email_send_tracking WHERE batch_id = ?`, batchID)
	b, err := scanBatchStatus(row, nil)
	if err != nil {
		return BatchStatus{}, false, errs.Storef("aggregating batch %s: %v", batchID, err)
	}
	if b.Total == 0 {
		return BatchStatus{}, false, nil
	}
	b.BatchID = batchID
	return b, true, nil
}

// ListBatches returns per-batch aggregates, newest first. filter may be
// "complete", "incomplete", or empty for all.
func (s *Store) ListBatches(ctx context.Context, filter string, limit int) ([]BatchStatus, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, `+batchAggregate+`
		FROM email_send_tracking
		GROUP BY batch_id
		ORDER BY MIN(created_at) DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errs.Storef("listing batches: %v", err)
	}
	defer rows.Close()

	var out []BatchStatus
	for rows.Next() {
		var id string
		b, err := scanBatchStatus(rows, &id)
		if err != nil {
			return nil, errs.Storef("listing batches: %v", err)
		}
		b.BatchID = id
		switch filter {
		case "complete":
			if !b.IsComplete() {
				continue
			}
		case "incomplete":
			if b.IsComplete() {
				continue
			}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanBatchStatus reads the batchAggregate columns, optionally preceded
// by a batch_id column. Counts scan through Null wrappers: SUM over an
// empty group is NULL.
func scanBatchStatus(sc scanner, batchID *string) (BatchStatus, error) {
	var b BatchStatus
	var pending, processing, accepted, sent, delivered, deferred, bounced, dropped, failed, skipped sql.NullInt64
	var mode, testEmail, createdAt, updatedAt sql.NullString

	dest := make([]interface{}, 0, 16)
	if batchID != nil {
		dest = append(dest, batchID)
	}
	dest = append(dest, &b.Total, &pending, &processing, &accepted, &sent, &delivered,
		&deferred, &bounced, &dropped, &failed, &skipped, &mode, &testEmail, &createdAt, &updatedAt)
	if err := sc.Scan(dest...); err != nil {
		return BatchStatus{}, err
	}

	b.Pending = int(pending.Int64)
	b.Processing = int(processing.Int64)
	b.Accepted = int(accepted.Int64)
	b.Sent = int(sent.Int64)
	b.Delivered = int(delivered.Int64)
	b.Deferred = int(deferred.Int64)
	b.Bounced = int(bounced.Int64)
	b.Dropped = int(dropped.Int64)
	b.Failed = int(failed.Int64)
	b.Skipped = int(skipped.Int64)
	b.SendMode = mode.String
	b.TestEmail = testEmail.String
	b.CreatedAt = createdAt.String
	b.UpdatedAt = updatedAt.String
	return b, nil
}

// PendingStatusChecks returns rows whose provider status is worth
// re-querying: dispatched, carrying a message id, and not checked within
// the staleness window. batchID narrows to one batch when non-empty.
func (s *Store) PendingStatusChecks(ctx context.Context, batchID string, staleMinutes, limit int) ([]Row, error) {
	if staleMinutes < 0 {
		staleMinutes = 0
	}
	query := `
		SELECT ` + rowColumns + `
		FROM email_send_tracking
		WHERE message_id IS NOT NULL AND message_id != ''
		  AND send_status IN ('accepted', 'deferred', 'sent')
		  AND (status_checked_at IS NULL OR datetime(status_checked_at) < datetime('now', ?))`
	args := []interface{}{fmt.Sprintf("-%d minutes", staleMinutes)}
	if batchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, batchID)
	}
	query += ` ORDER BY last_attempt_date DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Storef("selecting status checks: %v", err)
	}
	return collectRows(rows)
}

// UpdateDeliveryStatus applies a provider verdict to a row.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, id int64, sendStatus, deliveryStatus, details string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE email_send_tracking
		SET send_status = ?, delivery_status = ?, status_details = ?, status_checked_at = ?
		WHERE id = ?`,
		sendStatus, deliveryStatus, nullable(details), s.timestamp(), id)
	if err != nil {
		return errs.Storef("updating delivery status for row %d: %v", id, err)
	}
	return nil
}

// TouchStatusCheck bumps status_checked_at without changing the verdict,
// so a provider outage does not hot-loop the reconciler on the same rows.
func (s *Store) TouchStatusCheck(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE email_send_tracking SET status_checked_at = ? WHERE id = ?`,
		s.timestamp(), id)
	if err != nil {
		return errs.Storef("touching status check for row %d: %v", id, err)
	}
	return nil
}
