package tracking

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maxretain/lifecycle-mailer/internal/contacts"
	"github.com/maxretain/lifecycle-mailer/internal/dates"
	"github.com/maxretain/lifecycle-mailer/internal/pkg/errs"
)

// Batch scopes. Calendar scopes keep only rows whose scheduled date falls
// inside [today, today+N]; bulk takes every row and dates it today.
const (
	ScopeToday      = "today"
	ScopeNext7Days  = "next_7_days"
	ScopeNext30Days = "next_30_days"
	ScopeNext90Days = "next_90_days"
	ScopeAll        = "all"
	ScopeBulk       = "bulk"
)

// ValidScope reports whether s is a known batch scope.
func ValidScope(s string) bool {
	switch s {
	case ScopeToday, ScopeNext7Days, ScopeNext30Days, ScopeNext90Days, ScopeAll, ScopeBulk:
		return true
	}
	return false
}

// maxErrorLen caps last_error so one giant provider response cannot bloat
// the table.
const maxErrorLen = 500

// Row is one tracked send. Timestamps are RFC 3339 strings, matching what
// the store writes; scheduled_date is YYYY-MM-DD.
type Row struct {
	ID              int64
	OrgID           int64
	ContactID       string
	EmailType       string
	ScheduledDate   string
	SendStatus      string
	SendMode        string
	TestEmail       string
	AttemptCount    int
	LastAttemptAt   string
	LastError       string
	BatchID         string
	MessageID       string
	DeliveryStatus  string
	StatusCheckedAt string
	StatusDetails   string
	CreatedAt       string
	UpdatedAt       string
}

const rowColumns = `id, org_id, contact_id, email_type, scheduled_date, send_status, send_mode,
	test_email, send_attempt_count, last_attempt_date, last_error, batch_id, message_id,
	delivery_status, status_checked_at, status_details, created_at, updated_at`

// Store reads and writes tracking rows for one org database.
type Store struct {
	db    *sql.DB
	orgID int64
	now   func() time.Time
}

// NewStore binds a store to an org database handle.
func NewStore(db *sql.DB, orgID int64) *Store {
	return &Store{db: db, orgID: orgID, now: time.Now}
}

// OrgID returns the org this store writes for.
func (s *Store) OrgID() int64 {
	return s.orgID
}

// NewBatchID mints a batch identifier with a random component and a
// creation timestamp, e.g. batch_3f2a9c81d4_20250825_143015.
func NewBatchID(now time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("batch_%s_%s", hex.EncodeToString(u[:])[:10], now.Format("20060102_150405"))
}

// NewSingleBatchID mints the identifier for a one-off resend batch.
func NewSingleBatchID(now time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("batch_single_%s_%s", hex.EncodeToString(u[:])[:8], now.Format("20060102_150405"))
}

// ScheduledRow is one engine-planned send handed to InitBatch.
type ScheduledRow struct {
	ContactID string
	EmailType string
	Date      time.Time
}

// InitResult reports what a batch initialization did.
type InitResult struct {
	BatchID  string
	Inserted int
	Skipped  int
}

// InitBatch persists scheduled sends as pending rows under a fresh batch
// id. Rows outside the scope's date range, rows with unknown email types,
// and rows already tracked for the same (contact, type, date) are skipped.
func (s *Store) InitBatch(ctx context.Context, scope, mode, testEmail string, planned []ScheduledRow) (InitResult, error) {
	if !ValidScope(scope) {
		return InitResult{}, errs.Dataf("unknown batch scope %q", scope)
	}
	if !ValidMode(mode) {
		return InitResult{}, errs.Dataf("unknown send mode %q", mode)
	}
	if mode == ModeTest && strings.TrimSpace(testEmail) == "" {
		return InitResult{}, errs.Dataf("test mode requires a test email address")
	}

	today := dates.Midnight(s.now())
	from, to := today, today
	switch scope {
	case ScopeNext7Days:
		to = today.AddDate(0, 0, 7)
	case ScopeNext30Days:
		to = today.AddDate(0, 0, 30)
	case ScopeNext90Days:
		to = today.AddDate(0, 0, 90)
	case ScopeAll:
		to = today.AddDate(1, 0, 0)
	}

	res := InitResult{BatchID: NewBatchID(s.now())}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InitResult{}, errs.Storef("starting batch init: %v", err)
	}
	defer tx.Rollback()

	const insert = `
		INSERT INTO email_send_tracking
			(org_id, contact_id, email_type, scheduled_date, send_status, send_mode, test_email, batch_id)
		SELECT ?, ?, ?, ?, 'pending', ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM email_send_tracking
			WHERE contact_id = ? AND email_type = ? AND scheduled_date = ?
		)`
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return InitResult{}, errs.Storef("preparing batch insert: %v", err)
	}
	defer stmt.Close()

	for _, p := range planned {
		emailType := contacts.NormalizeEmailType(p.EmailType)
		if !contacts.KnownEmailType(emailType) {
			res.Skipped++
			continue
		}
		day := dates.Midnight(p.Date)
		if scope == ScopeBulk {
			day = today
		} else if day.Before(from) || day.After(to) {
			res.Skipped++
			continue
		}
		scheduled := day.Format("2006-01-02")
		r, err := stmt.ExecContext(ctx,
			s.orgID, p.ContactID, emailType, scheduled, mode, nullable(testEmail), res.BatchID,
			p.ContactID, emailType, scheduled)
		if err != nil {
			return InitResult{}, errs.Storef("inserting tracking row: %v", err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return InitResult{}, errs.Storef("inserting tracking row: %v", err)
		}
		if n == 0 {
			res.Skipped++
			continue
		}
		res.Inserted++
	}

	if err := tx.Commit(); err != nil {
		return InitResult{}, errs.Storef("committing batch init: %v", err)
	}
	return res, nil
}

// InitSingleEmailBatch creates a one-row batch for an immediate resend,
// dated today. Duplicate guards do not apply: a manual resend is always
// intentional.
func (s *Store) InitSingleEmailBatch(ctx context.Context, contactID, emailType, mode, testEmail string) (string, error) {
	emailType = contacts.NormalizeEmailType(emailType)
	if !contacts.KnownEmailType(emailType) {
		return "", errs.Dataf("unknown email type %q", emailType)
	}
	if !ValidMode(mode) {
		return "", errs.Dataf("unknown send mode %q", mode)
	}
	if mode == ModeTest && strings.TrimSpace(testEmail) == "" {
		return "", errs.Dataf("test mode requires a test email address")
	}
	batchID := NewSingleBatchID(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_send_tracking
			(org_id, contact_id, email_type, scheduled_date, send_status, send_mode, test_email, batch_id)
		VALUES (?, ?, ?, ?, 'pending', ?, ?, ?)`,
		s.orgID, contactID, emailType, dates.Midnight(s.now()).Format("2006-01-02"),
		mode, nullable(testEmail), batchID)
	if err != nil {
		return "", errs.Storef("creating single-email batch: %v", err)
	}
	return batchID, nil
}

// NextPending claims up to limit pending rows of a batch by flipping them
// to processing inside one transaction. Two concurrent workers cannot
// claim the same row.
func (s *Store) NextPending(ctx context.Context, batchID string, limit int) ([]Row, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Storef("claiming pending rows: %v", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+rowColumns+`
		FROM email_send_tracking
		WHERE batch_id = ? AND send_status = 'pending'
		ORDER BY scheduled_date, id
		LIMIT ?`, batchID, limit)
	if err != nil {
		return nil, errs.Storef("claiming pending rows: %v", err)
	}
	claimed, err := collectRows(rows)
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]interface{}, len(claimed))
	for i := range claimed {
		ids[i] = claimed[i].ID
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE email_send_tracking SET send_status = 'processing'
		WHERE id IN (`+placeholders(len(ids))+`)`, ids...)
	if err != nil {
		return nil, errs.Storef("marking rows processing: %v", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, errs.Storef("claiming pending rows: %v", err)
	}
	for i := range claimed {
		claimed[i].SendStatus = StatusProcessing
	}
	return claimed, nil
}

// NextFailed returns up to limit failed rows of a batch for retry. Their
// status stays failed until the attempt resolves.
func (s *Store) NextFailed(ctx context.Context, batchID string, limit int) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rowColumns+`
		FROM email_send_tracking
		WHERE batch_id = ? AND send_status = 'failed'
		ORDER BY scheduled_date, id
		LIMIT ?`, batchID, limit)
	if err != nil {
		return nil, errs.Storef("selecting failed rows: %v", err)
	}
	return collectRows(rows)
}

// MarkSent records a successful dispatch.
func (s *Store) MarkSent(ctx context.Context, id int64, messageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE email_send_tracking
		SET send_status = 'sent',
		    message_id = ?,
		    last_attempt_date = ?,
		    send_attempt_count = send_attempt_count + 1,
		    last_error = NULL
		WHERE id = ?`,
		messageID, s.timestamp(), id)
	if err != nil {
		return errs.Storef("marking row %d sent: %v", id, err)
	}
	return nil
}

// MarkFailed records a failed attempt. The error message is truncated to
// fit the column budget.
func (s *Store) MarkFailed(ctx context.Context, id int64, cause string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE email_send_tracking
		SET send_status = 'failed',
		    last_error = ?,
		    last_attempt_date = ?,
		    send_attempt_count = send_attempt_count + 1
		WHERE id = ?`,
		errs.Truncate(cause, maxErrorLen), s.timestamp(), id)
	if err != nil {
		return errs.Storef("marking row %d failed: %v", id, err)
	}
	return nil
}

// Release returns claimed rows to pending, used when a chunk aborts
// before dispatching them.
func (s *Store) Release(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE email_send_tracking SET send_status = 'pending'
		WHERE send_status = 'processing' AND id IN (`+placeholders(len(args))+`)`, args...)
	if err != nil {
		return errs.Storef("releasing rows: %v", err)
	}
	return nil
}

// ResetProcessing returns every stuck processing row of a batch to
// pending. Used after a crashed run.
func (s *Store) ResetProcessing(ctx context.Context, batchID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_send_tracking SET send_status = 'pending'
		WHERE batch_id = ? AND send_status = 'processing'`, batchID)
	if err != nil {
		return 0, errs.Storef("resetting batch %s: %v", batchID, err)
	}
	return res.RowsAffected()
}

// GetRow fetches one tracking row by id.
func (s *Store) GetRow(ctx context.Context, id int64) (Row, bool, error) {
	return s.getOne(ctx, `SELECT `+rowColumns+` FROM email_send_tracking WHERE id = ?`, id)
}

// ByMessageID fetches the row carrying a provider message id.
func (s *Store) ByMessageID(ctx context.Context, messageID string) (Row, bool, error) {
	return s.getOne(ctx, `SELECT `+rowColumns+` FROM email_send_tracking WHERE message_id = ? LIMIT 1`, messageID)
}

func (s *Store) getOne(ctx context.Context, query string, arg interface{}) (Row, bool, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return Row{}, false, errs.Storef("fetching tracking row: %v", err)
	}
	found, err := collectRows(rows)
	if err != nil {
		return Row{}, false, err
	}
	if len(found) == 0 {
		return Row{}, false, nil
	}
	return found[0], true, nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func nullable(v string) interface{} {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func collectRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var (
			r                                                  Row
			testEmail, lastAttempt, lastError                  sql.NullString
			messageID, deliveryStatus, checkedAt, statusDetail sql.NullString
		)
		err := rows.Scan(&r.ID, &r.OrgID, &r.ContactID, &r.EmailType, &r.ScheduledDate,
			&r.SendStatus, &r.SendMode, &testEmail, &r.AttemptCount, &lastAttempt,
			&lastError, &r.BatchID, &messageID, &deliveryStatus, &checkedAt,
			&statusDetail, &r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			return nil, errs.Storef("scanning tracking row: %v", err)
		}
		r.TestEmail = testEmail.String
		r.LastAttemptAt = lastAttempt.String
		r.LastError = lastError.String
		r.MessageID = messageID.String
		r.DeliveryStatus = deliveryStatus.String
		r.StatusCheckedAt = checkedAt.String
		r.StatusDetails = statusDetail.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storef("reading tracking rows: %v", err)
	}
	return out, nil
}
