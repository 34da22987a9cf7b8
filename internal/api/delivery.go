package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maxretain/lifecycle-mailer/internal/pkg/httputil"
	"github.com/maxretain/lifecycle-mailer/internal/status"
	"github.com/maxretain/lifecycle-mailer/internal/tracking"
)

// CheckBatchStatus runs one reconciler pass over the batch's unsettled
// rows, polling the provider for each.
func (h *Handlers) CheckBatchStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID := chi.URLParam(r, "batchID")

	orgID, found, err := h.orgs.ScanForBatch(ctx, batchID)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	if !found {
		httputil.NotFound(w, "batch not found")
		return
	}
	store, err := h.storeFor(ctx, orgID)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	res, err := status.NewReconciler(store, h.querier).CheckPending(ctx, batchID, queryInt(r, "limit", 0))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, res)
}

// rowView is the JSON shape of one tracking row.
type rowView struct {
	ID              int64  `json:"id"`
	OrgID           int64  `json:"org_id"`
	ContactID       string `json:"contact_id"`
	EmailType       string `json:"email_type"`
	ScheduledDate   string `json:"scheduled_date"`
	SendStatus      string `json:"send_status"`
	SendMode        string `json:"send_mode"`
	TestEmail       string `json:"test_email,omitempty"`
	AttemptCount    int    `json:"attempt_count"`
	LastAttemptAt   string `json:"last_attempt_at,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	BatchID         string `json:"batch_id"`
	MessageID       string `json:"message_id,omitempty"`
	DeliveryStatus  string `json:"delivery_status,omitempty"`
	StatusCheckedAt string `json:"status_checked_at,omitempty"`
	StatusDetails   string `json:"status_details,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

func toRowView(row tracking.Row) rowView {
	return rowView{
		ID:              row.ID,
		OrgID:           row.OrgID,
		ContactID:       row.ContactID,
		EmailType:       row.EmailType,
		ScheduledDate:   row.ScheduledDate,
		SendStatus:      row.SendStatus,
		SendMode:        row.SendMode,
		TestEmail:       row.TestEmail,
		AttemptCount:    row.AttemptCount,
		LastAttemptAt:   row.LastAttemptAt,
		LastError:       row.LastError,
		BatchID:         row.BatchID,
		MessageID:       row.MessageID,
		DeliveryStatus:  row.DeliveryStatus,
		StatusCheckedAt: row.StatusCheckedAt,
		StatusDetails:   row.StatusDetails,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

// GetMessageStatus looks a tracking row up by its provider message id.
func (h *Handlers) GetMessageStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	messageID := chi.URLParam(r, "messageID")

	orgID, found, err := h.orgs.ScanForMessage(ctx, messageID)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	if !found {
		httputil.NotFound(w, "message not found")
		return
	}
	store, err := h.storeFor(ctx, orgID)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	row, ok, err := store.ByMessageID(ctx, messageID)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	if !ok {
		httputil.NotFound(w, "message not found")
		return
	}
	httputil.OK(w, toRowView(row))
}
