package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maxretain/lifecycle-mailer/internal/contacts"
	"github.com/maxretain/lifecycle-mailer/internal/dates"
	"github.com/maxretain/lifecycle-mailer/internal/pkg/httputil"
	"github.com/maxretain/lifecycle-mailer/internal/tracking"
)

// createBatchRequest initializes a batch over an org's whole contact
// population. Scope defaults to bulk, mode to test.
type createBatchRequest struct {
	OrgID     int64  `json:"org_id"`
	Scope     string `json:"scope"`
	Mode      string `json:"mode"`
	TestEmail string `json:"test_email"`
}

type createBatchResponse struct {
	BatchID  string `json:"batch_id"`
	OrgID    int64  `json:"org_id"`
	Scope    string `json:"scope"`
	Mode     string `json:"mode"`
	Contacts int    `json:"contacts"`
	Planned  int    `json:"planned"`
	Inserted int    `json:"inserted"`
	Skipped  int    `json:"skipped"`
}

// CreateBatch schedules every contact of the org and persists the planned
// sends as pending tracking rows.
func (h *Handlers) CreateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := createBatchRequest{Scope: tracking.ScopeBulk, Mode: tracking.ModeTest}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.OrgID <= 0 {
		httputil.BadRequest(w, "org_id is required")
		return
	}

	db, err := h.orgs.ForOrg(req.OrgID)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	all, err := contacts.LoadAll(ctx, db)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	if len(all) == 0 {
		httputil.NotFound(w, "no contacts found for organization")
		return
	}

	today := dates.Midnight(time.Now())
	results := h.engine.ScheduleAll(ctx, all, today, today.AddDate(2, 0, 0))
	var planned []tracking.ScheduledRow
	for _, res := range results {
		for _, e := range res.Emails {
			planned = append(planned, tracking.ScheduledRow{
				ContactID: res.Contact.ID,
				EmailType: e.Type,
				Date:      e.Date,
			})
		}
	}

	store, err := h.storeFor(ctx, req.OrgID)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	init, err := store.InitBatch(ctx, req.Scope, req.Mode, req.TestEmail, planned)
	if err != nil {
		httputil.FromError(w, err)
		return
	}

	h.log.Info("batch created",
		"batch_id", init.BatchID, "org_id", req.OrgID, "scope", req.Scope, "mode", req.Mode,
		"inserted", init.Inserted, "skipped", init.Skipped)
	httputil.Created(w, createBatchResponse{
		BatchID:  init.BatchID,
		OrgID:    req.OrgID,
		Scope:    req.Scope,
		Mode:     req.Mode,
		Contacts: len(all),
		Planned:  len(planned),
		Inserted: init.Inserted,
		Skipped:  init.Skipped,
	})
}

type createSingleRequest struct {
	OrgID     int64  `json:"org_id"`
	ContactID string `json:"contact_id"`
	EmailType string `json:"email_type"`
	Mode      string `json:"mode"`
	TestEmail string `json:"test_email"`
}

// CreateSingleBatch queues one immediate send for one contact.
func (h *Handlers) CreateSingleBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := createSingleRequest{Mode: tracking.ModeTest}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.OrgID <= 0 {
		httputil.BadRequest(w, "org_id is required")
		return
	}
	if req.ContactID == "" {
		httputil.BadRequest(w, "contact_id is required")
		return
	}

	db, err := h.orgs.ForOrg(req.OrgID)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	if _, ok, err := contacts.Get(ctx, db, req.ContactID); err != nil {
		httputil.FromError(w, err)
		return
	} else if !ok {
		httputil.NotFound(w, "contact not found")
		return
	}

	store, err := h.storeFor(ctx, req.OrgID)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	batchID, err := store.InitSingleEmailBatch(ctx, req.ContactID, req.EmailType, req.Mode, req.TestEmail)
	if err != nil {
		httputil.FromError(w, err)
		return
	}

	h.log.Info("single-email batch created",
		"batch_id", batchID, "org_id", req.OrgID, "contact_id", req.ContactID, "email_type", req.EmailType)
	httputil.Created(w, map[string]interface{}{
		"batch_id":   batchID,
		"org_id":     req.OrgID,
		"contact_id": req.ContactID,
		"email_type": contacts.NormalizeEmailType(req.EmailType),
		"mode":       req.Mode,
	})
}

type processRequest struct {
	ChunkSize int `json:"chunk_size"`
}

// ProcessBatch sends the next chunk of pending rows.
func (h *Handlers) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	h.runChunk(w, r, false)
}

// RetryBatch re-sends a chunk of failed rows.
func (h *Handlers) RetryBatch(w http.ResponseWriter, r *http.Request) {
	h.runChunk(w, r, true)
}

func (h *Handlers) runChunk(w http.ResponseWriter, r *http.Request, retry bool) {
	ctx := r.Context()
	batchID := chi.URLParam(r, "batchID")

	var req processRequest
	if r.ContentLength != 0 && !httputil.Decode(w, r, &req) {
		return
	}

	orgID, found, err := h.orgs.ScanForBatch(ctx, batchID)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	if !found {
		httputil.NotFound(w, "batch not found")
		return
	}

	exec, err := h.executorFor(ctx, orgID)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	var res interface{}
	if retry {
		res, err = exec.RetryFailed(ctx, batchID, req.ChunkSize)
	} else {
		res, err = exec.ProcessChunk(ctx, batchID, req.ChunkSize)
	}
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, res)
}

// batchView is the JSON shape of one batch aggregate.
type batchView struct {
	BatchID     string  `json:"batch_id"`
	OrgID       int64   `json:"org_id"`
	Total       int     `json:"total"`
	Pending     int     `json:"pending"`
	Processing  int     `json:"processing"`
	Accepted    int     `json:"accepted"`
	Sent        int     `json:"sent"`
	Delivered   int     `json:"delivered"`
	Deferred    int     `json:"deferred"`
	Bounced     int     `json:"bounced"`
	Dropped     int     `json:"dropped"`
	Failed      int     `json:"failed"`
	Skipped     int     `json:"skipped"`
	SendMode    string  `json:"send_mode"`
	TestEmail   string  `json:"test_email,omitempty"`
	Complete    bool    `json:"complete"`
	Completion  float64 `json:"completion_pct"`
	DeliveryPct float64 `json:"delivery_pct"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func toBatchView(orgID int64, b tracking.BatchStatus) batchView {
	return batchView{
		BatchID:     b.BatchID,
		OrgID:       orgID,
		Total:       b.Total,
		Pending:     b.Pending,
		Processing:  b.Processing,
		Accepted:    b.Accepted,
		Sent:        b.Sent,
		Delivered:   b.Delivered,
		Deferred:    b.Deferred,
		Bounced:     b.Bounced,
		Dropped:     b.Dropped,
		Failed:      b.Failed,
		Skipped:     b.Skipped,
		SendMode:    b.SendMode,
		TestEmail:   b.TestEmail,
		Complete:    b.IsComplete(),
		Completion:  b.CompletionPercentage(),
		DeliveryPct: b.DeliveryPercentage(),
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

// GetBatch returns one batch aggregate.
func (h *Handlers) GetBatch(w http.ResponseWriter, r *http.Request) {
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
	b, ok, err := store.BatchStatus(ctx, batchID)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	if !ok {
		httputil.NotFound(w, "batch not found")
		return
	}
	httputil.OK(w, toBatchView(orgID, b))
}

// ListBatches merges batch aggregates across every org store, newest
// first. One broken org store is logged and skipped rather than failing
// the whole listing.
func (h *Handlers) ListBatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter := r.URL.Query().Get("status")
	limit := queryInt(r, "limit", 50)

	ids, err := h.orgs.OrgIDs()
	if err != nil {
		httputil.FromError(w, err)
		return
	}

	views := []batchView{}
	for _, orgID := range ids {
		db, err := h.orgs.ForOrg(orgID)
		if err != nil {
			h.log.Warn("skipping org in batch listing", "org_id", orgID, "error", err)
			continue
		}
		batches, err := tracking.NewStore(db, orgID).ListBatches(ctx, filter, limit)
		if err != nil {
			// Typically an org database without a tracking table yet.
			h.log.Debug("skipping org in batch listing", "org_id", orgID, "error", err)
			continue
		}
		for _, b := range batches {
			views = append(views, toBatchView(orgID, b))
		}
	}

	sort.SliceStable(views, func(i, j int) bool { return views[i].CreatedAt > views[j].CreatedAt })
	if limit > 0 && len(views) > limit {
		views = views[:limit]
	}
	httputil.OK(w, map[string]interface{}{
		"batches": views,
		"total":   len(views),
	})
}
