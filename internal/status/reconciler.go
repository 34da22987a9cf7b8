// Package status settles the delivery state of dispatched rows, either by
// polling the provider (Reconciler) or by applying its event webhooks
// (Processor). The two paths write the same columns; the executor never
// touches rows in these states, so they cannot race it.
package status

import (
	"context"
	"strings"
	"time"

	"github.com/maxretain/lifecycle-mailer/internal/pkg/logger"
	"github.com/maxretain/lifecycle-mailer/internal/provider"
	"github.com/maxretain/lifecycle-mailer/internal/tracking"
)

const (
	// staleAfterMinutes keeps the reconciler from re-asking the provider
	// about a row it checked recently.
	staleAfterMinutes = 15
	// deliveredAfter promotes a row stuck at sent to delivered when the
	// provider has raised no objection for this long.
	deliveredAfter    = 5 * time.Minute
	defaultCheckLimit = 100
)

// Reconciler polls the provider for rows whose delivery state is
// unsettled.
type Reconciler struct {
	store   *tracking.Store
	querier provider.StatusQuerier
	log     *logger.Logger
	now     func() time.Time
}

// NewReconciler builds a Reconciler over one org's tracking store.
func NewReconciler(store *tracking.Store, querier provider.StatusQuerier) *Reconciler {
	return &Reconciler{
		store:   store,
		querier: querier,
		log:     logger.With("status"),
		now:     time.Now,
	}
}

// CheckResult tallies one reconciliation pass.
type CheckResult struct {
	Checked int            `json:"checked"`
	Errors  int            `json:"errors"`
	Counts  map[string]int `json:"counts"`
}

// CheckPending polls the provider for every unsettled row of a batch, or
// of the whole org when batchID is empty. Provider failures only bump the
// row's checkpoint so the next pass retries it after the staleness window.
func (r *Reconciler) CheckPending(ctx context.Context, batchID string, limit int) (CheckResult, error) {
	if limit <= 0 {
		limit = defaultCheckLimit
	}
	rows, err := r.store.PendingStatusChecks(ctx, batchID, staleAfterMinutes, limit)
	if err != nil {
		return CheckResult{}, err
	}

	res := CheckResult{Counts: map[string]int{}}
	for _, row := range rows {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		verdict, err := r.querier.QueryMessage(ctx, row.MessageID)
		res.Checked++
		if err != nil {
			res.Errors++
			r.log.Warn("status query failed", "row_id", row.ID, "message_id", row.MessageID, "error", err)
			if terr := r.store.TouchStatusCheck(ctx, row.ID); terr != nil {
				return res, terr
			}
			continue
		}

		sendStatus := MapProviderStatus(verdict.Status)
		if sendStatus == tracking.StatusSent && r.sentLongAgo(row) {
			r.log.Info("promoting quiet row to delivered", "row_id", row.ID, "message_id", row.MessageID)
			sendStatus = tracking.StatusDelivered
		}
		if err := r.store.UpdateDeliveryStatus(ctx, row.ID, sendStatus, verdict.Status, verdict.Raw); err != nil {
			return res, err
		}
		res.Counts[sendStatus]++
	}

	r.log.Info("status check pass done", "batch_id", batchID, "checked", res.Checked, "errors", res.Errors)
	return res, nil
}

// MapProviderStatus maps a provider status word to a send_status value.
// Unknown words park the row at processing until a webhook or operator
// settles it.
func MapProviderStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "delivered":
		return tracking.StatusDelivered
	case "processed", "accepted", "sent":
		return tracking.StatusSent
	case "bounce", "bounced":
		return tracking.StatusBounced
	case "deferred":
		return tracking.StatusDeferred
	case "dropped":
		return tracking.StatusDropped
	case "failed":
		return tracking.StatusFailed
	default:
		return tracking.StatusProcessing
	}
}

func (r *Reconciler) sentLongAgo(row tracking.Row) bool {
	if row.LastAttemptAt == "" {
		return false
	}
	sentAt, err := time.Parse(time.RFC3339, row.LastAttemptAt)
	if err != nil {
		return false
	}
	return r.now().Sub(sentAt) > deliveredAfter
}
