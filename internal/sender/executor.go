// Package sender drains tracked email batches through the provider. It
// owns the per-send policy: concurrency, deadlines, environment gates,
// dry-run behavior and rate limiting.
package sender

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/maxretain/lifecycle-mailer/internal/config"
	"github.com/maxretain/lifecycle-mailer/internal/contacts"
	"github.com/maxretain/lifecycle-mailer/internal/pkg/errs"
	"github.com/maxretain/lifecycle-mailer/internal/pkg/logger"
	"github.com/maxretain/lifecycle-mailer/internal/provider"
	"github.com/maxretain/lifecycle-mailer/internal/quote"
	"github.com/maxretain/lifecycle-mailer/internal/templates"
	"github.com/maxretain/lifecycle-mailer/internal/tracking"
)

const (
	maxChunkSize    = 100
	sendConcurrency = 10
	sendTimeout     = 30 * time.Second
	maxChunkErrors  = 10
)

// RateLimiter gates provider calls across processes. Allow reports whether
// a call may proceed now and, when it may not, how long to wait before
// asking again.
type RateLimiter interface {
	Allow(ctx context.Context) (bool, time.Duration, error)
}

// Config wires an Executor. Store, Contacts, Mailer and Renderer are
// required; the rest have working defaults.
type Config struct {
	Store    *tracking.Store
	Contacts *sql.DB // org store holding the contacts table
	Mailer   provider.Mailer
	Renderer *templates.Engine
	Signer   *quote.Signer
	Org      templates.Organization
	Limiter  RateLimiter
}

// Executor sends the queued rows of a batch through the provider.
type Executor struct {
	store    *tracking.Store
	contacts *sql.DB
	mailer   provider.Mailer
	renderer *templates.Engine
	signer   *quote.Signer
	org      templates.Organization
	limiter  RateLimiter
	log      *logger.Logger
	now      func() time.Time
}

// New builds an Executor from cfg.
func New(cfg Config) *Executor {
	if cfg.Signer == nil {
		cfg.Signer = quote.New("", "")
	}
	if cfg.Org == (templates.Organization{}) {
		cfg.Org = templates.DefaultOrganization()
	}
	return &Executor{
		store:    cfg.Store,
		contacts: cfg.Contacts,
		mailer:   cfg.Mailer,
		renderer: cfg.Renderer,
		signer:   cfg.Signer,
		org:      cfg.Org,
		limiter:  cfg.Limiter,
		log:      logger.With("sender"),
		now:      time.Now,
	}
}

// ChunkResult summarizes one ProcessChunk or RetryFailed call.
type ChunkResult struct {
	BatchID   string   `json:"batch_id"`
	Processed int      `json:"processed"`
	Sent      int      `json:"sent"`
	Failed    int      `json:"failed"`
	Remaining int      `json:"remaining"`
	Errors    []string `json:"errors,omitempty"`
}

// ProcessChunk claims up to chunkSize pending rows of the batch and sends
// them. Claimed rows that cannot be resolved (a store failure mid-chunk)
// are returned to pending so a later chunk can pick them up.
func (e *Executor) ProcessChunk(ctx context.Context, batchID string, chunkSize int) (ChunkResult, error) {
	rows, err := e.store.NextPending(ctx, batchID, clampChunk(chunkSize))
	if err != nil {
		return ChunkResult{BatchID: batchID}, err
	}
	return e.run(ctx, batchID, rows, true), nil
}

// RetryFailed re-sends up to chunkSize failed rows of the batch. Failed
// rows are not claimed first; a retry that fails again simply stays failed
// with a bumped attempt count.
func (e *Executor) RetryFailed(ctx context.Context, batchID string, chunkSize int) (ChunkResult, error) {
	rows, err := e.store.NextFailed(ctx, batchID, clampChunk(chunkSize))
	if err != nil {
		return ChunkResult{BatchID: batchID}, err
	}
	return e.run(ctx, batchID, rows, false), nil
}

func clampChunk(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxChunkSize {
		return maxChunkSize
	}
	return n
}

type rowResult struct {
	sent     bool
	rowErr   error // row marked failed
	storeErr error // chunk must abort
}

func (e *Executor) run(ctx context.Context, batchID string, rows []tracking.Row, claimed bool) ChunkResult {
	res := ChunkResult{BatchID: batchID}
	if len(rows) > 0 {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		unresolved := make(map[int64]bool, len(rows))
		for _, r := range rows {
			unresolved[r.ID] = true
		}

		var (
			mu       sync.Mutex
			wg       sync.WaitGroup
			storeErr error
		)
		sem := semaphore.NewWeighted(sendConcurrency)
		for _, row := range rows {
			if err := sem.Acquire(ctx, 1); err != nil {
				break // chunk aborted
			}
			wg.Add(1)
			go func(row tracking.Row) {
				defer wg.Done()
				defer sem.Release(1)
				r := e.sendOne(ctx, row)

				mu.Lock()
				defer mu.Unlock()
				if r.storeErr != nil {
					if storeErr == nil {
						storeErr = r.storeErr
						cancel()
					}
					return
				}
				delete(unresolved, row.ID)
				res.Processed++
				switch {
				case r.sent:
					res.Sent++
				case r.rowErr != nil:
					res.Failed++
					if len(res.Errors) < maxChunkErrors {
						res.Errors = append(res.Errors, fmt.Sprintf("row %d (%s): %v", row.ID, row.ContactID, r.rowErr))
					}
				}
			}(row)
		}
		wg.Wait()

		if storeErr != nil {
			// The chunk context is gone; release on a fresh one.
			relCtx, relCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer relCancel()
			if claimed {
				ids := make([]int64, 0, len(unresolved))
				for id := range unresolved {
					ids = append(ids, id)
				}
				if err := e.store.Release(relCtx, ids); err != nil {
					e.log.Error("releasing unresolved rows", "batch_id", batchID, "error", err)
				}
			}
			if len(res.Errors) < maxChunkErrors {
				res.Errors = append(res.Errors, storeErr.Error())
			}
			e.log.Error("chunk aborted", "batch_id", batchID, "error", storeErr)
		}
	}

	if status, ok, err := e.store.BatchStatus(ctx, batchID); err == nil && ok {
		res.Remaining = status.Pending
	} else if err != nil {
		e.log.Warn("batch status lookup failed", "batch_id", batchID, "error", err)
	}

	e.log.Info("chunk done",
		"batch_id", batchID,
		"processed", res.Processed,
		"sent", res.Sent,
		"failed", res.Failed,
		"remaining", res.Remaining)
	return res
}

// sendOne renders and dispatches a single row, recording the outcome on
// the tracking store. Gates and the dry-run switch are read from the
// environment here, per send, so flipping them affects a running batch.
func (e *Executor) sendOne(ctx context.Context, row tracking.Row) rowResult {
	msg, err := e.render(ctx, row)
	if err != nil {
		return e.fail(ctx, row, err)
	}

	dryRun := config.DryRun()
	if !config.SendAllowed(row.SendMode) {
		e.log.Info("send gate closed, recording dry run", "mode", row.SendMode, "row_id", row.ID)
		dryRun = true
	}

	messageID := ""
	if dryRun {
		messageID = "dry-run-" + uuid.NewString()
		e.log.Info("dry run", "row_id", row.ID, "contact_id", row.ContactID, "email_type", row.EmailType, "to", msg.To)
	} else {
		if err := e.waitForSlot(ctx); err != nil {
			return rowResult{storeErr: err}
		}
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		messageID, err = e.mailer.Send(sendCtx, msg)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				// Chunk is aborting; leave the row for a later run.
				return rowResult{storeErr: ctx.Err()}
			}
			return e.fail(ctx, row, err)
		}
	}

	if err := e.store.MarkSent(ctx, row.ID, messageID); err != nil {
		return rowResult{storeErr: err}
	}
	return rowResult{sent: true}
}

// render loads the contact and produces the provider message for a row.
func (e *Executor) render(ctx context.Context, row tracking.Row) (provider.Message, error) {
	contact, ok, err := contacts.Get(ctx, e.contacts, row.ContactID)
	if err != nil {
		return provider.Message{}, err
	}
	if !ok {
		return provider.Message{}, errs.Dataf("contact %s not found", row.ContactID)
	}

	scheduled, err := time.Parse("2006-01-02", row.ScheduledDate)
	if err != nil {
		scheduled = e.now()
	}
	link := e.signer.Link(strconv.FormatInt(e.store.OrgID(), 10), contact.ID)
	data := templates.Bindings(contact, e.org, row.EmailType, scheduled, link)

	msg, err := e.renderer.Render(row.EmailType, data)
	if err != nil {
		return provider.Message{}, err
	}

	out := provider.Message{
		To:      contact.Email,
		ToName:  contact.FullName(),
		Subject: msg.Subject,
		Text:    msg.Text,
		HTML:    msg.HTML,
	}
	if row.SendMode == tracking.ModeTest {
		out.Subject = "[TEST] " + out.Subject
		if row.TestEmail != "" {
			out.To = row.TestEmail
		}
	}
	return out, nil
}

// fail marks the row failed. A store error while marking outranks the row
// error because it aborts the whole chunk.
func (e *Executor) fail(ctx context.Context, row tracking.Row, cause error) rowResult {
	if ctx.Err() != nil {
		return rowResult{storeErr: ctx.Err()}
	}
	e.log.Warn("send failed", "row_id", row.ID, "contact_id", row.ContactID, "email_type", row.EmailType, "error", cause)
	if err := e.store.MarkFailed(ctx, row.ID, cause.Error()); err != nil {
		return rowResult{storeErr: err}
	}
	return rowResult{rowErr: cause}
}

// waitForSlot blocks until the rate limiter admits a send or ctx ends.
// Limiter failures are logged and treated as an open gate so a Redis
// outage cannot stall a batch.
func (e *Executor) waitForSlot(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	for {
		ok, wait, err := e.limiter.Allow(ctx)
		if err != nil {
			e.log.Warn("rate limiter unavailable, proceeding", "error", err)
			return nil
		}
		if ok {
			return nil
		}
		if wait <= 0 {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
