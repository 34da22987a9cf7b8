package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/maxretain/lifecycle-mailer/internal/orgs"
	"github.com/maxretain/lifecycle-mailer/internal/pkg/httputil"
	"github.com/maxretain/lifecycle-mailer/internal/pkg/logger"
	"github.com/maxretain/lifecycle-mailer/internal/provider"
	"github.com/maxretain/lifecycle-mailer/internal/quote"
	"github.com/maxretain/lifecycle-mailer/internal/schedule"
	"github.com/maxretain/lifecycle-mailer/internal/sender"
	"github.com/maxretain/lifecycle-mailer/internal/status"
	"github.com/maxretain/lifecycle-mailer/internal/templates"
	"github.com/maxretain/lifecycle-mailer/internal/tracking"
	"github.com/maxretain/lifecycle-mailer/internal/worker"
)

// Handlers holds every dependency the HTTP endpoints reach for.
type Handlers struct {
	orgs     *orgs.Manager
	engine   *schedule.Engine
	renderer *templates.Engine
	mailer   provider.Mailer
	querier  provider.StatusQuerier
	webhook  *status.Processor
	signer   *quote.Signer
	limiter  sender.RateLimiter

	sendWorker   *worker.SendWorker
	statusWorker *worker.StatusWorker

	log     *logger.Logger
	started time.Time
}

// NewHandlers wires the required dependencies. Optional pieces (signer,
// rate limiter, workers) are installed through setters.
func NewHandlers(m *orgs.Manager, engine *schedule.Engine, renderer *templates.Engine,
	mailer provider.Mailer, querier provider.StatusQuerier, webhook *status.Processor) *Handlers {
	return &Handlers{
		orgs:     m,
		engine:   engine,
		renderer: renderer,
		mailer:   mailer,
		querier:  querier,
		webhook:  webhook,
		signer:   quote.New("", ""),
		log:      logger.With("api"),
		started:  time.Now(),
	}
}

// SetSigner replaces the default quote link signer.
func (h *Handlers) SetSigner(s *quote.Signer) {
	h.signer = s
}

// SetLimiter installs the cross-process send rate limiter.
func (h *Handlers) SetLimiter(l sender.RateLimiter) {
	h.limiter = l
}

// SetWorkers wires the background workers into the health endpoint.
func (h *Handlers) SetWorkers(send *worker.SendWorker, status *worker.StatusWorker) {
	h.sendWorker = send
	h.statusWorker = status
}

// HealthCheck reports liveness and worker counter snapshots.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC(),
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	}
	workers := map[string]interface{}{}
	if h.sendWorker != nil {
		workers["send"] = h.sendWorker.Stats()
	}
	if h.statusWorker != nil {
		workers["status"] = h.statusWorker.Stats()
	}
	if len(workers) > 0 {
		resp["workers"] = workers
	}
	httputil.OK(w, resp)
}

// storeFor opens the org database and binds a tracking store to it,
// creating the tracking schema on first touch.
func (h *Handlers) storeFor(ctx context.Context, orgID int64) (*tracking.Store, error) {
	db, err := h.orgs.ForOrg(orgID)
	if err != nil {
		return nil, err
	}
	store := tracking.NewStore(db, orgID)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// executorFor assembles a one-shot send executor for the org, branded
// with its registry name when one exists.
func (h *Handlers) executorFor(ctx context.Context, orgID int64) (*sender.Executor, error) {
	db, err := h.orgs.ForOrg(orgID)
	if err != nil {
		return nil, err
	}
	store, err := h.storeFor(ctx, orgID)
	if err != nil {
		return nil, err
	}
	org := templates.DefaultOrganization()
	if reg, ok, err := h.orgs.GetOrganization(ctx, orgID); err == nil && ok && reg.Name != "" {
		org.Name = reg.Name
	}
	return sender.New(sender.Config{
		Store:    store,
		Contacts: db,
		Mailer:   h.mailer,
		Renderer: h.renderer,
		Signer:   h.signer,
		Org:      org,
		Limiter:  h.limiter,
	}), nil
}

// queryInt reads an integer query parameter, falling back on absence or
// garbage.
func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
