package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maxretain/lifecycle-mailer/internal/orgs"
	"github.com/maxretain/lifecycle-mailer/internal/pkg/distlock"
	"github.com/maxretain/lifecycle-mailer/internal/provider"
	"github.com/maxretain/lifecycle-mailer/internal/status"
	"github.com/maxretain/lifecycle-mailer/internal/tracking"
)

const (
	// DefaultStatusInterval is how often delivery statuses are reconciled.
	DefaultStatusInterval = 5 * time.Minute

	// DefaultStatusLimit caps rows checked per org per cycle.
	DefaultStatusLimit = 100

	statusLockKey      = "lifecycle-mailer:status-checker"
	statusLockTTL      = 4 * time.Minute
	statusCycleTimeout = 3 * time.Minute
)

// StatusConfig wires a StatusWorker. Zero values fall back to defaults;
// a nil Redis client means no cross-instance lock.
type StatusConfig struct {
	Interval time.Duration
	Limit    int
	Redis    *redis.Client
}

// StatusWorker reconciles delivery statuses for every org on an
// interval. One instance per deployment does the polling; the others
// find the lock taken and sit the cycle out.
type StatusWorker struct {
	orgs     *orgs.Manager
	querier  provider.StatusQuerier
	redis    *redis.Client
	workerID string
	interval time.Duration
	limit    int

	// Stats
	passes      int64
	rowsChecked int64
	checkErrors int64
	lockSkips   int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// NewStatusWorker builds a status worker over every org store the
// manager can reach.
func NewStatusWorker(m *orgs.Manager, querier provider.StatusQuerier, cfg StatusConfig) *StatusWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultStatusInterval
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultStatusLimit
	}
	return &StatusWorker{
		orgs:     m,
		querier:  querier,
		redis:    cfg.Redis,
		workerID: fmt.Sprintf("status-%s", uuid.New().String()[:8]),
		interval: cfg.Interval,
		limit:    cfg.Limit,
	}
}

// Start begins the reconcile loop.
func (w *StatusWorker) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("status worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	log.Printf("[StatusWorker] %s starting (interval=%v limit=%d)", w.workerID, w.interval, w.limit)

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle.
func (w *StatusWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	log.Printf("[StatusWorker] %s stopped. passes=%d checked=%d errors=%d",
		w.workerID,
		atomic.LoadInt64(&w.passes),
		atomic.LoadInt64(&w.rowsChecked),
		atomic.LoadInt64(&w.checkErrors))
}

// Stats returns a counter snapshot for the health endpoint.
func (w *StatusWorker) Stats() map[string]int64 {
	return map[string]int64{
		"passes":       atomic.LoadInt64(&w.passes),
		"rows_checked": atomic.LoadInt64(&w.rowsChecked),
		"check_errors": atomic.LoadInt64(&w.checkErrors),
		"lock_skips":   atomic.LoadInt64(&w.lockSkips),
	}
}

func (w *StatusWorker) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.runCycle()
		}
	}
}

// runCycle takes the cluster lock and reconciles every org. A cycle
// whose lock is held elsewhere is skipped, not queued.
func (w *StatusWorker) runCycle() {
	parent := w.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, statusCycleTimeout)
	defer cancel()

	lock := distlock.New(w.redis, statusLockKey, statusLockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		log.Printf("[StatusWorker] acquiring lock: %v", err)
		atomic.AddInt64(&w.checkErrors, 1)
		return
	}
	if !acquired {
		atomic.AddInt64(&w.lockSkips, 1)
		return
	}
	defer lock.Release(ctx)

	w.RunOnce(ctx)
}

// RunOnce reconciles every org store once, without the cluster lock.
// Callers needing cross-instance exclusion go through the interval loop.
func (w *StatusWorker) RunOnce(ctx context.Context) status.CheckResult {
	total := status.CheckResult{Counts: map[string]int{}}

	ids, err := w.orgs.OrgIDs()
	if err != nil {
		log.Printf("[StatusWorker] listing orgs: %v", err)
		atomic.AddInt64(&w.checkErrors, 1)
		total.Errors++
		return total
	}

	for _, orgID := range ids {
		db, err := w.orgs.ForOrg(orgID)
		if err != nil {
			log.Printf("[StatusWorker] org %d unavailable: %v", orgID, err)
			atomic.AddInt64(&w.checkErrors, 1)
			total.Errors++
			continue
		}

		rec := status.NewReconciler(tracking.NewStore(db, orgID), w.querier)
		res, err := rec.CheckPending(ctx, "", w.limit)
		total.Checked += res.Checked
		total.Errors += res.Errors
		for k, v := range res.Counts {
			total.Counts[k] += v
		}
		atomic.AddInt64(&w.rowsChecked, int64(res.Checked))
		atomic.AddInt64(&w.checkErrors, int64(res.Errors))
		if err != nil {
			log.Printf("[StatusWorker] org %d: %v", orgID, err)
			atomic.AddInt64(&w.checkErrors, 1)
			total.Errors++
		}
	}

	atomic.AddInt64(&w.passes, 1)
	return total
}
