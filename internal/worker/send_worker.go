// Package worker runs the background loops: draining pending batches
// through the provider and reconciling delivery statuses. Workers are
// Start/Stop values owned by main. Cross-instance coordination goes
// through Redis and degrades to single-instance behavior without it.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/maxretain/lifecycle-mailer/internal/orgs"
	"github.com/maxretain/lifecycle-mailer/internal/provider"
	"github.com/maxretain/lifecycle-mailer/internal/quote"
	"github.com/maxretain/lifecycle-mailer/internal/sender"
	"github.com/maxretain/lifecycle-mailer/internal/templates"
	"github.com/maxretain/lifecycle-mailer/internal/tracking"
)

const (
	// DefaultSendInterval is how often the send loop polls for work.
	DefaultSendInterval = 30 * time.Second

	// DefaultChunkSize is the rows claimed per ProcessChunk call.
	DefaultChunkSize = 25

	// sendCycleTimeout bounds one full pass over the org stores, so a
	// rate-limited batch cannot pin the loop past its next tick forever.
	sendCycleTimeout = 10 * time.Minute

	// batchesPerCycle caps how many incomplete batches one org may drain
	// in a single pass.
	batchesPerCycle = 20
)

// SendConfig wires a SendWorker. Zero values fall back to defaults.
type SendConfig struct {
	Interval  time.Duration
	ChunkSize int
	Signer    *quote.Signer
	Limiter   sender.RateLimiter
}

// SendWorker drains incomplete batches on an interval. Each cycle walks
// every org store, oldest batch first, and processes chunks until the
// batch has no pending rows left.
type SendWorker struct {
	orgs     *orgs.Manager
	mailer   provider.Mailer
	renderer *templates.Engine
	signer   *quote.Signer
	limiter  sender.RateLimiter
	workerID string
	interval time.Duration
	chunk    int

	executors map[int64]*orgExecutor

	// Stats
	chunksProcessed int64
	rowsSent        int64
	rowsFailed      int64
	cycleErrors     int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// orgExecutor pairs one org's tracking store with its executor.
type orgExecutor struct {
	exec  *sender.Executor
	store *tracking.Store
}

// NewSendWorker builds a send worker over every org store the manager
// can reach.
func NewSendWorker(m *orgs.Manager, mailer provider.Mailer, renderer *templates.Engine, cfg SendConfig) *SendWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSendInterval
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return &SendWorker{
		orgs:      m,
		mailer:    mailer,
		renderer:  renderer,
		signer:    cfg.Signer,
		limiter:   cfg.Limiter,
		workerID:  fmt.Sprintf("send-%s", uuid.New().String()[:8]),
		interval:  cfg.Interval,
		chunk:     cfg.ChunkSize,
		executors: make(map[int64]*orgExecutor),
	}
}

// Start begins the send loop.
func (w *SendWorker) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("send worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	log.Printf("[SendWorker] %s starting (interval=%v chunk=%d)", w.workerID, w.interval, w.chunk)

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle.
func (w *SendWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	log.Printf("[SendWorker] %s stopped. chunks=%d sent=%d failed=%d",
		w.workerID,
		atomic.LoadInt64(&w.chunksProcessed),
		atomic.LoadInt64(&w.rowsSent),
		atomic.LoadInt64(&w.rowsFailed))
}

// Stats returns a counter snapshot for the health endpoint.
func (w *SendWorker) Stats() map[string]int64 {
	return map[string]int64{
		"chunks_processed": atomic.LoadInt64(&w.chunksProcessed),
		"rows_sent":        atomic.LoadInt64(&w.rowsSent),
		"rows_failed":      atomic.LoadInt64(&w.rowsFailed),
		"cycle_errors":     atomic.LoadInt64(&w.cycleErrors),
	}
}

func (w *SendWorker) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(w.ctx, sendCycleTimeout)
			w.RunOnce(ctx)
			cancel()
		}
	}
}

// CycleSummary reports one full pass over the org stores.
type CycleSummary struct {
	Batches int `json:"batches"`
	Chunks  int `json:"chunks"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Errors  int `json:"errors"`
}

// RunOnce processes every incomplete batch across all orgs. Errors are
// logged and counted rather than returned: one broken org store must not
// stall the others.
func (w *SendWorker) RunOnce(ctx context.Context) CycleSummary {
	var sum CycleSummary

	ids, err := w.orgs.OrgIDs()
	if err != nil {
		log.Printf("[SendWorker] listing orgs: %v", err)
		atomic.AddInt64(&w.cycleErrors, 1)
		sum.Errors++
		return sum
	}

	for _, orgID := range ids {
		oe, err := w.executorFor(ctx, orgID)
		if err != nil {
			log.Printf("[SendWorker] org %d unavailable: %v", orgID, err)
			atomic.AddInt64(&w.cycleErrors, 1)
			sum.Errors++
			continue
		}

		batches, err := oe.store.ListBatches(ctx, "incomplete", batchesPerCycle)
		if err != nil {
			log.Printf("[SendWorker] org %d: listing batches: %v", orgID, err)
			atomic.AddInt64(&w.cycleErrors, 1)
			sum.Errors++
			continue
		}

		// ListBatches returns newest first; drain in launch order.
		for i := len(batches) - 1; i >= 0; i-- {
			if ctx.Err() != nil {
				return sum
			}
			sum.Batches++
			w.drainBatch(ctx, oe, batches[i].BatchID, &sum)
		}
	}
	return sum
}

func (w *SendWorker) drainBatch(ctx context.Context, oe *orgExecutor, batchID string, sum *CycleSummary) {
	for {
		res, err := oe.exec.ProcessChunk(ctx, batchID, w.chunk)
		if err != nil {
			log.Printf("[SendWorker] batch %s: %v", batchID, err)
			atomic.AddInt64(&w.cycleErrors, 1)
			sum.Errors++
			return
		}
		sum.Chunks++
		sum.Sent += res.Sent
		sum.Failed += res.Failed
		atomic.AddInt64(&w.chunksProcessed, 1)
		atomic.AddInt64(&w.rowsSent, int64(res.Sent))
		atomic.AddInt64(&w.rowsFailed, int64(res.Failed))

		// Processed == 0 with rows remaining means another worker holds
		// them in processing; leave the batch for the next cycle.
		if res.Remaining == 0 || res.Processed == 0 || ctx.Err() != nil {
			return
		}
	}
}

// executorFor lazily builds one executor per org, branded with the
// registry name when the org has one.
func (w *SendWorker) executorFor(ctx context.Context, orgID int64) (*orgExecutor, error) {
	w.mu.RLock()
	oe, ok := w.executors[orgID]
	w.mu.RUnlock()
	if ok {
		return oe, nil
	}

	db, err := w.orgs.ForOrg(orgID)
	if err != nil {
		return nil, err
	}
	store := tracking.NewStore(db, orgID)

	org := templates.DefaultOrganization()
	if rec, found, err := w.orgs.GetOrganization(ctx, orgID); err == nil && found && rec.Name != "" {
		org.Name = rec.Name
	}

	oe = &orgExecutor{
		store: store,
		exec: sender.New(sender.Config{
			Store:    store,
			Contacts: db,
			Mailer:   w.mailer,
			Renderer: w.renderer,
			Signer:   w.signer,
			Org:      org,
			Limiter:  w.limiter,
		}),
	}
	w.mu.Lock()
	w.executors[orgID] = oe
	w.mu.Unlock()
	return oe, nil
}
