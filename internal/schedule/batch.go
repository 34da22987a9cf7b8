package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/maxretain/lifecycle-mailer/internal/contacts"
)

const (
	// Populations below this size run sequentially; the goroutine overhead
	// is not worth it.
	concurrencyThreshold = 100
	// Upper bound on concurrent Schedule calls for large populations.
	maxConcurrent = 20
)

// ScheduleAll runs the engine over a whole population. Output order
// matches input order regardless of completion order. When the context is
// canceled mid-run, contacts not yet scheduled come back as
// processing-error skips.
func (e *Engine) ScheduleAll(ctx context.Context, cs []contacts.Contact, horizonStart, horizonEnd time.Time) []Result {
	results := make([]Result, len(cs))
	size := len(cs)

	if size < concurrencyThreshold {
		for i, c := range cs {
			if err := ctx.Err(); err != nil {
				results[i] = canceledResult(c, err)
				continue
			}
			results[i] = e.Schedule(c, horizonStart, horizonEnd, size, i)
		}
		return results
	}

	sem := semaphore.NewWeighted(maxConcurrent)
	var wg sync.WaitGroup
	for i := range cs {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = canceledResult(cs[i], err)
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = e.Schedule(cs[i], horizonStart, horizonEnd, size, i)
		}(i)
	}
	wg.Wait()
	return results
}

func canceledResult(c contacts.Contact, err error) Result {
	return Result{
		Contact: c,
		Skipped: []SkippedEmail{{Type: TypeAll, Reason: fmt.Sprintf("processing error: %v", err)}},
	}
}
