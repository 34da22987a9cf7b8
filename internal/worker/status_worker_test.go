package worker

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxretain/lifecycle-mailer/internal/pkg/distlock"
	"github.com/maxretain/lifecycle-mailer/internal/provider"
	"github.com/maxretain/lifecycle-mailer/internal/tracking"
)

type stubQuerier struct {
	mu     sync.Mutex
	status string
	calls  []string
}

func (s *stubQuerier) QueryMessage(_ context.Context, messageID string) (provider.MessageStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, messageID)
	return provider.MessageStatus{Status: s.status, Raw: `{"status":"` + s.status + `"}`}, nil
}

func (s *stubQuerier) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func markRowsSent(t *testing.T, store *tracking.Store, batchID string, messageIDs ...string) {
	t.Helper()
	ctx := context.Background()
	rows, err := store.NextPending(ctx, batchID, len(messageIDs))
	require.NoError(t, err)
	require.Len(t, rows, len(messageIDs))
	for i, row := range rows {
		require.NoError(t, store.MarkSent(ctx, row.ID, messageIDs[i]))
	}
}

func TestStatusWorkerRunOnceChecksAllOrgs(t *testing.T) {
	m := openManager(t)
	db1, store1 := openOrgStore(t, m, 1)
	db2, store2 := openOrgStore(t, m, 2)
	markRowsSent(t, store1, seedBatch(t, store1, "c1"), "m1")
	markRowsSent(t, store2, seedBatch(t, store2, "c2"), "m2")

	q := &stubQuerier{status: "delivered"}
	w := NewStatusWorker(m, q, StatusConfig{})

	res := w.RunOnce(context.Background())
	assert.Equal(t, 2, res.Checked)
	assert.Zero(t, res.Errors)
	assert.Equal(t, map[string]int{"delivered": 2}, res.Counts)
	assert.ElementsMatch(t, []string{"m1", "m2"}, q.seen())

	for _, db := range []*sql.DB{db1, db2} {
		var sendStatus string
		require.NoError(t, db.QueryRow(
			`SELECT send_status FROM email_send_tracking LIMIT 1`).Scan(&sendStatus))
		assert.Equal(t, "delivered", sendStatus)
	}

	assert.Equal(t, int64(1), w.Stats()["passes"])
	assert.Equal(t, int64(2), w.Stats()["rows_checked"])
}

func TestStatusWorkerSkipsWhenLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	m := openManager(t)
	_, store := openOrgStore(t, m, 1)
	markRowsSent(t, store, seedBatch(t, store, "c1"), "m1")

	q := &stubQuerier{status: "delivered"}
	w := NewStatusWorker(m, q, StatusConfig{Redis: client})

	ctx := context.Background()
	other := distlock.New(client, statusLockKey, time.Minute)
	taken, err := other.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, taken)

	w.runCycle()
	assert.Equal(t, int64(1), w.Stats()["lock_skips"])
	assert.Empty(t, q.seen(), "a skipped cycle must not poll the provider")

	require.NoError(t, other.Release(ctx))

	w.runCycle()
	assert.Equal(t, int64(1), w.Stats()["passes"])
	assert.Equal(t, []string{"m1"}, q.seen())
}

func TestStatusWorkerStartStop(t *testing.T) {
	m := openManager(t)
	w := NewStatusWorker(m, &stubQuerier{status: "delivered"}, StatusConfig{Interval: time.Hour})

	require.NoError(t, w.Start())
	assert.Error(t, w.Start())

	w.Stop()
	w.Stop()
}

func TestStatusWorkerDefaults(t *testing.T) {
	m := openManager(t)
	w := NewStatusWorker(m, &stubQuerier{}, StatusConfig{})
	assert.Equal(t, DefaultStatusInterval, w.interval)
	assert.Equal(t, DefaultStatusLimit, w.limit)
}
