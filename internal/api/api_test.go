package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxretain/lifecycle-mailer/internal/orgs"
	"github.com/maxretain/lifecycle-mailer/internal/provider"
	"github.com/maxretain/lifecycle-mailer/internal/quote"
	"github.com/maxretain/lifecycle-mailer/internal/rules"
	"github.com/maxretain/lifecycle-mailer/internal/schedule"
	"github.com/maxretain/lifecycle-mailer/internal/status"
	"github.com/maxretain/lifecycle-mailer/internal/templates"
	"github.com/maxretain/lifecycle-mailer/internal/worker"
)

const webhookTestKey = "whk-api-secret"

type stubMailer struct{ calls int32 }

func (m *stubMailer) Send(context.Context, provider.Message) (string, error) {
	atomic.AddInt32(&m.calls, 1)
	return "api-msg-" + uuid.NewString()[:8], nil
}

type stubQuerier struct {
	mu     sync.Mutex
	status provider.MessageStatus
	calls  []string
}

func (q *stubQuerier) QueryMessage(_ context.Context, messageID string) (provider.MessageStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, messageID)
	return q.status, nil
}

type apiFixture struct {
	t       *testing.T
	manager *orgs.Manager
	mailer  *stubMailer
	querier *stubQuerier
	hs      *Handlers
	router  http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	t.Setenv("EMAIL_DRY_RUN", "true")

	m, err := orgs.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	require.NoError(t, m.UpsertOrganization(context.Background(), orgs.Org{ID: 1, Name: "Sunrise Medicare Group"}))

	mailer := &stubMailer{}
	querier := &stubQuerier{status: provider.MessageStatus{Status: "delivered"}}
	hs := NewHandlers(m, schedule.New(rules.Default()), templates.Default(),
		mailer, querier, status.NewProcessor(m, webhookTestKey))
	hs.SetSigner(quote.New("https://quotes.test", "api-test-secret"))

	return &apiFixture{
		t:       t,
		manager: m,
		mailer:  mailer,
		querier: querier,
		hs:      hs,
		router:  SetupRoutes(hs),
	}
}

type contactRow struct {
	id, email, first, last, state, birth, effective string
}

func (f *apiFixture) seedContacts(orgID int64, rows ...contactRow) *sql.DB {
	f.t.Helper()
	db, err := f.manager.ForOrg(orgID)
	require.NoError(f.t, err)
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY, email TEXT, first_name TEXT, last_name TEXT,
		state TEXT, zip_code TEXT, birth_date TEXT, effective_date TEXT)`)
	require.NoError(f.t, err)
	for _, c := range rows {
		_, err := db.Exec(`INSERT INTO contacts VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.id, c.email, c.first, c.last, c.state, "90210", c.birth, c.effective)
		require.NoError(f.t, err)
	}
	return db
}

// standardContacts covers the rule variety: CA birthday window, TX no
// window, NY year-round, MO effective-date window.
func (f *apiFixture) standardContacts() {
	f.seedContacts(1,
		contactRow{"101", "ca@example.com", "Ana", "Reyes", "CA", "1955-03-05", "2020-09-01"},
		contactRow{"102", "tx@example.com", "Ben", "Okafor", "TX", "1950-06-15", "2019-01-01"},
		contactRow{"103", "ny@example.com", "Cyd", "Marsh", "NY", "1948-11-20", "2021-02-01"},
		contactRow{"104", "mo@example.com", "Dee", "Walsh", "MO", "1952-04-10", "2018-07-01"},
	)
}

func (f *apiFixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(f.t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) decode(rec *httptest.ResponseRecorder, dst interface{}) {
	f.t.Helper()
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), dst), "body: %s", rec.Body.String())
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	f.decode(rec, &resp)
	assert.Equal(t, "healthy", resp["status"])
	assert.Contains(t, resp, "timestamp")
	assert.NotContains(t, resp, "workers")

	f.hs.SetWorkers(
		worker.NewSendWorker(f.manager, f.mailer, templates.Default(), worker.SendConfig{}),
		worker.NewStatusWorker(f.manager, f.querier, worker.StatusConfig{}),
	)
	rec = f.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	f.decode(rec, &resp)
	workers, ok := resp["workers"].(map[string]interface{})
	require.True(t, ok, "workers section missing: %s", rec.Body.String())
	assert.Contains(t, workers, "send")
	assert.Contains(t, workers, "status")
}

func TestCreateBatchValidation(t *testing.T) {
	f := newAPIFixture(t)
	f.standardContacts()

	rec := f.do(http.MethodPost, "/api/batches", map[string]interface{}{"scope": "bulk"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "org_id is required")

	rec = f.do(http.MethodPost, "/api/batches", map[string]interface{}{"org_id": 1, "scope": "everything"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown scope")

	rec = f.do(http.MethodPost, "/api/batches", map[string]interface{}{"org_id": 1, "mode": "production-ish"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown mode")

	// Test mode without a test recipient.
	rec = f.do(http.MethodPost, "/api/batches", map[string]interface{}{"org_id": 1, "mode": "test"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Org 2 exists but has an empty contacts table.
	f.seedContacts(2)
	rec = f.do(http.MethodPost, "/api/batches", map[string]interface{}{"org_id": 2, "test_email": "qa@maxretain.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMalformedJSONRejected(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/batches", bytes.NewReader([]byte("{")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/batches", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Contains(t, []int{http.StatusOK, http.StatusNoContent}, rec.Code)
	assert.Equal(t, "http://localhost:8080", rec.Header().Get("Access-Control-Allow-Origin"))
}
