package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxretain/lifecycle-mailer/internal/pkg/errs"
)

func TestJSONEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	OK(rec, map[string]interface{}{"status": "healthy"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound(rec, "batch not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"batch not found"}`, rec.Body.String())
}

func TestFromErrorMapsSentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"data", errs.Dataf("bad scope"), http.StatusBadRequest},
		{"config", errs.Configf("missing key"), http.StatusBadRequest},
		{"auth", errs.Authf("bad signature"), http.StatusUnauthorized},
		{"provider", errs.Providerf("status 500"), http.StatusBadGateway},
		{"store", errs.Storef("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			FromError(rec, tt.err)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	InternalError(rec, errs.Storef("disk layout /var/lib/orgs"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/var/lib/orgs")
}

func TestDecode(t *testing.T) {
	type payload struct {
		Scope string `json:"scope"`
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"scope":"today"}`))
	var p payload
	require.True(t, Decode(rec, req, &p))
	assert.Equal(t, "today", p.Scope)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"scope":`))
	assert.False(t, Decode(rec, req, &p))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
