package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/course-data-layer/benchmarks/mocks"
	"gitlab.com/timkado/api/course-data-layer/pkg/contextkeys"
)

type flagGate struct{ ready atomic.Bool }

func (g *flagGate) IsReady() bool { return g.ready.Load() }

func TestBootstrapGateMiddleware(t *testing.T) {
	t.Parallel()

	gate := &flagGate{}
	h := BootstrapGateMiddleware(gate, mocks.NewMockLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/session", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"bootstrapping"}`, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	gate.ready.Store(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/session", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(contextkeys.RequestIDKey).(string)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(XRequestIDHeader, "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get(XRequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.NotEqual(t, "abc", seen)
	assert.Equal(t, seen, rec.Header().Get(XRequestIDHeader))
}

func TestAccessLogMiddlewareRecordsStatus(t *testing.T) {
	t.Parallel()

	logger := mocks.NewMockLogger()
	h := AccessLogMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	entries := logger.GetLogEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "Request served", entries[0].Message)
	assert.Equal(t, http.StatusTeapot, entries[0].Fields["status"])
}
