// ABOUTME: Tests for the metrics middleware.
// ABOUTME: Verifies route-pattern labelling and status capture.

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/webhooks/{platform}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/webhooks/{platform}", "401"))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/slack", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/webhooks/{platform}", "401"))
	assert.Equal(t, before+1, after)
}

func TestRouteOf_Unmatched(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	assert.Equal(t, "unmatched", RouteOf(req))
}

func TestStatusWriter_DefaultsToOK(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &statusWriter{ResponseWriter: rec}
	_, _ = w.Write([]byte("ok"))
	assert.Equal(t, http.StatusOK, w.status)
}
