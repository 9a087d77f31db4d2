package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestObserveHelpersDoNotPanic(t *testing.T) {
	t.Parallel()

	ObserveRequest("hubcloud", "forwarded")
	ObserveRequest("hubcloud", "deferred")
	ObserveProbe(true, 12*time.Millisecond)
	ObserveProbe(false, 5*time.Second)
	ObserveWakeSignal()
	ObserveWait(3 * time.Second)
	ObserveHTTPRequest(http.MethodGet, "/api/{task}", http.StatusAccepted, 20*time.Second)
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/{task}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/hubcloud", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandlerServesMetrics(t *testing.T) {
	t.Parallel()

	ObserveRequest("hubcloud", "forwarded")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "gateway_requests_total")
}
