package monitoring

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/guided-traffic/matomo-tracker/pkg/matomo"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, OutcomeSent, Outcome(matomo.Result{StatusCode: 204}))
	assert.Equal(t, OutcomeRejected, Outcome(matomo.Result{StatusCode: 500, Err: matomo.ErrCollectorStatus}))
	assert.Equal(t, OutcomeFailed, Outcome(matomo.Result{Err: errors.New("connection refused")}))
}

func TestTrackerObserver(t *testing.T) {
	observer := TrackerObserver{}

	sentBefore := testutil.ToFloat64(TrackerCallsTotal.WithLabelValues(OutcomeSent))
	failedBefore := testutil.ToFloat64(TrackerCallsTotal.WithLabelValues(OutcomeFailed))
	skippedBefore := testutil.ToFloat64(TrackerSkippedTotal.WithLabelValues(matomo.SkipPattern))

	observer.CallFinished(matomo.Result{StatusCode: 200, Duration: 10 * time.Millisecond})
	observer.CallFinished(matomo.Result{Err: errors.New("timeout")})
	observer.RequestSkipped(matomo.SkipPattern)

	assert.Equal(t, sentBefore+1, testutil.ToFloat64(TrackerCallsTotal.WithLabelValues(OutcomeSent)))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(TrackerCallsTotal.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, skippedBefore+1, testutil.ToFloat64(TrackerSkippedTotal.WithLabelValues(matomo.SkipPattern)))
}

func TestHTTPMiddleware(t *testing.T) {
	router := mux.NewRouter()
	router.Use(HTTPMiddleware)
	router.HandleFunc("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	counter := RequestsTotal.WithLabelValues("GET", "/items/{id}", "418")
	before := testutil.ToFloat64(counter)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/items/7", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
	assert.Equal(t, float64(0), testutil.ToFloat64(ActiveConnections))
}

func TestServerHandler(t *testing.T) {
	TrackerCallsTotal.WithLabelValues(OutcomeSent).Inc()
	server := NewServer(&Config{BindAddress: "127.0.0.1:0", MetricsPath: "/metrics"}, logrus.NewEntry(logrus.New()))

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "matomo_tracker_calls_total")

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, "OK", w.Body.String())
}
