package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler() *Handler {
	return NewHandler(logrus.NewEntry(logrus.New()), false, BuildInfo{Version: "1.2.3", Commit: "abc", BuildTime: "now"})
}

func TestHealth(t *testing.T) {
	h := newHandler()

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestHealth_ShuttingDown(t *testing.T) {
	h := newHandler()
	shutdownTime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h.SetShutdownStateHandler(func() (bool, time.Time) { return true, shutdownTime })
	h.SetActiveRequestsHandler(func() int64 { return 3 })

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "shutting_down", body["status"])
	assert.Equal(t, "2024-05-01T12:00:00Z", body["shutdown_time"])
	assert.Equal(t, float64(3), body["active_requests"])
}

func TestVersion(t *testing.T) {
	h := newHandler()

	w := httptest.NewRecorder()
	h.Version(w, httptest.NewRequest("GET", "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"version":"1.2.3","commit":"abc","build_time":"now","service":"matomo-example"}`, w.Body.String())
}
