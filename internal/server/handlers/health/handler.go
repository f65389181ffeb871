package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// BuildInfo describes the running binary
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Handler handles health and version endpoints
type Handler struct {
	logger               *logrus.Entry
	logHealthRequests    bool
	build                BuildInfo
	shutdownStateHandler func() (bool, time.Time)
	activeRequests       func() int64
}

// NewHandler creates a new health handler
func NewHandler(logger *logrus.Entry, logHealthRequests bool, build BuildInfo) *Handler {
	return &Handler{
		logger:            logger,
		logHealthRequests: logHealthRequests,
		build:             build,
	}
}

// SetShutdownStateHandler sets the handler to check shutdown state
func (h *Handler) SetShutdownStateHandler(handler func() (bool, time.Time)) {
	h.shutdownStateHandler = handler
}

// SetActiveRequestsHandler sets the handler reporting requests in flight
func (h *Handler) SetActiveRequestsHandler(handler func() int64) {
	h.activeRequests = handler
}

// Health handles the health check endpoint
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.logRequest(r, "Health check request")

	// Check if we're in shutdown mode
	if h.shutdownStateHandler != nil {
		if shutdownInitiated, shutdownTime := h.shutdownStateHandler(); shutdownInitiated {
			response := map[string]interface{}{
				"status":        "shutting_down",
				"shutdown_time": shutdownTime.Format(time.RFC3339),
				"message":       "Server is shutting down gracefully",
			}
			if h.activeRequests != nil {
				response["active_requests"] = h.activeRequests()
			}
			h.writeJSON(w, http.StatusServiceUnavailable, response)
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Version handles the version endpoint
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	h.logRequest(r, "Version check request")

	h.writeJSON(w, http.StatusOK, struct {
		BuildInfo
		Service string `json:"service"`
	}{h.build, "matomo-example"})
}

func (h *Handler) logRequest(r *http.Request, msg string) {
	// Optional logging, controlled by logHealthRequests
	if h.logHealthRequests {
		h.logger.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"remote": r.RemoteAddr,
		}).Debug(msg)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithError(err).Error("Failed to write health response")
	}
}
