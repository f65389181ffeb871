// Package demo contains the handlers of the example application. They show
// how request handlers contribute fields to the tracking call.
package demo

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guided-traffic/matomo-tracker/pkg/matomo"
)

// Handler serves the example routes
type Handler struct {
	logger *logrus.Entry
	// SlowDelay is how long Slow works before answering
	SlowDelay time.Duration
}

// NewHandler creates a new demo handler
func NewHandler(logger *logrus.Entry) *Handler {
	return &Handler{
		logger:    logger,
		SlowDelay: 100 * time.Millisecond,
	}
}

// Index answers with a greeting
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Hello World"})
}

// Users lists the users; its action name is overridden at registration
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, []map[string]string{
		{"name": "alice"},
		{"name": "bob"},
	})
}

// OldPath is served under paths excluded by pattern
func (h *Handler) OldPath(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"path": r.URL.Path})
}

// SetCustomVar adds an event action, a server time and a custom variable to
// the tracking call
func (h *Handler) SetCustomVar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	matomo.Set(ctx, "e_a", "Playing")
	matomo.Set(ctx, "pf_srv", "123")
	matomo.SetCustomVar(ctx, "anything", "goes")

	h.writeJSON(w, http.StatusOK, map[string]string{"result": "custom_var"})
}

// Bar always fails with 400
func (h *Handler) Bar(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bar is not available"})
}

// Boom panics. The tracker's Recover middleware turns it into a 500.
func (h *Handler) Boom(w http.ResponseWriter, r *http.Request) {
	panic("boom")
}

// Echo answers with the posted JSON document
func (h *Handler) Echo(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	h.writeJSON(w, http.StatusOK, body)
}

// Slow simulates work and records its duration as server time
func (h *Handler) Slow(w http.ResponseWriter, r *http.Request) {
	err := matomo.Measure(r.Context(), "pf_srv", func() error {
		return sleep(r.Context(), h.SlowDelay)
	})
	if err != nil {
		h.logger.WithError(err).Debug("Slow request aborted")
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"result": "done"})
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithError(err).Error("Failed to write response")
	}
}
