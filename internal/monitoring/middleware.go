package monitoring

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
)

// HTTPMiddleware provides Prometheus metrics for HTTP requests. It is meant
// for router.Use so the matched route template is available as endpoint.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ActiveConnections.Inc()
		defer ActiveConnections.Dec()

		m := httpsnoop.CaptureMetrics(next, w, r)

		endpoint := "unknown"
		if route := mux.CurrentRoute(r); route != nil {
			if template, err := route.GetPathTemplate(); err == nil {
				endpoint = template
			}
		}

		RequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(m.Code)).Inc()
		RequestDuration.WithLabelValues(r.Method, endpoint).Observe(m.Duration.Seconds())
	})
}
