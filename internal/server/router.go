package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/guided-traffic/matomo-tracker/internal/monitoring"
	"github.com/guided-traffic/matomo-tracker/internal/server/handlers/demo"
	"github.com/guided-traffic/matomo-tracker/internal/server/handlers/health"
	"github.com/guided-traffic/matomo-tracker/internal/server/middleware"
	"github.com/guided-traffic/matomo-tracker/pkg/matomo"
)

// oldPathPattern excludes every route below an "old" segment
const oldPathPattern = ".*/old.*"

// setupRoutes registers the example routes and returns the handler chain.
// CORS, request counting, logging and tracking wrap the router. Metrics and
// panic recovery run inside it.
func (s *Server) setupRoutes(router *mux.Router) http.Handler {
	// Add monitoring middleware if monitoring is enabled
	if s.config.Monitoring.Enabled {
		router.Use(monitoring.HTTPMiddleware)
	}
	router.Use(s.tracker.Recover)

	registry := s.tracker.Registry()

	healthHandler := health.NewHandler(s.logger, s.config.LogHealthRequests, s.build)
	healthHandler.SetShutdownStateHandler(s.shutdownState)
	healthHandler.SetActiveRequestsHandler(s.requests.Active)

	// Health and version endpoints are not tracked
	registry.IgnoreRoute(router.HandleFunc("/health", healthHandler.Health).Methods("GET"))
	registry.IgnoreRoute(router.HandleFunc("/version", healthHandler.Version).Methods("GET"))

	demoHandler := demo.NewHandler(s.logger)

	router.HandleFunc("/", demoHandler.Index).Methods("GET")
	registry.DetailsRoute(router.HandleFunc("/users", demoHandler.Users).Methods("GET"),
		matomo.RouteDetails{ActionName: "Users"})
	router.HandleFunc("/old/path", demoHandler.OldPath).Methods("GET")
	router.HandleFunc("/some/old/path", demoHandler.OldPath).Methods("GET")
	// the pattern compiles, IgnorePattern only fails on invalid expressions
	_ = registry.IgnorePattern(oldPathPattern)
	router.HandleFunc("/set/custom/var", demoHandler.SetCustomVar).Methods("GET")
	router.HandleFunc("/bar", demoHandler.Bar).Methods("GET")
	router.HandleFunc("/boom", demoHandler.Boom).Methods("GET")
	router.HandleFunc("/baz", demoHandler.Echo).Methods("POST")
	router.HandleFunc("/slow", demoHandler.Slow).Methods("GET")

	httpLogger := middleware.NewLogger(s.logger, s.config.LogHealthRequests)

	var handler http.Handler = router
	handler = s.tracker.Middleware(handler)
	handler = httpLogger.Middleware(handler)
	handler = s.requests.Middleware(handler)
	handler = middleware.NewCORS(s.config.CORS.AllowedOrigins)(handler)
	return handler
}
