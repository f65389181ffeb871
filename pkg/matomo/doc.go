// Package matomo tracks HTTP requests with a Matomo collector.
//
// A Tracker hooks into the request lifecycle at three points: BeforeRequest
// builds the tracking payload, AfterRequest records the handling time and the
// response status, and TeardownRequest sends the payload. Middleware composes
// the three for net/http and gorilla/mux applications:
//
//	router := mux.NewRouter()
//	tracker, err := matomo.New(matomo.Config{
//		URL:    "https://analytics.example.com",
//		SiteID: 1,
//		Routes: matomo.MuxRoutes(router),
//	})
//	if err != nil {
//		return err
//	}
//	router.Use(tracker.Recover)
//	tracker.Registry().IgnoreRoute(router.HandleFunc("/health", health))
//	tracker.Registry().DetailsRoute(router.HandleFunc("/users", users), matomo.RouteDetails{ActionName: "Users"})
//	http.ListenAndServe(":8080", tracker.Middleware(router))
//
// Handlers add fields with Set and SetCustomVar and time work with Measure.
// Tracking failures are logged and dropped, they never change a response.
package matomo
