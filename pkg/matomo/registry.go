package matomo

import (
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/gorilla/mux"
)

// NotFoundRoute is the route identifier of requests no route matched
const NotFoundRoute = "Not Found"

// Reasons reported to an Observer for requests that are not tracked
const (
	SkipRoute     = "route"
	SkipPattern   = "pattern"
	SkipUserAgent = "user_agent"
)

// RouteDetails overrides what is recorded for a route
type RouteDetails struct {
	ActionName string `mapstructure:"action_name"`
}

// Registry holds the routes and user agents excluded from tracking and the
// per-route overrides. It is filled while wiring routes and read once per
// request.
type Registry struct {
	mu         sync.RWMutex
	excluded   map[string]struct{}
	patterns   []*regexp.Regexp
	uaPatterns []*regexp.Regexp
	overrides  map[string]RouteDetails
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		excluded:  make(map[string]struct{}),
		overrides: make(map[string]RouteDetails),
	}
}

// Ignore excludes routes from tracking
func (r *Registry) Ignore(routes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, route := range routes {
		if route != "" {
			r.excluded[route] = struct{}{}
		}
	}
}

// IgnoreHandler excludes the route named after handler and returns that name
func (r *Registry) IgnoreHandler(handler interface{}) string {
	route := GuessRouteName(handler)
	r.Ignore(route)
	return route
}

// IgnoreRoute excludes a mux route by its path template
func (r *Registry) IgnoreRoute(route *mux.Route) *mux.Route {
	if name, ok := routeName(route); ok {
		r.Ignore(name)
	}
	return route
}

// IgnorePattern excludes every route whose identifier matches one of the
// patterns. Patterns are anchored at the start of the identifier.
func (r *Registry) IgnorePattern(patterns ...string) error {
	compiled, err := compilePatterns(patterns)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, compiled...)
	return nil
}

// IgnoreUserAgent excludes requests whose User-Agent matches one of the
// patterns. Patterns are anchored at the start of the header.
func (r *Registry) IgnoreUserAgent(patterns ...string) error {
	compiled, err := compilePatterns(patterns)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uaPatterns = append(r.uaPatterns, compiled...)
	return nil
}

// Details registers overrides for a route. The last registration wins.
func (r *Registry) Details(route string, details RouteDetails) {
	if route == "" || details.ActionName == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[route] = details
}

// DetailsHandler registers overrides for the route named after handler
func (r *Registry) DetailsHandler(handler interface{}, details RouteDetails) string {
	route := GuessRouteName(handler)
	r.Details(route, details)
	return route
}

// DetailsRoute registers overrides for a mux route by its path template
func (r *Registry) DetailsRoute(route *mux.Route, details RouteDetails) *mux.Route {
	if name, ok := routeName(route); ok {
		r.Details(name, details)
	}
	return route
}

// Excluded reports whether a request on route with the given User-Agent is
// not tracked, and why.
func (r *Registry) Excluded(route, userAgent string) (bool, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.excluded[route]; ok {
		return true, SkipRoute
	}
	for _, pattern := range r.uaPatterns {
		if pattern.MatchString(userAgent) {
			return true, SkipUserAgent
		}
	}
	for _, pattern := range r.patterns {
		if pattern.MatchString(route) {
			return true, SkipPattern
		}
	}
	return false, ""
}

// ActionName returns the overridden action name of route, or route itself
func (r *Registry) ActionName(route string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if details, ok := r.overrides[route]; ok && details.ActionName != "" {
		return details.ActionName
	}
	return route
}

// GuessRouteName derives a route identifier from a handler function name:
// a handler called adminPage (or AdminPage) becomes "/adminPage".
func GuessRouteName(handler interface{}) string {
	v := reflect.ValueOf(handler)
	if v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}
	fn := runtime.FuncForPC(v.Pointer())
	if fn == nil {
		return ""
	}

	name := strings.TrimSuffix(fn.Name(), "-fm")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return ""
	}
	first, size := utf8.DecodeRuneInString(name)
	return "/" + string(unicode.ToLower(first)) + name[size:]
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile("^(?:" + pattern + ")")
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// RouteResolver resolves the route identifier of a request
type RouteResolver interface {
	Route(r *http.Request) (string, bool)
}

// RouteResolverFunc adapts a function to RouteResolver
type RouteResolverFunc func(r *http.Request) (string, bool)

// Route calls f(r)
func (f RouteResolverFunc) Route(r *http.Request) (string, bool) {
	return f(r)
}

// CurrentRoute resolves the route mux matched for the request. It only sees
// a route when the tracker runs as router middleware (router.Use).
func CurrentRoute() RouteResolver {
	return RouteResolverFunc(func(r *http.Request) (string, bool) {
		return routeName(mux.CurrentRoute(r))
	})
}

// MuxRoutes resolves routes by matching the request against router, so a
// tracker wrapping the whole router also records unmatched requests.
func MuxRoutes(router *mux.Router) RouteResolver {
	return RouteResolverFunc(func(r *http.Request) (string, bool) {
		if name, ok := routeName(mux.CurrentRoute(r)); ok {
			return name, true
		}
		var match mux.RouteMatch
		if !router.Match(r, &match) || match.MatchErr != nil {
			return "", false
		}
		return routeName(match.Route)
	})
}

func routeName(route *mux.Route) (string, bool) {
	if route == nil {
		return "", false
	}
	if template, err := route.GetPathTemplate(); err == nil && template != "" {
		return template, true
	}
	if name := route.GetName(); name != "" {
		return name, true
	}
	return "", false
}
