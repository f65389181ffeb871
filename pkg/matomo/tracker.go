package matomo

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// maxResponseBody bounds how much of a collector response is kept for logging
const maxResponseBody = 4096

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Observer is notified about skipped requests and finished tracking calls
type Observer interface {
	RequestSkipped(reason string)
	CallFinished(result Result)
}

// Config holds the tracker configuration
type Config struct {
	// URL of the Matomo installation or of its tracker script
	URL string
	// SiteID of the tracked site, must be positive
	SiteID int
	// TokenAuth enables client IP tracking; without it no IP is sent
	TokenAuth string
	// BaseURL replaces scheme and host of the tracked url
	BaseURL string

	IgnoredRoutes            []string
	IgnoredPatterns          []string
	IgnoredUserAgentPatterns []string
	RouteDetails             map[string]RouteDetails

	// Client performs the tracking calls (default: &http.Client{})
	Client Doer
	// Routes resolves route identifiers (default: CurrentRoute())
	Routes RouteResolver
	// Async sends tracking calls from their own goroutine; see Tracker.Wait
	Async    bool
	Observer Observer
	Logger   *logrus.Entry
}

// Result is the outcome of one tracking call. Failures are carried in Err
// and never surface to the tracked request.
type Result struct {
	// Skipped is set when the request was not tracked
	Skipped    bool
	StatusCode int
	Body       string
	Err        error
	Duration   time.Duration
}

// OK reports whether the collector accepted the call
func (r Result) OK() bool {
	return !r.Skipped && r.Err == nil
}

// Tracker forwards request analytics to a Matomo collector
type Tracker struct {
	url       string
	siteID    int
	tokenAuth string
	baseURL   string
	async     bool

	client   Doer
	routes   RouteResolver
	registry *Registry
	observer Observer
	logger   *logrus.Entry

	inflight sync.WaitGroup
}

// New creates a tracker. It fails on a missing or relative collector URL, a
// non-positive site id and invalid exclusion patterns.
func New(cfg Config) (*Tracker, error) {
	endpoint, err := NormalizeURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.SiteID <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSiteID, cfg.SiteID)
	}

	registry := NewRegistry()
	registry.Ignore(cfg.IgnoredRoutes...)
	if err := registry.IgnorePattern(cfg.IgnoredPatterns...); err != nil {
		return nil, fmt.Errorf("ignored patterns: %w", err)
	}
	if err := registry.IgnoreUserAgent(cfg.IgnoredUserAgentPatterns...); err != nil {
		return nil, fmt.Errorf("ignored user agent patterns: %w", err)
	}
	for route, details := range cfg.RouteDetails {
		registry.Details(route, details)
	}

	t := &Tracker{
		url:       endpoint,
		siteID:    cfg.SiteID,
		tokenAuth: cfg.TokenAuth,
		baseURL:   strings.Trim(cfg.BaseURL, "/"),
		async:     cfg.Async,
		client:    cfg.Client,
		routes:    cfg.Routes,
		registry:  registry,
		observer:  cfg.Observer,
		logger:    cfg.Logger,
	}
	if t.client == nil {
		t.client = &http.Client{}
	}
	if t.routes == nil {
		t.routes = CurrentRoute()
	}
	if t.logger == nil {
		t.logger = logrus.WithField("component", "matomo-tracker")
	}

	if t.tokenAuth == "" {
		t.logger.Warn("'token_auth' not given, NOT tracking ip-address")
	}

	return t, nil
}

// URL returns the normalized collector endpoint
func (t *Tracker) URL() string {
	return t.url
}

// Registry returns the route registry used to exclude and rename routes
func (t *Tracker) Registry() *Registry {
	return t.registry
}

// BeforeRequest builds the tracking state of r. Excluded requests get an
// inactive state.
func (t *Tracker) BeforeRequest(r *http.Request) *State {
	route, ok := t.routes.Route(r)
	if !ok || route == "" {
		route = NotFoundRoute
	}

	if excluded, reason := t.registry.Excluded(route, r.UserAgent()); excluded {
		t.logger.WithFields(logrus.Fields{
			"route":  route,
			"reason": reason,
		}).Debug("Request excluded from tracking")
		if t.observer != nil {
			t.observer.RequestSkipped(reason)
		}
		return newState(nil)
	}

	payload := Payload{
		"idsite":      strconv.Itoa(t.siteID),
		"rec":         "1",
		"apiv":        "1",
		"send_image":  "0",
		"url":         requestURL(r, t.baseURL),
		"ua":          r.UserAgent(),
		"action_name": t.registry.ActionName(route),
		customVarsKey: map[string]interface{}{
			"http_status_code": nil,
			"http_method":      r.Method,
		},
		"rand": rand.Uint32(),
	}
	if t.tokenAuth != "" {
		payload["token_auth"] = t.tokenAuth
		payload["cip"] = ClientIP(r)
	}
	if lang := PreferredLanguage(r.Header.Get("Accept-Language")); lang != "" {
		payload["lang"] = lang
	}

	return newState(payload)
}

// AfterRequest records the handling time and the final status code
func (t *Tracker) AfterRequest(state *State, statusCode int) {
	if !state.Active() {
		return
	}
	state.complete(statusCode)
}

// TeardownRequest merges the custom fields set by the handler and sends the
// payload. It sends at most once per state; err is informational only.
func (t *Tracker) TeardownRequest(ctx context.Context, state *State, err error) Result {
	payload, ok := state.finish()
	if !ok {
		return Result{Skipped: true}
	}

	if err != nil {
		t.logger.WithError(err).WithField("request_id", state.ID).Debug("Tracking request that ended with an error")
	}
	return t.Track(ctx, payload)
}

// Track sends payload to the collector as a form encoded POST
func (t *Tracker) Track(ctx context.Context, payload Payload) Result {
	start := time.Now()

	values, err := payload.Values()
	if err != nil {
		return Result{Err: fmt.Errorf("failed to encode tracking payload: %w", err)}
	}

	t.logger.WithFields(logrus.Fields{
		"collector":   t.url,
		"action_name": values.Get("action_name"),
		"url":         values.Get("url"),
	}).Debug("Calling collector")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, strings.NewReader(values.Encode()))
	if err != nil {
		return Result{Err: fmt.Errorf("failed to create tracking request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return Result{
			Err:      fmt.Errorf("tracking call failed: %w", err),
			Duration: time.Since(start),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	result := Result{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Duration:   time.Since(start),
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		result.Err = fmt.Errorf("%w (status_code=%d)", ErrCollectorStatus, resp.StatusCode)
	}
	return result
}

// Wait blocks until tracking calls started in async mode have finished or
// ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// teardown runs TeardownRequest inline or, in async mode, on its own goroutine
// and reports the result.
func (t *Tracker) teardown(ctx context.Context, state *State) {
	if !t.async {
		t.report(state, t.TeardownRequest(ctx, state, state.Err()))
		return
	}

	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		t.report(state, t.TeardownRequest(ctx, state, state.Err()))
	}()
}

// report logs a tracking result and hands it to the observer. The result is
// discarded afterwards.
func (t *Tracker) report(state *State, result Result) {
	if result.Skipped {
		return
	}
	if t.observer != nil {
		t.observer.CallFinished(result)
	}

	logger := t.logger.WithFields(logrus.Fields{
		"request_id": state.ID,
		"duration":   result.Duration,
	})
	switch {
	case result.Err != nil && result.StatusCode != 0:
		logger.WithFields(logrus.Fields{
			"status_code": result.StatusCode,
			"text":        result.Body,
		}).Errorf("Tracking call failed (status_code=%d)", result.StatusCode)
	case result.Err != nil:
		logger.WithError(result.Err).Error("Tracking call failed")
	default:
		logger.WithField("status_code", result.StatusCode).Debug("Tracking call sent")
	}
}
