package matomo

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDoer implements Doer for testing
type MockDoer struct {
	mock.Mock
}

func (m *MockDoer) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*http.Response)
	return resp, args.Error(1)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func testLogger() (*logrus.Entry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return logrus.NewEntry(logger), hook
}

func newTracker(t *testing.T, cfg Config) *Tracker {
	t.Helper()
	if cfg.URL == "" {
		cfg.URL = "http://trackingserver"
	}
	if cfg.SiteID == 0 {
		cfg.SiteID = 1
	}
	if cfg.Logger == nil {
		cfg.Logger, _ = testLogger()
	}
	tracker, err := New(cfg)
	require.NoError(t, err)
	return tracker
}

func TestNew_InvalidConfig(t *testing.T) {
	logger, _ := testLogger()

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"missing url", Config{SiteID: 1}, ErrMissingURL},
		{"relative url", Config{URL: "tracker", SiteID: 1}, ErrInvalidURL},
		{"missing site id", Config{URL: "http://tracker"}, ErrInvalidSiteID},
		{"negative site id", Config{URL: "http://tracker", SiteID: -4}, ErrInvalidSiteID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = logger
			tracker, err := New(tt.cfg)
			assert.Nil(t, tracker)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := New(Config{URL: "http://tracker", SiteID: 1, IgnoredPatterns: []string{"("}, Logger: logger})
	assert.ErrorContains(t, err, "ignored patterns")

	_, err = New(Config{URL: "http://tracker", SiteID: 1, IgnoredUserAgentPatterns: []string{"("}, Logger: logger})
	assert.ErrorContains(t, err, "ignored user agent patterns")
}

func TestNew_NormalizesURL(t *testing.T) {
	assert.Equal(t, "http://tracker/matomo.php", newTracker(t, Config{URL: "http://tracker"}).URL())
	assert.Equal(t, "http://tracker/piwik.php", newTracker(t, Config{URL: "http://tracker/piwik.php"}).URL())
}

func TestNew_WarnsOnceWithoutToken(t *testing.T) {
	logger, hook := testLogger()
	newTracker(t, Config{Logger: logger})

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "NOT tracking ip-address")

	hook.Reset()
	newTracker(t, Config{Logger: logger, TokenAuth: "FAKE_TOKEN"})
	assert.Empty(t, hook.AllEntries())
}

func TestBeforeRequest_Payload(t *testing.T) {
	tracker := newTracker(t, Config{
		TokenAuth: "FAKE_TOKEN",
		Routes:    RouteResolverFunc(func(*http.Request) (string, bool) { return "/foo", true }),
	})

	req := httptest.NewRequest("GET", "/foo", nil)
	req.Header.Set("User-Agent", "test-agent/1.0")
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.5")

	state := tracker.BeforeRequest(req)
	require.True(t, state.Active())
	assert.NotEmpty(t, state.ID)

	payload := state.Payload()
	assert.Equal(t, "1", payload["idsite"])
	assert.Equal(t, "1", payload["rec"])
	assert.Equal(t, "1", payload["apiv"])
	assert.Equal(t, "0", payload["send_image"])
	assert.Equal(t, "http://example.com/foo", payload["url"])
	assert.Equal(t, "test-agent/1.0", payload["ua"])
	assert.Equal(t, "/foo", payload["action_name"])
	assert.Equal(t, "FAKE_TOKEN", payload["token_auth"])
	assert.Equal(t, "192.0.2.1", payload["cip"])
	assert.Equal(t, "de-DE", payload["lang"])
	assert.IsType(t, uint32(0), payload["rand"])
	assert.Equal(t, map[string]interface{}{"http_method": "GET", "http_status_code": nil}, payload.CustomVars())
}

func TestBeforeRequest_WithoutTokenOmitsIP(t *testing.T) {
	tracker := newTracker(t, Config{})

	req := httptest.NewRequest("GET", "/foo", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	payload := tracker.BeforeRequest(req).Payload()

	assert.NotContains(t, payload, "cip")
	assert.NotContains(t, payload, "token_auth")
	assert.NotContains(t, payload, "lang")
	assert.Equal(t, NotFoundRoute, payload["action_name"])
}

func TestBeforeRequest_BaseURL(t *testing.T) {
	tracker := newTracker(t, Config{BaseURL: "https://public.example.org/"})

	payload := tracker.BeforeRequest(httptest.NewRequest("GET", "/foo?x=1", nil)).Payload()
	assert.Equal(t, "https://public.example.org/foo", payload["url"])
}

func TestBeforeRequest_Excluded(t *testing.T) {
	observer := &recordingObserver{}
	tracker := newTracker(t, Config{
		IgnoredRoutes: []string{NotFoundRoute},
		Observer:      observer,
	})

	state := tracker.BeforeRequest(httptest.NewRequest("GET", "/nowhere", nil))
	assert.False(t, state.Active())
	assert.Nil(t, state.Payload())
	assert.Equal(t, []string{SkipRoute}, observer.skipped)

	tracker.AfterRequest(state, http.StatusOK)
	result := tracker.TeardownRequest(context.Background(), state, nil)
	assert.True(t, result.Skipped)
	assert.False(t, result.OK())
}

func TestHooks_SendOnce(t *testing.T) {
	doer := &MockDoer{}
	tracker := newTracker(t, Config{
		Client: doer,
		Routes: RouteResolverFunc(func(*http.Request) (string, bool) { return "/foo", true }),
	})

	var form url.Values
	doer.On("Do", mock.AnythingOfType("*http.Request")).Run(func(args mock.Arguments) {
		req := args.Get(0).(*http.Request)
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "http://trackingserver/matomo.php", req.URL.String())
		assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
		require.NoError(t, req.ParseForm())
		form = req.PostForm
	}).Return(response(http.StatusNoContent, ""), nil).Once()

	state := tracker.BeforeRequest(httptest.NewRequest("POST", "/foo", nil))
	state.Set("e_a", "Playing")
	state.SetCustomVar("anything", "goes")
	tracker.AfterRequest(state, http.StatusCreated)

	result := tracker.TeardownRequest(context.Background(), state, nil)
	require.True(t, result.OK())
	assert.Equal(t, http.StatusNoContent, result.StatusCode)

	again := tracker.TeardownRequest(context.Background(), state, nil)
	assert.True(t, again.Skipped)
	doer.AssertExpectations(t)

	assert.Equal(t, "Playing", form.Get("e_a"))
	assert.NotEmpty(t, form.Get("gt_ms"))
	assert.NotEmpty(t, form.Get("rand"))
	assert.JSONEq(t, `{"anything":"goes","http_method":"POST","http_status_code":201}`, form.Get("cvar"))
}

func TestTrack_CollectorStatusError(t *testing.T) {
	doer := &MockDoer{}
	doer.On("Do", mock.Anything).Return(response(http.StatusInternalServerError, "broken"), nil)
	tracker := newTracker(t, Config{Client: doer})

	result := tracker.Track(context.Background(), Payload{"idsite": "1"})
	assert.False(t, result.OK())
	assert.ErrorIs(t, result.Err, ErrCollectorStatus)
	assert.Equal(t, http.StatusInternalServerError, result.StatusCode)
	assert.Equal(t, "broken", result.Body)
}

func TestTrack_TransportError(t *testing.T) {
	transportErr := errors.New("connection refused")
	doer := &MockDoer{}
	doer.On("Do", mock.Anything).Return(nil, transportErr)
	tracker := newTracker(t, Config{Client: doer})

	result := tracker.Track(context.Background(), Payload{"idsite": "1"})
	assert.False(t, result.OK())
	assert.ErrorIs(t, result.Err, transportErr)
	assert.Zero(t, result.StatusCode)
}

func TestTrack_EncodingError(t *testing.T) {
	doer := &MockDoer{}
	tracker := newTracker(t, Config{Client: doer})

	result := tracker.Track(context.Background(), Payload{"cvar": map[string]interface{}{"c": make(chan int)}})
	assert.Error(t, result.Err)
	doer.AssertNotCalled(t, "Do", mock.Anything)
}

func TestReport_LogsFailures(t *testing.T) {
	logger, hook := testLogger()
	observer := &recordingObserver{}
	tracker := newTracker(t, Config{Logger: logger, TokenAuth: "x", Observer: observer})

	tracker.report(newState(Payload{}), Result{StatusCode: 500, Body: "oops", Err: ErrCollectorStatus})
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, 500, entry.Data["status_code"])
	assert.Equal(t, "oops", entry.Data["text"])

	tracker.report(newState(Payload{}), Result{Err: errors.New("dial tcp: refused")})
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "Tracking call failed", hook.LastEntry().Message)

	tracker.report(newState(nil), Result{Skipped: true})
	assert.Len(t, observer.results, 2)
}

type recordingObserver struct {
	skipped []string
	results []Result
}

func (o *recordingObserver) RequestSkipped(reason string) {
	o.skipped = append(o.skipped, reason)
}

func (o *recordingObserver) CallFinished(result Result) {
	o.results = append(o.results, result)
}
