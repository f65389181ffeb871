package matomo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type contextKey string

// stateCtxKey is the key against which the tracking state of a request is stored
const stateCtxKey = contextKey("matomo_state")

// State is the tracking state of a single request. It is created by
// BeforeRequest, carried in the request context and consumed by
// TeardownRequest. All methods are safe on a nil or inactive state.
type State struct {
	// ID correlates log lines of one tracked request
	ID string

	mu      sync.Mutex
	active  bool
	done    bool
	start   time.Time
	payload Payload
	custom  Payload
	err     error
}

func newState(payload Payload) *State {
	return &State{
		ID:      uuid.NewString(),
		active:  payload != nil,
		start:   time.Now(),
		payload: payload,
		custom:  Payload{},
	}
}

// WithState returns a copy of ctx carrying state
func WithState(ctx context.Context, state *State) context.Context {
	return context.WithValue(ctx, stateCtxKey, state)
}

// FromContext returns the tracking state stored in ctx, or nil
func FromContext(ctx context.Context) *State {
	state, ok := ctx.Value(stateCtxKey).(*State)
	if !ok {
		return nil
	}
	return state
}

// Set attaches a custom tracking field to the request held by ctx
func Set(ctx context.Context, key string, value interface{}) {
	FromContext(ctx).Set(key, value)
}

// SetCustomVar attaches a custom variable to the request held by ctx
func SetCustomVar(ctx context.Context, key string, value interface{}) {
	FromContext(ctx).SetCustomVar(key, value)
}

// Active reports whether the request is tracked
func (s *State) Active() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Set stores a custom field merged into the payload at teardown. A "cvar"
// map is merged key by key with the custom variables set by the tracker.
func (s *State) Set(key string, value interface{}) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.custom.Merge(Payload{key: value})
}

// SetCustomVar stores a single custom variable
func (s *State) SetCustomVar(key string, value interface{}) {
	s.Set(customVarsKey, map[string]interface{}{key: value})
}

// Record writes a value straight into the payload
func (s *State) Record(key string, value interface{}) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.done {
		return
	}
	s.payload[key] = value
}

// Fail attaches the error that ended the request. The first error wins.
func (s *State) Fail(err error) {
	if s == nil || err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err returns the error attached with Fail
func (s *State) Err() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Payload returns a snapshot of the payload built so far, without custom fields
func (s *State) Payload() Payload {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payload == nil {
		return nil
	}
	return s.payload.Clone()
}

func (s *State) complete(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.done {
		return
	}
	s.payload["gt_ms"] = milliseconds(time.Since(s.start))
	cvar := s.payload.CustomVars()
	if cvar == nil {
		cvar = map[string]interface{}{}
		s.payload[customVarsKey] = cvar
	}
	cvar["http_status_code"] = status
}

// finish marks the state as torn down and returns the merged payload. It
// returns false for inactive states and on every call after the first.
func (s *State) finish() (Payload, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.done {
		return nil, false
	}
	s.done = true

	payload := s.payload.Clone()
	payload.Merge(s.custom)
	return payload, true
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
