package matomo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/felixge/httpsnoop"
)

// Middleware tracks every request served by next. Wrap the whole router and
// configure MuxRoutes to also track requests no route matched.
func (t *Tracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := t.BeforeRequest(r)
		if !state.Active() {
			next.ServeHTTP(w, r)
			return
		}

		r = r.WithContext(WithState(r.Context(), state))
		// the tracking call must outlive a disconnecting client
		ctx := context.WithoutCancel(r.Context())

		recorder := &statusRecorder{status: http.StatusOK}
		wrapped := httpsnoop.Wrap(w, recorder.hooks())

		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if !recorder.written {
				wrapped.WriteHeader(http.StatusInternalServerError)
			}
			state.Fail(panicError(rec))
			t.AfterRequest(state, recorder.status)
			t.teardown(ctx, state)
			panic(rec)
		}()

		next.ServeHTTP(wrapped, r)

		t.AfterRequest(state, recorder.status)
		t.teardown(ctx, state)
	})
}

// Recover turns a panicking handler into a 500 response and attaches the
// panic to the tracking state, so the request is still tracked with the
// error status. Install it inside Middleware.
func (t *Tracker) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			err := panicError(rec)
			FromContext(r.Context()).Fail(err)
			t.logger.WithError(err).WithField("path", r.URL.Path).Error("Handler panicked")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code sent to the client
type statusRecorder struct {
	status  int
	written bool
}

func (s *statusRecorder) hooks() httpsnoop.Hooks {
	return httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				if !s.written && code >= http.StatusOK {
					s.status = code
					s.written = true
				}
				next(code)
			}
		},
		Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(b []byte) (int, error) {
				s.written = true
				return next(b)
			}
		},
		ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
			return func(src io.Reader) (int64, error) {
				s.written = true
				return next(src)
			}
		},
	}
}

func panicError(rec interface{}) error {
	switch v := rec.(type) {
	case error:
		return v
	case string:
		return errors.New(v)
	default:
		return fmt.Errorf("panic: %v", v)
	}
}
