package matomo

import (
	"context"
	"sync"
	"time"
)

// Timer measures the wall-clock time of a block of work and records it in
// milliseconds on the request state.
//
//	timer := matomo.StartTimer(matomo.FromContext(ctx), "pf_srv")
//	defer timer.Stop()
type Timer struct {
	state *State
	key   string
	start time.Time
	once  sync.Once
}

// StartTimer starts measuring. state may be nil, the timer then only measures.
func StartTimer(state *State, key string) *Timer {
	return &Timer{
		state: state,
		key:   key,
		start: time.Now(),
	}
}

// Stop records the elapsed time under the timer key. Only the first call records.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.once.Do(func() {
		t.state.Record(t.key, milliseconds(elapsed))
	})
	return elapsed
}

// Measure runs fn and records its duration under key on the state held by
// ctx, also when fn fails or panics.
func Measure(ctx context.Context, key string, fn func() error) error {
	timer := StartTimer(FromContext(ctx), key)
	defer timer.Stop()
	return fn()
}

// MeasureAsync runs fn on its own goroutine. The duration is recorded before
// fn's error is delivered on the returned channel, which is then closed.
func MeasureAsync(ctx context.Context, key string, fn func(context.Context) error) <-chan error {
	errc := make(chan error, 1)
	timer := StartTimer(FromContext(ctx), key)

	go func() {
		defer close(errc)
		err := fn(ctx)
		timer.Stop()
		errc <- err
	}()

	return errc
}
