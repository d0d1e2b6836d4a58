package circuit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

func failing(context.Context) error    { return errBackend }
func succeeding(context.Context) error { return nil }

func TestBreakerStaysClosedUnderThreshold(t *testing.T) {
	b := New(Config{Threshold: 3, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.Do(ctx, failing); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: err = %v, want backend error", i, err)
		}
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
	if got := b.Failures(); got != 2 {
		t.Errorf("failures = %d, want 2", got)
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := New(Config{Threshold: 3, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Do(ctx, failing) //nolint:errcheck
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	// Calls fail fast without reaching the backend.
	called := false
	err := b.Do(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", err)
	}
	if called {
		t.Error("open breaker must not invoke the function")
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := New(Config{Threshold: 3, Cooldown: time.Minute})
	ctx := context.Background()

	b.Do(ctx, failing)    //nolint:errcheck
	b.Do(ctx, failing)    //nolint:errcheck
	b.Do(ctx, succeeding) //nolint:errcheck
	b.Do(ctx, failing)    //nolint:errcheck
	b.Do(ctx, failing)    //nolint:errcheck

	if got := b.State(); got != StateClosed {
		t.Errorf("state = %v, want closed after interleaved success", got)
	}
}

func TestBreakerRecoversThroughProbe(t *testing.T) {
	b := New(Config{Threshold: 1, Cooldown: 10 * time.Millisecond})
	ctx := context.Background()

	b.Do(ctx, failing) //nolint:errcheck
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(20 * time.Millisecond)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after cooldown", got)
	}

	if err := b.Do(ctx, succeeding); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %v, want closed after successful probe", got)
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := New(Config{Threshold: 1, Cooldown: 10 * time.Millisecond})
	ctx := context.Background()

	b.Do(ctx, failing) //nolint:errcheck
	time.Sleep(20 * time.Millisecond)

	if err := b.Do(ctx, failing); !errors.Is(err, errBackend) {
		t.Fatalf("probe err = %v, want backend error", err)
	}
	if got := b.State(); got != StateOpen {
		t.Errorf("state = %v, want open after failed probe", got)
	}
}

func TestBreakerSingleProbe(t *testing.T) {
	b := New(Config{Threshold: 1, Cooldown: 5 * time.Millisecond})
	ctx := context.Background()

	b.Do(ctx, failing) //nolint:errcheck
	time.Sleep(10 * time.Millisecond)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- b.Do(ctx, func(context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	// A second call during the probe is rejected, not queued.
	if err := b.Do(ctx, succeeding); !errors.Is(err, ErrOpen) {
		t.Errorf("concurrent call err = %v, want ErrOpen", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestBreakerIsFailureFilter(t *testing.T) {
	ignorable := errors.New("not found")
	b := New(Config{
		Threshold: 1,
		Cooldown:  time.Minute,
		IsFailure: func(err error) bool { return !errors.Is(err, ignorable) },
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b.Do(ctx, func(context.Context) error { return ignorable }) //nolint:errcheck
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %v, want closed for filtered errors", got)
	}

	b.Do(ctx, failing) //nolint:errcheck
	if got := b.State(); got != StateOpen {
		t.Errorf("state = %v, want open for real failure", got)
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	b := New(Config{
		Threshold: 1,
		Cooldown:  10 * time.Millisecond,
		OnStateChange: func(from, to State) {
			mu.Lock()
			transitions = append(transitions, from.String()+">"+to.String())
			mu.Unlock()
		},
	})
	ctx := context.Background()

	b.Do(ctx, failing) //nolint:errcheck
	time.Sleep(20 * time.Millisecond)
	b.State()             // rolls open to half-open
	b.Do(ctx, succeeding) //nolint:errcheck

	mu.Lock()
	defer mu.Unlock()
	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestBreakerDefaults(t *testing.T) {
	b := New(Config{})
	if b.config.Threshold != 5 {
		t.Errorf("threshold = %d, want 5", b.config.Threshold)
	}
	if b.config.Cooldown != 30*time.Second {
		t.Errorf("cooldown = %v, want 30s", b.config.Cooldown)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
