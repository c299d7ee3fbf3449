package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestDo_SucceedsAfterTransientErrors(t *testing.T) {
	var seen []int
	err := Do(context.Background(), func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 2 {
			return errors.New("broker timeout")
		}
		return nil
	}, fastConfig(5))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 3 || seen[0] != 0 || seen[2] != 2 {
		t.Errorf("attempts = %v, want [0 1 2]", seen)
	}
}

func TestDo_ReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	retries := 0
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) { retries++ }

	err := Do(context.Background(), func(attempt int) error {
		calls++
		return errors.New("still down")
	}, cfg)

	if err == nil || err.Error() != "still down" {
		t.Fatalf("err = %v, want last error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if retries != 2 {
		t.Errorf("OnRetry calls = %d, want 2", retries)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	rejected := errors.New("order rejected")
	calls := 0

	err := Do(context.Background(), func(attempt int) error {
		calls++
		return Permanent(rejected)
	}, fastConfig(5))

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, rejected) {
		t.Errorf("err = %v, want wrapped %v", err, rejected)
	}
	var p *PermanentError
	if errors.As(err, &p) {
		t.Error("top-level PermanentError wrapper should be stripped")
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, func(attempt int) error {
		calls++
		return nil
	}, fastConfig(3))

	if calls != 0 {
		t.Errorf("operation should not run on cancelled context, calls = %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDo_CancelledDuringBackoffStripsPermanent(t *testing.T) {
	rejected := errors.New("order rejected")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := fastConfig(5)
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second
	cfg.RetryIf = func(error) bool { return true }

	start := time.Now()
	err := Do(ctx, func(attempt int) error {
		cancel()
		return Permanent(rejected)
	}, cfg)

	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancellation should interrupt the backoff wait")
	}
	if err != rejected {
		t.Errorf("err = %#v, want unwrapped %v", err, rejected)
	}
}

func TestDoWithResult(t *testing.T) {
	got, err := DoWithResult(context.Background(), func(attempt int) (string, error) {
		if attempt == 0 {
			return "", errors.New("transient")
		}
		return "order-1", nil
	}, fastConfig(2))

	if err != nil || got != "order-1" {
		t.Errorf("got (%q, %v), want (order-1, nil)", got, err)
	}
}

func TestBackoff_CappedExponential(t *testing.T) {
	cfg := BackoffConfig(time.Second, 8*time.Second)

	expected := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	for attempt, want := range expected {
		if got := cfg.Backoff(attempt); got != want {
			t.Errorf("Backoff(%d) = %v, want %v", attempt, got, want)
		}
	}

	if got := cfg.Backoff(10000); got != 8*time.Second {
		t.Errorf("Backoff with huge attempt = %v, want cap", got)
	}
}

type flaggedError struct{ retry bool }

func (e flaggedError) Error() string   { return "flagged" }
func (e flaggedError) Retryable() bool { return e.retry }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), true},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"permanent", Permanent(errors.New("x")), false},
		{"flag false", flaggedError{retry: false}, false},
		{"flag true", flaggedError{retry: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
