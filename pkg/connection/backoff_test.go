package connection

import (
	"context"
	"errors"
	"testing"
	"slices"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff(BackoffConfig{})

		expected := []time.Duration{
			500 * time.Millisecond,
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			30 * time.Second,
			30 * time.Second, // stays at max
		}

		for i, exp := range expected {
			base := b.Current()
			_ = b.Next()
			if base != exp {
				t.Errorf("Attempt %d: base = %v, want %v", i, base, exp)
			}
		}
		if got := b.Attempts(); got != len(expected) {
			t.Errorf("Attempts() = %d, want %d", got, len(expected))
		}
	})

	t.Run("JitterBounds", func(t *testing.T) {
		b := NewBackoff(BackoffConfig{Initial: time.Second, Jitter: 0.25})
		for i := 0; i < 20; i++ {
			b.Reset()
			d := b.Next()
			if d < time.Second || d > 1250*time.Millisecond {
				t.Fatalf("delay %v outside [1s, 1.25s]", d)
			}
		}
	})

	t.Run("NoJitter", func(t *testing.T) {
		b := NewBackoff(BackoffConfig{Initial: 10 * time.Millisecond, Jitter: -1})
		for _, want := range []time.Duration{10 * time.Millisecond, 20 * time.Millisecond} {
			if got := b.Next(); got != want {
				t.Errorf("Next() = %v, want %v", got, want)
			}
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff(BackoffConfig{Initial: time.Second})
		b.Next()
		b.Next()
		b.Reset()
		if b.Current() != time.Second || b.Attempts() != 0 {
			t.Errorf("after Reset: current=%v attempts=%d", b.Current(), b.Attempts())
		}
	})

	t.Run("MaxBelowInitial", func(t *testing.T) {
		b := NewBackoff(BackoffConfig{Initial: time.Second, Max: time.Millisecond})
		b.Next()
		if b.Current() != time.Second {
			t.Errorf("Current() = %v, want 1s", b.Current())
		}
	})
}

func TestBackoffWaitCancelled(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
}

func fastBackoff() *Backoff {
	return NewBackoff(BackoffConfig{Initial: time.Millisecond, Max: 2 * time.Millisecond, Jitter: -1})
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	b := fastBackoff()
	calls := 0
	var retried []int

	err := Retry(context.Background(), b, 5, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("refused")
		}
		return nil
	}, func(attempt int, err error) {
		retried = append(retried, attempt)
	})

	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !slices.Equal(retried, []int{1, 2}) {
		t.Errorf("retried = %v, want [1 2]", retried)
	}
	if b.Attempts() != 0 {
		t.Errorf("backoff not reset on success: attempts=%d", b.Attempts())
	}
}

func TestRetryExhausted(t *testing.T) {
	dialErr := errors.New("refused")
	calls := 0

	err := Retry(context.Background(), fastBackoff(), 3, func(context.Context) error {
		calls++
		return dialErr
	}, nil)

	if !errors.Is(err, ErrAttemptsExhausted) || !errors.Is(err, dialErr) {
		t.Errorf("Retry() = %v, want ErrAttemptsExhausted wrapping the dial error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBackoff(BackoffConfig{Initial: time.Hour})

	calls := 0
	err := Retry(ctx, b, 0, func(context.Context) error {
		calls++
		cancel()
		return errors.New("refused")
	}, nil)

	if err == nil {
		t.Error("expected error after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
