package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryErr(t *testing.T) {
	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := RetryErr(3, func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("RetryErr() error = %v", err)
		}
		if calls != 3 {
			t.Fatalf("calls = %d, want 3", calls)
		}
	})

	t.Run("returns last error when exhausted", func(t *testing.T) {
		want := errors.New("persistent")
		err := RetryErr(2, func() error { return want })
		if !errors.Is(err, want) {
			t.Fatalf("RetryErr() error = %v, want %v", err, want)
		}
	})

	t.Run("zero tries defaults to one", func(t *testing.T) {
		calls := 0
		_ = RetryErr(0, func() error {
			calls++
			return errors.New("x")
		})
		if calls != 1 {
			t.Fatalf("calls = %d, want 1", calls)
		}
	})
}

func TestRetryWithContext(t *testing.T) {
	t.Run("stops on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		_, err := RetryWithContext(ctx, 5, func(context.Context) (int, error) {
			calls++
			return 0, errors.New("x")
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("error = %v, want context.Canceled", err)
		}
		if calls != 0 {
			t.Fatalf("calls = %d, want 0", calls)
		}
	})

	t.Run("does not retry deadline errors", func(t *testing.T) {
		calls := 0
		_, err := RetryWithContext(context.Background(), 5, func(context.Context) (int, error) {
			calls++
			return 0, context.DeadlineExceeded
		})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("error = %v, want DeadlineExceeded", err)
		}
		if calls != 1 {
			t.Fatalf("calls = %d, want 1", calls)
		}
	})
}

func TestRetryBackoff(t *testing.T) {
	calls := 0
	err := RetryBackoff(context.Background(), 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryBackoff() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}
