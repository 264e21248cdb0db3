package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/custodia/gotrade/internal/domain"
)

func TestBackoffDelayNeverExceedsCap(t *testing.T) {
	c := &Coordinator{retry: DefaultRetryPolicy()}
	for n := 0; n < 12; n++ {
		for i := 0; i < 50; i++ {
			if d := c.backoffDelay(n); d > c.retry.Cap {
				t.Fatalf("backoffDelay(%d) = %s, above cap %s", n, d, c.retry.Cap)
			}
		}
	}
}

func TestWithRetryStopsOnCancelledContext(t *testing.T) {
	c := &Coordinator{
		retry: RetryPolicy{Base: time.Hour, Cap: time.Hour, MaxAttempts: 5, CallTimeout: time.Second},
		sleep: sleepCtx,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	start := time.Now()
	err := c.withRetry(ctx, "place_order", func(context.Context) error {
		calls++
		return domain.TransientErr("place_order", errors.New("connection refused"))
	})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("withRetry waited %s on a cancelled context", elapsed)
	}
	if calls != 1 {
		t.Fatalf("attempts = %d, want 1", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
