package coordinator

import (
	"context"
	"math/rand"
	"time"

	"github.com/custodia/gotrade/internal/domain"
)

// backoffDelay returns the wait before retry number n (0-based), with up to
// 20% jitter so concurrent retries against the same remote spread out.
func (c *Coordinator) backoffDelay(n int) time.Duration {
	if n > 30 {
		return c.retry.Cap
	}
	d := c.retry.Base * time.Duration(1<<n)
	if d > c.retry.Cap || d <= 0 {
		d = c.retry.Cap
	}
	d += time.Duration(rand.Int63n(int64(d)/5 + 1))
	if d > c.retry.Cap {
		d = c.retry.Cap
	}
	return d
}

// withRetry runs fn under the per-call timeout, retrying transient gateway
// failures up to the policy bound. Permanent failures and successes return
// immediately. The returned error of an exhausted run is still the last
// transient error; callers decide how to surface it (OperationPending,
// ProvisioningIncomplete).
func (c *Coordinator) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt - 1)
			log.Debugf("%s: transient failure, retry %d/%d in %s", op, attempt, c.retry.MaxAttempts-1, delay)
			c.sleep(ctx, delay)
			if ctx.Err() != nil {
				return domain.TransientErr(op, ctx.Err())
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, c.retry.CallTimeout)
		err = fn(callCtx)
		cancel()
		if err == nil || !domain.IsTransient(err) {
			return err
		}
	}
	log.Warnf("%s: retries exhausted: %v", op, err)
	return err
}

// sleepCtx waits out d but returns early when ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
