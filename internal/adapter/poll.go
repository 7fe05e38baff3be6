package adapter

import (
	"context"
	"time"

	"github.com/yolodolo42/walletgate/internal/walleterr"
)

// WaitFor polls cond every interval until it holds. It gives up with a
// Timeout error after timeout, or with ctx's error when ctx ends first.
func WaitFor(ctx context.Context, interval, timeout time.Duration, cond func() bool) error {
	if cond() {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return walleterr.New(walleterr.KindTimeout, "connect", "wallet did not appear after opening it")
		case <-ticker.C:
			if cond() {
				return nil
			}
		}
	}
}
