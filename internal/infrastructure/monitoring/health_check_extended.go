package monitoring

import (
	"context"
	"fmt"
	"time"
)

// Pinger is anything with a storage health check.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// AddStorageCheck adds a check against the layout document store.
func (h *HealthChecker) AddStorageCheck(backend string, store Pinger, timeout time.Duration) {
	h.AddCheck("storage", func(ctx context.Context) error {
		if err := store.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", backend, err)
		}
		return nil
	}, timeout)
}

// AddConnectionLimitCheck fails once open connections reach max, so load
// balancers stop routing new sockets here. A non-positive max disables it.
func (h *HealthChecker) AddConnectionLimitCheck(count func() int, max int) {
	if max <= 0 {
		return
	}
	h.AddCheck("connections", func(ctx context.Context) error {
		if n := count(); n >= max {
			return fmt.Errorf("%d of %d connections in use", n, max)
		}
		return nil
	}, time.Second)
}
