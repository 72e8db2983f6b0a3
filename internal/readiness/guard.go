package readiness

import (
	"context"
	"log/slog"
	"time"
)

// DefaultTimeout is how long the guard waits before declaring the backend
// ready regardless of what it printed.
const DefaultTimeout = 3 * time.Second

// Arm waits d and then latches state with SourceTimeout if nothing else has.
// After a timeout "ready" means "stopped waiting", not "verified".
//
// It returns true if the guard performed the transition. It returns early
// when state latches first or ctx is cancelled.
func Arm(ctx context.Context, d time.Duration, state *State, logger *slog.Logger) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-state.Done():
		return false
	case <-ctx.Done():
		return false
	}

	if !state.SetTrue(SourceTimeout) {
		return false
	}
	logger.Warn("backend may not be ready yet, continuing anyway", "timeout", d)
	return true
}
