package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Coordinator triggers sync cycles on a fixed interval. It is the daemon
// mode's driver; one-shot syncs call the orchestrator directly.
type Coordinator struct {
	orch     *Orchestrator
	interval time.Duration
}

// NewCoordinator creates a coordinator that syncs every interval.
func NewCoordinator(orch *Orchestrator, interval time.Duration) *Coordinator {
	return &Coordinator{orch: orch, interval: interval}
}

// Run starts the coordinator loop. Blocks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "sync-coordinator",
		"action", "worker_started",
		"interval", c.interval.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Sync immediately on start, then on each tick.
	c.syncOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "sync-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.syncOnce(ctx)
		}
	}
}

func (c *Coordinator) syncOnce(ctx context.Context) {
	err := c.orch.Sync(ctx, false)
	switch {
	case err == nil:
	case errors.Is(err, ErrSyncInFlight), errors.Is(err, ErrThrottled):
		// An externally triggered cycle is running or just ran; the next
		// tick will catch up.
	case ctx.Err() != nil:
		// Graceful shutdown, already logged by the orchestrator.
	default:
		slog.Warn("scheduled sync failed",
			"component", "worker",
			"worker", "sync-coordinator",
			"action", "sync_failed",
			"error", err,
		)
	}
}
