package services

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	apperrors "github.com/lorrc/incident-sync/internal/core/errors"
	"github.com/lorrc/incident-sync/internal/core/ports"
)

// CoordinatorConfig configures holder election.
type CoordinatorConfig struct {
	// LockName is the origin-scoped name of the election lock.
	LockName string

	// MinRetryInterval is the minimum time between election attempts,
	// measured from loop-start rather than from release, so rapid
	// connect/fail cycles cannot busy-loop.
	MinRetryInterval time.Duration

	// RetryJitter is the fraction of MinRetryInterval added as a random
	// extra wait, spreading re-election attempts across contexts.
	RetryJitter float64
}

// DefaultCoordinatorConfig returns the production election settings.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		LockName:         "incident-sync.push",
		MinRetryInterval: 10 * time.Second,
		RetryJitter:      0.2,
	}
}

// Coordinator elects exactly one browsing context, among all open contexts,
// to hold the live push connection. Losing the election is the expected
// outcome for all but one of N contexts; the loser waits and tries again.
type Coordinator struct {
	locker     ports.Locker
	cfg        CoordinatorConfig
	onDegraded ports.DegradedFunc
	logger     *slog.Logger
}

// NewCoordinator creates a coordinator. A nil locker means this context has
// no access to the mutual-exclusion primitive; Run then reports degraded
// mode instead of electing.
func NewCoordinator(locker ports.Locker, cfg CoordinatorConfig, onDegraded ports.DegradedFunc, logger *slog.Logger) *Coordinator {
	if cfg.LockName == "" {
		cfg.LockName = "incident-sync.push"
	}
	if cfg.MinRetryInterval <= 0 {
		cfg.MinRetryInterval = 10 * time.Second
	}
	return &Coordinator{
		locker:     locker,
		cfg:        cfg,
		onDegraded: onDegraded,
		logger:     logger.With("component", "coordinator"),
	}
}

// Run drives the unbounded election loop for the lifetime of the context.
// When the lock is won, work runs until the connection permanently fails;
// the lock is released and the loop continues. Run returns only when ctx
// ends, or immediately with ErrLockUnavailable in degraded mode.
func (c *Coordinator) Run(ctx context.Context, work func(ctx context.Context) error) error {
	if c.locker == nil {
		c.logger.Warn("coordination primitive unavailable, live updates disabled")
		if c.onDegraded != nil {
			c.onDegraded("live updates are unavailable in this context")
		}
		return apperrors.ErrLockUnavailable
	}

	for {
		start := time.Now()

		acquired, err := c.locker.TryWithLock(ctx, c.cfg.LockName, work)
		switch {
		case err != nil && errors.Is(err, context.Canceled):
			// Holder shut down with the page; fall through to the
			// ctx check below.
		case err != nil:
			c.logger.Warn("connection holder exited with error", "error", err)
		case acquired:
			c.logger.Info("connection holder released lock")
		default:
			c.logger.Debug("lock held by another context")
		}

		wait := c.cfg.MinRetryInterval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		if c.cfg.RetryJitter > 0 {
			wait += time.Duration(rand.Float64() * c.cfg.RetryJitter * float64(c.cfg.MinRetryInterval))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
