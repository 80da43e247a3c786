package services_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lorrc/incident-sync/internal/adapters/secondary/lease"
	apperrors "github.com/lorrc/incident-sync/internal/core/errors"
	"github.com/lorrc/incident-sync/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastCoordinatorConfig() services.CoordinatorConfig {
	return services.CoordinatorConfig{
		LockName:         "test.push",
		MinRetryInterval: 20 * time.Millisecond,
		RetryJitter:      0,
	}
}

func TestCoordinator_DegradedModeWithoutLocker(t *testing.T) {
	var degraded atomic.Int32
	coordinator := services.NewCoordinator(nil, fastCoordinatorConfig(), func(string) {
		degraded.Add(1)
	}, testLogger())

	err := coordinator.Run(context.Background(), func(context.Context) error {
		t.Error("work must not run in degraded mode")
		return nil
	})

	require.ErrorIs(t, err, apperrors.ErrLockUnavailable)
	assert.Equal(t, int32(1), degraded.Load(), "the user is told exactly once")
}

func TestCoordinator_AtMostOneHolderAcrossContexts(t *testing.T) {
	registry := lease.NewRegistry()
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var concurrent atomic.Int32
	var peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			coordinator := services.NewCoordinator(registry, fastCoordinatorConfig(), nil, testLogger())
			_ = coordinator.Run(ctx, func(workCtx context.Context) error {
				n := concurrent.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				select {
				case <-workCtx.Done():
				case <-time.After(10 * time.Millisecond):
				}
				concurrent.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load(), "at most one holder at any sampled instant")
}

func TestCoordinator_MinIntervalPreventsBusyLoop(t *testing.T) {
	registry := lease.NewRegistry()
	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()

	var attempts atomic.Int32
	coordinator := services.NewCoordinator(registry, services.CoordinatorConfig{
		LockName:         "test.push",
		MinRetryInterval: 50 * time.Millisecond,
		RetryJitter:      0,
	}, nil, testLogger())

	// The work function fails instantly: without the loop-start interval
	// this would spin thousands of times.
	_ = coordinator.Run(ctx, func(context.Context) error {
		attempts.Add(1)
		return assert.AnError
	})

	assert.LessOrEqual(t, attempts.Load(), int32(4), "instant failures must not busy-loop")
	assert.GreaterOrEqual(t, attempts.Load(), int32(2))
}

func TestCoordinator_HolderHandoffAfterRelease(t *testing.T) {
	registry := lease.NewRegistry()

	firstHolding := make(chan struct{})
	releaseFirst := make(chan struct{})

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	go func() {
		coordinator := services.NewCoordinator(registry, fastCoordinatorConfig(), nil, testLogger())
		_ = coordinator.Run(ctxA, func(context.Context) error {
			close(firstHolding)
			<-releaseFirst
			return nil
		})
	}()

	<-firstHolding

	// A second context keeps bidding while the first one holds.
	secondHeld := make(chan struct{})
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	var once sync.Once
	go func() {
		coordinator := services.NewCoordinator(registry, fastCoordinatorConfig(), nil, testLogger())
		_ = coordinator.Run(ctxB, func(context.Context) error {
			once.Do(func() { close(secondHeld) })
			return nil
		})
	}()

	select {
	case <-secondHeld:
		t.Fatal("second context must not hold while the first does")
	case <-time.After(60 * time.Millisecond):
	}

	// First holder goes away; the second takes over within one retry
	// interval or so.
	close(releaseFirst)
	cancelA()

	select {
	case <-secondHeld:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("lease was not handed off after the holder released")
	}
}
