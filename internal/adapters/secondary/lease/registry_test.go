package lease_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lorrc/incident-sync/internal/adapters/secondary/lease"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SecondAcquireFailsWhileHeld(t *testing.T) {
	reg := lease.NewRegistry()
	ctx := context.Background()

	holding := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = reg.TryWithLock(ctx, "push", func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()

	<-holding
	acquired, err := reg.TryWithLock(ctx, "push", func(context.Context) error {
		t.Error("work function must not run without the lock")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, acquired)

	close(release)
}

func TestRegistry_ReleaseAllowsReacquire(t *testing.T) {
	reg := lease.NewRegistry()
	ctx := context.Background()

	acquired, err := reg.TryWithLock(ctx, "push", func(context.Context) error { return nil })
	require.NoError(t, err)
	require.True(t, acquired)
	require.False(t, reg.Held("push"))

	acquired, err = reg.TryWithLock(ctx, "push", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRegistry_PanickingHolderReleases(t *testing.T) {
	reg := lease.NewRegistry()
	ctx := context.Background()

	func() {
		defer func() { _ = recover() }()
		_, _ = reg.TryWithLock(ctx, "push", func(context.Context) error {
			panic("context crashed")
		})
	}()

	require.False(t, reg.Held("push"), "a crashed holder must not keep the lock")

	acquired, err := reg.TryWithLock(ctx, "push", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRegistry_AtMostOneHolder(t *testing.T) {
	reg := lease.NewRegistry()
	ctx := context.Background()

	var concurrent atomic.Int32
	var peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, _ = reg.TryWithLock(ctx, "push", func(context.Context) error {
					n := concurrent.Add(1)
					for {
						old := peak.Load()
						if n <= old || peak.CompareAndSwap(old, n) {
							break
						}
					}
					time.Sleep(time.Microsecond)
					concurrent.Add(-1)
					return nil
				})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load(), "at most one work function may run at any instant")
}

func TestRegistry_IndependentNames(t *testing.T) {
	reg := lease.NewRegistry()
	ctx := context.Background()

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = reg.TryWithLock(ctx, "a", func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()

	<-holding
	acquired, err := reg.TryWithLock(ctx, "b", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, acquired, "different names must not contend")
	close(release)
}
