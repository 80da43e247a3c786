package lease_test

import (
	"context"
	"testing"

	"github.com/lorrc/incident-sync/internal/adapters/secondary/lease"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLocker_AcquireAndRelease(t *testing.T) {
	locker, err := lease.NewFileLocker(t.TempDir())
	require.NoError(t, err)

	ran := false
	acquired, err := locker.TryWithLock(context.Background(), "push", func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, ran)

	// Released; a second acquire on the same profile succeeds.
	acquired, err = locker.TryWithLock(context.Background(), "push", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestFileLocker_SeparateProfilesDoNotContend(t *testing.T) {
	a, err := lease.NewFileLocker(t.TempDir())
	require.NoError(t, err)
	b, err := lease.NewFileLocker(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _ = a.TryWithLock(ctx, "push", func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()

	<-holding
	acquired, err := b.TryWithLock(ctx, "push", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, acquired, "locks are scoped to one profile directory")

	close(release)
	<-done
}
