package lease

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/lorrc/incident-sync/internal/core/ports"
)

var _ ports.Locker = (*FileLocker)(nil)

// FileLocker coordinates browsing contexts that run as separate processes
// sharing one profile directory. It is backed by an OS advisory lock, which
// the kernel drops when the holding process exits. That automatic release
// on holder death is what makes the coordination correct; an application
// flag could not survive a crashed holder.
type FileLocker struct {
	dir string
}

// NewFileLocker prepares a locker rooted at the profile directory. An error
// here means the context cannot coordinate at all; callers should fall back
// to degraded mode rather than fail.
func NewFileLocker(profileDir string) (*FileLocker, error) {
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	return &FileLocker{dir: profileDir}, nil
}

// TryWithLock runs fn while holding an advisory lock on a per-name lock
// file. It returns false without running fn when another process holds it.
func (l *FileLocker) TryWithLock(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error) {
	lock := flock.New(filepath.Join(l.dir, name+".lock"))

	acquired, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("try lock %q: %w", name, err)
	}
	if !acquired {
		return false, nil
	}
	defer func() { _ = lock.Unlock() }()

	return true, fn(ctx)
}
