package atomicio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockTimeout is returned when an advisory lock cannot be acquired within
// the bounded wait. Callers may retry the whole operation.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// lockPollInterval is how often a blocked lock acquisition re-tries.
const lockPollInterval = 50 * time.Millisecond

// WriteFile atomically replaces path with data.
//
// The data is written to a sibling temp file in the same directory, flushed
// to stable storage, then renamed over the target. A crashed writer leaves
// either the old file or the new file, never a truncated one. Parent
// directories are created on demand.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op on success: the temp file no longer exists after rename.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := renameOverwrite(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename %s over %s: %w", tmpName, path, err)
	}
	return nil
}

// Lock acquires the advisory file lock at path, waiting up to timeout.
// It returns an unlock function. The lock file itself is left in place;
// removing it would race with other waiters.
func Lock(path string, timeout time.Duration) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fl := flock.New(path)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, lockPollInterval)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, path)
	}
	return func() { _ = fl.Unlock() }, nil
}

// TryLock attempts a non-blocking acquisition of the advisory lock at path.
// It returns (nil, false, nil) when the lock is held elsewhere.
func TryLock(path string) (func(), bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, false, nil
	}
	return func() { _ = fl.Unlock() }, true, nil
}

// Touch creates an empty sentinel file at path, refreshing its mtime when it
// already exists. Marker mtimes are authoritative evidence for the
// consolidator, so a refresh doubles as a heartbeat.
func Touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create marker %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close marker %s: %w", path, err)
	}
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("failed to refresh marker %s: %w", path, err)
	}
	return nil
}
