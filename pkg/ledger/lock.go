package ledger

import (
	"fmt"
	"os"
	"time"
)

// DefaultLockTimeout bounds how long an appender waits for a contended ledger.
const DefaultLockTimeout = 300 * time.Second

// FileLock is an advisory lock implemented with an O_EXCL lockfile and
// exponential-backoff polling. The lockfile approach works on every
// filesystem the pipeline targets, including those without flock semantics;
// the holder's pid is written into the file for post-mortems.
type FileLock struct {
	path string
	held bool
}

// NewFileLock creates a lock on the given .lock path (conventionally the
// ledger path plus ".lock").
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Acquire takes the lock, polling with exponential backoff up to timeout.
func (l *FileLock) Acquire(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	backoff := 10 * time.Millisecond
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			l.held = true
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create lockfile %s: %w", l.path, err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out acquiring lock %s after %s", l.path, timeout)
		}
		time.Sleep(backoff)
		if backoff < time.Second {
			backoff *= 2
		}
	}
}

// TryAcquire takes the lock without blocking. Returns false if held elsewhere.
func (l *FileLock) TryAcquire() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create lockfile %s: %w", l.path, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()
	l.held = true
	return true, nil
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *FileLock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	return os.Remove(l.path)
}
