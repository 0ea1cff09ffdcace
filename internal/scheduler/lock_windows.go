//go:build windows

package scheduler

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// FileLock on Windows is the existence of the lock file itself: creating
// it with O_EXCL fails while another process holds the lock.
type FileLock struct {
	path string
	held bool
}

func NewFileLock(path string) *FileLock { return &FileLock{path: path} }

func (l *FileLock) Path() string { return l.path }

func (l *FileLock) TryLock() (bool, error) {
	if l.held {
		return false, fmt.Errorf("lock %s already held", l.path)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	werr := writeOwner(f, time.Now())
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(l.path)
		return false, fmt.Errorf("record lock owner: %w", werr)
	}
	l.held = true
	return true, nil
}

func (l *FileLock) Unlock() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
