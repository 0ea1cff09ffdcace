//go:build !windows

package scheduler

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// FileLock is a non-blocking flock(2) lock shared by every relay process
// on the host. The file stays in place after Unlock so a waiter never
// locks an unlinked inode.
type FileLock struct {
	path string
	held *os.File
}

func NewFileLock(path string) *FileLock { return &FileLock{path: path} }

func (l *FileLock) Path() string { return l.path }

// TryLock reports false without error when another holder has the lock.
func (l *FileLock) TryLock() (bool, error) {
	if l.held != nil {
		return false, fmt.Errorf("lock %s already held", l.path)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return false, err
	}
	switch err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); {
	case err == nil:
	case errors.Is(err, syscall.EWOULDBLOCK):
		f.Close()
		return false, nil
	default:
		f.Close()
		return false, fmt.Errorf("flock %s: %w", l.path, err)
	}
	if err := writeOwner(f, time.Now()); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return false, fmt.Errorf("record lock owner: %w", err)
	}
	l.held = f
	return true, nil
}

func (l *FileLock) Unlock() error {
	f := l.held
	if f == nil {
		return nil
	}
	l.held = nil
	_ = f.Truncate(0)
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
