//go:build windows

package storage

import (
	"errors"
	"os"
	"time"
)

// FileLock is an exclusive lock file (path + ".lock") created with O_EXCL.
// A crashed process leaves the file behind; delete it by hand to recover.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a file lock. The lock is not acquired until Lock() is called.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path + ".lock"}
}

// Lock creates the lock file, polling until timeout.
func (l *FileLock) Lock(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
		if err == nil {
			l.file = f
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return &StorageError{Op: "lock", Entity: "file", ID: l.path, Err: err}
		}
		if !time.Now().Before(deadline) {
			return &StorageError{Op: "lock", Entity: "file", ID: l.path, Err: ErrLockTimeout}
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Unlock removes the lock file.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	l.file.Close()
	l.file = nil
	return os.Remove(l.path)
}
