package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Error variables for file locking operations
var (
	// ErrLockTimeout is returned when a lock cannot be acquired within the specified timeout
	ErrLockTimeout = errors.New("lock acquisition timeout")
	// ErrLockHeld is returned when Lock is called on a lock that is already held
	ErrLockHeld = errors.New("lock already held")
	// ErrLockNotHeld is returned when attempting to release a lock that isn't held
	ErrLockNotHeld = errors.New("lock not held")
)

const lockRetryInterval = 50 * time.Millisecond

// FileLock is an advisory lock on <vault>.lock held while a vault is open.
// The kernel releases it if the process dies, so there are no stale locks.
type FileLock struct {
	path     string
	lockFile *os.File
}

// NewFileLock creates a new file lock for the given vault path
func NewFileLock(vaultPath string) *FileLock {
	return &FileLock{path: vaultPath + ".lock"}
}

// Path returns the lock file path.
func (fl *FileLock) Path() string {
	return fl.path
}

// Lock acquires the lock, retrying until timeout elapses.
func (fl *FileLock) Lock(timeout time.Duration) error {
	if fl.lockFile != nil {
		return ErrLockHeld
	}

	if err := os.MkdirAll(filepath.Dir(fl.path), 0o700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err := platformLock(file)
		if err == nil {
			break
		}
		if !isLockContended(err) {
			_ = file.Close()
			return fmt.Errorf("failed to lock %s: %w", fl.path, err)
		}
		if time.Now().After(deadline) {
			_ = file.Close()
			return ErrLockTimeout
		}
		time.Sleep(lockRetryInterval)
	}

	// Record the owner for diagnostics
	_ = file.Truncate(0)
	_, _ = file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)

	fl.lockFile = file
	return nil
}

// Unlock releases the file lock
func (fl *FileLock) Unlock() error {
	if fl.lockFile == nil {
		return ErrLockNotHeld
	}

	// The lock file itself is left in place. Removing it would let a waiter
	// lock an unlinked inode while a newcomer locks a fresh file.
	err := platformUnlock(fl.lockFile)
	if closeErr := fl.lockFile.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	fl.lockFile = nil
	return err
}

// IsLocked returns true if the lock is currently held
func (fl *FileLock) IsLocked() bool {
	return fl.lockFile != nil
}
