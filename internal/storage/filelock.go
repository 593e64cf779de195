package storage

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const lockPollInterval = 10 * time.Millisecond

// FileLock is an advisory, cross-process lock on a state file. The lock lives
// in a sibling path + ".lock" file that records the holder's PID, so a second
// ytsheets process pointed at the same state dir can say who owns it.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock returns an unacquired lock guarding path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path + ".lock"}
}

// Path returns the lock file location.
func (l *FileLock) Path() string { return l.path }

// Lock acquires the lock, polling until timeout. On timeout it returns a
// StorageError wrapping ErrLockTimeout that names the holder PID when known.
func (l *FileLock) Lock(timeout time.Duration) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return &StorageError{Op: "lock", Entity: "file", ID: l.path, Err: err}
	}

	deadline := time.Now().Add(timeout)
	for {
		ok, err := tryLock(f)
		if err != nil {
			f.Close()
			return &StorageError{Op: "lock", Entity: "file", ID: l.path, Err: err}
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			f.Close()
			cause := ErrLockTimeout
			if pid := l.Holder(); pid > 0 {
				cause = fmt.Errorf("%w: held by pid %d", ErrLockTimeout, pid)
			}
			return &StorageError{Op: "lock", Entity: "file", ID: l.path, Err: cause}
		}
		time.Sleep(lockPollInterval)
	}

	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	l.file = f
	return nil
}

// Holder returns the PID recorded by the current or last holder, or 0.
func (l *FileLock) Holder() int {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// Unlock releases the lock. The lock file is left in place: unlinking it
// would let a waiter lock an orphaned inode while a newcomer locks a new one.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	f.Truncate(0)
	if err := unlock(f); err != nil {
		f.Close()
		return &StorageError{Op: "unlock", Entity: "file", ID: l.path, Err: err}
	}
	return f.Close()
}
