// Package lock enforces single-daemon ownership of a session directory
// through an advisory flock on a LOCK file.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// HeldError reports that another process owns the session lock.
type HeldError struct {
	PID  int
	Path string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("session already owned by PID %d (lock at %s)", e.PID, e.Path)
}

// Lock is a held advisory lock on a session directory.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the session lock without blocking. A HeldError carrying the
// owner's PID is returned when the lock is taken elsewhere.
func Acquire(sessionDir string) (*Lock, error) {
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	path := filepath.Join(sessionDir, "LOCK")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(path)
		_ = f.Close()
		return nil, &HeldError{PID: ownerPID(string(data)), Path: path}
	}

	if err := stamp(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{file: f, path: path}, nil
}

// Release drops the lock and removes its file. Safe on a nil receiver and
// after a previous Release.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// stamp records the owning PID and acquisition time for diagnostics.
func stamp(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return err
}

func ownerPID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		if rest, ok := strings.CutPrefix(line, "pid="); ok {
			n, _ := strconv.Atoi(rest)
			return n
		}
	}
	return 0
}
