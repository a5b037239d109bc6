// Package runlock marks the one process that is sampling into a data
// directory. The mark is an advisory lock on a file, so it disappears when
// the holder exits, however it exits.
package runlock

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ErrHeld is returned by Acquire when another holder has the lock.
var ErrHeld = errors.New("runlock: held by another process")

// Lock is an exclusive advisory lock on a file. The holder's PID is
// written into the file for diagnostics.
type Lock struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// New returns an unlocked Lock on path. The file is created on first use.
func New(path string) *Lock {
	return &Lock{path: path}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

func (l *Lock) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("runlock: create dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("runlock: open %s: %w", l.path, err)
	}
	return f, nil
}

// Acquire takes the lock. Acquiring a lock this Lock already holds is a
// no-op.
func (l *Lock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		return nil
	}

	f, err := l.open()
	if err != nil {
		return err
	}
	if err := tryLock(f); err != nil {
		pid := readPID(f)
		f.Close()
		if errors.Is(err, ErrHeld) && pid != "" {
			return fmt.Errorf("%w (pid %s)", ErrHeld, pid)
		}
		return err
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	l.f = f
	slog.Debug("[LOCK] acquired", "path", l.path)
	return nil
}

// Release drops the lock. Releasing an unheld Lock is a no-op. The file is
// left in place; removing it would race with a process that just opened it.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil

	_ = f.Truncate(0)
	err := unlock(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("runlock: release %s: %w", l.path, err)
	}
	slog.Debug("[LOCK] released", "path", l.path)
	return nil
}

// Held reports whether anyone, this Lock included, holds the lock.
func (l *Lock) Held() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		return true, nil
	}

	f, err := l.open()
	if err != nil {
		return false, err
	}
	defer f.Close()
	switch err := tryLock(f); {
	case errors.Is(err, ErrHeld):
		return true, nil
	case err != nil:
		return false, err
	}
	return false, unlock(f)
}

func readPID(f *os.File) string {
	b, err := io.ReadAll(io.NewSectionReader(f, 0, 32))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
