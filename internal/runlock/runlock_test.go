package runlock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestLockExcludesSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questlog.lock")
	a, b := New(path), New(path)

	if held, err := b.Held(); err != nil || held {
		t.Fatalf("Held() before Acquire = %v, %v, want false, nil", held, err)
	}
	if err := a.Acquire(); err != nil {
		t.Fatalf("a.Acquire() error = %v", err)
	}
	if err := a.Acquire(); err != nil {
		t.Errorf("second a.Acquire() error = %v, want nil", err)
	}

	held, err := b.Held()
	if err != nil || !held {
		t.Errorf("b.Held() = %v, %v, want true, nil", held, err)
	}
	err = b.Acquire()
	if !errors.Is(err, ErrHeld) {
		t.Fatalf("b.Acquire() error = %v, want ErrHeld", err)
	}
	if !strings.Contains(err.Error(), strconv.Itoa(os.Getpid())) {
		t.Errorf("b.Acquire() error = %q, want holder pid", err)
	}

	if err := a.Release(); err != nil {
		t.Fatalf("a.Release() error = %v", err)
	}
	if held, _ := b.Held(); held {
		t.Error("b.Held() after release = true, want false")
	}
	if err := b.Acquire(); err != nil {
		t.Errorf("b.Acquire() after release error = %v", err)
	}
	if err := b.Release(); err != nil {
		t.Errorf("b.Release() error = %v", err)
	}
}

func TestHeldReportsOwnLock(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "sub", "questlog.lock"))
	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer l.Release()
	if held, err := l.Held(); err != nil || !held {
		t.Errorf("Held() = %v, %v, want true, nil", held, err)
	}
}

func TestReleaseUnheld(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "questlog.lock"))
	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v, want nil", err)
	}
}
