package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/questsci/questlog/internal/store"
)

func TestGuardHeldForSamplingOnly(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if held, acquires, _ := h.guard.counts(); !held || acquires != 1 {
		t.Fatalf("guard after Start: held = %v, acquires = %d, want true, 1", held, acquires)
	}

	h.s.Stop()
	h.s.Stop()
	if held, _, releases := h.guard.counts(); held || releases != 1 {
		t.Errorf("guard after Stop: held = %v, releases = %d, want false, 1", held, releases)
	}
}

func TestGuardReleasedOnFault(t *testing.T) {
	h := newHarness(t)
	h.char.readFn = func(int) ([]byte, error) { return nil, errBoom }
	h.start(t)
	h.tick(time.Second)

	if p := h.s.Snapshot().Phase; p != PhaseIdle {
		t.Fatalf("phase after read failure = %v, want idle", p)
	}
	if held, _, releases := h.guard.counts(); held || releases != 1 {
		t.Errorf("guard after fault: held = %v, releases = %d, want false, 1", held, releases)
	}
}

func TestRefusedWhileSamplingElsewhere(t *testing.T) {
	h := newHarness(t)
	h.store.records = []store.Record{{Timestamp: 1}, {Timestamp: 2}}
	h.guard.setElsewhere(true)
	ctx := context.Background()

	if err := h.s.Start(ctx); !errors.Is(err, ErrSamplingActive) {
		t.Errorf("Start() error = %v, want ErrSamplingActive", err)
	}
	if h.conn.calls != 0 {
		t.Errorf("connect calls = %d, want 0", h.conn.calls)
	}

	if n, err := h.s.ClearAll(ctx); !errors.Is(err, ErrSamplingActive) || n != 0 {
		t.Errorf("ClearAll() = %d, %v, want 0, ErrSamplingActive", n, err)
	}
	if got := len(h.store.inserts()); got != 2 {
		t.Errorf("records after refused ClearAll = %d, want 2", got)
	}

	if _, err := h.s.Pair(ctx); !errors.Is(err, ErrSamplingActive) {
		t.Errorf("Pair() error = %v, want ErrSamplingActive", err)
	}
	if h.pairer.calls != 0 {
		t.Errorf("pair calls = %d, want 0", h.pairer.calls)
	}

	h.guard.setElsewhere(false)
	if n, err := h.s.ClearAll(ctx); err != nil || n != 2 {
		t.Errorf("ClearAll() after release = %d, %v, want 2, nil", n, err)
	}
}

// syncBuffer is a bytes.Buffer safe for the handler and the test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSamplerLogsCarrySessionID(t *testing.T) {
	var out syncBuffer
	opts := DefaultOptions()
	opts.Logger = slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := newHarnessWith(t, opts)
	h.start(t)
	h.tick(time.Second)

	id := h.s.Snapshot().SessionID
	if id == "" {
		t.Fatal("SessionID is empty while sampling")
	}
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.Contains(line, "sample written") {
			if !strings.Contains(line, "session="+id) {
				t.Errorf("write log = %q, want session=%s", line, id)
			}
			return
		}
	}
	t.Errorf("no write log in output:\n%s", out.String())
}
