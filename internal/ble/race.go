package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// IdentityStore is the durable key-value store holding the paired identity.
// Get returns "" and a nil error for a missing key.
type IdentityStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// awaitPoweredOn blocks until the adapter reports PoweredOn, the timeout
// elapses, or ctx is done. The state subscription is removed after the
// first PoweredOn event.
func awaitPoweredOn(ctx context.Context, adapter Adapter, timeout time.Duration) error {
	poweredOn := make(chan struct{})
	var once sync.Once
	var sub Subscription
	var subMu sync.Mutex

	subMu.Lock()
	sub = adapter.OnStateChange(func(state AdapterState) {
		slog.Debug("[BLE] adapter state", "state", state)
		if state != StatePoweredOn {
			return
		}
		once.Do(func() {
			close(poweredOn)
			// The callback may run before OnStateChange has returned.
			go func() {
				subMu.Lock()
				defer subMu.Unlock()
				if sub != nil {
					sub.Remove()
				}
			}()
		})
	}, true)
	s := sub
	subMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-poweredOn:
		return nil
	case <-timer.C:
		s.Remove()
		return fmt.Errorf("%w: not powered on after %s", ErrAdapterUnavailable, timeout)
	case <-ctx.Done():
		s.Remove()
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, ctx.Err())
	}
}

// scanRace resolves a scan exactly once. The branches (match, timeout,
// scan error, cancellation) compete through claim; only the winner may
// stop the scan and publish a result, and the losers become no-ops.
type scanRace[T any] struct {
	mu      sync.Mutex
	claimed bool
	timer   *time.Timer

	done chan struct{}
	val  T
	err  error
}

func newScanRace[T any]() *scanRace[T] {
	return &scanRace[T]{done: make(chan struct{})}
}

// arm starts the timeout branch.
func (r *scanRace[T]) arm(timeout time.Duration, onTimeout func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed {
		return
	}
	r.timer = time.AfterFunc(timeout, onTimeout)
}

// claim reports whether the caller won the race. The winner's claim stops
// the timeout timer.
func (r *scanRace[T]) claim() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed {
		return false
	}
	r.claimed = true
	if r.timer != nil {
		r.timer.Stop()
	}
	return true
}

// finish publishes the winner's outcome. Only the claim winner calls it.
func (r *scanRace[T]) finish(val T, err error) {
	r.val, r.err = val, err
	close(r.done)
}

// wait blocks until the race is resolved.
func (r *scanRace[T]) wait() (T, error) {
	<-r.done
	return r.val, r.err
}
