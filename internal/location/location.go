// Package location provides position fixes for sampling: a GPS receiver
// through gpsd, a fixed-position provider for bench work and a seeded
// random walk for simulation.
package location

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrServicesDisabled is returned by CurrentFix and Watch when location
// services are switched off.
var ErrServicesDisabled = errors.New("location: services disabled")

// Accuracy is the requested fix quality.
type Accuracy int

const (
	AccuracyBalanced Accuracy = iota
	AccuracyHigh
)

// Fix is one position sample. Altitude and Accuracy are in meters, Speed in
// meters per second.
type Fix struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
	Accuracy  float64
	Speed     float64
	Time      time.Time
}

// WatchOptions configures a periodic fix stream.
type WatchOptions struct {
	Accuracy       Accuracy
	Interval       time.Duration
	DistanceFilter float64 // meters; 0 delivers every fix
}

// Subscription stops a Watch stream. Remove is idempotent.
type Subscription interface {
	Remove()
}

// Provider is the location capability consumed by the session.
type Provider interface {
	RequestForegroundPermission(ctx context.Context) (bool, error)
	ServicesEnabled(ctx context.Context) (bool, error)
	CurrentFix(ctx context.Context) (Fix, error)
	// Watch delivers fixes on its own goroutine until the subscription is
	// removed. Callbacks are never run concurrently with each other.
	Watch(opts WatchOptions, onUpdate func(Fix)) (Subscription, error)
}

// ticker drives Watch for the built-in providers.
type ticker struct {
	stop chan struct{}
	once sync.Once
}

func startTicker(interval time.Duration, tick func()) *ticker {
	t := &ticker{stop: make(chan struct{})}
	go func() {
		tk := time.NewTicker(interval)
		defer tk.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-tk.C:
				select {
				case <-t.stop:
					return
				default:
				}
				tick()
			}
		}
	}()
	return t
}

// Remove stops the stream. A callback already running is not interrupted.
func (t *ticker) Remove() {
	t.once.Do(func() { close(t.stop) })
}
