package location

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"
)

var origin = Fix{Latitude: 37.8715, Longitude: -122.2730, Altitude: 52, Accuracy: 5}

func TestStaticCurrentFix(t *testing.T) {
	s := NewStatic(origin)
	f, err := s.CurrentFix(context.Background())
	if err != nil {
		t.Fatalf("CurrentFix() error = %v", err)
	}
	if f.Latitude != origin.Latitude || f.Longitude != origin.Longitude {
		t.Errorf("CurrentFix() = (%v, %v), want (%v, %v)", f.Latitude, f.Longitude, origin.Latitude, origin.Longitude)
	}
	if f.Time.IsZero() {
		t.Error("CurrentFix() should stamp the fix time")
	}
}

func TestStaticToggles(t *testing.T) {
	s := NewStatic(origin)
	s.SetPermission(false)
	s.SetServicesEnabled(false)

	if ok, _ := s.RequestForegroundPermission(context.Background()); ok {
		t.Error("RequestForegroundPermission() = true, want false")
	}
	if ok, _ := s.ServicesEnabled(context.Background()); ok {
		t.Error("ServicesEnabled() = true, want false")
	}
	if _, err := s.CurrentFix(context.Background()); !errors.Is(err, ErrServicesDisabled) {
		t.Errorf("CurrentFix() error = %v, want ErrServicesDisabled", err)
	}
	if _, err := s.Watch(WatchOptions{Interval: time.Millisecond}, func(Fix) {}); !errors.Is(err, ErrServicesDisabled) {
		t.Errorf("Watch() error = %v, want ErrServicesDisabled", err)
	}
}

func TestWatchDeliversUntilRemoved(t *testing.T) {
	providers := map[string]Provider{
		"static":    NewStatic(origin),
		"simulated": NewSimulated(origin, 7),
	}
	for name, p := range providers {
		t.Run(name, func(t *testing.T) {
			var n atomic.Int32
			sub, err := p.Watch(WatchOptions{Interval: 5 * time.Millisecond}, func(Fix) { n.Add(1) })
			if err != nil {
				t.Fatalf("Watch() error = %v", err)
			}
			deadline := time.Now().Add(2 * time.Second)
			for n.Load() < 3 && time.Now().Before(deadline) {
				time.Sleep(2 * time.Millisecond)
			}
			if n.Load() < 3 {
				t.Fatalf("received %d fixes, want at least 3", n.Load())
			}
			sub.Remove()
			sub.Remove()
			time.Sleep(20 * time.Millisecond)
			after := n.Load()
			time.Sleep(30 * time.Millisecond)
			if n.Load() != after {
				t.Errorf("fixes delivered after Remove: %d -> %d", after, n.Load())
			}
		})
	}
}

func TestWatchRejectsZeroInterval(t *testing.T) {
	if _, err := NewSimulated(origin, 1).Watch(WatchOptions{}, func(Fix) {}); err == nil {
		t.Error("Watch() with zero interval should fail")
	}
}

func TestSimulatedWalkIsDeterministic(t *testing.T) {
	a, b := NewSimulated(origin, 99), NewSimulated(origin, 99)
	for i := 0; i < 10; i++ {
		fa, fb := a.step(time.Second), b.step(time.Second)
		if fa.Latitude != fb.Latitude || fa.Longitude != fb.Longitude {
			t.Fatalf("step %d diverged: (%v,%v) vs (%v,%v)", i, fa.Latitude, fa.Longitude, fb.Latitude, fb.Longitude)
		}
	}
}

func TestSimulatedWalkPace(t *testing.T) {
	s := NewSimulated(origin, 3)
	prev, _ := s.CurrentFix(context.Background())
	for i := 0; i < 20; i++ {
		next := s.step(time.Second)
		d := Distance(prev, next)
		if d < 0.5 || d > 2.5 {
			t.Errorf("step %d moved %.2fm, want walking pace", i, d)
		}
		prev = next
	}
}

func TestDistance(t *testing.T) {
	a := Fix{Latitude: 0, Longitude: 0}
	b := Fix{Latitude: 0, Longitude: 1}
	got := Distance(a, b)
	if math.Abs(got-111195) > 100 {
		t.Errorf("Distance() = %.0f, want ~111195", got)
	}
	if d := Distance(a, a); d != 0 {
		t.Errorf("Distance(a, a) = %v, want 0", d)
	}
}
