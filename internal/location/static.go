package location

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Static reports a fixed position. Permission and service availability can
// be toggled for testing the denial paths.
type Static struct {
	mu      sync.Mutex
	fix     Fix
	granted bool
	enabled bool
	now     func() time.Time
}

// NewStatic returns a provider that always reports fix.
func NewStatic(fix Fix) *Static {
	return &Static{fix: fix, granted: true, enabled: true, now: time.Now}
}

// SetPermission controls the answer to RequestForegroundPermission.
func (s *Static) SetPermission(granted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted = granted
}

// SetServicesEnabled controls the answer to ServicesEnabled.
func (s *Static) SetServicesEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

func (s *Static) RequestForegroundPermission(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.granted, nil
}

func (s *Static) ServicesEnabled(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled, nil
}

func (s *Static) CurrentFix(_ context.Context) (Fix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return Fix{}, ErrServicesDisabled
	}
	f := s.fix
	f.Time = s.now()
	return f, nil
}

func (s *Static) Watch(opts WatchOptions, onUpdate func(Fix)) (Subscription, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("location: watch interval must be positive, got %s", opts.Interval)
	}
	if _, err := s.CurrentFix(context.Background()); err != nil {
		return nil, err
	}
	var last *Fix
	return startTicker(opts.Interval, func() {
		f, err := s.CurrentFix(context.Background())
		if err != nil {
			return
		}
		if last != nil && opts.DistanceFilter > 0 && Distance(*last, f) < opts.DistanceFilter {
			return
		}
		last = &f
		onUpdate(f)
	}), nil
}

// Distance returns the great-circle distance between two fixes in meters.
func Distance(a, b Fix) float64 {
	const earthRadius = 6371000.0
	lat1, lat2 := a.Latitude*math.Pi/180, b.Latitude*math.Pi/180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}

var _ Provider = (*Static)(nil)
