package location

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Simulated walks a seeded random path around an origin, roughly at walking
// pace. Equal seeds give equal paths.
type Simulated struct {
	mu      sync.Mutex
	pos     Fix
	heading float64
	rng     *rand.Rand
	now     func() time.Time
}

// NewSimulated starts a random walk at origin.
func NewSimulated(origin Fix, seed uint64) *Simulated {
	if origin.Accuracy == 0 {
		origin.Accuracy = 5
	}
	rng := rand.New(rand.NewPCG(seed, seed+1))
	return &Simulated{pos: origin, heading: rng.Float64() * 2 * math.Pi, rng: rng, now: time.Now}
}

func (s *Simulated) RequestForegroundPermission(_ context.Context) (bool, error) { return true, nil }

func (s *Simulated) ServicesEnabled(_ context.Context) (bool, error) { return true, nil }

func (s *Simulated) CurrentFix(_ context.Context) (Fix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.pos
	f.Time = s.now()
	return f, nil
}

// step advances the walk by dt and returns the new position.
func (s *Simulated) step(dt time.Duration) Fix {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.heading += (s.rng.Float64() - 0.5) * 0.6
	speed := 1.2 + (s.rng.Float64()-0.5)*0.4 // m/s
	dist := speed * dt.Seconds()

	const metersPerDegree = 111320.0
	s.pos.Latitude += dist * math.Cos(s.heading) / metersPerDegree
	s.pos.Longitude += dist * math.Sin(s.heading) / (metersPerDegree * math.Cos(s.pos.Latitude*math.Pi/180))
	s.pos.Altitude += (s.rng.Float64() - 0.5) * 0.2
	s.pos.Accuracy = 3 + s.rng.Float64()*4
	s.pos.Speed = speed

	f := s.pos
	f.Time = s.now()
	return f
}

func (s *Simulated) Watch(opts WatchOptions, onUpdate func(Fix)) (Subscription, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("location: watch interval must be positive, got %s", opts.Interval)
	}
	return startTicker(opts.Interval, func() {
		onUpdate(s.step(opts.Interval))
	}), nil
}

var _ Provider = (*Simulated)(nil)
