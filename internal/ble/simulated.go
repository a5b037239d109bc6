package ble

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/questsci/questlog/internal/ble/protocol"
)

// SimOptions configures the simulated radio.
type SimOptions struct {
	Name               string        // advertised sensor name (default "quest_100")
	Seed               uint64        // noise seed; equal seeds give equal readings
	AdvertiseInterval  time.Duration // default 800ms
	ServiceUUID        string
	CharacteristicUUID string
	Now                func() time.Time
}

// SimulatedAdapter is a deterministic stand-in for the radio. It always
// reports PoweredOn, advertises a single sensor, and serves temperatures
// from a slow sine wave with drift and seeded noise.
type SimulatedAdapter struct {
	opts   SimOptions
	device *simPeripheral

	mu       sync.Mutex
	scanStop chan struct{}
}

// NewSimulatedAdapter creates a simulated adapter. Zero options take defaults.
func NewSimulatedAdapter(opts SimOptions) *SimulatedAdapter {
	if opts.Name == "" {
		opts.Name = "quest_100"
	}
	if opts.AdvertiseInterval <= 0 {
		opts.AdvertiseInterval = 800 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	wave := newSimWave(opts.Seed, opts.Now())
	return &SimulatedAdapter{
		opts: opts,
		device: &simPeripheral{
			name:     opts.Name,
			svcUUID:  opts.ServiceUUID,
			charUUID: opts.CharacteristicUUID,
			wave:     wave,
			now:      opts.Now,
		},
	}
}

func (a *SimulatedAdapter) State(_ context.Context) (AdapterState, error) {
	return StatePoweredOn, nil
}

func (a *SimulatedAdapter) OnStateChange(callback func(AdapterState), emitCurrent bool) Subscription {
	var mu sync.Mutex
	removed := false
	if emitCurrent {
		go func() {
			mu.Lock()
			defer mu.Unlock()
			if !removed {
				callback(StatePoweredOn)
			}
		}()
	}
	return NewSubscription(func() {
		mu.Lock()
		removed = true
		mu.Unlock()
	})
}

func (a *SimulatedAdapter) Scan(callback func(Advertisement, error)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scanStop != nil {
		return fmt.Errorf("ble: scan already in progress")
	}
	stop := make(chan struct{})
	a.scanStop = stop

	go func() {
		ticker := time.NewTicker(a.opts.AdvertiseInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			default:
			}
			callback(Advertisement{
				ID:         "SIM-" + a.device.name,
				Name:       a.device.name,
				RSSI:       a.device.rssi(),
				Peripheral: a.device,
			}, nil)
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

func (a *SimulatedAdapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scanStop != nil {
		close(a.scanStop)
		a.scanStop = nil
	}
	return nil
}

var _ Adapter = (*SimulatedAdapter)(nil)

type simPeripheral struct {
	name     string
	svcUUID  string
	charUUID string
	wave     *simWave
	now      func() time.Time

	mu           sync.Mutex
	connected    bool
	disconnectCb func()
}

func (p *simPeripheral) Connect(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

func (p *simPeripheral) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *simPeripheral) CancelConnection() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

func (p *simPeripheral) DiscoverServicesAndCharacteristics(_ context.Context) error { return nil }

func (p *simPeripheral) Services(_ context.Context) ([]Service, error) {
	return []Service{{UUID: p.svcUUID, Characteristics: []string{p.charUUID}}}, nil
}

func (p *simPeripheral) Characteristic(_ context.Context, serviceUUID, charUUID string) (Characteristic, error) {
	if serviceUUID != p.svcUUID || charUUID != p.charUUID {
		return nil, fmt.Errorf("%w: %s/%s", ErrCharacteristicNotFound, serviceUUID, charUUID)
	}
	return &simCharacteristic{dev: p}, nil
}

func (p *simPeripheral) OnDisconnect(cb func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnectCb = cb
}

func (p *simPeripheral) rssi() int {
	return -55 + p.wave.jitter(3)
}

type simCharacteristic struct {
	dev *simPeripheral
}

func (c *simCharacteristic) Read(_ context.Context) ([]byte, error) {
	if !c.dev.IsConnected() {
		return nil, fmt.Errorf("ble: read characteristic: %s not connected", c.dev.name)
	}
	return protocol.EncodeTemperature(c.dev.wave.sample(c.dev.now())), nil
}

// simWave models ambient temperature: base + amp*sin(phase) + drift + noise.
type simWave struct {
	base, amp  float64
	period     time.Duration
	noise      float64
	driftPerMs float64
	t0         time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func newSimWave(seed uint64, now time.Time) *simWave {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	period := 5 * time.Minute
	// Start at a seed-dependent point in the cycle.
	offset := time.Duration(rng.Int64N(int64(period)))
	return &simWave{
		base:       24,
		amp:        3.5,
		period:     period,
		noise:      0.25,
		driftPerMs: 0.05 / float64(time.Hour/time.Millisecond),
		t0:         now.Add(-offset),
		rng:        rng,
	}
}

func (w *simWave) sample(t time.Time) float64 {
	elapsed := t.Sub(w.t0)
	phase := 2 * math.Pi * float64(elapsed%w.period) / float64(w.period)
	drift := float64(elapsed.Milliseconds()) * w.driftPerMs
	w.mu.Lock()
	n := (w.rng.Float64() - 0.5) * 2 * w.noise
	w.mu.Unlock()
	return w.base + w.amp*math.Sin(phase) + drift + n
}

func (w *simWave) jitter(span int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rng.IntN(2*span+1) - span
}
