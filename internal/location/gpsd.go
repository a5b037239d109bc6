package location

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/stratoberry/go-gpsd"
)

// gpsdConn is the part of a gpsd session the provider drives.
type gpsdConn interface {
	AddFilter(class string, f gpsd.Filter)
	Watch() chan bool
	Close() error
}

// Gpsd reads fixes from a gpsd daemon. The connection is opened on first
// use and reopened after gpsd goes away. Watch delivers the latest fix on
// each tick; ticks before the receiver has a 2D fix are skipped.
type Gpsd struct {
	addr string
	dial func(addr string) (gpsdConn, error)
	now  func() time.Time

	mu      sync.Mutex
	conn    gpsdConn
	fix     Fix
	hasFix  bool
	fixed   chan struct{} // closed on the first fix of a connection
	version uint64        // bumped per connection
}

// NewGpsd returns a provider for the gpsd at addr ("host:port").
func NewGpsd(addr string) *Gpsd {
	return &Gpsd{
		addr: addr,
		dial: dialGpsd,
		now:  time.Now,
	}
}

func dialGpsd(addr string) (gpsdConn, error) {
	s, err := gpsd.Dial(addr)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// connect dials gpsd if no connection is open.
func (g *Gpsd) connect() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn != nil {
		return nil
	}

	conn, err := g.dial(g.addr)
	if err != nil {
		return fmt.Errorf("location: dial gpsd %s: %w", g.addr, err)
	}
	g.version++
	version := g.version
	g.conn = conn
	g.hasFix = false
	g.fixed = make(chan struct{})

	conn.AddFilter("TPV", func(r interface{}) { g.onTPV(version, r) })
	done := conn.Watch()
	go func() {
		<-done
		g.lost(version)
	}()
	slog.Info("[LOCATION] connected to gpsd", "addr", g.addr)
	return nil
}

func (g *Gpsd) onTPV(version uint64, r interface{}) {
	tpv, ok := r.(*gpsd.TPVReport)
	if !ok || tpv.Mode < gpsd.Mode2D {
		return
	}
	f := Fix{
		Latitude:  tpv.Lat,
		Longitude: tpv.Lon,
		Accuracy:  horizontalError(tpv),
		Speed:     tpv.Speed,
		Time:      g.now(),
	}
	if tpv.Mode >= gpsd.Mode3D {
		f.Altitude = tpv.Alt
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if version != g.version {
		return
	}
	g.fix = f
	if !g.hasFix {
		g.hasFix = true
		close(g.fixed)
	}
}

// horizontalError is the larger of the two axis error estimates, in
// meters.
func horizontalError(tpv *gpsd.TPVReport) float64 {
	return math.Max(tpv.Epx, tpv.Epy)
}

func (g *Gpsd) lost(version uint64) {
	g.mu.Lock()
	if version != g.version || g.conn == nil {
		g.mu.Unlock()
		return
	}
	conn := g.conn
	g.conn = nil
	g.version++
	conn.Close()
	g.hasFix = false
	g.mu.Unlock()

	slog.Warn("[LOCATION] gpsd connection lost", "addr", g.addr)
}

// RequestForegroundPermission always grants: gpsd has no permission model.
func (g *Gpsd) RequestForegroundPermission(_ context.Context) (bool, error) { return true, nil }

// ServicesEnabled reports whether gpsd is reachable.
func (g *Gpsd) ServicesEnabled(_ context.Context) (bool, error) {
	if err := g.connect(); err != nil {
		slog.Warn("[LOCATION] gpsd unavailable", "error", err)
		return false, nil
	}
	return true, nil
}

// CurrentFix waits for the receiver's first fix on this connection.
func (g *Gpsd) CurrentFix(ctx context.Context) (Fix, error) {
	if err := g.connect(); err != nil {
		return Fix{}, fmt.Errorf("%w: %v", ErrServicesDisabled, err)
	}
	g.mu.Lock()
	fixed := g.fixed
	g.mu.Unlock()

	select {
	case <-fixed:
	case <-ctx.Done():
		return Fix{}, fmt.Errorf("location: waiting for gps fix: %w", ctx.Err())
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fix, nil
}

func (g *Gpsd) latest() (Fix, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fix, g.hasFix
}

func (g *Gpsd) Watch(opts WatchOptions, onUpdate func(Fix)) (Subscription, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("location: watch interval must be positive, got %s", opts.Interval)
	}
	if err := g.connect(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServicesDisabled, err)
	}
	var last *Fix
	return startTicker(opts.Interval, func() {
		if err := g.connect(); err != nil {
			return
		}
		f, ok := g.latest()
		if !ok {
			return
		}
		if last != nil && opts.DistanceFilter > 0 && Distance(*last, f) < opts.DistanceFilter {
			return
		}
		last = &f
		onUpdate(f)
	}), nil
}

// Close drops the gpsd connection.
func (g *Gpsd) Close() error {
	g.mu.Lock()
	conn := g.conn
	g.conn = nil
	g.version++
	g.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

var _ Provider = (*Gpsd)(nil)
