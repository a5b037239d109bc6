// Package session runs the sampling state machine: it owns the live sensor
// link, overlays the location stream on it, and writes one joined record
// per location update.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/questsci/questlog/internal/ble"
	"github.com/questsci/questlog/internal/location"
	"github.com/questsci/questlog/internal/store"
)

// Connector establishes a live link to the paired sensor.
type Connector interface {
	Connect(ctx context.Context) (ble.ConnectResult, error)
}

// PairResolver captures a new sensor identity.
type PairResolver interface {
	Pair(ctx context.Context) (string, error)
}

// Records is the store handle used by the session.
type Records interface {
	Insert(ctx context.Context, r store.Record) error
	DeleteAll(ctx context.Context) (int64, error)
}

// StoreCache is the shared lazily opened store handle.
type StoreCache interface {
	Open(ctx context.Context) (Records, error)
	// Current returns nil when no handle is open.
	Current() Records
	Invalidate()
}

// CacheStore adapts a *store.Cache to StoreCache.
func CacheStore(c *store.Cache) StoreCache { return cacheAdapter{c} }

type cacheAdapter struct{ c *store.Cache }

func (a cacheAdapter) Open(ctx context.Context) (Records, error) {
	db, err := a.c.Open(ctx)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func (a cacheAdapter) Current() Records {
	if db := a.c.Current(); db != nil {
		return db
	}
	return nil
}

func (a cacheAdapter) Invalidate() { a.c.Invalidate() }

// SamplingGuard marks the one process that samples into a store, so other
// processes sharing it can refuse destructive work.
type SamplingGuard interface {
	// Acquire fails when another holder is sampling.
	Acquire() error
	Release() error
	// Held reports whether any holder, this one included, is sampling.
	Held() (bool, error)
}

type noGuard struct{}

func (noGuard) Acquire() error      { return nil }
func (noGuard) Release() error      { return nil }
func (noGuard) Held() (bool, error) { return false, nil }

// Deps are the collaborators of a Session.
type Deps struct {
	Connector Connector
	Pairer    PairResolver
	Location  location.Provider
	Bluetooth BluetoothPermission
	Store     StoreCache
	Notices   NoticeSink
	Guard     SamplingGuard // optional
}

// Options tunes session timing.
type Options struct {
	SettleDelay    time.Duration // pause between connect and first location watch
	SampleInterval time.Duration // location watch interval
	DedupWindow    time.Duration // events closer than this to the last write are dropped
	AckDuration    time.Duration // how long the write acknowledgement stays set
	ErrorInterval  time.Duration // minimum gap between error notices
	ReadTimeout    time.Duration // bound on a single characteristic read
	Now            func() time.Time
	Logger         *slog.Logger // defaults to slog.Default()
}

// DefaultOptions returns production timings.
func DefaultOptions() Options {
	return Options{
		SettleDelay:    500 * time.Millisecond,
		SampleInterval: time.Second,
		DedupWindow:    50 * time.Millisecond,
		AckDuration:    500 * time.Millisecond,
		ErrorInterval:  5 * time.Second,
		ReadTimeout:    5 * time.Second,
	}
}

// state is guarded by Session.mu.
type state struct {
	link        *ble.Link
	connected   bool
	scanning    bool
	sampling    bool
	intentional bool
	phase       Phase

	// gen changes on every transition into and out of a session. Callbacks
	// capture it and do nothing once it has moved on.
	gen uint64

	sub            location.Subscription
	cancelSampling context.CancelFunc
	cancelStart    context.CancelFunc

	lastWrite time.Time
	lastKey   int64
	count     int
	lastErr   string
	ack       bool
	ackTimer  *time.Timer
	sessionID string
	guarded   bool         // Guard acquired for this session
	log       *slog.Logger // tagged with sessionID
}

// Session is the sampling engine and the single owner of session state.
type Session struct {
	deps     Deps
	opts     Options
	notifier *Notifier
	hub      hub

	opMu    sync.Mutex // serializes Start, Stop, Pair and ClearAll
	writeMu sync.Mutex // dedup check and insert happen once per event

	mu sync.Mutex
	st state
}

// New creates an idle Session.
func New(deps Deps, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if deps.Bluetooth == nil {
		deps.Bluetooth = GrantAll{}
	}
	if deps.Guard == nil {
		deps.Guard = noGuard{}
	}
	return &Session{
		deps:     deps,
		opts:     opts,
		notifier: NewNotifier(deps.Notices, opts.ErrorInterval, opts.Now),
	}
}

// Subscribe registers an observer. Events are dropped for observers that
// fall behind. cancel closes the channel.
func (s *Session) Subscribe() (events <-chan Event, cancel func()) {
	return s.hub.subscribe()
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID: s.st.sessionID,
		Phase:     s.st.phase,
		Connected: s.st.connected,
		Scanning:  s.st.scanning,
		Sampling:  s.st.sampling,
		Count:     s.st.count,
		LastError: s.st.lastErr,
		Ack:       s.st.ack,
	}
	if s.st.link != nil {
		snap.Sensor = s.st.link.Name
	}
	return snap
}

func (s *Session) emit() {
	s.hub.publish(Event{Snapshot: s.Snapshot()})
}

// notify records error notices as the last error and forwards to the
// throttled sink.
func (s *Session) notify(sev Severity, msg string, d time.Duration) {
	if sev >= SeverityError {
		s.mu.Lock()
		s.st.lastErr = msg
		s.mu.Unlock()
		s.emit()
	}
	s.notifier.Notify(Notice{Severity: sev, Message: msg, Duration: d})
}

func (s *Session) setScanning(on bool) {
	s.mu.Lock()
	s.st.scanning = on
	s.mu.Unlock()
	s.emit()
}

// Start tears down any existing session, connects to the paired sensor
// and begins sampling. Permission denial returns a *PermissionError; a
// missing or unreachable sensor returns ErrNotConnected. Both are also
// reported as notices.
func (s *Session) Start(ctx context.Context) error {
	s.cancelPendingStart()
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	busy := s.st.connected || s.st.phase != PhaseIdle
	s.mu.Unlock()
	if busy {
		s.opts.Logger.Info("[SAMPLER] stopping existing session before start")
		s.stopLocked()
	}

	if err := s.checkLocation(ctx, false); err != nil {
		return err
	}
	if err := s.checkBluetooth(ctx); err != nil {
		return err
	}
	if err := s.checkElsewhere(); err != nil {
		return err
	}

	if _, err := s.deps.Store.Open(ctx); err != nil {
		s.notify(SeverityCritical, "Could not open database", 10*time.Second)
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.st.cancelStart = cancel
	s.st.lastErr = ""
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.st.cancelStart = nil
		s.mu.Unlock()
	}()

	s.setScanning(true)
	res, err := s.deps.Connector.Connect(ctx)
	s.setScanning(false)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.notify(SeverityError, "Bluetooth error: "+err.Error(), 5*time.Second)
		return err
	}
	if !res.Connected || res.Link == nil || res.Link.Characteristic == nil {
		s.notify(SeverityError, "Sensor not found or failed to connect", 5*time.Second)
		return ErrNotConnected
	}

	gen := s.adopt(res.Link)
	s.logger().Info("[SAMPLER] connected", "sensor", res.Link.Name)

	if s.opts.SettleDelay > 0 {
		t := time.NewTimer(s.opts.SettleDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			s.stopLocked()
			return ctx.Err()
		}
	}
	if !s.current(gen) {
		// The link dropped while settling.
		return ErrNotConnected
	}
	if err := s.beginSampling(ctx, gen); err != nil {
		s.releaseLink()
		return err
	}
	return nil
}

// adopt takes ownership of a freshly connected link and enters Starting.
func (s *Session) adopt(link *ble.Link) uint64 {
	s.mu.Lock()
	s.st.link = link
	s.st.connected = true
	s.st.intentional = false
	s.st.phase = PhaseStarting
	s.st.gen++
	gen := s.st.gen
	s.st.sessionID = uuid.NewString()
	s.st.log = s.opts.Logger.With("session", s.st.sessionID)
	s.st.count = 0
	s.mu.Unlock()

	link.Device.OnDisconnect(func() { s.handleDisconnect(link) })
	s.emit()
	return gen
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.gen == gen
}

func (s *Session) cancelPendingStart() {
	s.mu.Lock()
	cancel := s.st.cancelStart
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop ends sampling and drops the sensor link. It is safe to call in any
// state and any number of times.
func (s *Session) Stop() {
	s.cancelPendingStart()
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stopLocked()
}

func (s *Session) stopLocked() {
	s.mu.Lock()
	s.st.intentional = true
	s.st.scanning = false
	s.mu.Unlock()

	wasSampling := s.teardown("stopped")
	link := s.releaseLink()
	if wasSampling || link != nil {
		s.emit()
		s.notify(SeverityInfo, "Sampling stopped", 2*time.Second)
	}
}

// releaseLink takes the link out of state and disconnects it, best effort.
func (s *Session) releaseLink() *ble.Link {
	s.mu.Lock()
	link := s.st.link
	s.st.link = nil
	s.st.connected = false
	s.st.intentional = false
	s.mu.Unlock()

	if link != nil && link.Device.IsConnected() {
		if err := link.Device.CancelConnection(); err != nil {
			s.logger().Warn("[SAMPLER] disconnect failed", "sensor", link.Name, "error", err)
		} else {
			s.logger().Info("[SAMPLER] disconnected", "sensor", link.Name)
		}
	}
	return link
}

// handleDisconnect runs when the radio reports the link dropped. Links
// released by Stop are no longer current and are ignored.
func (s *Session) handleDisconnect(link *ble.Link) {
	s.mu.Lock()
	if s.st.link != link || s.st.intentional {
		s.mu.Unlock()
		return
	}
	s.st.link = nil
	s.st.connected = false
	s.st.scanning = false
	s.mu.Unlock()

	s.logger().Warn("[SAMPLER] sensor disconnected unexpectedly", "sensor", link.Name)
	s.teardown("device disconnected")
	s.emit()
	s.notify(SeverityError, "Sensor disconnected", 5*time.Second)
}

// Pair checks permissions, ends any live session and captures a new
// sensor identity.
func (s *Session) Pair(ctx context.Context) (string, error) {
	if err := s.checkLocation(ctx, true); err != nil {
		return "", err
	}
	if err := s.checkBluetooth(ctx); err != nil {
		return "", err
	}

	s.cancelPendingStart()
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	busy := s.st.connected || s.st.phase != PhaseIdle
	s.mu.Unlock()
	if busy {
		s.stopLocked()
	}
	if err := s.checkElsewhere(); err != nil {
		return "", err
	}

	s.setScanning(true)
	name, err := s.deps.Pairer.Pair(ctx)
	s.setScanning(false)
	if err != nil {
		if errors.Is(err, ble.ErrPairingNotFound) {
			s.notify(SeverityWarning, "No sensor found. Make sure it is on and nearby.", 5*time.Second)
		} else {
			s.notify(SeverityError, "Pairing failed: "+err.Error(), 5*time.Second)
		}
		return "", err
	}
	s.notify(SeverityInfo, "Paired with "+name, 3*time.Second)
	return name, nil
}

// ClearAll deletes every stored record. It is refused while sampling.
func (s *Session) ClearAll(ctx context.Context) (int64, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	active := s.st.phase != PhaseIdle
	s.mu.Unlock()
	if active {
		s.notify(SeverityWarning, "Stop sampling before clearing data", 3*time.Second)
		return 0, ErrSamplingActive
	}
	if err := s.checkElsewhere(); err != nil {
		return 0, err
	}

	db, err := s.deps.Store.Open(ctx)
	if err != nil {
		s.notify(SeverityError, "Database not available", 5*time.Second)
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	n, err := db.DeleteAll(ctx)
	if err != nil {
		s.deps.Store.Invalidate()
		s.notify(SeverityError, "Could not clear data", 5*time.Second)
		return 0, err
	}

	s.mu.Lock()
	s.st.count = 0
	s.mu.Unlock()
	s.emit()
	s.notify(SeverityInfo, fmt.Sprintf("Deleted %d records", n), 3*time.Second)
	return n, nil
}

// checkLocation verifies foreground location permission and, when
// requireServices is set, that location services are on.
func (s *Session) checkLocation(ctx context.Context, requireServices bool) error {
	ok, err := s.deps.Location.RequestForegroundPermission(ctx)
	if err != nil {
		return fmt.Errorf("session: location permission: %w", err)
	}
	if !ok {
		s.notify(SeverityError, "Location permission is required", 5*time.Second)
		return &PermissionError{Reason: "location"}
	}
	if !requireServices {
		return nil
	}
	on, err := s.deps.Location.ServicesEnabled(ctx)
	if err != nil {
		return fmt.Errorf("session: location services: %w", err)
	}
	if !on {
		s.notify(SeverityError, "Turn on location services", 5*time.Second)
		return &PermissionError{Reason: "location-services"}
	}
	return nil
}

// checkElsewhere refuses work while another process holds the sampling
// guard. The caller must not hold the guard itself.
func (s *Session) checkElsewhere() error {
	held, err := s.deps.Guard.Held()
	if err != nil {
		return fmt.Errorf("session: sampling guard: %w", err)
	}
	if held {
		s.notify(SeverityWarning, "Sampling is running in another questlog process", 5*time.Second)
		return fmt.Errorf("%w in another process", ErrSamplingActive)
	}
	return nil
}

// logger returns the current session's logger.
func (s *Session) logger() *slog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.log != nil {
		return s.st.log
	}
	return s.opts.Logger
}

func (s *Session) checkBluetooth(ctx context.Context) error {
	ok, err := s.deps.Bluetooth.RequestBluetooth(ctx)
	if err != nil {
		return fmt.Errorf("session: bluetooth permission: %w", err)
	}
	if !ok {
		s.notify(SeverityError, "Bluetooth permission is required", 5*time.Second)
		return &PermissionError{Reason: "bluetooth"}
	}
	return nil
}
