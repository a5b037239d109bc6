package capability

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/questsci/questlog/internal/ble"
	"github.com/questsci/questlog/internal/config"
	"github.com/questsci/questlog/internal/export"
	"github.com/questsci/questlog/internal/location"
	"github.com/questsci/questlog/internal/session"
	"github.com/questsci/questlog/internal/store"
)

func TestFromConfigSimulation(t *testing.T) {
	cfg := config.Default()
	cfg.Simulation = true

	set := FromConfig(cfg)
	if _, ok := set.Adapter.(*ble.SimulatedAdapter); !ok {
		t.Errorf("Adapter = %T, want *ble.SimulatedAdapter", set.Adapter)
	}
	if _, ok := set.Location.(*location.Simulated); !ok {
		t.Errorf("Location = %T, want *location.Simulated", set.Location)
	}
	if !set.Simulated {
		t.Error("Simulated = false, want true")
	}
}

func TestFromConfigStaticLocation(t *testing.T) {
	cfg := config.Default()
	cfg.Location.Mode = "static"
	set := FromConfig(cfg) // the radio is only enabled on first use

	if _, ok := set.Adapter.(*ble.HardwareAdapter); !ok {
		t.Errorf("Adapter = %T, want *ble.HardwareAdapter", set.Adapter)
	}
	if _, ok := set.Location.(*location.Static); !ok {
		t.Fatalf("Location = %T, want *location.Static", set.Location)
	}

	fix, err := set.Location.CurrentFix(context.Background())
	if err != nil {
		t.Fatalf("CurrentFix() error = %v", err)
	}
	if fix.Latitude != cfg.Location.Latitude {
		t.Errorf("Latitude = %v, want %v", fix.Latitude, cfg.Location.Latitude)
	}
}

func TestFromConfigGpsd(t *testing.T) {
	cfg := config.Default()
	cfg.Location.Mode = "gpsd"
	set := FromConfig(cfg) // gpsd is only dialed on first use
	if _, ok := set.Location.(*location.Gpsd); !ok {
		t.Errorf("Location = %T, want *location.Gpsd", set.Location)
	}
}

func TestFromConfigGuardPath(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	set := FromConfig(cfg)
	if got := set.Guard.Path(); got != cfg.LockPath() {
		t.Errorf("Guard.Path() = %q, want %q", got, cfg.LockPath())
	}
	if set.SamplingElsewhere() {
		t.Error("SamplingElsewhere() = true with nobody sampling")
	}
}

func TestIdentityStoreFileKey(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Identity.KeyStore = "file"
	s := IdentityStore(cfg)
	if err := s.Set(ble.PairedSensorKey, "quest_100"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, _ := IdentityStore(cfg).Get(ble.PairedSensorKey); got != "quest_100" {
		t.Errorf("Get() = %q, want quest_100", got)
	}
}

func TestSessionOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Sampling.Interval = 2 * time.Second
	cfg.BLE.SettleDelay = time.Second

	opts := SessionOptions(cfg)
	if opts.SampleInterval != 2*time.Second || opts.SettleDelay != time.Second {
		t.Errorf("SessionOptions() = %+v", opts)
	}
	if opts.DedupWindow != 50*time.Millisecond {
		t.Errorf("DedupWindow = %v, want 50ms", opts.DedupWindow)
	}
}

type memIdentity struct {
	mu sync.Mutex
	m  map[string]string
}

func (i *memIdentity) Get(k string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.m[k], nil
}

func (i *memIdentity) Set(k, v string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.m[k] = v
	return nil
}

// TestSimulatedEndToEnd pairs with and samples from the simulated sensor
// into a real SQLite store.
func TestSimulatedEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("runs the simulator in real time")
	}
	cfg := config.Default()
	cfg.Simulation = true
	cfg.DataDir = t.TempDir()
	cfg.BLE.SettleDelay = 10 * time.Millisecond
	cfg.Sampling.Interval = 100 * time.Millisecond

	cache := store.NewCache(filepath.Join(cfg.DataDir, "questlog.db"))
	defer cache.Close()
	identity := &memIdentity{m: map[string]string{}}

	set := FromConfig(cfg)
	s := set.NewSession(cfg, identity, session.CacheStore(cache), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name, err := s.Pair(ctx)
	if err != nil {
		t.Fatalf("Pair() error = %v", err)
	}
	if name != "quest_100" {
		t.Errorf("Pair() = %q, want quest_100", name)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.Snapshot().Count < 3 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	s.Stop()

	db, err := cache.Open(ctx)
	if err != nil {
		t.Fatalf("cache.Open() error = %v", err)
	}
	n, err := db.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n < 3 {
		t.Errorf("stored records = %d, want at least 3", n)
	}
}

func simulatedConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Simulation = true
	cfg.DataDir = t.TempDir()
	cfg.BLE.SettleDelay = 10 * time.Millisecond
	cfg.Sampling.Interval = 100 * time.Millisecond
	return cfg
}

// TestSamplingBlocksOtherProcesses runs one session the way `questlog run`
// does and a second set of handles on the same data directory the way
// `clear`, `export` and `pair` build theirs.
func TestSamplingBlocksOtherProcesses(t *testing.T) {
	if testing.Short() {
		t.Skip("runs the simulator in real time")
	}
	cfg := simulatedConfig(t)
	identity := &memIdentity{m: map[string]string{}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runner := FromConfig(cfg)
	runCache := store.NewCache(cfg.DatabasePath())
	defer runCache.Close()
	run := runner.NewSession(cfg, identity, session.CacheStore(runCache), nil)
	if _, err := run.Pair(ctx); err != nil {
		t.Fatalf("Pair() error = %v", err)
	}
	if err := run.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for run.Snapshot().Count < 3 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if n := run.Snapshot().Count; n < 3 {
		t.Fatalf("samples = %d, want at least 3", n)
	}

	other := FromConfig(cfg)
	otherCache := store.NewCache(cfg.DatabasePath())
	defer otherCache.Close()
	cli := other.NewSession(cfg, identity, session.CacheStore(otherCache), nil)

	if !other.SamplingElsewhere() {
		t.Error("SamplingElsewhere() = false while another session samples")
	}
	if n, err := cli.ClearAll(ctx); !errors.Is(err, session.ErrSamplingActive) || n != 0 {
		t.Errorf("ClearAll() = %d, %v, want 0, ErrSamplingActive", n, err)
	}
	if _, err := cli.Pair(ctx); !errors.Is(err, session.ErrSamplingActive) {
		t.Errorf("Pair() error = %v, want ErrSamplingActive", err)
	}
	if err := cli.Start(ctx); !errors.Is(err, session.ErrSamplingActive) {
		t.Errorf("Start() error = %v, want ErrSamplingActive", err)
	}

	ex := &export.Exporter{
		Open: func(ctx context.Context) (export.Source, error) {
			db, err := otherCache.Open(ctx)
			if err != nil {
				return nil, err
			}
			return db, nil
		},
		Sampling: other.SamplingElsewhere,
		Dir:      t.TempDir(),
		Jobcode:  "campaign",
		Location: time.UTC,
	}
	if _, err := ex.Export(ctx); !errors.Is(err, export.ErrSamplingActive) {
		t.Errorf("Export() error = %v, want ErrSamplingActive", err)
	}

	run.Stop()

	if other.SamplingElsewhere() {
		t.Error("SamplingElsewhere() = true after the session stopped")
	}
	res, err := ex.Export(ctx)
	if err != nil {
		t.Fatalf("Export() after stop error = %v", err)
	}
	if res.Rows < 3 {
		t.Errorf("exported rows = %d, want at least 3", res.Rows)
	}
	n, err := cli.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll() after stop error = %v", err)
	}
	if int(n) != res.Rows {
		t.Errorf("ClearAll() = %d, want %d", n, res.Rows)
	}
}
