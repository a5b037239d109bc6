// Package capability resolves the radio and location backends once from
// configuration and wires them into a session.
package capability

import (
	"log/slog"
	"regexp"

	"github.com/questsci/questlog/internal/ble"
	"github.com/questsci/questlog/internal/config"
	"github.com/questsci/questlog/internal/identity"
	"github.com/questsci/questlog/internal/location"
	"github.com/questsci/questlog/internal/runlock"
	"github.com/questsci/questlog/internal/session"
)

// simSeed keeps simulated runs reproducible.
const simSeed = 1

// Set is the resolved pair of capability providers plus the sampling lock
// shared by every process using the same data directory.
type Set struct {
	Adapter   ble.Adapter
	Location  location.Provider
	Bluetooth session.BluetoothPermission
	Guard     *runlock.Lock
	Simulated bool
}

// FromConfig picks hardware or simulated providers. Simulation mode
// replaces both the radio and the location source.
func FromConfig(cfg *config.Config) Set {
	origin := location.Fix{
		Latitude:  cfg.Location.Latitude,
		Longitude: cfg.Location.Longitude,
		Altitude:  cfg.Location.Altitude,
		Accuracy:  cfg.Location.Accuracy,
	}

	set := Set{
		Bluetooth: session.GrantAll{},
		Guard:     runlock.New(cfg.LockPath()),
		Simulated: cfg.Simulation,
	}
	if cfg.Simulation {
		set.Adapter = ble.NewSimulatedAdapter(ble.SimOptions{
			Seed:               simSeed,
			ServiceUUID:        cfg.BLE.ServiceUUID,
			CharacteristicUUID: cfg.BLE.CharacteristicUUID,
		})
		set.Location = location.NewSimulated(origin, simSeed)
		return set
	}

	set.Adapter = ble.NewHardwareAdapter()
	switch cfg.Location.Mode {
	case "simulated":
		set.Location = location.NewSimulated(origin, simSeed)
	case "gpsd":
		set.Location = location.NewGpsd(cfg.Location.GpsdAddress)
	default:
		set.Location = location.NewStatic(origin)
	}
	return set
}

// Supervisor builds the connection supervisor for set.
func (s Set) Supervisor(cfg *config.Config, identity ble.IdentityStore) *ble.Supervisor {
	return ble.NewSupervisor(s.Adapter, identity, ble.SupervisorOptions{
		ScanTimeout:        cfg.BLE.ScanTimeout,
		ServiceUUID:        cfg.BLE.ServiceUUID,
		CharacteristicUUID: cfg.BLE.CharacteristicUUID,
	})
}

// Pairer builds the pairing resolver for set. cfg must be validated.
func (s Set) Pairer(cfg *config.Config, identity ble.IdentityStore) *ble.Pairer {
	return ble.NewPairer(s.Adapter, identity, ble.PairOptions{
		Timeout: cfg.BLE.ScanTimeout,
		Pattern: regexp.MustCompile(cfg.BLE.PairPattern),
	})
}

// SessionOptions maps configuration onto session timings.
func SessionOptions(cfg *config.Config) session.Options {
	opts := session.DefaultOptions()
	opts.SettleDelay = cfg.BLE.SettleDelay
	opts.SampleInterval = cfg.Sampling.Interval
	opts.DedupWindow = cfg.Sampling.DedupWindow
	opts.AckDuration = cfg.Sampling.AckDuration
	opts.ErrorInterval = cfg.Sampling.ErrorInterval
	return opts
}

// NewSession wires a session to set.
func (s Set) NewSession(cfg *config.Config, identity ble.IdentityStore, records session.StoreCache, notices session.NoticeSink) *session.Session {
	return session.New(session.Deps{
		Connector: s.Supervisor(cfg, identity),
		Pairer:    s.Pairer(cfg, identity),
		Location:  s.Location,
		Bluetooth: s.Bluetooth,
		Store:     records,
		Notices:   notices,
		Guard:     s.Guard,
	}, SessionOptions(cfg))
}

// SamplingElsewhere reports whether any process sampling into cfg's data
// directory holds the lock. Errors count as sampling so callers refuse
// rather than race a live writer.
func (s Set) SamplingElsewhere() bool {
	held, err := s.Guard.Held()
	if err != nil {
		slog.Warn("[LOCK] sampling lock check failed", "path", s.Guard.Path(), "error", err)
		return true
	}
	return held
}

// IdentityStore opens the paired-identity store with the configured
// master-key source.
func IdentityStore(cfg *config.Config) *identity.FileStore {
	path := cfg.IdentityPath()
	var keys identity.KeySource
	if cfg.Identity.KeyStore == "file" {
		keys = identity.FileKey{Path: identity.KeyPathFor(path)}
	} else {
		keys = identity.KeyringKey{Service: "questlog", User: path}
	}
	return identity.NewFileStore(path, keys)
}
