package ble

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SupervisorOptions configures the connection supervisor.
type SupervisorOptions struct {
	ScanTimeout        time.Duration // how long to scan for the paired name (default 10s)
	ConnectTimeout     time.Duration // bound on connect + discovery after a match (default 10s)
	ServiceUUID        string
	CharacteristicUUID string
}

// DefaultSupervisorOptions returns production defaults.
func DefaultSupervisorOptions() SupervisorOptions {
	return SupervisorOptions{
		ScanTimeout:    10 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// ConnectResult is the binary outcome of a connection attempt. Link is set
// only when Connected is true.
type ConnectResult struct {
	Connected bool
	Link      *Link
}

// Supervisor finds the previously paired sensor and binds its temperature
// characteristic.
type Supervisor struct {
	adapter  Adapter
	identity IdentityStore
	opts     SupervisorOptions
}

// NewSupervisor creates a Supervisor. Zero option values take defaults.
func NewSupervisor(adapter Adapter, identity IdentityStore, opts SupervisorOptions) *Supervisor {
	def := DefaultSupervisorOptions()
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = def.ScanTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	return &Supervisor{adapter: adapter, identity: identity, opts: opts}
}

// Connect scans for the paired sensor and connects to it. A sensor that is
// missing, or that fails to connect or expose the characteristic, yields
// Connected=false and a nil error. Errors are reserved for adapter faults
// (scan failure, radio never powering on) and context cancellation.
func (s *Supervisor) Connect(ctx context.Context) (ConnectResult, error) {
	name, err := s.identity.Get(PairedSensorKey)
	if err != nil {
		return ConnectResult{}, fmt.Errorf("ble: read paired identity: %w", err)
	}
	if name == "" {
		slog.Warn("[BLE] no paired sensor name stored")
		return ConnectResult{}, nil
	}
	slog.Info("[BLE] looking for paired sensor", "name", name)

	if state, err := s.adapter.State(ctx); err == nil {
		slog.Debug("[BLE] initial adapter state", "state", state)
	}
	if err := awaitPoweredOn(ctx, s.adapter, s.opts.ScanTimeout); err != nil {
		return ConnectResult{}, err
	}

	race := newScanRace[ConnectResult]()
	race.arm(s.opts.ScanTimeout, func() {
		if !race.claim() {
			return
		}
		s.stopScan()
		slog.Warn("[BLE] scan timeout, paired sensor not found", "name", name, "timeout", s.opts.ScanTimeout)
		race.finish(ConnectResult{}, nil)
	})

	err = s.adapter.Scan(func(adv Advertisement, scanErr error) {
		if scanErr != nil {
			if !race.claim() {
				return
			}
			go func() {
				s.stopScan()
				slog.Error("[BLE] scan error", "error", scanErr)
				race.finish(ConnectResult{}, fmt.Errorf("ble: scan: %w", scanErr))
			}()
			return
		}
		if adv.Name == "" {
			slog.Debug("[BLE] found unnamed device", "id", adv.ID)
			return
		}
		slog.Debug("[BLE] found device", "name", adv.Name, "id", adv.ID, "rssi", adv.RSSI)
		if adv.Name != name {
			return
		}
		// Later advertisements of the same device must not start a
		// second attempt while this one is in flight.
		if !race.claim() {
			return
		}
		slog.Info("[BLE] match found", "name", adv.Name)
		go func() {
			s.stopScan()
			race.finish(s.bind(ctx, adv))
		}()
	})
	if err != nil {
		if race.claim() {
			s.stopScan()
			race.finish(ConnectResult{}, fmt.Errorf("ble: start scan: %w", err))
		}
	}

	go func() {
		select {
		case <-ctx.Done():
			if race.claim() {
				s.stopScan()
				race.finish(ConnectResult{}, ctx.Err())
			}
		case <-race.done:
		}
	}()

	return race.wait()
}

// bind connects to a matched advertisement and binds the characteristic.
// Every failure cancels the connection and reports not-connected.
func (s *Supervisor) bind(ctx context.Context, adv Advertisement) (ConnectResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	dev := adv.Peripheral
	fail := func(stage string, err error) (ConnectResult, error) {
		slog.Warn("[BLE] connection failed", "stage", stage, "name", adv.Name, "error", err)
		if cerr := dev.CancelConnection(); cerr != nil {
			slog.Warn("[BLE] cleanup disconnect failed", "error", cerr)
		}
		return ConnectResult{}, nil
	}

	if err := dev.Connect(ctx); err != nil {
		return fail("connect", err)
	}
	if err := dev.DiscoverServicesAndCharacteristics(ctx); err != nil {
		return fail("discover", err)
	}
	logServices(ctx, dev)

	char, err := dev.Characteristic(ctx, s.opts.ServiceUUID, s.opts.CharacteristicUUID)
	if err != nil {
		return fail("characteristic", err)
	}

	slog.Info("[BLE] connected", "name", adv.Name)
	return ConnectResult{
		Connected: true,
		Link:      &Link{Name: adv.Name, Device: dev, Characteristic: char},
	}, nil
}

func (s *Supervisor) stopScan() {
	if err := s.adapter.StopScan(); err != nil {
		slog.Warn("[BLE] stop scan failed", "error", err)
	}
}

// logServices enumerates discovered services for diagnostics.
func logServices(ctx context.Context, dev Peripheral) {
	services, err := dev.Services(ctx)
	if err != nil {
		slog.Debug("[BLE] list services failed", "error", err)
		return
	}
	for _, svc := range services {
		slog.Debug("[BLE] service", "uuid", svc.UUID, "characteristics", svc.Characteristics)
	}
}
