package ble

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"
)

// DefaultPairPattern matches the campaign sensors' advertised names
// ("quest_100", "Quest-7", ...).
const DefaultPairPattern = `(?i)^quest`

// PairOptions configures pairing behavior.
type PairOptions struct {
	Timeout        time.Duration  // how long to scan for a matching sensor
	ConnectTimeout time.Duration  // bound on connect + discovery after a match
	Pattern        *regexp.Regexp // advertised-name filter
}

// DefaultPairOptions returns sensible defaults for production use.
func DefaultPairOptions() PairOptions {
	return PairOptions{
		Timeout:        10 * time.Second,
		ConnectTimeout: 10 * time.Second,
		Pattern:        regexp.MustCompile(DefaultPairPattern),
	}
}

// Pairer captures the identity of a nearby sensor. Pairing does not keep a
// live session: the sensor is connected once to confirm it is reachable,
// its name is persisted, and the connection is dropped again.
type Pairer struct {
	adapter  Adapter
	identity IdentityStore
	opts     PairOptions
}

// NewPairer creates a Pairer. Zero option values take defaults.
func NewPairer(adapter Adapter, identity IdentityStore, opts PairOptions) *Pairer {
	def := DefaultPairOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.Pattern == nil {
		opts.Pattern = def.Pattern
	}
	return &Pairer{adapter: adapter, identity: identity, opts: opts}
}

// Pair scans for the first sensor whose name matches the pattern, persists
// its name as the paired identity and returns it. ErrPairingNotFound is
// returned when nothing matches before the timeout.
func (p *Pairer) Pair(ctx context.Context) (string, error) {
	slog.Info("[BLE] waiting for adapter to power on")
	if err := awaitPoweredOn(ctx, p.adapter, p.opts.Timeout); err != nil {
		return "", err
	}

	race := newScanRace[string]()
	race.arm(p.opts.Timeout, func() {
		if !race.claim() {
			return
		}
		p.stopScan()
		slog.Warn("[BLE] pairing scan timed out", "timeout", p.opts.Timeout)
		race.finish("", fmt.Errorf("%w within %s", ErrPairingNotFound, p.opts.Timeout))
	})

	slog.Info("[BLE] scanning for sensors", "pattern", p.opts.Pattern.String())
	err := p.adapter.Scan(func(adv Advertisement, scanErr error) {
		if scanErr != nil {
			// Transient scan errors are logged; the timeout still bounds
			// the attempt.
			slog.Error("[BLE] scan error", "error", scanErr)
			return
		}
		slog.Debug("[BLE] found device", "name", adv.Name, "id", adv.ID)
		if !p.opts.Pattern.MatchString(adv.Name) {
			return
		}
		if !race.claim() {
			return
		}
		slog.Info("[BLE] matching sensor found", "name", adv.Name)
		go func() {
			p.stopScan()
			race.finish(p.capture(ctx, adv))
		}()
	})
	if err != nil && race.claim() {
		p.stopScan()
		race.finish("", fmt.Errorf("ble: start scan: %w", err))
	}

	go func() {
		select {
		case <-ctx.Done():
			if race.claim() {
				p.stopScan()
				race.finish("", ctx.Err())
			}
		case <-race.done:
		}
	}()

	return race.wait()
}

// capture connects to the matched sensor, records its name, and disconnects.
func (p *Pairer) capture(ctx context.Context, adv Advertisement) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
	defer cancel()

	dev := adv.Peripheral
	if err := dev.Connect(ctx); err != nil {
		return "", fmt.Errorf("ble: connect for pairing: %w", err)
	}
	defer func() {
		if err := dev.CancelConnection(); err != nil {
			slog.Warn("[BLE] disconnect after pairing failed", "error", err)
		}
	}()
	slog.Debug("[BLE] connection confirmed", "connected", dev.IsConnected())

	if err := dev.DiscoverServicesAndCharacteristics(ctx); err != nil {
		return "", fmt.Errorf("ble: discover services: %w", err)
	}
	logServices(ctx, dev)

	if err := p.identity.Set(PairedSensorKey, adv.Name); err != nil {
		return "", fmt.Errorf("ble: save paired identity: %w", err)
	}
	slog.Info("[BLE] sensor paired", "name", adv.Name)
	return adv.Name, nil
}

func (p *Pairer) stopScan() {
	if err := p.adapter.StopScan(); err != nil {
		slog.Warn("[BLE] stop scan failed", "error", err)
	}
}
