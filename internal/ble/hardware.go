package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// maxAttributeLen is the largest value a GATT attribute can hold.
const maxAttributeLen = 512

// HardwareAdapter wraps tinygo-org/bluetooth for the host's BLE radio
// (BlueZ on Linux, CoreBluetooth on macOS, WinRT on Windows).
type HardwareAdapter struct {
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error

	// mu protects the peripherals map and the scanning flag.
	mu          sync.Mutex
	peripherals map[string]*hardwarePeripheral // keyed by address string
	scanning    bool
}

// NewHardwareAdapter creates an adapter over the default system radio.
func NewHardwareAdapter() *HardwareAdapter {
	return &HardwareAdapter{
		adapter:     bluetooth.DefaultAdapter,
		peripherals: make(map[string]*hardwarePeripheral),
	}
}

// enable powers the radio on once and installs the adapter-level
// connect/disconnect handler.
func (a *HardwareAdapter) enable() error {
	a.enableOnce.Do(func() {
		if err := a.adapter.Enable(); err != nil {
			a.enableErr = fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
			return
		}
		a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
			if connected {
				return
			}
			a.mu.Lock()
			p, ok := a.peripherals[device.Address.String()]
			a.mu.Unlock()
			if ok {
				p.dropped()
			}
		})
	})
	return a.enableErr
}

func (a *HardwareAdapter) State(_ context.Context) (AdapterState, error) {
	if err := a.enable(); err != nil {
		return StateUnsupported, nil
	}
	return StatePoweredOn, nil
}

// OnStateChange delivers the current state when emitCurrent is set. The
// tinygo stack does not publish later power transitions, so no further
// callbacks occur.
func (a *HardwareAdapter) OnStateChange(callback func(AdapterState), emitCurrent bool) Subscription {
	var mu sync.Mutex
	removed := false
	if emitCurrent {
		go func() {
			state, _ := a.State(context.Background())
			mu.Lock()
			defer mu.Unlock()
			if !removed {
				callback(state)
			}
		}()
	}
	return NewSubscription(func() {
		mu.Lock()
		removed = true
		mu.Unlock()
	})
}

func (a *HardwareAdapter) Scan(callback func(Advertisement, error)) error {
	if err := a.enable(); err != nil {
		return err
	}
	a.mu.Lock()
	if a.scanning {
		a.mu.Unlock()
		return fmt.Errorf("ble: scan already in progress")
	}
	a.scanning = true
	a.mu.Unlock()

	go func() {
		err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			callback(Advertisement{
				ID:         result.Address.String(),
				Name:       result.LocalName(),
				RSSI:       int(result.RSSI),
				Peripheral: a.peripheral(result.Address),
			}, nil)
		})

		a.mu.Lock()
		wasScanning := a.scanning
		a.scanning = false
		a.mu.Unlock()

		// An error after StopScan is the expected way out of the loop.
		if err != nil && wasScanning {
			callback(Advertisement{}, err)
		}
	}()
	return nil
}

func (a *HardwareAdapter) StopScan() error {
	a.mu.Lock()
	if !a.scanning {
		a.mu.Unlock()
		return nil
	}
	a.scanning = false
	a.mu.Unlock()
	return a.adapter.StopScan()
}

// peripheral returns the tracked peripheral for an address, creating it on
// first sight so disconnect notifications can find it.
func (a *HardwareAdapter) peripheral(addr bluetooth.Address) *hardwarePeripheral {
	key := addr.String()
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.peripherals[key]; ok {
		return p
	}
	p := &hardwarePeripheral{adapter: a.adapter, addr: addr}
	a.peripherals[key] = p
	return p
}

// Compile-time check that HardwareAdapter implements Adapter.
var _ Adapter = (*HardwareAdapter)(nil)

type hardwarePeripheral struct {
	adapter *bluetooth.Adapter
	addr    bluetooth.Address

	mu           sync.Mutex
	device       *bluetooth.Device
	services     []bluetooth.DeviceService
	connected    bool
	disconnectCb func()
}

func (p *hardwarePeripheral) Connect(ctx context.Context) error {
	// tinygo's Connect blocks with its own timeout; wrap it so ctx
	// cancellation returns immediately.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := p.adapter.Connect(p.addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			// Drop a connection that completes after we gave up on it.
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return fmt.Errorf("ble: connect to %s: %w", p.addr.String(), ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("ble: connect to %s: %w", p.addr.String(), r.err)
		}
		p.mu.Lock()
		p.device = &r.device
		p.connected = true
		p.services = nil
		p.mu.Unlock()
		return nil
	}
}

func (p *hardwarePeripheral) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *hardwarePeripheral) CancelConnection() error {
	p.mu.Lock()
	dev := p.device
	p.device = nil
	p.connected = false
	p.services = nil
	p.mu.Unlock()
	if dev == nil {
		return nil
	}
	return dev.Disconnect()
}

func (p *hardwarePeripheral) DiscoverServicesAndCharacteristics(ctx context.Context) error {
	p.mu.Lock()
	dev := p.device
	p.mu.Unlock()
	if dev == nil {
		return fmt.Errorf("ble: discover on %s: not connected", p.addr.String())
	}

	type discoverResult struct {
		services []bluetooth.DeviceService
		err      error
	}
	ch := make(chan discoverResult, 1)
	go func() {
		svcs, err := dev.DiscoverServices(nil)
		ch <- discoverResult{svcs, err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("ble: discover services: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("ble: discover services: %w", r.err)
		}
		p.mu.Lock()
		p.services = r.services
		p.mu.Unlock()
		return nil
	}
}

func (p *hardwarePeripheral) Services(_ context.Context) ([]Service, error) {
	p.mu.Lock()
	svcs := p.services
	p.mu.Unlock()

	out := make([]Service, 0, len(svcs))
	for _, svc := range svcs {
		entry := Service{UUID: svc.UUID().String()}
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("ble: discover characteristics: %w", err)
		}
		for _, c := range chars {
			entry.Characteristics = append(entry.Characteristics, c.UUID().String())
		}
		out = append(out, entry)
	}
	return out, nil
}

func (p *hardwarePeripheral) Characteristic(_ context.Context, serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}
	chrUUID, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse characteristic UUID: %w", err)
	}

	p.mu.Lock()
	svcs := p.services
	p.mu.Unlock()

	for _, svc := range svcs {
		if !strings.EqualFold(svc.UUID().String(), svcUUID.String()) {
			continue
		}
		chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{chrUUID})
		if err != nil {
			return nil, fmt.Errorf("ble: discover characteristics: %w", err)
		}
		if len(chars) == 0 {
			break
		}
		return &hardwareCharacteristic{char: chars[0]}, nil
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrCharacteristicNotFound, serviceUUID, charUUID)
}

func (p *hardwarePeripheral) OnDisconnect(cb func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnectCb = cb
}

// dropped handles a link loss reported by the adapter.
func (p *hardwarePeripheral) dropped() {
	p.mu.Lock()
	wasConnected := p.connected
	p.connected = false
	p.device = nil
	p.services = nil
	cb := p.disconnectCb
	p.mu.Unlock()
	if wasConnected && cb != nil {
		slog.Warn("[BLE] peripheral dropped the link", "addr", p.addr.String())
		cb()
	}
}

type hardwareCharacteristic struct {
	mu   sync.Mutex
	char bluetooth.DeviceCharacteristic
}

func (c *hardwareCharacteristic) Read(ctx context.Context) ([]byte, error) {
	type readResult struct {
		data []byte
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		buf := make([]byte, maxAttributeLen)
		n, err := c.char.Read(buf)
		if err != nil {
			ch <- readResult{nil, err}
			return
		}
		ch <- readResult{buf[:n], nil}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ble: read characteristic: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("ble: read characteristic: %w", r.err)
		}
		return r.data, nil
	}
}
