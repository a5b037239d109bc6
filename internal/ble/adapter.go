// Package ble provides the BLE side of questlog: the radio capability
// contract, a tinygo-backed hardware adapter, a deterministic simulated
// adapter, and the pairing and connection flows that run on top of them.
package ble

import (
	"context"
	"errors"
	"sync"
)

// PairedSensorKey is the identity-store key holding the paired sensor name.
const PairedSensorKey = "pairedSensorName"

var (
	// ErrAdapterUnavailable is returned when the radio is off or unsupported.
	ErrAdapterUnavailable = errors.New("ble: adapter unavailable")
	// ErrPairingNotFound is returned when no matching sensor advertised
	// before the scan timeout.
	ErrPairingNotFound = errors.New("ble: no matching sensor found")
	// ErrCharacteristicNotFound is returned when the sensor does not expose
	// the expected service/characteristic pair.
	ErrCharacteristicNotFound = errors.New("ble: characteristic not found")
)

// AdapterState is the power state of the BLE radio.
type AdapterState int

const (
	StateUnknown AdapterState = iota
	StatePoweredOff
	StatePoweredOn
	StateUnsupported
)

func (s AdapterState) String() string {
	switch s {
	case StatePoweredOff:
		return "PoweredOff"
	case StatePoweredOn:
		return "PoweredOn"
	case StateUnsupported:
		return "Unsupported"
	default:
		return "Unknown"
	}
}

// Subscription is a cancellable registration. Remove is idempotent.
type Subscription interface {
	Remove()
}

// Characteristic is a single readable GATT endpoint.
type Characteristic interface {
	// Read returns the current raw value of the characteristic.
	Read(ctx context.Context) ([]byte, error)
}

// Service is a discovered GATT service and its characteristic UUIDs.
type Service struct {
	UUID            string
	Characteristics []string
}

// Peripheral is a remote device seen during a scan.
type Peripheral interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	CancelConnection() error
	DiscoverServicesAndCharacteristics(ctx context.Context) error
	// Services lists what discovery found. Informational only.
	Services(ctx context.Context) ([]Service, error)
	// Characteristic binds the characteristic identified by the given
	// service and characteristic UUIDs.
	Characteristic(ctx context.Context, serviceUUID, charUUID string) (Characteristic, error)
	// OnDisconnect registers a callback invoked when the link drops.
	OnDisconnect(callback func())
}

// Advertisement is one scan result.
type Advertisement struct {
	ID         string
	Name       string
	RSSI       int
	Peripheral Peripheral
}

// Adapter abstracts the BLE radio so the hardware and simulated backends
// are interchangeable.
type Adapter interface {
	// State reports the current radio power state.
	State(ctx context.Context) (AdapterState, error)
	// OnStateChange registers a power-state callback. With emitCurrent the
	// current state is delivered once right after registration.
	OnStateChange(callback func(AdapterState), emitCurrent bool) Subscription
	// Scan starts an unfiltered scan. The callback receives every
	// advertisement, or a non-nil error when the scan fails. Scan returns
	// once scanning has started; StopScan ends it.
	Scan(callback func(Advertisement, error)) error
	StopScan() error
}

// Link is a live connection with its bound characteristic. The two are
// owned together so a characteristic never outlives its device.
type Link struct {
	Name           string
	Device         Peripheral
	Characteristic Characteristic
}

// funcSubscription adapts a func to Subscription and makes Remove idempotent.
type funcSubscription struct {
	once   sync.Once
	remove func()
}

func (s *funcSubscription) Remove() { s.once.Do(s.remove) }

// NewSubscription wraps remove in an idempotent Subscription.
func NewSubscription(remove func()) Subscription {
	return &funcSubscription{remove: remove}
}
