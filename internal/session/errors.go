package session

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is wrapped by every *PermissionError.
	ErrPermissionDenied = errors.New("session: permission denied")
	// ErrNotConnected is returned by Start when the paired sensor was not
	// found or the connection attempt failed. A fresh Start may succeed.
	ErrNotConnected = errors.New("session: sensor not found or failed to connect")
	// ErrSamplingActive is returned by operations that must not run while
	// a session is sampling.
	ErrSamplingActive = errors.New("session: sampling in progress")
)

// PermissionError reports which capability was refused.
type PermissionError struct {
	Reason string // "location", "location-services" or "bluetooth"
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("session: permission denied: %s", e.Reason)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// BluetoothPermission is the runtime BLE permission check.
type BluetoothPermission interface {
	RequestBluetooth(ctx context.Context) (bool, error)
}

// GrantAll is a BluetoothPermission for platforms without a runtime prompt.
type GrantAll struct{}

func (GrantAll) RequestBluetooth(context.Context) (bool, error) { return true, nil }
