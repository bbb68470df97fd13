// Package gatt manages GATT connections to BLE peripherals on behalf of device
// sessions: one cached link per device, discovery of the control characteristic,
// and notification subscriptions.
package gatt

import "context"

// Advertisement is a single observation made while scanning.
type Advertisement struct {
	Address string
	Name    string
	RSSI    int
}

// Adapter is the host BLE radio.
type Adapter interface {
	// Enable powers up the radio. It is safe to call more than once.
	Enable() error

	// Scan reports advertisements that carry the given 16-bit service id until
	// ctx is done. A zero service id reports everything.
	Scan(ctx context.Context, service uint16, found func(Advertisement)) error

	// WaitDevice blocks until the peripheral with the given address has been
	// observed, or ctx is done.
	WaitDevice(ctx context.Context, address string) (Peripheral, error)

	// Close releases the radio. Nothing may be used after Close.
	Close() error
}

// Peripheral is a remote device known to the adapter.
type Peripheral interface {
	Address() string
	// Name returns the device-reported name.
	Name() (string, error)
	// Connected reports whether the underlying link is up.
	Connected() bool
	Connect() error
	// GATT returns the remote GATT server of a connected peripheral.
	GATT() (Server, error)
	Disconnect() error
}

// Server is the remote GATT server.
type Server interface {
	// Services lists the long UUIDs of all primary services.
	Services() ([]string, error)
	Service(uuid string) (Service, error)
}

// Service is a remote primary service.
type Service interface {
	// Characteristics lists the long UUIDs of the service's characteristics.
	Characteristics() ([]string, error)
	Characteristic(uuid string) (Characteristic, error)
}

// Characteristic is a remote characteristic supporting write, read and notify.
type Characteristic interface {
	UUID() string
	Write(p []byte) error
	Read() ([]byte, error)
	// StartNotifications delivers every notification to fn, replacing any
	// previously registered callback.
	StartNotifications(fn func([]byte)) error
	StopNotifications() error
}
