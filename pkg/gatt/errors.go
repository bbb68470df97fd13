package gatt

import "fmt"

// ConnectionError is returned when a device is never observed or cannot be linked.
type ConnectionError struct {
	Device string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to device %s: %v", e.Device, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DiscoveryError is returned when the expected service or characteristic is absent.
type DiscoveryError struct {
	Device string
	What   string
	UUID   string
	Err    error
}

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to find %s %s on %s: %v", e.What, e.UUID, e.Device, e.Err)
	}
	return fmt.Sprintf("failed to find %s %s on %s", e.What, e.UUID, e.Device)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// WriteError is returned when a GATT write fails.
type WriteError struct {
	Device string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write to device %s: %v", e.Device, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
