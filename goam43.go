package goam43

import (
	"context"
	"math"
)

// Blind is the surface a smart-home bridge drives for one window covering.
// Implementations handle communication with a specific motor family.
type Blind interface {
	// ID returns the device address the blind was configured with.
	ID() string

	// Name returns the display name, the device-reported one once connected.
	Name() string

	// FirstConnect links to the motor, resolves its control characteristic,
	// subscribes to notifications and authenticates when a passcode is configured.
	// A failed authentication is logged and does not fail the connect.
	FirstConnect(ctx context.Context) error

	// SetPosition moves the blind to target, 0 open to 100 closed. It reports
	// whether the motor acknowledged the command in time.
	SetPosition(target int) bool

	// SetTilt turns the slats to angle, -90 to 90, through the linked tilt motor.
	SetTilt(angle int) bool

	// UpdatePosition polls the motor. It returns 0, true without any I/O before
	// the first connect, and false when the motor does not answer in time.
	UpdatePosition() (int, bool)

	// UpdateBatteryStatus polls the battery percentage, with the same
	// semantics as UpdatePosition.
	UpdateBatteryStatus() (int, bool)

	// UpdateTilt polls the tilt motor and converts its position to an angle.
	UpdateTilt() (int, bool)

	// Direction reports where the blind is heading relative to its target.
	Direction() Direction

	// OnEvent registers fn for every event the blind emits. The returned
	// function removes it.
	OnEvent(fn func(Event)) func()

	// Disconnect unsubscribes and tears down the link.
	Disconnect() error

	// Reconnect relinks in the background using the characteristic resolved on
	// first connect. The caller is not told about the outcome.
	Reconnect()
}

// Direction is the movement state reported to the bridge.
type Direction int

const (
	DirectionClose Direction = 0
	DirectionOpen  Direction = 1
	DirectionStop  Direction = 2
)

func (d Direction) String() string {
	switch d {
	case DirectionClose:
		return "close"
	case DirectionOpen:
		return "open"
	case DirectionStop:
		return "stop"
	default:
		return "unknown"
	}
}

// arrivalTolerance is how close position must be to target to count as arrived.
const arrivalTolerance = 2

// DirectionFor derives the direction from the current position and an optional
// target. Positions grow towards closed, so a lower target means opening.
func DirectionFor(position int, target *int) Direction {
	if target == nil {
		return DirectionStop
	}
	diff := position - *target
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff < arrivalTolerance:
		return DirectionStop
	case *target < position:
		return DirectionOpen
	default:
		return DirectionClose
	}
}

// TiltFromPosition converts a tilt motor position (0..100) to a slat angle (-90..90).
func TiltFromPosition(position int) int {
	return int(math.Round(float64(position)/100*180 - 90))
}

// PositionFromTilt converts a slat angle (-90..90) to a tilt motor position (0..100).
func PositionFromTilt(angle int) int {
	return int(math.Round(float64(angle+90) / 180 * 100))
}
