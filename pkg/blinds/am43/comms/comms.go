// Package comms provides communication details for AM43 blind motors
package comms

import "github.com/mlsorensen/goam43/pkg/gatt"

// Profile names the short GATT identifiers the AM43 family advertises.
// 0000fe50-0000-1000-8000-00805f9b34fb carries the control characteristic fe51.
var Profile = gatt.Profile{
	Service:        0xfe50,
	Characteristic: 0xfe51,
}

// Frame layout bytes.
const (
	// StartMarker opens every frame, in both directions.
	StartMarker byte = 0x9a
)

// Preamble is sent ahead of the start marker on outgoing commands.
var Preamble = []byte{0x00, 0xff, 0x00, 0x00}

// Command ids.
const (
	CmdSetMove          byte = 0x0a
	CmdSetPosition      byte = 0x0d
	CmdPasscode         byte = 0x17
	CmdSetLimit         byte = 0x22
	CmdChangeName       byte = 0x35
	CmdNotifyPosition   byte = 0xa1
	CmdGetBatteryStatus byte = 0xa2
	CmdGetPosition      byte = 0xa7
	CmdGetLightSensor   byte = 0xaa
)

// Reply acknowledgements.
const (
	Ack  byte = 0x5a
	Nack byte = 0xa5
)

// Offsets into a reply frame. Replies start at the start marker, so the command
// id is at 1 and the first payload byte at 3.
const (
	OffsetCommand        = 1
	OffsetLength         = 2
	OffsetAck            = 3
	OffsetPosition       = 5 // GET_POSITION reply
	OffsetBattery        = 7 // GET_BATTERYSTATUS reply
	OffsetNotifyPosition = 4 // NOTIFY_POSITION push
	OffsetLightLevel     = 4 // GET_LIGHTSENSOR reply
)

// MoveCommand is the SET_MOVE argument.
type MoveCommand byte

const (
	MoveOpen  MoveCommand = 0xdd
	MoveClose MoveCommand = 0xee
	MoveStop  MoveCommand = 0xcc
)

func (m MoveCommand) String() string {
	switch m {
	case MoveOpen:
		return "open"
	case MoveClose:
		return "close"
	case MoveStop:
		return "stop"
	default:
		return "unknown"
	}
}

// LimitEdge selects which end stop is being adjusted.
type LimitEdge byte

const (
	LimitOpened LimitEdge = 0x01
	LimitClosed LimitEdge = 0x02
)

// LimitPhase is the step of a limit adjustment.
type LimitPhase byte

const (
	LimitSet    LimitPhase = 0x00
	LimitSave   LimitPhase = 0x20
	LimitCancel LimitPhase = 0x40
)
