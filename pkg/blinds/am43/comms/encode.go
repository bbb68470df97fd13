package comms

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

// Encode creates an encoded command frame:
// preamble, start marker, command id, payload length, payload, checksum.
func Encode(commandID byte, payload []byte) []byte {
	message := make([]byte, 0, len(Preamble)+len(payload)+4)
	message = append(message, Preamble...)
	message = append(message, StartMarker, commandID, byte(len(payload)))
	message = append(message, payload...)

	return append(message, CalculateChecksum(message))
}

// CalculateChecksum computes the checksum by XORing all bytes in the given slice.
// Over a whole command frame this equals the XOR from the start marker onwards
// inverted, since the preamble XORs to 0xff.
func CalculateChecksum(data []byte) byte {
	var checksum byte = 0
	for _, b := range data {
		checksum ^= b
	}
	return checksum
}

// SplitCommand returns the command id and payload of a frame built by Encode.
func SplitCommand(frame []byte) (byte, []byte, error) {
	head := len(Preamble) + 3
	if len(frame) < head+1 {
		return 0, nil, errors.New("command frame too short")
	}
	if frame[len(Preamble)] != StartMarker {
		return 0, nil, fmt.Errorf("bad start marker 0x%02x", frame[len(Preamble)])
	}
	n := int(frame[head-1])
	if len(frame) != head+n+1 {
		return 0, nil, fmt.Errorf("command frame length mismatch: payload says %d, frame has %d bytes", n, len(frame))
	}
	if sum := CalculateChecksum(frame[:len(frame)-1]); sum != frame[len(frame)-1] {
		return 0, nil, fmt.Errorf("bad checksum 0x%02x, expected 0x%02x", frame[len(frame)-1], sum)
	}
	return frame[head-2], frame[head : head+n], nil
}

// ParsePasscode converts the numeric passcode configured for a motor into the
// two bytes the firmware expects, most significant first.
func ParsePasscode(passcode string) ([]byte, error) {
	v, err := strconv.ParseUint(passcode, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid passcode %q: %w", passcode, err)
	}
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, uint16(v))
	return data, nil
}

// BuildPasscodeCommand creates the authentication command.
func BuildPasscodeCommand(passcode string) ([]byte, error) {
	data, err := ParsePasscode(passcode)
	if err != nil {
		return nil, err
	}
	return Encode(CmdPasscode, data), nil
}

// BuildGetPositionCommand requests a GET_POSITION reply.
func BuildGetPositionCommand() []byte {
	return Encode(CmdGetPosition, []byte{0x01})
}

// BuildGetBatteryStatusCommand requests a GET_BATTERYSTATUS reply.
func BuildGetBatteryStatusCommand() []byte {
	return Encode(CmdGetBatteryStatus, []byte{0x01})
}

// BuildGetLightSensorCommand requests a GET_LIGHTSENSOR reply.
func BuildGetLightSensorCommand() []byte {
	return Encode(CmdGetLightSensor, []byte{0x01})
}

// BuildSetPositionCommand moves the blind to a position, 0 open to 100 closed.
func BuildSetPositionCommand(position uint8) []byte {
	return Encode(CmdSetPosition, []byte{position})
}

// BuildMoveCommand starts or stops continuous movement.
func BuildMoveCommand(m MoveCommand) []byte {
	return Encode(CmdSetMove, []byte{byte(m)})
}

// BuildChangeNameCommand renames the motor. Characters beyond 254 are sent as '?'.
func BuildChangeNameCommand(name string) []byte {
	data := make([]byte, 0, len(name))
	for _, r := range name {
		if r > 254 {
			r = '?'
		}
		data = append(data, byte(r))
	}
	return Encode(CmdChangeName, data)
}

// BuildLimitCommand creates a limit adjustment step. Cancel always carries the
// opened edge; the firmware ignores the edge on cancel.
func BuildLimitCommand(edge LimitEdge, phase LimitPhase) []byte {
	if phase == LimitCancel {
		edge = LimitOpened
	}
	return Encode(CmdSetLimit, []byte{byte(phase), byte(edge), 0x00})
}
