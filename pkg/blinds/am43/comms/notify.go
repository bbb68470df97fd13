package comms

import "encoding/hex"

// Notification is a named whole-frame confirmation sent by the motor.
type Notification string

const (
	NotifyNameChanged    Notification = "name-change-success"
	NotifyLimitSet       Notification = "limit-set-success"
	NotifyLimitSaved     Notification = "limit-save-success"
	NotifyLimitCancelled Notification = "limit-cancel-success"
)

// notifications maps exact reply frames to their meaning.
var notifications = map[string]Notification{
	"9a35015a31": NotifyNameChanged,
	"9a22015a31": NotifyLimitSet,
	"9a22015b31": NotifyLimitSaved,
	"9a22015c31": NotifyLimitCancelled,
}

// LookupNotification reports whether frame is one of the known confirmation frames.
func LookupNotification(frame []byte) (Notification, bool) {
	n, ok := notifications[hex.EncodeToString(frame)]
	return n, ok
}

// Reply trailers observed on single-byte acknowledgement frames.
const (
	ackTrailer  byte = 0x31
	nackTrailer byte = 0xce
)

// AckReply builds the frame a motor sends to acknowledge or reject a command.
func AckReply(commandID byte, ok bool) []byte {
	if ok {
		return []byte{StartMarker, commandID, 0x01, Ack, ackTrailer}
	}
	return []byte{StartMarker, commandID, 0x01, Nack, nackTrailer}
}

// Reply builds a motor-to-host frame. The trailing byte of real replies is not
// reproduced here; receivers read replies positionally and never verify it.
func Reply(commandID byte, payload ...byte) []byte {
	frame := append([]byte{StartMarker, commandID, byte(len(payload))}, payload...)
	return append(frame, CalculateChecksum(frame))
}

// PositionReply builds a GET_POSITION reply carrying position at OffsetPosition.
func PositionReply(position uint8) []byte {
	return Reply(CmdGetPosition, 0x00, 0x00, position, 0x00, 0x00)
}

// BatteryReply builds a GET_BATTERYSTATUS reply carrying percent at OffsetBattery.
func BatteryReply(percent uint8) []byte {
	return Reply(CmdGetBatteryStatus, 0x00, 0x00, 0x00, 0x00, percent)
}

// NotifyPositionFrame builds the unsolicited position push.
func NotifyPositionFrame(position uint8) []byte {
	return Reply(CmdNotifyPosition, 0x00, position)
}

// LightLevelReply builds a GET_LIGHTSENSOR reply carrying level at OffsetLightLevel.
func LightLevelReply(level uint8) []byte {
	return Reply(CmdGetLightSensor, 0x00, level)
}
