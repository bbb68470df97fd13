package am43

import (
	"github.com/mlsorensen/goam43"
	"github.com/mlsorensen/goam43/pkg/blinds/am43/comms"
)

var notificationEvents = map[comms.Notification]goam43.EventKind{
	comms.NotifyNameChanged:    goam43.EventNameChanged,
	comms.NotifyLimitSet:       goam43.EventLimitSet,
	comms.NotifyLimitSaved:     goam43.EventLimitSaved,
	comms.NotifyLimitCancelled: goam43.EventLimitCancelled,
}

// handleNotification is the callback for all incoming frames. Known whole
// frames are reported first, then the frame is dispatched on its command id.
// Frames too short for their command are dropped.
func (s *Session) handleNotification(data []byte) {
	s.log.Debugf("notification % x", data)

	if n, ok := comms.LookupNotification(data); ok {
		s.emit(goam43.Event{Kind: notificationEvents[n], OK: true})
	}

	if len(data) <= comms.OffsetCommand {
		return
	}
	cmd := data[comms.OffsetCommand]
	at := func(offset int) (byte, bool) {
		if len(data) <= offset {
			s.log.Debugf("short 0x%02x frame: % x", cmd, data)
			return 0, false
		}
		return data[offset], true
	}

	switch cmd {
	case comms.CmdPasscode:
		if b, ok := at(comms.OffsetAck); ok {
			s.emit(goam43.Event{Kind: goam43.EventAuth, OK: b == comms.Ack})
		}

	case comms.CmdGetPosition:
		if b, ok := at(comms.OffsetPosition); ok {
			s.log.Debugf("%s - GET_POSITION %d", s.Name(), b)
			s.updatePosition(int(b))
		}

	case comms.CmdNotifyPosition:
		if b, ok := at(comms.OffsetNotifyPosition); ok {
			s.log.Debugf("%s - NOTIFY_POSITION %d", s.Name(), b)
			s.updatePosition(int(b))
		}

	case comms.CmdGetBatteryStatus:
		if b, ok := at(comms.OffsetBattery); ok {
			s.mu.Lock()
			s.battery = int(b)
			s.mu.Unlock()
			s.emit(goam43.Event{Kind: goam43.EventBattery, Value: int(b)})
		}

	case comms.CmdGetLightSensor:
		if b, ok := at(comms.OffsetLightLevel); ok {
			s.mu.Lock()
			s.light = int(b)
			s.mu.Unlock()
			s.emit(goam43.Event{Kind: goam43.EventLightLevel, Value: int(b)})
		}

	case comms.CmdSetMove:
		if b, ok := at(comms.OffsetAck); ok {
			switch b {
			case comms.Ack:
				s.log.Debugf("%s - set move ACK", s.Name())
			case comms.Nack:
				s.log.Debugf("%s - set move NACK", s.Name())
			}
		}

	case comms.CmdSetPosition:
		if b, ok := at(comms.OffsetAck); ok {
			s.log.Debugf("%s - set position notify received %t", s.Name(), b == comms.Ack)
			s.emit(goam43.Event{Kind: goam43.EventPositionSet, OK: b == comms.Ack})
		}
	}
}

func (s *Session) updatePosition(position int) {
	s.mu.Lock()
	s.position = position
	s.mu.Unlock()
	s.emit(goam43.Event{Kind: goam43.EventPosition, Value: position})
}
