package goam43

import "fmt"

// EventKind identifies what a blind is reporting.
type EventKind int

const (
	EventPosition EventKind = iota
	EventBattery
	EventAuth
	EventPositionSet
	EventTilt
	EventLightLevel
	EventNameChanged
	EventLimitSet
	EventLimitSaved
	EventLimitCancelled
)

var eventNames = map[EventKind]string{
	EventPosition:       "position",
	EventBattery:        "battery",
	EventAuth:           "auth",
	EventPositionSet:    "position-set",
	EventTilt:           "tilt",
	EventLightLevel:     "light-level",
	EventNameChanged:    "name-changed",
	EventLimitSet:       "limit-set",
	EventLimitSaved:     "limit-saved",
	EventLimitCancelled: "limit-cancelled",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is a single report from a blind. Value carries numbers (position,
// battery, tilt, light level); OK carries acknowledgements (auth, position-set).
type Event struct {
	Kind  EventKind
	Value int
	OK    bool
}

func (e Event) String() string {
	switch e.Kind {
	case EventAuth, EventPositionSet:
		return fmt.Sprintf("%s(%t)", e.Kind, e.OK)
	case EventNameChanged, EventLimitSet, EventLimitSaved, EventLimitCancelled:
		return e.Kind.String()
	default:
		return fmt.Sprintf("%s(%d)", e.Kind, e.Value)
	}
}
