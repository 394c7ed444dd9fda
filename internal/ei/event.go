package ei

import "fmt"

// EventType identifies a decoded event from the server.
type EventType int

const (
	// EventSeatAdded is emitted once a seat has announced all of its
	// capabilities. The seat must be bound before it announces devices.
	EventSeatAdded EventType = iota + 1
	EventSeatRemoved
	// EventDeviceAdded is emitted once a device description is complete.
	EventDeviceAdded
	EventDeviceRemoved
	EventDeviceResumed
	EventDevicePaused
	// EventDisconnected is the last event a client ever produces.
	EventDisconnected
)

var eventNames = map[EventType]string{
	EventSeatAdded:     "seat-added",
	EventSeatRemoved:   "seat-removed",
	EventDeviceAdded:   "device-added",
	EventDeviceRemoved: "device-removed",
	EventDeviceResumed: "device-resumed",
	EventDevicePaused:  "device-paused",
	EventDisconnected:  "disconnected",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Region is a rectangle in the compositor's logical coordinate space that
// accepts absolute pointer motion.
type Region struct {
	X, Y          uint32
	Width, Height uint32
	Scale         float32
}

// Event is one decoded server event. Only the fields relevant to Type are set.
type Event struct {
	Type         EventType
	Seat         uint64
	Device       uint64
	Name         string
	Capabilities Capabilities
	Regions      []Region
	Serial       uint32
	Reason       string
}
