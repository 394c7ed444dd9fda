package ei

import (
	"fmt"
	"strings"
)

// Interface names as announced on the wire.
const (
	ifaceHandshake       = "ei_handshake"
	ifaceConnection      = "ei_connection"
	ifaceCallback        = "ei_callback"
	ifacePingpong        = "ei_pingpong"
	ifaceSeat            = "ei_seat"
	ifaceDevice          = "ei_device"
	ifacePointer         = "ei_pointer"
	ifacePointerAbsolute = "ei_pointer_absolute"
	ifaceScroll          = "ei_scroll"
	ifaceButton          = "ei_button"
	ifaceKeyboard        = "ei_keyboard"
	ifaceTouchscreen     = "ei_touchscreen"
)

// clientVersions lists the highest version of each interface this client
// speaks. Everything is version 1 of the protocol.
var clientVersions = []struct {
	name    string
	version uint32
}{
	{ifaceConnection, 1},
	{ifaceCallback, 1},
	{ifacePingpong, 1},
	{ifaceSeat, 1},
	{ifaceDevice, 1},
	{ifacePointer, 1},
	{ifacePointerAbsolute, 1},
	{ifaceScroll, 1},
	{ifaceButton, 1},
	{ifaceKeyboard, 1},
	{ifaceTouchscreen, 1},
}

const handshakeVersion = 1

// The handshake object always has id 0.
const handshakeObject uint64 = 0

// ei_handshake.context_type values.
const (
	contextReceiver uint32 = 1
	contextSender   uint32 = 2
)

// Request opcodes (client to server).
const (
	reqHandshakeVersion   = 0
	reqHandshakeFinish    = 1
	reqHandshakeContext   = 2
	reqHandshakeName      = 3
	reqHandshakeInterface = 4

	reqConnectionSync       = 0
	reqConnectionDisconnect = 1

	reqPingpongDone = 0

	reqSeatRelease = 0
	reqSeatBind    = 1

	reqDeviceRelease        = 0
	reqDeviceStartEmulating = 1
	reqDeviceStopEmulating  = 2
	reqDeviceFrame          = 3

	reqPointerMotionRelative = 1
	reqPointerMotionAbsolute = 1
	reqButtonButton          = 1
	reqKeyboardKey           = 1
)

// Event opcodes (server to client).
const (
	evHandshakeVersion    = 0
	evHandshakeInterface  = 1
	evHandshakeConnection = 2

	evConnectionDisconnected  = 0
	evConnectionSeat          = 1
	evConnectionInvalidObject = 2
	evConnectionPing          = 3

	evCallbackDone = 0

	evSeatDestroyed  = 0
	evSeatName       = 1
	evSeatCapability = 2
	evSeatDone       = 3
	evSeatDevice     = 4

	evDeviceDestroyed  = 0
	evDeviceName       = 1
	evDeviceType       = 2
	evDeviceDimensions = 3
	evDeviceRegion     = 4
	evDeviceInterface  = 5
	evDeviceDone       = 6
	evDeviceResumed    = 7
	evDevicePaused     = 8

	// Every capability interface starts with destroyed.
	evCapabilityDestroyed = 0
	evKeyboardKeymap      = 1
)

// ei_connection.disconnected reasons.
var disconnectReasons = map[uint32]string{
	0: "disconnected",
	1: "error",
	2: "mode",
	3: "protocol",
	4: "value",
	5: "transport",
}

// Capabilities is a set of device capabilities.
type Capabilities uint32

// Device capabilities.
const (
	CapPointer Capabilities = 1 << iota
	CapPointerAbsolute
	CapScroll
	CapButton
	CapKeyboard
	CapTouch
)

var capabilityInterfaces = []struct {
	cap   Capabilities
	iface string
}{
	{CapPointer, ifacePointer},
	{CapPointerAbsolute, ifacePointerAbsolute},
	{CapScroll, ifaceScroll},
	{CapButton, ifaceButton},
	{CapKeyboard, ifaceKeyboard},
	{CapTouch, ifaceTouchscreen},
}

func capabilityFor(iface string) Capabilities {
	for _, ci := range capabilityInterfaces {
		if ci.iface == iface {
			return ci.cap
		}
	}
	return 0
}

// Has reports whether every capability in want is present.
func (c Capabilities) Has(want Capabilities) bool {
	return c&want == want
}

func (c Capabilities) String() string {
	if c == 0 {
		return "none"
	}
	var names []string
	for _, ci := range capabilityInterfaces {
		if c.Has(ci.cap) {
			names = append(names, ci.iface[len("ei_"):])
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("Capabilities(%#x)", uint32(c))
	}
	return strings.Join(names, "|")
}
