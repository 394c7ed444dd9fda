package session

import (
	"time"

	"crossinput/internal/ei"
)

// Response codes carried by a broker Response signal.
const (
	ResponseSuccess   uint32 = 0
	ResponseCancelled uint32 = 1
	ResponseOther     uint32 = 2
)

// Device type bits for SelectDevices.
const (
	DeviceTypeKeyboard uint32 = 1
	DeviceTypePointer  uint32 = 2
)

// Response is the asynchronous answer to one broker request.
type Response struct {
	Code    uint32
	Results map[string]any
}

// Subscription delivers the Response for one request path.
type Subscription interface {
	// Next waits at most timeout for the response. It is one iteration of
	// the bus loop; ok is false when nothing arrived.
	Next(timeout time.Duration) (resp Response, ok bool)
	Close()
}

// Broker is the permission broker as the handshake sees it. Request
// methods return the request object path the broker actually created.
type Broker interface {
	// RequestPath returns the object path the broker will use for a
	// request issued with handle token.
	RequestPath(token string) string
	// SessionPath returns the object path of a session created with token.
	SessionPath(token string) string
	Subscribe(requestPath string) (Subscription, error)

	CreateSession(handleToken, sessionToken string) (string, error)
	SelectDevices(sessionPath, handleToken string, types uint32) (string, error)
	Start(sessionPath, handleToken string) (string, error)
	// ConnectToEIS returns a connected socket owned by the caller.
	ConnectToEIS(sessionPath string) (int, error)
	CloseSession(sessionPath string) error

	Close() error
}

// Channel is the injection channel obtained from the broker.
type Channel interface {
	Poll(timeout time.Duration) (bool, error)
	Dispatch() error
	NextEvent() (ei.Event, bool)
	BindSeat(seat uint64, caps ei.Capabilities) error

	StartEmulating(dev uint64) error
	StopEmulating(dev uint64) error
	Frame(dev uint64, timestamp uint64) error
	PointerMotion(dev uint64, dx, dy float32) error
	PointerMotionAbsolute(dev uint64, x, y float32) error
	Button(dev uint64, button uint32, pressed bool) error
	KeyboardKey(dev uint64, key uint32, pressed bool) error
	Now() uint64

	Close() error
}

// Dialer connects to the broker.
type Dialer func() (Broker, error)

// ChannelFactory turns the descriptor from ConnectToEIS into a Channel. It
// takes ownership of fd, also on error.
type ChannelFactory func(fd int, name string) (Channel, error)

// EIChannel is the ChannelFactory backed by the ei package.
func EIChannel(fd int, name string) (Channel, error) {
	c, err := ei.Connect(fd, name)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Clock is the time source for deadlines.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
