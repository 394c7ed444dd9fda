// Package sessiontest provides in-memory brokers, channels and clocks for
// driving a session without a desktop.
package sessiontest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"crossinput/internal/ei"
	"crossinput/internal/session"
)

// Clock is a manual clock. It only moves when Advance is called, which the
// fake broker and channel do whenever they would have blocked.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Broker methods that produce a Response.
const (
	CreateSession = "CreateSession"
	SelectDevices = "SelectDevices"
	Start         = "Start"
	ConnectToEIS  = "ConnectToEIS"
)

// Broker is a scripted permission broker. A request whose method has no
// entry in Responses is never answered.
type Broker struct {
	Clock     *Clock
	Responses map[string]uint32
	Results   map[string]map[string]any
	// DialErr makes the Dialer fail.
	DialErr    error
	ConnectErr error
	FD         int

	mu            sync.Mutex
	calls         []string
	subscriptions map[string]*subscription
	sessionClosed []string
	closed        int
}

// NewBroker returns a broker that approves every request.
func NewBroker(clock *Clock) *Broker {
	return &Broker{
		Clock: clock,
		Responses: map[string]uint32{
			CreateSession: session.ResponseSuccess,
			SelectDevices: session.ResponseSuccess,
			Start:         session.ResponseSuccess,
		},
		FD: 42,
	}
}

// Dialer returns a session.Dialer that hands out b.
func (b *Broker) Dialer() session.Dialer {
	return func() (session.Broker, error) {
		if b.DialErr != nil {
			return nil, b.DialErr
		}
		return b, nil
	}
}

func (b *Broker) RequestPath(token string) string { return "/request/" + token }
func (b *Broker) SessionPath(token string) string { return "/session/" + token }

func (b *Broker) Subscribe(path string) (session.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscriptions == nil {
		b.subscriptions = make(map[string]*subscription)
	}
	sub := &subscription{broker: b, path: path}
	b.subscriptions[path] = sub
	return sub, nil
}

func (b *Broker) respond(method, handle string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, method)
	path := b.RequestPath(handle)
	sub, ok := b.subscriptions[path]
	if !ok {
		return "", fmt.Errorf("%s issued before subscribing to %s", method, path)
	}
	if code, ok := b.Responses[method]; ok {
		sub.resp = &session.Response{Code: code, Results: b.Results[method]}
	}
	return path, nil
}

func (b *Broker) CreateSession(handle, _ string) (string, error) {
	return b.respond(CreateSession, handle)
}

func (b *Broker) SelectDevices(_, handle string, _ uint32) (string, error) {
	return b.respond(SelectDevices, handle)
}

func (b *Broker) Start(_, handle string) (string, error) {
	return b.respond(Start, handle)
}

func (b *Broker) ConnectToEIS(string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, ConnectToEIS)
	if b.ConnectErr != nil {
		return -1, b.ConnectErr
	}
	return b.FD, nil
}

func (b *Broker) CloseSession(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessionClosed = append(b.sessionClosed, path)
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

// Calls lists the broker methods invoked so far.
func (b *Broker) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// SessionsClosed lists the session paths passed to CloseSession.
func (b *Broker) SessionsClosed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sessionClosed...)
}

// Closed returns how often Close was called.
func (b *Broker) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type subscription struct {
	broker *Broker
	path   string
	resp   *session.Response
	closed bool
}

func (s *subscription) Next(timeout time.Duration) (session.Response, bool) {
	s.broker.mu.Lock()
	resp := s.resp
	s.resp = nil
	s.broker.mu.Unlock()
	if resp != nil {
		return *resp, true
	}
	s.broker.Clock.Advance(timeout)
	return session.Response{}, false
}

func (s *subscription) Close() {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	s.closed = true
	delete(s.broker.subscriptions, s.path)
}

// ErrChannelClosed is returned by a Channel after Close.
var ErrChannelClosed = errors.New("sessiontest: channel closed")

// Channel is a scripted injection channel. Every connection made through
// Factory starts by announcing the events given to NewChannel; events added
// with Push are delivered by the next Dispatch. Every emulation request is
// recorded as a short text line.
type Channel struct {
	Clock *Clock
	// FactoryErr makes Factory fail.
	FactoryErr error

	mu      sync.Mutex
	connect []ei.Event
	script  []ei.Event
	events  []ei.Event
	calls   []string
	bound   map[uint64]ei.Capabilities
	fd      int
	open    bool
	closed  int
	now     uint64
	failing error
}

// NewChannel returns a channel that announces events on every connection
// and advances clock while polled.
func NewChannel(clock *Clock, events ...ei.Event) *Channel {
	return &Channel{Clock: clock, connect: events, bound: make(map[uint64]ei.Capabilities), fd: -1}
}

// Factory returns a session.ChannelFactory that hands out c.
func (c *Channel) Factory() session.ChannelFactory {
	return func(fd int, _ string) (session.Channel, error) {
		if c.FactoryErr != nil {
			return nil, c.FactoryErr
		}
		c.mu.Lock()
		c.fd = fd
		c.open = true
		c.script = append([]ei.Event(nil), c.connect...)
		c.events = nil
		c.mu.Unlock()
		return c, nil
	}
}

// Push queues events for the next Dispatch.
func (c *Channel) Push(events ...ei.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, events...)
}

// FailWith makes every later emulation request return err.
func (c *Channel) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing = err
}

func (c *Channel) Poll(timeout time.Duration) (bool, error) {
	c.mu.Lock()
	ready := len(c.script) > 0
	c.mu.Unlock()
	if !ready && timeout > 0 {
		c.Clock.Advance(timeout)
	}
	return ready, nil
}

func (c *Channel) Dispatch() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, c.script...)
	c.script = nil
	return nil
}

func (c *Channel) NextEvent() (ei.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return ei.Event{}, false
	}
	ev := c.events[0]
	c.events = c.events[1:]
	return ev, true
}

func (c *Channel) BindSeat(seat uint64, caps ei.Capabilities) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bound[seat] = caps
	return nil
}

func (c *Channel) record(format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return ErrChannelClosed
	}
	if c.failing != nil {
		return c.failing
	}
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
	return nil
}

func (c *Channel) StartEmulating(dev uint64) error { return c.record("start %d", dev) }
func (c *Channel) StopEmulating(dev uint64) error  { return c.record("stop %d", dev) }
func (c *Channel) Frame(dev uint64, _ uint64) error {
	return c.record("frame %d", dev)
}

func (c *Channel) PointerMotion(dev uint64, dx, dy float32) error {
	return c.record("motion %d %g %g", dev, dx, dy)
}

func (c *Channel) PointerMotionAbsolute(dev uint64, x, y float32) error {
	return c.record("absolute %d %g %g", dev, x, y)
}

func (c *Channel) Button(dev uint64, button uint32, pressed bool) error {
	return c.record("button %d %#x %s", dev, button, state(pressed))
}

func (c *Channel) KeyboardKey(dev uint64, key uint32, pressed bool) error {
	return c.record("key %d %d %s", dev, key, state(pressed))
}

func (c *Channel) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += 1000
	return c.now
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closed++
	return nil
}

// Calls returns the recorded emulation requests.
func (c *Channel) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Reset forgets recorded requests.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

// Bound returns the capabilities a seat was bound with.
func (c *Channel) Bound(seat uint64) (ei.Capabilities, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	caps, ok := c.bound[seat]
	return caps, ok
}

// FD returns the descriptor the factory received.
func (c *Channel) FD() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fd
}

// Closed returns how often Close was called.
func (c *Channel) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func state(pressed bool) string {
	if pressed {
		return "down"
	}
	return "up"
}

// Device ids used by Desktop.
const (
	SeatID     uint64 = 1
	KeyboardID uint64 = 10
	PointerID  uint64 = 11
)

// Screen is the region of the Desktop absolute pointer.
var Screen = ei.Region{Width: 1920, Height: 1080, Scale: 1}

// SeatAdded announces a seat.
func SeatAdded(id uint64, caps ei.Capabilities) ei.Event {
	return ei.Event{Type: ei.EventSeatAdded, Seat: id, Name: "seat0", Capabilities: caps}
}

// DeviceAdded announces a device.
func DeviceAdded(id uint64, name string, caps ei.Capabilities, regions ...ei.Region) ei.Event {
	return ei.Event{Type: ei.EventDeviceAdded, Seat: SeatID, Device: id, Name: name, Capabilities: caps, Regions: regions}
}

func Resumed(id uint64) ei.Event {
	return ei.Event{Type: ei.EventDeviceResumed, Device: id, Serial: 7}
}

func Paused(id uint64) ei.Event {
	return ei.Event{Type: ei.EventDevicePaused, Device: id, Serial: 8}
}

func Removed(id uint64) ei.Event {
	return ei.Event{Type: ei.EventDeviceRemoved, Device: id}
}

func Disconnected(reason string) ei.Event {
	return ei.Event{Type: ei.EventDisconnected, Reason: reason}
}

// Desktop returns the events of a seat with a resumed keyboard and a
// resumed pointer. The pointer is absolute when absolute is set and
// relative otherwise.
func Desktop(absolute bool) []ei.Event {
	pointer := DeviceAdded(PointerID, "virtual pointer", ei.CapPointer|ei.CapButton)
	if absolute {
		pointer = DeviceAdded(PointerID, "virtual pointer", ei.CapPointerAbsolute|ei.CapButton, Screen)
	}
	return []ei.Event{
		SeatAdded(SeatID, ei.CapPointer|ei.CapPointerAbsolute|ei.CapButton|ei.CapKeyboard|ei.CapScroll),
		DeviceAdded(KeyboardID, "virtual keyboard", ei.CapKeyboard),
		pointer,
		Resumed(KeyboardID),
		Resumed(PointerID),
	}
}
