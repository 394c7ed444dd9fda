// Package ei implements the client (sender) side of the EI emulated input
// protocol.
//
// A Client is created from a socket handed out by an EIS implementation,
// usually the RemoteDesktop portal's ConnectToEIS. The client never blocks
// on its own: callers Poll for readiness, Dispatch to read and decode what
// arrived and drain decoded events with NextEvent. Emulation requests are
// written to the socket immediately.
//
// A Client is not safe for concurrent use.
package ei

import (
	"errors"
	"fmt"
	"time"

	"crossinput/internal/logging"
)

var (
	// ErrProtocol reports a malformed or unexpected message from the server.
	ErrProtocol = errors.New("ei: protocol error")
	// ErrDisconnected reports that the server has gone away.
	ErrDisconnected = errors.New("ei: disconnected")
	// ErrClosed reports use of a client after Close.
	ErrClosed = errors.New("ei: client closed")
	// ErrUnknownDevice reports a request for a device the client does not know.
	ErrUnknownDevice = errors.New("ei: unknown device")
	// ErrNoCapability reports a request the device has no interface for.
	ErrNoCapability = errors.New("ei: capability not available on device")

	errWouldBlock = errors.New("ei: would block")
)

// transport moves bytes and file descriptors over the EIS socket.
type transport interface {
	// recv reads whatever is available without blocking. It returns
	// errWouldBlock when nothing is pending and io.EOF on hangup.
	recv(buf []byte) (int, []int, error)
	send(b []byte) error
	poll(timeout time.Duration) (bool, error)
	close() error
}

type seat struct {
	name  string
	masks map[string]uint64
}

type device struct {
	seat    uint64
	name    string
	regions []Region
	ifaces  map[string]uint64
}

func (d *device) capabilities() Capabilities {
	var caps Capabilities
	for iface := range d.ifaces {
		caps |= capabilityFor(iface)
	}
	return caps
}

// Client is an EI sender context bound to one socket.
type Client struct {
	t    transport
	name string
	log  *logging.Logger

	rbuf    []byte
	pending []byte
	fds     []int
	events  []Event

	objects    map[uint64]string
	versions   map[string]uint32
	seats      map[uint64]*seat
	devices    map[uint64]*device
	connection uint64
	lastSerial uint32
	sequence   uint32

	handshakeSent bool
	connected     bool
	disconnected  bool
	closed        bool
}

func newClient(t transport, name string) *Client {
	if name == "" {
		name = "crossinput"
	}
	return &Client{
		t:        t,
		name:     name,
		log:      logging.Default().WithComponent("ei"),
		rbuf:     make([]byte, 4096),
		objects:  map[uint64]string{handshakeObject: ifaceHandshake},
		versions: make(map[string]uint32),
		seats:    make(map[uint64]*seat),
		devices:  make(map[uint64]*device),
	}
}

// Connect wraps fd, a connected EIS socket, in a sender client that
// announces itself as name. The client takes ownership of fd.
//
// The handshake runs asynchronously as part of Dispatch.
func Connect(fd int, name string) (*Client, error) {
	t, err := newFDTransport(fd)
	if err != nil {
		return nil, fmt.Errorf("setup transport: %w", err)
	}
	return newClient(t, name), nil
}

// Connected reports whether the handshake has completed.
func (c *Client) Connected() bool {
	return c.connected && !c.disconnected
}

// Poll waits up to timeout for the socket to become readable.
func (c *Client) Poll(timeout time.Duration) (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	return c.t.poll(timeout)
}

// Dispatch reads everything currently available on the socket and decodes
// it into events.
func (c *Client) Dispatch() error {
	if c.closed {
		return ErrClosed
	}
	if c.disconnected {
		return ErrDisconnected
	}

	var readErr error
	for {
		n, fds, err := c.t.recv(c.rbuf)
		c.fds = append(c.fds, fds...)
		if n > 0 {
			c.pending = append(c.pending, c.rbuf[:n]...)
		}
		if err != nil {
			if !errors.Is(err, errWouldBlock) {
				readErr = err
			}
			break
		}
	}

	msgs, rest, splitErr := splitMessages(c.pending)
	for _, m := range msgs {
		if err := c.handle(m); err != nil {
			c.disconnect("protocol")
			return err
		}
		if c.disconnected {
			return nil
		}
	}
	c.pending = append(c.pending[:0], rest...)

	if splitErr != nil {
		c.disconnect("protocol")
		return splitErr
	}
	if readErr != nil {
		c.disconnect("transport")
		return fmt.Errorf("%w: %v", ErrDisconnected, readErr)
	}
	return nil
}

// NextEvent pops the oldest decoded event.
func (c *Client) NextEvent() (Event, bool) {
	if len(c.events) == 0 {
		return Event{}, false
	}
	ev := c.events[0]
	c.events = c.events[1:]
	return ev, true
}

// Close disconnects from the server and releases the socket. It is safe to
// call more than once.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if c.connected && !c.disconnected {
		_ = c.t.send(newMessage(c.connection, reqConnectionDisconnect).bytes())
	}
	c.closeFDs()
	return c.t.close()
}

func (c *Client) disconnect(reason string) {
	if c.disconnected {
		return
	}
	c.disconnected = true
	c.events = append(c.events, Event{Type: EventDisconnected, Reason: reason, Serial: c.lastSerial})
}

func (c *Client) closeFDs() {
	for _, fd := range c.fds {
		closeFD(fd)
	}
	c.fds = nil
}

func (c *Client) send(e *encoder) error {
	if err := c.t.send(e.bytes()); err != nil {
		c.disconnect("transport")
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

func (c *Client) usable() error {
	switch {
	case c.closed:
		return ErrClosed
	case c.disconnected:
		return ErrDisconnected
	}
	return nil
}

func (c *Client) serial(s uint32) {
	c.lastSerial = s
}

func (c *Client) handle(m message) error {
	iface, ok := c.objects[m.object]
	if !ok {
		// Events may still be in flight for objects we already dropped.
		c.log.Debug("event for unknown object", "object", m.object, "opcode", m.opcode)
		return nil
	}

	d := newDecoder(m.body)
	var err error
	switch iface {
	case ifaceHandshake:
		err = c.handleHandshake(m.opcode, d)
	case ifaceConnection:
		err = c.handleConnection(m.opcode, d)
	case ifaceSeat:
		c.handleSeat(m.object, m.opcode, d)
	case ifaceDevice:
		c.handleDevice(m.object, m.opcode, d)
	case ifaceCallback:
		if m.opcode == evCallbackDone {
			d.uint64()
			delete(c.objects, m.object)
		}
	default:
		c.handleCapability(m.object, iface, m.opcode, d)
	}
	if err != nil {
		return err
	}
	if d.err != nil {
		return fmt.Errorf("%s opcode %d: %w", iface, m.opcode, d.err)
	}
	return nil
}

func (c *Client) handleHandshake(opcode uint32, d *decoder) error {
	switch opcode {
	case evHandshakeVersion:
		version := d.uint32()
		if d.err != nil {
			return d.err
		}
		if c.handshakeSent {
			return fmt.Errorf("%w: duplicate handshake_version", ErrProtocol)
		}
		return c.sendHandshake(min(version, handshakeVersion))
	case evHandshakeInterface:
		name := d.string()
		version := d.uint32()
		c.versions[name] = version
	case evHandshakeConnection:
		serial := d.uint32()
		id := d.uint64()
		d.uint32()
		if d.err != nil {
			return d.err
		}
		c.serial(serial)
		c.connection = id
		c.objects[id] = ifaceConnection
		c.connected = true
		delete(c.objects, handshakeObject)
		c.log.Debug("connected", "connection", id, "serial", serial)
	default:
		return fmt.Errorf("%w: unknown handshake event %d", ErrProtocol, opcode)
	}
	return nil
}

func (c *Client) sendHandshake(version uint32) error {
	c.handshakeSent = true
	if err := c.send(newMessage(handshakeObject, reqHandshakeVersion).uint32(version)); err != nil {
		return err
	}
	if err := c.send(newMessage(handshakeObject, reqHandshakeContext).uint32(contextSender)); err != nil {
		return err
	}
	if err := c.send(newMessage(handshakeObject, reqHandshakeName).string(c.name)); err != nil {
		return err
	}
	for _, iv := range clientVersions {
		if err := c.send(newMessage(handshakeObject, reqHandshakeInterface).string(iv.name).uint32(iv.version)); err != nil {
			return err
		}
	}
	return c.send(newMessage(handshakeObject, reqHandshakeFinish))
}

func (c *Client) handleConnection(opcode uint32, d *decoder) error {
	switch opcode {
	case evConnectionDisconnected:
		serial := d.uint32()
		reason := d.uint32()
		explanation := d.string()
		c.serial(serial)
		text := disconnectReasons[reason]
		if explanation != "" {
			text += ": " + explanation
		}
		c.log.Info("server disconnected", "reason", text)
		c.disconnect(text)
	case evConnectionSeat:
		id := d.uint64()
		d.uint32()
		c.objects[id] = ifaceSeat
		c.seats[id] = &seat{masks: make(map[string]uint64)}
	case evConnectionInvalidObject:
		serial := d.uint32()
		id := d.uint64()
		c.serial(serial)
		c.log.Debug("server reports invalid object", "object", id)
	case evConnectionPing:
		id := d.uint64()
		d.uint32()
		if d.err != nil {
			return d.err
		}
		return c.send(newMessage(id, reqPingpongDone).uint64(0))
	default:
		c.log.Debug("ignoring connection event", "opcode", opcode)
	}
	return nil
}

func (c *Client) handleSeat(id uint64, opcode uint32, d *decoder) {
	s := c.seats[id]
	switch opcode {
	case evSeatDestroyed:
		c.serial(d.uint32())
		delete(c.seats, id)
		delete(c.objects, id)
		c.events = append(c.events, Event{Type: EventSeatRemoved, Seat: id})
	case evSeatName:
		s.name = d.string()
	case evSeatCapability:
		mask := d.uint64()
		iface := d.string()
		s.masks[iface] = mask
	case evSeatDone:
		var caps Capabilities
		for iface := range s.masks {
			caps |= capabilityFor(iface)
		}
		c.events = append(c.events, Event{Type: EventSeatAdded, Seat: id, Name: s.name, Capabilities: caps})
	case evSeatDevice:
		devID := d.uint64()
		d.uint32()
		c.objects[devID] = ifaceDevice
		c.devices[devID] = &device{seat: id, ifaces: make(map[string]uint64)}
	default:
		c.log.Debug("ignoring seat event", "opcode", opcode)
	}
}

func (c *Client) handleDevice(id uint64, opcode uint32, d *decoder) {
	dev := c.devices[id]
	switch opcode {
	case evDeviceDestroyed:
		c.serial(d.uint32())
		for _, sub := range dev.ifaces {
			delete(c.objects, sub)
		}
		delete(c.devices, id)
		delete(c.objects, id)
		c.events = append(c.events, Event{Type: EventDeviceRemoved, Seat: dev.seat, Device: id})
	case evDeviceName:
		dev.name = d.string()
	case evDeviceType, evDeviceDimensions:
		// Virtual devices have no physical size; nothing to keep.
	case evDeviceRegion:
		r := Region{X: d.uint32(), Y: d.uint32(), Width: d.uint32(), Height: d.uint32(), Scale: d.float()}
		if d.err == nil {
			dev.regions = append(dev.regions, r)
		}
	case evDeviceInterface:
		sub := d.uint64()
		iface := d.string()
		d.uint32()
		if d.err == nil {
			c.objects[sub] = iface
			dev.ifaces[iface] = sub
		}
	case evDeviceDone:
		regions := make([]Region, len(dev.regions))
		copy(regions, dev.regions)
		c.events = append(c.events, Event{
			Type:         EventDeviceAdded,
			Seat:         dev.seat,
			Device:       id,
			Name:         dev.name,
			Capabilities: dev.capabilities(),
			Regions:      regions,
		})
	case evDeviceResumed:
		s := d.uint32()
		c.serial(s)
		c.events = append(c.events, Event{Type: EventDeviceResumed, Seat: dev.seat, Device: id, Serial: s})
	case evDevicePaused:
		s := d.uint32()
		c.serial(s)
		c.events = append(c.events, Event{Type: EventDevicePaused, Seat: dev.seat, Device: id, Serial: s})
	default:
		c.log.Debug("ignoring device event", "opcode", opcode)
	}
}

func (c *Client) handleCapability(id uint64, iface string, opcode uint32, d *decoder) {
	switch {
	case opcode == evCapabilityDestroyed:
		c.serial(d.uint32())
		delete(c.objects, id)
		for _, dev := range c.devices {
			if dev.ifaces[iface] == id {
				delete(dev.ifaces, iface)
			}
		}
	case iface == ifaceKeyboard && opcode == evKeyboardKeymap:
		// The keymap arrives as a file descriptor. Senders emit evdev
		// codes and never need it.
		d.uint32()
		d.uint32()
		if len(c.fds) > 0 {
			closeFD(c.fds[0])
			c.fds = c.fds[1:]
		}
	}
}

// BindSeat requests the given capabilities on a seat announced by
// EventSeatAdded. Capabilities the seat does not offer are ignored.
func (c *Client) BindSeat(seatID uint64, caps Capabilities) error {
	if err := c.usable(); err != nil {
		return err
	}
	s, ok := c.seats[seatID]
	if !ok {
		return fmt.Errorf("%w: unknown seat %d", ErrProtocol, seatID)
	}
	var mask uint64
	for _, ci := range capabilityInterfaces {
		if caps.Has(ci.cap) {
			mask |= s.masks[ci.iface]
		}
	}
	if mask == 0 {
		return fmt.Errorf("seat %q offers none of %s: %w", s.name, caps, ErrNoCapability)
	}
	return c.send(newMessage(seatID, reqSeatBind).uint64(mask))
}

func (c *Client) lookup(devID uint64, iface string) (uint64, error) {
	if err := c.usable(); err != nil {
		return 0, err
	}
	dev, ok := c.devices[devID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownDevice, devID)
	}
	if iface == ifaceDevice {
		return devID, nil
	}
	sub, ok := dev.ifaces[iface]
	if !ok {
		return 0, fmt.Errorf("%s on device %d: %w", iface, devID, ErrNoCapability)
	}
	return sub, nil
}

// StartEmulating opens an emulation sequence on a resumed device.
func (c *Client) StartEmulating(devID uint64) error {
	id, err := c.lookup(devID, ifaceDevice)
	if err != nil {
		return err
	}
	c.sequence++
	return c.send(newMessage(id, reqDeviceStartEmulating).uint32(c.lastSerial).uint32(c.sequence))
}

// StopEmulating closes the current emulation sequence.
func (c *Client) StopEmulating(devID uint64) error {
	id, err := c.lookup(devID, ifaceDevice)
	if err != nil {
		return err
	}
	return c.send(newMessage(id, reqDeviceStopEmulating).uint32(c.lastSerial))
}

// Frame commits the events sent since the previous frame. timestamp is in
// microseconds of CLOCK_MONOTONIC; see Now.
func (c *Client) Frame(devID uint64, timestamp uint64) error {
	id, err := c.lookup(devID, ifaceDevice)
	if err != nil {
		return err
	}
	return c.send(newMessage(id, reqDeviceFrame).uint32(c.lastSerial).uint64(timestamp))
}

// PointerMotion sends a relative motion in logical pixels.
func (c *Client) PointerMotion(devID uint64, dx, dy float32) error {
	id, err := c.lookup(devID, ifacePointer)
	if err != nil {
		return err
	}
	return c.send(newMessage(id, reqPointerMotionRelative).float(dx).float(dy))
}

// PointerMotionAbsolute moves to x,y in the compositor's logical space. The
// position must lie inside one of the device's regions.
func (c *Client) PointerMotionAbsolute(devID uint64, x, y float32) error {
	id, err := c.lookup(devID, ifacePointerAbsolute)
	if err != nil {
		return err
	}
	return c.send(newMessage(id, reqPointerMotionAbsolute).float(x).float(y))
}

// Button presses or releases an evdev button code (BTN_LEFT etc).
func (c *Client) Button(devID uint64, button uint32, pressed bool) error {
	id, err := c.lookup(devID, ifaceButton)
	if err != nil {
		return err
	}
	return c.send(newMessage(id, reqButtonButton).uint32(button).uint32(boolState(pressed)))
}

// KeyboardKey presses or releases an evdev key code.
func (c *Client) KeyboardKey(devID uint64, key uint32, pressed bool) error {
	id, err := c.lookup(devID, ifaceKeyboard)
	if err != nil {
		return err
	}
	return c.send(newMessage(id, reqKeyboardKey).uint32(key).uint32(boolState(pressed)))
}

// Now returns the current CLOCK_MONOTONIC time in microseconds, the clock
// frame timestamps are expressed in.
func (c *Client) Now() uint64 {
	return monotonicMicros()
}

func boolState(pressed bool) uint32 {
	if pressed {
		return 1
	}
	return 0
}
