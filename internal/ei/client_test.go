//go:build linux

package ei

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const (
	testConnection = 0xff00000000000001
	testSeat       = 0xff00000000000002
	testPointer    = 0xff00000000000003
	testRel        = 0xff00000000000004
	testAbs        = 0xff00000000000005
	testButton     = 0xff00000000000006
	testKeyboard   = 0xff00000000000007
	testKeys       = 0xff00000000000008
	testPing       = 0xff00000000000009
)

// fakeEIS is the server end of a socketpair speaking just enough EIS.
type fakeEIS struct {
	t   *testing.T
	fd  int
	buf []byte
}

func newTestPair(t *testing.T) (*Client, *fakeEIS) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	c, err := Connect(fds[0], "crossinput-test")
	require.NoError(t, err)
	srv := &fakeEIS{t: t, fd: fds[1]}
	t.Cleanup(func() {
		c.Close()
		unix.Close(srv.fd)
	})
	return c, srv
}

func (s *fakeEIS) send(e *encoder) {
	s.t.Helper()
	_, err := unix.Write(s.fd, e.bytes())
	require.NoError(s.t, err)
}

func (s *fakeEIS) sendWithFD(e *encoder, fd int) {
	s.t.Helper()
	require.NoError(s.t, unix.Sendmsg(s.fd, e.bytes(), unix.UnixRights(fd), nil, 0))
}

// expect reads until n client messages are available.
func (s *fakeEIS) expect(n int) []message {
	s.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var out []message
	for {
		msgs, _, err := splitMessages(s.buf)
		require.NoError(s.t, err)
		if len(msgs) >= n {
			// Copy bodies out before the buffer is reused.
			consumed := 0
			for _, m := range msgs[:n] {
				consumed += headerSize + len(m.body)
				m.body = append([]byte(nil), m.body...)
				out = append(out, m)
			}
			s.buf = append([]byte(nil), s.buf[consumed:]...)
			return out
		}
		require.True(s.t, time.Now().Before(deadline), "timed out waiting for %d messages, have %d", n, len(msgs))

		fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
		_, err = unix.Poll(fds, 100)
		require.NoError(s.t, err)
		if fds[0].Revents&unix.POLLIN == 0 {
			continue
		}
		chunk := make([]byte, 4096)
		k, err := unix.Read(s.fd, chunk)
		require.NoError(s.t, err)
		s.buf = append(s.buf, chunk[:k]...)
	}
}

// pump waits for the client socket and dispatches once.
func pump(t *testing.T, c *Client) {
	t.Helper()
	ready, err := c.Poll(time.Second)
	require.NoError(t, err)
	require.True(t, ready, "client socket never became readable")
	require.NoError(t, c.Dispatch())
}

func drain(c *Client) []Event {
	var out []Event
	for {
		ev, ok := c.NextEvent()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func handshake(t *testing.T, c *Client, srv *fakeEIS) {
	t.Helper()
	srv.send(newMessage(handshakeObject, evHandshakeVersion).uint32(1))
	pump(t, c)

	msgs := srv.expect(4 + len(clientVersions))
	assert.Equal(t, uint32(reqHandshakeVersion), msgs[0].opcode)
	assert.Equal(t, uint32(1), newDecoder(msgs[0].body).uint32())
	assert.Equal(t, uint32(reqHandshakeContext), msgs[1].opcode)
	assert.Equal(t, contextSender, newDecoder(msgs[1].body).uint32())
	assert.Equal(t, uint32(reqHandshakeName), msgs[2].opcode)
	assert.Equal(t, "crossinput-test", newDecoder(msgs[2].body).string())
	for i, iv := range clientVersions {
		d := newDecoder(msgs[3+i].body)
		assert.Equal(t, iv.name, d.string())
		assert.Equal(t, iv.version, d.uint32())
	}
	assert.Equal(t, uint32(reqHandshakeFinish), msgs[len(msgs)-1].opcode)

	srv.send(newMessage(handshakeObject, evHandshakeConnection).uint32(1).uint64(testConnection).uint32(1))
	pump(t, c)
	require.True(t, c.Connected())
}

func announceSeat(t *testing.T, c *Client, srv *fakeEIS) {
	t.Helper()
	srv.send(newMessage(testConnection, evConnectionSeat).uint64(testSeat).uint32(1))
	srv.send(newMessage(testSeat, evSeatName).string("default"))
	srv.send(newMessage(testSeat, evSeatCapability).uint64(0x1).string(ifacePointer))
	srv.send(newMessage(testSeat, evSeatCapability).uint64(0x2).string(ifacePointerAbsolute))
	srv.send(newMessage(testSeat, evSeatCapability).uint64(0x4).string(ifaceKeyboard))
	srv.send(newMessage(testSeat, evSeatCapability).uint64(0x8).string(ifaceButton))
	srv.send(newMessage(testSeat, evSeatCapability).uint64(0x10).string(ifaceTouchscreen))
	srv.send(newMessage(testSeat, evSeatDone))
	pump(t, c)
}

func announcePointer(srv *fakeEIS) {
	srv.send(newMessage(testSeat, evSeatDevice).uint64(testPointer).uint32(1))
	srv.send(newMessage(testPointer, evDeviceName).string("virtual pointer"))
	srv.send(newMessage(testPointer, evDeviceType).uint32(1))
	srv.send(newMessage(testPointer, evDeviceInterface).uint64(testRel).string(ifacePointer).uint32(1))
	srv.send(newMessage(testPointer, evDeviceInterface).uint64(testAbs).string(ifacePointerAbsolute).uint32(1))
	srv.send(newMessage(testPointer, evDeviceInterface).uint64(testButton).string(ifaceButton).uint32(1))
	srv.send(newMessage(testPointer, evDeviceRegion).uint32(0).uint32(0).uint32(1920).uint32(1080).float(1))
	srv.send(newMessage(testPointer, evDeviceDone))
	srv.send(newMessage(testPointer, evDeviceResumed).uint32(5))
}

func TestHandshakeAnnouncesSender(t *testing.T) {
	c, srv := newTestPair(t)
	handshake(t, c, srv)
	assert.Empty(t, drain(c))
}

func TestSeatAndDeviceDiscovery(t *testing.T) {
	c, srv := newTestPair(t)
	handshake(t, c, srv)
	announceSeat(t, c, srv)

	events := drain(c)
	require.Len(t, events, 1)
	assert.Equal(t, EventSeatAdded, events[0].Type)
	assert.Equal(t, "default", events[0].Name)
	assert.Equal(t, CapPointer|CapPointerAbsolute|CapKeyboard|CapButton|CapTouch, events[0].Capabilities)

	require.NoError(t, c.BindSeat(testSeat, CapPointer|CapPointerAbsolute|CapKeyboard|CapButton))
	bind := srv.expect(1)[0]
	assert.Equal(t, uint64(testSeat), bind.object)
	assert.Equal(t, uint32(reqSeatBind), bind.opcode)
	assert.Equal(t, uint64(0xf), newDecoder(bind.body).uint64())

	announcePointer(srv)
	pump(t, c)

	events = drain(c)
	require.Len(t, events, 2)
	added := events[0]
	assert.Equal(t, EventDeviceAdded, added.Type)
	assert.Equal(t, uint64(testPointer), added.Device)
	assert.Equal(t, "virtual pointer", added.Name)
	assert.Equal(t, CapPointer|CapPointerAbsolute|CapButton, added.Capabilities)
	assert.Equal(t, []Region{{X: 0, Y: 0, Width: 1920, Height: 1080, Scale: 1}}, added.Regions)

	assert.Equal(t, EventDeviceResumed, events[1].Type)
	assert.Equal(t, uint32(5), events[1].Serial)
}

func TestEmulationRequests(t *testing.T) {
	c, srv := newTestPair(t)
	handshake(t, c, srv)
	announceSeat(t, c, srv)
	require.NoError(t, c.BindSeat(testSeat, CapPointer|CapButton))
	srv.expect(1)
	announcePointer(srv)
	pump(t, c)
	drain(c)

	require.NoError(t, c.StartEmulating(testPointer))
	require.NoError(t, c.PointerMotion(testPointer, 50, -20))
	require.NoError(t, c.Button(testPointer, 0x110, true))
	require.NoError(t, c.Frame(testPointer, 123456))
	require.NoError(t, c.StopEmulating(testPointer))

	msgs := srv.expect(5)

	start := newDecoder(msgs[0].body)
	assert.Equal(t, uint64(testPointer), msgs[0].object)
	assert.Equal(t, uint32(reqDeviceStartEmulating), msgs[0].opcode)
	assert.Equal(t, uint32(5), start.uint32(), "last serial")
	assert.Equal(t, uint32(1), start.uint32(), "sequence")

	motion := newDecoder(msgs[1].body)
	assert.Equal(t, uint64(testRel), msgs[1].object)
	assert.Equal(t, float32(50), motion.float())
	assert.Equal(t, float32(-20), motion.float())

	button := newDecoder(msgs[2].body)
	assert.Equal(t, uint64(testButton), msgs[2].object)
	assert.Equal(t, uint32(0x110), button.uint32())
	assert.Equal(t, uint32(1), button.uint32())

	frame := newDecoder(msgs[3].body)
	assert.Equal(t, uint32(reqDeviceFrame), msgs[3].opcode)
	frame.uint32()
	assert.Equal(t, uint64(123456), frame.uint64())

	assert.Equal(t, uint32(reqDeviceStopEmulating), msgs[4].opcode)
}

func TestRequestsRespectCapabilities(t *testing.T) {
	c, srv := newTestPair(t)
	handshake(t, c, srv)
	announceSeat(t, c, srv)
	require.NoError(t, c.BindSeat(testSeat, CapPointer))
	srv.expect(1)
	announcePointer(srv)
	pump(t, c)

	assert.ErrorIs(t, c.KeyboardKey(testPointer, 30, true), ErrNoCapability)
	assert.ErrorIs(t, c.StartEmulating(42), ErrUnknownDevice)
}

func TestPingIsAnswered(t *testing.T) {
	c, srv := newTestPair(t)
	handshake(t, c, srv)

	srv.send(newMessage(testConnection, evConnectionPing).uint64(testPing).uint32(1))
	pump(t, c)

	done := srv.expect(1)[0]
	assert.Equal(t, uint64(testPing), done.object)
	assert.Equal(t, uint32(reqPingpongDone), done.opcode)
}

func TestKeymapFDIsClosed(t *testing.T) {
	c, srv := newTestPair(t)
	handshake(t, c, srv)
	announceSeat(t, c, srv)
	drain(c)
	require.NoError(t, c.BindSeat(testSeat, CapKeyboard))
	srv.expect(1)

	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC|unix.O_NONBLOCK))
	defer unix.Close(p[0])

	srv.send(newMessage(testSeat, evSeatDevice).uint64(testKeyboard).uint32(1))
	srv.send(newMessage(testKeyboard, evDeviceInterface).uint64(testKeys).string(ifaceKeyboard).uint32(1))
	srv.sendWithFD(newMessage(testKeys, evKeyboardKeymap).uint32(1).uint32(4096), p[1])
	unix.Close(p[1])
	srv.send(newMessage(testKeyboard, evDeviceDone))
	pump(t, c)

	assert.Empty(t, c.fds)
	events := drain(c)
	require.Len(t, events, 1)
	assert.Equal(t, CapKeyboard, events[0].Capabilities)

	// Every write end is closed, so the read end sees EOF instead of EAGAIN.
	buf := make([]byte, 1)
	n, err := unix.Read(p[0], buf)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDeviceLifecycleEvents(t *testing.T) {
	c, srv := newTestPair(t)
	handshake(t, c, srv)
	announceSeat(t, c, srv)
	drain(c)
	require.NoError(t, c.BindSeat(testSeat, CapPointer))
	srv.expect(1)
	announcePointer(srv)
	srv.send(newMessage(testPointer, evDevicePaused).uint32(6))
	srv.send(newMessage(testPointer, evDeviceDestroyed).uint32(7))
	pump(t, c)

	var types []EventType
	for _, ev := range drain(c) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventDeviceAdded, EventDeviceResumed, EventDevicePaused, EventDeviceRemoved}, types)
	assert.ErrorIs(t, c.StartEmulating(testPointer), ErrUnknownDevice)
}

func TestServerDisconnect(t *testing.T) {
	c, srv := newTestPair(t)
	handshake(t, c, srv)

	srv.send(newMessage(testConnection, evConnectionDisconnected).uint32(2).uint32(3).string("bad request"))
	pump(t, c)

	events := drain(c)
	require.Len(t, events, 1)
	assert.Equal(t, EventDisconnected, events[0].Type)
	assert.Equal(t, "protocol: bad request", events[0].Reason)
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Dispatch(), ErrDisconnected)
}

func TestHangupIsDisconnect(t *testing.T) {
	c, srv := newTestPair(t)
	handshake(t, c, srv)

	require.NoError(t, unix.Shutdown(srv.fd, unix.SHUT_RDWR))
	ready, err := c.Poll(time.Second)
	require.NoError(t, err)
	require.True(t, ready)

	assert.ErrorIs(t, c.Dispatch(), ErrDisconnected)
	events := drain(c)
	require.Len(t, events, 1)
	assert.Equal(t, EventDisconnected, events[0].Type)
}

func TestCloseIsIdempotent(t *testing.T) {
	c, srv := newTestPair(t)
	handshake(t, c, srv)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Dispatch(), ErrClosed)

	bye := srv.expect(1)[0]
	assert.Equal(t, uint64(testConnection), bye.object)
	assert.Equal(t, uint32(reqConnectionDisconnect), bye.opcode)
}
