package x11

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossinput/internal/keycode"
	"crossinput/internal/logging"
)

type fakeServer struct {
	requests []string
	keys     []byte
	x, y     int16
	err      error
	closed   bool
}

func (f *fakeServer) fakeInput(event, detail byte) error {
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, fmt.Sprintf("input %d %d", event, detail))
	return nil
}

func (f *fakeServer) warp(relative bool, x, y int16) error {
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, fmt.Sprintf("warp %t %d %d", relative, x, y))
	return nil
}

func (f *fakeServer) pointer() (int16, int16, error) { return f.x, f.y, f.err }
func (f *fakeServer) keymap() ([]byte, error)        { return f.keys, f.err }
func (f *fakeServer) close()                         { f.closed = true }

func newTestDisplay(servers ...*fakeServer) (*Display, *int) {
	dials := 0
	d := &Display{
		log: logging.Default().WithComponent("x11"),
		dial: func(string) (server, error) {
			if dials >= len(servers) {
				return nil, errors.New("no display")
			}
			srv := servers[dials]
			dials++
			return srv, nil
		},
	}
	return d, &dials
}

func TestKeyAndButtonEvents(t *testing.T) {
	srv := &fakeServer{}
	d, dials := newTestDisplay(srv)

	require.NoError(t, d.KeyDown(keycode.KeyA))
	require.NoError(t, d.KeyUp(keycode.KeyA))
	require.NoError(t, d.ButtonDown(keycode.ButtonRight))
	require.NoError(t, d.ButtonUp(keycode.ButtonMiddle))

	assert.Equal(t, []string{"input 2 38", "input 3 38", "input 4 3", "input 5 2"}, srv.requests)
	assert.Equal(t, 1, *dials)
}

func TestUnsupportedCodes(t *testing.T) {
	d, dials := newTestDisplay(&fakeServer{})
	assert.ErrorIs(t, d.KeyDown(keycode.KeyCode(500)), ErrUnsupportedCode)
	assert.ErrorIs(t, d.ButtonDown(keycode.MouseButton(7)), ErrUnsupportedCode)
	_, err := d.IsKeyPressed(keycode.KeyCode(-3))
	assert.ErrorIs(t, err, ErrUnsupportedCode)
	assert.Zero(t, *dials)
}

func TestIsKeyPressed(t *testing.T) {
	keys := make([]byte, 32)
	keys[38/8] |= 1 << (38 % 8)
	d, _ := newTestDisplay(&fakeServer{keys: keys})

	down, err := d.IsKeyPressed(keycode.KeyA)
	require.NoError(t, err)
	assert.True(t, down)

	down, err = d.IsKeyPressed(keycode.KeyB)
	require.NoError(t, err)
	assert.False(t, down)
}

func TestKeyDownBounds(t *testing.T) {
	assert.False(t, keyDown(nil, 200))
	assert.True(t, keyDown([]byte{0, 0x80}, 15))
}

func TestCursor(t *testing.T) {
	srv := &fakeServer{x: 640, y: 480}
	d, _ := newTestDisplay(srv)

	x, y, err := d.CursorPosition()
	require.NoError(t, err)
	assert.Equal(t, 640, x)
	assert.Equal(t, 480, y)

	require.NoError(t, d.SetCursorPosition(100, 200))
	require.NoError(t, d.MoveCursor(-5, 70000))
	assert.Equal(t, []string{"warp false 100 200", "warp true -5 32767"}, srv.requests)
}

func TestReconnectAfterFailure(t *testing.T) {
	broken := &fakeServer{err: errors.New("connection reset")}
	healthy := &fakeServer{}
	d, dials := newTestDisplay(broken, healthy)

	assert.Error(t, d.KeyDown(keycode.KeyA))
	assert.True(t, broken.closed)

	require.NoError(t, d.KeyDown(keycode.KeyA))
	assert.Equal(t, 2, *dials)
	assert.Len(t, healthy.requests, 1)

	require.NoError(t, d.Close())
	assert.True(t, healthy.closed)
	require.NoError(t, d.Close())
}

func TestDialFailure(t *testing.T) {
	d, _ := newTestDisplay()
	_, _, err := d.CursorPosition()
	assert.ErrorContains(t, err, "no display")
}

func TestClamp16(t *testing.T) {
	assert.Equal(t, int16(32767), clamp16(1<<20))
	assert.Equal(t, int16(-32768), clamp16(-1<<20))
	assert.Equal(t, int16(12), clamp16(12))
}
