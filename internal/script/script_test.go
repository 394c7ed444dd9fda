package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossinput/pkg/crossinput"
)

// actuator records every call.
type actuator struct {
	mu      sync.Mutex
	calls   []string
	pressed map[crossinput.KeyCode]bool
	pos     crossinput.Point
}

func newActuator() *actuator {
	return &actuator{pressed: map[crossinput.KeyCode]bool{}}
}

func (a *actuator) record(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, fmt.Sprintf(format, args...))
}

func (a *actuator) IsKeyPressed(k crossinput.KeyCode) bool {
	a.record("pressed %s", k)
	return a.pressed[k]
}
func (a *actuator) KeyDown(k crossinput.KeyCode)             { a.record("keydown %s", k) }
func (a *actuator) KeyUp(k crossinput.KeyCode)               { a.record("keyup %s", k) }
func (a *actuator) KeyPress(k crossinput.KeyCode)            { a.record("key %s", k) }
func (a *actuator) MouseButtonDown(b crossinput.MouseButton) { a.record("buttondown %s", b) }
func (a *actuator) MouseButtonUp(b crossinput.MouseButton)   { a.record("buttonup %s", b) }
func (a *actuator) MouseClick(b crossinput.MouseButton)      { a.record("click %s", b) }
func (a *actuator) GetCursorPosition() crossinput.Point {
	a.record("position")
	return a.pos
}
func (a *actuator) SetCursorPosition(p crossinput.Point) { a.record("setpos %d %d", p.X, p.Y) }
func (a *actuator) MoveCursor(dx, dy int)                { a.record("move %d %d", dx, dy) }

func (a *actuator) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

// newRunner returns a runner whose sleeps are recorded instead of taken.
func newRunner(a Actuator, opts ...RunnerOption) (*Runner, *[]time.Duration) {
	r := NewRunner(a, opts...)
	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return r, &slept
}

func TestParseYAML(t *testing.T) {
	s, err := Parse([]byte(`
name: login
steps:
  - action: set_position
    x: 0
    y: 0
  - action: key_press
    key: Enter
    repeat: 2
`))
	require.NoError(t, err)
	assert.Equal(t, "login", s.Name)
	require.Len(t, s.Steps, 2)
	assert.Equal(t, SetPosition, s.Steps[0].Action)
	assert.Equal(t, 2, s.Steps[1].Repeat)
	assert.Equal(t, 3, s.Count())
}

func TestParseJSON(t *testing.T) {
	s, err := Parse([]byte(`{"steps":[{"action":"click","button":"Right"}]}`))
	require.NoError(t, err)
	assert.Equal(t, Click, s.Steps[0].Action)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ``},
		{"no steps", `steps: []`},
		{"unknown action", `steps: [{action: scroll}]`},
		{"key missing", `steps: [{action: key_down}]`},
		{"button missing", `steps: [{action: click}]`},
		{"coordinates missing", `steps: [{action: set_position, x: 1}]`},
		{"delta missing", `steps: [{action: move, dx: 1}]`},
		{"sleep missing", `steps: [{action: sleep}]`},
		{"fractional coordinate", `steps: [{action: set_position, x: 1.5, y: 2}]`},
		{"negative sleep", `steps: [{action: sleep, ms: -1}]`},
		{"zero repeat", `steps: [{action: position, repeat: 0}]`},
		{"unknown field", `steps: [{action: position, z: 1}]`},
		{"unknown key", `steps: [{action: key_press, key: hyper}]`},
		{"unknown button", `steps: [{action: click, button: back}]`},
		{"not yaml", `steps: [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidScript) || errors.Is(err, ErrInvalidStep), "got %v", err)
		})
	}
}

func TestLoadTestdata(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "missing_key.yaml"))
	assert.ErrorIs(t, err, ErrInvalidScript)

	_, err = Load(filepath.Join("testdata", "unknown_key.yaml"))
	assert.ErrorIs(t, err, ErrInvalidStep)

	_, err = Load(filepath.Join("testdata", "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadSamples(t *testing.T) {
	for _, name := range []string{"demo.yaml", "drag.json"} {
		s, err := Load(filepath.Join("..", "..", "scripts", name))
		require.NoError(t, err, name)
		assert.NotEmpty(t, s.Name)
	}
}

func TestParseStep(t *testing.T) {
	st, err := ParseStep([]byte(`{"action":"move","dx":-5,"dy":7}`))
	require.NoError(t, err)
	assert.Equal(t, Step{Action: Move, DX: -5, DY: 7}, st)

	_, err = ParseStep([]byte(`{"action":"move"}`))
	assert.ErrorIs(t, err, ErrInvalidStep)

	_, err = ParseStep([]byte(`{"action":"key_up","key":"nope"}`))
	assert.ErrorIs(t, err, ErrInvalidStep)
}

func TestRunExecutesInOrder(t *testing.T) {
	a := newActuator()
	a.pressed[crossinput.KeyShift] = true
	a.pos = crossinput.Point{X: 3, Y: 4}
	r, slept := newRunner(a, WithStepDelay(5*time.Millisecond))

	s, err := Parse([]byte(`
steps:
  - {action: key_down, key: shift}
  - {action: key_press, key: a}
  - {action: pressed, key: shift}
  - {action: key_up, key: shift}
  - {action: click, button: middle}
  - {action: button_down, button: left}
  - {action: button_up, button: left}
  - {action: set_position, x: 10, y: 20}
  - {action: move, dx: 1, dy: -1, repeat: 2}
  - {action: position}
`))
	require.NoError(t, err)

	results, err := r.Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"keydown Shift", "key A", "pressed Shift", "keyup Shift",
		"click Middle", "buttondown Left", "buttonup Left",
		"setpos 10 20", "move 1 -1", "move 1 -1", "position",
	}, a.Calls())

	require.Len(t, results, 11)
	require.NotNil(t, results[2].Pressed)
	assert.True(t, *results[2].Pressed)
	assert.Equal(t, 8, results[9].Index)
	require.NotNil(t, results[10].Position)
	assert.Equal(t, crossinput.Point{X: 3, Y: 4}, *results[10].Position)

	assert.Len(t, *slept, 10, "no pause before the first step")
	assert.Equal(t, 5*time.Millisecond, (*slept)[0])
}

func TestRunDelays(t *testing.T) {
	r, slept := newRunner(newActuator(), WithStepDelay(time.Second))
	s, err := Parse([]byte(`
delay_ms: 30
steps:
  - {action: position}
  - {action: position, delay_ms: 7}
  - {action: sleep, ms: 400}
`))
	require.NoError(t, err)

	_, err = r.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Millisecond, 30 * time.Millisecond, 400 * time.Millisecond}, *slept)
}

func TestRunTooManySteps(t *testing.T) {
	a := newActuator()
	r, _ := newRunner(a, WithMaxSteps(3))
	s, err := Parse([]byte(`steps: [{action: key_press, key: a, repeat: 4}]`))
	require.NoError(t, err)

	_, err = r.Run(context.Background(), s)
	assert.ErrorIs(t, err, ErrTooManySteps)
	assert.Empty(t, a.Calls())
}

func TestRunStopsOnCancel(t *testing.T) {
	a := newActuator()
	r := NewRunner(a, WithStepDelay(time.Hour))
	s, err := Parse([]byte(`steps: [{action: key_press, key: a}, {action: key_press, key: b}]`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	results, err := r.Run(ctx, s)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, results, 1)
	assert.Equal(t, []string{"key A"}, a.Calls())
}

func TestRunRejectsUncheckedScript(t *testing.T) {
	a := newActuator()
	r, _ := newRunner(a)
	_, err := r.Run(context.Background(), &Script{Steps: []Step{{Action: KeyPress, Key: "a"}, {Action: KeyPress, Key: "nope"}}})
	assert.ErrorIs(t, err, ErrInvalidStep)
	assert.Empty(t, a.Calls(), "nothing runs when any step is invalid")
}

func TestStep(t *testing.T) {
	a := newActuator()
	a.pos = crossinput.Point{X: 9, Y: 9}
	r, slept := newRunner(a)

	res, err := r.Step(context.Background(), Step{Action: Move, DX: 2, DY: 2, Repeat: 3})
	require.NoError(t, err)
	assert.Equal(t, Move, res.Action)
	assert.Len(t, *slept, 2)

	res, err = r.Step(context.Background(), Step{Action: Position})
	require.NoError(t, err)
	assert.Equal(t, crossinput.Point{X: 9, Y: 9}, *res.Position)

	_, err = r.Step(context.Background(), Step{Action: "scroll"})
	assert.ErrorIs(t, err, ErrInvalidStep)
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`steps: [{action: position}]`), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loaded := make(chan *Script, 4)
	failed := make(chan error, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(s *Script, err error) {
			if err != nil {
				failed <- err
				return
			}
			loaded <- s
		})
	}()

	select {
	case s := <-loaded:
		assert.Len(t, s.Steps, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("initial load not delivered")
	}

	require.NoError(t, os.WriteFile(path, []byte(`steps: [{action: position}, {action: position}]`), 0o600))
	select {
	case s := <-loaded:
		assert.Len(t, s.Steps, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("reload not delivered")
	}

	require.NoError(t, os.WriteFile(path, []byte(`steps: [{action: bogus}]`), 0o600))
	select {
	case err := <-failed:
		assert.ErrorIs(t, err, ErrInvalidScript)
	case <-time.After(2 * time.Second):
		t.Fatal("invalid script not reported")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestSchemaIsCopied(t *testing.T) {
	b := Schema()
	b[0] = 'x'
	assert.Equal(t, byte('{'), Schema()[0])
}
