package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crossinput/internal/logging"
	"crossinput/pkg/crossinput"
)

// ErrTooManySteps is returned for scripts longer than the runner allows.
var ErrTooManySteps = errors.New("script: too many steps")

// Actuator carries out steps. *crossinput.Input implements it.
type Actuator interface {
	IsKeyPressed(crossinput.KeyCode) bool
	KeyDown(crossinput.KeyCode)
	KeyUp(crossinput.KeyCode)
	KeyPress(crossinput.KeyCode)
	MouseButtonDown(crossinput.MouseButton)
	MouseButtonUp(crossinput.MouseButton)
	MouseClick(crossinput.MouseButton)
	GetCursorPosition() crossinput.Point
	SetCursorPosition(crossinput.Point)
	MoveCursor(dx, dy int)
}

var _ Actuator = (*crossinput.Input)(nil)

// Result records one executed step. Pressed and Position are set for the
// query actions only.
type Result struct {
	Index    int               `json:"index"`
	Action   Action            `json:"action"`
	Pressed  *bool             `json:"pressed,omitempty"`
	Position *crossinput.Point `json:"position,omitempty"`
}

// Runner executes scripts against an Actuator.
type Runner struct {
	act      Actuator
	delay    time.Duration
	maxSteps int
	sleep    func(ctx context.Context, d time.Duration) error
	log      *logging.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithStepDelay sets the pause between steps when a script does not set one.
func WithStepDelay(d time.Duration) RunnerOption {
	return func(r *Runner) { r.delay = d }
}

// WithMaxSteps bounds the number of steps a script may run, counting repeats.
func WithMaxSteps(n int) RunnerOption {
	return func(r *Runner) { r.maxSteps = n }
}

// NewRunner returns a runner over act.
func NewRunner(act Actuator, opts ...RunnerOption) *Runner {
	r := &Runner{
		act:      act,
		delay:    20 * time.Millisecond,
		maxSteps: 10000,
		sleep:    sleepContext,
		log:      logging.Default().WithComponent("script"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every step of s in order. It stops at the first error or
// when ctx is done and returns the results collected so far.
func (r *Runner) Run(ctx context.Context, s *Script) ([]Result, error) {
	if err := Check(s); err != nil {
		return nil, err
	}
	if n := s.Count(); r.maxSteps > 0 && n > r.maxSteps {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManySteps, n, r.maxSteps)
	}

	r.log.Info("running script", "name", s.Name, "steps", len(s.Steps))
	results := make([]Result, 0, s.Count())
	started := time.Now()
	for i, st := range s.Steps {
		step, err := st.resolve()
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i, err)
		}
		for rep := 0; rep < st.times(); rep++ {
			if len(results) > 0 {
				if err := r.sleep(ctx, r.stepDelay(s, st)); err != nil {
					return results, err
				}
			}
			res, err := r.exec(ctx, i, step)
			if err != nil {
				return results, fmt.Errorf("step %d: %w", i, err)
			}
			results = append(results, res)
		}
	}
	r.log.Info("script finished", "name", s.Name, "executed", len(results), "elapsed", time.Since(started))
	return results, nil
}

// Step executes a single step, honouring its repeat count, and returns the
// result of the last repetition.
func (r *Runner) Step(ctx context.Context, st Step) (Result, error) {
	step, err := st.resolve()
	if err != nil {
		return Result{}, err
	}
	var res Result
	for rep := 0; rep < st.times(); rep++ {
		if rep > 0 {
			if err := r.sleep(ctx, r.stepDelay(nil, st)); err != nil {
				return res, err
			}
		}
		if res, err = r.exec(ctx, 0, step); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (r *Runner) stepDelay(s *Script, st Step) time.Duration {
	switch {
	case st.DelayMs != nil:
		return time.Duration(*st.DelayMs) * time.Millisecond
	case s != nil && s.DelayMs != nil:
		return time.Duration(*s.DelayMs) * time.Millisecond
	}
	return r.delay
}

func (r *Runner) exec(ctx context.Context, index int, st resolved) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	res := Result{Index: index, Action: st.Action}
	r.log.Debug("step", "index", index, "action", st.Action)

	switch st.Action {
	case KeyDown:
		r.act.KeyDown(st.key)
	case KeyUp:
		r.act.KeyUp(st.key)
	case KeyPress:
		r.act.KeyPress(st.key)
	case ButtonDown:
		r.act.MouseButtonDown(st.button)
	case ButtonUp:
		r.act.MouseButtonUp(st.button)
	case Click:
		r.act.MouseClick(st.button)
	case SetPosition:
		r.act.SetCursorPosition(crossinput.Point{X: st.X, Y: st.Y})
	case Move:
		r.act.MoveCursor(st.DX, st.DY)
	case Sleep:
		if err := r.sleep(ctx, time.Duration(st.Ms)*time.Millisecond); err != nil {
			return res, err
		}
	case Pressed:
		pressed := r.act.IsKeyPressed(st.key)
		res.Pressed = &pressed
	case Position:
		p := r.act.GetCursorPosition()
		res.Position = &p
	}
	return res, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
