// Package script runs input automation scripts. A script is a YAML or JSON
// document holding a list of steps; it is checked against an embedded JSON
// schema and every key and button name is resolved before anything runs.
package script

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"crossinput/pkg/crossinput"
)

// Action names a step kind.
type Action string

// Step actions.
const (
	KeyDown     Action = "key_down"
	KeyUp       Action = "key_up"
	KeyPress    Action = "key_press"
	ButtonDown  Action = "button_down"
	ButtonUp    Action = "button_up"
	Click       Action = "click"
	SetPosition Action = "set_position"
	Move        Action = "move"
	Sleep       Action = "sleep"
	Pressed     Action = "pressed"
	Position    Action = "position"
)

// Errors returned while loading and checking scripts.
var (
	ErrInvalidScript = errors.New("script: invalid script")
	ErrInvalidStep   = errors.New("script: invalid step")
)

//go:embed schema.json
var schemaJSON []byte

// SchemaURL identifies the embedded schema.
const SchemaURL = "https://crossinput.dev/schema/script-v1.json"

// Step is one action. Only the fields the action needs are set.
type Step struct {
	Action  Action `json:"action" yaml:"action"`
	Key     string `json:"key,omitempty" yaml:"key,omitempty"`
	Button  string `json:"button,omitempty" yaml:"button,omitempty"`
	X       int    `json:"x,omitempty" yaml:"x,omitempty"`
	Y       int    `json:"y,omitempty" yaml:"y,omitempty"`
	DX      int    `json:"dx,omitempty" yaml:"dx,omitempty"`
	DY      int    `json:"dy,omitempty" yaml:"dy,omitempty"`
	Ms      int    `json:"ms,omitempty" yaml:"ms,omitempty"`
	DelayMs *int   `json:"delay_ms,omitempty" yaml:"delay_ms,omitempty"`
	Repeat  int    `json:"repeat,omitempty" yaml:"repeat,omitempty"`
}

// Script is a named list of steps.
type Script struct {
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	DelayMs *int   `json:"delay_ms,omitempty" yaml:"delay_ms,omitempty"`
	Steps   []Step `json:"steps" yaml:"steps"`
}

// Count returns the number of steps run, counting repeats.
func (s *Script) Count() int {
	n := 0
	for _, st := range s.Steps {
		n += st.times()
	}
	return n
}

func (st Step) times() int {
	if st.Repeat < 1 {
		return 1
	}
	return st.Repeat
}

var (
	schemaOnce sync.Once
	scriptSch  *jsonschema.Schema
	stepSch    *jsonschema.Schema
	schemaErr  error
)

func schemas() (*jsonschema.Schema, *jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft7
		if err := compiler.AddResource(SchemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		if scriptSch, schemaErr = compiler.Compile(SchemaURL); schemaErr != nil {
			return
		}
		stepSch, schemaErr = compiler.Compile(SchemaURL + "#/definitions/step")
	})
	return scriptSch, stepSch, schemaErr
}

// Schema returns the embedded JSON schema document.
func Schema() []byte {
	return append([]byte(nil), schemaJSON...)
}

// Parse decodes a YAML or JSON script, validates it against the schema and
// resolves every key and button.
func Parse(data []byte) (*Script, error) {
	sch, _, err := schemas()
	if err != nil {
		return nil, err
	}
	doc, err := normalize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if err := validate(sch, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	var s Script
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if err := Check(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads and parses the script at path.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = path
	}
	return s, nil
}

// ParseStep decodes and validates a single JSON step.
func ParseStep(data []byte) (Step, error) {
	_, sch, err := schemas()
	if err != nil {
		return Step{}, err
	}
	if err := validate(sch, data); err != nil {
		return Step{}, fmt.Errorf("%w: %v", ErrInvalidStep, err)
	}
	var st Step
	if err := json.Unmarshal(data, &st); err != nil {
		return Step{}, fmt.Errorf("%w: %v", ErrInvalidStep, err)
	}
	if _, err := st.resolve(); err != nil {
		return Step{}, err
	}
	return st, nil
}

// Check resolves every key and button name in s.
func Check(s *Script) error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidScript)
	}
	for i, st := range s.Steps {
		if _, err := st.resolve(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

// normalize turns a YAML or JSON document into JSON. YAML is a superset of
// JSON, so one decoder covers both.
func normalize(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if doc == nil {
		return nil, errors.New("empty document")
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert to JSON: %w", err)
	}
	return out, nil
}

func validate(sch *jsonschema.Schema, doc []byte) error {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return sch.Validate(instance)
}

// resolved is a step with its names turned into codes.
type resolved struct {
	Step
	key    crossinput.KeyCode
	button crossinput.MouseButton
}

func (st Step) resolve() (resolved, error) {
	r := resolved{Step: st}
	var err error
	switch st.Action {
	case KeyDown, KeyUp, KeyPress, Pressed:
		r.key, err = crossinput.ParseKeyCode(st.Key)
	case ButtonDown, ButtonUp, Click:
		r.button, err = crossinput.ParseMouseButton(st.Button)
	case SetPosition, Move, Position:
	case Sleep:
		if st.Ms < 0 {
			err = fmt.Errorf("negative sleep %dms", st.Ms)
		}
	default:
		err = fmt.Errorf("unknown action %q", st.Action)
	}
	if err != nil {
		return resolved{}, fmt.Errorf("%w: %v", ErrInvalidStep, err)
	}
	return r, nil
}
