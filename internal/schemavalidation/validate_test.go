package schemavalidation

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

type schemaCase struct {
	name         string
	schemaPath   string
	instancePath string
	valid        bool
}

func TestSchemaValidation(t *testing.T) {
	repoRoot := repoRoot(t)
	schemaPath := filepath.Join(repoRoot, "internal", "script", "schema.json")
	cases := []schemaCase{
		{
			name:         "demo-script",
			schemaPath:   schemaPath,
			instancePath: filepath.Join(repoRoot, "scripts", "demo.yaml"),
			valid:        true,
		},
		{
			name:         "drag-script",
			schemaPath:   schemaPath,
			instancePath: filepath.Join(repoRoot, "scripts", "drag.json"),
			valid:        true,
		},
		{
			name:         "missing-key",
			schemaPath:   schemaPath,
			instancePath: filepath.Join(repoRoot, "internal", "script", "testdata", "missing_key.yaml"),
			valid:        false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			validateInstance(t, tc)
		})
	}
}

func validateInstance(t *testing.T, tc schemaCase) {
	schemaData, err := os.ReadFile(tc.schemaPath)
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}

	instanceData, err := os.ReadFile(tc.instancePath)
	if err != nil {
		t.Fatalf("read instance: %v", err)
	}

	instance, err := decodeInstance(instanceData)
	if err != nil {
		t.Fatalf("decode instance: %v", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource(tc.schemaPath, bytes.NewReader(schemaData)); err != nil {
		t.Fatalf("add schema resource: %v", err)
	}
	schema, err := compiler.Compile(tc.schemaPath)
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}

	err = schema.Validate(instance)
	switch {
	case tc.valid && err != nil:
		t.Fatalf("schema validation failed for %s: %v", filepath.Base(tc.instancePath), err)
	case !tc.valid && err == nil:
		t.Fatalf("schema accepted invalid instance %s", filepath.Base(tc.instancePath))
	}
}

// decodeInstance reads YAML or JSON into the JSON data model the validator
// expects.
func decodeInstance(data []byte) (any, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var instance any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return nil, err
	}
	return instance, nil
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("unable to resolve caller path")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}
