package settings

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

const sampleSchema = `# Enable debug logging
debug: false

# The gateway token used to authenticate
# with the chat service
token: ""

# Modules enabled at startup
modules: []

module_x:
    # Poll interval in seconds
    interval: 30

    sub:
        # A deeply nested setting
        deep: "default"
`

func TestLoadSchema(t *testing.T) {
	root := NewRoot("settings")
	if err := root.LoadSchema([]byte(sampleSchema)); err != nil {
		t.Fatalf("LoadSchema() error = %v", err)
	}

	debug, err := root.Get("debug")
	if err != nil {
		t.Fatalf("Get(debug) error = %v", err)
	}
	if got, _ := debug.Value().Bool(); got != false {
		t.Errorf("debug default = %v, want false", got)
	}
	if debug.Description() != "Enable debug logging" {
		t.Errorf("debug description = %q", debug.Description())
	}
	if !debug.InSchema() {
		t.Error("debug reports InSchema() = false")
	}

	token, _ := root.Get("token")
	wantDesc := "The gateway token used to authenticate\nwith the chat service"
	if token.Description() != wantDesc {
		t.Errorf("token description = %q, want %q", token.Description(), wantDesc)
	}

	interval, err := root.Resolve("module_x.interval")
	if err != nil {
		t.Fatalf("Resolve(module_x.interval) error = %v", err)
	}
	if got, _ := interval.Value().Int(); got != 30 {
		t.Errorf("interval default = %d, want 30", got)
	}
	if interval.Description() != "Poll interval in seconds" {
		t.Errorf("interval description = %q", interval.Description())
	}

	sub, err := root.GetChild("module_x", false)
	if err != nil {
		t.Fatalf("GetChild(module_x) error = %v", err)
	}
	if !sub.InSchema() {
		t.Error("module_x reports InSchema() = false")
	}
}

func TestLoadSchemaDescriptionAfterTable(t *testing.T) {
	// A comment that immediately follows a nested table belongs to the
	// entry after the table, even when the parser attaches it to the
	// table node instead of the next key.
	schema := strings.Join([]string{
		"group:",
		"    # Inner setting",
		"    inner: 1",
		"# Belongs to after",
		"after: 2",
		"",
	}, "\n")

	root := NewRoot("settings")
	if err := root.LoadSchema([]byte(schema)); err != nil {
		t.Fatalf("LoadSchema() error = %v", err)
	}

	after, err := root.Get("after")
	if err != nil {
		t.Fatalf("Get(after) error = %v", err)
	}
	if after.Description() != "Belongs to after" {
		t.Errorf("after description = %q, want %q", after.Description(), "Belongs to after")
	}
}

func TestLoadSchemaPreservesValues(t *testing.T) {
	root := NewRoot("settings")
	if err := root.LoadSchema([]byte(sampleSchema)); err != nil {
		t.Fatalf("LoadSchema() error = %v", err)
	}

	// Simulate user configuration.
	if err := root.Set("debug", Bool(true), true); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Reload a changed schema that still declares debug.
	changed := "# Enable verbose debug logging\ndebug: false\n\n# A new setting\nshiny: 1\n"
	if err := root.LoadSchema([]byte(changed)); err != nil {
		t.Fatalf("LoadSchema() reload error = %v", err)
	}

	debug, _ := root.Get("debug")
	if got, _ := debug.Value().Bool(); got != true {
		t.Error("schema reload clobbered the configured value")
	}
	if debug.Description() != "Enable verbose debug logging" {
		t.Errorf("description not updated on reload: %q", debug.Description())
	}
	if !root.Has("shiny") {
		t.Error("new schema key was not added")
	}
}

func TestLoadSchemaErrors(t *testing.T) {
	tests := []struct {
		name   string
		schema string
	}{
		{"null default", "broken:\n"},
		{"top level sequence", "- a\n- b\n"},
		{"unparsable", "a: [unclosed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := NewRoot("settings")
			if err := root.LoadSchema([]byte(tt.schema)); !errors.Is(err, ErrInvalidSchema) {
				t.Errorf("LoadSchema() error = %v, want ErrInvalidSchema", err)
			}
		})
	}
}

func TestMarshalDocumentRoundTrip(t *testing.T) {
	root := NewRoot("settings")
	if err := root.LoadSchema([]byte(sampleSchema)); err != nil {
		t.Fatalf("LoadSchema() error = %v", err)
	}

	out, err := root.MarshalDocument(true)
	if err != nil {
		t.Fatalf("MarshalDocument() error = %v", err)
	}

	// Loading the emitted document into a fresh tree reproduces every
	// declared key's value, description, and nesting.
	reloaded := NewRoot("settings")
	if err := reloaded.LoadSchema(out); err != nil {
		t.Fatalf("LoadSchema(emitted) error = %v", err)
	}

	for _, path := range []string{"debug", "token", "modules", "module_x.interval", "module_x.sub.deep"} {
		orig, err := root.Resolve(path)
		if err != nil {
			t.Fatalf("Resolve(%s) error = %v", path, err)
		}
		got, err := reloaded.Resolve(path)
		if err != nil {
			t.Fatalf("Resolve(%s) on reloaded tree error = %v", path, err)
		}
		if !orig.Value().Equal(got.Value()) {
			t.Errorf("%s value = %v, want %v", path, got.Value(), orig.Value())
		}
		if orig.Description() != got.Description() {
			t.Errorf("%s description = %q, want %q", path, got.Description(), orig.Description())
		}
	}

	// Re-emitting must be stable.
	again, err := reloaded.MarshalDocument(true)
	if err != nil {
		t.Fatalf("MarshalDocument() second pass error = %v", err)
	}
	if !bytes.Equal(out, again) {
		t.Errorf("round trip not idempotent:\nfirst:\n%s\nsecond:\n%s", out, again)
	}
}

func TestMarshalDocumentConcrete(t *testing.T) {
	root := NewRoot("settings")
	if err := root.LoadSchema([]byte("# Enable debug logging\ndebug: false\n")); err != nil {
		t.Fatalf("LoadSchema() error = %v", err)
	}
	if err := root.UpdateFromMap(map[string]any{"debug": true}, false); err != nil {
		t.Fatalf("UpdateFromMap() error = %v", err)
	}

	s, _ := root.Get("debug")
	if got, _ := s.Value().Bool(); got != true {
		t.Fatal("persisted value not applied")
	}
	if !s.InSchema() {
		t.Fatal("debug reports InSchema() = false")
	}

	out, err := root.MarshalDocument(true)
	if err != nil {
		t.Fatalf("MarshalDocument() error = %v", err)
	}
	text := string(out)
	if !strings.Contains(text, "# Enable debug logging\ndebug: true") {
		t.Errorf("output missing description above value:\n%s", text)
	}
	if strings.Contains(text, unrecognisedComment) {
		t.Errorf("schema-declared setting was annotated as unrecognised:\n%s", text)
	}
}

func TestMarshalDocumentAnnotations(t *testing.T) {
	root := NewRoot("settings")
	if err := root.LoadSchema([]byte("known: 1\n")); err != nil {
		t.Fatalf("LoadSchema() error = %v", err)
	}
	if err := root.UpdateFromMap(map[string]any{
		"rogue":  true,
		"orphan": map[string]any{"x": 1},
	}, false); err != nil {
		t.Fatalf("UpdateFromMap() error = %v", err)
	}

	out, err := root.MarshalDocument(true)
	if err != nil {
		t.Fatalf("MarshalDocument() error = %v", err)
	}
	text := string(out)
	if !strings.Contains(text, unrecognisedComment) {
		t.Errorf("ad-hoc setting not annotated:\n%s", text)
	}
	if !strings.Contains(text, disabledComment) {
		t.Errorf("ad-hoc group not annotated:\n%s", text)
	}

	// Without warnings the annotations disappear.
	quiet, err := root.MarshalDocument(false)
	if err != nil {
		t.Fatalf("MarshalDocument(false) error = %v", err)
	}
	if strings.Contains(string(quiet), unrecognisedComment) {
		t.Errorf("warning emitted with warnSchema disabled:\n%s", quiet)
	}
}

func TestParseDocument(t *testing.T) {
	m, err := ParseDocument([]byte("a: 1\nb:\n    c: true\n"))
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	nested, ok := m["b"].(map[string]any)
	if !ok {
		t.Fatalf("b = %T, want map", m["b"])
	}
	if nested["c"] != true {
		t.Errorf("b.c = %v, want true", nested["c"])
	}

	empty, err := ParseDocument(nil)
	if err != nil {
		t.Fatalf("ParseDocument(nil) error = %v", err)
	}
	if empty != nil {
		t.Errorf("empty document = %v, want nil", empty)
	}
}
