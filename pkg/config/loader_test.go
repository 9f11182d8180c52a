package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/pclforge/pkg/engine"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoader_Parse(t *testing.T) {
	tests := []struct {
		name       string
		file       string
		content    string
		wantInput  map[string]string
		wantLayout *LayoutConfig
	}{
		{
			name: "cue",
			file: "opts.cue",
			content: `
recipe: "pcl"
options: {
	"with-qt5":  true
	"with-cuda": "yes"
}
layout: build_type: "Debug"
`,
			wantInput:  map[string]string{"with-qt5": "true", "with-cuda": "yes"},
			wantLayout: &LayoutConfig{BuildType: "Debug"},
		},
		{
			name: "toml",
			file: "opts.toml",
			content: `
recipe = "pcl"

[options]
with-qt = true
jobs = 4

[layout]
root = "/opt/homebrew"
`,
			wantInput:  map[string]string{"with-qt": "true", "jobs": "4"},
			wantLayout: &LayoutConfig{Root: "/opt/homebrew"},
		},
		{
			name: "yaml",
			file: "opts.yml",
			content: `
options:
  without-apps: "yes"
  with-examples: false
`,
			wantInput: map[string]string{"without-apps": "yes", "with-examples": "false"},
		},
		{
			name:      "json",
			file:      "opts.json",
			content:   `{"recipe": "pcl", "options": {"with-openni2": 1}}`,
			wantInput: map[string]string{"with-openni2": "1"},
		},
	}

	l := NewLoader()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := l.Parse(tt.file, []byte(tt.content))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if diff := cmp.Diff(tt.wantInput, f.Input()); diff != "" {
				t.Errorf("Input mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantLayout, f.Layout); diff != "" {
				t.Errorf("Layout mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]string{tt.file}, f.Sources); diff != "" {
				t.Errorf("Sources mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoader_ParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"cue syntax", "a.cue", `options: {`},
		{"cue unknown field", "a.cue", `bogus: 1`},
		{"cue build type", "a.cue", `layout: build_type: "Fast"`},
		{"cue recipe", "a.cue", `recipe: "opencv"`},
		{"toml unknown field", "a.toml", "bogus = 1\n"},
		{"toml syntax", "a.toml", "[options\n"},
		{"yaml unknown field", "a.yaml", "bogus: 1\n"},
		{"yaml hook without body", "a.yaml", "hooks:\n  - name: empty\n"},
		{"json relative root", "a.json", `{"layout": {"root": "opt/homebrew"}}`},
		{"json unknown field", "a.json", `{"bogus": true}`},
		{"json empty policy", "a.json", `{"policies": [""]}`},
		{"unsupported format", "a.ini", "with-qt=1"},
	}

	l := NewLoader()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Parse(tt.file, []byte(tt.content))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			var ee *engine.EngineError
			if !errors.As(err, &ee) {
				t.Fatalf("Expected EngineError, got %T", err)
			}
			if ee.Code != engine.ErrCodeOptionFileInvalid {
				t.Errorf("Expected code %s, got %s", engine.ErrCodeOptionFileInvalid, ee.Code)
			}
			if ee.Class != engine.ErrorClassConfiguration {
				t.Errorf("Expected configuration class, got %s", ee.Class)
			}
			if !strings.Contains(err.Error(), tt.file) {
				t.Errorf("Expected file name in error, got %v", err)
			}
		})
	}
}

func TestLoader_LoadResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "conf/opts.yaml", `
hooks:
  - name: ccache
    file: hooks/ccache.star
  - name: inline
    script: "args = []"
policies:
  - policies/strict.rego
  - /etc/pclforge/site.rego
`)

	f, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := []HookConfig{
		{Name: "ccache", File: filepath.Join(dir, "conf", "hooks", "ccache.star")},
		{Name: "inline", Script: "args = []"},
	}
	if diff := cmp.Diff(want, f.Hooks); diff != "" {
		t.Errorf("Hooks mismatch (-want +got):\n%s", diff)
	}
	wantPolicies := []string{filepath.Join(dir, "conf", "policies", "strict.rego"), "/etc/pclforge/site.rego"}
	if diff := cmp.Diff(wantPolicies, f.Policies); diff != "" {
		t.Errorf("Policies mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_LoadMissing(t *testing.T) {
	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "nope.cue"))
	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.Code != engine.ErrCodeOptionFileInvalid {
		t.Errorf("Expected OPTION_FILE_INVALID, got %v", err)
	}
}

func TestLoader_LoadAll(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.toml", `
[options]
with-qt5 = true
with-cuda = true

[layout]
root = "/usr/local"
build_type = "Release"
`)
	local := writeFile(t, dir, "local.cue", `
options: "with-cuda": false
layout: root: "/opt/homebrew"
policies: ["extra.rego"]
`)

	f, err := NewLoader().LoadAll([]string{base, local})
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}

	if diff := cmp.Diff(map[string]string{"with-qt5": "true", "with-cuda": "false"}, f.Input()); diff != "" {
		t.Errorf("Input mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(&LayoutConfig{Root: "/opt/homebrew", BuildType: "Release"}, f.Layout); diff != "" {
		t.Errorf("Layout mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"with-cuda", "with-qt5"}, f.OptionNames()); diff != "" {
		t.Errorf("OptionNames mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{base, local}, f.Sources); diff != "" {
		t.Errorf("Sources mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{filepath.Join(dir, "extra.rego")}, f.Policies); diff != "" {
		t.Errorf("Policies mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_LoadAllStopsOnError(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.json", `{"options": {"with-qt": true}}`)
	bad := writeFile(t, dir, "bad.json", `{"options": [1]}`)

	if _, err := NewLoader().LoadAll([]string{good, bad}); err == nil {
		t.Error("Expected error from second file")
	}
}

func TestValidationError_String(t *testing.T) {
	tests := []struct {
		err  ValidationError
		want string
	}{
		{ValidationError{Message: "boom"}, "boom"},
		{ValidationError{File: "a.cue", Line: 3, Column: 7, Path: "layout.root", Message: "invalid"}, "a.cue:3:7: layout.root: invalid"},
		{ValidationError{File: "a.json", Path: "OptionFile.Hooks[0].Script", Message: "failed"}, "a.json: OptionFile.Hooks[0].Script: failed"},
	}
	for _, tt := range tests {
		if got := tt.err.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestSchemaRegistry(t *testing.T) {
	sr := NewSchemaRegistry()

	if diff := cmp.Diff([]string{"option_file"}, sr.ListSchemas()); diff != "" {
		t.Errorf("ListSchemas mismatch (-want +got):\n%s", diff)
	}

	ok := &OptionFile{Recipe: "pcl", Options: map[string]any{"with-qt": true}}
	if err := sr.ValidateAgainstSchema("option_file", ok); err != nil {
		t.Errorf("Expected valid option file, got %v", err)
	}

	bad := &OptionFile{Layout: &LayoutConfig{BuildType: "Fast"}}
	if err := sr.ValidateAgainstSchema("option_file", bad); err == nil {
		t.Error("Expected invalid build type to fail")
	}

	if err := sr.ValidateAgainstSchema("missing", ok); err == nil {
		t.Error("Expected unknown schema to fail")
	}

	if err := sr.RegisterSchema("broken", "#X", "#X: {"); err == nil {
		t.Error("Expected compile error")
	}
	if err := sr.RegisterSchema("nodef", "#X", "#Y: string"); err == nil {
		t.Error("Expected missing definition error")
	}
	if err := sr.RegisterSchema("host", "#Host", `#Host: {name: string}`); err != nil {
		t.Fatalf("RegisterSchema failed: %v", err)
	}
	if _, ok := sr.GetSchema("host"); !ok {
		t.Error("Expected registered schema to be found")
	}
}
