package probe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/pclforge/pkg/engine"
)

// wasmConst returns a module exporting "satisfied" as a function returning
// the constant v (0 or 1).
func wasmConst(v byte) []byte {
	return []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f,
		0x03, 0x02, 0x01, 0x00,
		0x07, 0x0d, 0x01, 0x09, 's', 'a', 't', 'i', 's', 'f', 'i', 'e', 'd', 0x00, 0x00,
		0x0a, 0x06, 0x01, 0x04, 0x00, 0x41, v, 0x0b,
	}
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func fakeHost() *HostProbe {
	return NewHostProbe(
		WithLookPath(func(name string) (string, error) {
			if name == "nvcc" {
				return "/usr/local/cuda/bin/nvcc", nil
			}
			return "", errors.New("executable file not found in $PATH")
		}),
		WithLookupEnv(func(name string) (string, bool) {
			switch name {
			case "OPENNI2_REDIST":
				return "/opt/openni2/Redist", true
			case "EMPTY":
				return "  ", true
			}
			return "", false
		}),
		WithStat(func(path string) (os.FileInfo, error) {
			if path == "/usr/local/opt/vtk" {
				return nil, nil
			}
			return nil, os.ErrNotExist
		}),
	)
}

func TestHostProbe_Check(t *testing.T) {
	tests := []struct {
		name  string
		check engine.Check
		want  engine.ProbeResult
	}{
		{"executable found", engine.Check{Kind: engine.CheckExecutable, Target: "nvcc"}, engine.ProbeResult{Satisfied: true, Location: "/usr/local/cuda/bin/nvcc"}},
		{"executable missing", engine.Check{Kind: engine.CheckExecutable, Target: "qmake"}, engine.ProbeResult{}},
		{"env set", engine.Check{Kind: engine.CheckEnv, Target: "OPENNI2_REDIST"}, engine.ProbeResult{Satisfied: true, Location: "/opt/openni2/Redist"}},
		{"env blank", engine.Check{Kind: engine.CheckEnv, Target: "EMPTY"}, engine.ProbeResult{}},
		{"env unset", engine.Check{Kind: engine.CheckEnv, Target: "NOPE"}, engine.ProbeResult{}},
		{"path exists", engine.Check{Kind: engine.CheckPath, Target: "/usr/local/opt/vtk"}, engine.ProbeResult{Satisfied: true, Location: "/usr/local/opt/vtk"}},
		{"path missing", engine.Check{Kind: engine.CheckPath, Target: "/usr/local/opt/qt5"}, engine.ProbeResult{}},
	}

	p := fakeHost()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Check(context.Background(), engine.Requirement{Name: tt.name, Check: tt.check})
			if err != nil {
				t.Fatalf("Check failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ProbeResult mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHostProbe_Errors(t *testing.T) {
	p := fakeHost()

	if _, err := p.Check(context.Background(), engine.Requirement{Check: engine.Check{Kind: "registry"}}); err == nil {
		t.Error("Expected error for unsupported check kind")
	}
	if _, err := p.Check(context.Background(), engine.Requirement{Check: engine.Check{Kind: engine.CheckPlugin, Target: "x"}}); err == nil {
		t.Error("Expected error for plugin check without registry")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Check(ctx, engine.Requirement{Check: engine.Check{Kind: engine.CheckExecutable, Target: "nvcc"}}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func writePlugin(t *testing.T, dir, name string, wasm []byte, sum string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".wasm"), wasm, 0644); err != nil {
		t.Fatalf("Failed to write module: %v", err)
	}
	manifest := "name: " + name + "\nversion: 1.0.0\nmodule: " + name + ".wasm\n"
	if sum != "" {
		manifest += "checksum: " + sum + "\n"
	}
	if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(manifest), 0644); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}
}

func TestRegistry_LoadDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writePlugin(t, dir, "always", wasmConst(1), checksum(wasmConst(1)))
	writePlugin(t, dir, "never", wasmConst(0), "")

	reg := NewRegistry(DefaultPluginConfig())
	defer reg.Close(ctx)
	if err := reg.LoadDir(ctx, dir); err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if diff := cmp.Diff([]string{"always", "never"}, reg.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}

	host := NewHostProbe(WithPlugins(reg))
	tests := []struct {
		target string
		want   engine.ProbeResult
	}{
		{"always", engine.ProbeResult{Satisfied: true, Location: "plugin:always"}},
		{"always:with-argument", engine.ProbeResult{Satisfied: true, Location: "plugin:always"}},
		{"never", engine.ProbeResult{}},
	}
	for _, tt := range tests {
		// Each call runs a fresh instance; repeat to make sure.
		for i := 0; i < 2; i++ {
			got, err := host.Check(ctx, engine.Requirement{Name: tt.target, Check: engine.Check{Kind: engine.CheckPlugin, Target: tt.target}})
			if err != nil {
				t.Fatalf("Check(%s) failed: %v", tt.target, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Check(%s) mismatch (-want +got):\n%s", tt.target, diff)
			}
		}
	}

	if _, err := host.Check(ctx, engine.Requirement{Check: engine.Check{Kind: engine.CheckPlugin, Target: "missing"}}); err == nil {
		t.Error("Expected error for unknown plugin")
	}
}

func TestRegistry_LoadDirMissing(t *testing.T) {
	reg := NewRegistry(DefaultPluginConfig())
	if err := reg.LoadDir(context.Background(), filepath.Join(t.TempDir(), "nope")); err != nil {
		t.Errorf("Expected missing directory to load nothing, got %v", err)
	}
}

func TestNewPlugin_Errors(t *testing.T) {
	ctx := context.Background()
	wasm := wasmConst(1)

	tests := []struct {
		name     string
		manifest *Manifest
		wasm     []byte
		want     string
	}{
		{
			name:     "checksum mismatch",
			manifest: &Manifest{Name: "x", Version: "1", Module: "x.wasm", Export: DefaultExport, Checksum: checksum([]byte("other"))},
			wasm:     wasm,
			want:     "checksum mismatch",
		},
		{
			name:     "missing export",
			manifest: &Manifest{Name: "x", Version: "1", Module: "x.wasm", Export: "probe"},
			wasm:     wasm,
			want:     "does not export probe",
		},
		{
			name:     "not wasm",
			manifest: &Manifest{Name: "x", Version: "1", Module: "x.wasm", Export: DefaultExport},
			wasm:     []byte("not a module"),
			want:     "failed to compile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPlugin(ctx, tt.manifest, tt.wasm, PluginConfig{})
			if err == nil {
				p.Close(ctx)
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected %q in error, got %v", tt.want, err)
			}
		})
	}
}

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte("name: metal\nversion: 0.1.0\nmodule: metal.wasm\n"))
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}
	if m.Export != DefaultExport {
		t.Errorf("Expected default export, got %q", m.Export)
	}

	for _, bad := range []string{
		"version: 1\nmodule: a.wasm\n",
		"name: a\nversion: 1\n",
		"name: a\nversion: 1\nmodule: a.wasm\nchecksum: abc\n",
		"name: [",
	} {
		if _, err := ParseManifest([]byte(bad)); err == nil {
			t.Errorf("Expected error for manifest %q", bad)
		}
	}
}

type fakeShell struct {
	commands []string
	out      map[string]string
}

func (f *fakeShell) Output(_ context.Context, cmd string) (string, int, error) {
	f.commands = append(f.commands, cmd)
	out, ok := f.out[cmd]
	if !ok {
		return "", 1, nil
	}
	return out, 0, nil
}

func TestShellProbe(t *testing.T) {
	sh := &fakeShell{out: map[string]string{
		"command -v nvcc": "/usr/local/cuda/bin/nvcc\n",
		"test -e '/opt/my dir' && printf '%s\\n' '/opt/my dir'": "/opt/my dir\n",
	}}
	p := NewShellProbe(sh)
	ctx := context.Background()

	got, err := p.Check(ctx, engine.Requirement{Check: engine.Check{Kind: engine.CheckExecutable, Target: "nvcc"}})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if diff := cmp.Diff(engine.ProbeResult{Satisfied: true, Location: "/usr/local/cuda/bin/nvcc"}, got); diff != "" {
		t.Errorf("ProbeResult mismatch (-want +got):\n%s", diff)
	}

	got, err = p.Check(ctx, engine.Requirement{Check: engine.Check{Kind: engine.CheckPath, Target: "/opt/my dir"}})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !got.Satisfied || got.Location != "/opt/my dir" {
		t.Errorf("Expected quoted path to be found, got %+v (commands %v)", got, sh.commands)
	}

	got, err = p.Check(ctx, engine.Requirement{Check: engine.Check{Kind: engine.CheckEnv, Target: "OPENNI2_REDIST"}})
	if err != nil || got.Satisfied {
		t.Errorf("Expected unset variable to be unsatisfied, got %+v, %v", got, err)
	}

	if _, err := p.Check(ctx, engine.Requirement{Check: engine.Check{Kind: engine.CheckPlugin, Target: "x"}}); err == nil {
		t.Error("Expected plugin checks to be rejected over a shell")
	}
}
