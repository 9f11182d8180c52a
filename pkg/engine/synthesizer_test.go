package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSynthesizer_Defaults(t *testing.T) {
	r := testRecipe()
	got := NewSynthesizer(r).Synthesize(mustOptions(t, r, nil))

	want := []string{
		"-DCMAKE_INSTALL_PREFIX=/usr/local/Cellar/widget/1.0",
		"-Wno-dev",
		"-DWITH_DOCS:BOOL=OFF",
		"-DWITH_TK:BOOL=FALSE",
		"-DWITH_GPU:BOOL=OFF",
		"-DBUILD_viz=AUTO_OFF",
	}
	if diff := cmp.Diff(want, got.Args); diff != "" {
		t.Errorf("Args mismatch (-want +got):\n%s", diff)
	}
	if len(got.Env) != 0 {
		t.Errorf("Expected no env mutations, got %v", got.Env)
	}
}

func TestSynthesizer_Effects(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]string
		want  []string
	}{
		{
			name:  "variant tag replaces disabled flag",
			input: map[string]string{"tk-b": "true"},
			want: []string{
				"-DCMAKE_INSTALL_PREFIX=/usr/local/Cellar/widget/1.0", "-Wno-dev",
				"-DWITH_DOCS:BOOL=OFF", "-DTK_VERSION=B", "-DWITH_GPU:BOOL=OFF", "-DBUILD_viz=AUTO_OFF",
			},
		},
		{
			name:  "gate opens tri-state sub-flag",
			input: map[string]string{"gpu": "true"},
			want: []string{
				"-DCMAKE_INSTALL_PREFIX=/usr/local/Cellar/widget/1.0", "-Wno-dev",
				"-DWITH_DOCS:BOOL=OFF", "-DWITH_TK:BOOL=FALSE", "-DWITH_GPU:BOOL=ON",
				"-DBUILD_gpu_extra:BOOL=AUTO_OFF", "-DBUILD_viz=AUTO_OFF",
			},
		},
		{
			name:  "tri-state explicit states",
			input: map[string]string{"gpu": "true", "gpu-extra": "off", "viz": "on"},
			want: []string{
				"-DCMAKE_INSTALL_PREFIX=/usr/local/Cellar/widget/1.0", "-Wno-dev",
				"-DWITH_DOCS:BOOL=OFF", "-DWITH_TK:BOOL=FALSE", "-DWITH_GPU:BOOL=ON",
				"-DBUILD_gpu_extra:BOOL=OFF", "-DBUILD_viz:BOOL=ON",
			},
		},
		{
			name:  "auto falls back to off",
			input: map[string]string{"mode": "safe"},
			want: []string{
				"-DCMAKE_INSTALL_PREFIX=/usr/local/Cellar/widget/1.0", "-Wno-dev",
				"-DWITH_DOCS:BOOL=OFF", "-DWITH_TK:BOOL=FALSE", "-DWITH_GPU:BOOL=OFF", "-DBUILD_viz:BOOL=OFF",
			},
		},
		{
			name:  "disabled tri-state adds disable flag",
			input: map[string]string{"viz": "off"},
			want: []string{
				"-DCMAKE_INSTALL_PREFIX=/usr/local/Cellar/widget/1.0", "-Wno-dev",
				"-DWITH_DOCS:BOOL=OFF", "-DWITH_TK:BOOL=FALSE", "-DWITH_GPU:BOOL=OFF",
				"-DDISABLE_VIZ:BOOL=TRUE", "-DBUILD_viz:BOOL=OFF",
			},
		},
		{
			name:  "path from layout",
			input: map[string]string{"sensor": "true"},
			want: []string{
				"-DCMAKE_INSTALL_PREFIX=/usr/local/Cellar/widget/1.0", "-Wno-dev",
				"-DWITH_DOCS:BOOL=OFF", "-DWITH_TK:BOOL=FALSE", "-DWITH_GPU:BOOL=OFF", "-DBUILD_viz=AUTO_OFF",
				"-DSENSOR_INCLUDE_DIR=/usr/local/opt/sensordrv/include",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRecipe()
			got := NewSynthesizer(r).Synthesize(mustOptions(t, r, tt.input))
			if diff := cmp.Diff(tt.want, got.Args); diff != "" {
				t.Errorf("Args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSynthesizer_EnvOverride(t *testing.T) {
	r := testRecipe()
	got := NewSynthesizer(r).Synthesize(mustOptions(t, r, map[string]string{
		"sensor":        "true",
		"sensor-prefix": "/custom/sensor",
	}))

	want := []EnvMutation{{Variable: "SENSOR_INC", Op: EnvAppend, Value: "/custom/sensor/include", Separator: " "}}
	if diff := cmp.Diff(want, got.Env); diff != "" {
		t.Errorf("Env mismatch (-want +got):\n%s", diff)
	}
	if last := got.Args[len(got.Args)-1]; last != "-DSENSOR_INCLUDE_DIR=/custom/sensor/include" {
		t.Errorf("Expected override in include flag, got %q", last)
	}
}

func TestSynthesizer_Idempotent(t *testing.T) {
	r := testRecipe()
	opts := mustOptions(t, r, map[string]string{"tk-a": "true", "gpu": "true", "sensor": "true", "docs": "true"})
	s := NewSynthesizer(r)

	first := s.Synthesize(opts)
	second := s.Synthesize(opts)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Synthesize is not idempotent (-first +second):\n%s", diff)
	}
}
