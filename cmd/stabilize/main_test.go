package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/teslashibe/go-stabilizer/pkg/stabilizer"
)

func TestBuildConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"zoom_factor": 0.8, "roi_divisor": 5}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := buildConfig(options{
		preset:     stabilizer.PresetDrone,
		configPath: path,
		backend:    "cpu",
		downSample: 0.5,
		showROI:    true,
		disabled:   true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.ZoomFactor != 0.8 || cfg.ROIDivisor != 5 {
		t.Errorf("file overlay not applied: zoom=%v roi=%v", cfg.ZoomFactor, cfg.ROIDivisor)
	}
	if cfg.DownSample != 0.5 {
		t.Errorf("flag override not applied: %v", cfg.DownSample)
	}
	if !cfg.ShowROI || cfg.Enabled {
		t.Errorf("bool flags not applied: show_roi=%v enabled=%v", cfg.ShowROI, cfg.Enabled)
	}
}

func TestBuildConfig_Invalid(t *testing.T) {
	_, err := buildConfig(options{preset: "default", backend: "cpu", zoom: 2})
	if !errors.Is(err, stabilizer.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	if _, err := buildConfig(options{preset: "nope", backend: "cpu"}); err == nil {
		t.Error("unknown preset should fail")
	}
}

func TestHasPort(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"192.168.1.10", false},
		{"192.168.1.10:9443", true},
		{"drone.local", false},
		{"drone.local:8443", true},
		{"[::1]", false},
		{"[::1]:8443", true},
	}
	for _, tt := range tests {
		if got := hasPort(tt.host); got != tt.want {
			t.Errorf("hasPort(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestParseFlags_Defaults(t *testing.T) {
	o, err := parseFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	if o.logFormat != "" {
		t.Errorf("log format default = %q, want empty so GO_ENV picks it", o.logFormat)
	}
	if o.preset != stabilizer.PresetDefault || !o.window {
		t.Errorf("unexpected defaults: preset %q window %v", o.preset, o.window)
	}

	o, err = parseFlags([]string{"-log-format", "json", "-input", "clip.mp4"})
	if err != nil {
		t.Fatal(err)
	}
	if o.logFormat != "json" || o.input != "clip.mp4" {
		t.Errorf("flags not applied: %+v", o)
	}
}
