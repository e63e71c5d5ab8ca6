package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/teslashibe/go-stabilizer/pkg/stabilizer"
)

// LoadStabilizer overlays the JSON file at path onto base and validates the
// result. Fields missing from the file keep base's values. An empty path
// validates and returns base.
func LoadStabilizer(path string, base stabilizer.Config) (stabilizer.Config, error) {
	cfg := base
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return base, fmt.Errorf("read config: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return base, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}

// Preset resolves a preset name, defaulting to "default".
func Preset(name string) (stabilizer.Config, error) {
	if name == "" {
		name = stabilizer.PresetDefault
	}
	cfg := stabilizer.GetPreset(name)
	if cfg == nil {
		return stabilizer.Config{}, fmt.Errorf("unknown preset %q (available: %v)", name, stabilizer.PresetNames())
	}
	return *cfg, nil
}
