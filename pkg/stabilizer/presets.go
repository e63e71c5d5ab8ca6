package stabilizer

// Preset names for common configurations
const (
	PresetDefault    = "default"
	PresetDrone      = "drone"
	PresetLowLatency = "low-latency"
	PresetFisheye    = "fisheye"
	PresetSmooth     = "smooth"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault:    DefaultConfig(),
		PresetDrone:      DroneConfig(),
		PresetLowLatency: LowLatencyConfig(),
		PresetFisheye:    FisheyeConfig(),
		PresetSmooth:     SmoothConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		PresetDrone,
		PresetLowLatency,
		PresetFisheye,
		PresetSmooth,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	if cfg, ok := Presets()[name]; ok {
		return &cfg
	}
	return nil
}

// DroneConfig matches the FPV ground-station setup: light zoom and a
// slightly larger tracking region.
func DroneConfig() Config {
	cfg := DefaultConfig()
	cfg.ZoomFactor = 0.98
	cfg.ROIDivisor = 3.5
	return cfg
}

// LowLatencyConfig tracks on a half-resolution copy. Faster, more jittery.
func LowLatencyConfig() Config {
	cfg := DefaultConfig()
	cfg.DownSample = 0.5
	cfg.MaxCorners = 200
	return cfg
}

// FisheyeConfig masks the distorted edges of a 1280x720 wide-angle lens.
func FisheyeConfig() Config {
	cfg := DefaultConfig()
	cfg.MaskEnabled = true
	cfg.Mask = MaskRect{X0: 100, Y0: 200, X1: 1180, Y1: 620}
	return cfg
}

// SmoothConfig trusts measurements less, giving a steadier but laggier path.
func SmoothConfig() Config {
	cfg := DefaultConfig()
	cfg.ProcessVar = 0.01
	cfg.MeasVar = 4
	cfg.ZoomFactor = 0.85
	return cfg
}
