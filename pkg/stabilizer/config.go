package stabilizer

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/teslashibe/go-stabilizer/pkg/stabilizer/imageops"
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid stabilizer config")

// MaskRect is a static rectangle in output pixel coordinates. Pixels outside
// it are zeroed on every stabilized frame (fisheye edge masking).
type MaskRect struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

// Rect returns the mask as an image.Rectangle. The corners are inclusive,
// matching how a filled rectangle is drawn.
func (m MaskRect) Rect() image.Rectangle {
	return image.Rect(m.X0, m.Y0, m.X1+1, m.Y1+1)
}

// Config holds the stabilizer parameters. It is applied at construction and
// never mutated by the engine.
type Config struct {
	// === Latency / quality ===
	// DownSample scales frames before tracking (1.0 = full resolution).
	DownSample float64 `json:"down_sample"`

	// ZoomFactor hides warp borders. 1.0 = no zoom, smaller values zoom in more.
	ZoomFactor float64 `json:"zoom_factor"`

	// ROIDivisor shrinks the tracking region. 4.0 keeps the centre half of
	// each axis; larger values give a smaller ROI.
	ROIDivisor float64 `json:"roi_divisor"`

	// === Smoothing ===
	// ProcessVar is the Kalman process noise variance (trajectory stiffness).
	ProcessVar float64 `json:"process_var"`
	// MeasVar is the Kalman measurement noise variance (trust in raw motion).
	MeasVar float64 `json:"meas_var"`

	// === Feature tracking ===
	MaxCorners   int     `json:"max_corners"`
	QualityLevel float64 `json:"quality_level"`
	MinDistance  float64 `json:"min_distance"`
	FlowWindow   int     `json:"flow_window"`
	FlowLevels   int     `json:"flow_levels"`
	FlowMaxIter  int     `json:"flow_max_iter"`
	FlowEpsilon  float64 `json:"flow_epsilon"`

	// === Debug overlays ===
	ShowROI            bool `json:"show_roi"`
	ShowTrackingPoints bool `json:"show_tracking_points"`
	ShowUnstabilized   bool `json:"show_unstabilized"`

	// === Masking ===
	MaskEnabled bool     `json:"mask_enabled"`
	Mask        MaskRect `json:"mask"`

	// Enabled is the initial stabilized/raw output selection.
	Enabled bool `json:"enabled"`

	// Backend selects the image ops implementation: cpu, cuda or auto.
	Backend string `json:"backend"`
}

// DefaultConfig returns the recommended configuration for airborne footage.
func DefaultConfig() Config {
	return Config{
		DownSample: 1.0,
		ZoomFactor: 0.9,
		ROIDivisor: 4.0,

		ProcessVar: 0.03,
		MeasVar:    2,

		MaxCorners:   400,
		QualityLevel: 0.01,
		MinDistance:  30,
		FlowWindow:   15,
		FlowLevels:   3,
		FlowMaxIter:  10,
		FlowEpsilon:  0.03,

		Mask: MaskRect{X0: 100, Y0: 200, X1: 1180, Y1: 620},

		Enabled: true,
		Backend: imageops.BackendCPU,
	}
}

// FlowParams returns the optical flow settings carried by the config.
func (c Config) FlowParams() imageops.FlowParams {
	return imageops.FlowParams{
		Window:  c.FlowWindow,
		Levels:  c.FlowLevels,
		MaxIter: c.FlowMaxIter,
		Epsilon: c.FlowEpsilon,
	}
}

// Validate checks every parameter and reports all problems at once.
func (c Config) Validate() error {
	var problems []string

	if !(c.DownSample > 0 && c.DownSample <= 1) {
		problems = append(problems, fmt.Sprintf("down_sample must be in (0, 1], got %v", c.DownSample))
	}
	if !(c.ZoomFactor > 0 && c.ZoomFactor <= 1) {
		problems = append(problems, fmt.Sprintf("zoom_factor must be in (0, 1], got %v", c.ZoomFactor))
	}
	if !(c.ROIDivisor > 1) {
		problems = append(problems, fmt.Sprintf("roi_divisor must be > 1, got %v", c.ROIDivisor))
	}
	if !(c.ProcessVar > 0) {
		problems = append(problems, fmt.Sprintf("process_var must be > 0, got %v", c.ProcessVar))
	}
	if !(c.MeasVar > 0) {
		problems = append(problems, fmt.Sprintf("meas_var must be > 0, got %v", c.MeasVar))
	}

	if c.MaxCorners < 1 {
		problems = append(problems, "max_corners must be at least 1")
	}
	if !(c.QualityLevel > 0 && c.QualityLevel < 1) {
		problems = append(problems, "quality_level must be in (0, 1)")
	}
	if c.MinDistance < 0 {
		problems = append(problems, "min_distance must not be negative")
	}
	if c.FlowWindow < 3 {
		problems = append(problems, "flow_window must be at least 3")
	}
	if c.FlowLevels < 0 {
		problems = append(problems, "flow_levels must not be negative")
	}
	if c.FlowMaxIter < 1 {
		problems = append(problems, "flow_max_iter must be at least 1")
	}
	if !(c.FlowEpsilon > 0) {
		problems = append(problems, "flow_epsilon must be > 0")
	}

	if c.MaskEnabled && (c.Mask.X1 < c.Mask.X0 || c.Mask.Y1 < c.Mask.Y0 || c.Mask.X0 < 0 || c.Mask.Y0 < 0) {
		problems = append(problems, fmt.Sprintf("mask corners out of order: %+v", c.Mask))
	}

	switch c.Backend {
	case "", imageops.BackendCPU, imageops.BackendCUDA, imageops.BackendAuto:
	default:
		problems = append(problems, fmt.Sprintf("backend must be cpu, cuda or auto, got %q", c.Backend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
