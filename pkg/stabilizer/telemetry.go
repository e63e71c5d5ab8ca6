package stabilizer

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// historySize bounds the telemetry ring (about four seconds at 30 fps).
const historySize = 120

// Stats is a point-in-time snapshot of the engine for dashboards and logs.
type Stats struct {
	Session string `json:"session"`
	Backend string `json:"backend"`
	State   string `json:"state"`
	Enabled bool   `json:"enabled"`
	Frames  uint64 `json:"frames"`

	TrackedPoints int          `json:"tracked_points"`
	MotionSource  MotionSource `json:"motion_source"`
	Raw           Motion       `json:"raw"`
	Correction    Motion       `json:"correction"`
	Trajectory    Trajectory   `json:"trajectory"`
	Smoothed      Trajectory   `json:"smoothed"`
	Covariance    [3]float64   `json:"covariance"`
	Gain          [3]float64   `json:"gain"`

	ZeroMotionFrames   uint64 `json:"zero_motion_frames"`
	FallbackFrames     uint64 `json:"fallback_frames"`
	NonFiniteFallbacks uint64 `json:"non_finite_fallbacks"`

	ProcessTime time.Duration `json:"process_time_ns"`
	FPS         float64       `json:"fps"`

	// Attenuation is std(raw dx) / std(smoothed dx) over the recent window.
	// Zero until enough frames have been seen.
	Attenuation float64 `json:"attenuation"`
	MeanGain    float64 `json:"mean_gain"`
}

// history is a fixed-size ring of per-frame horizontal motion, raw and
// smoothed, plus the x-axis gain.
type history struct {
	raw      [historySize]float64
	smoothed [historySize]float64
	gain     [historySize]float64
	next     int
	n        int
}

func (h *history) push(raw, smoothed, gain float64) {
	h.raw[h.next] = raw
	h.smoothed[h.next] = smoothed
	h.gain[h.next] = gain
	h.next = (h.next + 1) % historySize
	if h.n < historySize {
		h.n++
	}
}

// attenuation compares the spread of raw and smoothed per-frame motion.
func (h *history) attenuation() float64 {
	if h.n < 8 {
		return 0
	}
	rawStd := stat.StdDev(h.raw[:h.n], nil)
	smoothStd := stat.StdDev(h.smoothed[:h.n], nil)
	if smoothStd == 0 {
		return 0
	}
	return rawStd / smoothStd
}

// meanGain is the average x-axis gain over the window.
func (h *history) meanGain() float64 {
	if h.n == 0 {
		return 0
	}
	return stat.Mean(h.gain[:h.n], nil)
}
