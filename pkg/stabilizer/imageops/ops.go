// Package imageops provides the per-frame image primitives the stabilizer
// runs on: resize, grayscale conversion, sparse optical flow and affine warp.
//
// Two backends implement the same Ops interface. CPU runs everything through
// OpenCV's core modules; CUDA (built with the "cuda" tag) moves resize and
// colour conversion onto the GPU and keeps the rest on the CPU path.
package imageops

import (
	"errors"
	"fmt"
	"image"
	"log/slog"

	"gocv.io/x/gocv"
)

// Backend names accepted by Open.
const (
	BackendCPU  = "cpu"
	BackendCUDA = "cuda"
	BackendAuto = "auto"
)

// ErrBackendUnavailable is returned when the requested backend cannot run
// on this build or machine.
var ErrBackendUnavailable = errors.New("imageops: backend unavailable")

// FlowParams configures pyramidal Lucas-Kanade tracking.
type FlowParams struct {
	Window  int     // Search window edge in pixels
	Levels  int     // Maximum pyramid level (0 = no pyramid)
	MaxIter int     // Iteration cap per level
	Epsilon float64 // Convergence threshold
}

// DefaultFlowParams returns the window/pyramid/termination used for
// airborne footage.
func DefaultFlowParams() FlowParams {
	return FlowParams{
		Window:  15,
		Levels:  3,
		MaxIter: 10,
		Epsilon: 0.03,
	}
}

// Ops is the image capability the stabilization algorithm is written against.
// Implementations must not change numerical results beyond floating-point
// tolerance.
type Ops interface {
	// Name identifies the backend ("cpu", "cuda").
	Name() string

	// Resize scales src into dst at the given size.
	Resize(src gocv.Mat, dst *gocv.Mat, size image.Point)

	// Gray converts a BGR frame to single-channel grayscale.
	Gray(src gocv.Mat, dst *gocv.Mat)

	// OpticalFlow tracks prevPts from prev into next. nextPts receives the
	// tracked positions and status one byte per point (1 = tracked).
	OpticalFlow(prev, next, prevPts gocv.Mat, nextPts, status *gocv.Mat, p FlowParams)

	// WarpAffine resamples src through the 2x3 matrix m into dst.
	WarpAffine(src gocv.Mat, dst *gocv.Mat, m gocv.Mat, size image.Point)

	// Close releases backend resources.
	Close() error
}

// Open returns the named backend. "auto" prefers CUDA and falls back to CPU.
// Resource failures surface here, never during frame processing.
func Open(name string, logger *slog.Logger) (Ops, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch name {
	case "", BackendCPU:
		return NewCPU(), nil

	case BackendCUDA:
		ops, err := newCUDA()
		if err != nil {
			return nil, err
		}
		return ops, nil

	case BackendAuto:
		ops, err := newCUDA()
		if err == nil {
			logger.Info("image backend selected", "backend", ops.Name())
			return ops, nil
		}
		logger.Warn("CUDA backend unavailable, falling back to CPU", "error", err)
		return NewCPU(), nil

	default:
		return nil, fmt.Errorf("unknown image backend %q (want cpu, cuda or auto)", name)
	}
}
