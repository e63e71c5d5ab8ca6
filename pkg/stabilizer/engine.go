// Package stabilizer removes high-frequency camera shake from a live frame
// sequence while keeping intentional camera movement.
//
// Per frame the engine tracks corners from the previous frame into the
// current one, fits a similarity transform, accumulates the raw camera path,
// smooths that path with a per-axis Kalman filter and warps the previous
// frame by the difference. Output therefore lags input by one frame.
//
// An Engine serves exactly one stream. Process must be called from one
// goroutine at a time; Toggle, SetEnabled and Stats are safe from any
// goroutine.
package stabilizer

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-stabilizer/internal/log"
	"github.com/teslashibe/go-stabilizer/pkg/stabilizer/imageops"
)

// Per-call errors. Tracking failures are never reported as errors.
var (
	ErrEmptyFrame       = errors.New("stabilizer: empty frame")
	ErrUnsupportedFrame = errors.New("stabilizer: frame must be 3-channel BGR")
	ErrClosed           = errors.New("stabilizer: engine closed")
)

// State is the engine's position in its lifecycle.
type State int

const (
	// StateUninitialized has seen no frames.
	StateUninitialized State = iota
	// StateFirstFrame holds one frame and has produced no motion yet.
	StateFirstFrame
	// StateTracking runs the full pipeline on every frame.
	StateTracking
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateFirstFrame:
		return "first_frame"
	case StateTracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// Option customises an Engine at construction.
type Option func(*Engine)

// WithOps runs the engine on the given backend instead of opening
// cfg.Backend. The engine does not close a backend it did not open.
func WithOps(ops imageops.Ops) Option {
	return func(e *Engine) {
		e.ops = ops
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// Engine is the per-stream stabilization session.
type Engine struct {
	cfg     Config
	session string
	logger  *slog.Logger

	ops     imageops.Ops
	ownsOps bool

	tracker     *Tracker
	estimator   *Estimator
	filter      *TrajectoryFilter
	compensator *Compensator

	enabled atomic.Bool

	// mu serializes Process and guards the session state below.
	mu        sync.Mutex
	closed    bool
	state     State
	prevOrig  gocv.Mat
	prevGray  gocv.Mat
	prevSize  image.Point
	traj      Trajectory
	lastValid Transform
	hasValid  bool
	frames    uint64

	zeroMotion uint64
	fallbacks  uint64
	nonFinite  uint64
	history    history

	statsMu sync.RWMutex
	stats   Stats
}

// New validates cfg and creates an engine. Invalid configuration and an
// unavailable backend fail here; nothing later in the stream can.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		session: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.Component("stabilizer")
	}
	e.logger = e.logger.With("session", e.session[:8])

	if e.ops == nil {
		ops, err := imageops.Open(cfg.Backend, e.logger)
		if err != nil {
			return nil, fmt.Errorf("open image backend: %w", err)
		}
		e.ops = ops
		e.ownsOps = true
	}

	e.tracker = NewTracker(e.ops, cfg)
	e.estimator = NewEstimator()
	e.filter = NewTrajectoryFilter(cfg.ProcessVar, cfg.MeasVar)
	e.compensator = NewCompensator(e.ops, cfg)
	e.enabled.Store(cfg.Enabled)

	e.stats = Stats{
		Session: e.session,
		Backend: e.ops.Name(),
		State:   StateUninitialized.String(),
	}

	e.logger.Info("stabilizer ready",
		"backend", e.ops.Name(),
		"down_sample", cfg.DownSample,
		"zoom", cfg.ZoomFactor,
		"roi_div", cfg.ROIDivisor,
		"process_var", cfg.ProcessVar,
		"meas_var", cfg.MeasVar,
		"enabled", cfg.Enabled)

	return e, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// Session returns the engine's session id.
func (e *Engine) Session() string { return e.session }

// Enabled reports whether stabilized frames are being emitted.
func (e *Engine) Enabled() bool { return e.enabled.Load() }

// SetEnabled selects stabilized (true) or raw (false) output. Tracking and
// filtering continue either way.
func (e *Engine) SetEnabled(on bool) {
	if e.enabled.Swap(on) != on {
		e.logger.Info("stabilizer output changed", "enabled", on)
	}
}

// Toggle flips the output selection and returns the new value.
func (e *Engine) Toggle() bool {
	for {
		old := e.enabled.Load()
		if e.enabled.CompareAndSwap(old, !old) {
			e.logger.Info("stabilizer toggled", "enabled", !old)
			return !old
		}
	}
}

// Process consumes one frame and returns one frame owned by the caller.
//
// The first call returns a copy of its input. Later calls return the
// previous frame warped onto the smoothed path, or a copy of the current
// frame while disabled.
func (e *Engine) Process(frame gocv.Mat) (gocv.Mat, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return gocv.NewMat(), ErrClosed
	}
	if frame.Empty() {
		return gocv.NewMat(), ErrEmptyFrame
	}
	if frame.Type() != gocv.MatTypeCV8UC3 {
		return gocv.NewMat(), fmt.Errorf("%w: got type %d with %d channels",
			ErrUnsupportedFrame, int(frame.Type()), frame.Channels())
	}

	start := time.Now()
	size := image.Pt(frame.Cols(), frame.Rows())

	working := frame
	if e.cfg.DownSample != 1 {
		small := gocv.NewMat()
		defer small.Close()
		e.ops.Resize(frame, &small, image.Pt(
			max(1, int(float64(size.X)*e.cfg.DownSample)),
			max(1, int(float64(size.Y)*e.cfg.DownSample)),
		))
		working = small
	}

	roi := ComputeROI(image.Pt(working.Cols(), working.Rows()), e.cfg.ROIDivisor)
	if roi.Empty() {
		roi = image.Rect(0, 0, working.Cols(), working.Rows())
	}
	currGray := e.grayROI(working, roi)

	switch {
	case e.state == StateUninitialized:
		e.replacePrevious(frame.Clone(), currGray, size)
		e.state = StateFirstFrame
		e.frames++
		e.publish(start, 0, MotionZero, Motion{}, Identity())
		e.logger.Debug("first frame stored", "width", size.X, "height", size.Y)
		return frame.Clone(), nil

	case size != e.prevSize:
		e.logger.Warn("frame size changed, reseeding tracker",
			"from", e.prevSize.String(), "to", size.String())
		e.replacePrevious(frame.Clone(), currGray, size)
		e.frames++
		e.zeroMotion++
		e.publish(start, 0, MotionZero, Motion{}, Identity())
		if !e.enabled.Load() {
			return frame.Clone(), nil
		}
		return e.compensator.Mask(frame), nil
	}

	pairs := e.tracker.Track(e.prevGray, currGray, roi, e.cfg.DownSample)
	raw, source := e.measure(pairs)

	e.traj = e.traj.Add(raw)
	before := e.filter.Estimate()
	smoothed := e.filter.Observe(e.traj)

	comp := Correction(raw, smoothed, e.traj)
	if !comp.Finite() {
		e.nonFinite++
		e.logger.Warn("non-finite compensation, using identity", "frame", e.frames)
		comp = Identity()
	}

	var out gocv.Mat
	if e.enabled.Load() {
		if e.cfg.ShowROI || e.cfg.ShowTrackingPoints {
			DrawOverlays(&e.prevOrig, scaleRect(roi, e.cfg.DownSample), pairs,
				e.cfg.ShowROI, e.cfg.ShowTrackingPoints)
		}
		out = e.compensator.Render(e.prevOrig, comp)
	} else {
		out = frame.Clone()
	}

	e.replacePrevious(frame.Clone(), currGray, size)
	e.state = StateTracking
	e.frames++

	gain := e.filter.Gain()
	e.history.push(raw.DX, smoothed.X-before.X, gain[AxisX])
	e.publish(start, len(pairs), source, raw, comp)

	e.logger.Debug("frame stabilized",
		"frame", e.frames,
		"points", len(pairs),
		"source", source,
		"dx", raw.DX, "dy", raw.DY, "da", raw.DA)

	return out, nil
}

// measure turns tracked pairs into this frame's raw motion.
//
// No pairs means zero motion. A failed fit reuses the last measured
// transform, or identity before the first successful fit.
func (e *Engine) measure(pairs []PointPair) (Motion, MotionSource) {
	if len(pairs) == 0 {
		e.zeroMotion++
		return Motion{}, MotionZero
	}

	if t, ok := e.estimator.Estimate(pairs); ok {
		e.lastValid = t
		e.hasValid = true
		return t.Motion(), MotionMeasured
	}

	e.fallbacks++
	if e.hasValid {
		return e.lastValid.Motion(), MotionFallback
	}
	return Motion{}, MotionIdentity
}

// grayROI returns an owned grayscale crop of the working frame.
func (e *Engine) grayROI(working gocv.Mat, roi image.Rectangle) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	e.ops.Gray(working, &gray)

	region := gray.Region(roi)
	defer region.Close()
	return region.Clone()
}

// replacePrevious swaps in new retained buffers and releases the old ones.
func (e *Engine) replacePrevious(orig, gray gocv.Mat, size image.Point) {
	if e.state != StateUninitialized {
		e.prevOrig.Close()
		e.prevGray.Close()
	}
	e.prevOrig = orig
	e.prevGray = gray
	e.prevSize = size
}

// publish refreshes the stats snapshot. Caller holds e.mu.
func (e *Engine) publish(start time.Time, points int, source MotionSource, raw Motion, comp Transform) {
	elapsed := time.Since(start)
	fps := 0.0
	if elapsed > 0 {
		fps = float64(time.Second) / float64(elapsed)
	}

	s := Stats{
		Session:            e.session,
		Backend:            e.ops.Name(),
		State:              e.state.String(),
		Frames:             e.frames,
		TrackedPoints:      points,
		MotionSource:       source,
		Raw:                raw,
		Correction:         comp.Motion(),
		Trajectory:         e.traj,
		Smoothed:           e.filter.Estimate(),
		Covariance:         e.filter.Covariance(),
		Gain:               e.filter.Gain(),
		ZeroMotionFrames:   e.zeroMotion,
		FallbackFrames:     e.fallbacks,
		NonFiniteFallbacks: e.nonFinite,
		ProcessTime:        elapsed,
		FPS:                fps,
		Attenuation:        e.history.attenuation(),
		MeanGain:           e.history.meanGain(),
	}

	e.statsMu.Lock()
	e.stats = s
	e.statsMu.Unlock()
}

// Stats returns the latest snapshot.
func (e *Engine) Stats() Stats {
	e.statsMu.RLock()
	s := e.stats
	e.statsMu.RUnlock()
	s.Enabled = e.enabled.Load()
	return s
}

// ROIView returns a copy of the previous grayscale tracking crop, the
// "unstabilized ROI" debug view. It is empty before the first frame.
func (e *Engine) ROIView() gocv.Mat {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateUninitialized || e.closed {
		return gocv.NewMat()
	}
	return e.prevGray.Clone()
}

// Close releases the retained frames and any backend the engine opened.
// Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.state != StateUninitialized {
		e.prevOrig.Close()
		e.prevGray.Close()
	}
	if e.ownsOps {
		return e.ops.Close()
	}
	return nil
}

// scaleRect maps a working-frame rectangle back to full-frame pixels.
func scaleRect(r image.Rectangle, downSample float64) image.Rectangle {
	if downSample == 1 {
		return r
	}
	inv := 1 / downSample
	return image.Rect(
		int(float64(r.Min.X)*inv),
		int(float64(r.Min.Y)*inv),
		int(float64(r.Max.X)*inv),
		int(float64(r.Max.Y)*inv),
	)
}
