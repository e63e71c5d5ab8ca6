// Package stream drives frames from a source through the stabilizer into a
// sink, one output frame per input frame.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-stabilizer/internal/log"
	"github.com/teslashibe/go-stabilizer/pkg/stabilizer"
	"github.com/teslashibe/go-stabilizer/pkg/video"
)

// Progress logging cadence: every frame at startup, then every Nth.
const (
	logFirstFrames = 15
	logEvery       = 25
)

// Stabilizer is the part of the engine the runner drives.
// *stabilizer.Engine satisfies it.
type Stabilizer interface {
	Process(frame gocv.Mat) (gocv.Mat, error)
	Toggle() bool
	SetEnabled(on bool)
	Stats() stabilizer.Stats
}

// Runner moves frames from a Source through a Stabilizer into a Sink.
type Runner struct {
	src    video.Source
	stab   Stabilizer
	sink   video.Sink
	logger *slog.Logger

	commands chan Command
	frames   atomic.Uint64

	// OnFrame, if set, is called after each frame with the latest stats.
	OnFrame func(stabilizer.Stats)
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithCommandBuffer sets the command channel depth.
func WithCommandBuffer(n int) Option {
	return func(r *Runner) { r.commands = make(chan Command, n) }
}

// NewRunner creates a pipeline. The runner does not own src, stab or sink.
func NewRunner(src video.Source, stab Stabilizer, sink video.Sink, opts ...Option) *Runner {
	r := &Runner{
		src:      src,
		stab:     stab,
		sink:     sink,
		logger:   log.Component("stream"),
		commands: make(chan Command, 8),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Commands returns the channel runtime commands are sent on. Commands are
// applied between frames.
func (r *Runner) Commands() chan<- Command { return r.commands }

// Send queues a command without blocking. It reports false when the queue
// is full.
func (r *Runner) Send(c Command) bool {
	select {
	case r.commands <- c:
		return true
	default:
		return false
	}
}

// Frames returns how many frames have been emitted.
func (r *Runner) Frames() uint64 { return r.frames.Load() }

// Run processes frames until the source ends, the sink stops accepting
// frames, a quit command arrives or ctx is cancelled. End of stream and
// quitting return nil.
func (r *Runner) Run(ctx context.Context) error {
	frame := gocv.NewMat()
	defer frame.Close()

	start := time.Now()
	r.logger.Info("pipeline started")
	defer func() {
		n := r.frames.Load()
		elapsed := time.Since(start)
		fps := 0.0
		if elapsed > 0 {
			fps = float64(n) / elapsed.Seconds()
		}
		r.logger.Info("pipeline stopped", "frames", n, "elapsed", elapsed.Round(time.Millisecond), "fps", fps)
	}()

	for {
		if quit := r.drainCommands(); quit {
			return nil
		}
		if !r.sink.Alive() {
			r.logger.Info("sink closed")
			return nil
		}

		if err := r.src.Read(ctx, &frame); err != nil {
			switch {
			case errors.Is(err, io.EOF):
				r.logger.Info("end of stream")
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				return fmt.Errorf("read frame: %w", err)
			}
		}

		out, err := r.stab.Process(frame)
		if err != nil {
			out.Close()
			return fmt.Errorf("stabilize frame %d: %w", r.frames.Load()+1, err)
		}
		werr := r.sink.Write(out)
		out.Close()
		if werr != nil {
			return fmt.Errorf("write frame: %w", werr)
		}

		n := r.frames.Add(1)
		if r.OnFrame != nil || n <= logFirstFrames || n%logEvery == 0 {
			st := r.stab.Stats()
			if n <= logFirstFrames || n%logEvery == 0 {
				r.logProgress(n, st)
			}
			if r.OnFrame != nil {
				r.OnFrame(st)
			}
		}
	}
}

func (r *Runner) drainCommands() (quit bool) {
	for {
		select {
		case c := <-r.commands:
			if r.apply(c) {
				return true
			}
		default:
			return false
		}
	}
}

func (r *Runner) apply(c Command) (quit bool) {
	switch c {
	case CmdToggle:
		on := r.stab.Toggle()
		r.logger.Info("stabilization toggled", "enabled", on)
	case CmdEnable:
		r.stab.SetEnabled(true)
		r.logger.Info("stabilization enabled")
	case CmdDisable:
		r.stab.SetEnabled(false)
		r.logger.Info("stabilization disabled")
	case CmdQuit:
		r.logger.Info("quit requested")
		return true
	default:
		r.logger.Warn("unknown command", "command", int(c))
	}
	return false
}

func (r *Runner) logProgress(n uint64, st stabilizer.Stats) {
	r.logger.Info("frame",
		"n", n,
		"enabled", st.Enabled,
		"points", st.TrackedPoints,
		"motion", st.MotionSource,
		"dx", st.Raw.DX,
		"dy", st.Raw.DY,
		"da", st.Raw.DA,
		"gain", st.Gain[stabilizer.AxisX],
		"cov", st.Covariance[stabilizer.AxisX],
		"process", st.ProcessTime,
	)
}
