package video

import (
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-stabilizer/internal/log"
)

// FileSink writes frames to a video file. The writer is opened on the first
// frame so the output takes the stream's resolution.
type FileSink struct {
	path   string
	codec  string
	fps    float64
	logger *slog.Logger

	mu     sync.Mutex
	w      *gocv.VideoWriter
	size   image.Point
	frames uint64
	closed bool
}

// NewFileSink creates a sink writing to path with a FourCC codec such as
// "mp4v" or "MJPG".
func NewFileSink(path, codec string, fps float64) *FileSink {
	if fps <= 0 {
		fps = 30
	}
	return &FileSink{
		path:   path,
		codec:  codec,
		fps:    fps,
		logger: log.Component("filesink").With("path", path),
	}
}

// Write appends one frame. Frames must keep the first frame's size.
func (s *FileSink) Write(frame gocv.Mat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	size := image.Pt(frame.Cols(), frame.Rows())
	if s.w == nil {
		w, err := gocv.VideoWriterFile(s.path, s.codec, s.fps, size.X, size.Y, true)
		if err != nil {
			return fmt.Errorf("open video writer: %w", err)
		}
		if !w.IsOpened() {
			w.Close()
			return fmt.Errorf("open video writer %q: not opened", s.path)
		}
		s.w = w
		s.size = size
		s.logger.Info("recording", "codec", s.codec, "fps", s.fps, "width", size.X, "height", size.Y)
	}
	if size != s.size {
		return fmt.Errorf("frame size %v does not match recording size %v", size, s.size)
	}

	if err := s.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	s.frames++
	return nil
}

// Alive reports whether the sink is open.
func (s *FileSink) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close finalizes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.w == nil {
		return nil
	}
	s.logger.Info("recording finished", "frames", s.frames)
	return s.w.Close()
}

// Key codes reported by WindowSink.
const (
	KeyToggle = 's'
	KeyQuit   = 'q'
	KeyEscape = 27
)

// WindowSink shows frames in an OpenCV window and polls the keyboard after
// each frame. OnKey receives every key press; q, Q and ESC also close the sink.
type WindowSink struct {
	title string
	win   *gocv.Window
	OnKey func(key int)

	alive atomic.Bool
}

// NewWindowSink opens a preview window.
func NewWindowSink(title string) *WindowSink {
	s := &WindowSink{
		title: title,
		win:   gocv.NewWindow(title),
	}
	s.alive.Store(true)
	return s
}

// Write shows frame and handles a pending key press.
func (s *WindowSink) Write(frame gocv.Mat) error {
	if !s.alive.Load() {
		return ErrClosed
	}
	s.win.IMShow(frame)
	key := s.win.WaitKey(1)
	if key < 0 {
		return nil
	}
	s.handleKey(key & 0xff)
	return nil
}

func (s *WindowSink) handleKey(key int) {
	if s.OnKey != nil {
		s.OnKey(key)
	}
	if IsQuitKey(key) {
		s.alive.Store(false)
	}
}

// IsQuitKey reports whether key closes a WindowSink: q, Q or ESC.
func IsQuitKey(key int) bool {
	return key == KeyQuit || key == 'Q' || key == KeyEscape
}

// SetTitle updates the window title, e.g. with the current FPS.
func (s *WindowSink) SetTitle(title string) {
	s.win.SetWindowTitle(title)
}

// Alive is false after the user quit.
func (s *WindowSink) Alive() bool { return s.alive.Load() }

// Close destroys the window.
func (s *WindowSink) Close() error {
	s.alive.Store(false)
	return s.win.Close()
}

// Broadcaster publishes binary messages to connected viewers.
// *hub.Hub satisfies it.
type Broadcaster interface {
	BroadcastBinary(data []byte)
	ClientCount() int
}

// PreviewSink JPEG-encodes frames for websocket viewers. Frames are skipped
// while nobody is watching and throttled to at most one per interval.
type PreviewSink struct {
	out      Broadcaster
	interval time.Duration
	quality  int
	width    int

	mu   sync.Mutex
	last time.Time
	sent uint64
	now  func() time.Time
}

// NewPreviewSink creates a preview sink. width scales frames down before
// encoding; zero keeps the original size.
func NewPreviewSink(out Broadcaster, interval time.Duration, quality, width int) *PreviewSink {
	if quality <= 0 || quality > 100 {
		quality = 70
	}
	return &PreviewSink{
		out:      out,
		interval: interval,
		quality:  quality,
		width:    width,
		now:      time.Now,
	}
}

// Write encodes and broadcasts frame if a viewer is connected and the
// throttle interval has passed.
func (s *PreviewSink) Write(frame gocv.Mat) error {
	if s.out.ClientCount() == 0 {
		return nil
	}

	s.mu.Lock()
	now := s.now()
	if !s.last.IsZero() && now.Sub(s.last) < s.interval {
		s.mu.Unlock()
		return nil
	}
	s.last = now
	s.mu.Unlock()

	data, err := s.encode(frame)
	if err != nil {
		return err
	}
	s.out.BroadcastBinary(data)

	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	return nil
}

func (s *PreviewSink) encode(frame gocv.Mat) ([]byte, error) {
	src := frame
	if s.width > 0 && frame.Cols() > s.width {
		h := frame.Rows() * s.width / frame.Cols()
		small := gocv.NewMat()
		defer small.Close()
		gocv.Resize(frame, &small, image.Pt(s.width, h), 0, 0, gocv.InterpolationArea)
		src = small
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, src, []int{int(gocv.IMWriteJpegQuality), s.quality})
	if err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Sent returns how many previews were broadcast.
func (s *PreviewSink) Sent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Alive is always true; viewers come and go.
func (s *PreviewSink) Alive() bool { return true }

// Close is a no-op.
func (s *PreviewSink) Close() error { return nil }
