package video

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-stabilizer/internal/log"
)

// CaptureSource reads frames through OpenCV. The URI may be a device index
// ("0"), a file path, an RTSP URL or a GStreamer pipeline string.
type CaptureSource struct {
	uri    string
	vc     *gocv.VideoCapture
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// OpenCapture opens uri for reading.
func OpenCapture(uri string) (*CaptureSource, error) {
	vc, err := gocv.OpenVideoCapture(uri)
	if err != nil {
		return nil, fmt.Errorf("open capture %q: %w", uri, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open capture %q: not opened", uri)
	}

	s := &CaptureSource{
		uri:    uri,
		vc:     vc,
		logger: log.Component("capture").With("uri", uri),
	}
	s.logger.Info("capture opened", "fps", s.FPS(), "width", s.Size().X, "height", s.Size().Y)
	return s, nil
}

// Read grabs the next frame. A failed grab is treated as end of stream.
func (s *CaptureSource) Read(ctx context.Context, dst *gocv.Mat) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if ok := s.vc.Read(dst); !ok || dst.Empty() {
		return io.EOF
	}
	return nil
}

// FPS returns the stream's nominal frame rate, or 0 when unknown.
func (s *CaptureSource) FPS() float64 {
	return s.vc.Get(gocv.VideoCaptureFPS)
}

// Size returns the nominal frame size.
func (s *CaptureSource) Size() image.Point {
	return image.Pt(
		int(s.vc.Get(gocv.VideoCaptureFrameWidth)),
		int(s.vc.Get(gocv.VideoCaptureFrameHeight)),
	)
}

// Close releases the capture. It is safe to call more than once.
func (s *CaptureSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.vc.Close()
}
