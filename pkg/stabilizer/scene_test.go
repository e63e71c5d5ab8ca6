package stabilizer

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"gocv.io/x/gocv"
)

const (
	frameW = 320
	frameH = 240
	margin = 80
)

// scene is a large textured canvas; frames are crops of it, so moving the
// crop window simulates camera motion with exact ground truth.
type scene struct {
	canvas gocv.Mat
}

func newScene(t *testing.T, seed int64) *scene {
	t.Helper()

	w, h := frameW+2*margin, frameH+2*margin
	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), h, w, gocv.MatTypeCV8UC3)

	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < 220; i++ {
		x := rng.Intn(w - 10)
		y := rng.Intn(h - 10)
		rw := 6 + rng.Intn(30)
		rh := 6 + rng.Intn(30)
		c := color.RGBA{
			R: uint8(rng.Intn(256)),
			G: uint8(rng.Intn(256)),
			B: uint8(rng.Intn(256)),
		}
		gocv.Rectangle(&canvas, image.Rect(x, y, x+rw, y+rh), c, -1)
	}

	s := &scene{canvas: canvas}
	t.Cleanup(func() { canvas.Close() })
	return s
}

// frame crops the canvas with the camera offset (dx, dy) from centre.
func (s *scene) frame(dx, dy int) gocv.Mat {
	r := image.Rect(margin+dx, margin+dy, margin+dx+frameW, margin+dy+frameH)
	region := s.canvas.Region(r)
	defer region.Close()
	return region.Clone()
}

// uniformFrame is a textureless frame with nothing to track.
func uniformFrame() gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(90, 120, 150, 0), frameH, frameW, gocv.MatTypeCV8UC3)
}

// testConfig is the default config without zoom so geometry is easy to check.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ZoomFactor = 1.0
	cfg.MinDistance = 8
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// process runs one frame through the engine and closes the input.
func process(t *testing.T, e *Engine, frame gocv.Mat) gocv.Mat {
	t.Helper()
	defer frame.Close()
	out, err := e.Process(frame)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	return out
}
