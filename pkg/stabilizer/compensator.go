package stabilizer

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-stabilizer/pkg/stabilizer/imageops"
)

// overlayColor is the light grey used for debug overlays.
var overlayColor = color.RGBA{R: 211, G: 211, B: 211, A: 0}

// Correction combines a frame's raw motion with the gap between the smoothed
// and raw cumulative trajectories. The result undoes the high-frequency part
// of the motion and keeps the smoothed path.
func Correction(raw Motion, smoothed, cumulative Trajectory) Transform {
	diff := smoothed.Sub(cumulative)
	return RigidTransform(Motion{
		DX: raw.DX + diff.X,
		DY: raw.DY + diff.Y,
		DA: raw.DA + diff.A,
	})
}

// ZoomTransform scales about the frame centre. zoomFactor < 1 magnifies by
// 1/zoomFactor so the warp's empty borders fall outside the output.
func ZoomTransform(size image.Point, zoomFactor float64) Transform {
	s := 1 / zoomFactor
	cx, cy := float64(size.X)/2, float64(size.Y)/2
	return Transform{
		{s, 0, (1 - s) * cx},
		{0, s, (1 - s) * cy},
	}
}

// Then returns the transform that applies t first and next second.
func (t Transform) Then(next Transform) Transform {
	var out Transform
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			out[r][c] = next[r][0]*t[0][c] + next[r][1]*t[1][c]
		}
		out[r][2] = next[r][0]*t[0][2] + next[r][1]*t[1][2] + next[r][2]
	}
	return out
}

// Compensator renders the stabilized frame.
type Compensator struct {
	ops        imageops.Ops
	zoomFactor float64
	mask       *image.Rectangle
}

// NewCompensator creates a compensator from the config's zoom and mask.
func NewCompensator(ops imageops.Ops, cfg Config) *Compensator {
	c := &Compensator{
		ops:        ops,
		zoomFactor: cfg.ZoomFactor,
	}
	if cfg.MaskEnabled {
		r := cfg.Mask.Rect()
		c.mask = &r
	}
	return c
}

// Render warps frame by t, zooms about the centre to hide the borders and
// applies the static mask. The output has frame's resolution and is owned by
// the caller.
func (c *Compensator) Render(frame gocv.Mat, t Transform) gocv.Mat {
	size := image.Pt(frame.Cols(), frame.Rows())

	// Warp and zoom share one resample.
	full := t.Then(ZoomTransform(size, c.zoomFactor))
	m := full.Mat()
	defer m.Close()

	out := gocv.NewMat()
	c.ops.WarpAffine(frame, &out, m, size)

	if c.mask == nil {
		return out
	}
	masked := applyMask(out, *c.mask)
	out.Close()
	return masked
}

// Mask returns a copy of frame with the static mask applied, or a plain
// copy when no mask is configured.
func (c *Compensator) Mask(frame gocv.Mat) gocv.Mat {
	if c.mask == nil {
		return frame.Clone()
	}
	return applyMask(frame, *c.mask)
}

// applyMask copies the pixels inside rect onto a black frame.
func applyMask(src gocv.Mat, rect image.Rectangle) gocv.Mat {
	dst := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), src.Rows(), src.Cols(), src.Type())

	r := rect.Intersect(image.Rect(0, 0, src.Cols(), src.Rows()))
	if r.Empty() {
		return dst
	}

	from := src.Region(r)
	defer from.Close()
	to := dst.Region(r)
	defer to.Close()
	from.CopyTo(&to)
	return dst
}

// DrawOverlays marks the tracking region and tracked points on frame.
// roi is in full-frame coordinates.
func DrawOverlays(frame *gocv.Mat, roi image.Rectangle, pairs []PointPair, showROI, showPoints bool) {
	if showROI {
		gocv.Rectangle(frame, roi, overlayColor, 1)
	}
	if showPoints {
		for _, p := range pairs {
			gocv.Circle(frame, image.Pt(int(p.Prev.X), int(p.Prev.Y)), 5, overlayColor, 1)
		}
	}
}
