package stabilizer

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-stabilizer/pkg/stabilizer/imageops"
)

func apply(t Transform, x, y float64) (float64, float64) {
	return t[0][0]*x + t[0][1]*y + t[0][2], t[1][0]*x + t[1][1]*y + t[1][2]
}

func TestCorrection(t *testing.T) {
	raw := Motion{DX: 2, DY: -1, DA: 0.01}
	smoothed := Trajectory{X: 10, Y: 4, A: 0.02}
	cumulative := Trajectory{X: 13, Y: 3, A: 0.05}

	got := Correction(raw, smoothed, cumulative).Motion()
	assert.InDelta(t, -1.0, got.DX, 1e-12)
	assert.InDelta(t, 0.0, got.DY, 1e-12)
	assert.InDelta(t, -0.02, got.DA, 1e-12)
}

func TestCorrection_OnSmoothPathIsRaw(t *testing.T) {
	raw := Motion{DX: 1.5, DY: 0.5}
	traj := Trajectory{X: 20, Y: -8}
	assert.Equal(t, RigidTransform(raw), Correction(raw, traj, traj))
}

func TestZoomTransform(t *testing.T) {
	size := image.Pt(200, 100)

	z := ZoomTransform(size, 1)
	assert.Equal(t, Identity(), z)

	z = ZoomTransform(size, 0.5)
	cx, cy := apply(z, 100, 50)
	assert.InDelta(t, 100, cx, 1e-12, "centre is fixed")
	assert.InDelta(t, 50, cy, 1e-12)

	x, y := apply(z, 150, 75)
	assert.InDelta(t, 200, x, 1e-12, "content is magnified by 1/zoom")
	assert.InDelta(t, 100, y, 1e-12)
}

func TestTransform_Then(t *testing.T) {
	a := RigidTransform(Motion{DX: 3, DA: 0.2})
	b := ZoomTransform(image.Pt(100, 100), 0.8)
	ab := a.Then(b)

	for _, p := range [][2]float64{{0, 0}, {10, 40}, {-5, 77}} {
		x1, y1 := apply(a, p[0], p[1])
		x2, y2 := apply(b, x1, y1)
		gx, gy := apply(ab, p[0], p[1])
		assert.InDelta(t, x2, gx, 1e-9)
		assert.InDelta(t, y2, gy, 1e-9)
	}

	assert.Equal(t, a, a.Then(Identity()))
}

func TestCompensator_IdentityKeepsFrame(t *testing.T) {
	s := newScene(t, 21)
	c := NewCompensator(imageops.NewCPU(), testConfig())

	in := s.frame(0, 0)
	defer in.Close()
	out := c.Render(in, Identity())
	defer out.Close()

	require.Equal(t, in.Rows(), out.Rows())
	require.Equal(t, in.Cols(), out.Cols())
	assert.Equal(t, in.ToBytes(), out.ToBytes())
}

func TestCompensator_TranslationMovesContent(t *testing.T) {
	s := newScene(t, 22)
	c := NewCompensator(imageops.NewCPU(), testConfig())

	in := s.frame(0, 0)
	defer in.Close()
	out := c.Render(in, RigidTransform(Motion{DX: 5, DY: 3}))
	defer out.Close()

	for _, p := range []image.Point{{100, 100}, {200, 60}, {40, 180}} {
		assert.Equal(t, in.GetVecbAt(p.Y, p.X), out.GetVecbAt(p.Y+3, p.X+5), "pixel %v", p)
	}
}

func TestApplyMask(t *testing.T) {
	src := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(50, 60, 70, 0), 40, 60, gocv.MatTypeCV8UC3)
	defer src.Close()

	out := applyMask(src, MaskRect{X0: 10, Y0: 5, X1: 29, Y1: 24}.Rect())
	defer out.Close()

	assert.Equal(t, uint8(50), out.GetVecbAt(5, 10)[0])
	assert.Equal(t, uint8(70), out.GetVecbAt(24, 29)[2])
	assert.Equal(t, uint8(0), out.GetVecbAt(4, 10)[0])
	assert.Equal(t, uint8(0), out.GetVecbAt(5, 30)[0])
	assert.Equal(t, uint8(0), out.GetVecbAt(39, 59)[1])

	outside := applyMask(src, image.Rect(100, 100, 200, 200))
	defer outside.Close()
	assert.Equal(t, uint8(0), outside.GetVecbAt(20, 30)[0], "mask beyond the frame blanks everything")
}

func TestDrawOverlays(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 100, 100, gocv.MatTypeCV8UC3)
	defer frame.Close()

	pairs := []PointPair{{Prev: gocv.Point2f{X: 70, Y: 70}}}
	DrawOverlays(&frame, image.Rect(10, 10, 50, 50), pairs, true, true)

	assert.Equal(t, uint8(211), frame.GetVecbAt(10, 10)[0], "ROI corner")
	assert.Equal(t, uint8(211), frame.GetVecbAt(70, 75)[1], "point circle edge")
	assert.Equal(t, uint8(0), frame.GetVecbAt(30, 30)[0], "ROI is not filled")
}

func TestDrawOverlays_Disabled(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 40, 40, gocv.MatTypeCV8UC3)
	defer frame.Close()

	DrawOverlays(&frame, image.Rect(5, 5, 30, 30), []PointPair{{Prev: gocv.Point2f{X: 20, Y: 20}}}, false, false)
	sum := frame.Sum()
	assert.Zero(t, math.Abs(sum.Val1)+math.Abs(sum.Val2)+math.Abs(sum.Val3))
}
