package stabilizer

import (
	"math"

	"gocv.io/x/gocv"
)

// Motion is one frame-to-frame increment: translation in full-frame pixels
// and rotation in radians.
type Motion struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
	DA float64 `json:"da"`
}

// MotionSource records where a frame's raw motion came from.
type MotionSource string

const (
	// MotionMeasured is a fresh similarity fit.
	MotionMeasured MotionSource = "measured"
	// MotionZero means no points were tracked and zero motion was assumed.
	MotionZero MotionSource = "zero"
	// MotionFallback reused the last valid transform after a failed fit.
	MotionFallback MotionSource = "fallback"
	// MotionIdentity means the fit failed before any valid transform existed.
	MotionIdentity MotionSource = "identity"
)

// Transform is a 2x3 affine matrix [R·s | t].
type Transform [2][3]float64

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{{1, 0, 0}, {0, 1, 0}}
}

// RigidTransform builds a rotation by da followed by a translation (dx, dy).
func RigidTransform(m Motion) Transform {
	c, s := math.Cos(m.DA), math.Sin(m.DA)
	return Transform{
		{c, -s, m.DX},
		{s, c, m.DY},
	}
}

// Motion extracts translation and rotation. Uniform scale is ignored.
func (t Transform) Motion() Motion {
	return Motion{
		DX: t[0][2],
		DY: t[1][2],
		DA: math.Atan2(t[1][0], t[0][0]),
	}
}

// Finite reports whether every entry is a real number.
func (t Transform) Finite() bool {
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			v := t[r][c]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// Mat converts the transform to a CV_64F 2x3 matrix. The caller closes it.
func (t Transform) Mat() gocv.Mat {
	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, t[r][c])
		}
	}
	return m
}

// transformFromMat reads a CV_64F 2x3 matrix.
func transformFromMat(m gocv.Mat) Transform {
	var t Transform
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			t[r][c] = m.GetDoubleAt(r, c)
		}
	}
	return t
}

// Estimator fits a partial similarity transform (rotation, uniform scale,
// translation) to matched points with RANSAC.
type Estimator struct{}

// NewEstimator creates a motion estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Estimate returns the transform mapping Prev onto Curr. The bool is false
// when fewer than two distinct correspondences exist or the fit fails.
func (e *Estimator) Estimate(pairs []PointPair) (Transform, bool) {
	if len(pairs) < 2 || degenerate(pairs) {
		return Transform{}, false
	}

	from := make([]gocv.Point2f, len(pairs))
	to := make([]gocv.Point2f, len(pairs))
	for i, p := range pairs {
		from[i] = p.Prev
		to[i] = p.Curr
	}

	fromVec := gocv.NewPoint2fVectorFromPoints(from)
	defer fromVec.Close()
	toVec := gocv.NewPoint2fVectorFromPoints(to)
	defer toVec.Close()

	m := gocv.EstimateAffinePartial2D(fromVec, toVec)
	defer m.Close()

	if m.Empty() || m.Rows() != 2 || m.Cols() != 3 {
		return Transform{}, false
	}

	t := transformFromMat(m)
	if !t.Finite() {
		return Transform{}, false
	}
	return t, true
}

// degenerate reports whether all source points coincide.
func degenerate(pairs []PointPair) bool {
	first := pairs[0].Prev
	for _, p := range pairs[1:] {
		if p.Prev != first {
			return false
		}
	}
	return true
}
