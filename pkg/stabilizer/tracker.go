package stabilizer

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-stabilizer/pkg/stabilizer/imageops"
)

// PointPair is one feature tracked from the previous frame into the current
// one, in full-frame pixel coordinates.
type PointPair struct {
	Prev gocv.Point2f
	Curr gocv.Point2f
}

// ComputeROI returns the centred tracking region of a frame of the given
// size. A divisor of 4 keeps the middle half of each axis.
func ComputeROI(size image.Point, divisor float64) image.Rectangle {
	w, h := float64(size.X), float64(size.Y)
	return image.Rect(
		int(w/divisor),
		int(h/divisor),
		int(w-w/divisor),
		int(h-h/divisor),
	)
}

// Tracker detects corners in the previous ROI and follows them into the
// current ROI with pyramidal Lucas-Kanade flow.
type Tracker struct {
	ops          imageops.Ops
	maxCorners   int
	qualityLevel float64
	minDistance  float64
	flow         imageops.FlowParams
}

// NewTracker creates a feature tracker from the config's tracking fields.
func NewTracker(ops imageops.Ops, cfg Config) *Tracker {
	return &Tracker{
		ops:          ops,
		maxCorners:   cfg.MaxCorners,
		qualityLevel: cfg.QualityLevel,
		minDistance:  cfg.MinDistance,
		flow:         cfg.FlowParams(),
	}
}

// Track returns the successfully tracked pairs. roi locates the crops in the
// working frame and scale is the working/full-frame ratio (the downsample
// factor); returned coordinates are in the full frame. Lost tracks are
// dropped silently and a featureless crop yields an empty result.
func (t *Tracker) Track(prevROI, currROI gocv.Mat, roi image.Rectangle, scale float64) []PointPair {
	if prevROI.Empty() || currROI.Empty() {
		return nil
	}

	corners := gocv.NewMat()
	defer corners.Close()
	gocv.GoodFeaturesToTrack(prevROI, &corners, t.maxCorners, t.qualityLevel, t.minDistance)
	if corners.Empty() || corners.Rows() == 0 {
		return nil
	}

	next := gocv.NewMat()
	defer next.Close()
	status := gocv.NewMat()
	defer status.Close()
	t.ops.OpticalFlow(prevROI, currROI, corners, &next, &status, t.flow)

	if next.Rows() != corners.Rows() || status.Rows() != corners.Rows() {
		return nil
	}

	offX, offY := float32(roi.Min.X), float32(roi.Min.Y)
	inv := float32(1 / scale)

	pairs := make([]PointPair, 0, corners.Rows())
	for i := 0; i < corners.Rows(); i++ {
		if status.GetUCharAt(i, 0) != 1 {
			continue
		}
		p := corners.GetVecfAt(i, 0)
		c := next.GetVecfAt(i, 0)
		pairs = append(pairs, PointPair{
			Prev: gocv.Point2f{X: (p[0] + offX) * inv, Y: (p[1] + offY) * inv},
			Curr: gocv.Point2f{X: (c[0] + offX) * inv, Y: (c[1] + offY) * inv},
		})
	}
	return pairs
}
