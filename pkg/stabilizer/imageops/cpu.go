package imageops

import (
	"image"

	"gocv.io/x/gocv"
)

// CPU runs every primitive through OpenCV on the host.
type CPU struct{}

// NewCPU creates the CPU backend.
func NewCPU() *CPU {
	return &CPU{}
}

// Name implements Ops.
func (c *CPU) Name() string { return BackendCPU }

// Resize implements Ops.
func (c *CPU) Resize(src gocv.Mat, dst *gocv.Mat, size image.Point) {
	gocv.Resize(src, dst, size, 0, 0, gocv.InterpolationLinear)
}

// Gray implements Ops.
func (c *CPU) Gray(src gocv.Mat, dst *gocv.Mat) {
	gocv.CvtColor(src, dst, gocv.ColorBGRToGray)
}

// OpticalFlow implements Ops.
func (c *CPU) OpticalFlow(prev, next, prevPts gocv.Mat, nextPts, status *gocv.Mat, p FlowParams) {
	flowErr := gocv.NewMat()
	defer flowErr.Close()

	criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, p.MaxIter, p.Epsilon)
	gocv.CalcOpticalFlowPyrLKWithParams(prev, next, prevPts, *nextPts, status, &flowErr,
		image.Pt(p.Window, p.Window), p.Levels, criteria, 0, 1e-4)
}

// WarpAffine implements Ops.
func (c *CPU) WarpAffine(src gocv.Mat, dst *gocv.Mat, m gocv.Mat, size image.Point) {
	gocv.WarpAffine(src, dst, m, size)
}

// Close implements Ops.
func (c *CPU) Close() error { return nil }
