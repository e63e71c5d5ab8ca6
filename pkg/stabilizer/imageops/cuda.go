//go:build cuda

package imageops

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
	"gocv.io/x/gocv/cuda"
)

// CUDA uploads frames to the GPU for resize and colour conversion.
// Flow and warp stay on the CPU path so both backends share one numeric
// contract for the motion estimate.
type CUDA struct {
	CPU

	mu  sync.Mutex
	src cuda.GpuMat
	dst cuda.GpuMat
}

func newCUDA() (Ops, error) {
	if n := cuda.GetCudaEnabledDeviceCount(); n < 1 {
		return nil, fmt.Errorf("%w: no CUDA-enabled device", ErrBackendUnavailable)
	}
	return &CUDA{
		src: cuda.NewGpuMat(),
		dst: cuda.NewGpuMat(),
	}, nil
}

// Name implements Ops.
func (c *CUDA) Name() string { return BackendCUDA }

// Resize implements Ops.
func (c *CUDA) Resize(src gocv.Mat, dst *gocv.Mat, size image.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.src.Upload(src)
	cuda.Resize(c.src, &c.dst, size, 0, 0, cuda.InterpolationLinear)
	c.dst.Download(dst)
}

// Gray implements Ops.
func (c *CUDA) Gray(src gocv.Mat, dst *gocv.Mat) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.src.Upload(src)
	cuda.CvtColor(c.src, &c.dst, gocv.ColorBGRToGray)
	c.dst.Download(dst)
}

// Close implements Ops.
func (c *CUDA) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.src.Close()
	c.dst.Close()
	return nil
}
