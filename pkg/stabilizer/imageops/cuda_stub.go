//go:build !cuda

package imageops

import "fmt"

func newCUDA() (Ops, error) {
	return nil, fmt.Errorf("%w: binary built without the cuda tag", ErrBackendUnavailable)
}
