//go:build !opencl

package device

import "errors"

// NewOpenCLBackend is unavailable without the "opencl" build tag.
func NewOpenCLBackend() (Backend, error) {
	return nil, errors.New("built without OpenCL support (rebuild with -tags opencl)")
}
