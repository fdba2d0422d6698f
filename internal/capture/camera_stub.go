//go:build !gocv

package capture

import (
	"context"
	"errors"
)

// ErrCameraUnsupported is returned when the binary was built without OpenCV.
var ErrCameraUnsupported = errors.New("capture: camera support not compiled in (build with -tags gocv)")

// CameraSource is not available without the gocv build tag.
type CameraSource struct{}

// NewCameraSource returns ErrCameraUnsupported.
func NewCameraSource(device, width, height int) (*CameraSource, error) {
	return nil, ErrCameraUnsupported
}

func (c *CameraSource) Read(context.Context) (Frame, error) {
	return Frame{}, ErrCameraUnsupported
}

func (c *CameraSource) Close() error {
	return nil
}
