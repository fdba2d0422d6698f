//go:build !dlib

package vision

import "errors"

// ErrDetectorUnsupported is returned when the binary was built without dlib.
var ErrDetectorUnsupported = errors.New("vision: face detection not compiled in (build with -tags dlib)")

// DlibDetector is not available without the dlib build tag.
type DlibDetector struct{}

// NewDlibDetector returns ErrDetectorUnsupported.
func NewDlibDetector(modelDir string) (*DlibDetector, error) {
	return nil, ErrDetectorUnsupported
}

func (d *DlibDetector) Detect([]byte) ([]Detection, error) {
	return nil, ErrDetectorUnsupported
}

func (d *DlibDetector) Close() error {
	return nil
}
