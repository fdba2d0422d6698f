//go:build gocv

package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// CameraSource reads frames from a V4L2/USB camera through OpenCV.
type CameraSource struct {
	mu  sync.Mutex
	cap *gocv.VideoCapture
	mat gocv.Mat
	seq uint64
}

// NewCameraSource opens the camera at device index and requests the given
// resolution. The driver may pick the nearest supported size.
func NewCameraSource(device, width, height int) (*CameraSource, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", device, err)
	}
	if width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	return &CameraSource{cap: vc, mat: gocv.NewMat()}, nil
}

// Read grabs one frame and encodes it as JPEG.
func (c *CameraSource) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ok := c.cap.Read(&c.mat); !ok || c.mat.Empty() {
		return Frame{}, ErrNoFrame
	}
	captured := time.Now()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, c.mat)
	if err != nil {
		return Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases C memory that Close frees.
	data := append([]byte(nil), buf.GetBytes()...)

	c.seq++
	return Frame{Seq: c.seq, Captured: captured, JPEG: data}, nil
}

// Close releases the camera.
func (c *CameraSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mat.Close()
	if err := c.cap.Close(); err != nil {
		return fmt.Errorf("close camera: %w", err)
	}
	return nil
}
