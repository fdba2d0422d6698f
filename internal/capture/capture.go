// Package capture acquires frames for the recognizer.
//
// A Frame is immutable once returned: the control loop hands the same
// JPEG bytes to the resolver and, as the snapshot, to the notifier.
package capture

import (
	"context"
	"errors"
	"time"
)

// ErrNoFrame is returned when a source produced nothing usable.
var ErrNoFrame = errors.New("capture: no frame available")

// Frame is a single JPEG-encoded image.
type Frame struct {
	Seq      uint64
	Captured time.Time
	JPEG     []byte
}

// Source yields frames. Read blocks until a frame is available or ctx is done.
type Source interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}
