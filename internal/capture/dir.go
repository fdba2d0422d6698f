package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DirSource replays image files from a directory at a fixed interval,
// looping forever. PNG files are re-encoded as JPEG.
type DirSource struct {
	paths    []string
	interval time.Duration

	mu   sync.Mutex
	next int
	seq  uint64
	last time.Time
}

// NewDirSource lists the .jpg, .jpeg and .png files in dir in name order.
func NewDirSource(dir string, interval time.Duration) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images in %s: %w", dir, ErrNoFrame)
	}
	sort.Strings(paths)

	return &DirSource{paths: paths, interval: interval}, nil
}

// Len returns the number of files being replayed.
func (d *DirSource) Len() int {
	return len(d.paths)
}

// Read returns the next file. The first read is immediate; later reads
// wait until interval has passed since the previous one.
func (d *DirSource) Read(ctx context.Context) (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.last.IsZero() && d.interval > 0 {
		if wait := d.interval - time.Since(d.last); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Frame{}, ctx.Err()
			case <-timer.C:
			}
		}
	}

	path := d.paths[d.next]
	d.next = (d.next + 1) % len(d.paths)
	d.last = time.Now()

	data, err := loadJPEG(path)
	if err != nil {
		return Frame{}, err
	}
	d.seq++
	return Frame{Seq: d.seq, Captured: d.last, JPEG: data}, nil
}

// Close is a no-op; files are opened per read.
func (d *DirSource) Close() error {
	return nil
}

func loadJPEG(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoFrame)
	}
	if !strings.EqualFold(filepath.Ext(path), ".png") {
		return data, nil
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return encodeJPEG(img)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
