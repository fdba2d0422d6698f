package vision

import "sync"

// FakeDetector returns scripted detections keyed by the image bytes.
// Unknown images yield no faces. Safe for concurrent use.
type FakeDetector struct {
	mu sync.Mutex

	// Faces maps string(img) to the detections returned for it.
	Faces map[string][]Detection

	// DetectError, if set, will be returned by Detect()
	DetectError error

	calls  int
	closed bool
}

// NewFakeDetector creates a FakeDetector with no scripted images.
func NewFakeDetector() *FakeDetector {
	return &FakeDetector{Faces: make(map[string][]Detection)}
}

// Add scripts the detections returned for img.
func (f *FakeDetector) Add(img string, dets ...Detection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Faces[img] = append(f.Faces[img], dets...)
}

// Detect returns the detections scripted for img.
func (f *FakeDetector) Detect(img []byte) ([]Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.DetectError != nil {
		return nil, f.DetectError
	}
	return append([]Detection(nil), f.Faces[string(img)]...), nil
}

// Calls returns the number of Detect calls.
func (f *FakeDetector) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Close marks the detector as closed.
func (f *FakeDetector) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Descriptor builds a Dim-length descriptor with every component set to v.
// Two descriptors built this way are |a-b|*sqrt(Dim) apart.
func Descriptor(v float32) []float32 {
	d := make([]float32, Dim)
	for i := range d {
		d[i] = v
	}
	return d
}
