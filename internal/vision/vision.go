// Package vision turns a frame into identified face regions.
//
// Detection and embedding sit behind Detector. Identification compares each
// embedding against a gallery of labelled encodings and takes a majority
// vote over the entries within tolerance.
package vision

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/sweeney/face-trigger/internal/logic"
)

// Dim is the length of a face descriptor.
const Dim = 128

// DefaultTolerance is the maximum Euclidean distance that counts as a match.
const DefaultTolerance = 0.6

// ErrDimension is returned when a descriptor has the wrong length.
var ErrDimension = errors.New("vision: descriptor dimension mismatch")

// Detection is one face found in a frame.
type Detection struct {
	Region     image.Rectangle
	Descriptor []float32
}

// Detector finds faces in a JPEG image and computes their descriptors.
// Detections are returned in the detector's order.
type Detector interface {
	Detect(img []byte) ([]Detection, error)
	Close() error
}

// Match is one detected face with its resolved identity.
type Match struct {
	Region   image.Rectangle
	Identity logic.Identity
	Votes    int
}

// Entry is one labelled gallery encoding. A person may have several.
type Entry struct {
	Name     string
	Encoding []float32
}

// Gallery is the immutable set of known encodings.
type Gallery struct {
	entries []Entry
}

// NewGallery validates entries and copies them.
func NewGallery(entries []Entry) (*Gallery, error) {
	g := &Gallery{entries: make([]Entry, 0, len(entries))}
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("gallery entry %d: empty name", i)
		}
		if logic.Identity(e.Name) == logic.Unknown {
			return nil, fmt.Errorf("gallery entry %d: %q is reserved", i, e.Name)
		}
		if len(e.Encoding) != Dim {
			return nil, fmt.Errorf("gallery entry %d (%s): got %d values, want %d: %w",
				i, e.Name, len(e.Encoding), Dim, ErrDimension)
		}
		g.entries = append(g.entries, Entry{
			Name:     e.Name,
			Encoding: append([]float32(nil), e.Encoding...),
		})
	}
	return g, nil
}

// Len returns the number of encodings.
func (g *Gallery) Len() int {
	return len(g.entries)
}

// Names returns the distinct labels, sorted.
func (g *Gallery) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, e := range g.entries {
		if !seen[e.Name] {
			seen[e.Name] = true
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Identify votes over every entry within tolerance of desc. The label with
// the most votes wins; ties go to the lexicographically smallest label.
// With no votes the result is logic.Unknown.
func (g *Gallery) Identify(desc []float32, tolerance float64) (logic.Identity, int) {
	if len(desc) != Dim {
		return logic.Unknown, 0
	}

	votes := make(map[string]int)
	for _, e := range g.entries {
		if distance(e.Encoding, desc) <= tolerance {
			votes[e.Name]++
		}
	}

	best, bestVotes := "", 0
	for name, n := range votes {
		if n > bestVotes || (n == bestVotes && name < best) {
			best, bestVotes = name, n
		}
	}
	if bestVotes == 0 {
		return logic.Unknown, 0
	}
	return logic.Identity(best), bestVotes
}

func distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Resolver identifies every face in a frame.
type Resolver struct {
	detector  Detector
	gallery   *Gallery
	tolerance float64
}

// NewResolver creates a Resolver. A non-positive tolerance uses DefaultTolerance.
func NewResolver(detector Detector, gallery *Gallery, tolerance float64) *Resolver {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Resolver{detector: detector, gallery: gallery, tolerance: tolerance}
}

// Resolve returns one Match per detected face, in detection order.
func (r *Resolver) Resolve(img []byte) ([]Match, error) {
	dets, err := r.detector.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	matches := make([]Match, 0, len(dets))
	for _, d := range dets {
		id, votes := r.gallery.Identify(d.Descriptor, r.tolerance)
		matches = append(matches, Match{Region: d.Region, Identity: id, Votes: votes})
	}
	return matches, nil
}
