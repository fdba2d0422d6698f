package vision

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/face-trigger/internal/logic"
)

func testGallery(t *testing.T, entries ...Entry) *Gallery {
	t.Helper()
	g, err := NewGallery(entries)
	require.NoError(t, err)
	return g
}

func TestIdentifyNoEntriesIsUnknown(t *testing.T) {
	g := testGallery(t)
	id, votes := g.Identify(Descriptor(0), DefaultTolerance)
	assert.Equal(t, logic.Unknown, id)
	assert.Zero(t, votes)
}

func TestIdentifyOutsideToleranceIsUnknown(t *testing.T) {
	g := testGallery(t, Entry{Name: "alice", Encoding: Descriptor(0)})

	id, _ := g.Identify(Descriptor(0.5), DefaultTolerance)
	assert.Equal(t, logic.Unknown, id)
}

func TestIdentifyWithinTolerance(t *testing.T) {
	g := testGallery(t, Entry{Name: "alice", Encoding: Descriptor(0)})

	id, votes := g.Identify(Descriptor(0.01), DefaultTolerance)
	assert.Equal(t, logic.Identity("alice"), id)
	assert.Equal(t, 1, votes)
}

func TestIdentifyExactToleranceMatches(t *testing.T) {
	g := testGallery(t, Entry{Name: "alice", Encoding: Descriptor(0)})
	desc := Descriptor(0)
	desc[0] = 0.5

	id, _ := g.Identify(desc, 0.5)
	assert.Equal(t, logic.Identity("alice"), id, "distance equal to tolerance counts")
}

func TestIdentifyMajorityWins(t *testing.T) {
	g := testGallery(t,
		Entry{Name: "bob", Encoding: Descriptor(0.00)},
		Entry{Name: "alice", Encoding: Descriptor(0.01)},
		Entry{Name: "bob", Encoding: Descriptor(0.02)},
	)

	id, votes := g.Identify(Descriptor(0.01), DefaultTolerance)
	assert.Equal(t, logic.Identity("bob"), id)
	assert.Equal(t, 2, votes)
}

func TestIdentifyTieBreaksLexicographically(t *testing.T) {
	g := testGallery(t,
		Entry{Name: "zoe", Encoding: Descriptor(0.00)},
		Entry{Name: "alice", Encoding: Descriptor(0.02)},
	)

	for i := 0; i < 20; i++ {
		id, votes := g.Identify(Descriptor(0.01), DefaultTolerance)
		require.Equal(t, logic.Identity("alice"), id, "iteration %d", i)
		require.Equal(t, 1, votes)
	}
}

func TestIdentifyWrongDimensionIsUnknown(t *testing.T) {
	g := testGallery(t, Entry{Name: "alice", Encoding: Descriptor(0)})
	id, _ := g.Identify([]float32{0, 0}, DefaultTolerance)
	assert.Equal(t, logic.Unknown, id)
}

func TestNewGalleryValidates(t *testing.T) {
	_, err := NewGallery([]Entry{{Name: "", Encoding: Descriptor(0)}})
	assert.Error(t, err, "empty name")

	_, err = NewGallery([]Entry{{Name: "unknown", Encoding: Descriptor(0)}})
	assert.Error(t, err, "reserved name")

	_, err = NewGallery([]Entry{{Name: "alice", Encoding: []float32{1, 2, 3}}})
	assert.ErrorIs(t, err, ErrDimension)
}

func TestGalleryCopiesEncodings(t *testing.T) {
	enc := Descriptor(0)
	g := testGallery(t, Entry{Name: "alice", Encoding: enc})
	enc[0] = 100

	id, _ := g.Identify(Descriptor(0), DefaultTolerance)
	assert.Equal(t, logic.Identity("alice"), id)
}

func TestGalleryNames(t *testing.T) {
	g := testGallery(t,
		Entry{Name: "bob", Encoding: Descriptor(0)},
		Entry{Name: "alice", Encoding: Descriptor(0)},
		Entry{Name: "bob", Encoding: Descriptor(1)},
	)
	assert.Equal(t, []string{"alice", "bob"}, g.Names())
	assert.Equal(t, 3, g.Len())
}

func TestResolverKeepsDetectionOrder(t *testing.T) {
	g := testGallery(t,
		Entry{Name: "alice", Encoding: Descriptor(0)},
		Entry{Name: "bob", Encoding: Descriptor(1)},
	)
	det := NewFakeDetector()
	det.Add("frame",
		Detection{Region: image.Rect(0, 0, 10, 10), Descriptor: Descriptor(1)},
		Detection{Region: image.Rect(20, 0, 30, 10), Descriptor: Descriptor(0.5)},
		Detection{Region: image.Rect(40, 0, 50, 10), Descriptor: Descriptor(0)},
	)

	matches, err := NewResolver(det, g, 0).Resolve([]byte("frame"))
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, logic.Identity("bob"), matches[0].Identity)
	assert.Equal(t, image.Rect(0, 0, 10, 10), matches[0].Region)
	assert.Equal(t, logic.Unknown, matches[1].Identity)
	assert.Equal(t, logic.Identity("alice"), matches[2].Identity)
}

func TestResolverNoFaces(t *testing.T) {
	det := NewFakeDetector()
	matches, err := NewResolver(det, testGallery(t), 0).Resolve([]byte("empty"))
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, 1, det.Calls())
}

func TestResolverDetectorError(t *testing.T) {
	det := NewFakeDetector()
	det.DetectError = errors.New("bad jpeg")

	_, err := NewResolver(det, testGallery(t), 0).Resolve([]byte("x"))
	assert.ErrorIs(t, err, det.DetectError)
}

func TestLoadGalleryTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faces.toml")
	g := testGallery(t,
		Entry{Name: "alice", Encoding: Descriptor(0.25)},
		Entry{Name: "bob", Encoding: Descriptor(-0.5)},
	)
	require.NoError(t, SaveGallery(path, g))

	loaded, err := LoadGallery(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, loaded.Names())

	id, _ := loaded.Identify(Descriptor(0.25), DefaultTolerance)
	assert.Equal(t, logic.Identity("alice"), id)
}

func TestLoadGalleryYAML(t *testing.T) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(t.TempDir(), "faces"+ext)
		require.NoError(t, SaveGallery(path, testGallery(t, Entry{Name: "carol", Encoding: Descriptor(0.125)})))

		loaded, err := LoadGallery(path)
		require.NoError(t, err, ext)
		assert.Equal(t, []string{"carol"}, loaded.Names())
	}
}

func TestLoadGalleryHandWrittenTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faces.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[faces]]\nname = \"alice\"\nencoding = [0.1, 0.2]\n"), 0o644))

	_, err := LoadGallery(path)
	assert.ErrorIs(t, err, ErrDimension)
}

func TestLoadGalleryErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadGallery(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "faces.json")
	require.NoError(t, os.WriteFile(bad, []byte("{}"), 0o644))
	_, err = LoadGallery(bad)
	assert.ErrorContains(t, err, "unsupported format")

	broken := filepath.Join(dir, "faces.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("faces: [\n"), 0o644))
	_, err = LoadGallery(broken)
	assert.Error(t, err)
}

func TestDetectorsSatisfyInterface(t *testing.T) {
	var _ Detector = (*FakeDetector)(nil)
	var _ Detector = (*DlibDetector)(nil)
}
