package vision

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// galleryFile is the on-disk gallery layout:
//
//	[[faces]]
//	name = "alice"
//	encoding = [0.01, -0.12, ...]
type galleryFile struct {
	Faces []galleryFace `toml:"faces" yaml:"faces"`
}

type galleryFace struct {
	Name     string    `toml:"name" yaml:"name"`
	Encoding []float32 `toml:"encoding" yaml:"encoding"`
}

// LoadGallery reads a .toml, .yaml or .yml gallery file.
func LoadGallery(path string) (*Gallery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gallery: %w", err)
	}

	var f galleryFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &f)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("gallery %s: unsupported format (want .toml, .yaml or .yml)", path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse gallery %s: %w", path, err)
	}

	entries := make([]Entry, 0, len(f.Faces))
	for _, face := range f.Faces {
		entries = append(entries, Entry{Name: face.Name, Encoding: face.Encoding})
	}
	g, err := NewGallery(entries)
	if err != nil {
		return nil, fmt.Errorf("gallery %s: %w", path, err)
	}
	return g, nil
}

// SaveGallery writes g in the format implied by path's extension.
func SaveGallery(path string, g *Gallery) error {
	f := galleryFile{Faces: make([]galleryFace, 0, len(g.entries))}
	for _, e := range g.entries {
		f.Faces = append(f.Faces, galleryFace{Name: e.Name, Encoding: e.Encoding})
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		data, err = toml.Marshal(f)
	case ".yaml", ".yml":
		data, err = yaml.Marshal(f)
	default:
		return fmt.Errorf("gallery %s: unsupported format (want .toml, .yaml or .yml)", path)
	}
	if err != nil {
		return fmt.Errorf("encode gallery: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write gallery: %w", err)
	}
	return nil
}
