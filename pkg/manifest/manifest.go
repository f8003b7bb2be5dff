// Package manifest writes the list of active plugins the process bootstrap loads without
// rescanning the plugins directory.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bearslyricattack/plugman/pkg/models"
)

// Entry maps one active plugin to its code.
type Entry struct {
	ID         string `json:"id"`
	Namespace  string `json:"namespace"`
	EntryPoint string `json:"entry_point"`
	Path       string `json:"path"`
}

type Manifest struct {
	GeneratedAt time.Time `json:"generated_at"`
	Plugins     []Entry   `json:"plugins"`
}

// Describer resolves descriptors and source paths.
type Describer interface {
	Describe(id string) (*models.PluginDescriptor, error)
	SourceDir(id string) string
}

type Generator struct {
	path     string
	describe Describer
	now      func() time.Time
}

func NewGenerator(path string, describe Describer) *Generator {
	return &Generator{path: path, describe: describe, now: time.Now}
}

func (g *Generator) Path() string { return g.path }

// Generate rewrites the manifest for the given enabled plugins. Plugins whose descriptor
// cannot be read are left out.
func (g *Generator) Generate(enabled []string) (*Manifest, error) {
	m := &Manifest{GeneratedAt: g.now().UTC(), Plugins: make([]Entry, 0, len(enabled))}
	for _, id := range enabled {
		desc, err := g.describe.Describe(id)
		if err != nil || desc == nil {
			continue
		}
		m.Plugins = append(m.Plugins, Entry{
			ID:         id,
			Namespace:  desc.Namespace,
			EntryPoint: desc.EntryPoint,
			Path:       g.describe.SourceDir(id),
		})
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeAtomic(g.path, data); err != nil {
		return nil, fmt.Errorf("write manifest %s: %w", g.path, err)
	}
	return m, nil
}

// Load reads a manifest; a missing file is an empty manifest.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return &m, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
