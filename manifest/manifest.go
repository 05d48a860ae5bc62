// Package manifest handles toffee.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a toffee.toml project configuration.
type Manifest struct {
	Package      Package               `toml:"package"`
	Source       Source                `toml:"source"`
	Dependencies map[string]Dependency `toml:"dependencies"`
	Image        ImageConfig           `toml:"image"`

	// Dir is the directory containing the toffee.toml file (set at load time).
	Dir string `toml:"-"`
}

// Package contains package metadata.
type Package struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures where module and asset files live.
type Source struct {
	Dirs   []string `toml:"dirs"`
	Entry  string   `toml:"entry"`
	Assets string   `toml:"assets"`
}

// Dependency represents a single package dependency.
type Dependency struct {
	Git    string `toml:"git"`
	Tag    string `toml:"tag"`
	Path   string `toml:"path"`
	Module string `toml:"module"`
}

// ImageConfig configures program image output.
type ImageConfig struct {
	Output string `toml:"output"`
}

// Load parses a toffee.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "toffee.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"src"}
	}
	if m.Source.Entry == "" {
		m.Source.Entry = "main"
	}
	if m.Source.Assets == "" {
		m.Source.Assets = "assets"
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a toffee.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "toffee.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// AssetDirPath returns the absolute path of the asset directory.
func (m *Manifest) AssetDirPath() string {
	return filepath.Join(m.Dir, m.Source.Assets)
}

// ImageOutputPath returns the absolute path the built image is written to.
// An empty [image] output falls back to <name>.tfb next to toffee.toml.
func (m *Manifest) ImageOutputPath() string {
	out := m.Image.Output
	if out == "" {
		name := m.Package.Name
		if name == "" {
			name = "out"
		}
		out = name + ".tfb"
	}
	if filepath.IsAbs(out) {
		return out
	}
	return filepath.Join(m.Dir, out)
}

// DepsDir returns the path to the .toffee/deps directory.
func (m *Manifest) DepsDir() string {
	return filepath.Join(m.Dir, ".toffee", "deps")
}

// LockFilePath returns the path to .toffee/lock.toml.
func (m *Manifest) LockFilePath() string {
	return filepath.Join(m.Dir, ".toffee", "lock.toml")
}
