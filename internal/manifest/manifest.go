// Package manifest records what a fetch run downloaded so that later
// commands can inspect or clean up its files.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jhamman/ingestor/pkg/ecmwf"
)

// Manifests are named prefix + run ID + suffix inside a run's data
// directory, so several runs can share a directory.
const (
	prefix = "ingestor-manifest-"
	suffix = ".json"
)

var (
	// ErrNoFiles is returned by Read for a manifest that lists no files.
	ErrNoFiles = errors.New("manifest: no files listed")

	// ErrNoManifest is returned by Find when a directory holds no manifest.
	ErrNoManifest = errors.New("manifest: no manifest found")
)

// Manifest describes one fetch run.
type Manifest struct {
	RunID     string          `json:"run_id"`
	CreatedAt time.Time       `json:"created_at"`
	Variables []string        `json:"variables"`
	Start     string          `json:"start,omitempty"`
	Stop      string          `json:"stop,omitempty"`
	Area      string          `json:"area,omitempty"`
	Files     []string        `json:"files"`
	Requests  []ecmwf.Request `json:"requests"`
}

// New returns a manifest for plan with a fresh run ID.
func New(plan *ecmwf.Plan) *Manifest {
	area, _ := plan.Area()
	return &Manifest{
		RunID:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Variables: plan.DataVars(),
		Start:     plan.Start(),
		Stop:      plan.Stop(),
		Area:      area,
		Files:     plan.Filenames(),
		Requests:  plan.Requests(),
	}
}

// Path returns the path of run runID's manifest inside dir.
func Path(dir, runID string) string {
	return filepath.Join(dir, prefix+runID+suffix)
}

// Path returns the path of m inside dir.
func (m *Manifest) Path(dir string) string {
	return Path(dir, m.RunID)
}

// Find returns the manifest paths in dir in name order.
func Find(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("manifest: find: %w", err)
	}

	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, prefix) && strings.HasSuffix(name, suffix) {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoManifest, dir)
	}
	return paths, nil
}

// Write stores m as indented JSON at path.
func (m *Manifest) Write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("manifest: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("manifest: write: %w", err)
	}
	return nil
}

// Read loads the manifest at path.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", path, err)
	}
	if _, err := uuid.Parse(m.RunID); err != nil {
		return nil, fmt.Errorf("manifest: invalid run id %q: %w", m.RunID, err)
	}
	if len(m.Files) == 0 {
		return nil, ErrNoFiles
	}
	return &m, nil
}

// Remove deletes the manifest at path.
func Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("manifest: remove: %w", err)
	}
	return nil
}
