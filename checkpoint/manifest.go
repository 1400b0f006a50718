package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/kwip/condensed"
	"github.com/hupe1980/kwip/internal/fs"
)

// ManifestName is the manifest file inside a checkpoint directory.
const ManifestName = "run.yaml"

// ErrNoManifest is returned by LoadManifest when the directory has none.
var ErrNoManifest = errors.New("checkpoint: no manifest")

// Sample identifies one input of a run.
type Sample struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// Manifest describes a run so that a resume can check it is continuing the
// same computation.
type Manifest struct {
	Version   string    `yaml:"version"`
	RunID     string    `yaml:"run_id"`
	Metric    string    `yaml:"metric"`
	Family    string    `yaml:"family"`
	CreatedAt time.Time `yaml:"created_at"`
	Samples   []Sample  `yaml:"samples"`
}

// NewManifest describes a new run with a fresh run id.
func NewManifest(version, metric string, family condensed.Family, samples []Sample) *Manifest {
	return &Manifest{
		Version:   version,
		RunID:     uuid.NewString(),
		Metric:    metric,
		Family:    family.String(),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Samples:   samples,
	}
}

// FamilyValue parses Family.
func (m *Manifest) FamilyValue() (condensed.Family, error) {
	switch m.Family {
	case condensed.Kernel.String():
		return condensed.Kernel, nil
	case condensed.Distance.String():
		return condensed.Distance, nil
	default:
		return 0, fmt.Errorf("%w: unknown family %q", ErrCorrupt, m.Family)
	}
}

// Matches checks that other describes the same metric over the same
// samples in the same order.
func (m *Manifest) Matches(other *Manifest) error {
	if m.Metric != other.Metric {
		return fmt.Errorf("%w: metric %q, run uses %q", ErrManifestMismatch, m.Metric, other.Metric)
	}
	if m.Family != other.Family {
		return fmt.Errorf("%w: family %q, run uses %q", ErrManifestMismatch, m.Family, other.Family)
	}
	if len(m.Samples) != len(other.Samples) {
		return fmt.Errorf("%w: %d samples, run has %d", ErrManifestMismatch, len(m.Samples), len(other.Samples))
	}
	for i := range m.Samples {
		if m.Samples[i] != other.Samples[i] {
			return fmt.Errorf("%w: sample %d is %q (%s), run has %q (%s)", ErrManifestMismatch, i,
				m.Samples[i].Name, m.Samples[i].Path, other.Samples[i].Name, other.Samples[i].Path)
		}
	}
	return nil
}

// Save writes the manifest to dir atomically.
func (m *Manifest) Save(fsys fs.FileSystem, dir string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := fs.WriteFileAtomic(fsys, filepath.Join(dir, ManifestName), data, 0o640); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// LoadManifest reads the manifest in dir.
func LoadManifest(fsys fs.FileSystem, dir string) (*Manifest, error) {
	data, err := fs.ReadFile(fsys, filepath.Join(dir, ManifestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoManifest
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %w", ErrCorrupt, err)
	}
	return &m, nil
}
