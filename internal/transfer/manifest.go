// Package transfer defines the on-disk layout of a transfer package and the
// helpers that move dataset artifacts in and out of one.
//
// A package is a directory holding export.yaml and a files/ tree. The
// manifest is written last, so a directory without one was abandoned
// mid-export and must not be imported.
package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-git/go-billy/v5"
	"gopkg.in/yaml.v3"

	"github.com/papapumpkin/visitsync/internal/catalog"
)

// Layout names inside a package.
const (
	ManifestName = "export.yaml"
	FilesDir     = "files"
)

// Version is the manifest format written by this package.
const Version = 1

// Association is the serialized form of a calibration association. The
// dataset is referenced by ID and must be in the package or already present
// at the destination.
type Association struct {
	Collection string           `yaml:"collection"`
	DatasetID  string           `yaml:"dataset_id"`
	Timespan   catalog.Timespan `yaml:"timespan"`
}

// Manifest lists everything a package carries.
type Manifest struct {
	Version      int                   `yaml:"version"`
	DatasetTypes []catalog.DatasetType `yaml:"dataset_types,omitempty"`
	Collections  []catalog.Collection  `yaml:"collections,omitempty"`
	Datasets     []catalog.DatasetRef  `yaml:"datasets,omitempty"`
	Associations []Association         `yaml:"associations,omitempty"`
}

// DatasetIDs returns the IDs of the datasets carried in the package.
func (m Manifest) DatasetIDs() map[string]bool {
	ids := make(map[string]bool, len(m.Datasets))
	for _, d := range m.Datasets {
		ids[d.ID] = true
	}
	return ids
}

// WriteManifest stores m as the package manifest. The file appears
// atomically.
func WriteManifest(fs billy.Filesystem, m Manifest) error {
	if m.Version == 0 {
		m.Version = Version
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("transfer: encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("transfer: encode manifest: %w", err)
	}
	if err := writeAtomic(fs, ManifestName, &buf); err != nil {
		return catalog.Transient.Wrap(fmt.Errorf("write manifest: %w", err))
	}
	return nil
}

// ReadManifest loads the package manifest. A missing manifest is NotFound.
func ReadManifest(fs billy.Filesystem) (Manifest, error) {
	f, err := fs.Open(ManifestName)
	if errors.Is(err, os.ErrNotExist) {
		return Manifest{}, catalog.NotFound.New("transfer package has no %s", ManifestName)
	}
	if err != nil {
		return Manifest{}, catalog.Transient.Wrap(fmt.Errorf("open manifest: %w", err))
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Manifest{}, catalog.Transient.Wrap(fmt.Errorf("read manifest: %w", err))
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("transfer: parse manifest: %w", err)
	}
	if m.Version != Version {
		return Manifest{}, fmt.Errorf("transfer: unsupported manifest version %d", m.Version)
	}
	return m, nil
}
