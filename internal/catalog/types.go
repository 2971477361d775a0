package catalog

import (
	"fmt"
	"strings"

	"github.com/papapumpkin/visitsync/internal/dataid"
)

// CollectionType distinguishes how a collection holds its datasets.
type CollectionType string

// Collection types.
const (
	// Run owns the datasets produced into it.
	Run CollectionType = "run"
	// Calibration associates datasets with validity timespans.
	Calibration CollectionType = "calibration"
	// Chained is an ordered list of other collections searched in turn.
	Chained CollectionType = "chained"
)

// ParseCollectionType validates s as a collection type.
func ParseCollectionType(s string) (CollectionType, error) {
	switch t := CollectionType(strings.ToLower(s)); t {
	case Run, Calibration, Chained:
		return t, nil
	}
	return "", fmt.Errorf("unknown collection type %q", s)
}

// Collection is a named grouping of datasets. Children is set only for
// chained collections.
type Collection struct {
	Name     string         `yaml:"name"`
	Type     CollectionType `yaml:"type"`
	Children []string       `yaml:"children,omitempty"`
}

// DatasetType is the schema shared by a family of datasets.
type DatasetType struct {
	Name          string             `yaml:"name"`
	Dimensions    []dataid.Dimension `yaml:"dimensions"`
	StorageClass  string             `yaml:"storage_class,omitempty"`
	IsCalibration bool               `yaml:"is_calibration,omitempty"`
}

// Equal reports whether two dataset type definitions are interchangeable.
func (t DatasetType) Equal(o DatasetType) bool {
	if t.Name != o.Name || t.StorageClass != o.StorageClass || t.IsCalibration != o.IsCalibration {
		return false
	}
	if len(t.Dimensions) != len(o.Dimensions) {
		return false
	}
	for i := range t.Dimensions {
		if t.Dimensions[i] != o.Dimensions[i] {
			return false
		}
	}
	return true
}

// DatasetRef identifies one immutable dataset and the artifact backing it.
// Path is relative to the owning catalog's datastore.
type DatasetRef struct {
	ID       string        `yaml:"id"`
	Type     string        `yaml:"dataset_type"`
	DataID   dataid.DataID `yaml:"data_id"`
	Run      string        `yaml:"run"`
	Path     string        `yaml:"path"`
	Checksum string        `yaml:"checksum"`
	Size     int64         `yaml:"size"`
}

// SameContent reports whether r and o describe the same dataset. Used to
// tell an idempotent re-import from an identity collision.
func (r DatasetRef) SameContent(o DatasetRef) bool {
	return r.ID == o.ID &&
		r.Type == o.Type &&
		r.Run == o.Run &&
		r.DataID.Equal(o.DataID) &&
		r.Checksum == o.Checksum
}

// String implements fmt.Stringer.
func (r DatasetRef) String() string {
	return fmt.Sprintf("%s@%s%v(%s)", r.Type, r.Run, r.DataID, r.ID)
}

// Association certifies a dataset as valid over a timespan within a
// calibration collection.
type Association struct {
	Collection string
	Ref        DatasetRef
	Timespan   Timespan
}

// TransferMode selects how artifacts move between datastores.
type TransferMode string

// Transfer modes.
const (
	// Copy duplicates the artifact bytes.
	Copy TransferMode = "copy"
	// Hardlink links the artifact when both sides share a filesystem and
	// falls back to Copy otherwise.
	Hardlink TransferMode = "hardlink"
)

// ParseTransferMode validates s as a transfer mode.
func ParseTransferMode(s string) (TransferMode, error) {
	switch m := TransferMode(strings.ToLower(s)); m {
	case Copy, Hardlink:
		return m, nil
	}
	return "", fmt.Errorf("unknown transfer mode %q", s)
}
