// Package seed builds a catalog from a TOML description. It is how source
// registries are populated for local runs and how tests describe fixtures.
//
//	[[dataset_type]]
//	name = "bias"
//	dimensions = ["instrument", "detector"]
//	calibration = true
//
//	[[collection]]
//	name = "HSC/calib"
//	type = "chained"
//	children = ["HSC/calib/bias"]
//
//	[[dataset]]
//	type = "bias"
//	run = "HSC/calib/run1"
//	content = "..."
//	data_id = { instrument = "HSC", detector = 5 }
//	certify = [{ collection = "HSC/calib/bias", begin = 2024-01-01T00:00:00Z }]
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/papapumpkin/visitsync/internal/catalog"
	"github.com/papapumpkin/visitsync/internal/dataid"
)

// ErrInvalid marks a seed description that fails validation.
var ErrInvalid = errors.New("invalid seed")

// File is the decoded TOML description.
type File struct {
	DatasetTypes []DatasetType `toml:"dataset_type"`
	Collections  []Collection  `toml:"collection"`
	Datasets     []Dataset     `toml:"dataset"`

	// dir resolves relative artifact paths.
	dir string
}

// DatasetType describes one dataset type.
type DatasetType struct {
	Name         string   `toml:"name"`
	Dimensions   []string `toml:"dimensions"`
	StorageClass string   `toml:"storage_class"`
	Calibration  bool     `toml:"calibration"`
}

// Collection describes one collection.
type Collection struct {
	Name     string   `toml:"name"`
	Type     string   `toml:"type"`
	Children []string `toml:"children"`
}

// Dataset describes one dataset and where it is certified. Exactly one of
// Content and File supplies the artifact.
type Dataset struct {
	ID      string          `toml:"id"`
	Type    string          `toml:"type"`
	Run     string          `toml:"run"`
	DataID  dataid.DataID   `toml:"data_id"`
	Content string          `toml:"content"`
	File    string          `toml:"file"`
	Certify []Certification `toml:"certify"`
}

// Certification places a dataset in a calibration collection.
type Certification struct {
	Collection string    `toml:"collection"`
	Begin      time.Time `toml:"begin"`
	End        time.Time `toml:"end"`
}

// Target receives the seeded catalog. *registry.Registry satisfies it.
type Target interface {
	RegisterDatasetType(ctx context.Context, dt catalog.DatasetType) error
	RegisterCollection(ctx context.Context, c catalog.Collection) error
	PutDataset(ctx context.Context, ref catalog.DatasetRef, content io.Reader) (catalog.DatasetRef, error)
	Certify(ctx context.Context, coll string, ids []string, span catalog.Timespan) error
}

// Parse decodes and validates a seed description.
func Parse(data []byte) (*File, error) {
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Load reads and parses the seed file at path. Relative artifact paths are
// resolved against the file's directory.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.dir = filepath.Dir(path)
	return f, nil
}

// Validate checks names, enumerations and references.
func (f *File) Validate() error {
	var problems []string
	types := make(map[string]bool)
	for i, dt := range f.DatasetTypes {
		if dt.Name == "" {
			problems = append(problems, fmt.Sprintf("dataset_type[%d]: name required", i))
		}
		for _, d := range dt.Dimensions {
			if _, err := dataid.ParseDimension(d); err != nil {
				problems = append(problems, fmt.Sprintf("dataset_type %q: %v", dt.Name, err))
			}
		}
		types[dt.Name] = true
	}
	for i, c := range f.Collections {
		if c.Name == "" {
			problems = append(problems, fmt.Sprintf("collection[%d]: name required", i))
		}
		t, err := catalog.ParseCollectionType(c.Type)
		if err != nil {
			problems = append(problems, fmt.Sprintf("collection %q: %v", c.Name, err))
		}
		if t != catalog.Chained && len(c.Children) > 0 {
			problems = append(problems, fmt.Sprintf("collection %q: only chained collections have children", c.Name))
		}
	}
	for i, d := range f.Datasets {
		switch {
		case d.Type == "" || d.Run == "":
			problems = append(problems, fmt.Sprintf("dataset[%d]: type and run required", i))
		case !types[d.Type]:
			problems = append(problems, fmt.Sprintf("dataset[%d]: unknown dataset type %q", i, d.Type))
		}
		if (d.Content == "") == (d.File == "") {
			problems = append(problems, fmt.Sprintf("dataset[%d]: exactly one of content and file required", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Apply writes f into target: dataset types, then collections, then
// datasets with their certifications. It returns the stored datasets in
// description order.
func Apply(ctx context.Context, target Target, f *File) ([]catalog.DatasetRef, error) {
	for _, dt := range f.DatasetTypes {
		dims := make([]dataid.Dimension, 0, len(dt.Dimensions))
		for _, d := range dt.Dimensions {
			dim, err := dataid.ParseDimension(d)
			if err != nil {
				return nil, err
			}
			dims = append(dims, dim)
		}
		if err := target.RegisterDatasetType(ctx, catalog.DatasetType{
			Name:          dt.Name,
			Dimensions:    dims,
			StorageClass:  dt.StorageClass,
			IsCalibration: dt.Calibration,
		}); err != nil {
			return nil, fmt.Errorf("seed dataset type %q: %w", dt.Name, err)
		}
	}

	for _, c := range f.Collections {
		t, err := catalog.ParseCollectionType(c.Type)
		if err != nil {
			return nil, err
		}
		if err := target.RegisterCollection(ctx, catalog.Collection{Name: c.Name, Type: t, Children: c.Children}); err != nil {
			return nil, fmt.Errorf("seed collection %q: %w", c.Name, err)
		}
	}

	refs := make([]catalog.DatasetRef, 0, len(f.Datasets))
	for i, d := range f.Datasets {
		ref, err := f.putDataset(ctx, target, d)
		if err != nil {
			return nil, fmt.Errorf("seed dataset[%d]: %w", i, err)
		}
		for _, cert := range d.Certify {
			span := catalog.Timespan{Begin: cert.Begin, End: cert.End}
			if err := target.Certify(ctx, cert.Collection, []string{ref.ID}, span); err != nil {
				return nil, fmt.Errorf("seed dataset[%d]: certify in %q: %w", i, cert.Collection, err)
			}
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (f *File) putDataset(ctx context.Context, target Target, d Dataset) (catalog.DatasetRef, error) {
	var content io.Reader = strings.NewReader(d.Content)
	if d.File != "" {
		p := d.File
		if !filepath.IsAbs(p) {
			p = filepath.Join(f.dir, p)
		}
		fh, err := os.Open(p)
		if err != nil {
			return catalog.DatasetRef{}, fmt.Errorf("open artifact: %w", err)
		}
		defer fh.Close()
		content = fh
	}
	return target.PutDataset(ctx, catalog.DatasetRef{
		ID:     d.ID,
		Type:   d.Type,
		Run:    d.Run,
		DataID: d.DataID,
	}, content)
}
