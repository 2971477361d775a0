// Package dataid models the dimension values that key a dataset and describe
// a visit. A DataID is a fixed record of optional dimensions rather than an
// open map, so a misspelled dimension is a compile error while an absent
// dimension still means "don't care".
package dataid

import (
	"fmt"
	"strconv"
	"strings"
)

// Dimension names a single data ID field.
type Dimension string

// Known dimensions.
const (
	Instrument     Dimension = "instrument"
	Detector       Dimension = "detector"
	PhysicalFilter Dimension = "physical_filter"
	HTM7           Dimension = "htm7"
	Group          Dimension = "group"
	Snap           Dimension = "snap"
)

// All lists every known dimension in canonical order.
var All = []Dimension{Instrument, Detector, PhysicalFilter, HTM7, Group, Snap}

// ParseDimension returns the Dimension named by s.
func ParseDimension(s string) (Dimension, error) {
	for _, d := range All {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown dimension %q", s)
}

// DataID holds the dimension values of a dataset or visit. String dimensions
// are absent when empty; integer dimensions are absent when nil.
type DataID struct {
	Instrument     string `yaml:"instrument,omitempty" toml:"instrument,omitempty"`
	Detector       *int   `yaml:"detector,omitempty" toml:"detector,omitempty"`
	PhysicalFilter string `yaml:"physical_filter,omitempty" toml:"physical_filter,omitempty"`
	HTM7           *int   `yaml:"htm7,omitempty" toml:"htm7,omitempty"`
	Group          string `yaml:"group,omitempty" toml:"group,omitempty"`
	Snap           *int   `yaml:"snap,omitempty" toml:"snap,omitempty"`
}

// Int returns a pointer to v, for filling the integer dimensions.
func Int(v int) *int { return &v }

// Has reports whether d carries a value for dim.
func (d DataID) Has(dim Dimension) bool {
	_, ok := d.Get(dim)
	return ok
}

// Get returns the value of dim rendered as a string, and whether it is set.
func (d DataID) Get(dim Dimension) (string, bool) {
	switch dim {
	case Instrument:
		return d.Instrument, d.Instrument != ""
	case Detector:
		if d.Detector == nil {
			return "", false
		}
		return strconv.Itoa(*d.Detector), true
	case PhysicalFilter:
		return d.PhysicalFilter, d.PhysicalFilter != ""
	case HTM7:
		if d.HTM7 == nil {
			return "", false
		}
		return strconv.Itoa(*d.HTM7), true
	case Group:
		return d.Group, d.Group != ""
	case Snap:
		if d.Snap == nil {
			return "", false
		}
		return strconv.Itoa(*d.Snap), true
	}
	return "", false
}

// Project returns a copy of d restricted to dims. Dimensions not listed are
// cleared.
func (d DataID) Project(dims ...Dimension) DataID {
	var out DataID
	for _, dim := range dims {
		switch dim {
		case Instrument:
			out.Instrument = d.Instrument
		case Detector:
			if d.Detector != nil {
				out.Detector = Int(*d.Detector)
			}
		case PhysicalFilter:
			out.PhysicalFilter = d.PhysicalFilter
		case HTM7:
			if d.HTM7 != nil {
				out.HTM7 = Int(*d.HTM7)
			}
		case Group:
			out.Group = d.Group
		case Snap:
			if d.Snap != nil {
				out.Snap = Int(*d.Snap)
			}
		}
	}
	return out
}

// Covers reports whether d has a value for every one of dims.
func (d DataID) Covers(dims ...Dimension) bool {
	for _, dim := range dims {
		if !d.Has(dim) {
			return false
		}
	}
	return true
}

// Equal reports whether d and o carry the same set of dimension values.
func (d DataID) Equal(o DataID) bool {
	return d.Key() == o.Key()
}

// IsEmpty reports whether no dimension is set.
func (d DataID) IsEmpty() bool {
	return d.Key() == ""
}

// Key renders d canonically, e.g. "instrument=HSC,detector=5". Two data IDs
// are the same identity exactly when their keys are equal.
func (d DataID) Key() string {
	var parts []string
	for _, dim := range All {
		if v, ok := d.Get(dim); ok {
			parts = append(parts, string(dim)+"="+v)
		}
	}
	return strings.Join(parts, ",")
}

// String implements fmt.Stringer.
func (d DataID) String() string {
	return "{" + d.Key() + "}"
}

// ParseKey is the inverse of Key.
func ParseKey(key string) (DataID, error) {
	var d DataID
	if key == "" {
		return d, nil
	}
	for _, part := range strings.Split(key, ",") {
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return DataID{}, fmt.Errorf("malformed data ID component %q", part)
		}
		dim, err := ParseDimension(name)
		if err != nil {
			return DataID{}, err
		}
		if err := d.set(dim, value); err != nil {
			return DataID{}, err
		}
	}
	return d, nil
}

func (d *DataID) set(dim Dimension, value string) error {
	switch dim {
	case Instrument:
		d.Instrument = value
	case PhysicalFilter:
		d.PhysicalFilter = value
	case Group:
		d.Group = value
	case Detector, HTM7, Snap:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("dimension %s: %w", dim, err)
		}
		switch dim {
		case Detector:
			d.Detector = &n
		case HTM7:
			d.HTM7 = &n
		default:
			d.Snap = &n
		}
	}
	return nil
}
