// Package visit describes the unit of incoming work: one exposure group on
// one detector, with the attributes used to select its calibrations.
package visit

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/papapumpkin/visitsync/internal/dataid"
)

// Kind selects the processing profile for a visit.
type Kind string

const (
	// KindBias is a zero-exposure calibration frame.
	KindBias Kind = "BIAS"
	// KindDark is a closed-shutter calibration frame.
	KindDark Kind = "DARK"
	// KindFlat is a uniformly illuminated calibration frame.
	KindFlat Kind = "FLAT"
)

// profiles maps each kind to its pipeline definition file.
var profiles = map[Kind]string{
	KindBias: "bias.yaml",
	KindDark: "dark.yaml",
	KindFlat: "flat.yaml",
}

// ParseKind accepts a kind name in any case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := profiles[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Profile returns the pipeline definition for k.
func (k Kind) Profile() (string, error) {
	p, ok := profiles[k]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
	return p, nil
}

// Visit is one unit of work.
type Visit struct {
	Instrument     string    `yaml:"instrument"`
	Detector       int       `yaml:"detector"`
	PhysicalFilter string    `yaml:"physical_filter"`
	Group          string    `yaml:"group"`
	Kind           Kind      `yaml:"kind"`
	Timestamp      time.Time `yaml:"timestamp"`
	Snaps          []int     `yaml:"snaps,omitempty"`
}

// Validate reports every missing field and an unknown kind.
func (v Visit) Validate() error {
	var errs []error
	for _, f := range []struct {
		name  string
		empty bool
	}{
		{"instrument", v.Instrument == ""},
		{"physical_filter", v.PhysicalFilter == ""},
		{"group", v.Group == ""},
		{"kind", v.Kind == ""},
	} {
		if f.empty {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingField, f.name))
		}
	}
	if v.Detector < 0 {
		errs = append(errs, fmt.Errorf("detector %d is negative", v.Detector))
	}
	if v.Kind != "" {
		if _, err := v.Kind.Profile(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DataID returns the visit's attributes as a data ID. Timestamp and kind
// are not dimensions.
func (v Visit) DataID() dataid.DataID {
	return dataid.DataID{
		Instrument:     v.Instrument,
		Detector:       dataid.Int(v.Detector),
		PhysicalFilter: v.PhysicalFilter,
		Group:          v.Group,
	}
}

func (v Visit) String() string {
	return fmt.Sprintf("%s/%d/%s group=%s kind=%s", v.Instrument, v.Detector, v.PhysicalFilter, v.Group, v.Kind)
}

// PipelineArgs returns the pipetask invocation that processes v against the
// repository at repo.
func (v Visit) PipelineArgs(repo string) ([]string, error) {
	profile, err := v.Kind.Profile()
	if err != nil {
		return nil, err
	}
	args := []string{"pipetask", "run", "-b", repo, "-p", profile, "-i", v.Instrument + "/raw/all"}
	if len(v.Snaps) > 0 {
		snaps := make([]string, len(v.Snaps))
		for i, s := range v.Snaps {
			snaps[i] = fmt.Sprint(s)
		}
		args = append(args, "-d", fmt.Sprintf("group='%s' AND snap IN (%s)", v.Group, strings.Join(snaps, ", ")))
	}
	return args, nil
}

// Parse decodes a YAML visit and validates it. The kind is normalized to
// upper case.
func Parse(data []byte) (Visit, error) {
	var v Visit
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Visit{}, fmt.Errorf("parsing visit: %w", err)
	}
	v.Kind = Kind(strings.ToUpper(string(v.Kind)))
	if err := v.Validate(); err != nil {
		return Visit{}, err
	}
	return v, nil
}

// Load reads and parses a YAML visit file.
func Load(path string) (Visit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Visit{}, fmt.Errorf("reading visit: %w", err)
	}
	return Parse(data)
}
