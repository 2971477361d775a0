package engine

import (
	"fmt"
	"time"

	"github.com/papapumpkin/visitsync/internal/catalog"
	"github.com/papapumpkin/visitsync/internal/visit"
)

// ValidityPolicy chooses the instant at which calibration validity is
// evaluated for a visit.
type ValidityPolicy string

const (
	// ValidityNow evaluates validity at the wall-clock time of the sync.
	ValidityNow ValidityPolicy = "now"
	// ValidityVisit evaluates validity at the visit's own timestamp.
	ValidityVisit ValidityPolicy = "visit"
)

// ParseValidityPolicy accepts "now" or "visit". Empty means now.
func ParseValidityPolicy(s string) (ValidityPolicy, error) {
	switch p := ValidityPolicy(s); p {
	case "":
		return ValidityNow, nil
	case ValidityNow, ValidityVisit:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// Instant returns the lookup instant for v. A visit without a timestamp
// falls back to now.
func (p ValidityPolicy) Instant(v visit.Visit, now time.Time) time.Time {
	if p == ValidityVisit && !v.Timestamp.IsZero() {
		return v.Timestamp
	}
	return now
}

// Config holds the collections and transfer settings one engine works with.
type Config struct {
	// CalibCollection is the (usually chained) calibration collection.
	CalibCollection string
	// RefcatCollection holds reference catalogs. Empty skips reference data.
	RefcatCollection string
	// RefcatTypes are the reference catalog dataset types to bootstrap.
	RefcatTypes []string
	// HTM7 restricts reference catalogs to these sky pixels. Empty means all.
	HTM7 []int

	ExportTransfer catalog.TransferMode
	ImportTransfer catalog.TransferMode

	Validity ValidityPolicy
	// RetryBackoff is the wait before retrying a transient failure.
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.ExportTransfer == "" {
		c.ExportTransfer = catalog.Copy
	}
	if c.ImportTransfer == "" {
		c.ImportTransfer = catalog.Hardlink
	}
	if c.Validity == "" {
		c.Validity = ValidityNow
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	return c
}
