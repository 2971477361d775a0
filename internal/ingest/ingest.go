// Package ingest registers raw exposures from an image bucket into the
// destination catalog.
//
// Object keys have the form
//
//	<instrument>/<detector>/<group>/<snap>/<filter>.<ext>
//
// and are stored as dataset type "raw" in run "<instrument>/raw/all".
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papapumpkin/visitsync/internal/catalog"
	"github.com/papapumpkin/visitsync/internal/dataid"
)

// RawType is the dataset type of ingested exposures.
const RawType = "raw"

// ErrBadKey indicates an object key that does not follow the bucket layout.
var ErrBadKey = errors.New("malformed object key")

// RawRun returns the run that holds raw exposures for instrument.
func RawRun(instrument string) string {
	return instrument + "/raw/all"
}

// RawDatasetType is the definition registered before the first ingest.
func RawDatasetType() catalog.DatasetType {
	return catalog.DatasetType{
		Name:         RawType,
		Dimensions:   []dataid.Dimension{dataid.Instrument, dataid.Detector, dataid.Group, dataid.Snap, dataid.PhysicalFilter},
		StorageClass: "Exposure",
	}
}

// Object is a parsed bucket key.
type Object struct {
	Key    string
	DataID dataid.DataID
}

// ParseKey splits an object key into its data ID.
func ParseKey(key string) (Object, error) {
	parts := strings.Split(strings.TrimPrefix(path.Clean(key), "/"), "/")
	if len(parts) != 5 {
		return Object{}, fmt.Errorf("%w: %q has %d path segments, want 5", ErrBadKey, key, len(parts))
	}
	detector, err := strconv.Atoi(parts[1])
	if err != nil {
		return Object{}, fmt.Errorf("%w: %q: detector: %w", ErrBadKey, key, err)
	}
	snap, err := strconv.Atoi(parts[3])
	if err != nil {
		return Object{}, fmt.Errorf("%w: %q: snap: %w", ErrBadKey, key, err)
	}
	filter := strings.TrimSuffix(parts[4], path.Ext(parts[4]))
	if parts[0] == "" || parts[2] == "" || filter == "" {
		return Object{}, fmt.Errorf("%w: %q has an empty segment", ErrBadKey, key)
	}
	return Object{
		Key: key,
		DataID: dataid.DataID{
			Instrument:     parts[0],
			Detector:       dataid.Int(detector),
			Group:          parts[2],
			Snap:           dataid.Int(snap),
			PhysicalFilter: filter,
		},
	}, nil
}

// Target is the catalog raws are written into.
type Target interface {
	RegisterDatasetType(ctx context.Context, dt catalog.DatasetType) error
	RegisterCollection(ctx context.Context, c catalog.Collection) error
	PutDataset(ctx context.Context, ref catalog.DatasetRef, content io.Reader) (catalog.DatasetRef, error)
}

// Ingester copies bucket objects into a destination catalog.
type Ingester struct {
	bucket     billy.Filesystem
	dst        Target
	instrument string
	log        *zap.Logger

	mu       sync.Mutex
	prepared bool
}

// New creates an Ingester for one instrument's objects in bucket.
func New(bucket billy.Filesystem, dst Target, instrument string, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{bucket: bucket, dst: dst, instrument: instrument, log: logger.Named("ingest")}
}

// prepare registers the raw dataset type and run once.
func (i *Ingester) prepare(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.prepared {
		return nil
	}
	if err := i.dst.RegisterDatasetType(ctx, RawDatasetType()); err != nil {
		return fmt.Errorf("registering %s: %w", RawType, err)
	}
	if err := i.dst.RegisterCollection(ctx, catalog.Collection{Name: RawRun(i.instrument), Type: catalog.Run}); err != nil {
		return fmt.Errorf("registering raw run: %w", err)
	}
	i.prepared = true
	return nil
}

// Ingest copies the object at key into the destination. The dataset ID is
// derived from the key, so ingesting the same object again is a no-op.
func (i *Ingester) Ingest(ctx context.Context, key string) (catalog.DatasetRef, error) {
	obj, err := ParseKey(key)
	if err != nil {
		return catalog.DatasetRef{}, err
	}
	if obj.DataID.Instrument != i.instrument {
		return catalog.DatasetRef{}, fmt.Errorf("%w: %q belongs to %s, not %s", ErrBadKey, key, obj.DataID.Instrument, i.instrument)
	}
	if err := i.prepare(ctx); err != nil {
		return catalog.DatasetRef{}, err
	}

	f, err := i.bucket.Open(key)
	if err != nil {
		return catalog.DatasetRef{}, catalog.NotFound.Wrap(fmt.Errorf("opening %s: %w", key, err))
	}
	defer f.Close()

	ref, err := i.dst.PutDataset(ctx, catalog.DatasetRef{
		ID:     uuid.NewSHA1(uuid.NameSpaceURL, []byte("raw:"+path.Clean(key))).String(),
		Type:   RawType,
		Run:    RawRun(i.instrument),
		DataID: obj.DataID,
	}, f)
	if err != nil {
		return catalog.DatasetRef{}, fmt.Errorf("ingesting %s: %w", key, err)
	}
	i.log.Info("ingested raw", zap.String("key", key), zap.Stringer("data_id", ref.DataID))
	return ref, nil
}
