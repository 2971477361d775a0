package registry

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"path"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/papapumpkin/visitsync/internal/catalog"
	"github.com/papapumpkin/visitsync/internal/transfer"
)

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// artifactPath is where a dataset's artifact lives inside a datastore.
func artifactPath(ref catalog.DatasetRef) string {
	return path.Join(unsafePathChars.ReplaceAllString(ref.Run, "_"), ref.Type, ref.ID)
}

// putDatasetType registers dt. An identical definition is a no-op; a
// different one under the same name is a Conflict.
func putDatasetType(ctx context.Context, tx *sql.Tx, dt catalog.DatasetType) (bool, error) {
	existing, err := datasetType(ctx, tx, dt.Name)
	switch {
	case err == nil:
		if !existing.Equal(dt) {
			return false, catalog.Conflict.New("dataset type %q already defined differently", dt.Name)
		}
		return false, nil
	case !catalog.NotFound.Has(err):
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO dataset_types (name, dimensions, storage_class, is_calibration) VALUES (?, ?, ?, ?)",
		dt.Name, encodeDimensions(dt.Dimensions), dt.StorageClass, dt.IsCalibration,
	); err != nil {
		return false, classify(fmt.Errorf("registry: insert dataset type %q: %w", dt.Name, err))
	}
	return true, nil
}

// putCollection registers c or merges it into an existing collection of the
// same type. Chain members are unioned: existing order is kept and new
// members are appended.
func putCollection(ctx context.Context, tx *sql.Tx, c catalog.Collection) (bool, error) {
	existing, err := collection(ctx, tx, c.Name)
	added := false
	switch {
	case err == nil:
		if existing.Type != c.Type {
			return false, catalog.Conflict.New("collection %q is %s, not %s", c.Name, existing.Type, c.Type)
		}
	case catalog.NotFound.Has(err):
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO collections (name, type) VALUES (?, ?)", c.Name, string(c.Type),
		); err != nil {
			return false, classify(fmt.Errorf("registry: insert collection %q: %w", c.Name, err))
		}
		added = true
	default:
		return false, err
	}

	if c.Type != catalog.Chained {
		return added, nil
	}
	have := make(map[string]bool, len(existing.Children))
	for _, child := range existing.Children {
		have[child] = true
	}
	pos := len(existing.Children)
	for _, child := range c.Children {
		if have[child] {
			continue
		}
		if child == c.Name {
			return false, fmt.Errorf("registry: chain %q cannot contain itself", c.Name)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO collection_chains (parent, position, child) VALUES (?, ?, ?)", c.Name, pos, child,
		); err != nil {
			return false, classify(fmt.Errorf("registry: append %q to chain %q: %w", child, c.Name, err))
		}
		have[child] = true
		pos++
	}
	return added, nil
}

// putDataset inserts the row for ref. A dataset with the same ID and content
// is a no-op. Any other dataset already holding the ID, or the same type,
// run and data ID, is a Conflict.
func putDataset(ctx context.Context, tx *sql.Tx, ref catalog.DatasetRef) (bool, error) {
	existing, ok, err := dataset(ctx, tx, ref.ID)
	if err != nil {
		return false, err
	}
	if ok {
		if !existing.SameContent(ref) {
			return false, catalog.Conflict.New("dataset %s already exists with different content", ref.ID)
		}
		return false, nil
	}
	if err := checkDatasetSlot(ctx, tx, ref); err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO datasets (id, dataset_type, run, data_id, path, checksum, size)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ref.ID, ref.Type, ref.Run, ref.DataID.Key(), ref.Path, ref.Checksum, ref.Size,
	); err != nil {
		return false, classify(fmt.Errorf("registry: insert dataset %s: %w", ref.ID, err))
	}
	return true, nil
}

// checkDatasetSlot verifies that ref's type and run exist and that no other
// dataset already occupies its (type, run, data ID) slot.
func checkDatasetSlot(ctx context.Context, tx *sql.Tx, ref catalog.DatasetRef) error {
	dt, err := datasetType(ctx, tx, ref.Type)
	if err != nil {
		return err
	}
	if !ref.DataID.Covers(dt.Dimensions...) {
		return fmt.Errorf("registry: dataset %s data ID %v lacks dimensions of %s", ref.ID, ref.DataID, dt.Name)
	}
	run, err := collection(ctx, tx, ref.Run)
	if err != nil {
		return err
	}
	if run.Type != catalog.Run {
		return fmt.Errorf("registry: dataset %s: %q is a %s collection, not a run", ref.ID, ref.Run, run.Type)
	}
	other, ok, err := datasetByKey(ctx, tx, ref.Type, ref.Run, ref.DataID.Key())
	if err != nil {
		return err
	}
	if ok && other.ID != ref.ID {
		return catalog.Conflict.New("%s %v in %s already exists as %s", ref.Type, ref.DataID, ref.Run, other.ID)
	}
	return nil
}

// putAssociation certifies the dataset in a calibration collection. The
// identical association is a no-op. A different dataset of the same type
// and data ID whose validity overlaps span is a Conflict.
func putAssociation(ctx context.Context, tx *sql.Tx, coll string, datasetID string, span catalog.Timespan) (bool, error) {
	c, err := collection(ctx, tx, coll)
	if err != nil {
		return false, err
	}
	if c.Type != catalog.Calibration {
		return false, fmt.Errorf("registry: %q is a %s collection, not calibration", coll, c.Type)
	}
	ref, ok, err := dataset(ctx, tx, datasetID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, catalog.NotFound.New("dataset %s for association in %q", datasetID, coll)
	}

	existing, err := associations(ctx, tx, coll, ref.Type)
	if err != nil {
		return false, err
	}
	for _, a := range existing {
		if !a.Ref.DataID.Equal(ref.DataID) {
			continue
		}
		if a.Ref.ID == ref.ID && a.Timespan.Begin.Equal(span.Begin) && a.Timespan.End.Equal(span.End) {
			return false, nil
		}
		if a.Timespan.Overlaps(span) {
			return false, catalog.Conflict.New("%s %v in %q: %s overlaps existing %s (%s)",
				ref.Type, ref.DataID, coll, span, a.Timespan, a.Ref.ID)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO calibration_associations (collection, dataset_id, valid_begin, valid_end) VALUES (?, ?, ?, ?)",
		coll, datasetID, encodeBegin(span.Begin), encodeEnd(span.End),
	); err != nil {
		return false, classify(fmt.Errorf("registry: certify %s in %q: %w", datasetID, coll, err))
	}
	return true, nil
}

// withTx runs fn inside a write transaction, committing only if fn succeeds
// and ctx is still live.
func (r *Registry) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if r.readOnly {
		return fmt.Errorf("registry: %s is read-only", r.root)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("registry: begin tx: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("registry: commit: %w", err))
	}
	return nil
}

// RegisterDatasetType adds dt to the registry.
func (r *Registry) RegisterDatasetType(ctx context.Context, dt catalog.DatasetType) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := putDatasetType(ctx, tx, dt)
		return err
	})
}

// RegisterCollection adds c, or merges chain members into an existing chain.
func (r *Registry) RegisterCollection(ctx context.Context, c catalog.Collection) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := putCollection(ctx, tx, c)
		return err
	})
}

// PutDataset stores content as a new dataset described by ref and returns
// the stored ref. An empty ref.ID is assigned a fresh UUID. If the same
// type, run and data ID already hold identical content, the existing ref is
// returned unchanged.
func (r *Registry) PutDataset(ctx context.Context, ref catalog.DatasetRef, content io.Reader) (catalog.DatasetRef, error) {
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}
	// Each write gets its own file so a rejected put never touches an
	// artifact that is already registered.
	ref.Path = artifactPath(ref) + "." + uuid.NewString()[:8]

	res, err := transfer.Write(r.store, ref.Path, content)
	if err != nil {
		return catalog.DatasetRef{}, err
	}
	ref.Size, ref.Checksum = res.Size, res.Checksum

	stored, added := ref, false
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		if existing, ok, err := dataset(ctx, tx, ref.ID); err != nil {
			return err
		} else if ok {
			if existing.Checksum != ref.Checksum || existing.Type != ref.Type || existing.Run != ref.Run || !existing.DataID.Equal(ref.DataID) {
				return catalog.Conflict.New("dataset %s already exists with different content", ref.ID)
			}
			stored = existing
			return nil
		}
		existing, ok, err := datasetByKey(ctx, tx, ref.Type, ref.Run, ref.DataID.Key())
		if err != nil {
			return err
		}
		if ok && existing.Checksum == ref.Checksum {
			stored = existing
			return nil
		}
		added, err = putDataset(ctx, tx, ref)
		return err
	})
	if err != nil || !added {
		_ = r.store.Remove(ref.Path)
	}
	if err != nil {
		return catalog.DatasetRef{}, err
	}
	return stored, nil
}

// Certify associates datasets with a validity timespan in a calibration
// collection.
func (r *Registry) Certify(ctx context.Context, coll string, ids []string, span catalog.Timespan) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := putAssociation(ctx, tx, coll, id, span); err != nil {
				return err
			}
		}
		return nil
	})
}

// DatasetCount returns the number of datasets in the registry.
func (r *Registry) DatasetCount(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM datasets").Scan(&n); err != nil {
		return 0, classify(fmt.Errorf("registry: count datasets: %w", err))
	}
	return n, nil
}

func since(start time.Time) time.Duration { return time.Since(start).Round(time.Millisecond) }
