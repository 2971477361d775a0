package registry

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/papapumpkin/visitsync/internal/catalog"
	"github.com/papapumpkin/visitsync/internal/staging"
	"github.com/papapumpkin/visitsync/internal/transfer"
)

// Import merges the transfer package in area into the registry inside a
// single transaction. Datasets, collections and associations that are
// already present with the same content are skipped, so importing the same
// package twice leaves the registry unchanged. Chain members are unioned.
//
// An identity collision with different content fails with Conflict. On any
// failure, including cancellation before commit, the transaction is rolled
// back and artifacts written by this call are removed again.
func (r *Registry) Import(ctx context.Context, area *staging.Area, mode catalog.TransferMode) (catalog.ImportStats, error) {
	start := time.Now()
	if mode == "" {
		mode = catalog.Copy
	}
	m, err := transfer.ReadManifest(area.FS)
	if err != nil {
		return catalog.ImportStats{}, err
	}

	var (
		stats   catalog.ImportStats
		written []string
	)
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		stats, written, err = r.merge(ctx, tx, area, m, mode)
		return err
	})
	if err != nil {
		for _, p := range written {
			if rmErr := r.store.Remove(p); rmErr != nil {
				r.log.Warn("removing artifact after failed import", zap.String("path", p), zap.Error(rmErr))
			}
		}
		return catalog.ImportStats{}, err
	}

	r.log.Info("imported transfer package",
		zap.String("area", area.Name),
		zap.Int("collections_added", stats.CollectionsAdded),
		zap.Int("datasets_added", stats.DatasetsAdded),
		zap.Int("datasets_skipped", stats.DatasetsSkipped),
		zap.Int("associations_added", stats.AssociationsAdded),
		zap.String("transferred", humanize.Bytes(uint64(stats.BytesTransferred))),
		zap.Duration("took", since(start)),
	)
	return stats, nil
}

// merge applies the manifest inside tx. It returns the artifact paths it
// created so the caller can remove them if the transaction does not commit.
func (r *Registry) merge(ctx context.Context, tx *sql.Tx, area *staging.Area, m transfer.Manifest, mode catalog.TransferMode) (catalog.ImportStats, []string, error) {
	var (
		stats   catalog.ImportStats
		written []string
	)

	for _, dt := range m.DatasetTypes {
		if _, err := putDatasetType(ctx, tx, dt); err != nil {
			return stats, written, err
		}
	}
	for _, c := range m.Collections {
		added, err := putCollection(ctx, tx, c)
		if err != nil {
			return stats, written, err
		}
		if added {
			stats.CollectionsAdded++
		}
	}

	for _, ref := range m.Datasets {
		if err := ctx.Err(); err != nil {
			return stats, written, err
		}
		existing, ok, err := dataset(ctx, tx, ref.ID)
		if err != nil {
			return stats, written, err
		}
		if ok {
			if !existing.SameContent(ref) {
				return stats, written, catalog.Conflict.New("dataset %s already exists with different content", ref.ID)
			}
			stats.DatasetsSkipped++
			continue
		}
		if err := checkDatasetSlot(ctx, tx, ref); err != nil {
			return stats, written, err
		}

		res, err := transfer.File(mode, area.FS, path.Join(transfer.FilesDir, ref.Path), r.store, ref.Path)
		if err != nil {
			return stats, written, fmt.Errorf("import %s: %w", ref, err)
		}
		written = append(written, ref.Path)
		if res.Checksum != "" && res.Checksum != ref.Checksum {
			return stats, written, catalog.Conflict.New("dataset %s: artifact checksum %s does not match %s", ref.ID, res.Checksum, ref.Checksum)
		}
		if _, err := putDataset(ctx, tx, ref); err != nil {
			return stats, written, err
		}
		stats.DatasetsAdded++
		stats.BytesTransferred += res.Size
	}

	for _, a := range m.Associations {
		added, err := putAssociation(ctx, tx, a.Collection, a.DatasetID, a.Timespan)
		if err != nil {
			return stats, written, err
		}
		if added {
			stats.AssociationsAdded++
		}
	}
	return stats, written, nil
}
