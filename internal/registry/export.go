package registry

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/papapumpkin/visitsync/internal/catalog"
	"github.com/papapumpkin/visitsync/internal/staging"
	"github.com/papapumpkin/visitsync/internal/transfer"
)

// Export writes the collections and datasets named by req into area. All
// reads happen inside one read-only transaction, so the package reflects a
// single snapshot of the registry. Chained collections carry their member
// definitions and every exported dataset carries its type and run.
// Calibration collections carry the associations of the exported datasets
// and of those named in req.Associate.
//
// A collection or dataset that does not exist fails the export with
// NotFound. The manifest is written last, so a failed export leaves no
// importable package behind.
func (r *Registry) Export(ctx context.Context, area *staging.Area, req catalog.ExportRequest) error {
	start := time.Now()
	mode := req.Transfer
	if mode == "" {
		mode = catalog.Copy
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return classify(fmt.Errorf("registry: begin export snapshot: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // read-only snapshot, nothing to commit

	m, err := buildManifest(ctx, tx, req)
	if err != nil {
		return err
	}

	var bytes int64
	for _, ref := range m.Datasets {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := transfer.File(mode, r.store, ref.Path, area.FS, path.Join(transfer.FilesDir, ref.Path))
		if err != nil {
			return fmt.Errorf("export %s: %w", ref, err)
		}
		bytes += res.Size
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := transfer.WriteManifest(area.FS, m); err != nil {
		return err
	}

	r.log.Debug("exported transfer package",
		zap.String("area", area.Name),
		zap.Int("collections", len(m.Collections)),
		zap.Int("datasets", len(m.Datasets)),
		zap.Int("associations", len(m.Associations)),
		zap.Int64("bytes", bytes),
		zap.Duration("took", since(start)),
	)
	return nil
}

func buildManifest(ctx context.Context, tx *sql.Tx, req catalog.ExportRequest) (transfer.Manifest, error) {
	var m transfer.Manifest

	collSeen := make(map[string]bool)
	addCollection := func(c catalog.Collection) {
		if !collSeen[c.Name] {
			collSeen[c.Name] = true
			m.Collections = append(m.Collections, c)
		}
	}
	for _, name := range req.Collections {
		reached, err := catalog.Flatten(ctx, lookupIn(tx), true, name)
		if err != nil {
			return transfer.Manifest{}, err
		}
		for _, c := range reached {
			addCollection(c)
		}
	}

	typeSeen := make(map[string]bool)
	dsSeen := make(map[string]bool)
	for _, want := range req.Datasets {
		if dsSeen[want.ID] {
			continue
		}
		ref, ok, err := dataset(ctx, tx, want.ID)
		if err != nil {
			return transfer.Manifest{}, err
		}
		if !ok {
			return transfer.Manifest{}, catalog.NotFound.New("dataset %s", want)
		}
		dsSeen[ref.ID] = true
		m.Datasets = append(m.Datasets, ref)

		if !typeSeen[ref.Type] {
			dt, err := datasetType(ctx, tx, ref.Type)
			if err != nil {
				return transfer.Manifest{}, err
			}
			typeSeen[ref.Type] = true
			m.DatasetTypes = append(m.DatasetTypes, dt)
		}
		if !collSeen[ref.Run] {
			run, err := collection(ctx, tx, ref.Run)
			if err != nil {
				return transfer.Manifest{}, err
			}
			addCollection(run)
		}
	}

	associate := make(map[string]bool, len(dsSeen)+len(req.Associate))
	for id := range dsSeen {
		associate[id] = true
	}
	for _, id := range req.Associate {
		associate[id] = true
	}

	for _, c := range m.Collections {
		if c.Type != catalog.Calibration {
			continue
		}
		assocs, err := associations(ctx, tx, c.Name, "")
		if err != nil {
			return transfer.Manifest{}, err
		}
		for _, a := range assocs {
			if !associate[a.Ref.ID] {
				continue
			}
			m.Associations = append(m.Associations, transfer.Association{
				Collection: c.Name,
				DatasetID:  a.Ref.ID,
				Timespan:   a.Timespan,
			})
		}
	}
	return m, nil
}
