package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/papapumpkin/visitsync/internal/catalog"
	"github.com/papapumpkin/visitsync/internal/dataid"
	"github.com/papapumpkin/visitsync/internal/resolve"
	"github.com/papapumpkin/visitsync/internal/telemetry"
)

// Bootstrap creates the destination if needed and imports the calibration
// collection structure and the configured reference catalogs. On success
// the engine becomes ready. Running it again is harmless.
func (e *Engine) Bootstrap(ctx context.Context) error {
	e.bootMu.Lock()
	defer e.bootMu.Unlock()
	start := time.Now()

	if err := e.dst.Create(ctx); err != nil {
		return fmt.Errorf("bootstrap: create destination: %w", err)
	}

	req, err := e.bootstrapRequest(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	types, err := resolve.CalibrationTypes(ctx, e.src)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	stats, err := e.transfer(ctx, "bootstrap", "", req, nil)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	e.typesMu.Lock()
	e.calibTypes = types
	e.typesMu.Unlock()
	e.readyOnce.Do(func() { close(e.ready) })
	e.emit(telemetry.Event{Kind: telemetry.KindBootstrapDone, Data: map[string]int{
		"collections":    len(req.Collections),
		"datasets_added": stats.DatasetsAdded,
	}})
	e.log.Info("bootstrap complete",
		zap.Int("collections", len(req.Collections)),
		zap.Int("reference_datasets", len(req.Datasets)),
		zap.Int("calibration_types", len(types)),
		zap.Int("datasets_added", stats.DatasetsAdded),
		zap.Duration("took", time.Since(start).Round(time.Millisecond)),
	)
	return nil
}

// bootstrapRequest selects the calibration collection tree, the reference
// catalog collection and the reference datasets inside the sky region.
func (e *Engine) bootstrapRequest(ctx context.Context) (catalog.ExportRequest, error) {
	var req catalog.ExportRequest

	calib, err := e.src.QueryCollections(ctx, e.cfg.CalibCollection, catalog.CollectionQuery{
		FlattenChains: true,
		IncludeChains: true,
		Types:         []catalog.CollectionType{catalog.Calibration, catalog.Chained},
	})
	if err != nil {
		return req, fmt.Errorf("calibration collections: %w", err)
	}
	req.Collections = append(req.Collections, e.cfg.CalibCollection)
	for _, c := range calib {
		if c.Name != e.cfg.CalibCollection {
			req.Collections = append(req.Collections, c.Name)
		}
	}

	if e.cfg.RefcatCollection == "" {
		return req, nil
	}
	req.Collections = append(req.Collections, e.cfg.RefcatCollection)

	where := inRegion(e.cfg.HTM7)
	for _, typ := range e.cfg.RefcatTypes {
		refs, err := e.src.QueryDatasets(ctx, catalog.DatasetQuery{
			Type:        typ,
			Collections: []string{e.cfg.RefcatCollection},
			Where:       where,
		})
		if err != nil {
			return req, fmt.Errorf("reference catalog %s: %w", typ, err)
		}
		req.Datasets = append(req.Datasets, refs...)
	}
	return req, nil
}

// inRegion accepts data IDs whose htm7 pixel is in pixels. An empty pixel
// list accepts everything.
func inRegion(pixels []int) func(dataid.DataID) bool {
	if len(pixels) == 0 {
		return nil
	}
	set := make(map[int]bool, len(pixels))
	for _, p := range pixels {
		set[p] = true
	}
	return func(id dataid.DataID) bool {
		return id.HTM7 != nil && set[*id.HTM7]
	}
}
