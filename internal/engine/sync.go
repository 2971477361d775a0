package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/papapumpkin/visitsync/internal/catalog"
	"github.com/papapumpkin/visitsync/internal/resolve"
	"github.com/papapumpkin/visitsync/internal/telemetry"
	"github.com/papapumpkin/visitsync/internal/visit"
)

// Result describes one completed visit sync.
type Result struct {
	Visit visit.Visit
	// Instant is when calibration validity was evaluated.
	Instant time.Time
	// Resolved are the calibration datasets the visit needs.
	Resolved []catalog.DatasetRef
	// Fetched are the resolved datasets that were not yet in the destination.
	Fetched []catalog.DatasetRef
	// Collections were exported alongside the datasets.
	Collections []string
	Stats       catalog.ImportStats
}

// SyncVisit makes the destination hold every calibration dataset v needs.
// It waits for bootstrap to finish. On failure the destination is left as
// it was before the call.
func (e *Engine) SyncVisit(ctx context.Context, v visit.Visit) (Result, error) {
	if err := v.Validate(); err != nil {
		return Result{}, fmt.Errorf("sync %s: %w", v, err)
	}
	if err := e.waitReady(ctx); err != nil {
		return Result{}, fmt.Errorf("sync %s: %w", v, err)
	}

	key := visitKey(v)
	log := e.log.With(zap.String("group", v.Group), zap.Int("detector", v.Detector))
	start := time.Now()

	res, err := e.syncVisit(ctx, key, v, log)
	if err != nil {
		e.setState(key, StateFailed)
		e.emit(telemetry.Event{Kind: telemetry.KindSyncFailed, Visit: key, Data: map[string]string{"error": err.Error()}})
		log.Error("visit sync failed", zap.Error(err))
		return Result{}, fmt.Errorf("sync %s: %w", v, err)
	}
	e.setState(key, StateIdle)
	e.emit(telemetry.Event{Kind: telemetry.KindSyncDone, Visit: key, Data: map[string]int{
		"resolved":       len(res.Resolved),
		"fetched":        len(res.Fetched),
		"datasets_added": res.Stats.DatasetsAdded,
	}})
	log.Info("visit synced",
		zap.Int("resolved", len(res.Resolved)),
		zap.Int("fetched", len(res.Fetched)),
		zap.Int("datasets_added", res.Stats.DatasetsAdded),
		zap.Duration("took", time.Since(start).Round(time.Millisecond)),
	)
	return res, nil
}

// waitReady blocks until bootstrap has committed. A ready engine never
// reports the context error.
func (e *Engine) waitReady(ctx context.Context) error {
	select {
	case <-e.ready:
		return nil
	default:
	}
	select {
	case <-e.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrNotBootstrapped, ctx.Err())
	}
}

func (e *Engine) syncVisit(ctx context.Context, key string, v visit.Visit, log *zap.Logger) (Result, error) {
	e.setState(key, StateResolving)
	res := Result{Visit: v, Instant: e.cfg.Validity.Instant(v, e.now())}

	types := e.types()
	cals := &resolve.Calibrations{
		Source:     e.src,
		Collection: e.cfg.CalibCollection,
		Types:      types,
		Logger:     log,
	}
	resolved, err := cals.Resolve(ctx, v, res.Instant)
	if err != nil {
		return res, fmt.Errorf("resolve calibrations: %w", err)
	}
	res.Resolved = resolved

	colls := &resolve.Collections{
		Source:     e.src,
		Collection: e.cfg.CalibCollection,
		Types:      types,
	}
	runs, err := colls.Resolve(ctx, v)
	if err != nil {
		return res, fmt.Errorf("resolve collections: %w", err)
	}

	res.Fetched, err = e.prune(ctx, resolved)
	if err != nil {
		return res, fmt.Errorf("prune: %w", err)
	}
	res.Collections = exportCollections(e.cfg.CalibCollection, runs, res.Fetched)
	log.Debug("resolved visit",
		zap.Time("instant", res.Instant),
		zap.Int("resolved", len(resolved)),
		zap.Int("resident", len(resolved)-len(res.Fetched)),
		zap.Strings("collections", res.Collections),
	)

	e.setState(key, StateExporting)
	// Resident datasets still need any validity ranges certified since they
	// were fetched.
	req := catalog.ExportRequest{
		Collections: res.Collections,
		Datasets:    res.Fetched,
		Associate:   refIDs(resolved),
	}
	res.Stats, err = e.transfer(ctx, "visit", v.Group, req, func() {
		e.setState(key, StateImporting)
	})
	return res, err
}

// prune drops the datasets the destination already holds.
func (e *Engine) prune(ctx context.Context, refs []catalog.DatasetRef) ([]catalog.DatasetRef, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	have, err := e.dst.Has(ctx, refIDs(refs))
	if err != nil {
		return nil, err
	}
	var out []catalog.DatasetRef
	for _, r := range refs {
		if !have[r.ID] {
			out = append(out, r)
		}
	}
	return out, nil
}

// exportCollections is the calibration collection followed by the sorted
// union of the resolved runs and the runs owning fetched datasets.
func exportCollections(calib string, runs []string, fetched []catalog.DatasetRef) []string {
	set := make(map[string]bool, len(runs)+len(fetched))
	for _, r := range runs {
		set[r] = true
	}
	for _, ref := range fetched {
		set[ref.Run] = true
	}
	delete(set, calib)
	out := make([]string, 0, len(set)+1)
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return append([]string{calib}, out...)
}

func refIDs(refs []catalog.DatasetRef) []string {
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return ids
}
