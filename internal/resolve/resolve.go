// Package resolve decides which source datasets and collections one visit
// needs. Resolution only reads the source catalog.
package resolve

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/papapumpkin/visitsync/internal/catalog"
	"github.com/papapumpkin/visitsync/internal/dataid"
	"github.com/papapumpkin/visitsync/internal/visit"
)

// maxConcurrentQueries bounds the per-type source queries of one resolution.
const maxConcurrentQueries = 4

// Finder looks up the dataset valid for a data ID.
type Finder interface {
	FindDataset(ctx context.Context, datasetType string, id dataid.DataID, collections []string, span catalog.Timespan) (*catalog.DatasetRef, error)
}

// AssociationLister enumerates calibration associations.
type AssociationLister interface {
	QueryAssociations(ctx context.Context, datasetType, collection string, q catalog.CollectionQuery) ([]catalog.Association, error)
}

// CalibrationTypes returns the calibration dataset types known to src, in
// name order.
func CalibrationTypes(ctx context.Context, src interface {
	QueryDatasetTypes(ctx context.Context) ([]catalog.DatasetType, error)
}) ([]catalog.DatasetType, error) {
	all, err := src.QueryDatasetTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing dataset types: %w", err)
	}
	var out []catalog.DatasetType
	for _, dt := range all {
		if dt.IsCalibration {
			out = append(out, dt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Calibrations picks, for each calibration type, the dataset certified in
// Collection at the lookup instant for a visit.
type Calibrations struct {
	Source     Finder
	Collection string
	Types      []catalog.DatasetType
	Logger     *zap.Logger
}

// Resolve returns at most one dataset per calibration type, in type order.
// Types with no dataset valid at the instant are skipped.
func (c *Calibrations) Resolve(ctx context.Context, v visit.Visit, at time.Time) ([]catalog.DatasetRef, error) {
	log := logger(c.Logger)
	id := v.DataID()
	span := catalog.Instant(at)

	found := make([]*catalog.DatasetRef, len(c.Types))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQueries)
	for i, dt := range c.Types {
		g.Go(func() error {
			ref, err := c.Source.FindDataset(gctx, dt.Name, id, []string{c.Collection}, span)
			if err != nil {
				return fmt.Errorf("finding %s for %s: %w", dt.Name, v, err)
			}
			found[i] = ref
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(found))
	var out []catalog.DatasetRef
	for i, ref := range found {
		if ref == nil {
			log.Debug("no valid calibration", zap.String("type", c.Types[i].Name), zap.Stringer("visit", v))
			continue
		}
		if seen[ref.ID] {
			continue
		}
		seen[ref.ID] = true
		out = append(out, *ref)
	}
	return out, nil
}

// Collections finds the run collections that own calibration datasets
// matching a visit anywhere under Collection.
type Collections struct {
	Source     AssociationLister
	Collection string
	Types      []catalog.DatasetType
}

// Resolve returns the distinct owning runs across all calibration types,
// sorted by name.
func (c *Collections) Resolve(ctx context.Context, v visit.Visit) ([]string, error) {
	sets := make([][]string, len(c.Types))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQueries)
	for i, dt := range c.Types {
		g.Go(func() error {
			runs, err := c.ResolveType(gctx, dt.Name, v)
			if err != nil {
				return err
			}
			sets[i] = runs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []string
	for _, runs := range sets {
		for _, r := range runs {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// ResolveType returns the runs owning datasetType associations whose data
// ID matches v, in discovery order.
func (c *Collections) ResolveType(ctx context.Context, datasetType string, v visit.Visit) ([]string, error) {
	assocs, err := c.Source.QueryAssociations(ctx, datasetType, c.Collection, catalog.CollectionQuery{
		FlattenChains: true,
		Types:         []catalog.CollectionType{catalog.Calibration},
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s associations: %w", datasetType, err)
	}
	id := v.DataID()
	seen := make(map[string]bool)
	var runs []string
	for _, a := range assocs {
		if !dataid.Matches(a.Ref.DataID, id) || seen[a.Ref.Run] {
			continue
		}
		seen[a.Ref.Run] = true
		runs = append(runs, a.Ref.Run)
	}
	return runs, nil
}

func logger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
