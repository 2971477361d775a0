package registry

import (
	"context"
	"fmt"

	"github.com/papapumpkin/visitsync/internal/catalog"
	"github.com/papapumpkin/visitsync/internal/dataid"
)

// QueryCollections returns root, or the collections reachable from it when
// q.FlattenChains is set, filtered by type.
func (r *Registry) QueryCollections(ctx context.Context, root string, q catalog.CollectionQuery) ([]catalog.Collection, error) {
	return queryCollections(ctx, r.db, root, q)
}

func queryCollections(ctx context.Context, qr querier, root string, q catalog.CollectionQuery) ([]catalog.Collection, error) {
	var found []catalog.Collection
	if q.FlattenChains {
		var err error
		found, err = catalog.Flatten(ctx, lookupIn(qr), q.IncludeChains, root)
		if err != nil {
			return nil, err
		}
	} else {
		c, err := collection(ctx, qr, root)
		if err != nil {
			return nil, err
		}
		found = []catalog.Collection{c}
	}

	out := found[:0]
	for _, c := range found {
		if q.Accepts(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Collections lists every collection in the registry.
func (r *Registry) Collections(ctx context.Context) ([]catalog.Collection, error) {
	return allCollections(ctx, r.db)
}

// QueryDatasetTypes returns every registered dataset type.
func (r *Registry) QueryDatasetTypes(ctx context.Context) ([]catalog.DatasetType, error) {
	return datasetTypes(ctx, r.db)
}

// QueryDatasets returns datasets of q.Type held by any collection reachable
// from q.Collections, de-duplicated, filtered by q.Where.
func (r *Registry) QueryDatasets(ctx context.Context, q catalog.DatasetQuery) ([]catalog.DatasetRef, error) {
	if _, err := datasetType(ctx, r.db, q.Type); err != nil {
		return nil, err
	}
	colls, err := catalog.Flatten(ctx, lookupIn(r.db), false, q.Collections...)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []catalog.DatasetRef
	add := func(ref catalog.DatasetRef) {
		if seen[ref.ID] {
			return
		}
		if q.Where != nil && !q.Where(ref.DataID) {
			return
		}
		seen[ref.ID] = true
		out = append(out, ref)
	}

	for _, c := range colls {
		switch c.Type {
		case catalog.Run:
			refs, err := queryDatasets(ctx, r.db,
				"SELECT "+datasetColumns+" FROM datasets d WHERE d.run = ? AND d.dataset_type = ? ORDER BY d.data_id",
				c.Name, q.Type)
			if err != nil {
				return nil, err
			}
			for _, ref := range refs {
				add(ref)
			}
		case catalog.Calibration:
			assocs, err := associations(ctx, r.db, c.Name, q.Type)
			if err != nil {
				return nil, err
			}
			for _, a := range assocs {
				add(a.Ref)
			}
		}
	}
	return out, nil
}

// FindDataset searches collections in order for a dataset of datasetType
// whose data ID equals id projected onto the type's dimensions. In a
// calibration collection the association must overlap span; if several do,
// the one that became valid last wins. An id that lacks one of the type's
// dimensions can never match and yields nil.
func (r *Registry) FindDataset(ctx context.Context, typ string, id dataid.DataID, collections []string, span catalog.Timespan) (*catalog.DatasetRef, error) {
	dt, err := datasetType(ctx, r.db, typ)
	if err != nil {
		return nil, err
	}
	if !id.Covers(dt.Dimensions...) {
		return nil, nil
	}
	key := id.Project(dt.Dimensions...)

	colls, err := catalog.Flatten(ctx, lookupIn(r.db), false, collections...)
	if err != nil {
		return nil, err
	}
	for _, c := range colls {
		switch c.Type {
		case catalog.Run:
			ref, ok, err := datasetByKey(ctx, r.db, typ, c.Name, key.Key())
			if err != nil {
				return nil, err
			}
			if ok {
				return &ref, nil
			}
		case catalog.Calibration:
			assocs, err := associations(ctx, r.db, c.Name, typ)
			if err != nil {
				return nil, err
			}
			var best *catalog.Association
			for i := range assocs {
				a := &assocs[i]
				if !a.Ref.DataID.Equal(key) || !a.Timespan.Overlaps(span) {
					continue
				}
				if best == nil || a.Timespan.Begin.After(best.Timespan.Begin) {
					best = a
				}
			}
			if best != nil {
				ref := best.Ref
				return &ref, nil
			}
		}
	}
	return nil, nil
}

// QueryAssociations returns the associations of datasetType in every
// calibration collection reachable from coll.
func (r *Registry) QueryAssociations(ctx context.Context, typ, coll string, q catalog.CollectionQuery) ([]catalog.Association, error) {
	if _, err := datasetType(ctx, r.db, typ); err != nil {
		return nil, err
	}
	colls, err := queryCollections(ctx, r.db, coll, q)
	if err != nil {
		return nil, err
	}
	var out []catalog.Association
	for _, c := range colls {
		if c.Type != catalog.Calibration {
			continue
		}
		assocs, err := associations(ctx, r.db, c.Name, typ)
		if err != nil {
			return nil, err
		}
		out = append(out, assocs...)
	}
	return out, nil
}

// Has reports which of ids are present in the registry.
func (r *Registry) Has(ctx context.Context, ids []string) (map[string]bool, error) {
	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		var one int
		err := r.db.QueryRowContext(ctx, "SELECT 1 FROM datasets WHERE id = ?", id).Scan(&one)
		switch {
		case err == nil:
			present[id] = true
		case isNoRows(err):
		default:
			return nil, classify(fmt.Errorf("registry: has %s: %w", id, err))
		}
	}
	return present, nil
}

// Datasets lists every dataset, optionally restricted to one run.
func (r *Registry) Datasets(ctx context.Context, run string) ([]catalog.DatasetRef, error) {
	if run == "" {
		return queryDatasets(ctx, r.db,
			"SELECT "+datasetColumns+" FROM datasets d ORDER BY d.run, d.dataset_type, d.data_id")
	}
	return queryDatasets(ctx, r.db,
		"SELECT "+datasetColumns+" FROM datasets d WHERE d.run = ? ORDER BY d.dataset_type, d.data_id", run)
}

// Associations lists every association in one calibration collection.
func (r *Registry) Associations(ctx context.Context, coll string) ([]catalog.Association, error) {
	return associations(ctx, r.db, coll, "")
}
