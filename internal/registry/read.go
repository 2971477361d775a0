package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/papapumpkin/visitsync/internal/catalog"
	"github.com/papapumpkin/visitsync/internal/dataid"
)

// Timespan bounds are stored as Unix nanoseconds; unbounded sides use the
// extremes so the primary key never contains NULL.
func encodeBegin(t time.Time) int64 {
	if t.IsZero() {
		return math.MinInt64
	}
	return t.UnixNano()
}

func encodeEnd(t time.Time) int64 {
	if t.IsZero() {
		return math.MaxInt64
	}
	return t.UnixNano()
}

func decodeTimespan(begin, end int64) catalog.Timespan {
	var s catalog.Timespan
	if begin != math.MinInt64 {
		s.Begin = time.Unix(0, begin).UTC()
	}
	if end != math.MaxInt64 {
		s.End = time.Unix(0, end).UTC()
	}
	return s
}

func encodeDimensions(dims []dataid.Dimension) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = string(d)
	}
	return strings.Join(parts, ",")
}

func decodeDimensions(s string) ([]dataid.Dimension, error) {
	if s == "" {
		return nil, nil
	}
	var dims []dataid.Dimension
	for _, part := range strings.Split(s, ",") {
		d, err := dataid.ParseDimension(part)
		if err != nil {
			return nil, err
		}
		dims = append(dims, d)
	}
	return dims, nil
}

func lookupIn(q querier) catalog.CollectionLookup {
	return func(ctx context.Context, name string) (catalog.Collection, error) {
		return collection(ctx, q, name)
	}
}

func collection(ctx context.Context, q querier, name string) (catalog.Collection, error) {
	var typ string
	err := q.QueryRowContext(ctx, "SELECT type FROM collections WHERE name = ?", name).Scan(&typ)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Collection{}, catalog.NotFound.New("collection %q", name)
	}
	if err != nil {
		return catalog.Collection{}, classify(fmt.Errorf("registry: get collection %q: %w", name, err))
	}
	c := catalog.Collection{Name: name, Type: catalog.CollectionType(typ)}
	if c.Type != catalog.Chained {
		return c, nil
	}

	rows, err := q.QueryContext(ctx,
		"SELECT child FROM collection_chains WHERE parent = ? ORDER BY position", name)
	if err != nil {
		return catalog.Collection{}, classify(fmt.Errorf("registry: chain %q: %w", name, err))
	}
	defer rows.Close()
	for rows.Next() {
		var child string
		if err := rows.Scan(&child); err != nil {
			return catalog.Collection{}, fmt.Errorf("registry: scan chain %q: %w", name, err)
		}
		c.Children = append(c.Children, child)
	}
	if err := rows.Err(); err != nil {
		return catalog.Collection{}, classify(fmt.Errorf("registry: iterate chain %q: %w", name, err))
	}
	return c, nil
}

func allCollections(ctx context.Context, q querier) ([]catalog.Collection, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM collections ORDER BY name")
	if err != nil {
		return nil, classify(fmt.Errorf("registry: list collections: %w", err))
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("registry: scan collection: %w", err)
		}
		names = append(names, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("registry: iterate collections: %w", err))
	}

	out := make([]catalog.Collection, 0, len(names))
	for _, n := range names {
		c, err := collection(ctx, q, n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func datasetType(ctx context.Context, q querier, name string) (catalog.DatasetType, error) {
	var (
		dims string
		dt   = catalog.DatasetType{Name: name}
	)
	err := q.QueryRowContext(ctx,
		"SELECT dimensions, storage_class, is_calibration FROM dataset_types WHERE name = ?", name,
	).Scan(&dims, &dt.StorageClass, &dt.IsCalibration)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.DatasetType{}, catalog.NotFound.New("dataset type %q", name)
	}
	if err != nil {
		return catalog.DatasetType{}, classify(fmt.Errorf("registry: get dataset type %q: %w", name, err))
	}
	if dt.Dimensions, err = decodeDimensions(dims); err != nil {
		return catalog.DatasetType{}, fmt.Errorf("registry: dataset type %q: %w", name, err)
	}
	return dt, nil
}

func datasetTypes(ctx context.Context, q querier) ([]catalog.DatasetType, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT name, dimensions, storage_class, is_calibration FROM dataset_types ORDER BY name")
	if err != nil {
		return nil, classify(fmt.Errorf("registry: list dataset types: %w", err))
	}
	defer rows.Close()

	var out []catalog.DatasetType
	for rows.Next() {
		var (
			dt   catalog.DatasetType
			dims string
		)
		if err := rows.Scan(&dt.Name, &dims, &dt.StorageClass, &dt.IsCalibration); err != nil {
			return nil, fmt.Errorf("registry: scan dataset type: %w", err)
		}
		if dt.Dimensions, err = decodeDimensions(dims); err != nil {
			return nil, fmt.Errorf("registry: dataset type %q: %w", dt.Name, err)
		}
		out = append(out, dt)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("registry: iterate dataset types: %w", err))
	}
	return out, nil
}

const datasetColumns = "d.id, d.dataset_type, d.run, d.data_id, d.path, d.checksum, d.size"

type scanner interface {
	Scan(dest ...any) error
}

func scanDataset(s scanner) (catalog.DatasetRef, error) {
	var (
		ref catalog.DatasetRef
		key string
	)
	if err := s.Scan(&ref.ID, &ref.Type, &ref.Run, &key, &ref.Path, &ref.Checksum, &ref.Size); err != nil {
		return catalog.DatasetRef{}, err
	}
	id, err := dataid.ParseKey(key)
	if err != nil {
		return catalog.DatasetRef{}, fmt.Errorf("dataset %s: %w", ref.ID, err)
	}
	ref.DataID = id
	return ref, nil
}

func queryDatasets(ctx context.Context, q querier, query string, args ...any) ([]catalog.DatasetRef, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("registry: query datasets: %w", err))
	}
	defer rows.Close()

	var out []catalog.DatasetRef
	for rows.Next() {
		ref, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: scan dataset: %w", err)
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("registry: iterate datasets: %w", err))
	}
	return out, nil
}

// dataset returns the dataset with the given ID; ok is false if absent.
func dataset(ctx context.Context, q querier, id string) (catalog.DatasetRef, bool, error) {
	ref, err := scanDataset(q.QueryRowContext(ctx,
		"SELECT "+datasetColumns+" FROM datasets d WHERE d.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.DatasetRef{}, false, nil
	}
	if err != nil {
		return catalog.DatasetRef{}, false, classify(fmt.Errorf("registry: get dataset %s: %w", id, err))
	}
	return ref, true, nil
}

// datasetByKey returns the dataset of typ in run with the given data ID key.
func datasetByKey(ctx context.Context, q querier, typ, run, key string) (catalog.DatasetRef, bool, error) {
	ref, err := scanDataset(q.QueryRowContext(ctx,
		"SELECT "+datasetColumns+" FROM datasets d WHERE d.dataset_type = ? AND d.run = ? AND d.data_id = ?",
		typ, run, key))
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.DatasetRef{}, false, nil
	}
	if err != nil {
		return catalog.DatasetRef{}, false, classify(fmt.Errorf("registry: find %s in %s: %w", typ, run, err))
	}
	return ref, true, nil
}

// associations lists the associations in one calibration collection. An
// empty typ lists every dataset type.
func associations(ctx context.Context, q querier, coll, typ string) ([]catalog.Association, error) {
	query := `SELECT ` + datasetColumns + `, a.valid_begin, a.valid_end
		FROM calibration_associations a JOIN datasets d ON d.id = a.dataset_id
		WHERE a.collection = ?`
	args := []any{coll}
	if typ != "" {
		query += " AND d.dataset_type = ?"
		args = append(args, typ)
	}
	query += " ORDER BY a.valid_begin, d.id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("registry: associations in %q: %w", coll, err))
	}
	defer rows.Close()

	var out []catalog.Association
	for rows.Next() {
		var (
			ref        catalog.DatasetRef
			key        string
			begin, end int64
		)
		if err := rows.Scan(&ref.ID, &ref.Type, &ref.Run, &key, &ref.Path, &ref.Checksum, &ref.Size, &begin, &end); err != nil {
			return nil, fmt.Errorf("registry: scan association: %w", err)
		}
		if ref.DataID, err = dataid.ParseKey(key); err != nil {
			return nil, fmt.Errorf("registry: association for %s: %w", ref.ID, err)
		}
		out = append(out, catalog.Association{
			Collection: coll,
			Ref:        ref,
			Timespan:   decodeTimespan(begin, end),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("registry: iterate associations in %q: %w", coll, err))
	}
	return out, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
