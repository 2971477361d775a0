// Package catalog defines the vocabulary shared by the source and destination
// data catalogs: collections, dataset types, datasets and calibration
// associations, plus the capabilities the sync engine needs from each side.
//
// The source catalog is large, authoritative and read-only from this
// module's point of view. The destination catalog is local, writable and
// grows by importing transfer packages exported from the source.
package catalog

import (
	"context"

	"github.com/papapumpkin/visitsync/internal/dataid"
	"github.com/papapumpkin/visitsync/internal/staging"
)

// CollectionQuery narrows a collection search.
type CollectionQuery struct {
	// FlattenChains expands chained collections into their members.
	FlattenChains bool
	// IncludeChains also reports the chained collections themselves.
	IncludeChains bool
	// Types restricts results to these collection types. Empty means all.
	Types []CollectionType
}

// Accepts reports whether c passes the type filter.
func (q CollectionQuery) Accepts(c Collection) bool {
	if len(q.Types) == 0 {
		return true
	}
	for _, t := range q.Types {
		if c.Type == t {
			return true
		}
	}
	return false
}

// DatasetQuery selects datasets of one type within a collection scope.
type DatasetQuery struct {
	Type        string
	Collections []string
	// Where filters by data ID. Nil accepts every dataset.
	Where func(dataid.DataID) bool
}

// ExportRequest names the subset of the source to serialize. Collections are
// exported as definitions and memberships only; Datasets carry their
// artifacts. Associate names datasets the receiver already holds: their
// calibration associations travel without the artifacts.
type ExportRequest struct {
	Collections []string
	Datasets    []DatasetRef
	Associate   []string
	Transfer    TransferMode
}

// ImportStats summarizes one import.
type ImportStats struct {
	CollectionsAdded  int
	DatasetsAdded     int
	DatasetsSkipped   int
	AssociationsAdded int
	BytesTransferred  int64
}

// Source is the read side of the remote catalog.
type Source interface {
	// QueryCollections returns root, or everything reachable from it when
	// q.FlattenChains is set, filtered by q.
	QueryCollections(ctx context.Context, root string, q CollectionQuery) ([]Collection, error)

	// QueryDatasetTypes returns every registered dataset type.
	QueryDatasetTypes(ctx context.Context) ([]DatasetType, error)

	// QueryDatasets returns datasets matching q.
	QueryDatasets(ctx context.Context, q DatasetQuery) ([]DatasetRef, error)

	// FindDataset returns the first dataset of datasetType whose data ID
	// matches id on the type's dimensions, searching collections in order.
	// Calibration collections only yield datasets certified over span.
	// A nil ref with a nil error means nothing matched.
	FindDataset(ctx context.Context, datasetType string, id dataid.DataID, collections []string, span Timespan) (*DatasetRef, error)

	// QueryAssociations returns the calibration associations of datasetType
	// within collection, expanded as q describes.
	QueryAssociations(ctx context.Context, datasetType, collection string, q CollectionQuery) ([]Association, error)

	// Export writes the requested subset into area from a single consistent
	// read snapshot.
	Export(ctx context.Context, area *staging.Area, req ExportRequest) error
}

// Destination is the write side of the local catalog.
type Destination interface {
	// Create initializes the catalog if it does not exist yet.
	Create(ctx context.Context) error

	// Import merges the package in area into the catalog, all or nothing.
	Import(ctx context.Context, area *staging.Area, mode TransferMode) (ImportStats, error)

	// Has reports which of the dataset IDs are already present.
	Has(ctx context.Context, ids []string) (map[string]bool, error)
}
