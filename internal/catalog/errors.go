package catalog

import "github.com/zeebo/errs"

// Error classes for failures at the catalog boundary. Resolution logic never
// produces these itself; they originate in query, export and import calls.
var (
	// NotFound marks a collection, dataset type or dataset that no longer
	// resolves. It is not retried.
	NotFound = errs.Class("not found")
	// Conflict marks an import that would give one identity two different
	// contents. It is fatal for the sync that hit it.
	Conflict = errs.Class("conflict")
	// Transient marks an I/O failure with no integrity implication. Export
	// and import are retried once on it.
	Transient = errs.Class("transient")
	// Unavailable marks a catalog that cannot be reached at all.
	Unavailable = errs.Class("catalog unavailable")
)
