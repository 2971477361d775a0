// Package registry is a SQLite-backed data catalog. One Registry directory
// holds registry.db and a datastore/ tree of dataset artifacts. The same type
// serves as the read-only source catalog and as the writable local
// destination catalog.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/papapumpkin/visitsync/internal/catalog"
)

// File and directory names inside a registry root.
const (
	DBName       = "registry.db"
	DatastoreDir = "datastore"
)

// schema contains the DDL executed when a writable registry opens. Using
// IF NOT EXISTS makes it safe to run on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS dataset_types (
    name           TEXT PRIMARY KEY,
    dimensions     TEXT NOT NULL,
    storage_class  TEXT NOT NULL DEFAULT '',
    is_calibration BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS collections (
    name       TEXT PRIMARY KEY,
    type       TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS collection_chains (
    parent   TEXT NOT NULL,
    position INTEGER NOT NULL,
    child    TEXT NOT NULL,
    PRIMARY KEY (parent, position),
    UNIQUE (parent, child)
);

CREATE TABLE IF NOT EXISTS datasets (
    id           TEXT PRIMARY KEY,
    dataset_type TEXT NOT NULL,
    run          TEXT NOT NULL,
    data_id      TEXT NOT NULL,
    path         TEXT NOT NULL,
    checksum     TEXT NOT NULL,
    size         INTEGER NOT NULL,
    created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (dataset_type, run, data_id)
);

CREATE INDEX IF NOT EXISTS datasets_by_type ON datasets (dataset_type, data_id);

CREATE TABLE IF NOT EXISTS calibration_associations (
    collection  TEXT NOT NULL,
    dataset_id  TEXT NOT NULL,
    valid_begin INTEGER NOT NULL,
    valid_end   INTEGER NOT NULL,
    PRIMARY KEY (collection, dataset_id, valid_begin, valid_end)
);
`

// Options configures Open.
type Options struct {
	// ReadOnly opens an existing registry without write access. The source
	// catalog is always opened this way.
	ReadOnly bool
	Logger   *zap.Logger
}

// Registry implements catalog.Source and catalog.Destination.
type Registry struct {
	root     string
	db       *sql.DB
	store    billy.Filesystem
	readOnly bool
	log      *zap.Logger
}

var (
	_ catalog.Source      = (*Registry)(nil)
	_ catalog.Destination = (*Registry)(nil)
)

// Open opens the registry rooted at root. A writable registry is created if
// absent; a read-only one must already exist, otherwise the error is
// catalog.Unavailable.
func Open(ctx context.Context, root string, opts Options) (*Registry, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	dbPath := filepath.Join(root, DBName)

	var dsn string
	if opts.ReadOnly {
		if _, err := os.Stat(dbPath); err != nil {
			return nil, catalog.Unavailable.New("registry %s: %v", root, err)
		}
		dsn = "file:" + dbPath + "?mode=ro&_pragma=busy_timeout(5000)"
	} else {
		if err := os.MkdirAll(filepath.Join(root, DatastoreDir), 0o755); err != nil {
			return nil, catalog.Unavailable.New("registry %s: %v", root, err)
		}
		dsn = dbPath
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, catalog.Unavailable.Wrap(fmt.Errorf("open database: %w", err))
	}

	r := &Registry{
		root:     root,
		db:       db,
		store:    osfs.New(filepath.Join(root, DatastoreDir)),
		readOnly: opts.ReadOnly,
		log:      log.Named("registry").With(zap.String("root", root)),
	}

	if opts.ReadOnly {
		// Read-only handles are shared by concurrent visits; every
		// connection picks up the pragma from the DSN.
		db.SetMaxOpenConns(8)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, catalog.Unavailable.Wrap(fmt.Errorf("ping %s: %w", dbPath, err))
		}
		return r, nil
	}

	// Limit to one connection. SQLite only supports a single writer; using
	// one connection avoids SQLITE_BUSY contention between pooled
	// connections that each need their own PRAGMA setup.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, catalog.Unavailable.Wrap(fmt.Errorf("enable WAL mode: %w", err))
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, catalog.Unavailable.Wrap(fmt.Errorf("set busy timeout: %w", err))
	}
	if err := r.Create(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Create initializes the schema. It is idempotent.
func (r *Registry) Create(ctx context.Context) error {
	if r.readOnly {
		return fmt.Errorf("registry: create on read-only registry %s", r.root)
	}
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return classify(fmt.Errorf("registry: create schema: %w", err))
	}
	return nil
}

// Root returns the registry directory.
func (r *Registry) Root() string { return r.root }

// Datastore returns the filesystem holding dataset artifacts.
func (r *Registry) Datastore() billy.Filesystem { return r.store }

// Close releases database resources.
func (r *Registry) Close() error {
	return r.db.Close()
}

// querier is satisfied by *sql.DB and *sql.Tx so read helpers work inside
// and outside transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// classify marks lock contention as Transient so callers may retry it.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return catalog.Transient.Wrap(err)
	}
	return err
}
