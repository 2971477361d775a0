// Package engine keeps a local destination catalog supplied with the subset
// of the source catalog that incoming visits need.
//
// Bootstrap copies instrument-wide calibration structure and reference
// catalogs once. SyncVisit then resolves the calibrations for one visit,
// skips datasets the destination already holds, and moves the rest through
// a staging area with an export from the source and an import into the
// destination. SyncVisit may be called concurrently for distinct visits;
// imports into the destination are serialized.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/papapumpkin/visitsync/internal/catalog"
	"github.com/papapumpkin/visitsync/internal/staging"
	"github.com/papapumpkin/visitsync/internal/telemetry"
	"github.com/papapumpkin/visitsync/internal/visit"
)

// Engine synchronizes one destination catalog from one source catalog.
type Engine struct {
	src     catalog.Source
	dst     catalog.Destination
	staging *staging.Allocator
	cfg     Config
	log     *zap.Logger
	now     func() time.Time

	// imports serializes writes into dst.
	imports *semaphore.Weighted

	bootMu    sync.Mutex
	ready     chan struct{}
	readyOnce sync.Once

	typesMu    sync.RWMutex
	calibTypes []catalog.DatasetType

	states  *stateTracker
	journal *telemetry.Emitter
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock used for the "now" validity policy.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTelemetry journals state transitions and sync outcomes to em.
func WithTelemetry(em *telemetry.Emitter) Option {
	return func(e *Engine) { e.journal = em }
}

// New creates an engine. Bootstrap must run before any SyncVisit returns.
func New(src catalog.Source, dst catalog.Destination, alloc *staging.Allocator, cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		src:     src,
		dst:     dst,
		staging: alloc,
		cfg:     cfg.withDefaults(),
		log:     logger.Named("engine"),
		now:     time.Now,
		imports: semaphore.NewWeighted(1),
		ready:   make(chan struct{}),
		states:  newStateTracker(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ready is closed once bootstrap has committed into the destination.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// State returns the current sync state of v.
func (e *Engine) State(v visit.Visit) State {
	return e.states.get(visitKey(v))
}

// States returns the state of every visit seen so far.
func (e *Engine) States() map[string]State {
	return e.states.snapshot()
}

func (e *Engine) setState(key string, s State) {
	prev := e.states.set(key, s)
	e.emit(telemetry.Event{
		Kind:  telemetry.KindVisitState,
		Visit: key,
		Data:  telemetry.StateChange{From: string(prev), To: string(s)},
	})
}

// emit journals evt. A journal failure never fails a sync.
func (e *Engine) emit(evt telemetry.Event) {
	if err := e.journal.Emit(evt); err != nil {
		e.log.Warn("writing telemetry", zap.String("kind", evt.Kind), zap.Error(err))
	}
}

func (e *Engine) types() []catalog.DatasetType {
	e.typesMu.RLock()
	defer e.typesMu.RUnlock()
	return e.calibTypes
}

func visitKey(v visit.Visit) string {
	return fmt.Sprintf("%s/%s/%d", v.Instrument, v.Group, v.Detector)
}

// transfer exports req into a fresh staging area and imports it into the
// destination. Both steps are retried once on transient failure and the
// area is always released.
func (e *Engine) transfer(ctx context.Context, prefix, label string, req catalog.ExportRequest, onImport func()) (catalog.ImportStats, error) {
	area, err := e.staging.Acquire(prefix, label)
	if err != nil {
		return catalog.ImportStats{}, err
	}
	defer func() {
		if err := area.Release(); err != nil {
			e.log.Warn("releasing staging area", zap.String("area", area.Name), zap.Error(err))
		}
	}()

	req.Transfer = e.cfg.ExportTransfer
	if err := e.retry(ctx, "export", func() error {
		return e.src.Export(ctx, area, req)
	}); err != nil {
		return catalog.ImportStats{}, fmt.Errorf("export: %w", err)
	}

	if err := e.imports.Acquire(ctx, 1); err != nil {
		return catalog.ImportStats{}, fmt.Errorf("waiting to import: %w", err)
	}
	defer e.imports.Release(1)
	if onImport != nil {
		onImport()
	}

	var stats catalog.ImportStats
	if err := e.retry(ctx, "import", func() error {
		var err error
		stats, err = e.dst.Import(ctx, area, e.cfg.ImportTransfer)
		return err
	}); err != nil {
		return catalog.ImportStats{}, fmt.Errorf("import: %w", err)
	}
	return stats, nil
}
