package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/papapumpkin/visitsync/internal/config"
	"github.com/papapumpkin/visitsync/internal/engine"
	"github.com/papapumpkin/visitsync/internal/registry"
	"github.com/papapumpkin/visitsync/internal/staging"
	"github.com/papapumpkin/visitsync/internal/telemetry"
)

// worker bundles the handles one sync process works with.
type worker struct {
	cfg     config.Config
	log     *zap.Logger
	src     *registry.Registry
	dst     *registry.Registry
	journal *telemetry.Emitter
	engine  *engine.Engine
}

// openWorker loads configuration, opens the source read-only and the
// destination writable, and builds the engine over them.
func openWorker(ctx context.Context) (*worker, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.SourceRepo == "" {
		return nil, fmt.Errorf("source repository required: use --source-repo or set VISITSYNC_SOURCE_REPO")
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	ecfg, err := cfg.Engine()
	if err != nil {
		return nil, err
	}

	src, err := registry.Open(ctx, cfg.SourceRepo, registry.Options{ReadOnly: true, Logger: log.Named("source")})
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	dst, err := registry.Open(ctx, cfg.DestRoot, registry.Options{Logger: log.Named("destination")})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("open destination: %w", err)
	}

	var journal *telemetry.Emitter
	if cfg.Journal != "" {
		journal, err = telemetry.Open(cfg.Journal)
		if err != nil {
			dst.Close()
			src.Close()
			return nil, err
		}
	}

	reapStaging(cfg, log)
	alloc := staging.NewDirAllocator(cfg.StagingDir)
	log.Info("worker ready",
		zap.String("dest_id", cfg.DestID),
		zap.String("source", cfg.SourceRepo),
		zap.String("destination", cfg.DestRoot),
	)
	return &worker{
		cfg:     cfg,
		log:     log,
		src:     src,
		dst:     dst,
		journal: journal,
		engine:  engine.New(src, dst, alloc, ecfg, log, engine.WithTelemetry(journal)),
	}, nil
}

func (w *worker) Close() {
	if err := w.journal.Close(); err != nil {
		w.log.Warn("closing journal", zap.Error(err))
	}
	w.dst.Close()
	w.src.Close()
	_ = w.log.Sync()
}

// reapStaging removes areas a crashed worker left behind. Failures are only
// logged; a dirty staging directory never stops a worker.
func reapStaging(cfg config.Config, log *zap.Logger) []staging.ReapAction {
	r := &staging.Reaper{Root: cfg.StagingDir, StaleAfter: cfg.StagingStale}
	actions, err := r.Run()
	if err != nil {
		log.Warn("reaping staging areas", zap.Error(err))
	}
	for _, a := range actions {
		log.Info("removed stale staging area", zap.String("area", a.Name), zap.Duration("age", a.Age))
	}
	return actions
}
