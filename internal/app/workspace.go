// Package app wires a workspace directory into a ready engine.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lgalvao/sgc-sub001/internal/config"
	"github.com/lgalvao/sgc-sub001/internal/db"
	"github.com/lgalvao/sgc-sub001/internal/domain"
	"github.com/lgalvao/sgc-sub001/internal/engine"
	"github.com/lgalvao/sgc-sub001/internal/events"
	"github.com/lgalvao/sgc-sub001/internal/logger"
	"github.com/lgalvao/sgc-sub001/internal/metrics"
	"github.com/lgalvao/sgc-sub001/internal/migrate"
)

// Workspace holds everything one CLI invocation needs.
type Workspace struct {
	Dir      string
	DB       *sql.DB
	Config   *config.Config
	Log      *zap.SugaredLogger
	Registry *prometheus.Registry
	Engine   engine.Engine
}

// Options tweak Open; the zero value logs to stderr.
type Options struct {
	LogOutput io.Writer
}

// Open loads sgc.yml (defaults when absent), opens and migrates the database and builds the engine
// with its logger, metrics and sinks.
func Open(ctx context.Context, dir string, opts Options) (*Workspace, error) {
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	var log *zap.SugaredLogger
	if opts.LogOutput != nil {
		log, err = logger.NewWriter(opts.LogOutput, cfg.Log.Level, cfg.Log.Format)
	} else {
		log, err = logger.New(cfg.Log.Level, cfg.Log.Format)
	}
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debugw("workspace aberto", "db", db.Path(dir), "schema", version)

	reg := prometheus.NewRegistry()
	sinks := events.MultiSink{events.LogSink{Log: log}}
	sinks = append(sinks, events.SinksFromConfig(cfg)...)

	eng := engine.New(conn, cfg)
	eng.Log = log
	eng.Metrics = metrics.New(reg, cfg.Metrics.Namespace)
	eng.Sink = sinks
	return &Workspace{Dir: dir, DB: conn, Config: cfg, Log: log, Registry: reg, Engine: eng}, nil
}

func (w *Workspace) Close() error {
	_ = w.Log.Sync()
	return w.DB.Close()
}

// RetryOnConflict runs fn and, when it lost an optimistic version check, runs it once more.
func (w *Workspace) RetryOnConflict(ctx context.Context, fn func(context.Context) error) error {
	err := fn(ctx)
	if !errors.Is(err, domain.ErrConcurrentModification) {
		return err
	}
	w.Log.Infow("conflito de concorrência; repetindo", "erro", err)
	return fn(ctx)
}

// RefreshSituations updates the per-situation gauge from the database.
func (w *Workspace) RefreshSituations(ctx context.Context) error {
	counts, err := w.Engine.Repo.CountSubprocessesBySituation(ctx)
	if err != nil {
		return err
	}
	w.Engine.Metrics.SetSituations(counts)
	return nil
}
