package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lgalvao/sgc-sub001/internal/config"
	"github.com/lgalvao/sgc-sub001/internal/domain"
	"github.com/lgalvao/sgc-sub001/internal/engine/auth"
	"github.com/lgalvao/sgc-sub001/internal/events"
	"github.com/lgalvao/sgc-sub001/internal/lifecycle"
	"github.com/lgalvao/sgc-sub001/internal/metrics"
	"github.com/lgalvao/sgc-sub001/internal/repo"
)

// ResponsibleLookup resolves who answers for a unit.
type ResponsibleLookup interface {
	Responsible(ctx context.Context, unit int64) (domain.Responsible, error)
}

// Engine orchestrates every subprocess operation. Each call is one transaction:
// load, guard, state machine, checks, mutation, versioned write, outbox event, commit,
// then best-effort delivery to Sink.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Machine *lifecycle.Machine
	Config  *config.Config
	Log     *zap.SugaredLogger
	Metrics *metrics.Metrics
	Sink    events.Sink
	// Units and Responsibles default to SQL lookups over the operation's own transaction.
	Units        auth.Hierarchy
	Responsibles ResponsibleLookup
	Now          func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{},
		Machine: lifecycle.Default(),
		Config:  cfg,
		Log:     zap.NewNop().Sugar(),
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *zap.SugaredLogger {
	if e.Log == nil {
		return zap.NewNop().Sugar()
	}
	return e.Log
}

func (e Engine) machine() *lifecycle.Machine {
	if e.Machine == nil {
		return lifecycle.Default()
	}
	return e.Machine
}

func (e Engine) guard(tx *sql.Tx) auth.Guard {
	if e.Units != nil {
		return auth.Guard{Units: e.Units}
	}
	return auth.Guard{Units: repo.UnitHierarchy{Q: tx}}
}

func (e Engine) responsibles(tx *sql.Tx) ResponsibleLookup {
	if e.Responsibles != nil {
		return e.Responsibles
	}
	return repo.UnitHierarchy{Q: tx}
}

func (e Engine) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, repo.Classify(err, "", 0)
	}
	return tx, nil
}

func commit(tx *sql.Tx, entity string, codigo int64) error {
	return repo.Classify(tx.Commit(), entity, codigo)
}

// loadSubprocess reads the subprocess and runs the guard on it. Whether the row exists is
// only revealed to callers the guard would let see it.
func (e Engine) loadSubprocess(ctx context.Context, tx *sql.Tx, actor domain.Actor, codigo int64, op auth.Operation) (domain.Subprocess, error) {
	sp, err := e.Repo.GetSubprocessTx(ctx, tx, codigo)
	var target *domain.Subprocess
	switch {
	case err == nil:
		target = &sp
	case !errors.Is(err, repo.ErrNotFound):
		return sp, err
	}
	d, err := e.guard(tx).Authorize(ctx, actor, target, op)
	if err != nil {
		return sp, err
	}
	if !d.Granted {
		if d.NotFound {
			return sp, &domain.NotFoundError{Entity: "subprocesso", Codigo: codigo}
		}
		e.Metrics.Denied(string(op))
		e.log().Infow("acesso negado", "ator", actor.ID(), "perfil", actor.Perfil, "subprocesso", codigo, "operacao", op)
		return sp, d.Err()
	}
	return sp, nil
}

func (e Engine) requireAdmin(actor domain.Actor, what string) error {
	d := auth.Guard{}.AuthorizeAdmin(actor, what)
	if !d.Granted {
		e.Metrics.Denied("PROCESSO")
		return d.Err()
	}
	return nil
}

func (e Engine) processOf(ctx context.Context, tx *sql.Tx, sp domain.Subprocess) (domain.Process, error) {
	return e.getProcessTx(ctx, tx, sp.ProcessoCodigo)
}

func checkVersion(sp domain.Subprocess, expected *int64) error {
	if expected != nil && *expected != sp.Versao {
		return &domain.ConcurrencyError{Entity: "subprocesso", Codigo: sp.Codigo}
	}
	return nil
}

// notify hands committed events to the sink. Failures are logged and counted, never returned.
func (e Engine) notify(ctx context.Context, evts ...domain.Event) {
	if e.Sink == nil {
		return
	}
	sinks := []events.Sink{e.Sink}
	if multi, ok := e.Sink.(events.MultiSink); ok {
		sinks = multi.Each()
	}
	for _, evt := range evts {
		for _, s := range sinks {
			if err := s.Emit(ctx, evt); err != nil {
				name := events.SinkName(s)
				e.Metrics.SinkFailed(name)
				e.log().Warnw("falha ao notificar evento", "sink", name, "evento", evt.Type, "uuid", evt.UUID, "erro", err)
			}
		}
	}
}

// outcome labels an operation result for the transition counter.
func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.ResultApplied
	case errors.Is(err, domain.ErrAccessDenied):
		return metrics.ResultDenied
	case errors.Is(err, domain.ErrValidation):
		return metrics.ResultInvalid
	case errors.Is(err, domain.ErrConcurrentModification):
		return metrics.ResultConflict
	}
	return metrics.ResultError
}
