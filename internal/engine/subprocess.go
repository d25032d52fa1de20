package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lgalvao/sgc-sub001/internal/domain"
	"github.com/lgalvao/sgc-sub001/internal/engine/auth"
	"github.com/lgalvao/sgc-sub001/internal/events"
	"github.com/lgalvao/sgc-sub001/internal/lifecycle"
	"github.com/lgalvao/sgc-sub001/internal/metrics"
	"github.com/lgalvao/sgc-sub001/internal/repo"
	"github.com/lgalvao/sgc-sub001/internal/validation"
)

func (e Engine) GetDetails(ctx context.Context, actor domain.Actor, codigo int64) (SubprocessDetailResponse, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return SubprocessDetailResponse{}, err
	}
	defer tx.Rollback()

	sp, err := e.loadSubprocess(ctx, tx, actor, codigo, auth.OpRead)
	if err != nil {
		return SubprocessDetailResponse{}, err
	}
	p, err := e.processOf(ctx, tx, sp)
	if err != nil {
		return SubprocessDetailResponse{}, err
	}
	unit, err := e.Repo.GetUnitTx(ctx, tx, sp.UnidadeCodigo)
	if err != nil {
		return SubprocessDetailResponse{}, fmt.Errorf("unidade %d: %w", sp.UnidadeCodigo, err)
	}
	out := SubprocessDetailResponse{
		Codigo:           sp.Codigo,
		Processo:         ProcessSummary{Codigo: p.Codigo, Descricao: p.Descricao, Tipo: p.Tipo, Situacao: p.Situacao},
		Unidade:          UnitSummary{Codigo: unit.Codigo, Sigla: unit.Sigla, Nome: unit.Nome},
		Situacao:         sp.Situacao,
		DataLimiteEtapa1: sp.DataLimiteEtapa1,
		Versao:           sp.Versao,
		AcoesPermitidas:  []lifecycle.Action{},
	}
	resp, err := e.responsibles(tx).Responsible(ctx, sp.UnidadeCodigo)
	switch {
	case err == nil:
		out.Responsavel = &resp
	case !errors.Is(err, repo.ErrNotFound):
		return SubprocessDetailResponse{}, err
	}
	if sp.MapaCodigo != nil {
		g, err := e.Repo.LoadGraphTx(ctx, tx, *sp.MapaCodigo)
		if err != nil {
			return SubprocessDetailResponse{}, err
		}
		out.Mapa = &MapSummary{
			Codigo:       g.Map.Codigo,
			Atividades:   len(g.Activities),
			Competencias: len(g.Competencies),
			Observacoes:  g.Map.Observacoes,
			Versao:       g.Map.Versao,
		}
	}
	if p.Situacao == domain.ProcessEmAndamento {
		if acts := e.machine().Available(p.Tipo, sp.Situacao, actor.Perfil); acts != nil {
			out.AcoesPermitidas = acts
		}
	}
	return out, nil
}

func (e Engine) ValidateCadastro(ctx context.Context, actor domain.Actor, codigo int64) (ValidacaoCadastroDto, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return ValidacaoCadastroDto{}, err
	}
	defer tx.Rollback()

	sp, err := e.loadSubprocess(ctx, tx, actor, codigo, auth.OpRead)
	if err != nil {
		return ValidacaoCadastroDto{}, err
	}
	g, err := e.graphOf(ctx, tx, sp)
	if err != nil {
		return ValidacaoCadastroDto{}, err
	}
	res := validation.ValidateCadastro(g)
	return ValidacaoCadastroDto{Valido: res.Valido, Erros: res.Erros}, nil
}

// Transition runs any table action on a subprocess.
func (e Engine) Transition(ctx context.Context, actor domain.Actor, codigo int64, action lifecycle.Action, opts TransitionOptions) (SubprocessSituationDto, error) {
	defer e.Metrics.Observe("transicao", time.Now())
	tx, err := e.begin(ctx)
	if err != nil {
		return SubprocessSituationDto{}, err
	}
	defer tx.Rollback()

	sp, err := e.loadSubprocess(ctx, tx, actor, codigo, auth.OpWrite)
	if err != nil {
		return SubprocessSituationDto{}, err
	}
	if err := checkVersion(sp, opts.ExpectedVersion); err != nil {
		return SubprocessSituationDto{}, err
	}
	p, err := e.processOf(ctx, tx, sp)
	if err != nil {
		return SubprocessSituationDto{}, err
	}
	res, err := e.transitionTx(ctx, tx, actor, p, sp, action, nil, opts.Observacao)
	if err != nil {
		return SubprocessSituationDto{}, err
	}
	if err := commit(tx, "subprocesso", sp.Codigo); err != nil {
		e.Metrics.Transition(string(p.Tipo), string(action), outcome(err))
		return SubprocessSituationDto{}, err
	}
	e.committed(ctx, res)
	return situationDto(res.sub, res.changed), nil
}

type transitionResult struct {
	proc    domain.Process
	sub     domain.Subprocess
	from    domain.Situation
	action  lifecycle.Action
	changed bool
	evts    []domain.Event
}

// transitionTx is the only path that changes a situation. graph, when non-nil, is the map
// snapshot the checks run against; otherwise the subprocess' map is loaded.
func (e Engine) transitionTx(ctx context.Context, tx *sql.Tx, actor domain.Actor, p domain.Process, sp domain.Subprocess, action lifecycle.Action, graph *domain.MapGraph, observacao string) (res transitionResult, err error) {
	res = transitionResult{proc: p, sub: sp, from: sp.Situacao, action: action}
	defer func() {
		if err != nil {
			e.Metrics.Transition(string(p.Tipo), string(action), outcome(err))
		}
	}()
	if p.Situacao != domain.ProcessEmAndamento {
		return res, domain.NewValidationError(domain.KindEstadoInvalido, "processo %d não está em andamento (%s)", p.Codigo, p.Situacao)
	}
	m := e.machine()
	d := m.CanTransition(p.Tipo, sp.Situacao, action, actor.Perfil)
	if !d.Allowed {
		if d.RoleDenied {
			e.Metrics.Denied(string(action))
		}
		return res, d.Err()
	}
	if d.NoOp {
		return res, nil
	}
	if err := e.runChecks(ctx, tx, sp, graph, d.Transition.Checks); err != nil {
		return res, err
	}
	next, changed, err := m.Apply(ctx, p.Tipo, sp.Situacao, action)
	if err != nil {
		return res, err
	}
	if !changed {
		return res, nil
	}
	sp.Situacao = next
	if sp, err = e.Repo.UpdateSubprocessTx(ctx, tx, sp); err != nil {
		return res, err
	}
	if observacao != "" && sp.MapaCodigo != nil {
		mp, err := e.Repo.GetMapTx(ctx, tx, *sp.MapaCodigo)
		if err != nil {
			return res, err
		}
		if _, err := e.Repo.TouchMapTx(ctx, tx, mp.Codigo, mp.Versao, &observacao); err != nil {
			return res, err
		}
	}
	payload := events.Payload{"acao": action, "de": res.from, "para": next}
	if observacao != "" {
		payload["observacao"] = observacao
	}
	evt, err := e.Events.Append(ctx, tx, d.Transition.Event, p.Codigo, "subprocesso", sp.Codigo, actor.ID(), payload)
	if err != nil {
		return res, err
	}
	res.sub = sp
	res.changed = true
	res.evts = append(res.evts, evt)
	return res, nil
}

// committed records, logs and notifies once the transaction holding res is durable.
func (e Engine) committed(ctx context.Context, results ...transitionResult) {
	var evts []domain.Event
	for _, r := range results {
		if r.action == "" {
			continue
		}
		if !r.changed {
			e.Metrics.Transition(string(r.proc.Tipo), string(r.action), metrics.ResultNoOp)
			continue
		}
		e.Metrics.Transition(string(r.proc.Tipo), string(r.action), outcome(nil))
		e.log().Infow("transição aplicada", "subprocesso", r.sub.Codigo, "acao", r.action, "de", r.from, "para", r.sub.Situacao, "versao", r.sub.Versao)
		evts = append(evts, r.evts...)
	}
	e.notify(ctx, evts...)
}

func (e Engine) runChecks(ctx context.Context, tx *sql.Tx, sp domain.Subprocess, graph *domain.MapGraph, checks []lifecycle.Check) error {
	if len(checks) == 0 {
		return nil
	}
	g := graph
	if g == nil {
		loaded, err := e.graphOf(ctx, tx, sp)
		if err != nil {
			return err
		}
		g = &loaded
	}
	for _, c := range checks {
		var err error
		switch c {
		case lifecycle.CheckCadastro:
			err = validation.ValidateCadastro(*g).Err()
		case lifecycle.CheckAtividades:
			err = validation.RequireActivities(*g)
		case lifecycle.CheckMapa:
			err = validation.ValidateMap(*g).Err()
		default:
			err = fmt.Errorf("verificação desconhecida %s", c)
		}
		if err != nil {
			e.countValidation(err)
			return err
		}
	}
	return nil
}

// graphOf loads the subprocess' map; a subprocess without a map has an empty graph.
func (e Engine) graphOf(ctx context.Context, tx *sql.Tx, sp domain.Subprocess) (domain.MapGraph, error) {
	if sp.MapaCodigo == nil {
		return domain.MapGraph{Activities: []domain.Activity{}, Competencies: []domain.Competency{}}, nil
	}
	return e.Repo.LoadGraphTx(ctx, tx, *sp.MapaCodigo)
}

// UpdateEntity changes the stage-1 deadline and the map binding. Rebinding to the current map
// is a no-op; binding another map releases the previous one; a map owned elsewhere is refused.
func (e Engine) UpdateEntity(ctx context.Context, actor domain.Actor, codigo int64, req UpdateSubprocessRequest) (domain.Subprocess, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Subprocess{}, err
	}
	defer tx.Rollback()

	sp, err := e.loadSubprocess(ctx, tx, actor, codigo, auth.OpUpdate)
	if err != nil {
		return domain.Subprocess{}, err
	}
	if err := checkVersion(sp, req.ExpectedVersion); err != nil {
		return domain.Subprocess{}, err
	}
	payload := events.Payload{}
	dirty := false
	if req.DataLimiteEtapa1 != nil {
		limite := req.DataLimiteEtapa1.UTC().Truncate(time.Second)
		if !limite.Equal(sp.DataLimiteEtapa1) {
			payload["dataLimiteEtapa1"] = limite.Format(time.RFC3339)
			sp.DataLimiteEtapa1 = limite
			dirty = true
		}
	}
	if req.MapaCodigo != nil && (sp.MapaCodigo == nil || *sp.MapaCodigo != *req.MapaCodigo) {
		if err := e.rebindMap(ctx, tx, sp, *req.MapaCodigo); err != nil {
			return domain.Subprocess{}, err
		}
		if sp.MapaCodigo != nil {
			payload["mapaAnterior"] = *sp.MapaCodigo
		}
		payload["mapa"] = *req.MapaCodigo
		sp.MapaCodigo = req.MapaCodigo
		dirty = true
	}
	if !dirty {
		return sp, nil
	}
	if sp, err = e.Repo.UpdateSubprocessTx(ctx, tx, sp); err != nil {
		return domain.Subprocess{}, err
	}
	p, err := e.processOf(ctx, tx, sp)
	if err != nil {
		return domain.Subprocess{}, err
	}
	evt, err := e.Events.Append(ctx, tx, "subprocesso.atualizado", p.Codigo, "subprocesso", sp.Codigo, actor.ID(), payload)
	if err != nil {
		return domain.Subprocess{}, err
	}
	if err := commit(tx, "subprocesso", sp.Codigo); err != nil {
		return domain.Subprocess{}, err
	}
	e.notify(ctx, evt)
	return sp, nil
}

func (e Engine) rebindMap(ctx context.Context, tx *sql.Tx, sp domain.Subprocess, mapa int64) error {
	target, err := e.Repo.GetMapTx(ctx, tx, mapa)
	if errors.Is(err, repo.ErrNotFound) {
		return &domain.NotFoundError{Entity: "mapa", Codigo: mapa}
	}
	if err != nil {
		return err
	}
	if target.SubprocessoCodigo != nil && *target.SubprocessoCodigo != sp.Codigo {
		verr := domain.NewValidationError(domain.KindMapaVinculado, "mapa %d já pertence ao subprocesso %d", mapa, *target.SubprocessoCodigo)
		verr.EntityCodigo = &mapa
		return verr
	}
	if sp.MapaCodigo != nil {
		prev, err := e.Repo.GetMapTx(ctx, tx, *sp.MapaCodigo)
		if err != nil {
			return err
		}
		if err := e.Repo.SetMapOwnerTx(ctx, tx, prev.Codigo, prev.Versao, nil); err != nil {
			return err
		}
	}
	owner := sp.Codigo
	return e.Repo.SetMapOwnerTx(ctx, tx, target.Codigo, target.Versao, &owner)
}

// Delete removes a subprocess together with the map it owns.
func (e Engine) Delete(ctx context.Context, actor domain.Actor, codigo int64) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sp, err := e.loadSubprocess(ctx, tx, actor, codigo, auth.OpDelete)
	if err != nil {
		return err
	}
	p, err := e.processOf(ctx, tx, sp)
	if err != nil {
		return err
	}
	if p.Situacao == domain.ProcessFinalizado {
		return domain.NewValidationError(domain.KindEstadoInvalido, "processo %d já foi finalizado; seus subprocessos não podem ser excluídos", p.Codigo)
	}
	payload := events.Payload{"unidade": sp.UnidadeCodigo, "situacao": sp.Situacao}
	if sp.MapaCodigo != nil {
		if err := e.Repo.DeleteMapTx(ctx, tx, *sp.MapaCodigo); err != nil {
			return fmt.Errorf("excluir mapa %d: %w", *sp.MapaCodigo, err)
		}
		payload["mapa"] = *sp.MapaCodigo
	}
	if err := e.Repo.DeleteSubprocessTx(ctx, tx, sp.Codigo, sp.Versao); err != nil {
		return err
	}
	evt, err := e.Events.Append(ctx, tx, "subprocesso.excluido", p.Codigo, "subprocesso", sp.Codigo, actor.ID(), payload)
	if err != nil {
		return err
	}
	if err := commit(tx, "subprocesso", sp.Codigo); err != nil {
		return err
	}
	e.log().Infow("subprocesso excluído", "subprocesso", sp.Codigo, "ator", actor.ID())
	e.notify(ctx, evt)
	return nil
}
