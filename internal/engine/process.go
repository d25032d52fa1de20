package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lgalvao/sgc-sub001/internal/domain"
	"github.com/lgalvao/sgc-sub001/internal/engine/auth"
	"github.com/lgalvao/sgc-sub001/internal/events"
	"github.com/lgalvao/sgc-sub001/internal/repo"
)

func (e Engine) CreateProcess(ctx context.Context, actor domain.Actor, req CreateProcessRequest) (domain.Process, error) {
	if err := e.requireAdmin(actor, "criar processos"); err != nil {
		return domain.Process{}, err
	}
	req.Descricao = strings.TrimSpace(req.Descricao)
	if req.Descricao == "" {
		return domain.Process{}, domain.NewValidationError(domain.KindDadosInvalidos, "descrição do processo é obrigatória")
	}
	if !req.Tipo.Valid() {
		return domain.Process{}, domain.NewValidationError(domain.KindDadosInvalidos, "tipo de processo %q inválido", req.Tipo)
	}
	units := dedupe(req.Unidades)
	if len(units) == 0 {
		return domain.Process{}, domain.NewValidationError(domain.KindDadosInvalidos, "o processo precisa de ao menos uma unidade participante")
	}
	now := e.now().UTC().Truncate(time.Second)
	if !req.DataLimite.After(now) {
		return domain.Process{}, domain.NewValidationError(domain.KindDadosInvalidos, "data limite deve ser futura")
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	for _, u := range units {
		if _, err := e.Repo.GetUnitTx(ctx, tx, u); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Process{}, &domain.NotFoundError{Entity: "unidade", Codigo: u}
			}
			return domain.Process{}, err
		}
	}
	p := domain.Process{
		Descricao:   req.Descricao,
		Tipo:        req.Tipo,
		Situacao:    domain.ProcessCriado,
		DataCriacao: now,
		DataLimite:  req.DataLimite.UTC().Truncate(time.Second),
		Unidades:    units,
		Versao:      1,
	}
	if p.Codigo, err = e.Repo.InsertProcessTx(ctx, tx, p); err != nil {
		return domain.Process{}, fmt.Errorf("insert processo: %w", err)
	}
	evt, err := e.Events.Append(ctx, tx, "processo.criado", p.Codigo, "processo", p.Codigo, actor.ID(), events.Payload{"tipo": p.Tipo, "unidades": p.Unidades})
	if err != nil {
		return domain.Process{}, err
	}
	if err := commit(tx, "processo", p.Codigo); err != nil {
		return domain.Process{}, err
	}
	e.notify(ctx, evt)
	return p, nil
}

// StartProcess creates one subprocess per participating unit, each owning a fresh map.
// Under REVISAO the map starts as a copy of the unit's last homologated map, when there is one.
func (e Engine) StartProcess(ctx context.Context, actor domain.Actor, codigo int64) (domain.Process, []domain.Subprocess, error) {
	defer e.Metrics.Observe("iniciar_processo", time.Now())
	if err := e.requireAdmin(actor, "iniciar processos"); err != nil {
		return domain.Process{}, nil, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Process{}, nil, err
	}
	defer tx.Rollback()

	p, err := e.getProcessTx(ctx, tx, codigo)
	if err != nil {
		return domain.Process{}, nil, err
	}
	if p.Situacao != domain.ProcessCriado {
		return domain.Process{}, nil, domain.NewValidationError(domain.KindEstadoInvalido, "processo %d está %s; apenas processos CRIADO podem ser iniciados", p.Codigo, p.Situacao)
	}
	limite := e.now().UTC().Truncate(time.Second).AddDate(0, 0, e.Config.Prazos.Etapa1Dias)
	if limite.After(p.DataLimite) {
		limite = p.DataLimite
	}
	var (
		subs []domain.Subprocess
		evts []domain.Event
	)
	for _, unit := range p.Unidades {
		sp := domain.Subprocess{
			ProcessoCodigo:   p.Codigo,
			UnidadeCodigo:    unit,
			Situacao:         domain.NaoIniciado,
			DataLimiteEtapa1: limite,
			Versao:           1,
		}
		if sp.Codigo, err = e.Repo.InsertSubprocessTx(ctx, tx, sp); err != nil {
			return domain.Process{}, nil, fmt.Errorf("insert subprocesso unidade %d: %w", unit, err)
		}
		source := int64(0)
		if p.Tipo == domain.ProcessRevisao {
			source, err = e.Repo.LastMapOfUnitTx(ctx, tx, unit, domain.MapeamentoMapaHomologado, domain.RevisaoMapaHomologado)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return domain.Process{}, nil, err
			}
		}
		mapa, err := e.Repo.InsertMapTx(ctx, tx, &sp.Codigo, "")
		if err != nil {
			return domain.Process{}, nil, fmt.Errorf("insert mapa: %w", err)
		}
		if source != 0 {
			if err := e.copyGraph(ctx, tx, source, mapa); err != nil {
				return domain.Process{}, nil, err
			}
		}
		sp.MapaCodigo = &mapa
		evt, err := e.Events.Append(ctx, tx, "subprocesso.criado", p.Codigo, "subprocesso", sp.Codigo, actor.ID(),
			events.Payload{"unidade": unit, "mapa": mapa, "mapaOrigem": source})
		if err != nil {
			return domain.Process{}, nil, err
		}
		subs = append(subs, sp)
		evts = append(evts, evt)
	}
	if p.Versao, err = e.Repo.UpdateProcessSituationTx(ctx, tx, p.Codigo, p.Versao, domain.ProcessEmAndamento); err != nil {
		return domain.Process{}, nil, err
	}
	p.Situacao = domain.ProcessEmAndamento
	evt, err := e.Events.Append(ctx, tx, "processo.iniciado", p.Codigo, "processo", p.Codigo, actor.ID(), events.Payload{"subprocessos": len(subs)})
	if err != nil {
		return domain.Process{}, nil, err
	}
	if err := commit(tx, "processo", p.Codigo); err != nil {
		return domain.Process{}, nil, err
	}
	e.log().Infow("processo iniciado", "processo", p.Codigo, "tipo", p.Tipo, "subprocessos", len(subs))
	e.notify(ctx, append(evts, evt)...)
	return p, subs, nil
}

// FinishProcess closes a process once every subprocess reached its final situation.
func (e Engine) FinishProcess(ctx context.Context, actor domain.Actor, codigo int64) (domain.Process, error) {
	if err := e.requireAdmin(actor, "finalizar processos"); err != nil {
		return domain.Process{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	p, err := e.getProcessTx(ctx, tx, codigo)
	if err != nil {
		return domain.Process{}, err
	}
	if p.Situacao != domain.ProcessEmAndamento {
		return domain.Process{}, domain.NewValidationError(domain.KindEstadoInvalido, "processo %d está %s; apenas processos EM_ANDAMENTO podem ser finalizados", p.Codigo, p.Situacao)
	}
	subs, err := e.Repo.ListSubprocessesByProcessTx(ctx, tx, p.Codigo)
	if err != nil {
		return domain.Process{}, err
	}
	var pending []string
	for _, sp := range subs {
		if !e.machine().IsTerminal(p.Tipo, sp.Situacao) {
			pending = append(pending, fmt.Sprintf("%d (%s)", sp.Codigo, sp.Situacao))
		}
	}
	if len(pending) > 0 {
		return domain.Process{}, domain.NewValidationError(domain.KindEstadoInvalido, "subprocessos ainda não concluídos: %s", strings.Join(pending, ", "))
	}
	if p.Versao, err = e.Repo.UpdateProcessSituationTx(ctx, tx, p.Codigo, p.Versao, domain.ProcessFinalizado); err != nil {
		return domain.Process{}, err
	}
	p.Situacao = domain.ProcessFinalizado
	evt, err := e.Events.Append(ctx, tx, "processo.finalizado", p.Codigo, "processo", p.Codigo, actor.ID(), nil)
	if err != nil {
		return domain.Process{}, err
	}
	if err := commit(tx, "processo", p.Codigo); err != nil {
		return domain.Process{}, err
	}
	e.notify(ctx, evt)
	return p, nil
}

// GetProcess returns the process header. Any known role may read it; the subprocesses it
// lists are filtered by ListSubprocesses.
func (e Engine) GetProcess(ctx context.Context, actor domain.Actor, codigo int64) (domain.Process, error) {
	if actor.Perfil.Rank() == 0 {
		return domain.Process{}, &domain.AccessDeniedError{Reason: fmt.Sprintf("perfil %q desconhecido", actor.Perfil)}
	}
	p, err := e.Repo.GetProcess(ctx, codigo)
	if errors.Is(err, repo.ErrNotFound) {
		return p, &domain.NotFoundError{Entity: "processo", Codigo: codigo}
	}
	return p, err
}

func (e Engine) ListProcesses(ctx context.Context, actor domain.Actor) ([]domain.Process, error) {
	if actor.Perfil.Rank() == 0 {
		return nil, &domain.AccessDeniedError{Reason: fmt.Sprintf("perfil %q desconhecido", actor.Perfil)}
	}
	return e.Repo.ListProcesses(ctx)
}

// ListSubprocesses returns the subprocesses of a process the actor may read.
func (e Engine) ListSubprocesses(ctx context.Context, actor domain.Actor, processo int64) ([]domain.Subprocess, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := e.getProcessTx(ctx, tx, processo); err != nil {
		return nil, err
	}
	all, err := e.Repo.ListSubprocessesByProcessTx(ctx, tx, processo)
	if err != nil {
		return nil, err
	}
	g := e.guard(tx)
	var out []domain.Subprocess
	for i := range all {
		d, err := g.Authorize(ctx, actor, &all[i], auth.OpRead)
		if err != nil {
			return nil, err
		}
		if d.Granted {
			out = append(out, all[i])
		}
	}
	return out, nil
}

func (e Engine) getProcessTx(ctx context.Context, tx *sql.Tx, codigo int64) (domain.Process, error) {
	p, err := e.Repo.GetProcessTx(ctx, tx, codigo)
	if errors.Is(err, repo.ErrNotFound) {
		return p, &domain.NotFoundError{Entity: "processo", Codigo: codigo}
	}
	return p, err
}

func dedupe(in []int64) []int64 {
	seen := make(map[int64]bool, len(in))
	var out []int64
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
