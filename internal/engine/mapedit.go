package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lgalvao/sgc-sub001/internal/domain"
	"github.com/lgalvao/sgc-sub001/internal/engine/auth"
	"github.com/lgalvao/sgc-sub001/internal/events"
	"github.com/lgalvao/sgc-sub001/internal/lifecycle"
	"github.com/lgalvao/sgc-sub001/internal/repo"
	"github.com/lgalvao/sgc-sub001/internal/validation"
)

type editScope int

const (
	// scopeCadastro edits activities and knowledge; the first edit starts the cadastro.
	scopeCadastro editScope = iota
	// scopeMapa edits competencies while some map building action is still possible.
	scopeMapa
)

// editFunc mutates the graph of the map being edited and describes the change for the outbox.
type editFunc func(tx *sql.Tx, g domain.MapGraph) (events.Payload, error)

// editGraph runs one graph edit on the subprocess' map in a single transaction.
func (e Engine) editGraph(ctx context.Context, actor domain.Actor, codigo int64, scope editScope, evtType string, edit editFunc) (SubprocessSituationDto, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return SubprocessSituationDto{}, err
	}
	defer tx.Rollback()

	sp, err := e.loadSubprocess(ctx, tx, actor, codigo, auth.OpWrite)
	if err != nil {
		return SubprocessSituationDto{}, err
	}
	p, err := e.processOf(ctx, tx, sp)
	if err != nil {
		return SubprocessSituationDto{}, err
	}
	if err := requireMap(p, sp); err != nil {
		return SubprocessSituationDto{}, err
	}
	var res transitionResult
	switch scope {
	case scopeCadastro:
		if res, err = e.transitionTx(ctx, tx, actor, p, sp, lifecycle.IniciarCadastro, nil, ""); err != nil {
			return SubprocessSituationDto{}, err
		}
		sp = res.sub
	case scopeMapa:
		if actor.Perfil != domain.RoleAdmin {
			e.Metrics.Denied(string(auth.OpWrite))
			return SubprocessSituationDto{}, &domain.AccessDeniedError{Reason: "apenas ADMIN edita as competências do mapa"}
		}
		if !e.machine().MapEditable(p.Tipo, sp.Situacao) {
			return SubprocessSituationDto{}, domain.NewValidationError(domain.KindEstadoInvalido, "o mapa do subprocesso %d não pode ser editado na situação %s", sp.Codigo, sp.Situacao)
		}
	}
	g, err := e.Repo.LoadGraphTx(ctx, tx, *sp.MapaCodigo)
	if err != nil {
		return SubprocessSituationDto{}, err
	}
	payload, err := edit(tx, g)
	if err != nil {
		return SubprocessSituationDto{}, err
	}
	if _, err := e.Repo.TouchMapTx(ctx, tx, g.Map.Codigo, g.Map.Versao, nil); err != nil {
		return SubprocessSituationDto{}, err
	}
	evt, err := e.Events.Append(ctx, tx, evtType, p.Codigo, "mapa", g.Map.Codigo, actor.ID(), payload)
	if err != nil {
		return SubprocessSituationDto{}, err
	}
	if err := commit(tx, "subprocesso", sp.Codigo); err != nil {
		return SubprocessSituationDto{}, err
	}
	e.committed(ctx, res)
	e.notify(ctx, evt)
	return situationDto(sp, res.changed), nil
}

func requireMap(p domain.Process, sp domain.Subprocess) error {
	if p.Situacao != domain.ProcessEmAndamento {
		return domain.NewValidationError(domain.KindEstadoInvalido, "processo %d não está em andamento (%s)", p.Codigo, p.Situacao)
	}
	if sp.MapaCodigo == nil {
		return domain.NewValidationError(domain.KindEstadoInvalido, "subprocesso %d não possui mapa", sp.Codigo)
	}
	return nil
}

// ImportActivities copies every activity of origem's map, with its knowledge, into destino's map and
// starts destino's cadastro.
func (e Engine) ImportActivities(ctx context.Context, actor domain.Actor, destino, origem int64) (ImportResult, error) {
	defer e.Metrics.Observe("importar_atividades", time.Now())
	if destino == origem {
		return ImportResult{}, domain.NewValidationError(domain.KindDadosInvalidos, "origem e destino da importação são o mesmo subprocesso")
	}
	var imported int
	dto, err := e.editGraph(ctx, actor, destino, scopeCadastro, "cadastro.atividades_importadas", func(tx *sql.Tx, g domain.MapGraph) (events.Payload, error) {
		src, err := e.importSource(ctx, tx, actor, origem)
		if err != nil {
			return nil, err
		}
		from, err := e.graphOf(ctx, tx, src)
		if err != nil {
			return nil, err
		}
		if err := validation.RequireActivities(from); err != nil {
			e.countValidation(err)
			return nil, err
		}
		if imported, err = e.copyActivities(ctx, tx, from, g); err != nil {
			return nil, err
		}
		return events.Payload{"origem": origem, "mapaOrigem": from.Map.Codigo, "atividades": imported}, nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	e.log().Infow("atividades importadas", "destino", destino, "origem", origem, "atividades", imported)
	return ImportResult{SubprocessSituationDto: dto, Importadas: imported}, nil
}

// SaveMapAdjustments applies competency renames, activity renames and relinks all or nothing,
// then applies AJUSTAR_MAPA against the adjusted graph.
func (e Engine) SaveMapAdjustments(ctx context.Context, actor domain.Actor, codigo int64, adj MapAdjustments) (SubprocessSituationDto, error) {
	defer e.Metrics.Observe("ajustar_mapa", time.Now())
	tx, err := e.begin(ctx)
	if err != nil {
		return SubprocessSituationDto{}, err
	}
	defer tx.Rollback()

	sp, err := e.loadSubprocess(ctx, tx, actor, codigo, auth.OpWrite)
	if err != nil {
		return SubprocessSituationDto{}, err
	}
	if err := checkVersion(sp, adj.ExpectedVersion); err != nil {
		return SubprocessSituationDto{}, err
	}
	p, err := e.processOf(ctx, tx, sp)
	if err != nil {
		return SubprocessSituationDto{}, err
	}
	if err := requireMap(p, sp); err != nil {
		return SubprocessSituationDto{}, err
	}
	// Refuse before touching the graph.
	if d := e.machine().CanTransition(p.Tipo, sp.Situacao, lifecycle.AjustarMapa, actor.Perfil); !d.Allowed {
		if d.RoleDenied {
			e.Metrics.Denied(string(lifecycle.AjustarMapa))
		}
		e.Metrics.Transition(string(p.Tipo), string(lifecycle.AjustarMapa), outcome(d.Err()))
		return SubprocessSituationDto{}, d.Err()
	}
	var evts []domain.Event
	if !adj.empty() {
		g, err := e.Repo.LoadGraphTx(ctx, tx, *sp.MapaCodigo)
		if err != nil {
			return SubprocessSituationDto{}, err
		}
		if err := e.applyAdjustments(ctx, tx, g, adj); err != nil {
			return SubprocessSituationDto{}, err
		}
		if _, err := e.Repo.TouchMapTx(ctx, tx, g.Map.Codigo, g.Map.Versao, nil); err != nil {
			return SubprocessSituationDto{}, err
		}
		evt, err := e.Events.Append(ctx, tx, "mapa.ajustes_salvos", p.Codigo, "mapa", g.Map.Codigo, actor.ID(),
			events.Payload{"competencias": len(adj.Competencias), "atividades": len(adj.Atividades)})
		if err != nil {
			return SubprocessSituationDto{}, err
		}
		evts = append(evts, evt)
	}
	res, err := e.transitionTx(ctx, tx, actor, p, sp, lifecycle.AjustarMapa, nil, "")
	if err != nil {
		return SubprocessSituationDto{}, err
	}
	if err := commit(tx, "subprocesso", sp.Codigo); err != nil {
		return SubprocessSituationDto{}, err
	}
	e.committed(ctx, res)
	e.notify(ctx, evts...)
	return situationDto(res.sub, res.changed), nil
}

// applyAdjustments checks every adjustment against g before writing any of them.
func (e Engine) applyAdjustments(ctx context.Context, tx *sql.Tx, g domain.MapGraph, adj MapAdjustments) error {
	for _, c := range adj.Competencias {
		if _, ok := g.Competency(c.Codigo); !ok {
			return invalidEntity(c.Codigo, "competência %d não pertence ao mapa %d", c.Codigo, g.Map.Codigo)
		}
		if c.Descricao != nil && strings.TrimSpace(*c.Descricao) == "" {
			return invalidEntity(c.Codigo, "descrição da competência %d não pode ser vazia", c.Codigo)
		}
		for _, a := range c.Atividades {
			if _, ok := g.Activity(a); !ok {
				return invalidEntity(a, "atividade %d não pertence ao mapa %d", a, g.Map.Codigo)
			}
		}
	}
	for _, a := range adj.Atividades {
		if _, ok := g.Activity(a.Codigo); !ok {
			return invalidEntity(a.Codigo, "atividade %d não pertence ao mapa %d", a.Codigo, g.Map.Codigo)
		}
		if strings.TrimSpace(a.Descricao) == "" {
			return invalidEntity(a.Codigo, "descrição da atividade %d não pode ser vazia", a.Codigo)
		}
	}

	for _, c := range adj.Competencias {
		if c.Descricao != nil {
			if err := e.Repo.RenameCompetencyTx(ctx, tx, g.Map.Codigo, c.Codigo, strings.TrimSpace(*c.Descricao)); err != nil {
				return err
			}
		}
		if c.Atividades != nil {
			if err := e.Repo.ReplaceCompetencyLinksTx(ctx, tx, c.Codigo, c.Atividades); err != nil {
				return err
			}
		}
	}
	for _, a := range adj.Atividades {
		if err := e.Repo.RenameActivityTx(ctx, tx, g.Map.Codigo, a.Codigo, strings.TrimSpace(a.Descricao)); err != nil {
			return err
		}
	}
	return nil
}

func invalidEntity(codigo int64, format string, args ...any) error {
	verr := domain.NewValidationError(domain.KindDadosInvalidos, format, args...)
	verr.EntityCodigo = &codigo
	return verr
}

// copyActivities appends every activity of src, with its knowledge, to dst and returns how many it created.
func (e Engine) copyActivities(ctx context.Context, tx *sql.Tx, src, dst domain.MapGraph) (int, error) {
	for i, a := range src.Activities {
		if _, err := e.copyActivity(ctx, tx, a, dst.Map.Codigo); err != nil {
			return i, err
		}
	}
	return len(src.Activities), nil
}

// importSource loads the origin of an import. Subprocesses of finished processes are open to every
// importer; any other origin must be readable by actor, and a missing one is denied the same way.
func (e Engine) importSource(ctx context.Context, tx *sql.Tx, actor domain.Actor, origem int64) (domain.Subprocess, error) {
	src, err := e.Repo.GetSubprocessTx(ctx, tx, origem)
	switch {
	case err == nil:
		p, err := e.processOf(ctx, tx, src)
		if err != nil {
			return src, err
		}
		if p.Situacao == domain.ProcessFinalizado {
			return src, nil
		}
	case !errors.Is(err, repo.ErrNotFound):
		return src, err
	}
	return e.loadSubprocess(ctx, tx, actor, origem, auth.OpRead)
}

func (e Engine) copyActivity(ctx context.Context, tx *sql.Tx, a domain.Activity, mapa int64) (int64, error) {
	id, err := e.Repo.InsertActivityTx(ctx, tx, mapa, a.Descricao)
	if err != nil {
		return 0, err
	}
	for _, k := range a.Conhecimentos {
		if _, err := e.Repo.InsertKnowledgeTx(ctx, tx, id, k.Descricao); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// copyGraph copies the whole content of map source into the empty map dest, relinking
// competencies to the new activity codes.
func (e Engine) copyGraph(ctx context.Context, tx *sql.Tx, source, dest int64) error {
	g, err := e.Repo.LoadGraphTx(ctx, tx, source)
	if err != nil {
		return err
	}
	ids := make(map[int64]int64, len(g.Activities))
	for _, a := range g.Activities {
		id, err := e.copyActivity(ctx, tx, a, dest)
		if err != nil {
			return err
		}
		ids[a.Codigo] = id
	}
	for _, c := range g.Competencies {
		id, err := e.Repo.InsertCompetencyTx(ctx, tx, dest, c.Descricao)
		if err != nil {
			return err
		}
		links := make([]int64, 0, len(c.Atividades))
		for _, a := range c.Atividades {
			if to, ok := ids[a]; ok {
				links = append(links, to)
			}
		}
		if err := e.Repo.ReplaceCompetencyLinksTx(ctx, tx, id, links); err != nil {
			return err
		}
	}
	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func (e Engine) countValidation(err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		e.Metrics.ValidationFailed(verr.Kind)
	}
}

func requireText(what, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", domain.NewValidationError(domain.KindDadosInvalidos, "descrição %s é obrigatória", what)
	}
	return s, nil
}

func missing(entity string, codigo int64, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return &domain.NotFoundError{Entity: entity, Codigo: codigo}
	}
	return err
}

// AddActivity adds an activity to the subprocess' cadastro and returns its code.
func (e Engine) AddActivity(ctx context.Context, actor domain.Actor, codigo int64, descricao string) (int64, error) {
	descricao, err := requireText("da atividade", descricao)
	if err != nil {
		return 0, err
	}
	var id int64
	_, err = e.editGraph(ctx, actor, codigo, scopeCadastro, "cadastro.atividade_adicionada", func(tx *sql.Tx, g domain.MapGraph) (events.Payload, error) {
		for _, a := range g.Activities {
			if normalize(a.Descricao) == normalize(descricao) {
				return nil, invalidEntity(a.Codigo, "a atividade '%s' já existe", a.Descricao)
			}
		}
		var err error
		if id, err = e.Repo.InsertActivityTx(ctx, tx, g.Map.Codigo, descricao); err != nil {
			return nil, err
		}
		return events.Payload{"atividade": id, "descricao": descricao}, nil
	})
	return id, err
}

func (e Engine) RenameActivity(ctx context.Context, actor domain.Actor, codigo, atividade int64, descricao string) error {
	descricao, err := requireText("da atividade", descricao)
	if err != nil {
		return err
	}
	_, err = e.editGraph(ctx, actor, codigo, scopeCadastro, "cadastro.atividade_alterada", func(tx *sql.Tx, g domain.MapGraph) (events.Payload, error) {
		if err := e.Repo.RenameActivityTx(ctx, tx, g.Map.Codigo, atividade, descricao); err != nil {
			return nil, missing("atividade", atividade, err)
		}
		return events.Payload{"atividade": atividade, "descricao": descricao}, nil
	})
	return err
}

// RemoveActivity deletes an activity with its knowledge and competency links.
func (e Engine) RemoveActivity(ctx context.Context, actor domain.Actor, codigo, atividade int64) error {
	_, err := e.editGraph(ctx, actor, codigo, scopeCadastro, "cadastro.atividade_removida", func(tx *sql.Tx, g domain.MapGraph) (events.Payload, error) {
		if err := e.Repo.DeleteActivityTx(ctx, tx, g.Map.Codigo, atividade); err != nil {
			return nil, missing("atividade", atividade, err)
		}
		return events.Payload{"atividade": atividade}, nil
	})
	return err
}

func (e Engine) AddKnowledge(ctx context.Context, actor domain.Actor, codigo, atividade int64, descricao string) (int64, error) {
	descricao, err := requireText("do conhecimento", descricao)
	if err != nil {
		return 0, err
	}
	var id int64
	_, err = e.editGraph(ctx, actor, codigo, scopeCadastro, "cadastro.conhecimento_adicionado", func(tx *sql.Tx, g domain.MapGraph) (events.Payload, error) {
		if _, ok := g.Activity(atividade); !ok {
			return nil, &domain.NotFoundError{Entity: "atividade", Codigo: atividade}
		}
		var err error
		if id, err = e.Repo.InsertKnowledgeTx(ctx, tx, atividade, descricao); err != nil {
			return nil, err
		}
		return events.Payload{"atividade": atividade, "conhecimento": id}, nil
	})
	return id, err
}

func (e Engine) RemoveKnowledge(ctx context.Context, actor domain.Actor, codigo, atividade, conhecimento int64) error {
	_, err := e.editGraph(ctx, actor, codigo, scopeCadastro, "cadastro.conhecimento_removido", func(tx *sql.Tx, g domain.MapGraph) (events.Payload, error) {
		if _, ok := g.Activity(atividade); !ok {
			return nil, &domain.NotFoundError{Entity: "atividade", Codigo: atividade}
		}
		if err := e.Repo.DeleteKnowledgeTx(ctx, tx, atividade, conhecimento); err != nil {
			return nil, missing("conhecimento", conhecimento, err)
		}
		return events.Payload{"atividade": atividade, "conhecimento": conhecimento}, nil
	})
	return err
}

// AddCompetency creates a competency linked to activities of the same map.
func (e Engine) AddCompetency(ctx context.Context, actor domain.Actor, codigo int64, descricao string, atividades []int64) (int64, error) {
	descricao, err := requireText("da competência", descricao)
	if err != nil {
		return 0, err
	}
	var id int64
	_, err = e.editGraph(ctx, actor, codigo, scopeMapa, "mapa.competencia_adicionada", func(tx *sql.Tx, g domain.MapGraph) (events.Payload, error) {
		for _, a := range atividades {
			if _, ok := g.Activity(a); !ok {
				return nil, invalidEntity(a, "atividade %d não pertence ao mapa %d", a, g.Map.Codigo)
			}
		}
		var err error
		if id, err = e.Repo.InsertCompetencyTx(ctx, tx, g.Map.Codigo, descricao); err != nil {
			return nil, err
		}
		if err := e.Repo.ReplaceCompetencyLinksTx(ctx, tx, id, atividades); err != nil {
			return nil, err
		}
		return events.Payload{"competencia": id, "atividades": atividades}, nil
	})
	return id, err
}

func (e Engine) RemoveCompetency(ctx context.Context, actor domain.Actor, codigo, competencia int64) error {
	_, err := e.editGraph(ctx, actor, codigo, scopeMapa, "mapa.competencia_removida", func(tx *sql.Tx, g domain.MapGraph) (events.Payload, error) {
		if err := e.Repo.DeleteCompetencyTx(ctx, tx, g.Map.Codigo, competencia); err != nil {
			return nil, missing("competência", competencia, err)
		}
		return events.Payload{"competencia": competencia}, nil
	})
	return err
}
