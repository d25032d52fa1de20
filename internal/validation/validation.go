// Package validation inspects a map graph and reports structural problems.
// Every function here is pure: it reads the snapshot it is given and nothing else.
package validation

import (
	"fmt"

	"github.com/lgalvao/sgc-sub001/internal/domain"
)

// Error is one structural problem found in a map.
type Error struct {
	Tipo              string `json:"tipo"`
	AtividadeCodigo   *int64 `json:"atividadeCodigo,omitempty"`
	CompetenciaCodigo *int64 `json:"competenciaCodigo,omitempty"`
	Mensagem          string `json:"mensagem"`
}

// Result accumulates every problem found; Valido is true only when Erros is empty.
type Result struct {
	Valido bool    `json:"valido"`
	Erros  []Error `json:"erros"`
}

func newResult(errs []Error) Result {
	if errs == nil {
		errs = []Error{}
	}
	return Result{Valido: len(errs) == 0, Erros: errs}
}

// Err converts an invalid result into a *domain.ValidationError describing its first problem.
func (r Result) Err() error {
	if r.Valido || len(r.Erros) == 0 {
		return nil
	}
	first := r.Erros[0]
	verr := &domain.ValidationError{Kind: first.Tipo, Message: first.Mensagem}
	switch {
	case first.AtividadeCodigo != nil:
		verr.EntityCodigo = first.AtividadeCodigo
	case first.CompetenciaCodigo != nil:
		verr.EntityCodigo = first.CompetenciaCodigo
	}
	if n := len(r.Erros); n > 1 {
		verr.Message = fmt.Sprintf("%s (e mais %d problema(s))", first.Mensagem, n-1)
	}
	return verr
}

// ValidateCadastro checks that the map has activities and that each one has knowledge.
// A map without activities reports only SEM_ATIVIDADES.
func ValidateCadastro(g domain.MapGraph) Result {
	if len(g.Activities) == 0 {
		return newResult([]Error{{
			Tipo:     domain.KindSemAtividades,
			Mensagem: "o mapa não possui atividades cadastradas",
		}})
	}
	var errs []Error
	for _, a := range g.Activities {
		if len(a.Conhecimentos) > 0 {
			continue
		}
		codigo := a.Codigo
		errs = append(errs, Error{
			Tipo:            domain.KindAtividadeSemConhecimento,
			AtividadeCodigo: &codigo,
			Mensagem:        fmt.Sprintf("a atividade '%s' não possui conhecimentos", a.Descricao),
		})
	}
	return newResult(errs)
}

// RequireActivities is the fail-fast precondition used by import and adjustment flows.
func RequireActivities(g domain.MapGraph) error {
	if len(g.Activities) == 0 {
		return domain.NewValidationError(domain.KindSemAtividades, "o mapa %d não possui atividades", g.Map.Codigo)
	}
	for _, a := range g.Activities {
		if len(a.Conhecimentos) == 0 {
			codigo := a.Codigo
			return &domain.ValidationError{
				Kind:         domain.KindAtividadeSemConhecimento,
				Message:      fmt.Sprintf("a atividade '%s' não possui conhecimentos associados", a.Descricao),
				EntityCodigo: &codigo,
			}
		}
	}
	return nil
}

// ValidateMap checks a competency map before it is created or published.
func ValidateMap(g domain.MapGraph) Result {
	if len(g.Competencies) == 0 {
		return newResult([]Error{{
			Tipo:     domain.KindSemCompetencias,
			Mensagem: "o mapa não possui competências",
		}})
	}
	linked := make(map[int64]bool, len(g.Activities))
	var errs []Error
	for _, c := range g.Competencies {
		valid := 0
		for _, id := range c.Atividades {
			if _, ok := g.Activity(id); ok {
				linked[id] = true
				valid++
			}
		}
		if valid == 0 {
			codigo := c.Codigo
			errs = append(errs, Error{
				Tipo:              domain.KindCompetenciaSemAtividade,
				CompetenciaCodigo: &codigo,
				Mensagem:          fmt.Sprintf("a competência '%s' não está associada a nenhuma atividade", c.Descricao),
			})
		}
	}
	for _, a := range g.Activities {
		if linked[a.Codigo] {
			continue
		}
		codigo := a.Codigo
		errs = append(errs, Error{
			Tipo:            domain.KindAtividadeSemCompetencia,
			AtividadeCodigo: &codigo,
			Mensagem:        fmt.Sprintf("a atividade '%s' não está associada a nenhuma competência", a.Descricao),
		})
	}
	return newResult(errs)
}
