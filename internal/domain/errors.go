package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("entidade não encontrada")
	ErrAccessDenied           = errors.New("acesso negado")
	ErrValidation             = errors.New("erro de validação")
	ErrConcurrentModification = errors.New("modificação concorrente")
)

// NotFoundError is only surfaced after the guard granted access to the caller.
type NotFoundError struct {
	Entity string
	Codigo int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d não encontrado(a)", e.Entity, e.Codigo)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return e.Reason
}

func (e *AccessDeniedError) Is(target error) bool { return target == ErrAccessDenied }

// Validation error kinds.
const (
	KindSemAtividades            = "SEM_ATIVIDADES"
	KindAtividadeSemConhecimento = "ATIVIDADE_SEM_CONHECIMENTO"
	KindSemCompetencias          = "SEM_COMPETENCIAS"
	KindCompetenciaSemAtividade  = "COMPETENCIA_SEM_ATIVIDADE"
	KindAtividadeSemCompetencia  = "ATIVIDADE_SEM_COMPETENCIA"
	KindTransicaoInvalida        = "TRANSICAO_INVALIDA"
	KindMapaVinculado            = "MAPA_VINCULADO"
	KindEstadoInvalido           = "ESTADO_INVALIDO"
	KindDadosInvalidos           = "DADOS_INVALIDOS"
)

type ValidationError struct {
	Kind    string
	Message string
	// EntityCodigo identifies the offending entity when there is one.
	EntityCodigo *int64
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func NewValidationError(kind, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ConcurrencyError reports a lost optimistic version check. Callers may re-read and retry once.
type ConcurrencyError struct {
	Entity string
	Codigo int64
}

func (e *ConcurrencyError) Error() string {
	if e.Entity == "" {
		return "modificação concorrente detectada; tente novamente"
	}
	return fmt.Sprintf("%s %d foi modificado(a) concorrentemente; tente novamente", e.Entity, e.Codigo)
}

func (e *ConcurrencyError) Is(target error) bool { return target == ErrConcurrentModification }
