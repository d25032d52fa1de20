package engine

import (
	"time"

	"github.com/lgalvao/sgc-sub001/internal/domain"
	"github.com/lgalvao/sgc-sub001/internal/lifecycle"
	"github.com/lgalvao/sgc-sub001/internal/validation"
)

type ProcessSummary struct {
	Codigo    int64                   `json:"codigo"`
	Descricao string                  `json:"descricao"`
	Tipo      domain.ProcessType      `json:"tipo"`
	Situacao  domain.ProcessSituation `json:"situacao"`
}

type UnitSummary struct {
	Codigo int64  `json:"codigo"`
	Sigla  string `json:"sigla"`
	Nome   string `json:"nome"`
}

type MapSummary struct {
	Codigo       int64  `json:"codigo"`
	Atividades   int    `json:"atividades"`
	Competencias int    `json:"competencias"`
	Observacoes  string `json:"observacoes,omitempty"`
	Versao       int64  `json:"versao"`
}

// SubprocessDetailResponse is everything a screen needs to render one subprocess.
type SubprocessDetailResponse struct {
	Codigo           int64               `json:"codigo"`
	Processo         ProcessSummary      `json:"processo"`
	Unidade          UnitSummary         `json:"unidade"`
	Responsavel      *domain.Responsible `json:"responsavel,omitempty"`
	Situacao         domain.Situation    `json:"situacao"`
	DataLimiteEtapa1 time.Time           `json:"dataLimiteEtapa1"`
	Mapa             *MapSummary         `json:"mapa,omitempty"`
	Versao           int64               `json:"versao"`
	AcoesPermitidas  []lifecycle.Action  `json:"acoesPermitidas"`
}

type ValidacaoCadastroDto struct {
	Valido bool               `json:"valido"`
	Erros  []validation.Error `json:"erros"`
}

type SubprocessSituationDto struct {
	Codigo   int64            `json:"codigo"`
	Situacao domain.Situation `json:"situacao"`
	Versao   int64            `json:"versao"`
	// Alterado is false when the command found the subprocess already at its destination.
	Alterado bool `json:"alterado"`
}

func situationDto(sp domain.Subprocess, changed bool) SubprocessSituationDto {
	return SubprocessSituationDto{Codigo: sp.Codigo, Situacao: sp.Situacao, Versao: sp.Versao, Alterado: changed}
}

// CreateProcessRequest describes a new process.
type CreateProcessRequest struct {
	Descricao  string
	Tipo       domain.ProcessType
	DataLimite time.Time
	Unidades   []int64
}

type TransitionOptions struct {
	ExpectedVersion *int64
	// Observacao is stored on the map when the transition publishes it.
	Observacao string
}

// UpdateSubprocessRequest changes deadline and map binding; nil fields are left alone.
type UpdateSubprocessRequest struct {
	DataLimiteEtapa1 *time.Time
	MapaCodigo       *int64
	ExpectedVersion  *int64
}

type CompetencyAdjustment struct {
	Codigo    int64   `yaml:"codigo" json:"codigo"`
	Descricao *string `yaml:"descricao" json:"descricao,omitempty"`
	// Atividades replaces the linked activity set when non-nil.
	Atividades []int64 `yaml:"atividades" json:"atividades,omitempty"`
}

type ActivityAdjustment struct {
	Codigo    int64  `yaml:"codigo" json:"codigo"`
	Descricao string `yaml:"descricao" json:"descricao"`
}

// MapAdjustments is applied all or nothing.
type MapAdjustments struct {
	Competencias    []CompetencyAdjustment `yaml:"competencias" json:"competencias"`
	Atividades      []ActivityAdjustment   `yaml:"atividades" json:"atividades"`
	ExpectedVersion *int64                 `yaml:"versao" json:"versao,omitempty"`
}

func (a MapAdjustments) empty() bool {
	return len(a.Competencias) == 0 && len(a.Atividades) == 0
}

type ImportResult struct {
	SubprocessSituationDto
	Importadas int `json:"atividadesImportadas"`
}
