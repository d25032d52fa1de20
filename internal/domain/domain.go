package domain

import "time"

type ProcessType string

const (
	ProcessMapeamento  ProcessType = "MAPEAMENTO"
	ProcessRevisao     ProcessType = "REVISAO"
	ProcessDiagnostico ProcessType = "DIAGNOSTICO"
)

func (t ProcessType) Valid() bool {
	switch t {
	case ProcessMapeamento, ProcessRevisao, ProcessDiagnostico:
		return true
	}
	return false
}

type ProcessSituation string

const (
	ProcessCriado      ProcessSituation = "CRIADO"
	ProcessEmAndamento ProcessSituation = "EM_ANDAMENTO"
	ProcessFinalizado  ProcessSituation = "FINALIZADO"
)

// Situation is the lifecycle state of a subprocess. Only lifecycle.Machine decides how it changes.
type Situation string

const (
	NaoIniciado Situation = "NAO_INICIADO"

	MapeamentoCadastroEmAndamento     Situation = "MAPEAMENTO_CADASTRO_EM_ANDAMENTO"
	MapeamentoCadastroDisponibilizado Situation = "MAPEAMENTO_CADASTRO_DISPONIBILIZADO"
	MapeamentoCadastroHomologado      Situation = "MAPEAMENTO_CADASTRO_HOMOLOGADO"
	MapeamentoMapaCriado              Situation = "MAPEAMENTO_MAPA_CRIADO"
	MapeamentoMapaDisponibilizado     Situation = "MAPEAMENTO_MAPA_DISPONIBILIZADO"
	MapeamentoMapaComSugestoes        Situation = "MAPEAMENTO_MAPA_COM_SUGESTOES"
	MapeamentoMapaValidado            Situation = "MAPEAMENTO_MAPA_VALIDADO"
	MapeamentoMapaHomologado          Situation = "MAPEAMENTO_MAPA_HOMOLOGADO"

	RevisaoCadastroEmAndamento     Situation = "REVISAO_CADASTRO_EM_ANDAMENTO"
	RevisaoCadastroDisponibilizada Situation = "REVISAO_CADASTRO_DISPONIBILIZADA"
	RevisaoCadastroHomologada      Situation = "REVISAO_CADASTRO_HOMOLOGADA"
	RevisaoMapaAjustado            Situation = "REVISAO_MAPA_AJUSTADO"
	RevisaoMapaDisponibilizado     Situation = "REVISAO_MAPA_DISPONIBILIZADO"
	RevisaoMapaComSugestoes        Situation = "REVISAO_MAPA_COM_SUGESTOES"
	RevisaoMapaValidado            Situation = "REVISAO_MAPA_VALIDADO"
	RevisaoMapaHomologado          Situation = "REVISAO_MAPA_HOMOLOGADO"

	DiagnosticoAutoavaliacaoEmAndamento Situation = "DIAGNOSTICO_AUTOAVALIACAO_EM_ANDAMENTO"
	DiagnosticoMonitoramento            Situation = "DIAGNOSTICO_MONITORAMENTO"
	DiagnosticoConcluido                Situation = "DIAGNOSTICO_CONCLUIDO"
)

type Process struct {
	Codigo      int64            `json:"codigo"`
	Descricao   string           `json:"descricao"`
	Tipo        ProcessType      `json:"tipo"`
	Situacao    ProcessSituation `json:"situacao"`
	DataCriacao time.Time        `json:"dataCriacao"`
	DataLimite  time.Time        `json:"dataLimite"`
	Unidades    []int64          `json:"unidades"`
	Versao      int64            `json:"versao"`
}

type Subprocess struct {
	Codigo           int64     `json:"codigo"`
	ProcessoCodigo   int64     `json:"processoCodigo"`
	UnidadeCodigo    int64     `json:"unidadeCodigo"`
	Situacao         Situation `json:"situacao"`
	DataLimiteEtapa1 time.Time `json:"dataLimiteEtapa1"`
	// MapaCodigo is derived from the owning side (mapas.subprocesso_codigo).
	MapaCodigo *int64 `json:"mapaCodigo,omitempty"`
	Versao     int64  `json:"versao"`
}

type Map struct {
	Codigo            int64  `json:"codigo"`
	SubprocessoCodigo *int64 `json:"subprocessoCodigo,omitempty"`
	Observacoes       string `json:"observacoes,omitempty"`
	Versao            int64  `json:"versao"`
}

type Activity struct {
	Codigo        int64       `json:"codigo"`
	MapaCodigo    int64       `json:"mapaCodigo"`
	Descricao     string      `json:"descricao"`
	Conhecimentos []Knowledge `json:"conhecimentos"`
}

type Knowledge struct {
	Codigo          int64  `json:"codigo"`
	AtividadeCodigo int64  `json:"atividadeCodigo"`
	Descricao       string `json:"descricao"`
}

type Competency struct {
	Codigo     int64   `json:"codigo"`
	MapaCodigo int64   `json:"mapaCodigo"`
	Descricao  string  `json:"descricao"`
	Atividades []int64 `json:"atividades"`
}

// MapGraph is a flat snapshot of a map and everything it owns, read in one transaction.
type MapGraph struct {
	Map          Map          `json:"mapa"`
	Activities   []Activity   `json:"atividades"`
	Competencies []Competency `json:"competencias"`
}

func (g MapGraph) Activity(codigo int64) (Activity, bool) {
	for _, a := range g.Activities {
		if a.Codigo == codigo {
			return a, true
		}
	}
	return Activity{}, false
}

func (g MapGraph) Competency(codigo int64) (Competency, bool) {
	for _, c := range g.Competencies {
		if c.Codigo == codigo {
			return c, true
		}
	}
	return Competency{}, false
}

type Unit struct {
	Codigo         int64  `json:"codigo"`
	Sigla          string `json:"sigla"`
	Nome           string `json:"nome"`
	SuperiorCodigo *int64 `json:"superiorCodigo,omitempty"`
	Titular        string `json:"titular,omitempty"`
}

type Responsible struct {
	Nome string `json:"nome"`
}

type Event struct {
	ID            int64     `json:"id"`
	UUID          string    `json:"uuid"`
	TS            time.Time `json:"ts"`
	Type          string    `json:"type"`
	ProcessCodigo int64     `json:"processoCodigo,omitempty"`
	EntityKind    string    `json:"entityKind"`
	EntityCodigo  int64     `json:"entityCodigo,omitempty"`
	ActorID       string    `json:"actorId"`
	Payload       string    `json:"payload"`
}
