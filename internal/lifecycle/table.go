package lifecycle

import "github.com/lgalvao/sgc-sub001/internal/domain"

// Action is a command that may move a subprocess to another situation.
type Action string

const (
	IniciarCadastro        Action = "INICIAR_CADASTRO"
	DisponibilizarCadastro Action = "DISPONIBILIZAR_CADASTRO"
	DevolverCadastro       Action = "DEVOLVER_CADASTRO"
	HomologarCadastro      Action = "HOMOLOGAR_CADASTRO"
	CriarMapa              Action = "CRIAR_MAPA"
	AjustarMapa            Action = "AJUSTAR_MAPA"
	DisponibilizarMapa     Action = "DISPONIBILIZAR_MAPA"
	ApresentarSugestoes    Action = "APRESENTAR_SUGESTOES"
	ValidarMapa            Action = "VALIDAR_MAPA"
	DevolverValidacao      Action = "DEVOLVER_VALIDACAO"
	HomologarMapa          Action = "HOMOLOGAR_MAPA"
	IniciarAutoavaliacao   Action = "INICIAR_AUTOAVALIACAO"
	ConcluirAutoavaliacao  Action = "CONCLUIR_AUTOAVALIACAO"
	ConcluirDiagnostico    Action = "CONCLUIR_DIAGNOSTICO"
)

// Check names a validation that must pass, against the current map graph, before a transition applies.
type Check string

const (
	CheckCadastro   Check = "CADASTRO"
	CheckAtividades Check = "ATIVIDADES"
	CheckMapa       Check = "MAPA"
)

var situations = map[domain.ProcessType][]domain.Situation{
	domain.ProcessMapeamento: {
		domain.NaoIniciado,
		domain.MapeamentoCadastroEmAndamento,
		domain.MapeamentoCadastroDisponibilizado,
		domain.MapeamentoCadastroHomologado,
		domain.MapeamentoMapaCriado,
		domain.MapeamentoMapaDisponibilizado,
		domain.MapeamentoMapaComSugestoes,
		domain.MapeamentoMapaValidado,
		domain.MapeamentoMapaHomologado,
	},
	domain.ProcessRevisao: {
		domain.NaoIniciado,
		domain.RevisaoCadastroEmAndamento,
		domain.RevisaoCadastroDisponibilizada,
		domain.RevisaoCadastroHomologada,
		domain.RevisaoMapaAjustado,
		domain.RevisaoMapaDisponibilizado,
		domain.RevisaoMapaComSugestoes,
		domain.RevisaoMapaValidado,
		domain.RevisaoMapaHomologado,
	},
	domain.ProcessDiagnostico: {
		domain.NaoIniciado,
		domain.DiagnosticoAutoavaliacaoEmAndamento,
		domain.DiagnosticoMonitoramento,
		domain.DiagnosticoConcluido,
	},
}

var terminals = map[domain.ProcessType][]domain.Situation{
	domain.ProcessMapeamento:  {domain.MapeamentoMapaHomologado},
	domain.ProcessRevisao:     {domain.RevisaoMapaHomologado},
	domain.ProcessDiagnostico: {domain.DiagnosticoConcluido},
}

func from(s ...domain.Situation) []domain.Situation { return s }
func roles(r ...domain.Role) []domain.Role { return r }

var (
	admin       = roles(domain.RoleAdmin)
	chefe       = roles(domain.RoleChefe)
	gestorAdmin = roles(domain.RoleGestor, domain.RoleAdmin)
)

// DefaultTable is the transition graph of every process type.
func DefaultTable() []Transition {
	return []Transition{
		// MAPEAMENTO
		{ProcessType: domain.ProcessMapeamento, Action: IniciarCadastro, From: from(domain.NaoIniciado), To: domain.MapeamentoCadastroEmAndamento, Roles: chefe, Event: "cadastro.iniciado"},
		{ProcessType: domain.ProcessMapeamento, Action: DisponibilizarCadastro, From: from(domain.MapeamentoCadastroEmAndamento), To: domain.MapeamentoCadastroDisponibilizado, Roles: chefe, Checks: []Check{CheckCadastro}, Event: "cadastro.disponibilizado"},
		{ProcessType: domain.ProcessMapeamento, Action: DevolverCadastro, From: from(domain.MapeamentoCadastroDisponibilizado), To: domain.MapeamentoCadastroEmAndamento, Roles: gestorAdmin, Event: "cadastro.devolvido"},
		{ProcessType: domain.ProcessMapeamento, Action: HomologarCadastro, From: from(domain.MapeamentoCadastroDisponibilizado), To: domain.MapeamentoCadastroHomologado, Roles: admin, Checks: []Check{CheckCadastro}, Event: "cadastro.homologado"},
		{ProcessType: domain.ProcessMapeamento, Action: CriarMapa, From: from(domain.MapeamentoCadastroHomologado), To: domain.MapeamentoMapaCriado, Roles: admin, Checks: []Check{CheckMapa}, Event: "mapa.criado"},
		{ProcessType: domain.ProcessMapeamento, Action: AjustarMapa, From: from(domain.MapeamentoMapaComSugestoes), To: domain.MapeamentoMapaCriado, Roles: admin, Checks: []Check{CheckAtividades}, Event: "mapa.ajustado"},
		{ProcessType: domain.ProcessMapeamento, Action: DisponibilizarMapa, From: from(domain.MapeamentoMapaCriado), To: domain.MapeamentoMapaDisponibilizado, Roles: admin, Checks: []Check{CheckMapa}, Event: "mapa.disponibilizado"},
		{ProcessType: domain.ProcessMapeamento, Action: ApresentarSugestoes, From: from(domain.MapeamentoMapaDisponibilizado), To: domain.MapeamentoMapaComSugestoes, Roles: chefe, Event: "mapa.sugestoes_apresentadas"},
		{ProcessType: domain.ProcessMapeamento, Action: ValidarMapa, From: from(domain.MapeamentoMapaDisponibilizado), To: domain.MapeamentoMapaValidado, Roles: chefe, Event: "mapa.validado"},
		{ProcessType: domain.ProcessMapeamento, Action: DevolverValidacao, From: from(domain.MapeamentoMapaValidado), To: domain.MapeamentoMapaDisponibilizado, Roles: gestorAdmin, Event: "mapa.validacao_devolvida"},
		{ProcessType: domain.ProcessMapeamento, Action: HomologarMapa, From: from(domain.MapeamentoMapaValidado), To: domain.MapeamentoMapaHomologado, Roles: admin, Checks: []Check{CheckMapa}, Event: "mapa.homologado"},

		// REVISAO
		{ProcessType: domain.ProcessRevisao, Action: IniciarCadastro, From: from(domain.NaoIniciado), To: domain.RevisaoCadastroEmAndamento, Roles: chefe, Event: "cadastro.iniciado"},
		{ProcessType: domain.ProcessRevisao, Action: DisponibilizarCadastro, From: from(domain.RevisaoCadastroEmAndamento), To: domain.RevisaoCadastroDisponibilizada, Roles: chefe, Checks: []Check{CheckCadastro}, Event: "cadastro.disponibilizado"},
		{ProcessType: domain.ProcessRevisao, Action: DevolverCadastro, From: from(domain.RevisaoCadastroDisponibilizada), To: domain.RevisaoCadastroEmAndamento, Roles: gestorAdmin, Event: "cadastro.devolvido"},
		{ProcessType: domain.ProcessRevisao, Action: HomologarCadastro, From: from(domain.RevisaoCadastroDisponibilizada), To: domain.RevisaoCadastroHomologada, Roles: admin, Checks: []Check{CheckCadastro}, Event: "cadastro.homologado"},
		{ProcessType: domain.ProcessRevisao, Action: AjustarMapa, From: from(domain.RevisaoCadastroHomologada, domain.RevisaoMapaComSugestoes), To: domain.RevisaoMapaAjustado, Roles: admin, Checks: []Check{CheckAtividades}, Event: "mapa.ajustado"},
		{ProcessType: domain.ProcessRevisao, Action: DisponibilizarMapa, From: from(domain.RevisaoMapaAjustado), To: domain.RevisaoMapaDisponibilizado, Roles: admin, Checks: []Check{CheckMapa}, Event: "mapa.disponibilizado"},
		{ProcessType: domain.ProcessRevisao, Action: ApresentarSugestoes, From: from(domain.RevisaoMapaDisponibilizado), To: domain.RevisaoMapaComSugestoes, Roles: chefe, Event: "mapa.sugestoes_apresentadas"},
		{ProcessType: domain.ProcessRevisao, Action: ValidarMapa, From: from(domain.RevisaoMapaDisponibilizado), To: domain.RevisaoMapaValidado, Roles: chefe, Event: "mapa.validado"},
		{ProcessType: domain.ProcessRevisao, Action: DevolverValidacao, From: from(domain.RevisaoMapaValidado), To: domain.RevisaoMapaDisponibilizado, Roles: gestorAdmin, Event: "mapa.validacao_devolvida"},
		{ProcessType: domain.ProcessRevisao, Action: HomologarMapa, From: from(domain.RevisaoMapaValidado), To: domain.RevisaoMapaHomologado, Roles: admin, Checks: []Check{CheckMapa}, Event: "mapa.homologado"},

		// DIAGNOSTICO
		{ProcessType: domain.ProcessDiagnostico, Action: IniciarAutoavaliacao, From: from(domain.NaoIniciado), To: domain.DiagnosticoAutoavaliacaoEmAndamento, Roles: chefe, Event: "diagnostico.autoavaliacao_iniciada"},
		{ProcessType: domain.ProcessDiagnostico, Action: ConcluirAutoavaliacao, From: from(domain.DiagnosticoAutoavaliacaoEmAndamento), To: domain.DiagnosticoMonitoramento, Roles: chefe, Event: "diagnostico.autoavaliacao_concluida"},
		{ProcessType: domain.ProcessDiagnostico, Action: ConcluirDiagnostico, From: from(domain.DiagnosticoMonitoramento), To: domain.DiagnosticoConcluido, Roles: admin, Event: "diagnostico.concluido"},
	}
}
