package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgalvao/sgc-sub001/internal/domain"
)

func TestDefaultTableIsConsistent(t *testing.T) {
	m, err := NewMachine(DefaultTable())
	require.NoError(t, err)
	for pt, terms := range terminals {
		for _, s := range terms {
			assert.Empty(t, m.Available(pt, s, domain.RoleAdmin), "terminal %s must have no outbound edge", s)
			assert.Empty(t, m.Available(pt, s, domain.RoleChefe), "terminal %s must have no outbound edge", s)
		}
	}
}

func TestNewMachineRejectsBrokenTables(t *testing.T) {
	tests := []struct {
		name  string
		table []Transition
	}{
		{
			name: "situation from another process type",
			table: []Transition{{ProcessType: domain.ProcessMapeamento, Action: IniciarCadastro,
				From: from(domain.NaoIniciado), To: domain.RevisaoCadastroEmAndamento, Roles: chefe}},
		},
		{
			name: "duplicate edge",
			table: []Transition{
				{ProcessType: domain.ProcessMapeamento, Action: IniciarCadastro, From: from(domain.NaoIniciado), To: domain.MapeamentoCadastroEmAndamento, Roles: chefe},
				{ProcessType: domain.ProcessMapeamento, Action: IniciarCadastro, From: from(domain.NaoIniciado), To: domain.MapeamentoCadastroDisponibilizado, Roles: chefe},
			},
		},
		{
			name: "edge out of terminal",
			table: []Transition{{ProcessType: domain.ProcessRevisao, Action: DevolverValidacao,
				From: from(domain.RevisaoMapaHomologado), To: domain.RevisaoMapaDisponibilizado, Roles: admin}},
		},
		{
			name: "no roles",
			table: []Transition{{ProcessType: domain.ProcessDiagnostico, Action: IniciarAutoavaliacao,
				From: from(domain.NaoIniciado), To: domain.DiagnosticoAutoavaliacaoEmAndamento}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewMachine(tc.table)
			assert.Error(t, err)
		})
	}
}

func TestCanTransition(t *testing.T) {
	m := Default()
	tests := []struct {
		name       string
		pt         domain.ProcessType
		current    domain.Situation
		action     Action
		role       domain.Role
		allowed    bool
		noop       bool
		roleDenied bool
		wantTo     domain.Situation
	}{
		{"chefe submits cadastro", domain.ProcessMapeamento, domain.MapeamentoCadastroEmAndamento, DisponibilizarCadastro, domain.RoleChefe, true, false, false, domain.MapeamentoCadastroDisponibilizado},
		{"admin homologates cadastro", domain.ProcessMapeamento, domain.MapeamentoCadastroDisponibilizado, HomologarCadastro, domain.RoleAdmin, true, false, false, domain.MapeamentoCadastroHomologado},
		{"chefe cannot homologate", domain.ProcessMapeamento, domain.MapeamentoCadastroDisponibilizado, HomologarCadastro, domain.RoleChefe, false, false, true, ""},
		{"no skipping to homologation", domain.ProcessMapeamento, domain.MapeamentoCadastroEmAndamento, HomologarCadastro, domain.RoleAdmin, false, false, false, ""},
		{"revisao adjustment after homologation", domain.ProcessRevisao, domain.RevisaoCadastroHomologada, AjustarMapa, domain.RoleAdmin, true, false, false, domain.RevisaoMapaAjustado},
		{"revisao situation under mapeamento", domain.ProcessMapeamento, domain.RevisaoCadastroHomologada, AjustarMapa, domain.RoleAdmin, false, false, false, ""},
		{"already adjusted is a no-op", domain.ProcessRevisao, domain.RevisaoMapaAjustado, AjustarMapa, domain.RoleAdmin, true, true, false, domain.RevisaoMapaAjustado},
		{"gestor returns cadastro", domain.ProcessRevisao, domain.RevisaoCadastroDisponibilizada, DevolverCadastro, domain.RoleGestor, true, false, false, domain.RevisaoCadastroEmAndamento},
		{"servidor never transitions", domain.ProcessMapeamento, domain.NaoIniciado, IniciarCadastro, domain.RoleServidor, false, false, true, ""},
		{"terminal has no exits", domain.ProcessDiagnostico, domain.DiagnosticoConcluido, IniciarAutoavaliacao, domain.RoleChefe, false, false, false, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := m.CanTransition(tc.pt, tc.current, tc.action, tc.role)
			assert.Equal(t, tc.allowed, d.Allowed, d.Reason)
			assert.Equal(t, tc.noop, d.NoOp)
			assert.Equal(t, tc.roleDenied, d.RoleDenied)
			if tc.allowed {
				assert.Equal(t, tc.wantTo, d.Transition.To)
				assert.NoError(t, d.Err())
			} else {
				assert.NotEmpty(t, d.Reason)
				require.Error(t, d.Err())
				if tc.roleDenied {
					assert.True(t, errors.Is(d.Err(), domain.ErrAccessDenied))
				} else {
					assert.True(t, errors.Is(d.Err(), domain.ErrValidation))
				}
			}
		})
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	m := Default()
	ctx := context.Background()

	next, changed, err := m.Apply(ctx, domain.ProcessRevisao, domain.RevisaoCadastroHomologada, AjustarMapa)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.RevisaoMapaAjustado, next)

	again, changed, err := m.Apply(ctx, domain.ProcessRevisao, next, AjustarMapa)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, next, again)
}

func TestApplyRejectsUndeclaredEdges(t *testing.T) {
	m := Default()
	ctx := context.Background()
	for pt, list := range situations {
		for _, s := range list {
			for _, action := range []Action{IniciarCadastro, HomologarCadastro, AjustarMapa, HomologarMapa, ConcluirDiagnostico} {
				_, forward := m.Lookup(pt, s, action)
				_, already := m.arrivedVia(pt, s, action)
				next, changed, err := m.Apply(ctx, pt, s, action)
				switch {
				case forward:
					require.NoError(t, err)
					assert.True(t, changed)
				case already:
					require.NoError(t, err)
					assert.False(t, changed)
					assert.Equal(t, s, next)
				default:
					require.Error(t, err, "%s %s %s", pt, s, action)
					assert.False(t, changed)
					assert.Equal(t, s, next)
					assert.False(t, m.CanTransition(pt, s, action, domain.RoleAdmin).Allowed)
				}
			}
		}
	}
}

func TestFullMapeamentoWalk(t *testing.T) {
	m := Default()
	ctx := context.Background()
	steps := []struct {
		action Action
		role   domain.Role
	}{
		{IniciarCadastro, domain.RoleChefe},
		{DisponibilizarCadastro, domain.RoleChefe},
		{HomologarCadastro, domain.RoleAdmin},
		{CriarMapa, domain.RoleAdmin},
		{DisponibilizarMapa, domain.RoleAdmin},
		{ApresentarSugestoes, domain.RoleChefe},
		{AjustarMapa, domain.RoleAdmin},
		{DisponibilizarMapa, domain.RoleAdmin},
		{ValidarMapa, domain.RoleChefe},
		{HomologarMapa, domain.RoleAdmin},
	}
	s := domain.NaoIniciado
	for _, step := range steps {
		d := m.CanTransition(domain.ProcessMapeamento, s, step.action, step.role)
		require.True(t, d.Allowed, "%s at %s: %s", step.action, s, d.Reason)
		next, changed, err := m.Apply(ctx, domain.ProcessMapeamento, s, step.action)
		require.NoError(t, err)
		require.True(t, changed)
		s = next
	}
	assert.Equal(t, domain.MapeamentoMapaHomologado, s)
	assert.True(t, m.IsTerminal(domain.ProcessMapeamento, s))
}

func TestAvailableFiltersByRole(t *testing.T) {
	m := Default()
	assert.Equal(t, []Action{DevolverCadastro, HomologarCadastro},
		m.Available(domain.ProcessMapeamento, domain.MapeamentoCadastroDisponibilizado, domain.RoleAdmin))
	assert.Equal(t, []Action{DevolverCadastro},
		m.Available(domain.ProcessMapeamento, domain.MapeamentoCadastroDisponibilizado, domain.RoleGestor))
	assert.Equal(t, []Action{ApresentarSugestoes, ValidarMapa},
		m.Available(domain.ProcessRevisao, domain.RevisaoMapaDisponibilizado, domain.RoleChefe))
	assert.Empty(t, m.Available(domain.ProcessRevisao, domain.RevisaoMapaDisponibilizado, domain.RoleServidor))
}

func TestDestination(t *testing.T) {
	m := Default()
	to, ok := m.Destination(domain.ProcessRevisao, IniciarCadastro)
	require.True(t, ok)
	assert.Equal(t, domain.RevisaoCadastroEmAndamento, to)
	_, ok = m.Destination(domain.ProcessDiagnostico, IniciarCadastro)
	assert.False(t, ok)
}

func TestMapEditable(t *testing.T) {
	m := Default()
	assert.True(t, m.MapEditable(domain.ProcessMapeamento, domain.MapeamentoCadastroHomologado))
	assert.True(t, m.MapEditable(domain.ProcessMapeamento, domain.MapeamentoMapaCriado))
	assert.True(t, m.MapEditable(domain.ProcessRevisao, domain.RevisaoMapaComSugestoes))
	assert.False(t, m.MapEditable(domain.ProcessRevisao, domain.RevisaoMapaValidado))
	assert.False(t, m.MapEditable(domain.ProcessMapeamento, domain.MapeamentoCadastroEmAndamento))
	assert.False(t, m.MapEditable(domain.ProcessDiagnostico, domain.DiagnosticoMonitoramento))
}
