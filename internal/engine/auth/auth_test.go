package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgalvao/sgc-sub001/internal/domain"
)

// tree: 1 -> 2 -> 3, 1 -> 4
type fakeTree map[int64]int64

func (f fakeTree) IsDescendant(_ context.Context, unit, ancestor int64) (bool, error) {
	for cur, ok := f[unit]; ok; cur, ok = f[cur] {
		if cur == ancestor {
			return true, nil
		}
	}
	return false, nil
}

type brokenTree struct{}

func (brokenTree) IsDescendant(context.Context, int64, int64) (bool, error) {
	return false, errors.New("db closed")
}

func TestAuthorize(t *testing.T) {
	g := Guard{Units: fakeTree{2: 1, 3: 2, 4: 1}}
	sub := func(unit int64) *domain.Subprocess { return &domain.Subprocess{Codigo: 10, UnidadeCodigo: unit} }
	tests := []struct {
		name    string
		actor   domain.Actor
		target  *domain.Subprocess
		op      Operation
		granted bool
	}{
		{"admin reads anything", domain.Actor{Perfil: domain.RoleAdmin, UnidadeCodigo: 4}, sub(3), OpRead, true},
		{"admin deletes", domain.Actor{Perfil: domain.RoleAdmin}, sub(3), OpDelete, true},
		{"gestor on descendant", domain.Actor{Perfil: domain.RoleGestor, UnidadeCodigo: 1}, sub(3), OpWrite, true},
		{"gestor on sibling", domain.Actor{Perfil: domain.RoleGestor, UnidadeCodigo: 2}, sub(4), OpRead, false},
		{"chefe on own unit", domain.Actor{Perfil: domain.RoleChefe, UnidadeCodigo: 3}, sub(3), OpWrite, true},
		{"chefe on ancestor", domain.Actor{Perfil: domain.RoleChefe, UnidadeCodigo: 3}, sub(2), OpRead, false},
		{"chefe cannot delete", domain.Actor{Perfil: domain.RoleChefe, UnidadeCodigo: 3}, sub(3), OpDelete, false},
		{"gestor cannot update", domain.Actor{Perfil: domain.RoleGestor, UnidadeCodigo: 1}, sub(3), OpUpdate, false},
		{"servidor reads own unit", domain.Actor{Perfil: domain.RoleServidor, UnidadeCodigo: 3}, sub(3), OpRead, true},
		{"servidor cannot write", domain.Actor{Perfil: domain.RoleServidor, UnidadeCodigo: 3}, sub(3), OpWrite, false},
		{"servidor reads descendant", domain.Actor{Perfil: domain.RoleServidor, UnidadeCodigo: 2}, sub(3), OpRead, false},
		{"unknown role", domain.Actor{Perfil: "VISITANTE", UnidadeCodigo: 3}, sub(3), OpRead, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, err := g.Authorize(context.Background(), tc.actor, tc.target, tc.op)
			require.NoError(t, err)
			assert.Equal(t, tc.granted, d.Granted, d.Reason)
			if tc.granted {
				assert.NoError(t, d.Err())
			} else {
				assert.ErrorIs(t, d.Err(), domain.ErrAccessDenied)
			}
		})
	}
}

func TestServidorProbeDoesNotLeak(t *testing.T) {
	g := Guard{Units: fakeTree{}}
	servidor := domain.Actor{TituloEleitoral: "111", Perfil: domain.RoleServidor, UnidadeCodigo: 3}

	foreign, err := g.Authorize(context.Background(), servidor, &domain.Subprocess{Codigo: 5, UnidadeCodigo: 9}, OpRead)
	require.NoError(t, err)
	missing, err := g.Authorize(context.Background(), servidor, nil, OpRead)
	require.NoError(t, err)

	assert.Equal(t, foreign, missing)
	assert.Equal(t, foreign.Err().Error(), missing.Err().Error())
	assert.ErrorIs(t, missing.Err(), domain.ErrAccessDenied)
	assert.NotErrorIs(t, missing.Err(), domain.ErrNotFound)
}

func TestDenialDoesNotRevealExistence(t *testing.T) {
	g := Guard{Units: fakeTree{2: 1, 3: 2, 4: 1}}
	actors := map[string]domain.Actor{
		"servidor": {TituloEleitoral: "111", Perfil: domain.RoleServidor, UnidadeCodigo: 4},
		"chefe":    {TituloEleitoral: "222", Perfil: domain.RoleChefe, UnidadeCodigo: 4},
		"gestor":   {TituloEleitoral: "333", Perfil: domain.RoleGestor, UnidadeCodigo: 2},
	}
	foreign := &domain.Subprocess{Codigo: 5, UnidadeCodigo: 4}
	for name, actor := range actors {
		target := &domain.Subprocess{Codigo: 5, UnidadeCodigo: 3}
		if actor.Perfil == domain.RoleGestor {
			target = foreign
		}
		for _, op := range []Operation{OpRead, OpWrite, OpUpdate, OpDelete} {
			t.Run(name+"/"+string(op), func(t *testing.T) {
				existing, err := g.Authorize(context.Background(), actor, target, op)
				require.NoError(t, err)
				missing, err := g.Authorize(context.Background(), actor, nil, op)
				require.NoError(t, err)

				assert.False(t, existing.Granted)
				assert.Equal(t, missing, existing)
				assert.Equal(t, DeniedReason, existing.Reason)
			})
		}
	}
}

func TestRoleLimitsApplyInsideScope(t *testing.T) {
	g := Guard{Units: fakeTree{2: 1, 3: 2, 4: 1}}
	own := &domain.Subprocess{Codigo: 5, UnidadeCodigo: 3}

	d, err := g.Authorize(context.Background(), domain.Actor{Perfil: domain.RoleServidor, UnidadeCodigo: 3}, own, OpWrite)
	require.NoError(t, err)
	assert.Contains(t, d.Reason, "somente de leitura")

	d, err = g.Authorize(context.Background(), domain.Actor{Perfil: domain.RoleChefe, UnidadeCodigo: 3}, own, OpDelete)
	require.NoError(t, err)
	assert.Contains(t, d.Reason, "apenas ADMIN")
}

func TestAdminSeesNotFound(t *testing.T) {
	g := Guard{}
	d, err := g.Authorize(context.Background(), domain.Actor{Perfil: domain.RoleAdmin}, nil, OpRead)
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.ErrorIs(t, d.Err(), domain.ErrNotFound)
}

func TestHierarchyErrorsPropagate(t *testing.T) {
	g := Guard{Units: brokenTree{}}
	_, err := g.Authorize(context.Background(), domain.Actor{Perfil: domain.RoleGestor, UnidadeCodigo: 1}, &domain.Subprocess{UnidadeCodigo: 2}, OpRead)
	assert.Error(t, err)
}

func TestAuthorizeAdmin(t *testing.T) {
	g := Guard{}
	assert.True(t, g.AuthorizeAdmin(domain.Actor{Perfil: domain.RoleAdmin}, "criar processos").Granted)
	d := g.AuthorizeAdmin(domain.Actor{Perfil: domain.RoleGestor}, "criar processos")
	assert.False(t, d.Granted)
	assert.ErrorIs(t, d.Err(), domain.ErrAccessDenied)
}
