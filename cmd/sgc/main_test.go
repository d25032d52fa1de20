package main

import (
	"fmt"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgalvao/sgc-sub001/internal/domain"
)

func TestParseCode(t *testing.T) {
	v, err := parseCode(" 42 ", "subprocesso")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, err := parseCode(bad, "subprocesso")
		assert.Error(t, err, bad)
	}
}

func TestActorFromFlags(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("titulo", "123")
	viper.Set("perfil", "chefe")
	viper.Set("unidade", 7)
	actor, err := actorFromFlags()
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{TituloEleitoral: "123", Perfil: domain.RoleChefe, UnidadeCodigo: 7}, actor)

	viper.Set("perfil", "diretor")
	_, err = actorFromFlags()
	assert.Error(t, err)

	viper.Set("perfil", "ADMIN")
	viper.Set("unidade", 0)
	_, err = actorFromFlags()
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 3, exitCode(&domain.AccessDeniedError{Reason: "x"}))
	assert.Equal(t, 4, exitCode(fmt.Errorf("lendo: %w", &domain.NotFoundError{Entity: "subprocesso", Codigo: 1})))
	assert.Equal(t, 5, exitCode(domain.NewValidationError(domain.KindEstadoInvalido, "situação inválida")))
	assert.Equal(t, 6, exitCode(&domain.ConcurrencyError{Entity: "subprocesso", Codigo: 1}))
	assert.Equal(t, 1, exitCode(fmt.Errorf("outro")))
}
