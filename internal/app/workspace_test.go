package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgalvao/sgc-sub001/internal/config"
	"github.com/lgalvao/sgc-sub001/internal/domain"
	"github.com/lgalvao/sgc-sub001/internal/engine"
	"github.com/lgalvao/sgc-sub001/internal/metrics"
)

func TestOpenWiresWorkspace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte("log:\n  level: debug\n  format: json\nmetrics:\n  namespace: teste\n"), 0o644))

	var out bytes.Buffer
	ws, err := Open(context.Background(), dir, Options{LogOutput: &out})
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, "teste", ws.Config.Metrics.Namespace)
	assert.Contains(t, out.String(), `"msg":"workspace aberto"`)

	ctx := context.Background()
	admin := domain.Actor{TituloEleitoral: "1", Perfil: domain.RoleAdmin, UnidadeCodigo: 1}
	require.NoError(t, ws.Engine.Repo.UpsertUnit(ctx, domain.Unit{Codigo: 1, Sigla: "SEDOC", Nome: "Secretaria"}))
	p, err := ws.Engine.CreateProcess(ctx, admin, engine.CreateProcessRequest{
		Descricao:  "Mapeamento",
		Tipo:       domain.ProcessMapeamento,
		DataLimite: time.Now().AddDate(0, 1, 0),
		Unidades:   []int64{1},
	})
	require.NoError(t, err)
	_, _, err = ws.Engine.StartProcess(ctx, admin, p.Codigo)
	require.NoError(t, err)
	require.NoError(t, ws.RefreshSituations(ctx))

	var text bytes.Buffer
	require.NoError(t, metrics.WriteText(&text, ws.Registry))
	assert.Contains(t, text.String(), `teste_subprocesso_por_situacao{situacao="NAO_INICIADO"} 1`)
	assert.Contains(t, out.String(), "processo.iniciado")
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte("prazos:\n  etapa1_dias: -1\n"), 0o644))
	_, err := Open(context.Background(), dir, Options{LogOutput: &bytes.Buffer{}})
	assert.Error(t, err)
}

func TestRetryOnConflict(t *testing.T) {
	ws, err := Open(context.Background(), t.TempDir(), Options{LogOutput: &bytes.Buffer{}})
	require.NoError(t, err)
	defer ws.Close()

	calls := 0
	err = ws.RetryOnConflict(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &domain.ConcurrencyError{Entity: "subprocesso", Codigo: 1}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	boom := errors.New("boom")
	err = ws.RetryOnConflict(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)

	calls = 0
	err = ws.RetryOnConflict(context.Background(), func(context.Context) error {
		calls++
		return &domain.ConcurrencyError{}
	})
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	assert.Equal(t, 2, calls)
}
