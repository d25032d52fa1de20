package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 30, cfg.Prazos.Etapa1Dias)
	assert.Equal(t, "sgc", cfg.Metrics.Namespace)
	assert.Empty(t, cfg.Notificacoes.Webhooks)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
prazos:
  etapa1_dias: 15
notificacoes:
  webhooks:
    - url: https://hooks.example.org/sgc
      events: ["mapa.*", "cadastro.homologado"]
      timeout_seconds: 2
    - url: http://localhost:9000
      enabled: false
`))
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.Prazos.Etapa1Dias)
	assert.Equal(t, "console", cfg.Log.Format)
	require.Len(t, cfg.Notificacoes.Webhooks, 2)
	assert.True(t, cfg.Notificacoes.Webhooks[0].Active())
	assert.False(t, cfg.Notificacoes.Webhooks[1].Active())
}

func TestValidateRejects(t *testing.T) {
	tests := map[string]string{
		"bad level":        "log:\n  level: loud\n",
		"bad format":       "log:\n  format: xml\n",
		"zero deadline":    "prazos:\n  etapa1_dias: 0\n",
		"relative url":     "notificacoes:\n  webhooks:\n    - url: /hook\n",
		"empty pattern":    "notificacoes:\n  webhooks:\n    - url: http://x\n      events: ['']\n",
		"bad namespace":    "metrics:\n  namespace: 'sgc-prod'\n",
		"invalid yaml":     "log: [",
		"negative timeout": "notificacoes:\n  webhooks:\n    - url: http://x\n      timeout_seconds: -1\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("log:\n  level: debug\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}
