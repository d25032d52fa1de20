package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "sgc")

	m.Transition("MAPEAMENTO", "HOMOLOGAR_CADASTRO", ResultApplied)
	m.Transition("MAPEAMENTO", "HOMOLOGAR_CADASTRO", ResultApplied)
	m.Transition("REVISAO", "AJUSTAR_MAPA", ResultNoOp)
	m.Denied("LER")
	m.SinkFailed("webhook")
	m.ValidationFailed("SEM_ATIVIDADES")
	m.Observe("transicao", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("MAPEAMENTO", "HOMOLOGAR_CADASTRO", ResultApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("REVISAO", "AJUSTAR_MAPA", ResultNoOp)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.denials.WithLabelValues("LER")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sinkFailures.WithLabelValues("webhook")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))

	err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP sgc_subprocesso_validacoes_reprovadas_total Structural validation failures by kind
# TYPE sgc_subprocesso_validacoes_reprovadas_total counter
sgc_subprocesso_validacoes_reprovadas_total{tipo="SEM_ATIVIDADES"} 1
`), "sgc_subprocesso_validacoes_reprovadas_total")
	assert.NoError(t, err)
}

func TestSetSituationsReplacesGauge(t *testing.T) {
	m := New(prometheus.NewRegistry(), "sgc")
	m.SetSituations(map[string]int{"NAO_INICIADO": 3, "MAPEAMENTO_MAPA_HOMOLOGADO": 1})
	m.SetSituations(map[string]int{"NAO_INICIADO": 2})
	assert.Equal(t, 1, testutil.CollectAndCount(m.bySituation))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.bySituation.WithLabelValues("NAO_INICIADO")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transition("a", "b", "c")
		m.Denied("x")
		m.SinkFailed("y")
		m.ValidationFailed("z")
		m.Observe("op", time.Now())
		m.SetSituations(nil)
	})
}

func TestWriteText(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "sgc")
	m.Denied("EXCLUIR")
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, reg))
	assert.Contains(t, buf.String(), `sgc_subprocesso_acessos_negados_total{operacao="EXCLUIR"} 1`)
}

func TestDurationHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "sgc")
	start := time.Now()
	m.Observe("transicao", start)
	m.Observe("transicao", start)
	m.Observe("excluir", start)

	families, err := reg.Gather()
	require.NoError(t, err)
	var found *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "sgc_subprocesso_operacao_duracao_segundos" {
			found = mf
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, dto.MetricType_HISTOGRAM, found.GetType())
	counts := map[string]uint64{}
	for _, metric := range found.GetMetric() {
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == "operacao" {
				counts[lp.GetValue()] = metric.GetHistogram().GetSampleCount()
			}
		}
	}
	assert.Equal(t, map[string]uint64{"transicao": 2, "excluir": 1}, counts)
}
