// Package metrics holds the Prometheus instruments of the lifecycle engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

const subsystem = "subprocesso"

// Transition outcomes.
const (
	ResultApplied  = "aplicada"
	ResultNoOp     = "sem_efeito"
	ResultDenied   = "negada"
	ResultInvalid  = "invalida"
	ResultConflict = "conflito"
	ResultError    = "erro"
)

type Metrics struct {
	transitions  *prometheus.CounterVec
	denials      *prometheus.CounterVec
	validations  *prometheus.CounterVec
	sinkFailures *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	bySituation  *prometheus.GaugeVec
}

// New registers every instrument on reg under namespace.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transicoes_total",
			Help:      "Transition attempts by process type, action and outcome",
		}, []string{"tipo", "acao", "resultado"}),
		denials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "acessos_negados_total",
			Help:      "Guard denials by operation",
		}, []string{"operacao"}),
		validations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "validacoes_reprovadas_total",
			Help:      "Structural validation failures by kind",
		}, []string{"tipo"}),
		sinkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notificacoes_falhas_total",
			Help:      "Event sink deliveries that failed after commit",
		}, []string{"sink"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operacao_duracao_segundos",
			Help:      "Duration of engine operations",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"operacao"}),
		bySituation: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "por_situacao",
			Help:      "Subprocesses currently in each situation",
		}, []string{"situacao"}),
	}
}

func (m *Metrics) Transition(tipo, acao, resultado string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(tipo, acao, resultado).Inc()
}

func (m *Metrics) Denied(operacao string) {
	if m == nil {
		return
	}
	m.denials.WithLabelValues(operacao).Inc()
}

func (m *Metrics) ValidationFailed(tipo string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(tipo).Inc()
}

func (m *Metrics) SinkFailed(sink string) {
	if m == nil {
		return
	}
	m.sinkFailures.WithLabelValues(sink).Inc()
}

// Observe records how long operacao took since start.
func (m *Metrics) Observe(operacao string, start time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(operacao).Observe(time.Since(start).Seconds())
}

// SetSituations replaces the per-situation gauge with counts.
func (m *Metrics) SetSituations(counts map[string]int) {
	if m == nil {
		return
	}
	m.bySituation.Reset()
	for s, n := range counts {
		m.bySituation.WithLabelValues(s).Set(float64(n))
	}
}

// WriteText writes every gathered family in the Prometheus text format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
