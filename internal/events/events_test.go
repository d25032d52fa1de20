package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgalvao/sgc-sub001/internal/config"
	"github.com/lgalvao/sgc-sub001/internal/domain"
)

type captured struct {
	mu      sync.Mutex
	headers []http.Header
	bodies  []map[string]any
}

func newReceiver(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(data, &body)
		c.mu.Lock()
		c.headers = append(c.headers, r.Header.Clone())
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func sampleEvent(typ string) domain.Event {
	return domain.Event{
		ID:            3,
		UUID:          "7d0c8a8e-2f7b-4d59-9b8e-3c7f0b1b2a11",
		TS:            time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Type:          typ,
		ProcessCodigo: 1,
		EntityKind:    "subprocesso",
		EntityCodigo:  4,
		ActorID:       "123456789012",
		Payload:       `{"de":"REVISAO_CADASTRO_HOMOLOGADA","para":"REVISAO_MAPA_AJUSTADO"}`,
	}
}

func TestWebhookDeliversMatchingEvents(t *testing.T) {
	srv, got := newReceiver(t, http.StatusNoContent)
	sink := NewWebhookSink(config.WebhookConfig{URL: srv.URL, Events: []string{"mapa.*"}, Secret: "s3"})

	require.NoError(t, sink.Emit(context.Background(), sampleEvent("mapa.ajustado")))
	require.NoError(t, sink.Emit(context.Background(), sampleEvent("cadastro.iniciado")))

	require.Len(t, got.bodies, 1)
	assert.Equal(t, "mapa.ajustado", got.bodies[0]["type"])
	assert.Equal(t, "REVISAO_MAPA_AJUSTADO", got.bodies[0]["payload"].(map[string]any)["para"])
	assert.Equal(t, "mapa.ajustado", got.headers[0].Get("X-SGC-Event"))
	assert.Equal(t, sampleEvent("x").UUID, got.headers[0].Get("X-SGC-Delivery"))
	assert.Equal(t, "s3", got.headers[0].Get("X-SGC-Secret"))
}

func TestWebhookReportsHTTPFailure(t *testing.T) {
	srv, _ := newReceiver(t, http.StatusBadGateway)
	err := NewWebhookSink(config.WebhookConfig{URL: srv.URL}).Emit(context.Background(), sampleEvent("mapa.homologado"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSinksFromConfigSkipsDisabled(t *testing.T) {
	off := false
	cfg := config.Default()
	cfg.Notificacoes.Webhooks = []config.WebhookConfig{
		{URL: "http://a.example"},
		{URL: "http://b.example", Enabled: &off},
	}
	sinks := SinksFromConfig(cfg)
	require.Len(t, sinks, 1)
	assert.Equal(t, "webhook:http://a.example", SinkName(sinks[0]))
}

type failingSink struct{ name string }

func (f failingSink) Name() string { return f.name }
func (f failingSink) Emit(context.Context, domain.Event) error {
	return errors.New("down")
}

type recordingSink struct{ got []string }

func (r *recordingSink) Emit(_ context.Context, evt domain.Event) error {
	r.got = append(r.got, evt.Type)
	return nil
}

func TestMultiSinkKeepsGoingAndJoinsErrors(t *testing.T) {
	rec := &recordingSink{}
	multi := MultiSink{failingSink{name: "a"}, MultiSink{rec, failingSink{name: "b"}}}

	err := multi.Emit(context.Background(), sampleEvent("cadastro.homologado"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: down")
	assert.Contains(t, err.Error(), "b: down")
	assert.Equal(t, []string{"cadastro.homologado"}, rec.got)
	assert.Len(t, multi.Each(), 3)
}

func TestEventFilter(t *testing.T) {
	assert.True(t, newEventFilter(nil).match("anything"))
	assert.True(t, newEventFilter([]string{" "}).match("anything"))
	f := newEventFilter([]string{"cadastro.*", "mapa.homologado"})
	assert.True(t, f.match("cadastro.devolvido"))
	assert.True(t, f.match("mapa.homologado"))
	assert.False(t, f.match("mapa.criado"))
}
