package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/lgalvao/sgc-sub001/internal/config"
	"github.com/lgalvao/sgc-sub001/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookSink POSTs matching events as JSON to one URL.
type WebhookSink struct {
	URL    string
	Secret string
	Client *http.Client
	filter eventFilter
}

// NewWebhookSink builds a sink from config. Patterns use path.Match syntax, so "mapa.*" matches every map event.
func NewWebhookSink(hook config.WebhookConfig) *WebhookSink {
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	return &WebhookSink{
		URL:    hook.URL,
		Secret: hook.Secret,
		Client: &http.Client{Timeout: timeout},
		filter: newEventFilter(hook.Events),
	}
}

// SinksFromConfig returns one webhook sink per active hook.
func SinksFromConfig(cfg *config.Config) []Sink {
	if cfg == nil {
		return nil
	}
	var out []Sink
	for _, hook := range cfg.Notificacoes.Webhooks {
		if hook.Active() {
			out = append(out, NewWebhookSink(hook))
		}
	}
	return out
}

func (s *WebhookSink) Name() string { return "webhook:" + s.URL }

type webhookEvent struct {
	ID           int64           `json:"id"`
	UUID         string          `json:"uuid"`
	Type         string          `json:"type"`
	Processo     int64           `json:"processoCodigo,omitempty"`
	EntityKind   string          `json:"entityKind"`
	EntityCodigo int64           `json:"entityCodigo,omitempty"`
	ActorID      string          `json:"actorId"`
	TS           string          `json:"ts"`
	Payload      json.RawMessage `json:"payload"`
}

func (s *WebhookSink) Emit(ctx context.Context, evt domain.Event) error {
	if !s.filter.match(evt.Type) {
		return nil
	}
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID:           evt.ID,
		UUID:         evt.UUID,
		Type:         evt.Type,
		Processo:     evt.ProcessCodigo,
		EntityKind:   evt.EntityKind,
		EntityCodigo: evt.EntityCodigo,
		ActorID:      evt.ActorID,
		TS:           evt.TS.UTC().Format(time.RFC3339),
		Payload:      payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-SGC-Event", evt.Type)
	req.Header.Set("X-SGC-Delivery", evt.UUID)
	if strings.TrimSpace(s.Secret) != "" {
		req.Header.Set("X-SGC-Secret", s.Secret)
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all      bool
	patterns []string
}

func newEventFilter(events []string) eventFilter {
	var patterns []string
	for _, evt := range events {
		if p := strings.TrimSpace(evt); p != "" {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{patterns: patterns}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	for _, p := range f.patterns {
		if ok, _ := path.Match(p, evt); ok {
			return true
		}
	}
	return false
}
