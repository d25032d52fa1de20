package events

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lgalvao/sgc-sub001/internal/domain"
)

// Sink receives committed events. Emit may be called more than once for the same event;
// Event.UUID is the idempotency key.
type Sink interface {
	Emit(ctx context.Context, evt domain.Event) error
}

// Named sinks label their failures in logs and metrics.
type Named interface {
	Name() string
}

// SinkName returns the sink's label.
func SinkName(s Sink) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}

// LogSink writes every event to a zap logger at debug level.
type LogSink struct {
	Log *zap.SugaredLogger
}

func (s LogSink) Name() string { return "log" }

func (s LogSink) Emit(_ context.Context, evt domain.Event) error {
	if s.Log == nil {
		return nil
	}
	s.Log.Debugw("evento", "tipo", evt.Type, "uuid", evt.UUID, "entidade", evt.EntityKind, "codigo", evt.EntityCodigo, "ator", evt.ActorID)
	return nil
}

// MultiSink fans out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Name() string { return "multi" }

func (m MultiSink) Emit(ctx context.Context, evt domain.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", SinkName(s), err))
		}
	}
	return errors.Join(errs...)
}

// Each returns the leaf sinks, so callers can report failures per sink.
func (m MultiSink) Each() []Sink {
	var out []Sink
	for _, s := range m {
		if inner, ok := s.(MultiSink); ok {
			out = append(out, inner.Each()...)
			continue
		}
		out = append(out, s)
	}
	return out
}
