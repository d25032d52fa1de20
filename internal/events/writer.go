package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lgalvao/sgc-sub001/internal/domain"
)

// Writer appends events to the outbox table inside the caller's transaction.
type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Append stores the event and returns it with its id and uuid filled, ready for the sinks once the
// transaction commits.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType string, processo int64, entityKind string, entityCodigo int64, actorID string, payload Payload) (domain.Event, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	evt := domain.Event{
		UUID:          uuid.NewString(),
		TS:            now().UTC().Truncate(time.Second),
		Type:          evtType,
		ProcessCodigo: processo,
		EntityKind:    entityKind,
		EntityCodigo:  entityCodigo,
		ActorID:       actorID,
		Payload:       string(data),
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(uuid,ts,type,processo_codigo,entity_kind,entity_codigo,actor_id,payload_json) VALUES (?,?,?,?,?,?,?,?)`,
		evt.UUID, evt.TS.Format(time.RFC3339), evt.Type, nullableID(processo), evt.EntityKind, nullableID(entityCodigo), evt.ActorID, evt.Payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("append event %s: %w", evtType, err)
	}
	if evt.ID, err = res.LastInsertId(); err != nil {
		return domain.Event{}, err
	}
	return evt, nil
}

func nullableID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
