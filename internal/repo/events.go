package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lgalvao/sgc-sub001/internal/domain"
)

type EventFilter struct {
	Processo     int64
	Type         string
	EntityKind   string
	EntityCodigo int64
	Limit        int
}

// LatestEvents returns the newest events first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Processo != 0 {
		clauses = append(clauses, "processo_codigo=?")
		args = append(args, f.Processo)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityCodigo != 0 {
		clauses = append(clauses, "entity_codigo=?")
		args = append(args, f.EntityCodigo)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT id,uuid,ts,type,processo_codigo,entity_kind,entity_codigo,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var (
			e              domain.Event
			ts             string
			proc, entidade sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.UUID, &ts, &e.Type, &proc, &e.EntityKind, &entidade, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		if e.TS, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("event %d ts: %w", e.ID, err)
		}
		e.ProcessCodigo = proc.Int64
		e.EntityCodigo = entidade.Int64
		res = append(res, e)
	}
	return res, rows.Err()
}

// CountSubprocessesBySituation feeds the per-situation gauge.
func (r Repo) CountSubprocessesBySituation(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT situacao, count(*) FROM subprocessos GROUP BY situacao`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var (
			situacao string
			n        int
		)
		if err := rows.Scan(&situacao, &n); err != nil {
			return nil, err
		}
		res[situacao] = n
	}
	return res, rows.Err()
}
