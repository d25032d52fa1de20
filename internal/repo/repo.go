package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/lgalvao/sgc-sub001/internal/domain"
)

// Repo is the SQL persistence layer. Methods suffixed Tx run inside the caller's transaction.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = domain.ErrNotFound

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const timeLayout = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// IsBusy reports whether err is a sqlite lock conflict that outlived the busy timeout.
func IsBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// Classify turns storage lock conflicts into *domain.ConcurrencyError and leaves other errors alone.
func Classify(err error, entity string, codigo int64) error {
	if err == nil {
		return nil
	}
	if IsBusy(err) {
		return &domain.ConcurrencyError{Entity: entity, Codigo: codigo}
	}
	return err
}

func expectOne(res sql.Result, entity string, codigo int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.ConcurrencyError{Entity: entity, Codigo: codigo}
	}
	return nil
}

func collectInt64(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
