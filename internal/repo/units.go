package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lgalvao/sgc-sub001/internal/domain"
)

func scanUnit(scan func(...any) error) (domain.Unit, error) {
	var (
		u        domain.Unit
		superior sql.NullInt64
		titular  sql.NullString
	)
	if err := scan(&u.Codigo, &u.Sigla, &u.Nome, &superior, &titular); err != nil {
		if err == sql.ErrNoRows {
			return u, ErrNotFound
		}
		return u, err
	}
	u.SuperiorCodigo = intPtr(superior)
	u.Titular = titular.String
	return u, nil
}

// UpsertUnit stores organizational data; the engine only ever reads it.
func (r Repo) UpsertUnit(ctx context.Context, u domain.Unit) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO unidades(codigo,sigla,nome,superior_codigo,titular) VALUES (?,?,?,?,?)
ON CONFLICT(codigo) DO UPDATE SET sigla=excluded.sigla, nome=excluded.nome, superior_codigo=excluded.superior_codigo, titular=excluded.titular`,
		u.Codigo, strings.ToUpper(strings.TrimSpace(u.Sigla)), u.Nome, nullableInt(u.SuperiorCodigo), nullable(u.Titular))
	return err
}

func (r Repo) GetUnit(ctx context.Context, codigo int64) (domain.Unit, error) {
	return r.getUnit(ctx, r.DB, codigo)
}

func (r Repo) GetUnitTx(ctx context.Context, tx *sql.Tx, codigo int64) (domain.Unit, error) {
	return r.getUnit(ctx, tx, codigo)
}

func (r Repo) getUnit(ctx context.Context, q Querier, codigo int64) (domain.Unit, error) {
	return scanUnit(q.QueryRowContext(ctx, `SELECT codigo,sigla,nome,superior_codigo,titular FROM unidades WHERE codigo=?`, codigo).Scan)
}

func (r Repo) ListUnits(ctx context.Context) ([]domain.Unit, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT codigo,sigla,nome,superior_codigo,titular FROM unidades ORDER BY codigo`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Unit
	for rows.Next() {
		u, err := scanUnit(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// UnitHierarchy answers ancestry and responsibility questions over the unidades table.
// Q may be the database or the transaction the caller is already in.
type UnitHierarchy struct {
	Q Querier
}

// IsDescendant reports whether unit sits strictly below ancestor.
func (h UnitHierarchy) IsDescendant(ctx context.Context, unit, ancestor int64) (bool, error) {
	if unit == ancestor {
		return false, nil
	}
	var n int
	err := h.Q.QueryRowContext(ctx, `WITH RECURSIVE acima(codigo) AS (
  SELECT superior_codigo FROM unidades WHERE codigo=? AND superior_codigo IS NOT NULL
  UNION
  SELECT u.superior_codigo FROM unidades u JOIN acima a ON u.codigo=a.codigo WHERE u.superior_codigo IS NOT NULL
)
SELECT 1 FROM acima WHERE codigo=? LIMIT 1`, unit, ancestor).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// Responsible returns the unit's titular, falling back to the nearest ancestor that has one.
func (h UnitHierarchy) Responsible(ctx context.Context, unit int64) (domain.Responsible, error) {
	var nome string
	err := h.Q.QueryRowContext(ctx, `WITH RECURSIVE cadeia(codigo, superior, titular, nivel) AS (
  SELECT codigo, superior_codigo, titular, 0 FROM unidades WHERE codigo=?
  UNION
  SELECT u.codigo, u.superior_codigo, u.titular, c.nivel+1 FROM unidades u JOIN cadeia c ON u.codigo=c.superior WHERE c.nivel < 64
)
SELECT titular FROM cadeia WHERE titular IS NOT NULL AND titular<>'' ORDER BY nivel LIMIT 1`, unit).Scan(&nome)
	if err == sql.ErrNoRows {
		return domain.Responsible{}, ErrNotFound
	}
	if err != nil {
		return domain.Responsible{}, err
	}
	return domain.Responsible{Nome: nome}, nil
}
