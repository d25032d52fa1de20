package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lgalvao/sgc-sub001/internal/domain"
)

const subprocessSelect = `SELECT s.codigo,s.processo_codigo,s.unidade_codigo,s.situacao,s.data_limite_etapa1,s.versao,m.codigo
FROM subprocessos s LEFT JOIN mapas m ON m.subprocesso_codigo=s.codigo`

func scanSubprocess(scan func(...any) error) (domain.Subprocess, error) {
	var (
		s      domain.Subprocess
		limite string
		mapa   sql.NullInt64
	)
	if err := scan(&s.Codigo, &s.ProcessoCodigo, &s.UnidadeCodigo, &s.Situacao, &limite, &s.Versao, &mapa); err != nil {
		if err == sql.ErrNoRows {
			return s, ErrNotFound
		}
		return s, err
	}
	t, err := parseTime(limite)
	if err != nil {
		return s, fmt.Errorf("subprocesso %d data_limite_etapa1: %w", s.Codigo, err)
	}
	s.DataLimiteEtapa1 = t
	s.MapaCodigo = intPtr(mapa)
	return s, nil
}

func querySubprocesses(ctx context.Context, q Querier, where string, args ...any) ([]domain.Subprocess, error) {
	rows, err := q.QueryContext(ctx, subprocessSelect+` `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Subprocess
	for rows.Next() {
		s, err := scanSubprocess(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) InsertSubprocessTx(ctx context.Context, tx *sql.Tx, s domain.Subprocess) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO subprocessos(processo_codigo,unidade_codigo,situacao,data_limite_etapa1,versao) VALUES (?,?,?,?,1)`,
		s.ProcessoCodigo, s.UnidadeCodigo, s.Situacao, formatTime(s.DataLimiteEtapa1))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetSubprocess(ctx context.Context, codigo int64) (domain.Subprocess, error) {
	return scanSubprocess(r.DB.QueryRowContext(ctx, subprocessSelect+` WHERE s.codigo=?`, codigo).Scan)
}

func (r Repo) GetSubprocessTx(ctx context.Context, tx *sql.Tx, codigo int64) (domain.Subprocess, error) {
	return scanSubprocess(tx.QueryRowContext(ctx, subprocessSelect+` WHERE s.codigo=?`, codigo).Scan)
}

func (r Repo) ListSubprocessesByProcess(ctx context.Context, processo int64) ([]domain.Subprocess, error) {
	return querySubprocesses(ctx, r.DB, `WHERE s.processo_codigo=? ORDER BY s.codigo`, processo)
}

func (r Repo) ListSubprocessesByProcessTx(ctx context.Context, tx *sql.Tx, processo int64) ([]domain.Subprocess, error) {
	return querySubprocesses(ctx, tx, `WHERE s.processo_codigo=? ORDER BY s.codigo`, processo)
}

// FindSubprocessByMapCode returns the owner of a map.
func (r Repo) FindSubprocessByMapCode(ctx context.Context, mapa int64) (domain.Subprocess, error) {
	return scanSubprocess(r.DB.QueryRowContext(ctx, subprocessSelect+` WHERE m.codigo=?`, mapa).Scan)
}

func (r Repo) FindSubprocessByMapCodeTx(ctx context.Context, tx *sql.Tx, mapa int64) (domain.Subprocess, error) {
	return scanSubprocess(tx.QueryRowContext(ctx, subprocessSelect+` WHERE m.codigo=?`, mapa).Scan)
}

func (r Repo) FindSubprocessByProcessAndUnitSigla(ctx context.Context, processo int64, sigla string) (domain.Subprocess, error) {
	return scanSubprocess(r.DB.QueryRowContext(ctx, subprocessSelect+`
JOIN unidades u ON u.codigo=s.unidade_codigo
WHERE s.processo_codigo=? AND u.sigla=?`, processo, strings.ToUpper(strings.TrimSpace(sigla))).Scan)
}

// UpdateSubprocessTx writes situation and deadline, guarded by s.Versao, and returns the row at its new version.
func (r Repo) UpdateSubprocessTx(ctx context.Context, tx *sql.Tx, s domain.Subprocess) (domain.Subprocess, error) {
	res, err := tx.ExecContext(ctx, `UPDATE subprocessos SET situacao=?, data_limite_etapa1=?, versao=versao+1 WHERE codigo=? AND versao=?`,
		s.Situacao, formatTime(s.DataLimiteEtapa1), s.Codigo, s.Versao)
	if err != nil {
		return s, Classify(err, "subprocesso", s.Codigo)
	}
	if err := expectOne(res, "subprocesso", s.Codigo); err != nil {
		return s, err
	}
	s.Versao++
	return s, nil
}

func (r Repo) DeleteSubprocessTx(ctx context.Context, tx *sql.Tx, codigo, versao int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM subprocessos WHERE codigo=? AND versao=?`, codigo, versao)
	if err != nil {
		return Classify(err, "subprocesso", codigo)
	}
	return expectOne(res, "subprocesso", codigo)
}

// LastMapOfUnitTx returns the map of the unit's most recent subprocess that reached one of the given situations.
func (r Repo) LastMapOfUnitTx(ctx context.Context, tx *sql.Tx, unidade int64, situacoes ...domain.Situation) (int64, error) {
	if len(situacoes) == 0 {
		return 0, ErrNotFound
	}
	args := []any{unidade}
	marks := make([]string, len(situacoes))
	for i, s := range situacoes {
		marks[i] = "?"
		args = append(args, s)
	}
	var mapa int64
	err := tx.QueryRowContext(ctx, `SELECT m.codigo FROM subprocessos s JOIN mapas m ON m.subprocesso_codigo=s.codigo
WHERE s.unidade_codigo=? AND s.situacao IN (`+strings.Join(marks, ",")+`) ORDER BY s.codigo DESC LIMIT 1`, args...).Scan(&mapa)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return mapa, err
}
