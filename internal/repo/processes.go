package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lgalvao/sgc-sub001/internal/domain"
)

const processColumns = `codigo,descricao,tipo,situacao,data_criacao,data_limite,versao`

func scanProcess(scan func(...any) error) (domain.Process, error) {
	var (
		p              domain.Process
		criado, limite string
	)
	if err := scan(&p.Codigo, &p.Descricao, &p.Tipo, &p.Situacao, &criado, &limite, &p.Versao); err != nil {
		if err == sql.ErrNoRows {
			return p, ErrNotFound
		}
		return p, err
	}
	var err error
	if p.DataCriacao, err = parseTime(criado); err != nil {
		return p, fmt.Errorf("processo %d data_criacao: %w", p.Codigo, err)
	}
	if p.DataLimite, err = parseTime(limite); err != nil {
		return p, fmt.Errorf("processo %d data_limite: %w", p.Codigo, err)
	}
	return p, nil
}

// InsertProcessTx stores p with its participating units and returns the new codigo.
func (r Repo) InsertProcessTx(ctx context.Context, tx *sql.Tx, p domain.Process) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO processos(descricao,tipo,situacao,data_criacao,data_limite,versao) VALUES (?,?,?,?,?,1)`,
		p.Descricao, p.Tipo, p.Situacao, formatTime(p.DataCriacao), formatTime(p.DataLimite))
	if err != nil {
		return 0, err
	}
	codigo, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, u := range p.Unidades {
		if _, err := tx.ExecContext(ctx, `INSERT INTO processo_unidades(processo_codigo,unidade_codigo) VALUES (?,?)`, codigo, u); err != nil {
			return 0, fmt.Errorf("unidade %d: %w", u, err)
		}
	}
	return codigo, nil
}

func (r Repo) GetProcess(ctx context.Context, codigo int64) (domain.Process, error) {
	return r.getProcess(ctx, r.DB, codigo)
}

func (r Repo) GetProcessTx(ctx context.Context, tx *sql.Tx, codigo int64) (domain.Process, error) {
	return r.getProcess(ctx, tx, codigo)
}

func (r Repo) getProcess(ctx context.Context, q Querier, codigo int64) (domain.Process, error) {
	p, err := scanProcess(q.QueryRowContext(ctx, `SELECT `+processColumns+` FROM processos WHERE codigo=?`, codigo).Scan)
	if err != nil {
		return p, err
	}
	rows, err := q.QueryContext(ctx, `SELECT unidade_codigo FROM processo_unidades WHERE processo_codigo=? ORDER BY unidade_codigo`, codigo)
	if err != nil {
		return p, err
	}
	p.Unidades, err = collectInt64(rows)
	return p, err
}

func (r Repo) ListProcesses(ctx context.Context) ([]domain.Process, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+processColumns+` FROM processos ORDER BY codigo DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Process
	for rows.Next() {
		p, err := scanProcess(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProcessSituationTx moves the process to situacao if it is still at version versao.
func (r Repo) UpdateProcessSituationTx(ctx context.Context, tx *sql.Tx, codigo, versao int64, situacao domain.ProcessSituation) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE processos SET situacao=?, versao=versao+1 WHERE codigo=? AND versao=?`, situacao, codigo, versao)
	if err != nil {
		return 0, Classify(err, "processo", codigo)
	}
	if err := expectOne(res, "processo", codigo); err != nil {
		return 0, err
	}
	return versao + 1, nil
}
