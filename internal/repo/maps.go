package repo

import (
	"context"
	"database/sql"

	"github.com/lgalvao/sgc-sub001/internal/domain"
)

// InsertMapTx creates a map, owned by owner when it is non-nil.
func (r Repo) InsertMapTx(ctx context.Context, tx *sql.Tx, owner *int64, observacoes string) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO mapas(subprocesso_codigo,observacoes,versao) VALUES (?,?,1)`, nullableInt(owner), nullable(observacoes))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetMapTx(ctx context.Context, tx *sql.Tx, codigo int64) (domain.Map, error) {
	return getMap(ctx, tx, codigo)
}

func getMap(ctx context.Context, q Querier, codigo int64) (domain.Map, error) {
	var (
		m     domain.Map
		owner sql.NullInt64
		obs   sql.NullString
	)
	err := q.QueryRowContext(ctx, `SELECT codigo,subprocesso_codigo,observacoes,versao FROM mapas WHERE codigo=?`, codigo).
		Scan(&m.Codigo, &owner, &obs, &m.Versao)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.SubprocessoCodigo = intPtr(owner)
	m.Observacoes = obs.String
	return m, nil
}

// SetMapOwnerTx binds or (with owner nil) releases a map. The UNIQUE owner column rejects a second binding.
func (r Repo) SetMapOwnerTx(ctx context.Context, tx *sql.Tx, codigo, versao int64, owner *int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE mapas SET subprocesso_codigo=?, versao=versao+1 WHERE codigo=? AND versao=?`, nullableInt(owner), codigo, versao)
	if err != nil {
		return Classify(err, "mapa", codigo)
	}
	return expectOne(res, "mapa", codigo)
}

// TouchMapTx bumps the map version, optionally replacing the observations. Every graph edit goes through it.
func (r Repo) TouchMapTx(ctx context.Context, tx *sql.Tx, codigo, versao int64, observacoes *string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if observacoes != nil {
		res, err = tx.ExecContext(ctx, `UPDATE mapas SET observacoes=?, versao=versao+1 WHERE codigo=? AND versao=?`, nullable(*observacoes), codigo, versao)
	} else {
		res, err = tx.ExecContext(ctx, `UPDATE mapas SET versao=versao+1 WHERE codigo=? AND versao=?`, codigo, versao)
	}
	if err != nil {
		return 0, Classify(err, "mapa", codigo)
	}
	if err := expectOne(res, "mapa", codigo); err != nil {
		return 0, err
	}
	return versao + 1, nil
}

// DeleteMapTx removes the map; activities, knowledge, competencies and links go with it.
func (r Repo) DeleteMapTx(ctx context.Context, tx *sql.Tx, codigo int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM mapas WHERE codigo=?`, codigo)
	if err != nil {
		return Classify(err, "mapa", codigo)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertActivityTx(ctx context.Context, tx *sql.Tx, mapa int64, descricao string) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO atividades(mapa_codigo,descricao) VALUES (?,?)`, mapa, descricao)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) RenameActivityTx(ctx context.Context, tx *sql.Tx, mapa, codigo int64, descricao string) error {
	return execScoped(ctx, tx, `UPDATE atividades SET descricao=? WHERE codigo=? AND mapa_codigo=?`, descricao, codigo, mapa)
}

func (r Repo) DeleteActivityTx(ctx context.Context, tx *sql.Tx, mapa, codigo int64) error {
	return execScoped(ctx, tx, `DELETE FROM atividades WHERE codigo=? AND mapa_codigo=?`, codigo, mapa)
}

func (r Repo) InsertKnowledgeTx(ctx context.Context, tx *sql.Tx, atividade int64, descricao string) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO conhecimentos(atividade_codigo,descricao) VALUES (?,?)`, atividade, descricao)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) DeleteKnowledgeTx(ctx context.Context, tx *sql.Tx, atividade, codigo int64) error {
	return execScoped(ctx, tx, `DELETE FROM conhecimentos WHERE codigo=? AND atividade_codigo=?`, codigo, atividade)
}

func (r Repo) InsertCompetencyTx(ctx context.Context, tx *sql.Tx, mapa int64, descricao string) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO competencias(mapa_codigo,descricao) VALUES (?,?)`, mapa, descricao)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) RenameCompetencyTx(ctx context.Context, tx *sql.Tx, mapa, codigo int64, descricao string) error {
	return execScoped(ctx, tx, `UPDATE competencias SET descricao=? WHERE codigo=? AND mapa_codigo=?`, descricao, codigo, mapa)
}

func (r Repo) DeleteCompetencyTx(ctx context.Context, tx *sql.Tx, mapa, codigo int64) error {
	return execScoped(ctx, tx, `DELETE FROM competencias WHERE codigo=? AND mapa_codigo=?`, codigo, mapa)
}

// ReplaceCompetencyLinksTx sets the exact activity set linked to a competency.
func (r Repo) ReplaceCompetencyLinksTx(ctx context.Context, tx *sql.Tx, competencia int64, atividades []int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM competencia_atividades WHERE competencia_codigo=?`, competencia); err != nil {
		return err
	}
	for _, a := range atividades {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO competencia_atividades(competencia_codigo,atividade_codigo) VALUES (?,?)`, competencia, a); err != nil {
			return err
		}
	}
	return nil
}

// execScoped runs a single-row statement scoped to its parent and reports a missing row as ErrNotFound.
func execScoped(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) LoadGraph(ctx context.Context, mapa int64) (domain.MapGraph, error) {
	return loadGraph(ctx, r.DB, mapa)
}

// LoadGraphTx reads the map, its activities with knowledge and its competencies with links as one snapshot.
func (r Repo) LoadGraphTx(ctx context.Context, tx *sql.Tx, mapa int64) (domain.MapGraph, error) {
	return loadGraph(ctx, tx, mapa)
}

func loadGraph(ctx context.Context, q Querier, mapa int64) (domain.MapGraph, error) {
	m, err := getMap(ctx, q, mapa)
	if err != nil {
		return domain.MapGraph{}, err
	}
	g := domain.MapGraph{Map: m, Activities: []domain.Activity{}, Competencies: []domain.Competency{}}

	rows, err := q.QueryContext(ctx, `SELECT codigo,mapa_codigo,descricao FROM atividades WHERE mapa_codigo=? ORDER BY codigo`, mapa)
	if err != nil {
		return g, err
	}
	index := map[int64]int{}
	for rows.Next() {
		a := domain.Activity{Conhecimentos: []domain.Knowledge{}}
		if err := rows.Scan(&a.Codigo, &a.MapaCodigo, &a.Descricao); err != nil {
			rows.Close()
			return g, err
		}
		index[a.Codigo] = len(g.Activities)
		g.Activities = append(g.Activities, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return g, err
	}

	rows, err = q.QueryContext(ctx, `SELECT c.codigo,c.atividade_codigo,c.descricao FROM conhecimentos c
JOIN atividades a ON a.codigo=c.atividade_codigo WHERE a.mapa_codigo=? ORDER BY c.codigo`, mapa)
	if err != nil {
		return g, err
	}
	for rows.Next() {
		var k domain.Knowledge
		if err := rows.Scan(&k.Codigo, &k.AtividadeCodigo, &k.Descricao); err != nil {
			rows.Close()
			return g, err
		}
		if i, ok := index[k.AtividadeCodigo]; ok {
			g.Activities[i].Conhecimentos = append(g.Activities[i].Conhecimentos, k)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return g, err
	}

	rows, err = q.QueryContext(ctx, `SELECT codigo,mapa_codigo,descricao FROM competencias WHERE mapa_codigo=? ORDER BY codigo`, mapa)
	if err != nil {
		return g, err
	}
	cindex := map[int64]int{}
	for rows.Next() {
		c := domain.Competency{Atividades: []int64{}}
		if err := rows.Scan(&c.Codigo, &c.MapaCodigo, &c.Descricao); err != nil {
			rows.Close()
			return g, err
		}
		cindex[c.Codigo] = len(g.Competencies)
		g.Competencies = append(g.Competencies, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return g, err
	}

	rows, err = q.QueryContext(ctx, `SELECT l.competencia_codigo,l.atividade_codigo FROM competencia_atividades l
JOIN competencias c ON c.codigo=l.competencia_codigo WHERE c.mapa_codigo=? ORDER BY l.competencia_codigo,l.atividade_codigo`, mapa)
	if err != nil {
		return g, err
	}
	defer rows.Close()
	for rows.Next() {
		var comp, ativ int64
		if err := rows.Scan(&comp, &ativ); err != nil {
			return g, err
		}
		if i, ok := cindex[comp]; ok {
			g.Competencies[i].Atividades = append(g.Competencies[i].Atividades, ativ)
		}
	}
	return g, rows.Err()
}
