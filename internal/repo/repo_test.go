package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/lgalvao/sgc-sub001/internal/db"
	"github.com/lgalvao/sgc-sub001/internal/domain"
	"github.com/lgalvao/sgc-sub001/internal/migrate"
	"github.com/lgalvao/sgc-sub001/internal/repo"
)

func openRepo(t *testing.T) (*sql.DB, repo.Repo) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn, repo.Repo{DB: conn}
}

func ptr(v int64) *int64 { return &v }

func seedUnits(t *testing.T, r repo.Repo) {
	t.Helper()
	ctx := context.Background()
	for _, u := range []domain.Unit{
		{Codigo: 1, Sigla: "sedoc", Nome: "Secretaria", Titular: "Ana"},
		{Codigo: 2, Sigla: "COORD", Nome: "Coordenadoria", SuperiorCodigo: ptr(1)},
		{Codigo: 3, Sigla: "SECAO", Nome: "Seção", SuperiorCodigo: ptr(2), Titular: "Caio"},
		{Codigo: 4, Sigla: "OUTRA", Nome: "Outra", SuperiorCodigo: ptr(1)},
	} {
		if err := r.UpsertUnit(ctx, u); err != nil {
			t.Fatalf("unit %d: %v", u.Codigo, err)
		}
	}
}

// seedSubprocess creates an EM_ANDAMENTO process with one subprocess per unit and returns the subprocess codes.
func seedSubprocess(t *testing.T, conn *sql.DB, r repo.Repo, units ...int64) (int64, []int64) {
	t.Helper()
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	proc, err := r.InsertProcessTx(ctx, tx, domain.Process{
		Descricao:   "Mapeamento",
		Tipo:        domain.ProcessMapeamento,
		Situacao:    domain.ProcessEmAndamento,
		DataCriacao: now,
		DataLimite:  now.AddDate(0, 2, 0),
		Unidades:    units,
	})
	if err != nil {
		t.Fatalf("insert process: %v", err)
	}
	var subs []int64
	for _, u := range units {
		id, err := r.InsertSubprocessTx(ctx, tx, domain.Subprocess{
			ProcessoCodigo:   proc,
			UnidadeCodigo:    u,
			Situacao:         domain.NaoIniciado,
			DataLimiteEtapa1: now.AddDate(0, 1, 0),
		})
		if err != nil {
			t.Fatalf("insert subprocess: %v", err)
		}
		subs = append(subs, id)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return proc, subs
}

func TestUnitHierarchy(t *testing.T) {
	conn, r := openRepo(t)
	seedUnits(t, r)
	ctx := context.Background()
	h := repo.UnitHierarchy{Q: conn}

	cases := []struct {
		unit, ancestor int64
		want           bool
	}{
		{3, 1, true},
		{3, 2, true},
		{2, 1, true},
		{1, 3, false},
		{3, 3, false},
		{4, 2, false},
	}
	for _, c := range cases {
		got, err := h.IsDescendant(ctx, c.unit, c.ancestor)
		if err != nil {
			t.Fatalf("IsDescendant(%d,%d): %v", c.unit, c.ancestor, err)
		}
		if got != c.want {
			t.Fatalf("IsDescendant(%d,%d) = %v, want %v", c.unit, c.ancestor, got, c.want)
		}
	}

	resp, err := h.Responsible(ctx, 2)
	if err != nil {
		t.Fatalf("responsible: %v", err)
	}
	if resp.Nome != "Ana" {
		t.Fatalf("responsible of COORD should fall back to SEDOC, got %q", resp.Nome)
	}
	resp, err = h.Responsible(ctx, 3)
	if err != nil || resp.Nome != "Caio" {
		t.Fatalf("responsible of SECAO: %v %q", err, resp.Nome)
	}
	if _, err := h.Responsible(ctx, 99); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for unknown unit, got %v", err)
	}

	u, err := r.GetUnit(ctx, 1)
	if err != nil {
		t.Fatalf("get unit: %v", err)
	}
	if u.Sigla != "SEDOC" {
		t.Fatalf("sigla should be stored upper case, got %q", u.Sigla)
	}
}

func TestMapOwnershipIsExclusive(t *testing.T) {
	conn, r := openRepo(t)
	seedUnits(t, r)
	_, subs := seedSubprocess(t, conn, r, 2, 3)
	ctx := context.Background()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	mapa, err := r.InsertMapTx(ctx, tx, &subs[0], "")
	if err != nil {
		t.Fatalf("insert map: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	owner, err := r.FindSubprocessByMapCode(ctx, mapa)
	if err != nil {
		t.Fatalf("find owner: %v", err)
	}
	if owner.Codigo != subs[0] || owner.MapaCodigo == nil || *owner.MapaCodigo != mapa {
		t.Fatalf("unexpected owner %+v", owner)
	}

	tx, err = conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if _, err := r.InsertMapTx(ctx, tx, &subs[0], ""); err == nil {
		t.Fatalf("a second map for the same subprocess should violate the owner constraint")
	}
}

func TestVersionedWrites(t *testing.T) {
	conn, r := openRepo(t)
	seedUnits(t, r)
	_, subs := seedSubprocess(t, conn, r, 2)
	ctx := context.Background()

	sp, err := r.GetSubprocess(ctx, subs[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	stale := sp

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	sp.Situacao = domain.MapeamentoCadastroEmAndamento
	sp, err = r.UpdateSubprocessTx(ctx, tx, sp)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if sp.Versao != stale.Versao+1 {
		t.Fatalf("version should advance, got %d", sp.Versao)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx, err = conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	stale.Situacao = domain.MapeamentoCadastroDisponibilizado
	_, err = r.UpdateSubprocessTx(ctx, tx, stale)
	if !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("expected concurrency error for stale version, got %v", err)
	}
	if err := r.DeleteSubprocessTx(ctx, tx, stale.Codigo, stale.Versao); !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("expected concurrency error for stale delete, got %v", err)
	}
}

func TestFindSubprocessByProcessAndUnitSigla(t *testing.T) {
	conn, r := openRepo(t)
	seedUnits(t, r)
	proc, subs := seedSubprocess(t, conn, r, 2, 3)
	ctx := context.Background()

	sp, err := r.FindSubprocessByProcessAndUnitSigla(ctx, proc, " secao ")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if sp.Codigo != subs[1] {
		t.Fatalf("expected subprocess %d, got %d", subs[1], sp.Codigo)
	}
	if _, err := r.FindSubprocessByProcessAndUnitSigla(ctx, proc, "OUTRA"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for non participant, got %v", err)
	}

	list, err := r.ListSubprocessesByProcess(ctx, proc)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 subprocesses, got %d", len(list))
	}
	counts, err := r.CountSubprocessesBySituation(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[string(domain.NaoIniciado)] != 2 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestLoadGraphAndDeleteMap(t *testing.T) {
	conn, r := openRepo(t)
	seedUnits(t, r)
	_, subs := seedSubprocess(t, conn, r, 2)
	ctx := context.Background()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	mapa, err := r.InsertMapTx(ctx, tx, &subs[0], "")
	if err != nil {
		t.Fatalf("insert map: %v", err)
	}
	a1, _ := r.InsertActivityTx(ctx, tx, mapa, "Elaborar pareceres")
	a2, _ := r.InsertActivityTx(ctx, tx, mapa, "Atender ao público")
	if _, err := r.InsertKnowledgeTx(ctx, tx, a1, "Direito administrativo"); err != nil {
		t.Fatalf("insert knowledge: %v", err)
	}
	c, err := r.InsertCompetencyTx(ctx, tx, mapa, "Redação técnica")
	if err != nil {
		t.Fatalf("insert competency: %v", err)
	}
	if err := r.ReplaceCompetencyLinksTx(ctx, tx, c, []int64{a2, a1}); err != nil {
		t.Fatalf("links: %v", err)
	}

	g, err := r.LoadGraphTx(ctx, tx, mapa)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(g.Activities) != 2 || len(g.Activities[0].Conhecimentos) != 1 || len(g.Activities[1].Conhecimentos) != 0 {
		t.Fatalf("unexpected activities %+v", g.Activities)
	}
	comp, ok := g.Competency(c)
	if !ok || len(comp.Atividades) != 2 || comp.Atividades[0] != a1 {
		t.Fatalf("unexpected competency %+v", comp)
	}

	if err := r.DeleteMapTx(ctx, tx, mapa); err != nil {
		t.Fatalf("delete map: %v", err)
	}
	if _, err := r.LoadGraphTx(ctx, tx, mapa); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	var left int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM atividades`).Scan(&left); err != nil {
		t.Fatalf("count: %v", err)
	}
	if left != 0 {
		t.Fatalf("activities should go with their map, %d left", left)
	}
}
