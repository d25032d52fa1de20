package auth

import (
	"context"
	"fmt"

	"github.com/lgalvao/sgc-sub001/internal/domain"
)

// Operation is the kind of access the caller wants on a subprocess.
type Operation string

const (
	OpRead   Operation = "LER"
	OpWrite  Operation = "ALTERAR"
	OpUpdate Operation = "ATUALIZAR"
	OpDelete Operation = "EXCLUIR"
)

func (o Operation) adminOnly() bool {
	return o == OpUpdate || o == OpDelete
}

// DeniedReason is returned for every scope denial so a missing subprocess and a foreign one look the same.
const DeniedReason = "usuário sem permissão para acessar este subprocesso"

// Hierarchy answers unit ancestry questions. A unit is not its own descendant.
type Hierarchy interface {
	IsDescendant(ctx context.Context, unit, ancestor int64) (bool, error)
}

type Decision struct {
	Granted bool
	Reason  string
	// NotFound is only ever set for ADMIN callers.
	NotFound bool
}

func (d Decision) Err() error {
	switch {
	case d.Granted:
		return nil
	case d.NotFound:
		return &domain.NotFoundError{Entity: "subprocesso"}
	default:
		return &domain.AccessDeniedError{Reason: d.Reason}
	}
}

func granted() Decision { return Decision{Granted: true} }

func denied(reason string) Decision { return Decision{Reason: reason} }

// Guard is the single place where actor scope is decided. It never looks at situations;
// that is the state machine's job.
type Guard struct {
	Units Hierarchy
}

// Authorize decides whether actor may perform op on target. A nil target means the
// subprocess does not exist.
func (g Guard) Authorize(ctx context.Context, actor domain.Actor, target *domain.Subprocess, op Operation) (Decision, error) {
	if actor.Perfil.Rank() == 0 {
		return denied(fmt.Sprintf("perfil %q desconhecido", actor.Perfil)), nil
	}
	if actor.Perfil == domain.RoleAdmin {
		if target == nil {
			return Decision{NotFound: true, Reason: "subprocesso não encontrado"}, nil
		}
		return granted(), nil
	}
	if target == nil {
		return denied(DeniedReason), nil
	}
	// Out of scope reads exactly like missing.
	ok, err := g.visible(ctx, actor, target.UnidadeCodigo)
	if err != nil {
		return Decision{}, fmt.Errorf("hierarquia de unidades: %w", err)
	}
	if !ok {
		return denied(DeniedReason), nil
	}
	if op.adminOnly() {
		return denied(fmt.Sprintf("apenas ADMIN pode executar %s", op)), nil
	}
	if actor.Perfil == domain.RoleServidor && op != OpRead {
		return denied(fmt.Sprintf("perfil %s possui acesso somente de leitura", actor.Perfil)), nil
	}
	return granted(), nil
}

// visible reports whether a non-ADMIN actor sees subprocesses of targetUnit. SERVIDOR sees only
// its own unit; GESTOR and CHEFE also see the units below theirs.
func (g Guard) visible(ctx context.Context, actor domain.Actor, targetUnit int64) (bool, error) {
	if actor.Perfil == domain.RoleServidor {
		return targetUnit == actor.UnidadeCodigo, nil
	}
	return g.inScope(ctx, actor.UnidadeCodigo, targetUnit)
}

// AuthorizeAdmin is used for process level operations that carry no subprocess target.
func (g Guard) AuthorizeAdmin(actor domain.Actor, what string) Decision {
	if actor.Perfil == domain.RoleAdmin {
		return granted()
	}
	return denied(fmt.Sprintf("apenas ADMIN pode %s", what))
}

func (g Guard) inScope(ctx context.Context, actorUnit, targetUnit int64) (bool, error) {
	if actorUnit == targetUnit {
		return true, nil
	}
	if g.Units == nil {
		return false, nil
	}
	return g.Units.IsDescendant(ctx, targetUnit, actorUnit)
}
