package domain

import "strings"

// Role is the actor's active profile. Ranked ADMIN > GESTOR > CHEFE > SERVIDOR.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleGestor   Role = "GESTOR"
	RoleChefe    Role = "CHEFE"
	RoleServidor Role = "SERVIDOR"
)

func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	return r, r.Rank() > 0
}

func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 4
	case RoleGestor:
		return 3
	case RoleChefe:
		return 2
	case RoleServidor:
		return 1
	}
	return 0
}

func (r Role) AtLeast(other Role) bool {
	return r.Rank() >= other.Rank() && r.Rank() > 0
}

// Actor is the already authenticated caller: voter id, active profile and active unit.
type Actor struct {
	TituloEleitoral string `json:"tituloEleitoral"`
	Perfil          Role   `json:"perfil"`
	UnidadeCodigo   int64  `json:"unidadeCodigo"`
}

func (a Actor) ID() string {
	return a.TituloEleitoral
}
