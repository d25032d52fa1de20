// Package lifecycle holds the subprocess situation state machine.
//
// The graph is an explicit table of (process type, from, action) -> (to, roles, checks, event).
// Every situation change in the engine goes through Machine.CanTransition and Machine.Apply;
// nothing else computes a next situation.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/looplab/fsm"

	"github.com/lgalvao/sgc-sub001/internal/domain"
)

// Transition is one declared edge of the graph.
type Transition struct {
	ProcessType domain.ProcessType
	From        []domain.Situation
	Action      Action
	To          domain.Situation
	Roles       []domain.Role
	Checks      []Check
	// Event is the outbox event type emitted once the transition commits.
	Event string
}

func (t Transition) Permits(role domain.Role) bool {
	for _, r := range t.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (t Transition) leaves(s domain.Situation) bool {
	for _, f := range t.From {
		if f == s {
			return true
		}
	}
	return false
}

// Decision is the answer to "may this actor perform this action now".
type Decision struct {
	Allowed bool
	Reason  string
	// NoOp is set when the subprocess already sits at the action's destination.
	NoOp bool
	// RoleDenied distinguishes a missing permission from an undeclared edge.
	RoleDenied bool
	Transition Transition
}

// Err maps a denied decision onto the error taxonomy: a role problem is an access denial,
// anything else is an invalid transition.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.RoleDenied {
		return &domain.AccessDeniedError{Reason: d.Reason}
	}
	return domain.NewValidationError(domain.KindTransicaoInvalida, "%s", d.Reason)
}

type edgeKey struct {
	pt     domain.ProcessType
	from   domain.Situation
	action Action
}

type Machine struct {
	table      []Transition
	edges      map[edgeKey]Transition
	events     map[domain.ProcessType][]fsm.EventDesc
	situations map[domain.ProcessType]map[domain.Situation]bool
	terminal   map[domain.ProcessType]map[domain.Situation]bool
}

// NewMachine validates the table and indexes it.
func NewMachine(table []Transition) (*Machine, error) {
	m := &Machine{
		table:      table,
		edges:      make(map[edgeKey]Transition),
		events:     make(map[domain.ProcessType][]fsm.EventDesc),
		situations: make(map[domain.ProcessType]map[domain.Situation]bool),
		terminal:   make(map[domain.ProcessType]map[domain.Situation]bool),
	}
	for pt, list := range situations {
		m.situations[pt] = toSet(list)
	}
	for pt, list := range terminals {
		m.terminal[pt] = toSet(list)
	}
	for i, t := range table {
		if !t.ProcessType.Valid() {
			return nil, fmt.Errorf("transition %d: unknown process type %q", i, t.ProcessType)
		}
		if t.Action == "" || len(t.From) == 0 {
			return nil, fmt.Errorf("transition %d: action and from situations are required", i)
		}
		if len(t.Roles) == 0 {
			return nil, fmt.Errorf("transition %d (%s): no role may perform it", i, t.Action)
		}
		if !m.ValidFor(t.ProcessType, t.To) {
			return nil, fmt.Errorf("transition %d (%s): %s is not a %s situation", i, t.Action, t.To, t.ProcessType)
		}
		src := make([]string, 0, len(t.From))
		for _, f := range t.From {
			if !m.ValidFor(t.ProcessType, f) {
				return nil, fmt.Errorf("transition %d (%s): %s is not a %s situation", i, t.Action, f, t.ProcessType)
			}
			if m.IsTerminal(t.ProcessType, f) {
				return nil, fmt.Errorf("transition %d (%s): terminal situation %s has outbound edge", i, t.Action, f)
			}
			if f == t.To {
				return nil, fmt.Errorf("transition %d (%s): self edge on %s", i, t.Action, f)
			}
			key := edgeKey{pt: t.ProcessType, from: f, action: t.Action}
			if _, dup := m.edges[key]; dup {
				return nil, fmt.Errorf("transition %d: duplicate edge %s --%s-->", i, f, t.Action)
			}
			m.edges[key] = t
			src = append(src, string(f))
		}
		m.events[t.ProcessType] = append(m.events[t.ProcessType], fsm.EventDesc{
			Name: string(t.Action),
			Src:  src,
			Dst:  string(t.To),
		})
	}
	return m, nil
}

// Default returns the machine over DefaultTable. It panics only if the built-in table is broken.
func Default() *Machine {
	m, err := NewMachine(DefaultTable())
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Machine) ValidFor(pt domain.ProcessType, s domain.Situation) bool {
	return m.situations[pt][s]
}

func (m *Machine) IsTerminal(pt domain.ProcessType, s domain.Situation) bool {
	return m.terminal[pt][s]
}

// Lookup returns the edge leaving current through action, if declared.
func (m *Machine) Lookup(pt domain.ProcessType, current domain.Situation, action Action) (Transition, bool) {
	t, ok := m.edges[edgeKey{pt: pt, from: current, action: action}]
	return t, ok
}

// arrivedVia returns the edge through which action would have led to current.
func (m *Machine) arrivedVia(pt domain.ProcessType, current domain.Situation, action Action) (Transition, bool) {
	for _, t := range m.table {
		if t.ProcessType == pt && t.Action == action && t.To == current {
			return t, true
		}
	}
	return Transition{}, false
}

// CanTransition decides whether role may perform action on a subprocess of type pt sitting at current.
func (m *Machine) CanTransition(pt domain.ProcessType, current domain.Situation, action Action, role domain.Role) Decision {
	if !m.ValidFor(pt, current) {
		return Decision{Reason: fmt.Sprintf("situação %s não é válida para processos do tipo %s", current, pt)}
	}
	t, ok := m.Lookup(pt, current, action)
	noop := false
	if !ok {
		t, ok = m.arrivedVia(pt, current, action)
		noop = ok
	}
	if !ok {
		if m.IsTerminal(pt, current) {
			return Decision{Reason: fmt.Sprintf("subprocesso já está na situação final %s", current)}
		}
		return Decision{Reason: fmt.Sprintf("ação %s não permitida na situação %s", action, current)}
	}
	if !t.Permits(role) {
		return Decision{
			Reason:     fmt.Sprintf("perfil %s não pode executar %s", role, action),
			RoleDenied: true,
			Transition: t,
		}
	}
	d := Decision{Allowed: true, NoOp: noop, Transition: t}
	if noop {
		d.Reason = fmt.Sprintf("situação %s já aplicada", current)
	}
	return d
}

// Apply computes the situation after action. Re-applying an action whose destination is
// already current succeeds without change, so retried commands are harmless.
func (m *Machine) Apply(ctx context.Context, pt domain.ProcessType, current domain.Situation, action Action) (domain.Situation, bool, error) {
	if !m.ValidFor(pt, current) {
		return current, false, domain.NewValidationError(domain.KindEstadoInvalido, "situação %s não é válida para processos do tipo %s", current, pt)
	}
	if _, forward := m.Lookup(pt, current, action); !forward {
		if _, done := m.arrivedVia(pt, current, action); done {
			return current, false, nil
		}
	}
	machine := fsm.NewFSM(string(current), m.events[pt], fsm.Callbacks{})
	if err := machine.Event(ctx, string(action)); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return current, false, nil
		}
		return current, false, domain.NewValidationError(domain.KindTransicaoInvalida, "ação %s não permitida na situação %s", action, current)
	}
	return domain.Situation(machine.Current()), true, nil
}

// Available lists the actions role may perform from current, in table order.
func (m *Machine) Available(pt domain.ProcessType, current domain.Situation, role domain.Role) []Action {
	if !m.ValidFor(pt, current) {
		return nil
	}
	machine := fsm.NewFSM(string(current), m.events[pt], fsm.Callbacks{})
	var out []Action
	for _, name := range machine.AvailableTransitions() {
		t, ok := m.Lookup(pt, current, Action(name))
		if ok && t.Permits(role) {
			out = append(out, t.Action)
		}
	}
	order := make(map[Action]int, len(m.table))
	for i, t := range m.table {
		if _, seen := order[t.Action]; !seen {
			order[t.Action] = i
		}
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i]] < order[out[j]] })
	return out
}

// Destination returns where action leads for process type pt, regardless of the current situation.
func (m *Machine) Destination(pt domain.ProcessType, action Action) (domain.Situation, bool) {
	for _, t := range m.table {
		if t.ProcessType == pt && t.Action == action {
			return t.To, true
		}
	}
	return "", false
}

func toSet(list []domain.Situation) map[domain.Situation]bool {
	out := make(map[domain.Situation]bool, len(list))
	for _, s := range list {
		out[s] = true
	}
	return out
}

// MapEditable reports whether competencies may be edited at s: some map building action
// (creation, adjustment or publication) still leaves s.
func (m *Machine) MapEditable(pt domain.ProcessType, s domain.Situation) bool {
	for _, a := range []Action{CriarMapa, AjustarMapa, DisponibilizarMapa} {
		if _, ok := m.Lookup(pt, s, a); ok {
			return true
		}
	}
	return false
}
