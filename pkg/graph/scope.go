package graph

import "fmt"

// Scope is a reusable set of overrides held in a graph layered over a base graph.
// Overrides may be added before the scope is first entered. The base graph is
// never modified through a scope.
type Scope struct {
	name    string
	session *Session
	g       *Graph
	changes []change
	index   map[NodeID]int
	baseRev uint64
	active  bool
}

type change struct {
	id     NodeID
	entity string
	attr   string
	value  any
}

// NewScope creates an inactive scope over the active graph.
func (s *Session) NewScope(name string) *Scope {
	base := s.Graph()
	return &Scope{
		name:    name,
		session: s,
		g:       base.derive(),
		index:   make(map[NodeID]int),
		baseRev: base.revision(),
	}
}

// Name returns the scope name.
func (sc *Scope) Name() string { return sc.name }

// Active reports whether the scope is entered.
func (sc *Scope) Active() bool { return sc.active }

// Graph returns the layered graph backing the scope.
func (sc *Scope) Graph() *Graph { return sc.g }

// Changes returns the overridden nodes in order of first change.
func (sc *Scope) Changes() []NodeID {
	ids := make([]NodeID, len(sc.changes))
	for i, c := range sc.changes {
		ids[i] = c.id
	}
	return ids
}

// ChangeValue overrides a property or settable node inside the scope.
// It works whether or not the scope is entered.
func (sc *Scope) ChangeValue(entityName, attr string, value any) error {
	r, err := sc.g.prepareOverride(entityName, attr, value)
	if err != nil {
		return err
	}
	if err := sc.g.applyOverride(r, value); err != nil {
		return err
	}
	c := change{id: r.id, entity: entityName, attr: attr, value: value}
	if i, ok := sc.index[r.id]; ok {
		sc.changes[i] = c
	} else {
		sc.index[r.id] = len(sc.changes)
		sc.changes = append(sc.changes, c)
	}
	return nil
}

// Enter makes sc the active graph of the session and returns the function that
// leaves it. A scope created over a graph that is now below the active graph is
// rebased onto the active graph and its overrides replayed.
func (s *Session) Enter(sc *Scope) (func() error, error) {
	if sc.active {
		return nil, NewProtocolError(fmt.Sprintf("scope %s is already active", sc.name), nil).
			WithCode(ErrCodeScopeInUse)
	}

	active := s.Graph()
	base := sc.g.base
	stale := false
	switch {
	case active == base:
	case active.descendsFrom(base):
		sc.g.rebase(active)
		stale = true
	default:
		return nil, NewProtocolError(fmt.Sprintf("scope %s is not layered over the active graph", sc.name), nil).
			WithCode(ErrCodeUnrelatedGraph).
			WithDetail("active", active.id).
			WithDetail("base", base.id)
	}

	if rev := sc.g.base.revision(); stale || rev != sc.baseRev {
		if err := sc.replay(); err != nil {
			return nil, err
		}
		sc.baseRev = rev
	} else {
		for _, c := range sc.changes {
			sc.g.invalidateParents(c.id)
		}
	}

	sc.active = true
	s.push(frame{graph: sc.g, scope: sc})
	sc.g.observer.ScopeEntered(sc.name)
	sc.g.logger.Debug().Str("scope", sc.name).Int("changes", len(sc.changes)).Msg("Scope entered")

	return func() error {
		if !sc.active {
			return nil
		}
		if err := s.pop(func(f frame) bool { return f.scope == sc }); err != nil {
			return err
		}
		sc.active = false
		sc.g.observer.ScopeExited(sc.name)
		sc.g.logger.Debug().Str("scope", sc.name).Msg("Scope exited")
		return nil
	}, nil
}

// WithScope runs fn with sc entered and leaves it on every exit path.
func (s *Session) WithScope(sc *Scope, fn func() error) (err error) {
	exit, err := s.Enter(sc)
	if err != nil {
		return err
	}
	defer func() {
		if xerr := exit(); xerr != nil && err == nil {
			err = xerr
		}
	}()
	return fn()
}

// Rebase layers an inactive scope over another graph, for example after the
// session switched root graphs, and replays its overrides there.
func (sc *Scope) Rebase(base *Graph) error {
	if sc.active {
		return NewProtocolError(fmt.Sprintf("scope %s is active", sc.name), nil).
			WithCode(ErrCodeScopeInUse)
	}
	if base.descendsFrom(sc.g) {
		return NewProtocolError(fmt.Sprintf("scope %s cannot be layered over itself", sc.name), nil).
			WithCode(ErrCodeUnrelatedGraph)
	}
	sc.g.rebase(base)
	if err := sc.replay(); err != nil {
		return err
	}
	sc.baseRev = base.revision()
	return nil
}

// replay discards the scope's cached state and applies its overrides again
// over the current base.
func (sc *Scope) replay() error {
	sc.g.rebase(sc.g.base)
	for _, c := range sc.changes {
		r, err := sc.g.prepareOverride(c.entity, c.attr, c.value)
		if err != nil {
			return err
		}
		if err := sc.g.applyOverride(r, c.value); err != nil {
			return err
		}
	}
	return nil
}
