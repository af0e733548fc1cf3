package graph

// Session is the handle through which domain code reads and writes a graph.
// It tracks which graph is active: the root graph, or the innermost entered
// scope. Evaluation blocks and scopes must be closed in reverse order of opening.
type Session struct {
	root   *Graph
	frames []frame
}

type frame struct {
	graph *Graph
	scope *Scope
	block *EvalBlock
}

// NewSession creates a session over a root graph.
func NewSession(root *Graph) *Session {
	return &Session{root: root}
}

// Graph returns the active graph.
func (s *Session) Graph() *Graph {
	if n := len(s.frames); n > 0 {
		return s.frames[n-1].graph
	}
	return s.root
}

// Root returns the root graph.
func (s *Session) Root() *Graph { return s.root }

// Depth returns the number of open blocks and entered scopes.
func (s *Session) Depth() int { return len(s.frames) }

// SwitchGraph replaces the root graph. It fails while any block or scope is open.
func (s *Session) SwitchGraph(g *Graph) error {
	if len(s.frames) > 0 {
		return NewProtocolError("cannot switch graphs while scopes are active", nil).
			WithCode(ErrCodeGraphActive).
			WithDetail("depth", len(s.frames))
	}
	s.root = g
	return nil
}

// GetVal returns the value of entity.attr on the active graph. A trailing Kw
// argument passes keyword arguments to a subgraph property.
func (s *Session) GetVal(entityName, attr string, args ...any) (any, error) {
	g := s.Graph()
	if g.Computing() {
		g.logger.Warn().
			Str("entity", entityName).
			Str("attr", attr).
			Str("caller", g.stack[len(g.stack)-1].String()).
			Msg("GetVal called inside a computation, read is not tracked")
	}
	return g.Get(entityName, attr, args...)
}

// SetVal writes a settable input on the active graph and through to the entity.
func (s *Session) SetVal(entityName, attr string, value any) error {
	return s.Graph().Set(entityName, attr, value)
}

// InvalidateNode invalidates a node and its ancestors on the active graph.
func (s *Session) InvalidateNode(entityName, attr string, args ...any) error {
	return s.Graph().InvalidateNode(entityName, attr, args...)
}

// ChildrenSet returns the entities whose childAttr feeds entity.attr on the active graph.
func (s *Session) ChildrenSet(entityName, attr, childAttr, typeFilter string, args ...any) ([]string, error) {
	return s.Graph().ChildrenSet(entityName, attr, childAttr, typeFilter, args...)
}

func (s *Session) push(f frame) {
	s.frames = append(s.frames, f)
}

func (s *Session) innermost(match func(frame) bool) bool {
	n := len(s.frames)
	return n > 0 && match(s.frames[n-1])
}

// pop removes the innermost frame if it matches.
func (s *Session) pop(match func(frame) bool) error {
	n := len(s.frames)
	if n == 0 || !match(s.frames[n-1]) {
		return NewProtocolError("scopes must be closed innermost first", nil).
			WithCode(ErrCodeScopeOrder).
			WithDetail("depth", n)
	}
	s.frames = s.frames[:n-1]
	return nil
}
