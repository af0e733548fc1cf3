package graph

// EvalBlock applies temporary overrides directly on the active graph and rolls
// them back, together with everything derived from them, when closed.
type EvalBlock struct {
	session *Session
	g       *Graph
	touched map[NodeID]bool
	saved   []snapshot
	closed  bool
}

// snapshot is the state of a node before its first override in a block.
type snapshot struct {
	id       NodeID
	node     *Node
	children nodeSet
}

// NewEvalBlock opens a block on the active graph. Close it with Close, or use
// WithEvalBlock.
func (s *Session) NewEvalBlock() *EvalBlock {
	b := &EvalBlock{
		session: s,
		g:       s.Graph(),
		touched: make(map[NodeID]bool),
	}
	s.push(frame{graph: b.g, block: b})
	b.g.observer.ScopeEntered("evalblock")
	return b
}

// WithEvalBlock runs fn inside a new block. The block is closed on every exit
// path, including a panic in fn.
func (s *Session) WithEvalBlock(fn func(b *EvalBlock) error) (err error) {
	b := s.NewEvalBlock()
	defer func() {
		if cerr := b.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(b)
}

// ChangeValue overrides a property or settable node until the block closes.
// The entity itself is not written. It fails while another block or scope is
// open inside this one.
func (b *EvalBlock) ChangeValue(entityName, attr string, value any) error {
	if b.closed {
		return NewProtocolError("evaluation block is closed", nil).WithCode(ErrCodeScopeOrder)
	}
	if !b.session.innermost(func(f frame) bool { return f.block == b }) {
		return NewProtocolError("evaluation block is not the innermost scope", nil).
			WithCode(ErrCodeScopeOrder).
			WithDetail("depth", b.session.Depth())
	}
	r, err := b.g.prepareOverride(entityName, attr, value)
	if err != nil {
		return err
	}
	if !b.touched[r.id] {
		b.touched[r.id] = true
		b.saved = append(b.saved, b.g.snapshot(r.id))
	}
	return b.g.applyOverride(r, value)
}

// Close restores every overridden node in reverse order of first change.
// Closing twice is a no-op.
func (b *EvalBlock) Close() error {
	if b.closed {
		return nil
	}
	if err := b.session.pop(func(f frame) bool { return f.block == b }); err != nil {
		return err
	}
	b.closed = true
	for i := len(b.saved) - 1; i >= 0; i-- {
		b.g.restore(b.saved[i])
	}
	b.g.observer.ScopeExited("evalblock")
	b.g.logger.Debug().Int("nodes", len(b.saved)).Msg("Evaluation block closed")
	return nil
}

// Closed reports whether the block has been closed.
func (b *EvalBlock) Closed() bool { return b.closed }

func (g *Graph) snapshot(id NodeID) snapshot {
	s := snapshot{id: id}
	if n, ok := g.nodes.get(id); ok {
		s.node = n.clone()
	}
	if kids, ok := g.children.get(id); ok {
		s.children = kids.clone()
	}
	return s
}

// restore invalidates the ancestors of s.id and puts the saved node and its
// child edges back. Edges recorded since the snapshot are dropped.
func (g *Graph) restore(s snapshot) {
	g.invalidateParents(s.id)
	g.clearChildren(s.id)
	if s.node == nil {
		g.nodes.del(s.id)
		g.touch()
		return
	}
	g.nodes.set(s.id, s.node.clone())
	for c := range s.children {
		if _, ok := g.nodes.get(c); ok {
			g.addChild(s.id, c)
		}
	}
	g.touch()
	g.observer.NodeSet(s.id, s.node.desc.kind, OperationRestore)
}
