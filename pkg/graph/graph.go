package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ledgerline/depgraph/pkg/entity"
)

// Resolver is the entity store the graph reads from.
type Resolver interface {
	// Resolve returns the handle of the named entity.
	Resolve(name string) (entity.Handle, error)

	// Entity dereferences a handle. It returns false once the entity is gone.
	Entity(h entity.Handle) (*entity.Entity, bool)

	// StoredAttributeNames returns the attributes the entity stores itself.
	StoredAttributeNames(e *entity.Entity) map[string]struct{}
}

// Write describes a value about to be installed by SetVal or an override.
type Write struct {
	Entity    *entity.Entity
	Node      NodeID
	Kind      NodeKind
	Value     any
	Operation string
}

// WriteGuard may reject a write before it touches the graph.
type WriteGuard func(w Write) error

// Edge is a recorded dependency: the computation of From read To.
type Edge struct {
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger used for graph diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Graph) {
		g.logger = logger
	}
}

// WithObserver sets the observer notified of graph activity.
func WithObserver(o Observer) Option {
	return func(g *Graph) {
		if o != nil {
			g.observer = o
		}
	}
}

// WithWriteGuard sets a guard consulted before every write and override.
func WithWriteGuard(guard WriteGuard) Option {
	return func(g *Graph) {
		g.guard = guard
	}
}

// Graph stores nodes and the dependency edges discovered between them.
// A Graph derived for a scope layers its maps over its base graph.
// Graphs are not safe for concurrent use.
type Graph struct {
	id       string
	base     *Graph
	resolver Resolver
	registry *Registry

	nodes    *layer[NodeID, *Node]
	children *layer[NodeID, nodeSet]
	parents  *layer[NodeID, nodeSet]

	stack    []NodeID
	inflight map[NodeID]int
	rev      uint64

	observer Observer
	guard    WriteGuard
	logger   zerolog.Logger
}

// New creates an empty root graph.
func New(resolver Resolver, registry *Registry, opts ...Option) *Graph {
	if registry == nil {
		registry, _ = NewRegistry()
	}
	g := &Graph{
		id:       uuid.NewString(),
		resolver: resolver,
		registry: registry,
		nodes:    newLayer[NodeID, *Node](nil),
		children: newLayer[NodeID, nodeSet](nil),
		parents:  newLayer[NodeID, nodeSet](nil),
		inflight: make(map[NodeID]int),
		observer: NopObserver{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With().Str("graph", g.id).Logger()
	return g
}

// ID returns the unique graph id.
func (g *Graph) ID() string { return g.id }

// Base returns the graph this graph is layered over, or nil for a root graph.
func (g *Graph) Base() *Graph { return g.base }

// Registry returns the class registry.
func (g *Graph) Registry() *Registry { return g.registry }

// Computing reports whether a computation is running on this graph.
func (g *Graph) Computing() bool { return len(g.stack) > 0 }

func (g *Graph) derive() *Graph {
	return &Graph{
		id:       uuid.NewString(),
		base:     g,
		resolver: g.resolver,
		registry: g.registry,
		nodes:    newLayer(g.nodes),
		children: newLayer(g.children),
		parents:  newLayer(g.parents),
		inflight: make(map[NodeID]int),
		observer: g.observer,
		guard:    g.guard,
		logger:   g.logger,
	}
}

// rebase drops local state and layers the graph over base.
func (g *Graph) rebase(base *Graph) {
	g.base = base
	g.nodes.reset(base.nodes)
	g.children.reset(base.children)
	g.parents.reset(base.parents)
	g.touch()
}

func (g *Graph) descendsFrom(other *Graph) bool {
	for cur := g; cur != nil; cur = cur.base {
		if cur == other {
			return true
		}
	}
	return false
}

func (g *Graph) touch() { g.rev++ }

// revision changes whenever this graph or a graph below it is mutated.
func (g *Graph) revision() uint64 {
	var sum uint64
	for cur := g; cur != nil; cur = cur.base {
		sum += cur.rev
	}
	return sum
}

// ref is a resolved, argument-checked node address.
type ref struct {
	id    NodeID
	desc  *Descriptor
	owner entity.Handle
	args  []any
	kw    Kw
}

func (g *Graph) lookup(entityName, attr string, rawArgs []any) (ref, error) {
	args, kw := splitKw(rawArgs)
	key, err := encodeArgs(args)
	if err != nil {
		return ref{}, err
	}
	r := ref{id: NodeID{Entity: entityName, Attr: attr, Args: key}, args: args, kw: kw}

	if n, ok := g.nodes.get(r.id); ok {
		r.desc, r.owner = n.desc, n.owner
	} else {
		h, e, err := g.entity(entityName)
		if err != nil {
			return ref{}, err
		}
		desc, err := g.registry.Descriptor(e.Class, attr, g.resolver.StoredAttributeNames(e))
		if err != nil {
			return ref{}, withNode(err, r.id)
		}
		r.desc, r.owner = desc, h
	}

	if err := r.desc.checkCall(args, kw); err != nil {
		return ref{}, withNode(err, r.id)
	}
	return r, nil
}

func (g *Graph) entity(name string) (entity.Handle, *entity.Entity, error) {
	if g.resolver == nil {
		return entity.Handle{}, nil, NewLookupError(fmt.Sprintf("entity %s not found: no resolver", name), nil).
			WithCode(ErrCodeObjectNotFound)
	}
	h, err := g.resolver.Resolve(name)
	if err != nil {
		return entity.Handle{}, nil, NewLookupError(fmt.Sprintf("entity %s not found", name), err).
			WithCode(ErrCodeObjectNotFound)
	}
	e, ok := g.resolver.Entity(h)
	if !ok {
		return entity.Handle{}, nil, NewLookupError(fmt.Sprintf("entity %s not found", name), nil).
			WithCode(ErrCodeObjectNotFound)
	}
	return h, e, nil
}

func (g *Graph) getOrCreate(r ref) *Node {
	if n, ok := g.nodes.get(r.id); ok {
		return n
	}
	n := &Node{
		id:    r.id,
		desc:  r.desc,
		owner: r.owner,
		args:  append([]any(nil), r.args...),
	}
	g.nodes.set(r.id, n)
	g.touch()
	return n
}

// own returns a node this graph may mutate, copying an inherited one.
func (g *Graph) own(id NodeID) *Node {
	g.touch()
	if n, ok := g.nodes.getLocal(id); ok {
		return n
	}
	n, ok := g.nodes.get(id)
	if !ok {
		return nil
	}
	c := n.clone()
	g.nodes.set(id, c)
	return c
}

func (g *Graph) addChild(parent, child NodeID) {
	ownSet(g.children, parent)[child] = struct{}{}
	ownSet(g.parents, child)[parent] = struct{}{}
	g.touch()
}

func (g *Graph) clearChildren(id NodeID) {
	kids, ok := g.children.get(id)
	if !ok {
		return
	}
	for c := range kids {
		delete(ownSet(g.parents, c), id)
	}
	g.children.del(id)
	g.touch()
}

// invalidate marks every ancestor of id and then id itself invalid, clearing
// their children. Cached values are kept.
func (g *Graph) invalidate(id NodeID) {
	g.invalidateParents(id)
	if n := g.own(id); n != nil {
		n.valid = false
		g.observer.NodeInvalidated(id, n.desc.kind)
	}
	g.clearChildren(id)
}

func (g *Graph) invalidateParents(id NodeID) {
	ps, ok := g.parents.get(id)
	if !ok || len(ps) == 0 {
		return
	}
	// invalidate removes entries from the set, walk a snapshot.
	for _, p := range ps.sorted() {
		g.invalidate(p)
	}
}

// Get evaluates entity.attr without recording a dependency.
func (g *Graph) Get(entityName, attr string, args ...any) (any, error) {
	r, err := g.lookup(entityName, attr, args)
	if err != nil {
		return nil, err
	}
	return g.value(r)
}

// Set installs value on a settable node and writes it through to the entity.
func (g *Graph) Set(entityName, attr string, value any) error {
	r, err := g.lookup(entityName, attr, nil)
	if err != nil {
		return err
	}
	if r.desc.kind != KindSettable {
		return NewProtocolError(fmt.Sprintf("%s %s is not settable", r.desc.kind, attr), nil).
			WithCode(ErrCodeNotSettable).WithNode(r.id)
	}
	self, ok := g.resolver.Entity(r.owner)
	if !ok {
		return NewLookupError(fmt.Sprintf("entity %s no longer exists", entityName), nil).
			WithCode(ErrCodeObjectNotFound).WithNode(r.id)
	}
	if err := g.checkWrite(self, r, value, OperationSet); err != nil {
		return err
	}
	stored, err := r.desc.read(value)
	if err != nil {
		return err
	}
	written, err := r.desc.read(value)
	if err != nil {
		return err
	}
	if err := r.desc.setter(self, written); err != nil {
		return err
	}

	g.getOrCreate(r)
	g.clearChildren(r.id)
	g.invalidateParents(r.id)
	n := g.own(r.id)
	n.value, n.valid, n.fixed = stored, true, true
	g.observer.NodeSet(r.id, r.desc.kind, OperationSet)
	g.logger.Debug().Str("node", r.id.String()).Msg("Value set")
	return nil
}

// prepareOverride resolves and checks an override without applying it.
func (g *Graph) prepareOverride(entityName, attr string, value any) (ref, error) {
	r, err := g.lookup(entityName, attr, nil)
	if err != nil {
		return ref{}, err
	}
	if !r.desc.kind.Overridable() {
		return ref{}, NewProtocolError(fmt.Sprintf("%s %s cannot be overridden", r.desc.kind, attr), nil).
			WithCode(ErrCodeNotOverridable).WithNode(r.id)
	}
	self, ok := g.resolver.Entity(r.owner)
	if !ok {
		return ref{}, NewLookupError(fmt.Sprintf("entity %s no longer exists", entityName), nil).
			WithCode(ErrCodeObjectNotFound).WithNode(r.id)
	}
	if err := g.checkWrite(self, r, value, OperationOverride); err != nil {
		return ref{}, err
	}
	return r, nil
}

// applyOverride installs value in the graph only; the entity is not touched.
func (g *Graph) applyOverride(r ref, value any) error {
	stored, err := r.desc.read(value)
	if err != nil {
		return err
	}
	g.getOrCreate(r)
	g.clearChildren(r.id)
	g.invalidateParents(r.id)
	n := g.own(r.id)
	n.value, n.valid, n.fixed = stored, true, true
	g.observer.NodeSet(r.id, r.desc.kind, OperationOverride)
	return nil
}

func (g *Graph) checkWrite(self *entity.Entity, r ref, value any, op string) error {
	if g.guard == nil {
		return nil
	}
	err := g.guard(Write{Entity: self, Node: r.id, Kind: r.desc.kind, Value: value, Operation: op})
	if err == nil {
		return nil
	}
	var ge *GraphError
	if errors.As(err, &ge) {
		return err
	}
	return NewProtocolError(fmt.Sprintf("%s of %s denied", op, r.id), err).
		WithCode(ErrCodeWriteDenied).WithNode(r.id)
}

// InvalidateNode invalidates entity.attr and all of its ancestors. A callable
// needs the argument tuple of the node to invalidate.
func (g *Graph) InvalidateNode(entityName, attr string, args ...any) error {
	r, err := g.lookup(entityName, attr, args)
	if err != nil {
		return err
	}
	if _, ok := g.nodes.get(r.id); !ok {
		return nil
	}
	g.invalidate(r.id)
	g.logger.Debug().Str("node", r.id.String()).Msg("Node invalidated")
	return nil
}

// Purge invalidates the ancestors of every node owned by the named entity and
// removes those nodes. It returns the number of removed nodes.
func (g *Graph) Purge(entityName string) int {
	var ids []NodeID
	for _, id := range g.nodes.keys() {
		if id.Entity == entityName {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	for _, id := range ids {
		g.invalidate(id)
	}
	for _, id := range ids {
		g.nodes.del(id)
		g.children.del(id)
		g.parents.del(id)
	}
	g.touch()
	if len(ids) > 0 {
		g.logger.Debug().Str("entity", entityName).Int("nodes", len(ids)).Msg("Entity purged")
	}
	return len(ids)
}

// Clear drops all nodes and edges visible through this graph.
func (g *Graph) Clear() {
	g.nodes.clear()
	g.children.clear()
	g.parents.clear()
	g.stack = nil
	g.inflight = make(map[NodeID]int)
	g.touch()
}

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	return g.nodes.get(id)
}

// Children returns the nodes read by the latest computation of id.
func (g *Graph) Children(id NodeID) []NodeID {
	s, _ := g.children.get(id)
	return s.sorted()
}

// Parents returns the nodes whose latest computation read id.
func (g *Graph) Parents(id NodeID) []NodeID {
	s, _ := g.parents.get(id)
	return s.sorted()
}

// NodeIDs returns all node ids in order.
func (g *Graph) NodeIDs() []NodeID {
	ids := g.nodes.keys()
	sortIDs(ids)
	return ids
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes.keys())
}

// Edges returns all recorded dependency edges in order.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, from := range g.NodeIDs() {
		for _, to := range g.Children(from) {
			edges = append(edges, Edge{From: from, To: to})
		}
	}
	return edges
}

// ChildrenSet evaluates entity.attr and returns the names of entities whose
// childAttr node is a transitive dependency of it. A non-empty typeFilter keeps
// only entities of that class. args select the start node as in Get.
func (g *Graph) ChildrenSet(entityName, attr, childAttr, typeFilter string, args ...any) ([]string, error) {
	r, err := g.lookup(entityName, attr, args)
	if err != nil {
		return nil, err
	}
	if _, err := g.value(r); err != nil {
		return nil, err
	}

	found := make(map[string]struct{})
	visited := nodeSet{r.id: {}}
	queue := []NodeID{r.id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range g.Children(cur) {
			if _, ok := visited[c]; ok {
				continue
			}
			visited[c] = struct{}{}
			queue = append(queue, c)
			if c.Attr != childAttr {
				continue
			}
			if typeFilter != "" {
				_, e, err := g.entity(c.Entity)
				if err != nil || e.Class != typeFilter {
					continue
				}
			}
			found[c.Entity] = struct{}{}
		}
	}

	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func sortIDs(ids []NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

func withNode(err error, id NodeID) error {
	var ge *GraphError
	if errors.As(err, &ge) && ge.Node == "" {
		ge.Node = id.String()
	}
	return err
}
