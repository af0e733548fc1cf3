package graph

import (
	"fmt"
	"strings"
	"time"

	"github.com/ledgerline/depgraph/pkg/entity"
)

// value returns the current value of the node addressed by r, computing it if needed.
func (g *Graph) value(r ref) (any, error) {
	n := g.getOrCreate(r)

	if n.desc.kind == KindSubgraph {
		merged, err := n.desc.mergeKw(r.kw)
		if err != nil {
			return nil, withNode(err, r.id)
		}
		if !kwEqual(n.kwargs, merged) {
			n = g.own(r.id)
			n.valid = false
			n.kwargs = merged
		}
	}

	if n.valid {
		g.observer.CacheHit(n.id, n.desc.kind)
		return n.Value()
	}

	n = g.own(r.id)
	if n.fixed {
		n.valid = true
		return n.Value()
	}
	return g.compute(n)
}

func (g *Graph) compute(n *Node) (any, error) {
	self, ok := g.resolver.Entity(n.owner)
	if !ok {
		return nil, NewLookupError(fmt.Sprintf("entity %s no longer exists", n.id.Entity), nil).
			WithCode(ErrCodeObjectNotFound).WithNode(n.id)
	}

	g.clearChildren(n.id)

	start := time.Now()
	v, err := g.run(n, self)
	g.observer.NodeComputed(n.id, n.desc.kind, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	n.value, n.valid = v, true
	g.touch()
	g.logger.Trace().Str("node", n.id.String()).Msg("Node computed")
	return n.Value()
}

func (g *Graph) run(n *Node, self *entity.Entity) (any, error) {
	g.push(n.id)
	defer g.pop(n.id)

	get := g.tracker(n.id)
	switch n.desc.kind {
	case KindProperty, KindSettable:
		return n.desc.compute(self, get)
	case KindCallable:
		return n.desc.call(self, get, n.args...)
	case KindSubgraph:
		return n.desc.sub(self, get, copyKw(n.kwargs))
	default:
		return nil, fmt.Errorf("unknown node kind %d", n.desc.kind)
	}
}

// tracker returns the getter handed to the computation of caller. Every read
// made through it becomes a child edge of caller.
func (g *Graph) tracker(caller NodeID) Getter {
	return func(entityName, attr string, args ...any) (any, error) {
		r, err := g.lookup(entityName, attr, args)
		if err != nil {
			return nil, err
		}
		if _, ok := g.inflight[r.id]; ok {
			return nil, NewProtocolError("dependency cycle detected", nil).
				WithCode(ErrCodeCycle).
				WithNode(r.id).
				WithDetail("path", g.cyclePath(r.id))
		}
		g.getOrCreate(r)
		g.addChild(caller, r.id)
		return g.value(r)
	}
}

func (g *Graph) push(id NodeID) {
	g.stack = append(g.stack, id)
	g.inflight[id]++
}

func (g *Graph) pop(id NodeID) {
	g.stack = g.stack[:len(g.stack)-1]
	if g.inflight[id]--; g.inflight[id] <= 0 {
		delete(g.inflight, id)
	}
}

func (g *Graph) cyclePath(target NodeID) string {
	var parts []string
	for i, id := range g.stack {
		if id == target {
			for _, p := range g.stack[i:] {
				parts = append(parts, p.String())
			}
			break
		}
	}
	parts = append(parts, target.String())
	return strings.Join(parts, " -> ")
}
