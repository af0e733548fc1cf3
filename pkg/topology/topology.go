package topology

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"

	dg "github.com/ledgerline/depgraph/pkg/graph"
)

// Topology is a snapshot of the dependency edges discovered in a graph.
// Edges point from a node to the nodes its computation read.
type Topology struct {
	g graph.Graph[string, dg.NodeID]
}

func nodeHash(id dg.NodeID) string { return id.String() }

// FromGraph snapshots src. With roots, only the roots and the nodes they
// transitively read are included.
func FromGraph(src *dg.Graph, roots ...dg.NodeID) (*Topology, error) {
	if src == nil {
		return nil, fmt.Errorf("graph cannot be nil")
	}

	ids := src.NodeIDs()
	if len(roots) > 0 {
		ids = reachable(src, roots)
	}

	t := &Topology{g: graph.New(nodeHash, graph.Directed(), graph.PreventCycles())}
	for _, id := range ids {
		if err := t.g.AddVertex(id, vertexAttributes(src, id)...); err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
			return nil, fmt.Errorf("failed to add vertex %s: %w", id, err)
		}
	}

	for _, id := range ids {
		for _, child := range src.Children(id) {
			if err := t.g.AddEdge(id.String(), child.String()); err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
				return nil, fmt.Errorf("failed to add edge %s -> %s: %w", id, child, err)
			}
		}
	}

	return t, nil
}

func reachable(src *dg.Graph, roots []dg.NodeID) []dg.NodeID {
	seen := make(map[dg.NodeID]bool)
	var ids []dg.NodeID
	queue := append([]dg.NodeID(nil), roots...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		ids = append(ids, cur)
		queue = append(queue, src.Children(cur)...)
	}
	sortIDs(ids)
	return ids
}

func vertexAttributes(src *dg.Graph, id dg.NodeID) []func(*graph.VertexProperties) {
	attrs := []func(*graph.VertexProperties){graph.VertexAttribute("label", id.String())}
	n, ok := src.Node(id)
	if !ok {
		return attrs
	}
	shape := map[dg.NodeKind]string{
		dg.KindProperty: "ellipse",
		dg.KindSettable: "box",
		dg.KindCallable: "diamond",
		dg.KindSubgraph: "hexagon",
	}[n.Kind()]
	attrs = append(attrs, graph.VertexAttribute("shape", shape))
	if !n.Valid() {
		attrs = append(attrs, graph.VertexAttribute("style", "dashed"))
	}
	return attrs
}

// Len returns the number of nodes in the snapshot.
func (t *Topology) Len() int {
	n, _ := t.g.Order()
	return n
}

// TopologicalOrder returns every node after all the nodes it reads, so
// leaves come first. Ties are broken by node id.
func (t *Topology) TopologicalOrder() ([]dg.NodeID, error) {
	keys, err := graph.StableTopologicalSort(t.g, func(a, b string) bool { return a < b })
	if err != nil {
		return nil, fmt.Errorf("failed to compute topological sort: %w", err)
	}
	ids := make([]dg.NodeID, len(keys))
	for i, k := range keys {
		ids[len(keys)-1-i], _ = t.g.Vertex(k)
	}
	return ids, nil
}

// Levels groups nodes by height: level 0 holds the leaves, and every other
// node sits one level above the highest node it reads.
func (t *Topology) Levels() ([][]dg.NodeID, error) {
	adjacency, err := t.g.AdjacencyMap()
	if err != nil {
		return nil, err
	}
	order, err := t.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	level := make(map[string]int, len(order))
	var levels [][]dg.NodeID
	for _, id := range order {
		key := id.String()
		l := 0
		for child := range adjacency[key] {
			if lc := level[child] + 1; lc > l {
				l = lc
			}
		}
		level[key] = l
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], id)
	}
	for _, ids := range levels {
		sortIDs(ids)
	}
	return levels, nil
}

// Descendants returns every node id transitively reads, excluding id.
func (t *Topology) Descendants(id dg.NodeID) ([]dg.NodeID, error) {
	return t.walk(id, t.g.AdjacencyMap)
}

// Ancestors returns every node whose value transitively depends on id, excluding id.
func (t *Topology) Ancestors(id dg.NodeID) ([]dg.NodeID, error) {
	return t.walk(id, t.g.PredecessorMap)
}

func (t *Topology) walk(start dg.NodeID, edges func() (map[string]map[string]graph.Edge[string], error)) ([]dg.NodeID, error) {
	if _, err := t.g.Vertex(start.String()); err != nil {
		return nil, fmt.Errorf("node %s: %w", start, err)
	}
	m, err := edges()
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{start.String(): true}
	queue := []string{start.String()}
	var out []dg.NodeID
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range m[cur] {
			if seen[next] {
				continue
			}
			seen[next] = true
			queue = append(queue, next)
			id, _ := t.g.Vertex(next)
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out, nil
}

// WriteDOT renders the snapshot in Graphviz DOT format, leaves at the bottom.
func (t *Topology) WriteDOT(w io.Writer) error {
	return draw.DOT(t.g, w, draw.GraphAttribute("rankdir", "TB"))
}

func sortIDs(ids []dg.NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}
