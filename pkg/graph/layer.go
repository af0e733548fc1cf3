package graph

// layer is a map that falls back to a parent layer for keys it has not touched.
// Deleting a key that the parent holds records a tombstone so the parent value
// stays hidden. Writes never reach the parent.
type layer[K comparable, V any] struct {
	parent  *layer[K, V]
	local   map[K]V
	deleted map[K]struct{}
}

func newLayer[K comparable, V any](parent *layer[K, V]) *layer[K, V] {
	return &layer[K, V]{
		parent:  parent,
		local:   make(map[K]V),
		deleted: make(map[K]struct{}),
	}
}

func (l *layer[K, V]) get(k K) (V, bool) {
	for cur := l; cur != nil; cur = cur.parent {
		if v, ok := cur.local[k]; ok {
			return v, true
		}
		if _, ok := cur.deleted[k]; ok {
			break
		}
	}
	var zero V
	return zero, false
}

// getLocal returns the value only if this layer owns it.
func (l *layer[K, V]) getLocal(k K) (V, bool) {
	v, ok := l.local[k]
	return v, ok
}

func (l *layer[K, V]) set(k K, v V) {
	l.local[k] = v
	delete(l.deleted, k)
}

func (l *layer[K, V]) del(k K) {
	delete(l.local, k)
	if l.parent != nil {
		if _, ok := l.parent.get(k); ok {
			l.deleted[k] = struct{}{}
		}
	}
}

// keys returns every visible key, in no particular order.
func (l *layer[K, V]) keys() []K {
	seen := make(map[K]struct{})
	hidden := make(map[K]struct{})
	var out []K
	for cur := l; cur != nil; cur = cur.parent {
		for k := range cur.local {
			if _, ok := hidden[k]; ok {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
		for k := range cur.deleted {
			if _, ok := seen[k]; !ok {
				hidden[k] = struct{}{}
			}
		}
	}
	return out
}

// clear hides every visible key.
func (l *layer[K, V]) clear() {
	l.local = make(map[K]V)
	l.deleted = make(map[K]struct{})
	if l.parent != nil {
		for _, k := range l.parent.keys() {
			l.deleted[k] = struct{}{}
		}
	}
}

// reset drops local state and exposes the parent again.
func (l *layer[K, V]) reset(parent *layer[K, V]) {
	l.parent = parent
	l.local = make(map[K]V)
	l.deleted = make(map[K]struct{})
}

// nodeSet is a set of node ids.
type nodeSet map[NodeID]struct{}

func (s nodeSet) clone() nodeSet {
	out := make(nodeSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

func (s nodeSet) sorted() []NodeID {
	out := make([]NodeID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

// ownSet returns a set for k that this layer owns, copying the inherited one.
func ownSet(l *layer[NodeID, nodeSet], k NodeID) nodeSet {
	if s, ok := l.getLocal(k); ok {
		return s
	}
	var s nodeSet
	if inherited, ok := l.get(k); ok {
		s = inherited.clone()
	} else {
		s = make(nodeSet)
	}
	l.set(k, s)
	return s
}
