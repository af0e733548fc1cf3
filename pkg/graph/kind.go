package graph

// NodeKind is the closed set of node variants.
type NodeKind int

const (
	// KindProperty is a computed value with no arguments.
	KindProperty NodeKind = iota
	// KindSettable is an externally supplied input.
	KindSettable
	// KindCallable is computed per distinct argument tuple.
	KindCallable
	// KindSubgraph is a single node computed from keyword arguments with defaults.
	KindSubgraph
)

// String returns the name of the kind.
func (k NodeKind) String() string {
	switch k {
	case KindProperty:
		return "property"
	case KindSettable:
		return "settable"
	case KindCallable:
		return "callable"
	case KindSubgraph:
		return "subgraph"
	default:
		return "unknown"
	}
}

// Overridable reports whether scoped overrides may replace the node's value.
func (k NodeKind) Overridable() bool {
	return k == KindProperty || k == KindSettable
}
