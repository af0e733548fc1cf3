package graph

import "time"

// Observer receives notifications about graph activity.
// Implementations must not call back into the graph.
type Observer interface {
	// NodeComputed is called after a computation ran, with its error if it failed.
	NodeComputed(id NodeID, kind NodeKind, duration time.Duration, err error)

	// CacheHit is called when a valid cached value is served.
	CacheHit(id NodeID, kind NodeKind)

	// NodeInvalidated is called for every node marked invalid.
	NodeInvalidated(id NodeID, kind NodeKind)

	// NodeSet is called when a value is installed by a write, an override or a restore.
	NodeSet(id NodeID, kind NodeKind, operation string)

	// ScopeEntered is called when a scope or evaluation block becomes active.
	ScopeEntered(name string)

	// ScopeExited is called when a scope or evaluation block is left.
	ScopeExited(name string)
}

// Write operations reported to observers and write guards.
const (
	OperationSet      = "set"
	OperationOverride = "override"
	OperationRestore  = "restore"
)

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) NodeComputed(NodeID, NodeKind, time.Duration, error) {}
func (NopObserver) CacheHit(NodeID, NodeKind)                           {}
func (NopObserver) NodeInvalidated(NodeID, NodeKind)                    {}
func (NopObserver) NodeSet(NodeID, NodeKind, string)                    {}
func (NopObserver) ScopeEntered(string)                                 {}
func (NopObserver) ScopeExited(string)                                  {}

// MultiObserver fans notifications out to several observers.
type MultiObserver []Observer

func (m MultiObserver) NodeComputed(id NodeID, kind NodeKind, d time.Duration, err error) {
	for _, o := range m {
		o.NodeComputed(id, kind, d, err)
	}
}

func (m MultiObserver) CacheHit(id NodeID, kind NodeKind) {
	for _, o := range m {
		o.CacheHit(id, kind)
	}
}

func (m MultiObserver) NodeInvalidated(id NodeID, kind NodeKind) {
	for _, o := range m {
		o.NodeInvalidated(id, kind)
	}
}

func (m MultiObserver) NodeSet(id NodeID, kind NodeKind, operation string) {
	for _, o := range m {
		o.NodeSet(id, kind, operation)
	}
}

func (m MultiObserver) ScopeEntered(name string) {
	for _, o := range m {
		o.ScopeEntered(name)
	}
}

func (m MultiObserver) ScopeExited(name string) {
	for _, o := range m {
		o.ScopeExited(name)
	}
}
