// Package topology analyses the dependency edges a graph has discovered so
// far: evaluation order, levels, reachability and Graphviz export. A
// Topology is a snapshot; later recomputation does not change it.
package topology
