// Package graph implements a demand-driven, memoizing dependency graph.
//
// # Overview
//
// Every value the engine knows about lives in a Node addressed by a NodeID:
// the entity name, the attribute name and, for callables, the argument tuple.
// Nodes are created lazily the first time they are read. When a node is
// computed, every read its computation makes through the Getter it receives is
// recorded as a child edge, so the dependency structure is discovered by
// running the code rather than declared up front.
//
// Invalidating a node walks the parent edges upward, marks every ancestor
// invalid and clears its children. Values are kept; the next read recomputes
// and records a fresh set of edges.
//
// # Declaring attributes
//
// Entity classes are static attribute tables built from descriptors:
//
//	price := graph.Must(graph.DeclareSettable("price", nil, nil))
//	value := graph.Must(graph.DeclareProperty("value", func(self *entity.Entity, get graph.Getter) (any, error) {
//	    p, err := get(self.Name, "price")
//	    if err != nil {
//	        return nil, err
//	    }
//	    q, err := get(self.Name, "quantity")
//	    if err != nil {
//	        return nil, err
//	    }
//	    return p.(float64) * q.(float64), nil
//	}))
//	stock, _ := graph.NewClass("Stock", price, value)
//	registry, _ := graph.NewRegistry(stock)
//
// Four node kinds exist:
//
//   - KindProperty: computed, no arguments
//   - KindSettable: an input; SetVal writes it and the entity
//   - KindCallable: one node per distinct argument tuple
//   - KindSubgraph: one node computed from keyword arguments with defaults
//
// Stored attributes of an entity that have no descriptor behave as settable
// inputs reading and writing the stored value.
//
// # Sessions
//
// A Session holds the active graph. Domain code reads and writes through it:
//
//	s := graph.NewSession(graph.New(arena, registry))
//	v, err := s.GetVal("AAPL", "value")
//	err = s.SetVal("AAPL", "price", 191.0)
//
// # What-if evaluation
//
// An EvalBlock overrides values on the active graph and restores them, with
// every derived value, when closed:
//
//	err := s.WithEvalBlock(func(b *graph.EvalBlock) error {
//	    if err := b.ChangeValue("AAPL", "price", 200.0); err != nil {
//	        return err
//	    }
//	    v, err := s.GetVal("AAPL", "value")
//	    ...
//	})
//
// A Scope keeps its overrides in a copy-on-write graph layered over a base
// graph. It can be filled before use and entered any number of times; the base
// graph never sees its changes.
//
//	shock := s.NewScope("shock")
//	_ = shock.ChangeValue("AAPL", "price", 150.0)
//	err := s.WithScope(shock, func() error {
//	    v, err := s.GetVal("AAPL", "value")
//	    ...
//	})
//
// # Concurrency
//
// Graphs and sessions are single-threaded. Computations run synchronously and
// must not retain the Getter after returning.
package graph
