// Package model loads everything a graph is built from that lives outside Go
// code.
//
// StarlarkLoader executes a model script and returns a graph.Registry whose
// computations call back into the script. EntityLoader reads entity
// documents written in CUE and checks them against a fixed schema.
// Scenario describes a set of what-if overrides in YAML and evaluates them in
// a graph scope.
//
// A minimal model script:
//
//	def value(self, get):
//	    return get(self.name, "price") * get(self.name, "quantity")
//
//	declare_class("Stock", attrs = {
//	    "price":    declare_settable(),
//	    "quantity": declare_settable(),
//	    "value":    declare_property(value),
//	})
package model
