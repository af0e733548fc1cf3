// Package policy checks graph writes against Open Policy Agent (OPA) policies.
//
// Every policy is a Rego module defining a deny set. Each element is either
// a message string or an object with message and severity; error and
// critical violations block the write, others are logged as warnings.
// Policies see the write as input:
//
//	{
//	    "write": {
//	        "entity": "AAPL", "class": "Stock", "attribute": "price",
//	        "kind": "settable", "value": 190.5, "operation": "set"
//	    },
//	    "context": {"actor": "cli", "timestamp": "..."}
//	}
//
// Two policies are built in. protected-attributes rejects SetVal on
// attributes listed in data.depgraph.protected, and numeric-inputs rejects
// non-numeric values for attributes listed in data.depgraph.numeric. Both
// lists accept "attr" or "Class.attr" and are filled from WithProtected and
// WithNumeric.
//
// Usage:
//
//	eng, err := policy.NewEngine(logger, policy.WithProtected("Stock.price"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    log.Fatal(err)
//	}
//	g := graph.New(arena, registry, graph.WithWriteGuard(eng.Guard(ctx)))
//
// A custom policy file:
//
//	# Quantities are never negative.
//	# severity: error
//	package depgraph.policies.quantity
//
//	import rego.v1
//
//	deny contains msg if {
//	    input.write.attribute == "quantity"
//	    input.write.value < 0
//	    msg := "quantity must not be negative"
//	}
package policy
