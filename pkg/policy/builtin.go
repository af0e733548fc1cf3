package policy

// GetBuiltinPolicies returns all built-in policies. Both read their
// configuration from data.depgraph, which the engine fills from its options.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		protectedAttributesPolicy(),
		numericInputsPolicy(),
	}
}

// protectedAttributesPolicy rejects SetVal on attributes listed in
// data.depgraph.protected, either as "attr" or as "Class.attr".
// Scoped overrides are still allowed.
func protectedAttributesPolicy() Policy {
	return Policy{
		Name:        "protected-attributes",
		Description: "Protected attributes cannot be set",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package depgraph.policies.protected

import rego.v1

protected(w) if w.attribute in data.depgraph.protected

protected(w) if concat(".", [w.class, w.attribute]) in data.depgraph.protected

deny contains violation if {
	w := input.write
	w.operation == "set"
	protected(w)
	violation := {
		"message": sprintf("attribute %s of %s is protected", [w.attribute, w.entity]),
		"severity": "error",
	}
}
`,
	}
}

// numericInputsPolicy requires numeric values for attributes listed in
// data.depgraph.numeric, for sets and overrides alike.
func numericInputsPolicy() Policy {
	return Policy{
		Name:        "numeric-inputs",
		Description: "Values written to numeric attributes must be numbers",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package depgraph.policies.numeric

import rego.v1

numeric(w) if w.attribute in data.depgraph.numeric

numeric(w) if concat(".", [w.class, w.attribute]) in data.depgraph.numeric

deny contains violation if {
	w := input.write
	numeric(w)
	not is_number(w.value)
	violation := {
		"message": sprintf("value for %s.%s must be a number, got %v", [w.entity, w.attribute, w.value]),
		"severity": "error",
	}
}
`,
	}
}
