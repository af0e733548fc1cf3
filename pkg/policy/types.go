package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but does not block the write.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the write.
	SeverityError Severity = "error"

	// SeverityCritical blocks the write.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the write.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code. The module must define
// a deny set in its package.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was read from, empty for built-in policies.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Node is the node the denied write targeted.
	Node string `json:"node,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	Severity Severity `json:"severity"`
}

// Result represents the result of evaluating every enabled policy against one write.
type Result struct {
	// Allowed is false if any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that do not block the write.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	Duration time.Duration `json:"duration"`
}

// Input is the document policies see as input.
type Input struct {
	Write   *WriteInput `json:"write"`
	Context *Context    `json:"context"`
}

// WriteInput describes the write being checked.
type WriteInput struct {
	Entity    string `json:"entity"`
	Class     string `json:"class"`
	Attribute string `json:"attribute"`
	Kind      string `json:"kind"`
	Value     any    `json:"value"`

	// Operation is "set" for SetVal and "override" for scope and block overrides.
	Operation string `json:"operation"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Actor is who requested the write, if known.
	Actor string `json:"actor,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
