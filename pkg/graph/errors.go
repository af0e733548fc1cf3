package graph

import (
	"errors"
	"fmt"
)

// ErrorClass classifies graph errors by who has to fix them.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates a bad attribute declaration.
	// Raised while classes are built, never recovered.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassProtocol indicates misuse of the access API by the caller.
	// Examples: setting a computed node, entering an unrelated scope.
	ErrorClassProtocol ErrorClass = "protocol"

	// ErrorClassLookup indicates that an entity or attribute does not exist.
	ErrorClassLookup ErrorClass = "lookup"
)

// GraphError is a classified error raised by the graph engine.
// nolint:revive // GraphError reads better than Error at call sites
type GraphError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is the error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Node is the node the error refers to, if any.
	Node string `json:"node,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *GraphError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Node != "" {
		msg += fmt.Sprintf(" (node=%s)", e.Node)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *GraphError) Unwrap() error {
	return e.Err
}

// Is matches on class and code so callers can compare against a template error.
func (e *GraphError) Is(target error) bool {
	t, ok := target.(*GraphError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *GraphError {
	return &GraphError{
		Class:   ErrorClassConfiguration,
		Message: message,
		Err:     err,
	}
}

// NewProtocolError creates a new protocol error.
func NewProtocolError(message string, err error) *GraphError {
	return &GraphError{
		Class:   ErrorClassProtocol,
		Message: message,
		Err:     err,
	}
}

// NewLookupError creates a new lookup error.
func NewLookupError(message string, err error) *GraphError {
	return &GraphError{
		Class:   ErrorClassLookup,
		Message: message,
		Err:     err,
	}
}

// WithCode adds an error code.
func (e *GraphError) WithCode(code string) *GraphError {
	e.Code = code
	return e
}

// WithNode records the node the error refers to.
func (e *GraphError) WithNode(id NodeID) *GraphError {
	e.Node = id.String()
	return e
}

// WithDetail adds a detail field to the error context.
func (e *GraphError) WithDetail(key string, value interface{}) *GraphError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsConfiguration returns true if the error is a configuration error.
func IsConfiguration(err error) bool {
	var e *GraphError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConfiguration
	}
	return false
}

// IsProtocol returns true if the error is a protocol error.
func IsProtocol(err error) bool {
	var e *GraphError
	if errors.As(err, &e) {
		return e.Class == ErrorClassProtocol
	}
	return false
}

// IsLookup returns true if the error is a lookup error.
func IsLookup(err error) bool {
	var e *GraphError
	if errors.As(err, &e) {
		return e.Class == ErrorClassLookup
	}
	return false
}

// HasCode returns true if err is a GraphError carrying code.
func HasCode(err error, code string) bool {
	var e *GraphError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Error codes.
const (
	ErrCodeInvalidSignature   = "INVALID_SIGNATURE"
	ErrCodeDuplicateAttribute = "DUPLICATE_ATTRIBUTE"
	ErrCodeDuplicateClass     = "DUPLICATE_CLASS"
	ErrCodeUnknownClass       = "UNKNOWN_CLASS"
	ErrCodeNotSettable        = "NOT_SETTABLE"
	ErrCodeNotOverridable     = "NOT_OVERRIDABLE"
	ErrCodeArgsRequired       = "ARGS_REQUIRED"
	ErrCodeBadArguments       = "BAD_ARGUMENTS"
	ErrCodeUnknownKeyword     = "UNKNOWN_KEYWORD"
	ErrCodeUnrelatedGraph     = "UNRELATED_GRAPH"
	ErrCodeScopeInUse         = "SCOPE_IN_USE"
	ErrCodeScopeOrder         = "SCOPE_ORDER"
	ErrCodeGraphActive        = "GRAPH_ACTIVE"
	ErrCodeCycle              = "CYCLE"
	ErrCodeObjectNotFound     = "OBJECT_NOT_FOUND"
	ErrCodeAttributeNotFound  = "ATTRIBUTE_NOT_FOUND"
	ErrCodeWriteDenied        = "WRITE_DENIED"
)
