package graph

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/mitchellh/copystructure"

	"github.com/ledgerline/depgraph/pkg/entity"
)

// Getter reads another node from inside a computation and records the read as an edge.
// A trailing Kw argument carries keyword arguments for subgraph properties.
type Getter func(entityName, attr string, args ...any) (any, error)

// ComputeFunc computes a property or the initial value of a settable node.
type ComputeFunc func(self *entity.Entity, get Getter) (any, error)

// SetterFunc writes a settable value through to the entity.
type SetterFunc func(self *entity.Entity, value any) error

// CallableFunc computes a callable node for one argument tuple.
type CallableFunc func(self *entity.Entity, get Getter, args ...any) (any, error)

// SubgraphFunc computes a subgraph property from merged keyword arguments.
type SubgraphFunc func(self *entity.Entity, get Getter, kw Kw) (any, error)

// Descriptor binds an attribute name to the rule that builds and computes its nodes.
type Descriptor struct {
	name     string
	kind     NodeKind
	compute  ComputeFunc
	setter   SetterFunc
	call     CallableFunc
	arity    int
	sub      SubgraphFunc
	params   []string
	defaults Kw
	mutable  bool
}

// DescriptorOption customizes a descriptor.
type DescriptorOption func(*Descriptor)

// Mutable marks values of the attribute as mutable. Reads and snapshots then
// receive deep copies so callers cannot change the cached value.
func Mutable() DescriptorOption {
	return func(d *Descriptor) {
		d.mutable = true
	}
}

// DeclareProperty declares a computed attribute without arguments.
func DeclareProperty(name string, fn ComputeFunc, opts ...DescriptorOption) (*Descriptor, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, signatureError(name, "property requires a compute function")
	}
	d := &Descriptor{name: name, kind: KindProperty, compute: fn}
	return d.apply(opts), nil
}

// DeclareSettable declares an input attribute. A nil getter reads the stored
// attribute of the same name; a nil setter writes it.
func DeclareSettable(name string, getter ComputeFunc, setter SetterFunc, opts ...DescriptorOption) (*Descriptor, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if getter == nil {
		getter = storedGetter(name)
	}
	if setter == nil {
		setter = storedSetter(name)
	}
	d := &Descriptor{name: name, kind: KindSettable, compute: getter, setter: setter}
	return d.apply(opts), nil
}

// DeclareCallable declares an attribute computed per argument tuple of the given arity.
func DeclareCallable(name string, arity int, fn CallableFunc, opts ...DescriptorOption) (*Descriptor, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, signatureError(name, "callable requires a compute function")
	}
	if arity < 1 {
		return nil, signatureError(name, "callable must take at least one argument").
			WithDetail("arity", arity)
	}
	d := &Descriptor{name: name, kind: KindCallable, call: fn, arity: arity}
	return d.apply(opts), nil
}

// DeclareSubgraphProperty declares an attribute parameterized by keyword arguments.
// Every parameter needs a default.
func DeclareSubgraphProperty(name string, params []string, defaults Kw, fn SubgraphFunc, opts ...DescriptorOption) (*Descriptor, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, signatureError(name, "subgraph property requires a compute function")
	}
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if seen[p] {
			return nil, signatureError(name, fmt.Sprintf("parameter %q declared twice", p))
		}
		seen[p] = true
		if _, ok := defaults[p]; !ok {
			return nil, signatureError(name, fmt.Sprintf("parameter %q has no default", p))
		}
	}
	for k := range defaults {
		if !seen[k] {
			return nil, signatureError(name, fmt.Sprintf("default for undeclared parameter %q", k))
		}
	}
	d := &Descriptor{
		name:     name,
		kind:     KindSubgraph,
		sub:      fn,
		params:   append([]string(nil), params...),
		defaults: copyKw(defaults),
	}
	return d.apply(opts), nil
}

// Must panics if err is non-nil. It is meant for static class tables.
func Must(d *Descriptor, err error) *Descriptor {
	if err != nil {
		panic(err)
	}
	return d
}

// Name returns the attribute name.
func (d *Descriptor) Name() string { return d.name }

// Kind returns the node variant the descriptor builds.
func (d *Descriptor) Kind() NodeKind { return d.kind }

// Arity returns the number of arguments of a callable.
func (d *Descriptor) Arity() int { return d.arity }

// Params returns the keyword parameters of a subgraph property in declaration order.
func (d *Descriptor) Params() []string { return append([]string(nil), d.params...) }

func (d *Descriptor) apply(opts []DescriptorOption) *Descriptor {
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// checkCall validates the arguments of a read against the variant.
func (d *Descriptor) checkCall(args []any, kw Kw) error {
	switch d.kind {
	case KindCallable:
		if len(args) == 0 {
			return NewProtocolError(fmt.Sprintf("callable %s requires arguments", d.name), nil).
				WithCode(ErrCodeArgsRequired)
		}
		if len(args) != d.arity {
			return NewProtocolError(fmt.Sprintf("callable %s takes %d arguments, got %d", d.name, d.arity, len(args)), nil).
				WithCode(ErrCodeBadArguments)
		}
		if kw != nil {
			return NewProtocolError(fmt.Sprintf("callable %s does not take keyword arguments", d.name), nil).
				WithCode(ErrCodeBadArguments)
		}
	case KindSubgraph:
		if len(args) > 0 {
			return NewProtocolError(fmt.Sprintf("subgraph property %s takes keyword arguments only", d.name), nil).
				WithCode(ErrCodeBadArguments)
		}
	default:
		if len(args) > 0 || kw != nil {
			return NewProtocolError(fmt.Sprintf("%s %s does not take arguments", d.kind, d.name), nil).
				WithCode(ErrCodeBadArguments)
		}
	}
	return nil
}

// mergeKw overlays kw on the declared defaults.
func (d *Descriptor) mergeKw(kw Kw) (Kw, error) {
	merged := copyKw(d.defaults)
	if merged == nil {
		merged = Kw{}
	}
	keys := make([]string, 0, len(kw))
	for k := range kw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := d.defaults[k]; !ok {
			return nil, NewProtocolError(fmt.Sprintf("unknown keyword %q for %s", k, d.name), nil).
				WithCode(ErrCodeUnknownKeyword)
		}
		merged[k] = kw[k]
	}
	return merged, nil
}

// read returns v, deep-copied for mutable descriptors. Scalars are returned as is.
func (d *Descriptor) read(v any) (any, error) {
	if !d.mutable || v == nil {
		return v, nil
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Pointer, reflect.Struct, reflect.Interface:
	default:
		return v, nil
	}
	c, err := copystructure.Copy(v)
	if err != nil {
		return nil, fmt.Errorf("failed to copy value of %s: %w", d.name, err)
	}
	return c, nil
}

func kwEqual(a, b Kw) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}

func checkName(name string) error {
	if name == "" {
		return NewConfigurationError("attribute name is required", nil).WithCode(ErrCodeInvalidSignature)
	}
	return nil
}

func signatureError(name, message string) *GraphError {
	return NewConfigurationError(fmt.Sprintf("invalid declaration of %s: %s", name, message), nil).
		WithCode(ErrCodeInvalidSignature)
}

func storedGetter(attr string) ComputeFunc {
	return func(self *entity.Entity, _ Getter) (any, error) {
		v, ok := self.Attr(attr)
		if !ok {
			return nil, NewLookupError(fmt.Sprintf("entity %s has no stored attribute %s", self.Name, attr), nil).
				WithCode(ErrCodeAttributeNotFound)
		}
		return v, nil
	}
}

func storedSetter(attr string) SetterFunc {
	return func(self *entity.Entity, value any) error {
		self.SetAttr(attr, value)
		return nil
	}
}
