package graph

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/ledgerline/depgraph/pkg/entity"
)

// NodeID identifies a node by entity name, attribute and encoded argument tuple.
type NodeID struct {
	Entity string `json:"entity"`
	Attr   string `json:"attr"`
	Args   string `json:"args,omitempty"`
}

// String formats the id as entity.attr or entity.attr(args).
func (id NodeID) String() string {
	if id.Args == "" {
		return id.Entity + "." + id.Attr
	}
	return id.Entity + "." + id.Attr + "(" + id.Args + ")"
}

// Less orders ids by entity, attribute, then arguments.
func (id NodeID) Less(other NodeID) bool {
	if id.Entity != other.Entity {
		return id.Entity < other.Entity
	}
	if id.Attr != other.Attr {
		return id.Attr < other.Attr
	}
	return id.Args < other.Args
}

// ID builds the identity of entity.attr called with args.
func ID(entityName, attr string, args ...any) (NodeID, error) {
	key, err := encodeArgs(args)
	if err != nil {
		return NodeID{}, err
	}
	return NodeID{Entity: entityName, Attr: attr, Args: key}, nil
}

// Kw carries keyword arguments for subgraph properties.
// Pass it as the last argument of a read.
type Kw map[string]any

func splitKw(args []any) ([]any, Kw) {
	if n := len(args); n > 0 {
		if kw, ok := args[n-1].(Kw); ok {
			return args[:n-1], kw
		}
	}
	return args, nil
}

// encodeArgs renders an argument tuple as a canonical key.
// Integral floats encode like integers so 2 and 2.0 address the same node.
func encodeArgs(args []any) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	parts := make([]string, len(args))
	for i, a := range args {
		s, err := encodeArg(a)
		if err != nil {
			return "", NewProtocolError(fmt.Sprintf("argument %d cannot be used as a node key", i), err).
				WithCode(ErrCodeBadArguments)
		}
		parts[i] = s
	}
	return strings.Join(parts, ","), nil
}

func encodeArg(a any) (string, error) {
	switch v := a.(type) {
	case nil:
		return "nil", nil
	case string:
		return strconv.Quote(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return encodeFloat(float64(v)), nil
	case float64:
		return encodeFloat(v), nil
	}
	t := reflect.TypeOf(a)
	if !t.Comparable() {
		return "", fmt.Errorf("value of type %s is not comparable", t)
	}
	return fmt.Sprintf("%T:%#v", a, a), nil
}

func encodeFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Node is a cached computation slot.
type Node struct {
	id     NodeID
	desc   *Descriptor
	owner  entity.Handle
	value  any
	valid  bool
	fixed  bool
	args   []any
	kwargs Kw
}

// ID returns the node identity.
func (n *Node) ID() NodeID { return n.id }

// Kind returns the node variant.
func (n *Node) Kind() NodeKind { return n.desc.kind }

// Valid reports whether the cached value is current.
func (n *Node) Valid() bool { return n.valid }

// Fixed reports whether the value was installed by a write or override.
func (n *Node) Fixed() bool { return n.fixed }

// Owner returns the handle of the entity the node belongs to.
func (n *Node) Owner() entity.Handle { return n.owner }

// Args returns the argument tuple of a callable node.
func (n *Node) Args() []any {
	return append([]any(nil), n.args...)
}

// Kwargs returns the keyword arguments last used by a subgraph node.
func (n *Node) Kwargs() Kw {
	return copyKw(n.kwargs)
}

// Value returns the cached value, valid or not. Mutable values are copied.
func (n *Node) Value() (any, error) {
	return n.desc.read(n.value)
}

func (n *Node) clone() *Node {
	c := *n
	c.args = append([]any(nil), n.args...)
	c.kwargs = copyKw(n.kwargs)
	return &c
}

func copyKw(kw Kw) Kw {
	if kw == nil {
		return nil
	}
	out := make(Kw, len(kw))
	for k, v := range kw {
		out[k] = v
	}
	return out
}
