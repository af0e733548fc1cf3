package graph

import (
	"testing"

	"github.com/ledgerline/depgraph/pkg/entity"
)

func constant(v any) ComputeFunc {
	return func(*entity.Entity, Getter) (any, error) { return v, nil }
}

func TestDeclare_ConfigurationErrors(t *testing.T) {
	sub := func(*entity.Entity, Getter, Kw) (any, error) { return nil, nil }
	call := func(*entity.Entity, Getter, ...any) (any, error) { return nil, nil }

	tests := []struct {
		name    string
		declare func() (*Descriptor, error)
	}{
		{"empty name", func() (*Descriptor, error) { return DeclareProperty("", constant(1)) }},
		{"nil property", func() (*Descriptor, error) { return DeclareProperty("p", nil) }},
		{"nil callable", func() (*Descriptor, error) { return DeclareCallable("c", 1, nil) }},
		{"zero arity", func() (*Descriptor, error) { return DeclareCallable("c", 0, call) }},
		{"missing default", func() (*Descriptor, error) {
			return DeclareSubgraphProperty("s", []string{"a", "b"}, Kw{"a": 1}, sub)
		}},
		{"default for unknown parameter", func() (*Descriptor, error) {
			return DeclareSubgraphProperty("s", []string{"a"}, Kw{"a": 1, "z": 2}, sub)
		}},
		{"duplicate parameter", func() (*Descriptor, error) {
			return DeclareSubgraphProperty("s", []string{"a", "a"}, Kw{"a": 1}, sub)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := tt.declare()
			if d != nil {
				t.Error("Expected no descriptor")
			}
			if !IsConfiguration(err) || !HasCode(err, ErrCodeInvalidSignature) {
				t.Errorf("Expected INVALID_SIGNATURE configuration error, got: %v", err)
			}
		})
	}
}

func TestDeclare_Valid(t *testing.T) {
	call := Must(DeclareCallable("fx", 2, func(*entity.Entity, Getter, ...any) (any, error) { return nil, nil }))
	if call.Kind() != KindCallable || call.Arity() != 2 || call.Name() != "fx" {
		t.Errorf("Unexpected callable descriptor: %v %d %s", call.Kind(), call.Arity(), call.Name())
	}

	sub := Must(DeclareSubgraphProperty("curve", []string{"tenor"}, Kw{"tenor": 5},
		func(*entity.Entity, Getter, Kw) (any, error) { return nil, nil }))
	if params := sub.Params(); len(params) != 1 || params[0] != "tenor" {
		t.Errorf("Unexpected params: %v", params)
	}

	set := Must(DeclareSettable("limit", nil, nil))
	if set.Kind() != KindSettable {
		t.Errorf("Expected settable, got %v", set.Kind())
	}
}

func TestMust_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected Must to panic on error")
		}
	}()
	Must(DeclareProperty("", nil))
}

func TestNewClass_DuplicateAttribute(t *testing.T) {
	a := Must(DeclareProperty("v", constant(1)))
	b := Must(DeclareProperty("v", constant(2)))

	_, err := NewClass("Dup", a, b)
	if !IsConfiguration(err) || !HasCode(err, ErrCodeDuplicateAttribute) {
		t.Errorf("Expected DUPLICATE_ATTRIBUTE, got: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	c1, _ := NewClass("A", Must(DeclareProperty("v", constant(1))))
	c2, _ := NewClass("A")

	if _, err := NewRegistry(c1, c2); !HasCode(err, ErrCodeDuplicateClass) {
		t.Errorf("Expected DUPLICATE_CLASS, got: %v", err)
	}

	r, err := NewRegistry(c1)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	stored := map[string]struct{}{"v": {}, "w": {}}

	d, err := r.Descriptor("A", "v", stored)
	if err != nil || d.Kind() != KindProperty {
		t.Errorf("Expected declared property to win over stored attribute, got %v %v", d, err)
	}
	d, err = r.Descriptor("A", "w", stored)
	if err != nil || d.Kind() != KindSettable {
		t.Errorf("Expected stored attribute to be settable, got %v %v", d, err)
	}
	again, _ := r.Descriptor("B", "w", stored)
	if again != d {
		t.Error("Expected default settable descriptors to be shared per attribute")
	}
	if _, err := r.Descriptor("A", "missing", stored); !HasCode(err, ErrCodeAttributeNotFound) {
		t.Errorf("Expected ATTRIBUTE_NOT_FOUND, got: %v", err)
	}
	if names := r.Classes(); len(names) != 1 || names[0] != "A" {
		t.Errorf("Unexpected classes: %v", names)
	}
}

func TestNodeID_Encoding(t *testing.T) {
	tests := []struct {
		name string
		args []any
		want string
	}{
		{"no args", nil, "e.a"},
		{"int", []any{3}, "e.a(3)"},
		{"integral float", []any{3.0}, "e.a(3)"},
		{"fraction", []any{2.5}, "e.a(2.5)"},
		{"string with comma", []any{"x,y"}, `e.a("x,y")`},
		{"mixed", []any{1, "b", true, nil}, `e.a(1,"b",true,nil)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ID("e", "a", tt.args...)
			if err != nil {
				t.Fatalf("ID failed: %v", err)
			}
			if id.String() != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, id.String())
			}
		})
	}

	if _, err := ID("e", "a", map[string]int{}); !HasCode(err, ErrCodeBadArguments) {
		t.Errorf("Expected BAD_ARGUMENTS for a map argument, got: %v", err)
	}
}

func TestNodeKind_String(t *testing.T) {
	kinds := map[NodeKind]string{
		KindProperty: "property",
		KindSettable: "settable",
		KindCallable: "callable",
		KindSubgraph: "subgraph",
		NodeKind(42): "unknown",
	}
	for k, want := range kinds {
		if k.String() != want {
			t.Errorf("Expected %s, got %s", want, k.String())
		}
	}
	if KindCallable.Overridable() || !KindProperty.Overridable() {
		t.Error("Unexpected Overridable result")
	}
}

func TestLayer_Tombstones(t *testing.T) {
	base := newLayer[string, int](nil)
	base.set("a", 1)
	base.set("b", 2)

	top := newLayer(base)
	top.set("c", 3)
	top.del("a")

	if _, ok := top.get("a"); ok {
		t.Error("Expected a hidden by tombstone")
	}
	if v, _ := base.get("a"); v != 1 {
		t.Error("Expected base untouched")
	}
	if v, ok := top.get("b"); !ok || v != 2 {
		t.Errorf("Expected b to fall through, got %v %v", v, ok)
	}
	if keys := top.keys(); len(keys) != 2 {
		t.Errorf("Expected 2 visible keys, got %v", keys)
	}

	top.set("a", 10)
	if v, _ := top.get("a"); v != 10 {
		t.Errorf("Expected re-set a=10, got %v", v)
	}

	top.clear()
	if keys := top.keys(); len(keys) != 0 {
		t.Errorf("Expected no visible keys after clear, got %v", keys)
	}
	top.reset(base)
	if keys := top.keys(); len(keys) != 2 {
		t.Errorf("Expected base keys after reset, got %v", keys)
	}
}
