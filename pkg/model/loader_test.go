package model

import (
	"context"
	"strings"
	"testing"

	"github.com/ledgerline/depgraph/pkg/entity"
	"github.com/ledgerline/depgraph/pkg/graph"
)

const stockModel = `
def value(self, get):
    return get(self.name, "price") * get(self.name, "quantity")

def fib(self, get, n):
    if n < 2:
        return n
    return get(self.name, "fib", n - 1) + get(self.name, "fib", n - 2)

def scaled(self, get, factor = 1):
    return get(self.name, "price") * factor

def broken(self, get):
    return get(self.name, "missing")

def label(self, get):
    return "%s/%s" % (self.cls, self.name)

declare_class("Stock", attrs = {
    "price":    declare_settable(),
    "quantity": declare_settable(),
    "value":    declare_property(value),
    "fib":      declare_callable(fib),
    "scaled":   declare_subgraph_property(scaled, defaults = {"factor": 2}),
    "broken":   declare_property(broken),
    "label":    declare_property(label),
})
`

func newStockSession(t *testing.T, opts ...LoaderOption) *graph.Session {
	t.Helper()
	registry, err := NewStarlarkLoader(opts...).Load(context.Background(), "stock.star", []byte(stockModel))
	if err != nil {
		t.Fatalf("Failed to load model: %v", err)
	}
	arena := entity.NewArena()
	if _, err := arena.Insert(entity.New("AAPL", "Stock", map[string]any{"price": 10.0, "quantity": 3})); err != nil {
		t.Fatalf("Failed to insert entity: %v", err)
	}
	return graph.NewSession(graph.New(arena, registry))
}

func TestStarlarkLoader_Classes(t *testing.T) {
	registry, err := NewStarlarkLoader().Load(context.Background(), "stock.star", []byte(stockModel))
	if err != nil {
		t.Fatalf("Failed to load model: %v", err)
	}
	if classes := registry.Classes(); len(classes) != 1 || classes[0] != "Stock" {
		t.Errorf("Expected [Stock], got %v", classes)
	}
}

func TestStarlarkLoader_Property(t *testing.T) {
	s := newStockSession(t)

	v, err := s.GetVal("AAPL", "value")
	if err != nil {
		t.Fatalf("GetVal failed: %v", err)
	}
	if v != 30.0 {
		t.Errorf("Expected value 30.0, got %v (%T)", v, v)
	}

	if err := s.SetVal("AAPL", "quantity", 4); err != nil {
		t.Fatalf("SetVal failed: %v", err)
	}
	v, err = s.GetVal("AAPL", "value")
	if err != nil {
		t.Fatalf("GetVal failed: %v", err)
	}
	if v != 40.0 {
		t.Errorf("Expected value 40.0 after set, got %v", v)
	}

	label, err := s.GetVal("AAPL", "label")
	if err != nil {
		t.Fatalf("GetVal failed: %v", err)
	}
	if label != "Stock/AAPL" {
		t.Errorf("Expected label Stock/AAPL, got %v", label)
	}
}

func TestStarlarkLoader_Callable(t *testing.T) {
	s := newStockSession(t)

	v, err := s.GetVal("AAPL", "fib", 20)
	if err != nil {
		t.Fatalf("GetVal failed: %v", err)
	}
	if v != int64(6765) {
		t.Errorf("Expected fib(20) = 6765, got %v (%T)", v, v)
	}

	// Every argument tuple is memoized as its own node.
	n := 0
	for _, id := range s.Graph().NodeIDs() {
		if id.Attr == "fib" {
			n++
		}
	}
	if n != 21 {
		t.Errorf("Expected 21 fib nodes, got %d", n)
	}
}

func TestStarlarkLoader_Subgraph(t *testing.T) {
	s := newStockSession(t)

	tests := []struct {
		name string
		args []any
		want float64
	}{
		{name: "defaults", want: 20},
		{name: "keyword", args: []any{graph.Kw{"factor": 3}}, want: 30},
		{name: "keyword again", args: []any{graph.Kw{"factor": 0.5}}, want: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := s.GetVal("AAPL", "scaled", tt.args...)
			if err != nil {
				t.Fatalf("GetVal failed: %v", err)
			}
			if v != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, v)
			}
		})
	}
}

func TestStarlarkLoader_ErrorPropagation(t *testing.T) {
	s := newStockSession(t)

	_, err := s.GetVal("AAPL", "broken")
	if err == nil {
		t.Fatal("Expected error reading missing attribute")
	}
	if !graph.HasCode(err, graph.ErrCodeAttributeNotFound) {
		t.Errorf("Expected ATTRIBUTE_NOT_FOUND to pass through the script, got: %v", err)
	}
}

func TestStarlarkLoader_SignatureErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{
			name: "property with one parameter",
			src: `
def f(self):
    return 1
declare_class("C", attrs = {"a": declare_property(f)})
`,
		},
		{
			name: "callable without arguments",
			src: `
def f(self, get):
    return 1
declare_class("C", attrs = {"a": declare_callable(f)})
`,
		},
		{
			name: "settable getter with extra parameter",
			src: `
def f(self, get, x):
    return x
declare_class("C", attrs = {"a": declare_settable(f)})
`,
		},
		{
			name: "variadic property",
			src: `
def f(self, get, *args):
    return 1
declare_class("C", attrs = {"a": declare_property(f)})
`,
		},
		{
			name: "subgraph parameter without default",
			src: `
def f(self, get, k):
    return k
declare_class("C", attrs = {"a": declare_subgraph_property(f, defaults = {"k": 1})})
`,
		},
		{
			name: "subgraph default for unknown parameter",
			src: `
def f(self, get, k = 1):
    return k
declare_class("C", attrs = {"a": declare_subgraph_property(f, defaults = {"j": 1})})
`,
		},
		{
			name: "keyword-only subgraph parameter",
			src: `
def f(self, get, *, k):
    return k
declare_class("C", attrs = {"a": declare_subgraph_property(f)})
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStarlarkLoader().Load(context.Background(), "bad.star", []byte(tt.src))
			if !graph.HasCode(err, graph.ErrCodeInvalidSignature) {
				t.Fatalf("Expected INVALID_SIGNATURE, got: %v", err)
			}
			if !graph.IsConfiguration(err) {
				t.Errorf("Expected a configuration error, got: %v", err)
			}
		})
	}
}

func TestStarlarkLoader_SubgraphFunctionDefaults(t *testing.T) {
	src := `
def view(self, get, factor = 3, offset = 0):
    return factor + offset

declare_class("C", attrs = {
    "view":  declare_subgraph_property(view),
    "moved": declare_subgraph_property(view, defaults = {"offset": 10}),
})
`
	registry, err := NewStarlarkLoader().Load(context.Background(), "view.star", []byte(src))
	if err != nil {
		t.Fatalf("Failed to load model: %v", err)
	}
	arena := entity.NewArena()
	if _, err := arena.Insert(entity.New("c", "C", nil)); err != nil {
		t.Fatalf("Failed to insert entity: %v", err)
	}
	s := graph.NewSession(graph.New(arena, registry))

	tests := []struct {
		attr string
		args []any
		want int64
	}{
		{attr: "view", want: 3},
		{attr: "view", args: []any{graph.Kw{"factor": 5}}, want: 5},
		{attr: "moved", want: 13},
		{attr: "moved", args: []any{graph.Kw{"offset": 1}}, want: 4},
	}
	for _, tt := range tests {
		v, err := s.GetVal("c", tt.attr, tt.args...)
		if err != nil {
			t.Fatalf("GetVal(%s, %v) failed: %v", tt.attr, tt.args, err)
		}
		if v != tt.want {
			t.Errorf("GetVal(%s, %v) = %v (%T), want %v", tt.attr, tt.args, v, v, tt.want)
		}
	}
}

func TestStarlarkLoader_DuplicateClass(t *testing.T) {
	src := `
declare_class("C")
declare_class("C")
`
	_, err := NewStarlarkLoader().Load(context.Background(), "dup.star", []byte(src))
	if !graph.HasCode(err, graph.ErrCodeDuplicateClass) {
		t.Errorf("Expected DUPLICATE_CLASS, got: %v", err)
	}
}

func TestStarlarkLoader_ScriptErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{name: "syntax", src: "def f(:\n", wantErr: "starlark execution failed"},
		{name: "not a declaration", src: `declare_class("C", attrs = {"a": 1})`, wantErr: "must be a declaration"},
		{name: "getter not a function", src: `declare_settable(getter = 1)`, wantErr: "getter must be a function"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStarlarkLoader().Load(context.Background(), "bad.star", []byte(tt.src))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestStarlarkLoader_MaxSteps(t *testing.T) {
	src := `
def spin(self, get):
    total = 0
    for i in range(1000000):
        total += i
    return total

declare_class("Stock", attrs = {"spin": declare_property(spin)})
`
	registry, err := NewStarlarkLoader(WithMaxSteps(1000)).Load(context.Background(), "spin.star", []byte(src))
	if err != nil {
		t.Fatalf("Failed to load model: %v", err)
	}
	arena := entity.NewArena()
	_, _ = arena.Insert(entity.New("AAPL", "Stock", nil))
	s := graph.NewSession(graph.New(arena, registry))

	if _, err := s.GetVal("AAPL", "spin"); err == nil {
		t.Error("Expected the step limit to stop the computation")
	}
}

func TestStarlarkLoader_Timeout(t *testing.T) {
	src := `
def spin():
    total = 0
    for i in range(100000000):
        total += i
    return total

total = spin()
`
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewStarlarkLoader().Load(ctx, "slow.star", []byte(src)); err == nil {
		t.Error("Expected a cancelled context to stop the script")
	}
}
