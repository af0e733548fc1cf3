package model

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/ledgerline/depgraph/pkg/entity"
	"github.com/ledgerline/depgraph/pkg/graph"
)

// errKey is the thread-local slot holding the error a builtin failed with,
// so it can be returned unwrapped from starlark.Call.
const errKey = "depgraph.error"

// StarlarkLoader builds a class registry from a Starlark model script.
type StarlarkLoader struct {
	timeout  time.Duration
	maxSteps uint64
	logger   zerolog.Logger
}

// LoaderOption configures a StarlarkLoader.
type LoaderOption func(*StarlarkLoader)

// WithTimeout bounds the execution of the model script itself.
func WithTimeout(d time.Duration) LoaderOption {
	return func(l *StarlarkLoader) { l.timeout = d }
}

// WithMaxSteps bounds every single computation run by a loaded function.
// Zero means unlimited.
func WithMaxSteps(n uint64) LoaderOption {
	return func(l *StarlarkLoader) { l.maxSteps = n }
}

// WithLoaderLogger sets the logger used for script prints and diagnostics.
func WithLoaderLogger(logger zerolog.Logger) LoaderOption {
	return func(l *StarlarkLoader) { l.logger = logger }
}

// NewStarlarkLoader creates a loader.
func NewStarlarkLoader(opts ...LoaderOption) *StarlarkLoader {
	l := &StarlarkLoader{
		timeout: 30 * time.Second,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadFile executes the model script at path.
func (l *StarlarkLoader) LoadFile(ctx context.Context, path string) (*graph.Registry, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}
	return l.Load(ctx, path, src)
}

// Load executes a model script and returns the classes it declared.
//
// The script declares attributes with
//
//	declare_property(fn, mutable=False)
//	declare_settable(getter=None, mutable=False)
//	declare_callable(fn, mutable=False)
//	declare_subgraph_property(fn, defaults={}, mutable=False)
//
// and binds them to classes with declare_class(name, attrs={...}). A
// subgraph function gives every parameter after get a default; defaults=
// overrides them. Every
// function receives self (a struct with name and cls) and get, the
// dependency-tracking reader, as its first two parameters.
func (l *StarlarkLoader) Load(ctx context.Context, filename string, src []byte) (*graph.Registry, error) {
	b := &builder{loader: l}

	thread := l.thread("load", false)
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	predeclared := starlark.StringDict{
		"struct":                    starlark.NewBuiltin("struct", starlarkstruct.Make),
		"declare_property":          starlark.NewBuiltin("declare_property", b.declareProperty),
		"declare_settable":          starlark.NewBuiltin("declare_settable", b.declareSettable),
		"declare_callable":          starlark.NewBuiltin("declare_callable", b.declareCallable),
		"declare_subgraph_property": starlark.NewBuiltin("declare_subgraph_property", b.declareSubgraph),
		"declare_class":             starlark.NewBuiltin("declare_class", b.declareClass),
	}

	globals, err := starlark.ExecFile(thread, filename, src, predeclared)
	if err != nil {
		if cause := takeError(thread); cause != nil {
			return nil, cause
		}
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}
	globals.Freeze()

	registry, err := graph.NewRegistry(b.classes...)
	if err != nil {
		return nil, err
	}
	l.logger.Debug().Str("model", filename).Strs("classes", registry.Classes()).Msg("Model loaded")
	return registry, nil
}

func (l *StarlarkLoader) thread(name string, bounded bool) *starlark.Thread {
	logger := l.logger
	t := &starlark.Thread{
		Name: name,
		Print: func(t *starlark.Thread, msg string) {
			logger.Debug().Str("thread", t.Name).Msg(msg)
		},
	}
	if bounded && l.maxSteps > 0 {
		t.SetMaxExecutionSteps(l.maxSteps)
	}
	return t
}

// fail stores err on the thread and returns it to the interpreter.
func fail(thread *starlark.Thread, err error) error {
	thread.SetLocal(errKey, err)
	return err
}

func takeError(thread *starlark.Thread) error {
	err, _ := thread.Local(errKey).(error)
	thread.SetLocal(errKey, nil)
	return err
}

// declaration is the Starlark value returned by the declare_* builtins.
type declaration struct {
	kind     graph.NodeKind
	fn       *starlark.Function
	defaults graph.Kw
	mutable  bool
}

func (d *declaration) String() string        { return fmt.Sprintf("<%s declaration>", d.kind) }
func (d *declaration) Type() string          { return "declaration" }
func (d *declaration) Freeze()               {}
func (d *declaration) Truth() starlark.Bool  { return starlark.True }
func (d *declaration) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: declaration") }

type builder struct {
	loader  *StarlarkLoader
	classes []*graph.Class
}

func (b *builder) declareProperty(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	d := &declaration{kind: graph.KindProperty}
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "fn", &d.fn, "mutable?", &d.mutable); err != nil {
		return nil, err
	}
	return d, nil
}

func (b *builder) declareSettable(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	d := &declaration{kind: graph.KindSettable}
	var getter starlark.Value = starlark.None
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "getter?", &getter, "mutable?", &d.mutable); err != nil {
		return nil, err
	}
	if getter != starlark.None {
		f, ok := getter.(*starlark.Function)
		if !ok {
			return nil, fmt.Errorf("%s: getter must be a function, got %s", fn.Name(), getter.Type())
		}
		d.fn = f
	}
	return d, nil
}

func (b *builder) declareCallable(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	d := &declaration{kind: graph.KindCallable}
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "fn", &d.fn, "mutable?", &d.mutable); err != nil {
		return nil, err
	}
	return d, nil
}

func (b *builder) declareSubgraph(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	d := &declaration{kind: graph.KindSubgraph}
	defaults := starlark.NewDict(0)
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "fn", &d.fn, "defaults?", &defaults, "mutable?", &d.mutable); err != nil {
		return nil, err
	}
	raw, err := FromStarlark(defaults)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	d.defaults = graph.Kw(raw.(map[string]any))
	return d, nil
}

func (b *builder) declareClass(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	attrs := starlark.NewDict(0)
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "attrs?", &attrs); err != nil {
		return nil, err
	}

	keys := make([]string, 0, attrs.Len())
	decls := make(map[string]*declaration, attrs.Len())
	for _, item := range attrs.Items() {
		key, ok := item[0].(starlark.String)
		if !ok {
			return nil, fmt.Errorf("%s: attribute names must be strings, got %s", fn.Name(), item[0].Type())
		}
		d, ok := item[1].(*declaration)
		if !ok {
			return nil, fmt.Errorf("%s: attribute %s must be a declaration, got %s", fn.Name(), key, item[1].Type())
		}
		keys = append(keys, string(key))
		decls[string(key)] = d
	}
	sort.Strings(keys)

	descriptors := make([]*graph.Descriptor, 0, len(keys))
	for _, attr := range keys {
		desc, err := b.descriptor(attr, decls[attr])
		if err != nil {
			return nil, fail(thread, err)
		}
		descriptors = append(descriptors, desc)
	}

	class, err := graph.NewClass(name, descriptors...)
	if err != nil {
		return nil, fail(thread, err)
	}
	b.classes = append(b.classes, class)
	return starlark.String(name), nil
}

// descriptor checks the Starlark function against the protocol for its
// kind and wraps it.
func (b *builder) descriptor(attr string, d *declaration) (*graph.Descriptor, error) {
	var opts []graph.DescriptorOption
	if d.mutable {
		opts = append(opts, graph.Mutable())
	}

	if d.fn != nil {
		if d.fn.HasVarargs() || d.fn.HasKwargs() || d.fn.NumKwonlyParams() > 0 {
			return nil, signatureError(attr, d.fn, "variadic and keyword-only parameters are not supported")
		}
	}

	switch d.kind {
	case graph.KindProperty:
		if d.fn.NumParams() != 2 {
			return nil, signatureError(attr, d.fn, "a property takes exactly (self, get)")
		}
		return graph.DeclareProperty(attr, b.compute(d.fn), opts...)

	case graph.KindSettable:
		var getter graph.ComputeFunc
		if d.fn != nil {
			if d.fn.NumParams() != 2 {
				return nil, signatureError(attr, d.fn, "a settable getter takes exactly (self, get)")
			}
			getter = b.compute(d.fn)
		}
		return graph.DeclareSettable(attr, getter, nil, opts...)

	case graph.KindCallable:
		if d.fn.NumParams() < 3 {
			return nil, signatureError(attr, d.fn, "a callable takes (self, get) and at least one argument")
		}
		return graph.DeclareCallable(attr, d.fn.NumParams()-2, b.callable(d.fn), opts...)

	case graph.KindSubgraph:
		params := make([]string, 0, d.fn.NumParams()-2)
		defaults := make(graph.Kw, len(d.defaults))
		for i := 2; i < d.fn.NumParams(); i++ {
			name, _ := d.fn.Param(i)
			params = append(params, name)
			def := d.fn.ParamDefault(i)
			if def == nil {
				return nil, signatureError(attr, d.fn, fmt.Sprintf("parameter %q has no default", name))
			}
			v, err := FromStarlark(def)
			if err != nil {
				return nil, signatureError(attr, d.fn, fmt.Sprintf("default of %q: %v", name, err))
			}
			defaults[name] = v
		}
		// defaults= overrides the function's own defaults.
		for k, v := range d.defaults {
			defaults[k] = v
		}
		return graph.DeclareSubgraphProperty(attr, params, defaults, b.subgraph(d.fn), opts...)
	}
	return nil, signatureError(attr, d.fn, "unknown declaration kind")
}

func signatureError(attr string, fn *starlark.Function, msg string) error {
	err := graph.NewConfigurationError(fmt.Sprintf("attribute %s: %s", attr, msg), nil).
		WithCode(graph.ErrCodeInvalidSignature)
	if fn != nil {
		err = err.WithDetail("function", fn.Name()).WithDetail("position", fn.Position().String())
	}
	return err
}

func (b *builder) compute(fn *starlark.Function) graph.ComputeFunc {
	return func(self *entity.Entity, get graph.Getter) (any, error) {
		return b.call(fn, self, get, nil, nil)
	}
}

func (b *builder) callable(fn *starlark.Function) graph.CallableFunc {
	return func(self *entity.Entity, get graph.Getter, args ...any) (any, error) {
		return b.call(fn, self, get, args, nil)
	}
}

func (b *builder) subgraph(fn *starlark.Function) graph.SubgraphFunc {
	return func(self *entity.Entity, get graph.Getter, kw graph.Kw) (any, error) {
		return b.call(fn, self, get, nil, kw)
	}
}

func (b *builder) call(fn *starlark.Function, self *entity.Entity, get graph.Getter, args []any, kw graph.Kw) (any, error) {
	thread := b.loader.thread(self.Name, true)

	sargs := starlark.Tuple{selfValue(self), getBuiltin(get)}
	for _, a := range args {
		v, err := ToStarlark(a)
		if err != nil {
			return nil, err
		}
		sargs = append(sargs, v)
	}

	names := make([]string, 0, len(kw))
	for k := range kw {
		names = append(names, k)
	}
	sort.Strings(names)
	kwargs := make([]starlark.Tuple, 0, len(kw))
	for _, k := range names {
		v, err := ToStarlark(kw[k])
		if err != nil {
			return nil, err
		}
		kwargs = append(kwargs, starlark.Tuple{starlark.String(k), v})
	}

	res, err := starlark.Call(thread, fn, sargs, kwargs)
	if err != nil {
		if cause := takeError(thread); cause != nil {
			return nil, cause
		}
		return nil, err
	}
	return FromStarlark(res)
}

func selfValue(e *entity.Entity) starlark.Value {
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"name": starlark.String(e.Name),
		"cls":  starlark.String(e.Class),
	})
}

// getBuiltin exposes get(entity, attr, *args, **kw) to Starlark.
func getBuiltin(get graph.Getter) *starlark.Builtin {
	return starlark.NewBuiltin("get", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) < 2 {
			return nil, fmt.Errorf("%s: want entity and attribute, got %d arguments", fn.Name(), len(args))
		}
		name, ok := starlark.AsString(args[0])
		if !ok {
			return nil, fmt.Errorf("%s: entity must be a string, got %s", fn.Name(), args[0].Type())
		}
		attr, ok := starlark.AsString(args[1])
		if !ok {
			return nil, fmt.Errorf("%s: attribute must be a string, got %s", fn.Name(), args[1].Type())
		}

		goArgs := make([]any, 0, len(args)-2+1)
		for _, a := range args[2:] {
			v, err := FromStarlark(a)
			if err != nil {
				return nil, err
			}
			goArgs = append(goArgs, v)
		}
		if len(kwargs) > 0 {
			kw := make(graph.Kw, len(kwargs))
			for _, pair := range kwargs {
				v, err := FromStarlark(pair[1])
				if err != nil {
					return nil, err
				}
				kw[string(pair[0].(starlark.String))] = v
			}
			goArgs = append(goArgs, kw)
		}

		v, err := get(name, attr, goArgs...)
		if err != nil {
			return nil, fail(thread, err)
		}
		sv, err := ToStarlark(v)
		if err != nil {
			return nil, fail(thread, err)
		}
		return sv, nil
	})
}
