package graph

import (
	"errors"
	"testing"

	"github.com/ledgerline/depgraph/pkg/entity"
)

func TestEvalBlock_Rollback(t *testing.T) {
	f := newChainFixture(t)
	mustGet(t, f.s, "a", "quad")

	err := f.s.WithEvalBlock(func(b *EvalBlock) error {
		if err := b.ChangeValue("a", "x", 5); err != nil {
			return err
		}
		if v := mustGet(t, f.s, "a", "quad"); v != 20 {
			t.Errorf("Expected quad 20 inside block, got %v", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithEvalBlock failed: %v", err)
	}

	if v := mustGet(t, f.s, "a", "quad"); v != 4 {
		t.Errorf("Expected quad 4 after block, got %v", v)
	}
	if v := mustGet(t, f.s, "a", "x"); v != 1 {
		t.Errorf("Expected x 1 after block, got %v", v)
	}

	h, _ := f.arena.Lookup("a")
	e, _ := f.arena.Get(h)
	if v, _ := e.Attr("x"); v != 1 {
		t.Errorf("Expected entity untouched by override, got x=%v", v)
	}

	// The restored x feeds double again.
	double := mustID(t, "a", "double")
	if kids := f.s.Graph().Children(double); len(kids) != 1 || kids[0].Attr != "x" {
		t.Errorf("Expected double -> x after restore, got %v", kids)
	}
	if f.s.Depth() != 0 {
		t.Errorf("Expected no open frames, got %d", f.s.Depth())
	}
}

func TestEvalBlock_Nested(t *testing.T) {
	f := newChainFixture(t)

	outer := f.s.NewEvalBlock()
	if err := outer.ChangeValue("a", "x", 5); err != nil {
		t.Fatalf("ChangeValue failed: %v", err)
	}
	if v := mustGet(t, f.s, "a", "quad"); v != 20 {
		t.Errorf("Expected 20 in outer block, got %v", v)
	}

	inner := f.s.NewEvalBlock()
	if err := inner.ChangeValue("a", "double", 100); err != nil {
		t.Fatalf("ChangeValue failed: %v", err)
	}
	if err := inner.ChangeValue("a", "x", 7); err != nil {
		t.Fatalf("ChangeValue failed: %v", err)
	}
	if v := mustGet(t, f.s, "a", "quad"); v != 200 {
		t.Errorf("Expected 200 in inner block, got %v", v)
	}

	if err := outer.Close(); !HasCode(err, ErrCodeScopeOrder) {
		t.Errorf("Expected SCOPE_ORDER closing outer first, got: %v", err)
	}
	if err := inner.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if v := mustGet(t, f.s, "a", "quad"); v != 20 {
		t.Errorf("Expected 20 after inner block, got %v", v)
	}
	if v := mustGet(t, f.s, "a", "x"); v != 5 {
		t.Errorf("Expected outer override x=5 restored, got %v", v)
	}

	if err := outer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if v := mustGet(t, f.s, "a", "quad"); v != 4 {
		t.Errorf("Expected 4 after outer block, got %v", v)
	}
	if err := outer.Close(); err != nil {
		t.Errorf("Expected second Close to be a no-op, got: %v", err)
	}
	if err := outer.ChangeValue("a", "x", 1); err == nil {
		t.Error("Expected ChangeValue on closed block to fail")
	}
}

func TestEvalBlock_ChangeValueOnlyWhenInnermost(t *testing.T) {
	f := newChainFixture(t)
	b := f.s.NewEvalBlock()
	sc := f.s.NewScope("inner")

	err := f.s.WithScope(sc, func() error {
		if v := mustGet(t, f.s, "a", "double"); v != 2 {
			t.Errorf("Expected double 2 in scope, got %v", v)
		}
		if err := b.ChangeValue("a", "x", 100); !HasCode(err, ErrCodeScopeOrder) {
			t.Errorf("Expected SCOPE_ORDER from an outer block, got: %v", err)
		}
		if v := mustGet(t, f.s, "a", "double"); v != 2 {
			t.Errorf("Expected scope double to stay 2, got %v", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithScope failed: %v", err)
	}

	if err := b.ChangeValue("a", "x", 100); err != nil {
		t.Fatalf("ChangeValue failed once innermost: %v", err)
	}
	if v := mustGet(t, f.s, "a", "double"); v != 200 {
		t.Errorf("Expected double 200 in block, got %v", v)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestEvalBlock_RollbackOnPanic(t *testing.T) {
	f := newChainFixture(t)
	mustGet(t, f.s, "a", "quad")

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("Expected panic to propagate")
			}
		}()
		_ = f.s.WithEvalBlock(func(b *EvalBlock) error {
			_ = b.ChangeValue("a", "x", 50)
			panic("computation blew up")
		})
	}()

	if f.s.Depth() != 0 {
		t.Errorf("Expected block closed after panic, depth %d", f.s.Depth())
	}
	if v := mustGet(t, f.s, "a", "quad"); v != 4 {
		t.Errorf("Expected quad 4 after panic rollback, got %v", v)
	}
}

func TestEvalBlock_NodeCreatedInsideBlockIsRemoved(t *testing.T) {
	f := newChainFixture(t)

	err := f.s.WithEvalBlock(func(b *EvalBlock) error {
		return b.ChangeValue("a", "double", 3)
	})
	if err != nil {
		t.Fatalf("WithEvalBlock failed: %v", err)
	}
	if _, ok := f.s.Graph().Node(mustID(t, "a", "double")); ok {
		t.Error("Expected node created by the override to be dropped")
	}
	if v := mustGet(t, f.s, "a", "quad"); v != 4 {
		t.Errorf("Expected 4, got %v", v)
	}
}

func TestEvalBlock_NotOverridable(t *testing.T) {
	arena := entity.NewArena()
	_, _ = arena.Insert(entity.New("c", "Curve", nil))
	rate := Must(DeclareSubgraphProperty("rate", nil, nil, func(*entity.Entity, Getter, Kw) (any, error) {
		return 1, nil
	}))
	class, _ := NewClass("Curve", rate)
	registry, _ := NewRegistry(class)
	s := NewSession(New(arena, registry))

	err := s.WithEvalBlock(func(b *EvalBlock) error {
		return b.ChangeValue("c", "rate", 2)
	})
	if !IsProtocol(err) || !HasCode(err, ErrCodeNotOverridable) {
		t.Errorf("Expected NOT_OVERRIDABLE, got: %v", err)
	}
}

func TestScope_Isolation(t *testing.T) {
	f := newChainFixture(t)
	mustGet(t, f.s, "a", "quad")

	up := f.s.NewScope("up")
	if err := up.ChangeValue("a", "x", 3); err != nil {
		t.Fatalf("ChangeValue failed: %v", err)
	}

	if v := mustGet(t, f.s, "a", "quad"); v != 4 {
		t.Errorf("Expected base quad 4 before entering, got %v", v)
	}

	err := f.s.WithScope(up, func() error {
		if f.s.Graph() != up.Graph() {
			t.Error("Expected scope graph to be active")
		}
		if v := mustGet(t, f.s, "a", "quad"); v != 12 {
			t.Errorf("Expected quad 12 in scope, got %v", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithScope failed: %v", err)
	}

	if v := mustGet(t, f.s, "a", "quad"); v != 4 {
		t.Errorf("Expected base quad 4 after scope, got %v", v)
	}
	n, _ := f.s.Root().Node(mustID(t, "a", "x"))
	if n.Fixed() {
		t.Error("Expected base x untouched by scope override")
	}
}

func TestScope_ReuseAndSiblings(t *testing.T) {
	f := newChainFixture(t)

	up := f.s.NewScope("up")
	down := f.s.NewScope("down")
	if err := up.ChangeValue("a", "x", 3); err != nil {
		t.Fatalf("ChangeValue failed: %v", err)
	}
	if err := down.ChangeValue("a", "x", -1); err != nil {
		t.Fatalf("ChangeValue failed: %v", err)
	}

	read := func(sc *Scope) any {
		var v any
		if err := f.s.WithScope(sc, func() error {
			v = mustGet(t, f.s, "a", "quad")
			return nil
		}); err != nil {
			t.Fatalf("WithScope failed: %v", err)
		}
		return v
	}

	for i := 0; i < 3; i++ {
		if v := read(up); v != 12 {
			t.Errorf("Round %d: expected up quad 12, got %v", i, v)
		}
		if v := read(down); v != -4 {
			t.Errorf("Round %d: expected down quad -4, got %v", i, v)
		}
		// Base activity between uses must not leak into the scopes.
		if err := f.s.SetVal("a", "x", 10+i); err != nil {
			t.Fatalf("SetVal failed: %v", err)
		}
		if v := mustGet(t, f.s, "a", "quad"); v != 4*(10+i) {
			t.Errorf("Round %d: expected base quad %d, got %v", i, 4*(10+i), v)
		}
	}

	if ids := up.Changes(); len(ids) != 1 || ids[0].Attr != "x" {
		t.Errorf("Expected one recorded change, got %v", ids)
	}
}

func TestScope_PropertyOverrideSurvivesBaseChange(t *testing.T) {
	f := newChainFixture(t)

	fixed := f.s.NewScope("fixed-double")
	if err := fixed.ChangeValue("a", "double", 100); err != nil {
		t.Fatalf("ChangeValue failed: %v", err)
	}
	if err := f.s.SetVal("a", "x", 7); err != nil {
		t.Fatalf("SetVal failed: %v", err)
	}

	err := f.s.WithScope(fixed, func() error {
		if v := mustGet(t, f.s, "a", "quad"); v != 200 {
			t.Errorf("Expected 200, got %v", v)
		}
		if v := mustGet(t, f.s, "a", "x"); v != 7 {
			t.Errorf("Expected base input x=7 visible in scope, got %v", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithScope failed: %v", err)
	}
}

func TestScope_NestedAndRebased(t *testing.T) {
	f := newChainFixture(t)

	outer := f.s.NewScope("outer")
	if err := outer.ChangeValue("a", "double", 100); err != nil {
		t.Fatalf("ChangeValue failed: %v", err)
	}
	// Built over the root graph, entered inside outer.
	inner := f.s.NewScope("inner")
	if err := inner.ChangeValue("a", "y", 5); err != nil {
		t.Fatalf("ChangeValue failed: %v", err)
	}

	err := f.s.WithScope(outer, func() error {
		return f.s.WithScope(inner, func() error {
			if inner.Graph().Base() != outer.Graph() {
				t.Error("Expected inner to be rebased onto outer")
			}
			if v := mustGet(t, f.s, "a", "quad"); v != 200 {
				t.Errorf("Expected outer override visible, got quad=%v", v)
			}
			if v := mustGet(t, f.s, "a", "other"); v != 6 {
				t.Errorf("Expected inner override visible, got other=%v", v)
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("WithScope failed: %v", err)
	}

	if v := mustGet(t, f.s, "a", "quad"); v != 4 {
		t.Errorf("Expected base quad 4, got %v", v)
	}
	if v := mustGet(t, f.s, "a", "other"); v != 11 {
		t.Errorf("Expected base other 11, got %v", v)
	}
}

func TestScope_EnterErrors(t *testing.T) {
	f := newChainFixture(t)
	sc := f.s.NewScope("once")

	exit, err := f.s.Enter(sc)
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	if _, err := f.s.Enter(sc); !HasCode(err, ErrCodeScopeInUse) {
		t.Errorf("Expected SCOPE_IN_USE, got: %v", err)
	}
	if err := f.s.SwitchGraph(New(f.arena, nil)); !HasCode(err, ErrCodeGraphActive) {
		t.Errorf("Expected GRAPH_ACTIVE, got: %v", err)
	}

	b := f.s.NewEvalBlock()
	if err := exit(); !HasCode(err, ErrCodeScopeOrder) {
		t.Errorf("Expected SCOPE_ORDER, got: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := exit(); err != nil {
		t.Fatalf("exit failed: %v", err)
	}
	if err := exit(); err != nil {
		t.Errorf("Expected second exit to be a no-op, got: %v", err)
	}

	other := newChainFixture(t)
	foreign := other.s.NewScope("foreign")
	if _, err := f.s.Enter(foreign); !IsProtocol(err) || !HasCode(err, ErrCodeUnrelatedGraph) {
		t.Errorf("Expected UNRELATED_GRAPH, got: %v", err)
	}
}

func TestScope_RebaseAfterSwitchGraph(t *testing.T) {
	f := newChainFixture(t)
	sc := f.s.NewScope("portable")
	if err := sc.ChangeValue("a", "x", 2); err != nil {
		t.Fatalf("ChangeValue failed: %v", err)
	}

	fresh := New(f.arena, f.s.Root().Registry())
	if err := f.s.SwitchGraph(fresh); err != nil {
		t.Fatalf("SwitchGraph failed: %v", err)
	}
	if _, err := f.s.Enter(sc); !HasCode(err, ErrCodeUnrelatedGraph) {
		t.Fatalf("Expected UNRELATED_GRAPH before rebase, got: %v", err)
	}
	if err := sc.Rebase(fresh); err != nil {
		t.Fatalf("Rebase failed: %v", err)
	}
	err := f.s.WithScope(sc, func() error {
		if v := mustGet(t, f.s, "a", "quad"); v != 8 {
			t.Errorf("Expected 8, got %v", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithScope failed: %v", err)
	}
}

func TestScope_ErrorFromBodyStillExits(t *testing.T) {
	f := newChainFixture(t)
	sc := f.s.NewScope("failing")
	want := errors.New("stop")

	if err := f.s.WithScope(sc, func() error { return want }); err != want {
		t.Errorf("Expected body error, got: %v", err)
	}
	if sc.Active() || f.s.Depth() != 0 {
		t.Error("Expected scope to be exited")
	}
}

func TestScope_WriteGuardAppliesToOverrides(t *testing.T) {
	f := newChainFixture(t, WithWriteGuard(func(w Write) error {
		if w.Operation == OperationOverride && w.Value == 0 {
			return errors.New("zero not allowed")
		}
		return nil
	}))
	sc := f.s.NewScope("guarded")

	if err := sc.ChangeValue("a", "x", 0); !HasCode(err, ErrCodeWriteDenied) {
		t.Errorf("Expected WRITE_DENIED, got: %v", err)
	}
	if len(sc.Changes()) != 0 {
		t.Error("Expected denied change not to be recorded")
	}
}

func TestScope_SubgraphInsideScope(t *testing.T) {
	arena := entity.NewArena()
	_, _ = arena.Insert(entity.New("c", "Curve", map[string]any{"base": 2}))
	rate := Must(DeclareSubgraphProperty("rate", []string{"shift"}, Kw{"shift": 0},
		func(self *entity.Entity, get Getter, kw Kw) (any, error) {
			base, err := get(self.Name, "base")
			if err != nil {
				return nil, err
			}
			return base.(int) + kw["shift"].(int), nil
		}))
	class, _ := NewClass("Curve", rate)
	registry, _ := NewRegistry(class)
	s := NewSession(New(arena, registry))
	mustGet(t, s, "c", "rate")

	sc := s.NewScope("bump")
	if err := sc.ChangeValue("c", "base", 10); err != nil {
		t.Fatalf("ChangeValue failed: %v", err)
	}
	err := s.WithScope(sc, func() error {
		if v := mustGet(t, s, "c", "rate", Kw{"shift": 1}); v != 11 {
			t.Errorf("Expected 11, got %v", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithScope failed: %v", err)
	}
	if v := mustGet(t, s, "c", "rate"); v != 2 {
		t.Errorf("Expected base rate 2, got %v", v)
	}
}
