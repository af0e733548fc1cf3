package entity

import (
	"errors"
	"testing"
)

func TestArena_InsertAndGet(t *testing.T) {
	arena := NewArena()
	h, err := arena.Insert(New("AAPL", "Stock", map[string]any{"price": 190.5}))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	e, ok := arena.Get(h)
	if !ok {
		t.Fatal("Expected handle to resolve")
	}
	if e.Name != "AAPL" || e.Class != "Stock" {
		t.Errorf("Unexpected entity: %+v", e)
	}
	if v, _ := e.Attr("price"); v != 190.5 {
		t.Errorf("Expected price 190.5, got %v", v)
	}

	if _, err := arena.Insert(New("AAPL", "Stock", nil)); !errors.Is(err, ErrExists) {
		t.Errorf("Expected ErrExists, got: %v", err)
	}
}

func TestArena_RemoveInvalidatesHandle(t *testing.T) {
	arena := NewArena()
	h, _ := arena.Insert(New("a", "", nil))

	if !arena.Remove("a") {
		t.Fatal("Expected entity to be removed")
	}
	if _, ok := arena.Get(h); ok {
		t.Error("Expected stale handle to resolve to nothing")
	}

	// The slot is reused, the old handle must still be stale.
	h2, _ := arena.Insert(New("b", "", nil))
	if h2.index != h.index {
		t.Errorf("Expected slot %d to be reused, got %d", h.index, h2.index)
	}
	if _, ok := arena.Get(h); ok {
		t.Error("Expected old handle to stay stale after slot reuse")
	}
	if e, ok := arena.Get(h2); !ok || e.Name != "b" {
		t.Errorf("Expected new handle to resolve to b, got %v %v", e, ok)
	}
}

func TestArena_Replace(t *testing.T) {
	arena := NewArena()
	old, _ := arena.Insert(New("a", "X", map[string]any{"v": 1}))
	h, err := arena.Replace(New("a", "X", map[string]any{"v": 2}))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if _, ok := arena.Get(old); ok {
		t.Error("Expected replaced handle to be stale")
	}
	e, _ := arena.Get(h)
	if v, _ := e.Attr("v"); v != 2 {
		t.Errorf("Expected v=2, got %v", v)
	}
	if arena.Len() != 1 {
		t.Errorf("Expected 1 entity, got %d", arena.Len())
	}
}

func TestArena_Resolve(t *testing.T) {
	arena := NewArena()
	_, _ = arena.Insert(New("b", "", nil))
	_, _ = arena.Insert(New("a", "", nil))

	if _, err := arena.Resolve("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got: %v", err)
	}

	names := arena.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Expected sorted names [a b], got %v", names)
	}

	var zero Handle
	if _, ok := arena.Get(zero); ok {
		t.Error("Expected zero handle not to resolve")
	}
}

func TestFingerprint(t *testing.T) {
	a := New("x", "Stock", map[string]any{"price": 1.5, "ticker": "X"})
	b := New("y", "Stock", map[string]any{"ticker": "X", "price": 1.5})
	c := New("x", "Stock", map[string]any{"price": 2.5, "ticker": "X"})

	fa, err := Fingerprint(a)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	fb, _ := Fingerprint(b)
	fc, _ := Fingerprint(c)

	if fa != fb {
		t.Error("Expected equal fingerprints for equal content")
	}
	if fa == fc {
		t.Error("Expected different fingerprints for different content")
	}
}

func TestEntity_AttributesIsCopy(t *testing.T) {
	e := New("x", "", map[string]any{"a": 1})
	attrs := e.Attributes()
	attrs["a"] = 2

	if v, _ := e.Attr("a"); v != 1 {
		t.Errorf("Expected stored attribute to be unchanged, got %v", v)
	}
	if _, ok := e.StoredNames()["a"]; !ok {
		t.Error("Expected a in stored names")
	}
}
