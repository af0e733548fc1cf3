package entity

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNotFound is returned when no live entity has the requested name.
	ErrNotFound = errors.New("entity not found")

	// ErrExists is returned by Insert when the name is already taken.
	ErrExists = errors.New("entity already exists")
)

// Handle is a non-owning reference to an entity in an Arena.
// The zero Handle never resolves.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

// String formats the handle for logs.
func (h Handle) String() string {
	return fmt.Sprintf("%d@%d", h.index, h.gen)
}

type slot struct {
	gen    uint32
	entity *Entity
}

// Arena owns entities and hands out generation-checked handles to them.
// Removing an entity bumps the slot generation so outstanding handles go stale.
// An Arena is not safe for concurrent use.
type Arena struct {
	slots  []slot
	free   []uint32
	byName map[string]Handle
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{byName: make(map[string]Handle)}
}

// Insert adds a new entity. It fails with ErrExists if the name is taken.
func (a *Arena) Insert(e *Entity) (Handle, error) {
	if e == nil || e.Name == "" {
		return Handle{}, fmt.Errorf("entity name is required")
	}
	if _, ok := a.byName[e.Name]; ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrExists, e.Name)
	}

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot{})
		idx = uint32(len(a.slots) - 1)
	}

	s := &a.slots[idx]
	s.gen++
	s.entity = e
	h := Handle{index: idx, gen: s.gen}
	a.byName[e.Name] = h
	return h, nil
}

// Replace stores e under its name, removing any previous entity with that name.
// Handles to the previous entity go stale.
func (a *Arena) Replace(e *Entity) (Handle, error) {
	if e != nil {
		a.Remove(e.Name)
	}
	return a.Insert(e)
}

// Get resolves a handle. It returns false for stale or zero handles.
func (a *Arena) Get(h Handle) (*Entity, bool) {
	if h.IsZero() || int(h.index) >= len(a.slots) {
		return nil, false
	}
	s := a.slots[h.index]
	if s.gen != h.gen || s.entity == nil {
		return nil, false
	}
	return s.entity, true
}

// Lookup returns the handle of the live entity with the given name.
func (a *Arena) Lookup(name string) (Handle, bool) {
	h, ok := a.byName[name]
	return h, ok
}

// Remove deletes the named entity. It reports whether an entity was removed.
func (a *Arena) Remove(name string) bool {
	h, ok := a.byName[name]
	if !ok {
		return false
	}
	delete(a.byName, name)
	s := &a.slots[h.index]
	s.entity = nil
	// Bump now so the stale handle cannot match a future occupant.
	s.gen++
	a.free = append(a.free, h.index)
	return true
}

// Names returns the names of all live entities in lexical order.
func (a *Arena) Names() []string {
	names := make([]string, 0, len(a.byName))
	for name := range a.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of live entities.
func (a *Arena) Len() int {
	return len(a.byName)
}

// Resolve returns the handle for name or an error wrapping ErrNotFound.
func (a *Arena) Resolve(name string) (Handle, error) {
	h, ok := a.byName[name]
	if !ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return h, nil
}

// Entity resolves a handle; it is an alias of Get for graph resolvers.
func (a *Arena) Entity(h Handle) (*Entity, bool) {
	return a.Get(h)
}

// StoredAttributeNames returns the stored attribute names of e.
func (a *Arena) StoredAttributeNames(e *Entity) map[string]struct{} {
	return e.StoredNames()
}
