// Package entity holds the domain objects whose attributes feed the dependency graph.
//
// Entities are stored in an Arena and referenced through generation-checked Handles.
// A Handle never keeps an entity alive: once the entity is removed or replaced the
// Handle resolves to nothing, which is how graph nodes hold a non-owning reference to
// the entity they were computed for.
//
// # Stored attributes
//
// Every entity carries a bag of stored attributes. The graph treats any stored
// attribute that has no declared descriptor as a settable input, so an entity loaded
// from the store is immediately usable without declaring every field.
//
//	arena := entity.NewArena()
//	h, _ := arena.Insert(entity.New("AAPL", "Stock", map[string]any{"price": 190.5}))
//	e, ok := arena.Get(h)
package entity
