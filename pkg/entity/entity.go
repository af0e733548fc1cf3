package entity

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Entity is a named domain object with a class and a set of stored attributes.
type Entity struct {
	// Name is the unique identifier used to resolve the entity.
	Name string `json:"name"`

	// Class selects the attribute descriptors that apply to the entity.
	Class string `json:"class"`

	attrs map[string]any
}

// New creates an entity. The attribute map is copied.
func New(name, class string, attrs map[string]any) *Entity {
	e := &Entity{
		Name:  name,
		Class: class,
		attrs: make(map[string]any, len(attrs)),
	}
	for k, v := range attrs {
		e.attrs[k] = v
	}
	return e
}

// Attr returns a stored attribute value.
func (e *Entity) Attr(name string) (any, bool) {
	v, ok := e.attrs[name]
	return v, ok
}

// SetAttr stores an attribute value.
func (e *Entity) SetAttr(name string, value any) {
	if e.attrs == nil {
		e.attrs = make(map[string]any)
	}
	e.attrs[name] = value
}

// Attributes returns a copy of the stored attributes.
func (e *Entity) Attributes() map[string]any {
	out := make(map[string]any, len(e.attrs))
	for k, v := range e.attrs {
		out[k] = v
	}
	return out
}

// StoredNames returns the set of stored attribute names.
func (e *Entity) StoredNames() map[string]struct{} {
	names := make(map[string]struct{}, len(e.attrs))
	for k := range e.attrs {
		names[k] = struct{}{}
	}
	return names
}

// SortedNames returns the stored attribute names in lexical order.
func (e *Entity) SortedNames() []string {
	names := make([]string, 0, len(e.attrs))
	for k := range e.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy of the entity.
func (e *Entity) Clone() *Entity {
	return New(e.Name, e.Class, e.attrs)
}

// MarshalJSON encodes the entity including its stored attributes.
func (e *Entity) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name       string         `json:"name"`
		Class      string         `json:"class"`
		Attributes map[string]any `json:"attributes"`
	}{e.Name, e.Class, e.Attributes()})
}

// Fingerprint returns a content hash over the class and stored attributes.
// Two entities with equal fingerprints hold the same data.
func Fingerprint(e *Entity) (uint64, error) {
	// encoding/json sorts map keys, so the encoding is canonical.
	data, err := json.Marshal(struct {
		Class string         `json:"class"`
		Attrs map[string]any `json:"attrs"`
	}{e.Class, e.attrs})
	if err != nil {
		return 0, fmt.Errorf("failed to encode entity %s: %w", e.Name, err)
	}
	return xxhash.Sum64(data), nil
}
