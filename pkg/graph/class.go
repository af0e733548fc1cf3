package graph

import (
	"fmt"
	"sort"
)

// Class is the static attribute table of an entity class.
type Class struct {
	name  string
	attrs map[string]*Descriptor
}

// NewClass builds a class from its descriptors. Duplicate attribute names are a
// configuration error.
func NewClass(name string, descriptors ...*Descriptor) (*Class, error) {
	if name == "" {
		return nil, NewConfigurationError("class name is required", nil).WithCode(ErrCodeInvalidSignature)
	}
	c := &Class{name: name, attrs: make(map[string]*Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d == nil {
			return nil, NewConfigurationError(fmt.Sprintf("class %s: nil descriptor", name), nil).
				WithCode(ErrCodeInvalidSignature)
		}
		if _, ok := c.attrs[d.name]; ok {
			return nil, NewConfigurationError(fmt.Sprintf("class %s declares %s twice", name, d.name), nil).
				WithCode(ErrCodeDuplicateAttribute)
		}
		c.attrs[d.name] = d
	}
	return c, nil
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

// Attr returns the descriptor of a declared attribute.
func (c *Class) Attr(name string) (*Descriptor, bool) {
	d, ok := c.attrs[name]
	return d, ok
}

// Attrs returns the declared attribute names in lexical order.
func (c *Class) Attrs() []string {
	names := make([]string, 0, len(c.attrs))
	for name := range c.attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry maps class names to their attribute tables.
type Registry struct {
	classes  map[string]*Class
	settable map[string]*Descriptor
}

// NewRegistry creates a registry holding the given classes.
func NewRegistry(classes ...*Class) (*Registry, error) {
	r := &Registry{
		classes:  make(map[string]*Class),
		settable: make(map[string]*Descriptor),
	}
	for _, c := range classes {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a class. Registering a name twice is a configuration error.
func (r *Registry) Register(c *Class) error {
	if _, ok := r.classes[c.name]; ok {
		return NewConfigurationError(fmt.Sprintf("class %s registered twice", c.name), nil).
			WithCode(ErrCodeDuplicateClass)
	}
	r.classes[c.name] = c
	return nil
}

// Class returns a registered class.
func (r *Registry) Class(name string) (*Class, bool) {
	c, ok := r.classes[name]
	return c, ok
}

// Classes returns the registered class names in lexical order.
func (r *Registry) Classes() []string {
	names := make([]string, 0, len(r.classes))
	for name := range r.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptor finds the descriptor for attr on an entity of the given class.
// Undeclared attributes present in stored become settable inputs.
func (r *Registry) Descriptor(class, attr string, stored map[string]struct{}) (*Descriptor, error) {
	c, known := r.classes[class]
	if known {
		if d, ok := c.attrs[attr]; ok {
			return d, nil
		}
	}
	if _, ok := stored[attr]; ok {
		return r.defaultSettable(attr), nil
	}
	if !known && class != "" {
		return nil, NewLookupError(fmt.Sprintf("class %s is not registered and has no stored attribute %s", class, attr), nil).
			WithCode(ErrCodeUnknownClass)
	}
	return nil, NewLookupError(fmt.Sprintf("attribute %s not found on class %q", attr, class), nil).
		WithCode(ErrCodeAttributeNotFound)
}

// defaultSettable exposes a stored attribute. Stored values are decoded
// JSON or CUE and may be maps or slices, so reads hand out copies.
func (r *Registry) defaultSettable(attr string) *Descriptor {
	if d, ok := r.settable[attr]; ok {
		return d
	}
	d := &Descriptor{
		name:    attr,
		kind:    KindSettable,
		compute: storedGetter(attr),
		setter:  storedSetter(attr),
		mutable: true,
	}
	r.settable[attr] = d
	return d
}
