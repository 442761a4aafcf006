package embedding

import (
	"fmt"
	"regexp"
)

// DefaultSourceColumn is the source column bound when [Columns.Source] is empty.
const DefaultSourceColumn = "word"

// identPattern restricts column names to plain lower-case SQL identifiers.
// Column names are interpolated into DDL and queries.
var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidIdentifier reports whether s is usable as a table or column name.
func ValidIdentifier(s string) bool {
	return len(s) <= 63 && identPattern.MatchString(s)
}

// Columns declares which source column a registration reads and which
// destination column it populates.
type Columns struct {
	// Source is the text column fed to the function. Default: "word".
	Source string

	// SourceType is the declared type of the source column. Default: text.
	SourceType SourceType

	// Destination is the vector column written. Default: the registry name.
	Destination string
}

// Registration is a named binding of a [Function] to its columns.
type Registration struct {
	Name     string
	Function Function
	Columns  Columns
}

// Dimensions is shorthand for r.Function.Dimensions().
func (r Registration) Dimensions() int { return r.Function.Dimensions() }

// Builder collects registrations before the immutable [Registry] is built.
// A Builder is not safe for concurrent use; it is meant to be filled during
// process start-up.
type Builder struct {
	regs  []Registration
	names map[string]struct{}
	dests map[string]struct{}
}

// NewBuilder returns an empty [Builder].
func NewBuilder() *Builder {
	return &Builder{
		names: make(map[string]struct{}),
		dests: make(map[string]struct{}),
	}
}

// Register binds fn under name. It fails with [ErrDuplicateName] when name or
// the destination column is already bound, and with
// [ErrUnsupportedInputType] when the declared source column type differs from
// the function's source type.
func (b *Builder) Register(name string, fn Function, cols Columns) error {
	if fn == nil {
		return fmt.Errorf("embedding: register %q: nil function", name)
	}
	if !ValidIdentifier(name) {
		return fmt.Errorf("embedding: register %q: invalid name", name)
	}
	if cols.Source == "" {
		cols.Source = DefaultSourceColumn
	}
	if cols.SourceType == "" {
		cols.SourceType = SourceText
	}
	if cols.Destination == "" {
		cols.Destination = name
	}
	if !ValidIdentifier(cols.Source) || !ValidIdentifier(cols.Destination) {
		return fmt.Errorf("embedding: register %q: invalid column name (source %q, destination %q)", name, cols.Source, cols.Destination)
	}
	if cols.Source == cols.Destination {
		return fmt.Errorf("embedding: register %q: source and destination column are both %q", name, cols.Source)
	}
	if cols.SourceType != fn.SourceType() {
		return fmt.Errorf("embedding: register %q: column %q is %s, function expects %s: %w",
			name, cols.Source, cols.SourceType, fn.SourceType(), ErrUnsupportedInputType)
	}
	if fn.Dimensions() <= 0 {
		return fmt.Errorf("embedding: register %q: function reports %d dimensions", name, fn.Dimensions())
	}
	if _, ok := b.names[name]; ok {
		return fmt.Errorf("%w: name %q", ErrDuplicateName, name)
	}
	if _, ok := b.dests[cols.Destination]; ok {
		return fmt.Errorf("%w: destination column %q", ErrDuplicateName, cols.Destination)
	}

	b.names[name] = struct{}{}
	b.dests[cols.Destination] = struct{}{}
	b.regs = append(b.regs, Registration{Name: name, Function: fn, Columns: cols})
	return nil
}

// Build freezes the collected registrations into a [Registry]. The builder
// may be discarded afterwards; later Register calls do not affect the
// returned registry.
func (b *Builder) Build() *Registry {
	r := &Registry{
		regs:   make([]Registration, len(b.regs)),
		byName: make(map[string]int, len(b.regs)),
	}
	copy(r.regs, b.regs)
	for i, reg := range r.regs {
		r.byName[reg.Name] = i
	}
	return r
}

// Registry is the immutable set of embedding registrations. It is built once
// at start-up and shared by reference; it needs no locking.
type Registry struct {
	regs   []Registration
	byName map[string]int
}

// Lookup returns the registration bound to name.
func (r *Registry) Lookup(name string) (Registration, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Registration{}, false
	}
	return r.regs[i], true
}

// MustLookup is like [Registry.Lookup] but panics for unknown names. Use it
// only for names registered by the same code path that calls it.
func (r *Registry) MustLookup(name string) Registration {
	reg, ok := r.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("embedding: %q not registered", name))
	}
	return reg
}

// Registrations returns a copy of all registrations in registration order.
func (r *Registry) Registrations() []Registration {
	out := make([]Registration, len(r.regs))
	copy(out, r.regs)
	return out
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.regs))
	for i, reg := range r.regs {
		out[i] = reg.Name
	}
	return out
}

// Len returns the number of registrations.
func (r *Registry) Len() int { return len(r.regs) }

// DefaultRegistry builds the standard two-space registry: "meaning" backed by
// the given function and "ngram" backed by a fresh [Ngram].
func DefaultRegistry(meaning Function) (*Registry, error) {
	b := NewBuilder()
	if err := b.Register(MeaningName, meaning, Columns{}); err != nil {
		return nil, err
	}
	if err := b.Register(NgramName, NewNgram(), Columns{}); err != nil {
		return nil, err
	}
	return b.Build(), nil
}
