package schema

import (
	"errors"
	"slices"
)

// Registry is the read-only set of resolved descriptors, keyed by table name.
// It is built once during initialization and shared by reference.
type Registry struct {
	tables map[string]*Descriptor
	names  []string
}

// NewRegistry resolves every spec. Tables that fail resolution are left out and
// their errors joined into the returned error; the registry always holds the
// tables that resolved.
func NewRegistry(opts Options, specs ...TableSpec) (*Registry, error) {
	r := &Registry{tables: make(map[string]*Descriptor, len(specs))}

	var errs []error
	for _, spec := range specs {
		d, err := Resolve(spec, opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, exists := r.tables[d.Table]; exists {
			errs = append(errs, configErrorf(d.Table, "table registered more than once"))
			continue
		}
		r.tables[d.Table] = d
		r.names = append(r.names, d.Table)
	}
	slices.Sort(r.names)

	return r, errors.Join(errs...)
}

// Get returns the descriptor for table.
func (r *Registry) Get(table string) (*Descriptor, bool) {
	d, ok := r.tables[table]
	return d, ok
}

// Tables returns the registered table names in sorted order.
func (r *Registry) Tables() []string {
	return slices.Clone(r.names)
}

// Len returns the number of registered tables
func (r *Registry) Len() int {
	return len(r.names)
}

// Without returns a registry holding every table except the given ones. The
// receiver is returned unchanged when nothing is removed.
func (r *Registry) Without(tables ...string) *Registry {
	if len(tables) == 0 {
		return r
	}
	out := &Registry{tables: make(map[string]*Descriptor, len(r.tables))}
	for _, name := range r.names {
		if slices.Contains(tables, name) {
			continue
		}
		out.tables[name] = r.tables[name]
		out.names = append(out.names, name)
	}
	return out
}
