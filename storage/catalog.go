package storage

import (
	"sort"

	"github.com/maxBogovick/memodb/core"
)

// Catalog maps table and view names to their descriptors. A Catalog value
// is immutable by reference: mutation builds a new map and the engine swaps
// the pointer under its exclusive lock, so readers holding a reference keep
// a consistent schema for the duration of a statement regardless of
// concurrent DDL.
type Catalog struct {
	tables map[string]*Table
	views  map[string]core.ViewDef
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		tables: map[string]*Table{},
		views:  map[string]core.ViewDef{},
	}
}

// Get returns a table by name.
func (c *Catalog) Get(name string) (*Table, bool) {
	t, ok := c.tables[name]
	return t, ok
}

// Contains reports whether a table exists.
func (c *Catalog) Contains(name string) bool {
	_, ok := c.tables[name]
	return ok
}

// View returns a view definition by name.
func (c *Catalog) View(name string) (core.ViewDef, bool) {
	v, ok := c.views[name]
	return v, ok
}

// List returns the table names in sorted order.
func (c *Catalog) List() []string {
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListViews returns the view names in sorted order.
func (c *Catalog) ListViews() []string {
	names := make([]string, 0, len(c.views))
	for name := range c.views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) clone() *Catalog {
	out := &Catalog{
		tables: make(map[string]*Table, len(c.tables)),
		views:  make(map[string]core.ViewDef, len(c.views)),
	}
	for name, t := range c.tables {
		out.tables[name] = t
	}
	for name, v := range c.views {
		out.views[name] = v
	}
	return out
}

// WithTable returns a new catalog that includes (or replaces) the table.
func (c *Catalog) WithTable(t *Table) *Catalog {
	out := c.clone()
	out.tables[t.Schema.Name] = t
	return out
}

// WithoutTable returns a new catalog without the named table.
func (c *Catalog) WithoutTable(name string) *Catalog {
	out := c.clone()
	delete(out.tables, name)
	return out
}

// WithView returns a new catalog that includes (or replaces) the view.
func (c *Catalog) WithView(v core.ViewDef) *Catalog {
	out := c.clone()
	out.views[v.Name] = v
	return out
}

// WithoutView returns a new catalog without the named view.
func (c *Catalog) WithoutView(name string) *Catalog {
	out := c.clone()
	delete(out.views, name)
	return out
}

// Fork deep-clones every table descriptor while sharing version storage.
// The two catalogs then diverge independently.
func (c *Catalog) Fork() *Catalog {
	out := &Catalog{
		tables: make(map[string]*Table, len(c.tables)),
		views:  make(map[string]core.ViewDef, len(c.views)),
	}
	for name, t := range c.tables {
		out.tables[name] = t.Clone()
	}
	for name, v := range c.views {
		out.views[name] = v
	}
	return out
}
