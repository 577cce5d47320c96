package schema

import (
	"context"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/exp/slices"

	"github.com/dreamware/strata/internal/errors"
)

// Definition is what an entity type declares about itself. Empty fields are
// filled from the table's metadata.
type Definition struct {
	// Name is the entity type name, e.g. "LineItem". A package qualifier
	// ("shop.LineItem") is ignored by the primary-key conventions.
	Name string

	// Table is the logical table name. Shards may map it to other physical names.
	Table string

	// Fields lists the entity's fields in order. Empty means all attributes.
	Fields []string

	// PrimaryKey overrides primary-key discovery.
	PrimaryKey []string

	// AutoIncrement overrides auto-increment discovery.
	AutoIncrement string

	// JSONFields lists fields holding structured values.
	JSONFields []string

	// IntFields overrides integer-column discovery.
	IntFields []string

	// Static marks the declarations above as complete: the table is never
	// introspected and missing values stay empty.
	Static bool
}

// Descriptor is the resolved, cached view of an entity type.
type Descriptor struct {
	Name          string
	Table         string
	Fields        []string
	Attributes    []string
	PrimaryKey    []string
	AutoIncrement string
	JSONFields    []string
	IntFields     []string
}

// IsComposite reports whether the primary key spans more than one field.
func (d *Descriptor) IsComposite() bool {
	return len(d.PrimaryKey) > 1
}

// HasField reports whether field is one of the entity's fields.
func (d *Descriptor) HasField(field string) bool {
	return slices.Contains(d.Fields, field)
}

// HasAttribute reports whether column exists in the physical table.
func (d *Descriptor) HasAttribute(column string) bool {
	return slices.Contains(d.Attributes, column)
}

// IsJSON reports whether field holds a structured value.
func (d *Descriptor) IsJSON(field string) bool {
	return slices.Contains(d.JSONFields, field)
}

// IsInt reports whether field is integer-typed.
func (d *Descriptor) IsInt(field string) bool {
	return slices.Contains(d.IntFields, field)
}

// Registry caches one Descriptor per entity type name.
//
// Concurrency Model:
//   - Lookups take a read lock; misses build the descriptor without holding
//     any lock, then store it under the write lock
//   - Two goroutines racing on the same miss both describe the table and the
//     later store wins; the result is a pure function of the schema
//   - Returned descriptors are shared and must be treated as read-only
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]*Descriptor)}
}

// Default is the process-wide registry used by models that do not bring their own.
var Default = NewRegistry()

// Descriptor returns the cached descriptor for def.Name, building it on first
// use.
//
// Parameters:
//   - ctx: passed to the provider when the table has to be described
//   - def: the entity type's declarations
//   - p: provider for the type's default shard; may be nil for Static types
//
// Returns:
//   - The resolved descriptor
//   - TableNotFound from the provider, or a Metadata error when no primary
//     key can be determined
func (r *Registry) Descriptor(ctx context.Context, def Definition, p Provider) (*Descriptor, error) {
	r.mu.RLock()
	d, ok := r.descriptors[def.Name]
	r.mu.RUnlock()
	if ok {
		return d, nil
	}

	d, err := Resolve(ctx, def, p)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.descriptors[def.Name] = d
	r.mu.Unlock()
	return d, nil
}

// Invalidate drops the cached descriptor for an entity type.
func (r *Registry) Invalidate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.descriptors, name)
}

// InvalidateAll drops every cached descriptor.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors = make(map[string]*Descriptor)
}

// Len returns the number of cached descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// Resolve builds a descriptor without caching it. The provider is consulted at
// most once, and only when a declaration is missing.
func Resolve(ctx context.Context, def Definition, p Provider) (*Descriptor, error) {
	var meta *ColumnMetadata
	describe := func() (*ColumnMetadata, error) {
		if meta != nil {
			return meta, nil
		}
		if def.Static {
			meta = &ColumnMetadata{Attributes: def.Fields}
			return meta, nil
		}
		if p == nil {
			return nil, errors.Newf(errors.Metadata, "no metadata provider for %s", def.Name).WithTable(def.Table)
		}
		m, err := p.Describe(ctx, def.Table)
		if err != nil {
			return nil, err
		}
		meta = m
		return meta, nil
	}

	d := &Descriptor{
		Name:       def.Name,
		Table:      def.Table,
		Fields:     append([]string(nil), def.Fields...),
		JSONFields: append([]string(nil), def.JSONFields...),
	}

	if len(d.Fields) == 0 {
		m, err := describe()
		if err != nil {
			return nil, err
		}
		d.Fields = append([]string(nil), m.Attributes...)
	}

	pk := append([]string(nil), def.PrimaryKey...)
	if len(pk) == 0 {
		if field := conventionalKey(def.Name, def.Table, d.Fields); field != "" {
			pk = []string{field}
		} else {
			m, err := describe()
			if err != nil {
				return nil, err
			}
			pk = append(pk, m.PrimaryKey...)
		}
	}
	if len(pk) == 0 {
		return nil, errors.Newf(errors.Metadata, "cannot determine primary key of %s", def.Name).WithTable(def.Table)
	}
	d.PrimaryKey = pk

	d.AutoIncrement = def.AutoIncrement
	d.IntFields = append([]string(nil), def.IntFields...)
	if !def.Static && (d.AutoIncrement == "" || def.IntFields == nil) {
		m, err := describe()
		if err != nil {
			return nil, err
		}
		if d.AutoIncrement == "" {
			d.AutoIncrement = m.AutoIncrement
		}
		if def.IntFields == nil {
			d.IntFields = append([]string(nil), m.IntTypes...)
		}
	}

	if meta != nil && !def.Static {
		d.Attributes = append([]string(nil), meta.Attributes...)
	} else {
		d.Attributes = append([]string(nil), d.Fields...)
	}

	return d, nil
}

// PrimaryKey applies the naming conventions and then the physical key:
//
//  1. a field named "id"
//  2. "<lowerCamel(short type name)>_id"
//  3. "<table>_id"
//  4. the key columns of meta, all of them in order when composite
//
// The first match wins. An empty result means no key could be found.
func PrimaryKey(name, table string, fields []string, meta *ColumnMetadata) []string {
	if field := conventionalKey(name, table, fields); field != "" {
		return []string{field}
	}
	if meta == nil {
		return nil
	}
	return append([]string(nil), meta.PrimaryKey...)
}

func conventionalKey(name, table string, fields []string) string {
	if slices.Contains(fields, "id") {
		return "id"
	}
	if try := lowerFirst(shortName(name)) + "_id"; slices.Contains(fields, try) {
		return try
	}
	if try := table + "_id"; table != "" && slices.Contains(fields, try) {
		return try
	}
	return ""
}

func shortName(name string) string {
	if i := strings.LastIndexAny(name, "./\\"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
