package shard

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dreamware/strata/internal/errors"
	"github.com/dreamware/strata/internal/value"
)

// Resolver answers placement questions for one entity type. It is built from
// a Map and immutable afterwards, so all methods are safe for concurrent use.
type Resolver struct {
	m     Map
	index map[string][]Target // entry value -> targets
}

// NewResolver validates m and builds its lookup index.
//
// Validation rules:
//   - every map resolves to at least one target
//   - an unsharded map (empty Key) has exactly one default target and no entries
//   - entry values are unique and every entry has at least one target
//   - every target names a connection and a table
//
// Example:
//
//	r, err := shard.NewResolver(shard.Map{
//	    Key: "user_id",
//	    Entries: []shard.Entry{
//	        {Value: "1", Targets: []shard.Target{{Connection: "dbA", Table: "order"}}},
//	        {Value: "2", Targets: []shard.Target{{Connection: "dbB", Table: "order"}}},
//	    },
//	})
func NewResolver(m Map) (*Resolver, error) {
	r := &Resolver{m: m, index: make(map[string][]Target, len(m.Entries))}

	if m.Key == "" {
		if len(m.Default) != 1 || len(m.Entries) > 0 {
			return nil, errors.New(errors.Config, "an unsharded map needs exactly one default target and no entries")
		}
	}
	if len(m.Default) == 0 && len(m.Entries) == 0 {
		return nil, errors.New(errors.Config, "shard map has no targets")
	}
	if m.Buckets < 0 {
		return nil, errors.Newf(errors.Config, "invalid bucket count %d", m.Buckets)
	}

	for _, t := range m.Default {
		if err := checkTarget(t); err != nil {
			return nil, err
		}
	}
	for _, e := range m.Entries {
		if _, dup := r.index[e.Value]; dup {
			return nil, errors.Newf(errors.Config, "duplicate shard map entry %q", e.Value)
		}
		if len(e.Targets) == 0 {
			return nil, errors.Newf(errors.Config, "shard map entry %q has no targets", e.Value)
		}
		for _, t := range e.Targets {
			if err := checkTarget(t); err != nil {
				return nil, err
			}
		}
		r.index[e.Value] = e.Targets
	}
	return r, nil
}

// MustResolver is NewResolver for maps known to be valid; it panics otherwise.
func MustResolver(m Map) *Resolver {
	r, err := NewResolver(m)
	if err != nil {
		panic(err)
	}
	return r
}

func checkTarget(t Target) error {
	if t.Connection == "" || t.Table == "" {
		return errors.Newf(errors.Config, "shard target %q needs a connection and a table", t.String())
	}
	return nil
}

// Key returns the shard-key field, or "" for unsharded types.
func (r *Resolver) Key() string {
	return r.m.Key
}

// Map returns a copy of the underlying map.
func (r *Resolver) Map() Map {
	m := r.m
	m.Default = append([]Target(nil), r.m.Default...)
	m.Entries = make([]Entry, len(r.m.Entries))
	for i, e := range r.m.Entries {
		m.Entries[i] = Entry{Value: e.Value, Targets: append([]Target(nil), e.Targets...)}
	}
	return m
}

// Lookup returns the targets owning a single shard-key value.
func (r *Resolver) Lookup(keyValue any) ([]Target, error) {
	s, ok := value.String(keyValue)
	if !ok {
		return nil, errors.Newf(errors.ShardResolution, "shard key value %v (%T) cannot be used for placement", keyValue, keyValue).
			WithField(r.m.Key)
	}
	if r.m.Buckets > 0 {
		s = bucketOf(s, r.m.Buckets)
	}
	targets, ok := r.index[s]
	if !ok {
		return nil, errors.Newf(errors.ShardResolution, "no shard for %s=%s", r.m.Key, s).
			WithField(r.m.Key).WithShard(s)
	}
	return targets, nil
}

// UniqueShard picks the single target for a single-entity operation.
//
// Resolution order:
//  1. the type declares a shard key and keyContext holds a non-nil value for
//     it: that value's entry (a missing entry is an error, never a fallback)
//  2. otherwise the default target
//
// Exactly one target must result.
//
// Parameters:
//   - keyContext: the entity's fields or a statement's bind values
//
// Returns:
//   - The target
//   - A ShardResolution error when no entry or more than one target matches
func (r *Resolver) UniqueShard(keyContext map[string]any) (Target, error) {
	var targets []Target
	shardName := "default"

	if kv, ok := r.keyValue(keyContext); ok {
		found, err := r.Lookup(kv)
		if err != nil {
			return Target{}, err
		}
		targets = found
		shardName, _ = value.String(kv)
	} else {
		targets = r.m.Default
	}

	switch len(targets) {
	case 1:
		return targets[0], nil
	case 0:
		return Target{}, errors.Newf(errors.ShardResolution, "no default shard and %s not given", r.m.Key).
			WithField(r.m.Key)
	default:
		return Target{}, errors.Newf(errors.ShardResolution, "%d shards match, a unique shard is required", len(targets)).
			WithField(r.m.Key).WithShard(shardName)
	}
}

func (r *Resolver) keyValue(keyContext map[string]any) (any, bool) {
	if r.m.Key == "" {
		return nil, false
	}
	v, ok := keyContext[r.m.Key]
	if !ok || value.IsNull(v) {
		return nil, false
	}
	return v, true
}

// MultipleShards returns the shards owning the given key values, deduplicated
// and grouped by connection. keyValues may be a scalar or a slice of scalars.
// An unsharded type always yields its default target.
func (r *Resolver) MultipleShards(keyValues any) (Groups, error) {
	g := newGrouper()
	if r.m.Key == "" {
		g.add(r.m.Default...)
		return g.result(), nil
	}

	for _, kv := range flatten(keyValues) {
		targets, err := r.Lookup(kv)
		if err != nil {
			return nil, err
		}
		g.add(targets...)
	}
	return g.result(), nil
}

// AllShards enumerates every distinct target exactly once, entries first in
// declaration order and the default last. Operations without a shard key fan
// out to all of them.
func (r *Resolver) AllShards() Groups {
	g := newGrouper()
	for _, e := range r.m.Entries {
		g.add(e.Targets...)
	}
	g.add(r.m.Default...)
	return g.result()
}

// Sample returns the target used to introspect the type's schema: the default
// target when there is one, else the first declared target.
func (r *Resolver) Sample() Target {
	if len(r.m.Default) > 0 {
		return r.m.Default[0]
	}
	return r.m.Entries[0].Targets[0]
}

func flatten(v any) []any {
	switch x := v.(type) {
	case []any:
		return x
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []int:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out
	case []int64:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out
	}
	return []any{v}
}

// Registry holds the resolvers of all entity types by name.
//
// Thread Safety:
// All methods are safe for concurrent use. Registration normally happens once
// at startup; lookups take a read lock.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]*Resolver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]*Resolver)}
}

// Register validates m and stores its resolver under name, replacing any
// previous one.
func (reg *Registry) Register(name string, m Map) (*Resolver, error) {
	r, err := NewResolver(m)
	if err != nil {
		return nil, fmt.Errorf("shard map %s: %w", name, err)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.resolvers[name] = r
	return r, nil
}

// Resolver returns the resolver registered under name.
func (reg *Registry) Resolver(name string) (*Resolver, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.resolvers[name]
	if !ok {
		return nil, errors.Newf(errors.ShardResolution, "no shard map registered for %s", name)
	}
	return r, nil
}

// Names returns the registered names in sorted order.
func (reg *Registry) Names() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	names := make([]string, 0, len(reg.resolvers))
	for name := range reg.resolvers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
