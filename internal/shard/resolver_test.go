package shard

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/strata/internal/errors"
)

func twoShardMap() Map {
	return Map{
		Key: "shardKey",
		Entries: []Entry{
			{Value: "1", Targets: []Target{{Connection: "dbA", Table: "t"}}},
			{Value: "2", Targets: []Target{{Connection: "dbB", Table: "t"}}},
		},
	}
}

func TestNewResolverValidation(t *testing.T) {
	tests := []struct {
		name string
		m    Map
	}{
		{"empty map", Map{Key: "k"}},
		{"unsharded without default", Map{}},
		{"unsharded with two defaults", Map{Default: []Target{{"a", "t"}, {"b", "t"}}}},
		{"unsharded with entries", Map{Default: []Target{{"a", "t"}}, Entries: []Entry{{Value: "1", Targets: []Target{{"b", "t"}}}}}},
		{"duplicate entry", Map{Key: "k", Entries: []Entry{{Value: "1", Targets: []Target{{"a", "t"}}}, {Value: "1", Targets: []Target{{"b", "t"}}}}}},
		{"entry without targets", Map{Key: "k", Entries: []Entry{{Value: "1"}}}},
		{"target without table", Map{Key: "k", Default: []Target{{Connection: "a"}}}},
		{"negative buckets", Map{Key: "k", Buckets: -1, Default: []Target{{"a", "t"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(tt.m)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.Config), "got %v", err)
		})
	}

	assert.Panics(t, func() { MustResolver(Map{}) })
}

func TestUniqueShard(t *testing.T) {
	m := twoShardMap()
	m.Default = []Target{{Connection: "db", Table: "t"}}
	r := MustResolver(m)

	got, err := r.UniqueShard(map[string]any{"shardKey": 2, "x": 1})
	require.NoError(t, err)
	assert.Equal(t, Target{Connection: "dbB", Table: "t"}, got)

	got, err = r.UniqueShard(map[string]any{"shardKey": "1"})
	require.NoError(t, err)
	assert.Equal(t, Target{Connection: "dbA", Table: "t"}, got)

	// no key, or a nil key, falls back to the default
	got, err = r.UniqueShard(map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, Target{Connection: "db", Table: "t"}, got)
	got, err = r.UniqueShard(map[string]any{"shardKey": nil})
	require.NoError(t, err)
	assert.Equal(t, "db", got.Connection)

	// an unknown value is an error, not a fallback
	_, err = r.UniqueShard(map[string]any{"shardKey": 3})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.ShardResolution))
	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "shardKey", e.Field)
	assert.Equal(t, "3", e.Shard)
}

func TestUniqueShardErrors(t *testing.T) {
	r := MustResolver(twoShardMap())

	_, err := r.UniqueShard(nil)
	assert.True(t, errors.IsKind(err, errors.ShardResolution), "no default target")

	_, err = r.UniqueShard(map[string]any{"shardKey": map[string]any{}})
	assert.True(t, errors.IsKind(err, errors.ShardResolution), "non-scalar key value")

	multi := MustResolver(Map{
		Key:     "k",
		Entries: []Entry{{Value: "1", Targets: []Target{{"a", "t1"}, {"a", "t2"}}}},
	})
	_, err = multi.UniqueShard(map[string]any{"k": 1})
	assert.True(t, errors.IsKind(err, errors.ShardResolution), "ambiguous entry")
}

func TestUnshardedAlwaysDefault(t *testing.T) {
	r := MustResolver(Single("db", "order"))
	want := Target{Connection: "db", Table: "order"}

	for _, ctx := range []map[string]any{nil, {"id": 1}, {"user_id": 7, "shardKey": "2"}} {
		got, err := r.UniqueShard(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	all := r.AllShards()
	assert.Equal(t, []Target{want}, all.Targets())

	multi, err := r.MultipleShards([]any{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []Target{want}, multi.Targets())
	assert.Equal(t, want, r.Sample())
	assert.Equal(t, "", r.Key())
}

func TestMultipleShards(t *testing.T) {
	m := twoShardMap()
	m.Entries = append(m.Entries,
		Entry{Value: "3", Targets: []Target{{Connection: "dbA", Table: "t"}}},
		Entry{Value: "4", Targets: []Target{{Connection: "dbA", Table: "t_archive"}, {Connection: "dbC", Table: "t"}}},
	)
	r := MustResolver(m)

	groups, err := r.MultipleShards("2")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"dbB": {"t"}}, groups.AsMap())

	groups, err = r.MultipleShards([]int{1, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, Groups{
		{Connection: "dbA", Tables: []string{"t", "t_archive"}},
		{Connection: "dbC", Tables: []string{"t"}},
	}, groups, "1 and 3 share dbA:t")

	groups, err = r.MultipleShards([]string{})
	require.NoError(t, err)
	assert.Equal(t, 0, groups.Len())

	_, err = r.MultipleShards([]any{"1", "9"})
	assert.True(t, errors.IsKind(err, errors.ShardResolution))
}

func TestAllShards(t *testing.T) {
	m := twoShardMap()
	m.Entries = append(m.Entries, Entry{Value: "3", Targets: []Target{{Connection: "dbA", Table: "t"}}})
	m.Default = []Target{{Connection: "dbB", Table: "t"}, {Connection: "db", Table: "t"}}
	r, err := NewResolver(m)
	require.NoError(t, err)

	all := r.AllShards()

	assert.Equal(t, []Target{
		{Connection: "dbA", Table: "t"},
		{Connection: "dbB", Table: "t"},
		{Connection: "db", Table: "t"},
	}, all.Targets(), "each distinct target exactly once, in declaration order")
}

func TestBucketedResolution(t *testing.T) {
	r := MustResolver(Map{
		Key:     "user_id",
		Buckets: 2,
		Entries: []Entry{
			{Value: "0", Targets: []Target{{Connection: "dbA", Table: "user"}}},
			{Value: "1", Targets: []Target{{Connection: "dbB", Table: "user"}}},
		},
	})
	owners := map[string]string{"0": "dbA", "1": "dbB"}

	for _, id := range []any{1, 2, 3, "abc", int64(99)} {
		want := owners[bucketOf(fmt.Sprint(id), 2)]

		got, err := r.UniqueShard(map[string]any{"user_id": id})
		require.NoError(t, err)
		assert.Equal(t, want, got.Connection, "id %v", id)

		targets, err := r.Lookup(id)
		require.NoError(t, err)
		assert.Equal(t, []Target{got}, targets)
	}
}

func TestMapCopy(t *testing.T) {
	r := MustResolver(twoShardMap())
	m := r.Map()
	m.Entries[0].Targets[0].Connection = "changed"

	got, err := r.UniqueShard(map[string]any{"shardKey": 1})
	require.NoError(t, err)
	assert.Equal(t, "dbA", got.Connection)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Register("Order", twoShardMap())
	require.NoError(t, err)
	_, err = reg.Register("Log", Single("db", "log"))
	require.NoError(t, err)

	_, err = reg.Register("Broken", Map{})
	assert.Error(t, err)

	r, err := reg.Resolver("Order")
	require.NoError(t, err)
	assert.Equal(t, "shardKey", r.Key())

	_, err = reg.Resolver("Missing")
	assert.True(t, errors.IsKind(err, errors.ShardResolution))

	assert.Equal(t, []string{"Log", "Order"}, reg.Names())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Resolver("Log")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
