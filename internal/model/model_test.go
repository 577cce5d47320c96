package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/errors"
	"github.com/dreamware/strata/internal/schema"
	"github.com/dreamware/strata/internal/shard"
	"github.com/dreamware/strata/internal/storage"
)

var orderColumns = schema.ColumnMetadata{
	Attributes:    []string{"id", "user_id", "status", "count", "meta", "updated_at"},
	PrimaryKey:    []string{"id"},
	AutoIncrement: "id",
	IntTypes:      []string{"id", "user_id", "count"},
}

// spyGateway records the field sets of updates.
type spyGateway struct {
	*storage.MemoryGateway
	updates []storage.Row
}

func (s *spyGateway) Update(ctx context.Context, table string, fields, where storage.Row) (int64, error) {
	s.updates = append(s.updates, fields)
	return s.MemoryGateway.Update(ctx, table, fields, where)
}

// newOrders builds an unsharded Order model on a memory gateway named "db".
func newOrders(t *testing.T, typ Type, opts ...Option) (*Model, *spyGateway) {
	t.Helper()
	gw := &spyGateway{MemoryGateway: storage.NewMemoryGateway()}
	gw.CreateTable("order", orderColumns)

	pool := cluster.NewPool()
	require.NoError(t, pool.Add("db", gw))

	if typ.Name == "" {
		typ.Name = "Order"
	}
	if typ.JSONFields == nil {
		typ.JSONFields = []string{"meta"}
	}
	opts = append([]Option{WithRegistry(schema.NewRegistry())}, opts...)
	m, err := New(typ, pool, opts...)
	require.NoError(t, err)
	return m, gw
}

func TestNewDefaults(t *testing.T) {
	pool := cluster.NewPool()

	t.Run("table from short type name", func(t *testing.T) {
		m, err := New(Type{Definition: schema.Definition{Name: "shop.LineItem"}}, pool)
		require.NoError(t, err)
		assert.Equal(t, "line_item", m.Table())
		assert.Equal(t, "shop.LineItem", m.Name())
		assert.Equal(t, shard.Target{Connection: DefaultConnection, Table: "line_item"}, m.Resolver().Sample())
	})

	t.Run("explicit connection", func(t *testing.T) {
		m, err := New(Type{Definition: schema.Definition{Name: "Order"}, Connection: "orders"}, pool)
		require.NoError(t, err)
		assert.Equal(t, "orders", m.Resolver().Sample().Connection)
		assert.Equal(t, "order", m.Resolver().Sample().Table)
	})

	t.Run("missing name", func(t *testing.T) {
		_, err := New(Type{}, pool)
		assert.True(t, errors.IsKind(err, errors.Config))
	})

	t.Run("missing pool", func(t *testing.T) {
		_, err := New(Type{Definition: schema.Definition{Name: "Order"}}, nil)
		assert.True(t, errors.IsKind(err, errors.Config))
	})

	t.Run("invalid shard map", func(t *testing.T) {
		_, err := New(Type{
			Definition: schema.Definition{Name: "Order"},
			Shards:     shard.Map{Key: "user_id", Entries: []shard.Entry{{Value: "1"}}},
		}, pool)
		assert.True(t, errors.IsKind(err, errors.Config))
	})
}

func TestDescriptorUsesSampleShardTable(t *testing.T) {
	gw := storage.NewMemoryGateway()
	gw.CreateTable("order_0", orderColumns)
	pool := cluster.NewPool()
	require.NoError(t, pool.Add("dbA", gw))

	m, err := New(Type{
		Definition: schema.Definition{Name: "Order"},
		Shards: shard.Map{Key: "user_id", Entries: []shard.Entry{
			{Value: "1", Targets: []shard.Target{{Connection: "dbA", Table: "order_0"}}},
		}},
	}, pool, WithRegistry(schema.NewRegistry()))
	require.NoError(t, err)

	d, err := m.Descriptor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "order", d.Table)
	assert.Equal(t, orderColumns.Attributes, d.Fields)
	assert.Equal(t, []string{"id"}, d.PrimaryKey)
	assert.Equal(t, "id", d.AutoIncrement)
}

func TestDescriptorMissingTable(t *testing.T) {
	pool := cluster.NewPool()
	require.NoError(t, pool.Add("db", storage.NewMemoryGateway()))
	m, err := New(Type{Definition: schema.Definition{Name: "Ghost"}}, pool, WithRegistry(schema.NewRegistry()))
	require.NoError(t, err)

	_, err = m.Descriptor(context.Background())
	assert.True(t, errors.IsKind(err, errors.TableNotFound))
}

func TestInvalidate(t *testing.T) {
	reg := schema.NewRegistry()
	m, gw := newOrders(t, Type{}, WithRegistry(reg))
	ctx := context.Background()

	_, err := m.Descriptor(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	gw.CreateTable("order", schema.ColumnMetadata{
		Attributes: []string{"id", "status"},
		PrimaryKey: []string{"id"},
	})
	d, err := m.Descriptor(ctx)
	require.NoError(t, err)
	assert.Len(t, d.Fields, len(orderColumns.Attributes), "cached until invalidated")

	m.Invalidate()
	d, err = m.Descriptor(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "status"}, d.Fields)
}

func TestGet(t *testing.T) {
	m, gw := newOrders(t, Type{})
	ctx := context.Background()

	_, err := gw.Insert(ctx, "order", storage.Row{
		"id": 7, "user_id": "3", "status": "new", "count": "5", "meta": `{"tags":["a"]}`,
	}, false)
	require.NoError(t, err)

	e, err := m.Get(ctx, nil, 7)
	require.NoError(t, err)

	assert.Equal(t, int64(7), e.Get("id"))
	assert.Equal(t, int64(3), e.Get("user_id"), "int columns are coerced")
	assert.Equal(t, int64(5), e.Get("count"))
	assert.Equal(t, "new", e.Get("status"))
	assert.Equal(t, map[string]any{"tags": []any{"a"}}, e.Get("meta"), "JSON is decoded")
	assert.Nil(t, e.Get("updated_at"))

	snap, ok := e.Snapshot()
	require.True(t, ok)
	assert.Equal(t, e.Values(), snap)

	t.Run("not found", func(t *testing.T) {
		_, err := m.Get(ctx, nil, 8)
		assert.True(t, errors.IsKind(err, errors.NotFound))
	})

	t.Run("wrong key arity", func(t *testing.T) {
		_, err := m.Get(ctx, nil, 7, 8)
		assert.True(t, errors.IsKind(err, errors.Precondition))
	})
}

func TestLoadKeepsInvalidJSON(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m, _ := newOrders(t, Type{}, WithLogger(zap.New(core)))

	e, err := m.Load(context.Background(), storage.Row{"id": 1, "meta": "{not json"})
	require.NoError(t, err)
	assert.Equal(t, "{not json", e.Get("meta"))
	assert.Equal(t, 1, logs.FilterMessage("invalid JSON field value kept as text").Len())
}

func TestEncodeField(t *testing.T) {
	d := &schema.Descriptor{Table: "order", JSONFields: []string{"meta"}}

	tests := []struct {
		name  string
		field string
		in    any
		want  any
	}{
		{"plain field untouched", "status", map[string]any{"a": 1}, map[string]any{"a": 1}},
		{"map to JSON text", "meta", map[string]any{"a": 1}, `{"a":1}`},
		{"slice to JSON text", "meta", []int{1, 2}, `[1,2]`},
		{"string taken as encoded", "meta", `{"a":1}`, `{"a":1}`},
		{"nil stays nil", "meta", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeField(d, tt.field, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := encodeField(d, "meta", make(chan int))
	assert.True(t, errors.IsKind(err, errors.Validation))
}

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"Order":    "order",
		"LineItem": "line_item",
		"user":     "user",
		"ABTest":   "a_b_test",
	}
	for in, want := range tests {
		assert.Equal(t, want, snakeCase(in), in)
	}
}
