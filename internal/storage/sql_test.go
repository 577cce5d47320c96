package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/strata/internal/errors"
	"github.com/dreamware/strata/internal/metrics"
	"github.com/dreamware/strata/internal/value"
)

const sqliteSchema = `
CREATE TABLE "order" (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL,
	status TEXT DEFAULT 'new',
	count INT DEFAULT 0,
	note TEXT
);
CREATE TABLE line (
	order_id INTEGER,
	line_no INTEGER,
	sku TEXT,
	PRIMARY KEY (line_no, order_id)
);
CREATE TABLE log (id INTEGER PRIMARY KEY, msg TEXT);
`

func newSQLiteGateway(t *testing.T, opts ...Option) *SQLGateway {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	g, err := Open("db", "sqlite", "file:"+path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })

	_, err = g.DB().Exec(sqliteSchema)
	require.NoError(t, err)
	return g
}

func TestSQLiteDescribe(t *testing.T) {
	ctx := context.Background()
	g := newSQLiteGateway(t)

	meta, err := g.Describe(ctx, "order")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "user_id", "status", "count", "note"}, meta.Attributes)
	assert.Equal(t, []string{"id"}, meta.PrimaryKey)
	assert.Equal(t, "id", meta.AutoIncrement)
	assert.Equal(t, []string{"id", "user_id", "count"}, meta.IntTypes)

	meta, err = g.Describe(ctx, "line")
	require.NoError(t, err)
	assert.Equal(t, []string{"line_no", "order_id"}, meta.PrimaryKey, "key order, not column order")
	assert.Empty(t, meta.AutoIncrement, "composite keys never auto-increment")

	_, err = g.Describe(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.TableNotFound))
}

func TestSQLiteWrites(t *testing.T) {
	ctx := context.Background()
	g := newSQLiteGateway(t)

	id, err := g.Insert(ctx, "order", Row{"user_id": 7, "status": "new"}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	id, err = g.Insert(ctx, "order", Row{"user_id": 8}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)

	n, err := g.Update(ctx, "order", Row{"count": value.Expression("[count] + 5"), "status": "paid"}, Row{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = g.Update(ctx, "order", Row{"note": "unset"}, Row{"note": nil})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "nil conditions match NULL")

	rows, err := g.Fetch(ctx, Query{Table: "order", Columns: []string{"id", "status", "count"}, Where: Row{"id": 1}})
	require.NoError(t, err)
	assert.Equal(t, []Row{{"id": int64(1), "status": "paid", "count": int64(5)}}, rows)

	rows, err = g.Fetch(ctx, Query{Table: "order", Where: Row{"user_id": 8}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0]["status"], "column default")
	assert.Equal(t, int64(0), rows[0]["count"])

	rows, err = g.Fetch(ctx, Query{Table: "order", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	n, err = g.Delete(ctx, "order", Row{"id": 2})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = g.Delete(ctx, "order", Row{"id": 2})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	id, err = g.Insert(ctx, "log", Row{}, true)
	require.NoError(t, err, "default values insert")
	assert.Equal(t, int64(1), id)

	_, err = g.Insert(ctx, "order", Row{"id": 1, "user_id": 1}, false)
	require.Error(t, err)
	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, errors.Gateway, e.Kind)
	assert.Equal(t, "db", e.Connection)
	assert.Equal(t, "order", e.Table)
}

func TestSQLiteExecute(t *testing.T) {
	ctx := context.Background()
	g := newSQLiteGateway(t)
	for _, uid := range []int{1, 2, 3, 3} {
		_, err := g.Insert(ctx, "order", Row{"user_id": uid}, false)
		require.NoError(t, err)
	}

	n, err := g.Execute(ctx, "UPDATE [order] SET [status] = :status WHERE [user_id] IN (:ids)",
		Bind{"status": "closed", "ids": []int{2, 3}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = g.Execute(ctx, "DELETE FROM [order] WHERE [status] = :status", Bind{"status": "closed"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = g.Execute(ctx, "DELETE FROM [order] WHERE id = :id", nil)
	assert.True(t, errors.IsKind(err, errors.Gateway), "unbound name")

	_, err = g.Execute(ctx, "DELETE FROM [nope] WHERE 1 = 1", nil)
	assert.True(t, errors.IsKind(err, errors.Gateway))
}

func TestSQLiteStatementCache(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	g := newSQLiteGateway(t, WithMetrics(metrics.New(reg)), WithStatementCache(8))

	for i := 0; i < 3; i++ {
		_, err := g.Insert(ctx, "order", Row{"user_id": i}, false)
		require.NoError(t, err)
		_, err = g.Update(ctx, "order", Row{"status": "x"}, Row{"user_id": i})
		require.NoError(t, err)
	}
	// same columns, different values: one shape each
	assert.Equal(t, 2, g.cache.Len())

	_, err := g.Update(ctx, "order", Row{"count": value.Expression("count + 1")}, Row{"user_id": 1})
	require.NoError(t, err)
	assert.Equal(t, 3, g.cache.Len(), "expressions are part of the shape")

	count, err := testutil.GatherAndCount(reg, "strata_gateway_statements_total", "strata_gateway_statement_cache_hits_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "insert ok, update ok, cache hits")

	uncached := newSQLiteGateway(t, WithStatementCache(0))
	_, err = uncached.Insert(ctx, "order", Row{"user_id": 1}, false)
	require.NoError(t, err)
	assert.Nil(t, uncached.cache)
}

func TestSQLitePing(t *testing.T) {
	g := newSQLiteGateway(t)
	assert.NoError(t, g.Ping(context.Background()))
	assert.Equal(t, "db", g.Name())
	assert.Equal(t, "sqlite", g.Dialect().Name())

	stats := g.Stats()
	assert.Equal(t, uint64(0), stats.Total())
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open("db", "oracle", "dsn")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.Config))
}
