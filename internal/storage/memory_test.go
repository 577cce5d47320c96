package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/dreamware/strata/internal/errors"
	"github.com/dreamware/strata/internal/schema"
)

func orderTable() schema.ColumnMetadata {
	return schema.ColumnMetadata{
		Attributes:    []string{"id", "user_id", "status", "count"},
		PrimaryKey:    []string{"id"},
		AutoIncrement: "id",
		IntTypes:      []string{"id", "user_id", "count"},
	}
}

// TestMemoryGateway tests the in-memory gateway implementation
func TestMemoryGateway(t *testing.T) {
	ctx := context.Background()

	t.Run("insert assigns auto-increment ids", func(t *testing.T) {
		g := NewMemoryGateway()
		g.CreateTable("order", orderTable())

		id, err := g.Insert(ctx, "order", Row{"user_id": 1, "status": "new"}, true)
		if err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
		if id != 1 {
			t.Errorf("Expected id 1, got %d", id)
		}

		id, err = g.Insert(ctx, "order", Row{"id": 10, "user_id": 1}, true)
		if err != nil {
			t.Fatalf("Failed to insert explicit id: %v", err)
		}
		if id != 10 {
			t.Errorf("Expected id 10, got %d", id)
		}

		id, _ = g.Insert(ctx, "order", Row{"user_id": 2}, true)
		if id != 11 {
			t.Errorf("Expected id to continue after explicit id, got %d", id)
		}

		id, _ = g.Insert(ctx, "order", Row{"user_id": 3}, false)
		if id != 0 {
			t.Errorf("Expected 0 without returnID, got %d", id)
		}
	})

	t.Run("insert rejects duplicates and unknown columns", func(t *testing.T) {
		g := NewMemoryGateway()
		g.CreateTable("order", orderTable())

		_, err := g.Insert(ctx, "order", Row{"id": 1}, false)
		require.NoError(t, err)
		_, err = g.Insert(ctx, "order", Row{"id": 1}, false)
		assert.True(t, serrors.IsKind(err, serrors.Gateway), "duplicate key")

		_, err = g.Insert(ctx, "order", Row{"colour": "red"}, false)
		assert.True(t, serrors.IsKind(err, serrors.Gateway), "unknown column")
	})

	t.Run("missing table", func(t *testing.T) {
		g := NewMemoryGateway()

		_, err := g.Insert(ctx, "nope", Row{"a": 1}, false)
		assert.True(t, serrors.IsKind(err, serrors.TableNotFound))

		_, err = g.Describe(ctx, "nope")
		assert.True(t, serrors.IsKind(err, serrors.TableNotFound))
	})

	t.Run("update and delete by equality", func(t *testing.T) {
		g := NewMemoryGateway()
		g.CreateTable("order", orderTable())
		for i := 0; i < 4; i++ {
			_, err := g.Insert(ctx, "order", Row{"user_id": i % 2, "status": "new"}, false)
			require.NoError(t, err)
		}

		n, err := g.Update(ctx, "order", Row{"status": "paid"}, Row{"user_id": int64(1)})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		rows, err := g.Fetch(ctx, Query{Table: "order", Where: Row{"status": "paid"}})
		require.NoError(t, err)
		assert.Len(t, rows, 2)

		n, err = g.Delete(ctx, "order", Row{"status": "new"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.Len(t, g.Rows("order"), 2)

		_, err = g.Update(ctx, "order", Row{"status": "x"}, nil)
		assert.Error(t, err, "update without conditions")
		_, err = g.Delete(ctx, "order", Row{})
		assert.Error(t, err, "delete without conditions")
	})

	t.Run("fetch columns and limit", func(t *testing.T) {
		g := NewMemoryGateway()
		g.CreateTable("order", orderTable())
		for i := 0; i < 3; i++ {
			_, _ = g.Insert(ctx, "order", Row{"user_id": 7, "status": "new"}, false)
		}

		rows, err := g.Fetch(ctx, Query{Table: "order", Columns: []string{"id"}, Where: Row{"user_id": 7}, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []Row{{"id": int64(1)}, {"id": int64(2)}}, rows)

		rows, err = g.Fetch(ctx, Query{Table: "order", Where: Row{"count": nil}, Limit: 1})
		require.NoError(t, err)
		require.Len(t, rows, 1, "nil matches missing values")
	})

	t.Run("returned rows are copies", func(t *testing.T) {
		g := NewMemoryGateway()
		g.CreateTable("order", orderTable())
		fields := Row{"status": "new"}
		_, _ = g.Insert(ctx, "order", fields, false)
		fields["status"] = "changed"

		rows, _ := g.Fetch(ctx, Query{Table: "order"})
		rows[0]["status"] = "also changed"

		assert.Equal(t, "new", g.Rows("order")[0]["status"])
	})

	t.Run("execute records statements", func(t *testing.T) {
		g := NewMemoryGateway()
		g.SetExecHandler(func(stmt string, bind Bind) (int64, error) {
			return int64(len(bind)), nil
		})

		n, err := g.Execute(ctx, "UPDATE [t] SET a = :a WHERE b = :b", Bind{"a": 1, "b": 2})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		got := g.Executed()
		require.Len(t, got, 1)
		assert.Equal(t, "UPDATE [t] SET a = :a WHERE b = :b", got[0].SQL)
		assert.Equal(t, Bind{"a": 1, "b": 2}, got[0].Bind)
	})

	t.Run("injected failures fire once", func(t *testing.T) {
		g := NewMemoryGateway()
		g.CreateTable("order", orderTable())
		boom := errors.New("boom")
		g.FailNext("insert", boom)

		_, err := g.Insert(ctx, "order", Row{}, false)
		assert.ErrorIs(t, err, boom)
		_, err = g.Insert(ctx, "order", Row{}, false)
		assert.NoError(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		g := NewMemoryGateway()
		g.CreateTable("order", orderTable())
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := g.Insert(cctx, "order", Row{}, false)
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, g.Ping(cctx), context.Canceled)
	})
}

// TestMemoryGatewayConcurrency tests concurrent writers on one table
func TestMemoryGatewayConcurrency(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()
	g.CreateTable("order", orderTable())

	numGoroutines := 10
	numOps := 50

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				if _, err := g.Insert(ctx, "order", Row{"user_id": worker, "status": fmt.Sprint(j)}, true); err != nil {
					t.Errorf("Insert failed: %v", err)
					return
				}
				if _, err := g.Fetch(ctx, Query{Table: "order", Where: Row{"user_id": worker}}); err != nil {
					t.Errorf("Fetch failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	rows := g.Rows("order")
	if len(rows) != numGoroutines*numOps {
		t.Fatalf("Expected %d rows, got %d", numGoroutines*numOps, len(rows))
	}
	seen := make(map[any]bool)
	for _, r := range rows {
		if seen[r["id"]] {
			t.Fatalf("Duplicate id %v", r["id"])
		}
		seen[r["id"]] = true
	}
}

// TestMemoryGatewayStats tests per-operation counters
func TestMemoryGatewayStats(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()
	g.CreateTable("order", orderTable())

	_, _ = g.Insert(ctx, "order", Row{"status": "a"}, false)
	_, _ = g.Insert(ctx, "order", Row{"status": "b"}, false)
	_, _ = g.Update(ctx, "order", Row{"status": "c"}, Row{"id": 1})
	_, _ = g.Delete(ctx, "order", Row{"id": 2})
	_, _ = g.Execute(ctx, "SELECT 1", nil)
	_, _ = g.Fetch(ctx, Query{Table: "order"})

	stats := g.Stats()
	want := OperationStats{Inserts: 2, Updates: 1, Deletes: 1, Executes: 1, Fetches: 1}
	if stats != want {
		t.Errorf("Expected %+v, got %+v", want, stats)
	}
	if stats.Total() != 6 || stats.Writes() != 5 {
		t.Errorf("Unexpected totals %d/%d", stats.Total(), stats.Writes())
	}
}

// TestGatewayInterface checks both implementations satisfy the contracts
func TestGatewayInterface(t *testing.T) {
	var (
		_ Gateway         = (*MemoryGateway)(nil)
		_ Pinger          = (*MemoryGateway)(nil)
		_ schema.Provider = (*MemoryGateway)(nil)
		_ Gateway         = (*SQLGateway)(nil)
		_ Pinger          = (*SQLGateway)(nil)
		_ schema.Provider = (*SQLGateway)(nil)
	)
}
