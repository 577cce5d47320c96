package storage

import (
	"context"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/strata/internal/errors"
	"github.com/dreamware/strata/internal/schema"
	"github.com/dreamware/strata/internal/value"
)

// Statement is a raw statement recorded by MemoryGateway.Execute.
type Statement struct {
	SQL  string
	Bind Bind
}

// ExecHandler computes the affected count of a raw statement for MemoryGateway.
type ExecHandler func(statement string, bind Bind) (int64, error)

type memTable struct {
	meta   schema.ColumnMetadata
	rows   []Row
	nextID int64
}

// MemoryGateway implements Gateway and schema.Provider with in-memory tables.
// Raw statements are not interpreted: they are recorded and their affected
// count comes from the ExecHandler.
//
// Stored rows are copied on the way in and out so callers cannot modify them.
// All methods are safe for concurrent use.
type MemoryGateway struct {
	mu       sync.RWMutex
	tables   map[string]*memTable
	executed []Statement
	onExec   ExecHandler
	failures map[string]error
	ops      opCounter
}

// NewMemoryGateway creates a gateway without tables.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		tables:   make(map[string]*memTable),
		failures: make(map[string]error),
	}
}

// CreateTable declares a table. Declaring an existing table resets it.
func (m *MemoryGateway) CreateTable(name string, meta schema.ColumnMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = &memTable{meta: *meta.Clone(), nextID: 1}
}

// SetExecHandler sets the handler that answers Execute calls.
func (m *MemoryGateway) SetExecHandler(h ExecHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExec = h
}

// FailNext makes the next call of op ("insert", "update", "delete",
// "execute", "fetch") return err.
func (m *MemoryGateway) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

// Executed returns the raw statements seen so far.
func (m *MemoryGateway) Executed() []Statement {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Statement(nil), m.executed...)
}

// Stats returns the per-operation call counts.
func (m *MemoryGateway) Stats() OperationStats {
	return m.ops.snapshot()
}

// Rows returns a copy of every row in table.
func (m *MemoryGateway) Rows(table string) []Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[table]
	if !ok {
		return nil
	}
	out := make([]Row, len(t.rows))
	for i, r := range t.rows {
		out[i] = copyRow(r)
	}
	return out
}

// Describe implements schema.Provider.
func (m *MemoryGateway) Describe(_ context.Context, table string) (*schema.ColumnMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[table]
	if !ok {
		return nil, schema.TableNotFound(table)
	}
	return t.meta.Clone(), nil
}

// Ping implements Pinger.
func (m *MemoryGateway) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Insert implements Gateway.
func (m *MemoryGateway) Insert(ctx context.Context, table string, fields Row, returnID bool) (int64, error) {
	m.ops.inserts.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.begin(ctx, "insert", table)
	if err != nil {
		return 0, err
	}
	if err := t.checkColumns(table, fields); err != nil {
		return 0, err
	}

	row := copyRow(fields)
	var id int64
	if ai := t.meta.AutoIncrement; ai != "" {
		if value.IsNull(row[ai]) {
			row[ai] = t.nextID
		}
		if n, ok := value.Normalize(row[ai]).(int64); ok {
			id = n
			if n >= t.nextID {
				t.nextID = n + 1
			}
		}
	}

	if len(t.meta.PrimaryKey) > 0 {
		key := make(Row, len(t.meta.PrimaryKey))
		for _, col := range t.meta.PrimaryKey {
			key[col] = row[col]
		}
		for _, existing := range t.rows {
			if matches(existing, key) {
				return 0, errors.Newf(errors.Gateway, "duplicate primary key %v", key).WithTable(table)
			}
		}
	}

	t.rows = append(t.rows, row)
	if !returnID {
		return 0, nil
	}
	return id, nil
}

// Update implements Gateway.
func (m *MemoryGateway) Update(ctx context.Context, table string, fields Row, where Row) (int64, error) {
	m.ops.updates.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.begin(ctx, "update", table)
	if err != nil {
		return 0, err
	}
	if len(where) == 0 {
		return 0, errors.New(errors.Gateway, "update without conditions").WithTable(table)
	}
	if err := t.checkColumns(table, fields); err != nil {
		return 0, err
	}

	var affected int64
	for _, row := range t.rows {
		if !matches(row, where) {
			continue
		}
		for k, v := range fields {
			row[k] = v
		}
		affected++
	}
	return affected, nil
}

// Delete implements Gateway.
func (m *MemoryGateway) Delete(ctx context.Context, table string, where Row) (int64, error) {
	m.ops.deletes.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.begin(ctx, "delete", table)
	if err != nil {
		return 0, err
	}
	if len(where) == 0 {
		return 0, errors.New(errors.Gateway, "delete without conditions").WithTable(table)
	}

	kept := t.rows[:0]
	var affected int64
	for _, row := range t.rows {
		if matches(row, where) {
			affected++
			continue
		}
		kept = append(kept, row)
	}
	t.rows = kept
	return affected, nil
}

// Execute implements Gateway.
func (m *MemoryGateway) Execute(ctx context.Context, statement string, bind Bind) (int64, error) {
	m.ops.executes.Add(1)
	m.mu.Lock()
	if err := m.failure(ctx, "execute"); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	m.executed = append(m.executed, Statement{SQL: statement, Bind: copyBind(bind)})
	h := m.onExec
	m.mu.Unlock()

	if h == nil {
		return 0, nil
	}
	return h(statement, bind)
}

// Fetch implements Gateway.
func (m *MemoryGateway) Fetch(ctx context.Context, q Query) ([]Row, error) {
	m.ops.fetches.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.begin(ctx, "fetch", q.Table)
	if err != nil {
		return nil, err
	}

	var out []Row
	for _, row := range t.rows {
		if !matches(row, q.Where) {
			continue
		}
		if len(q.Columns) == 0 {
			out = append(out, copyRow(row))
		} else {
			r := make(Row, len(q.Columns))
			for _, col := range q.Columns {
				r[col] = row[col]
			}
			out = append(out, r)
		}
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// begin checks context, injected failures and table existence. Callers hold m.mu.
func (m *MemoryGateway) begin(ctx context.Context, op, table string) (*memTable, error) {
	if err := m.failure(ctx, op); err != nil {
		return nil, err
	}
	t, ok := m.tables[table]
	if !ok {
		return nil, errors.Wrap(errors.Gateway, schema.TableNotFound(table), op+" failed").WithTable(table)
	}
	return t, nil
}

func (m *MemoryGateway) failure(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := m.failures[op]; ok {
		delete(m.failures, op)
		return err
	}
	return nil
}

func (t *memTable) checkColumns(table string, fields Row) error {
	if len(t.meta.Attributes) == 0 {
		return nil
	}
	for col := range fields {
		if !slices.Contains(t.meta.Attributes, col) {
			return errors.Newf(errors.Gateway, "unknown column %q", col).WithTable(table).WithField(col)
		}
	}
	return nil
}

func matches(row Row, where Row) bool {
	for k, v := range where {
		if !value.Identical(row[k], v) {
			return false
		}
	}
	return true
}

func copyRow(r Row) Row {
	return Row(value.Copy(r))
}

func copyBind(b Bind) Bind {
	return Bind(value.Copy(b))
}
