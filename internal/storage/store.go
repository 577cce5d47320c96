package storage

import (
	"context"
	"sync/atomic"
)

// Row is one record: column name to value. nil is SQL NULL.
type Row map[string]any

// Bind holds named values for raw statements, referenced as :name.
type Bind map[string]any

// Query describes a read by equality.
type Query struct {
	Table   string
	Columns []string // empty selects every column
	Where   Row      // AND-ed equality conditions; nil values match NULL
	Limit   int      // 0 means no limit
}

// Gateway is the narrow contract a connection exposes to the persistence
// engine. Identifier quoting is the gateway's job: callers pass bare names,
// and raw statements may write identifiers as [name]. Values are always bound
// except value.Expression values, which are embedded verbatim.
//
// All implementations must be safe for concurrent use.
type Gateway interface {
	// Insert writes one row. With returnID set it returns the id the backend
	// assigned to the auto-increment column; otherwise the result is 0.
	Insert(ctx context.Context, table string, fields Row, returnID bool) (int64, error)

	// Update changes the rows matching where and returns the affected count.
	Update(ctx context.Context, table string, fields Row, where Row) (int64, error)

	// Delete removes the rows matching where and returns the affected count.
	Delete(ctx context.Context, table string, where Row) (int64, error)

	// Execute runs a raw statement with named binds and returns the affected count.
	Execute(ctx context.Context, statement string, bind Bind) (int64, error)

	// Fetch reads rows.
	Fetch(ctx context.Context, q Query) ([]Row, error)
}

// Pinger is implemented by gateways that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OperationStats counts gateway calls by operation.
type OperationStats struct {
	Inserts  uint64 // Number of insert calls
	Updates  uint64 // Number of update calls
	Deletes  uint64 // Number of delete calls
	Executes uint64 // Number of raw statements
	Fetches  uint64 // Number of fetch calls
}

// Total returns the number of calls of any kind.
func (s OperationStats) Total() uint64 {
	return s.Inserts + s.Updates + s.Deletes + s.Executes + s.Fetches
}

// Writes returns the number of calls that may have changed data.
func (s OperationStats) Writes() uint64 {
	return s.Inserts + s.Updates + s.Deletes + s.Executes
}

// opCounter is the lock-free counter set shared by gateway implementations.
type opCounter struct {
	inserts, updates, deletes, executes, fetches atomic.Uint64
}

func (c *opCounter) snapshot() OperationStats {
	return OperationStats{
		Inserts:  c.inserts.Load(),
		Updates:  c.updates.Load(),
		Deletes:  c.deletes.Load(),
		Executes: c.executes.Load(),
		Fetches:  c.fetches.Load(),
	}
}
