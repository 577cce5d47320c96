package storage

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/dreamware/strata/internal/errors"
	"github.com/dreamware/strata/internal/metrics"
	"github.com/dreamware/strata/internal/schema"
	"github.com/dreamware/strata/internal/value"
)

// DefaultStatementCacheSize is the number of rendered statements kept per gateway.
const DefaultStatementCacheSize = 256

// SQLGateway implements Gateway, Pinger and schema.Provider on database/sql.
//
// Insert, Update, Delete and Fetch render their statement from the column
// names involved; the rendered text is kept in an LRU cache keyed by that shape
// so repeated writes of the same columns skip rendering. Bound values never
// enter the cache.
type SQLGateway struct {
	name    string
	db      *sql.DB
	dialect Dialect
	cache   *lru.Cache
	metrics *metrics.Collector
	logger  *zap.Logger
	ops     opCounter
}

// Option configures an SQLGateway.
type Option func(*SQLGateway) error

// WithLogger sets the logger. Statements are logged at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(g *SQLGateway) error {
		if l != nil {
			g.logger = l
		}
		return nil
	}
}

// WithMetrics sets the collector statements are reported to.
func WithMetrics(c *metrics.Collector) Option {
	return func(g *SQLGateway) error {
		g.metrics = c
		return nil
	}
}

// WithStatementCache sets the statement cache size. Zero disables the cache.
func WithStatementCache(size int) Option {
	return func(g *SQLGateway) error {
		if size <= 0 {
			g.cache = nil
			return nil
		}
		c, err := lru.New(size)
		if err != nil {
			return errors.Wrap(errors.Config, err, "statement cache")
		}
		g.cache = c
		return nil
	}
}

// NewSQLGateway wraps an open database handle. name identifies the connection
// in errors, logs and metrics.
func NewSQLGateway(name string, db *sql.DB, dialect Dialect, opts ...Option) (*SQLGateway, error) {
	g := &SQLGateway{
		name:    name,
		db:      db,
		dialect: dialect,
		logger:  zap.NewNop(),
	}
	opts = append([]Option{WithStatementCache(DefaultStatementCacheSize)}, opts...)
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	g.logger = g.logger.With(zap.String("connection", name), zap.String("dialect", dialect.Name()))
	return g, nil
}

// Open opens a database for driver ("sqlite", "mysql", "postgres") and wraps
// it. The connection is not checked; call Ping for that.
func Open(name, driver, dsn string, opts ...Option) (*SQLGateway, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, err.(*errors.Error).WithConnection(name)
	}
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, errors.Wrap(errors.Config, err, "open failed").WithConnection(name)
	}
	g, err := NewSQLGateway(name, db, d, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return g, nil
}

// Name returns the connection name.
func (g *SQLGateway) Name() string { return g.name }

// Dialect returns the gateway's dialect.
func (g *SQLGateway) Dialect() Dialect { return g.dialect }

// DB returns the underlying handle.
func (g *SQLGateway) DB() *sql.DB { return g.db }

// Stats returns the per-operation call counts.
func (g *SQLGateway) Stats() OperationStats { return g.ops.snapshot() }

// Close closes the database handle.
func (g *SQLGateway) Close() error { return g.db.Close() }

// Ping implements Pinger.
func (g *SQLGateway) Ping(ctx context.Context) error {
	if err := g.db.PingContext(ctx); err != nil {
		return errors.Wrap(errors.Gateway, err, "ping failed").WithConnection(g.name)
	}
	return nil
}

// Describe implements schema.Provider.
func (g *SQLGateway) Describe(ctx context.Context, table string) (*schema.ColumnMetadata, error) {
	meta, err := g.dialect.Describe(ctx, g.db, table)
	if err != nil {
		if errors.IsKind(err, errors.TableNotFound) {
			return nil, err.(*errors.Error).WithConnection(g.name)
		}
		return nil, errors.Wrap(errors.Metadata, err, "describe failed").WithConnection(g.name).WithTable(table)
	}
	g.logger.Debug("described table",
		zap.String("table", table),
		zap.Strings("attributes", meta.Attributes),
		zap.Strings("primary_key", meta.PrimaryKey))
	return meta, nil
}

// Insert implements Gateway.
func (g *SQLGateway) Insert(ctx context.Context, table string, fields Row, returnID bool) (int64, error) {
	g.ops.inserts.Add(1)

	cols := sortedColumns(fields)
	var (
		args []any
		key  strings.Builder
	)
	key.WriteString("insert|" + table + "|")
	for _, c := range cols {
		args = appendShape(&key, c, fields[c], args)
	}

	stmt := g.render(key.String(), func() string {
		q := g.dialect.Quote(table)
		if len(cols) == 0 {
			if g.dialect.Name() == "mysql" {
				return "INSERT INTO " + q + " () VALUES ()"
			}
			return "INSERT INTO " + q + " DEFAULT VALUES"
		}
		names := make([]string, len(cols))
		values := make([]string, len(cols))
		n := 0
		for i, c := range cols {
			names[i] = g.dialect.Quote(c)
			values[i] = g.valueSQL(fields[c], &n)
		}
		return "INSERT INTO " + q + " (" + strings.Join(names, ", ") + ") VALUES (" + strings.Join(values, ", ") + ")"
	})

	if !returnID {
		_, err := g.exec(ctx, g.db, "insert", table, stmt, args)
		return 0, err
	}

	// The id must be read on the session that ran the insert.
	conn, err := g.db.Conn(ctx)
	if err != nil {
		return 0, g.wrap("insert", table, err)
	}
	defer conn.Close()

	res, err := g.exec(ctx, conn, "insert", table, stmt, args)
	if err != nil {
		return 0, err
	}
	id, err := g.dialect.LastInsertID(ctx, conn, res)
	if err != nil {
		return 0, g.wrap("insert", table, err)
	}
	return id, nil
}

// Update implements Gateway.
func (g *SQLGateway) Update(ctx context.Context, table string, fields Row, where Row) (int64, error) {
	g.ops.updates.Add(1)

	if len(fields) == 0 {
		return 0, errors.New(errors.Gateway, "update without fields").WithConnection(g.name).WithTable(table)
	}
	if len(where) == 0 {
		return 0, errors.New(errors.Gateway, "update without conditions").WithConnection(g.name).WithTable(table)
	}

	cols, conds := sortedColumns(fields), sortedColumns(where)
	var (
		args []any
		key  strings.Builder
	)
	key.WriteString("update|" + table + "|")
	for _, c := range cols {
		args = appendShape(&key, c, fields[c], args)
	}
	key.WriteString("|")
	args = appendWhereShape(&key, conds, where, args)

	stmt := g.render(key.String(), func() string {
		n := 0
		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = g.dialect.Quote(c) + " = " + g.valueSQL(fields[c], &n)
		}
		return "UPDATE " + g.dialect.Quote(table) + " SET " + strings.Join(sets, ", ") + g.whereSQL(conds, where, &n)
	})

	res, err := g.exec(ctx, g.db, "update", table, stmt, args)
	if err != nil {
		return 0, err
	}
	return g.affected("update", table, res)
}

// Delete implements Gateway.
func (g *SQLGateway) Delete(ctx context.Context, table string, where Row) (int64, error) {
	g.ops.deletes.Add(1)

	if len(where) == 0 {
		return 0, errors.New(errors.Gateway, "delete without conditions").WithConnection(g.name).WithTable(table)
	}

	conds := sortedColumns(where)
	var (
		args []any
		key  strings.Builder
	)
	key.WriteString("delete|" + table + "|")
	args = appendWhereShape(&key, conds, where, args)

	stmt := g.render(key.String(), func() string {
		n := 0
		return "DELETE FROM " + g.dialect.Quote(table) + g.whereSQL(conds, where, &n)
	})

	res, err := g.exec(ctx, g.db, "delete", table, stmt, args)
	if err != nil {
		return 0, err
	}
	return g.affected("delete", table, res)
}

// Execute implements Gateway. [name] identifiers are quoted and :name
// references bound before the statement runs.
func (g *SQLGateway) Execute(ctx context.Context, statement string, bind Bind) (int64, error) {
	g.ops.executes.Add(1)

	stmt, args, err := bindNamed(rewriteIdentifiers(statement, g.dialect), bind, g.dialect)
	if err != nil {
		return 0, err.(*errors.Error).WithConnection(g.name)
	}

	res, err := g.exec(ctx, g.db, "execute", "", stmt, args)
	if err != nil {
		return 0, err
	}
	return g.affected("execute", "", res)
}

// Fetch implements Gateway. []byte column values are returned as strings.
func (g *SQLGateway) Fetch(ctx context.Context, q Query) ([]Row, error) {
	g.ops.fetches.Add(1)

	conds := sortedColumns(q.Where)
	var (
		args []any
		key  strings.Builder
	)
	key.WriteString("fetch|" + q.Table + "|" + strings.Join(q.Columns, ",") + "|" + strconv.Itoa(q.Limit) + "|")
	args = appendWhereShape(&key, conds, q.Where, args)

	stmt := g.render(key.String(), func() string {
		cols := "*"
		if len(q.Columns) > 0 {
			quoted := make([]string, len(q.Columns))
			for i, c := range q.Columns {
				quoted[i] = g.dialect.Quote(c)
			}
			cols = strings.Join(quoted, ", ")
		}
		n := 0
		s := "SELECT " + cols + " FROM " + g.dialect.Quote(q.Table) + g.whereSQL(conds, q.Where, &n)
		if q.Limit > 0 {
			s += " LIMIT " + strconv.Itoa(q.Limit)
		}
		return s
	})

	start := time.Now()
	rows, err := g.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		g.metrics.ObserveStatement(g.name, "fetch", start, err)
		return nil, g.wrap("fetch", q.Table, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	g.metrics.ObserveStatement(g.name, "fetch", start, err)
	if err != nil {
		return nil, g.wrap("fetch", q.Table, err)
	}
	g.logger.Debug("fetch", zap.String("table", q.Table), zap.String("sql", stmt), zap.Int("rows", len(out)))
	return out, nil
}

func (g *SQLGateway) exec(ctx context.Context, q Querier, op, table, stmt string, args []any) (sql.Result, error) {
	start := time.Now()
	res, err := q.ExecContext(ctx, stmt, args...)
	g.metrics.ObserveStatement(g.name, op, start, err)
	if err != nil {
		g.logger.Debug("statement failed", zap.String("op", op), zap.String("table", table), zap.String("sql", stmt), zap.Error(err))
		return nil, g.wrap(op, table, err)
	}
	g.logger.Debug("statement", zap.String("op", op), zap.String("table", table), zap.String("sql", stmt))
	return res, nil
}

func (g *SQLGateway) affected(op, table string, res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, g.wrap(op, table, err)
	}
	return n, nil
}

func (g *SQLGateway) wrap(op, table string, err error) error {
	e := errors.Wrap(errors.Gateway, err, op+" failed").WithConnection(g.name)
	if table != "" {
		e = e.WithTable(table)
	}
	return e
}

func (g *SQLGateway) render(key string, build func() string) string {
	if g.cache == nil {
		return build()
	}
	if s, ok := g.cache.Get(key); ok {
		g.metrics.StatementCacheHit(g.name)
		return s.(string)
	}
	s := build()
	g.cache.Add(key, s)
	return s
}

// valueSQL renders one value position, advancing the placeholder counter n
// when the value is bound.
func (g *SQLGateway) valueSQL(v any, n *int) string {
	if e, ok := v.(value.Expression); ok {
		return rewriteIdentifiers(e.SQL(), g.dialect)
	}
	*n++
	return g.dialect.Placeholder(*n)
}

func (g *SQLGateway) whereSQL(conds []string, where Row, n *int) string {
	if len(conds) == 0 {
		return ""
	}
	parts := make([]string, len(conds))
	for i, c := range conds {
		if value.IsNull(where[c]) {
			parts[i] = g.dialect.Quote(c) + " IS NULL"
			continue
		}
		parts[i] = g.dialect.Quote(c) + " = " + g.valueSQL(where[c], n)
	}
	return " WHERE " + strings.Join(parts, " AND ")
}

// appendShape writes the cache-key form of one value position and collects
// its argument. Expressions are part of the statement text, so of the key.
func appendShape(key *strings.Builder, col string, v any, args []any) []any {
	key.WriteString(col)
	if e, ok := v.(value.Expression); ok {
		key.WriteString("=(" + e.SQL() + ")")
	} else {
		args = append(args, v)
	}
	key.WriteByte(',')
	return args
}

func appendWhereShape(key *strings.Builder, conds []string, where Row, args []any) []any {
	for _, c := range conds {
		if value.IsNull(where[c]) {
			key.WriteString(c + " IS NULL,")
			continue
		}
		args = appendShape(key, c, where[c], args)
	}
	return args
}

func sortedColumns(r Row) []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
