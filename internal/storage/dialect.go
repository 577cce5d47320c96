package storage

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"github.com/dreamware/strata/internal/errors"
	"github.com/dreamware/strata/internal/schema"
)

// Querier is the subset of *sql.DB and *sql.Conn the dialects need.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect covers the differences between SQL backends: identifier quoting,
// placeholder syntax, table introspection and how a generated id is read back.
type Dialect interface {
	// Name is the dialect name used in configuration.
	Name() string

	// DriverName is the database/sql driver the dialect runs on.
	DriverName() string

	// Quote quotes an identifier. "schema.table" quotes each part.
	Quote(ident string) string

	// Placeholder returns the n-th (1-based) bind placeholder.
	Placeholder(n int) string

	// Describe introspects table through q.
	Describe(ctx context.Context, q Querier, table string) (*schema.ColumnMetadata, error)

	// LastInsertID reads the id generated by the insert that produced res.
	// q is the connection the insert ran on.
	LastInsertID(ctx context.Context, q Querier, res sql.Result) (int64, error)
}

// DialectFor returns the dialect for a configured driver name. Accepted names
// are sqlite (sqlite3), mysql and postgres (postgresql, pgx).
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	case "mysql":
		return mysqlDialect{}, nil
	case "postgres", "postgresql", "pgx":
		return postgresDialect{}, nil
	}
	return nil, errors.Newf(errors.Config, "unsupported driver %q", driver)
}

func quoteWith(ident string, q byte) string {
	parts := strings.Split(ident, ".")
	quote := string(q)
	for i, p := range parts {
		parts[i] = quote + strings.ReplaceAll(p, quote, quote+quote) + quote
	}
	return strings.Join(parts, ".")
}

// sqliteDialect runs on modernc.org/sqlite.
type sqliteDialect struct{}

func (sqliteDialect) Name() string              { return "sqlite" }
func (sqliteDialect) DriverName() string        { return "sqlite" }
func (sqliteDialect) Quote(ident string) string { return quoteWith(ident, '"') }
func (sqliteDialect) Placeholder(int) string    { return "?" }

func (d sqliteDialect) Describe(ctx context.Context, q Querier, table string) (*schema.ColumnMetadata, error) {
	rows, err := q.QueryContext(ctx, "PRAGMA table_info("+d.Quote(table)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := &schema.ColumnMetadata{}
	keyPos := make(map[string]int)
	var keyType string
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		meta.Attributes = append(meta.Attributes, name)
		if schema.IsIntType(typ) {
			meta.IntTypes = append(meta.IntTypes, name)
		}
		if pk > 0 {
			keyPos[name] = pk
			meta.PrimaryKey = append(meta.PrimaryKey, name)
			keyType = typ
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(meta.Attributes) == 0 {
		return nil, schema.TableNotFound(table)
	}

	sort.SliceStable(meta.PrimaryKey, func(i, j int) bool {
		return keyPos[meta.PrimaryKey[i]] < keyPos[meta.PrimaryKey[j]]
	})
	// Only an INTEGER PRIMARY KEY aliases the rowid.
	if len(meta.PrimaryKey) == 1 && strings.EqualFold(keyType, "INTEGER") {
		meta.AutoIncrement = meta.PrimaryKey[0]
	}
	return meta, nil
}

func (sqliteDialect) LastInsertID(_ context.Context, _ Querier, res sql.Result) (int64, error) {
	return res.LastInsertId()
}

// mysqlDialect runs on go-sql-driver/mysql.
type mysqlDialect struct{}

const mysqlNoSuchTable = 1146

func (mysqlDialect) Name() string              { return "mysql" }
func (mysqlDialect) DriverName() string        { return "mysql" }
func (mysqlDialect) Quote(ident string) string { return quoteWith(ident, '`') }
func (mysqlDialect) Placeholder(int) string    { return "?" }

func (d mysqlDialect) Describe(ctx context.Context, q Querier, table string) (*schema.ColumnMetadata, error) {
	rows, err := q.QueryContext(ctx, "DESCRIBE "+d.Quote(table))
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlNoSuchTable {
			return nil, schema.TableNotFound(table)
		}
		return nil, err
	}
	defer rows.Close()

	meta := &schema.ColumnMetadata{}
	for rows.Next() {
		var (
			field, typ, null, key, extra string
			dflt                         sql.NullString
		)
		if err := rows.Scan(&field, &typ, &null, &key, &dflt, &extra); err != nil {
			return nil, err
		}
		meta.Attributes = append(meta.Attributes, field)
		if key == "PRI" {
			meta.PrimaryKey = append(meta.PrimaryKey, field)
		}
		if strings.Contains(extra, "auto_increment") {
			meta.AutoIncrement = field
		}
		if schema.IsIntType(typ) {
			meta.IntTypes = append(meta.IntTypes, field)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(meta.Attributes) == 0 {
		return nil, schema.TableNotFound(table)
	}
	return meta, nil
}

func (mysqlDialect) LastInsertID(_ context.Context, _ Querier, res sql.Result) (int64, error) {
	return res.LastInsertId()
}

// postgresDialect runs on the pgx database/sql driver.
type postgresDialect struct{}

const (
	pgColumnsQuery = `SELECT column_name, data_type, column_default, is_identity
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`

	pgKeyQuery = `SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY'
  AND tc.table_schema = current_schema() AND tc.table_name = $1
ORDER BY kcu.ordinal_position`
)

func (postgresDialect) Name() string              { return "postgres" }
func (postgresDialect) DriverName() string        { return "pgx" }
func (postgresDialect) Quote(ident string) string { return quoteWith(ident, '"') }
func (postgresDialect) Placeholder(n int) string  { return "$" + strconv.Itoa(n) }

func (postgresDialect) Describe(ctx context.Context, q Querier, table string) (*schema.ColumnMetadata, error) {
	rows, err := q.QueryContext(ctx, pgColumnsQuery, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := &schema.ColumnMetadata{}
	for rows.Next() {
		var (
			name, typ, identity string
			dflt                sql.NullString
		)
		if err := rows.Scan(&name, &typ, &dflt, &identity); err != nil {
			return nil, err
		}
		meta.Attributes = append(meta.Attributes, name)
		if schema.IsIntType(typ) {
			meta.IntTypes = append(meta.IntTypes, name)
		}
		if identity == "YES" || strings.HasPrefix(dflt.String, "nextval(") {
			meta.AutoIncrement = name
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(meta.Attributes) == 0 {
		return nil, schema.TableNotFound(table)
	}

	keys, err := q.QueryContext(ctx, pgKeyQuery, table)
	if err != nil {
		return nil, err
	}
	defer keys.Close()
	for keys.Next() {
		var name string
		if err := keys.Scan(&name); err != nil {
			return nil, err
		}
		meta.PrimaryKey = append(meta.PrimaryKey, name)
	}
	return meta, keys.Err()
}

// LastInsertID asks the session for the last sequence value, so q must be the
// connection the insert ran on.
func (postgresDialect) LastInsertID(ctx context.Context, q Querier, _ sql.Result) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, "SELECT lastval()").Scan(&id)
	return id, err
}
