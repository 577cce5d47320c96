package model

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/dreamware/strata/internal/shard"
	"github.com/dreamware/strata/internal/storage"
	"github.com/dreamware/strata/internal/value"
)

// InsertBySQL runs "INSERT INTO [table] <fragment>" on the unique shard picked
// from bind. It returns the affected row count.
//
// Example:
//
//	n, err := orders.InsertBySQL(ctx, "(user_id, status) VALUES (:user_id, :status)",
//	    storage.Bind{"user_id": 1, "status": "new"})
func (m *Model) InsertBySQL(ctx context.Context, fragment string, bind storage.Bind) (int64, error) {
	target, gw, err := m.unique(bind)
	if err != nil {
		return 0, err
	}
	n, err := gw.Execute(ctx, "INSERT INTO ["+target.Table+"] "+fragment, bind)
	if err != nil {
		return 0, err
	}
	m.logger.Debug("insert by sql",
		zap.String("connection", target.Connection),
		zap.String("table", target.Table),
		zap.Int64("affected", n))
	return n, nil
}

// UpdateBySQL runs "UPDATE [table] SET <fragment>" on every shard the bind
// routes to and returns the summed affected row count.
//
// Routing: when the type is sharded and bind holds its shard key, only the
// shards owning that value (or each value of a slice) are touched; otherwise
// every shard is. Shards run one after another with no rollback; a failure
// after some shards were written is a PartialFanOut error whose Affected field
// holds the rows already changed.
func (m *Model) UpdateBySQL(ctx context.Context, fragment string, bind storage.Bind) (int64, error) {
	return m.bySQL(ctx, bind, func(table string) string {
		return "UPDATE [" + table + "] SET " + fragment
	})
}

// DeleteBySQL runs "DELETE FROM [table] WHERE <fragment>" on every shard the
// bind routes to. Routing and failure handling are those of UpdateBySQL.
func (m *Model) DeleteBySQL(ctx context.Context, fragment string, bind storage.Bind) (int64, error) {
	return m.bySQL(ctx, bind, func(table string) string {
		return "DELETE FROM [" + table + "] WHERE " + fragment
	})
}

func (m *Model) bySQL(ctx context.Context, bind storage.Bind, stmt func(table string) string) (int64, error) {
	groups, err := m.route(bind)
	if err != nil {
		return 0, err
	}
	res, err := m.fanout.Exec(ctx, m.typ.Name, groups, stmt, bind)
	return res.Affected, err
}

// route picks the shards a statement with bind applies to.
func (m *Model) route(bind storage.Bind) (shard.Groups, error) {
	if key := m.resolver.Key(); key != "" {
		if kv, ok := bind[key]; ok && !value.IsNull(kv) {
			return m.resolver.MultipleShards(kv)
		}
	}
	return m.resolver.AllShards(), nil
}

// Insert writes record as a new row on the unique shard picked from it,
// bypassing entity tracking and lifecycle events. Keys that are not columns of
// the table are dropped. It returns the number of rows written, always 1.
func (m *Model) Insert(ctx context.Context, record map[string]any) (int64, error) {
	d, err := m.Descriptor(ctx)
	if err != nil {
		return 0, err
	}
	target, gw, err := m.unique(record)
	if err != nil {
		return 0, err
	}

	row := make(storage.Row, len(record))
	var skipped []string
	for f, v := range record {
		known := d.HasAttribute(f)
		if len(d.Attributes) == 0 {
			known = d.HasField(f)
		}
		if !known {
			skipped = append(skipped, f)
			continue
		}
		row[f] = v
	}
	if len(skipped) > 0 {
		sort.Strings(skipped)
		m.logger.Debug("insert table skip fields",
			zap.String("table", target.Table),
			zap.Strings("fields", skipped))
	}

	row, err = encodeRow(d, row)
	if err != nil {
		return 0, err
	}
	if _, err := gw.Insert(ctx, target.Table, row, false); err != nil {
		return 0, err
	}
	return 1, nil
}
