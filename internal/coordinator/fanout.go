package coordinator

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/errors"
	"github.com/dreamware/strata/internal/logging"
	"github.com/dreamware/strata/internal/metrics"
	"github.com/dreamware/strata/internal/shard"
	"github.com/dreamware/strata/internal/storage"
)

// StatementFunc renders the statement to run against one physical table.
type StatementFunc func(table string) string

// FanOut runs one raw statement against a set of shard targets.
//
// Targets are executed sequentially, in group order, each on its own
// connection and without a surrounding transaction. The affected counts are
// summed. The first failure stops the run; if earlier targets had already
// applied the statement, the error is of kind errors.PartialFanOut and carries
// the count applied so far, because those changes are not rolled back.
//
// Thread Safety: a FanOut holds no per-call state and may be shared.
type FanOut struct {
	pool    *cluster.Pool
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewFanOut creates an executor over the connections of pool.
//
// Parameters:
//   - pool: Connection names of shard targets resolve here
//   - logger: Receives one debug line per target; nil discards
//   - m: Records every run; nil disables metrics
func NewFanOut(pool *cluster.Pool, logger *zap.Logger, m *metrics.Collector) *FanOut {
	return &FanOut{pool: pool, logger: logging.OrNop(logger).Named("fanout"), metrics: m}
}

// Result describes a completed (or partially completed) run.
type Result struct {
	OpID     string         // Identifier shared by the log lines of this run
	Affected int64          // Sum of affected rows
	Applied  []shard.Target // Targets that ran the statement successfully
}

// Exec runs stmt(table) with bind on every target of groups.
//
// Parameters:
//   - ctx: Passed to every gateway call
//   - entity: Entity type name, for logs and metrics
//   - groups: Targets as returned by shard.Resolver
//   - stmt: Renders the statement for one physical table
//   - bind: Named values, shared by every target
//
// Returns:
//   - Result: Counts and applied targets, also on error
//   - error: nil, the unchanged gateway error when nothing was applied, or a
//     PartialFanOut error wrapping it
//
// Example:
//
//	res, err := fanout.Exec(ctx, "Order", groups, func(table string) string {
//	    return "UPDATE [" + table + "] SET status = :status WHERE user_id = :user_id"
//	}, storage.Bind{"status": "closed", "user_id": 2})
func (f *FanOut) Exec(ctx context.Context, entity string, groups shard.Groups, stmt StatementFunc, bind storage.Bind) (Result, error) {
	res := Result{OpID: uuid.New().String()}
	log := f.logger.With(zap.String("op_id", res.OpID), zap.String("entity", entity))
	log.Debug("fan-out started", zap.Int("targets", groups.Len()))

	for _, target := range groups.Targets() {
		n, err := f.execOne(ctx, target, stmt(target.Table), bind)
		if err != nil {
			log.Warn("fan-out target failed",
				zap.String("connection", target.Connection),
				zap.String("table", target.Table),
				zap.Int("applied", len(res.Applied)),
				zap.Int64("affected", res.Affected),
				zap.Error(err))
			f.metrics.ObserveFanOut(entity, res.Affected, err)

			if len(res.Applied) == 0 {
				return res, err
			}
			e := errors.Wrap(errors.PartialFanOut, err, "statement applied to some shards only").
				WithConnection(target.Connection).
				WithTable(target.Table).
				WithShard(target.String())
			e.Affected = res.Affected
			return res, e
		}

		res.Affected += n
		res.Applied = append(res.Applied, target)
		log.Debug("fan-out target done",
			zap.String("connection", target.Connection),
			zap.String("table", target.Table),
			zap.Int64("affected", n))
	}

	f.metrics.ObserveFanOut(entity, res.Affected, nil)
	log.Debug("fan-out finished", zap.Int64("affected", res.Affected))
	return res, nil
}

func (f *FanOut) execOne(ctx context.Context, target shard.Target, stmt string, bind storage.Bind) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	gw, err := f.pool.Gateway(target.Connection)
	if err != nil {
		return 0, err
	}
	return gw.Execute(ctx, stmt, bind)
}
