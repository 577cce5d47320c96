package model

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/coordinator"
	"github.com/dreamware/strata/internal/errors"
	"github.com/dreamware/strata/internal/logging"
	"github.com/dreamware/strata/internal/metrics"
	"github.com/dreamware/strata/internal/schema"
	"github.com/dreamware/strata/internal/shard"
	"github.com/dreamware/strata/internal/storage"
	"github.com/dreamware/strata/internal/value"
)

// DefaultConnection is the connection of types that declare no shard map.
const DefaultConnection = "db"

// Type declares an entity type.
type Type struct {
	schema.Definition

	// Shards maps shard-key values to targets. The zero Map places the type
	// on Connection (or DefaultConnection) under its Table.
	Shards shard.Map

	// Connection is used when Shards is empty.
	Connection string

	Validator Validator
	AutoFill  AutoFiller
	Observers []Observer
}

// Model binds a Type to the connections its shards live on. It is safe for
// concurrent use; entities are not.
type Model struct {
	typ      Type
	resolver *shard.Resolver
	pool     *cluster.Pool
	registry *schema.Registry
	fanout   *coordinator.FanOut
	logger   *zap.Logger
	metrics  *metrics.Collector

	mu        sync.RWMutex
	observers []Observer
}

// Option configures a Model.
type Option func(*Model)

// WithRegistry sets the descriptor cache. The default is schema.Default.
func WithRegistry(r *schema.Registry) Option {
	return func(m *Model) { m.registry = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Model) { m.logger = logging.OrNop(l) }
}

// WithMetrics reports fan-out statements to c.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Model) { m.metrics = c }
}

// New validates t and binds it to pool.
//
// Defaults applied to t:
//   - Table: snake_case of the short type name ("LineItem" is "line_item")
//   - Shards: a single target on Connection (or "db") and Table
func New(t Type, pool *cluster.Pool, opts ...Option) (*Model, error) {
	if t.Name == "" {
		return nil, errors.New(errors.Config, "entity type has no name")
	}
	if pool == nil {
		return nil, errors.New(errors.Config, "entity type has no connection pool").WithTable(t.Table)
	}
	if t.Table == "" {
		t.Table = snakeCase(shortName(t.Name))
	}
	if t.Shards.Key == "" && len(t.Shards.Default) == 0 && len(t.Shards.Entries) == 0 {
		conn := t.Connection
		if conn == "" {
			conn = DefaultConnection
		}
		t.Shards = shard.Single(conn, t.Table)
	}

	resolver, err := shard.NewResolver(t.Shards)
	if err != nil {
		return nil, errors.Wrap(errors.Config, err, "invalid shard map for "+t.Name)
	}

	m := &Model{
		typ:       t,
		resolver:  resolver,
		pool:      pool,
		registry:  schema.Default,
		logger:    zap.NewNop(),
		observers: append([]Observer(nil), t.Observers...),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("entity", t.Name))
	m.fanout = coordinator.NewFanOut(pool, m.logger, m.metrics)
	return m, nil
}

// Name returns the entity type name.
func (m *Model) Name() string { return m.typ.Name }

// Table returns the logical table name.
func (m *Model) Table() string { return m.typ.Table }

// Resolver returns the type's shard resolver.
func (m *Model) Resolver() *shard.Resolver { return m.resolver }

// Observe registers observers after the ones declared on the type.
func (m *Model) Observe(o ...Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o...)
}

// Descriptor returns the type's resolved schema, describing the sample shard's
// table on first use.
func (m *Model) Descriptor(ctx context.Context) (*schema.Descriptor, error) {
	return m.registry.Descriptor(ctx, m.typ.Definition, sampleProvider{pool: m.pool, target: m.resolver.Sample()})
}

// Invalidate drops the cached descriptor so the next operation describes the
// table again.
func (m *Model) Invalidate() {
	m.registry.Invalidate(m.typ.Name)
}

// New returns an unsaved entity: every field nil, snapshot tracking enabled.
func (m *Model) New() *Entity {
	return &Entity{model: m, values: make(map[string]any), snapshot: make(map[string]any)}
}

// Load wraps a row read outside the model, e.g. by a custom query, as a
// persisted entity. Values are decoded as Get decodes them.
func (m *Model) Load(ctx context.Context, row storage.Row) (*Entity, error) {
	d, err := m.Descriptor(ctx)
	if err != nil {
		return nil, err
	}
	values := decodeRow(d, row, m.logger)
	return &Entity{model: m, values: values, snapshot: value.Copy(values)}, nil
}

// Get fetches one entity by primary key. keyContext supplies the shard key
// when the type is sharded by a field other than the primary key. pk values
// are given in primary-key order.
func (m *Model) Get(ctx context.Context, keyContext map[string]any, pk ...any) (*Entity, error) {
	d, err := m.Descriptor(ctx)
	if err != nil {
		return nil, err
	}
	if len(pk) != len(d.PrimaryKey) {
		return nil, errors.Newf(errors.Precondition, "%s has %d primary key fields, %d values given",
			m.typ.Name, len(d.PrimaryKey), len(pk)).WithTable(d.Table)
	}

	where := make(storage.Row, len(pk))
	routing := value.Copy(keyContext)
	if routing == nil {
		routing = make(map[string]any)
	}
	for i, field := range d.PrimaryKey {
		where[field] = pk[i]
		routing[field] = pk[i]
	}

	target, gw, err := m.unique(routing)
	if err != nil {
		return nil, err
	}
	rows, err := gw.Fetch(ctx, storage.Query{Table: target.Table, Columns: d.Fields, Where: where, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.Newf(errors.NotFound, "%s %v not found", m.typ.Name, pk).
			WithTable(target.Table).WithConnection(target.Connection)
	}
	return m.Load(ctx, rows[0])
}

// unique resolves the single target for keyContext and its gateway.
func (m *Model) unique(keyContext map[string]any) (shard.Target, storage.Gateway, error) {
	target, err := m.resolver.UniqueShard(keyContext)
	if err != nil {
		return shard.Target{}, nil, err
	}
	gw, err := m.pool.Gateway(target.Connection)
	if err != nil {
		return shard.Target{}, nil, err
	}
	return target, gw, nil
}

func (m *Model) currentObservers() []Observer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.observers
}

// fire notifies observers of each event in turn and stops at the first error.
func (m *Model) fire(ctx context.Context, e *Entity, events ...Event) error {
	observers := m.currentObservers()
	for _, ev := range events {
		for _, o := range observers {
			if err := o.Observe(ctx, ev, e); err != nil {
				return errors.Wrap(errors.Hook, err, string(ev)+" observer failed").WithTable(m.typ.Table)
			}
		}
	}
	return nil
}

func (m *Model) validate(ctx context.Context, e *Entity, fields []string) error {
	if m.typ.Validator == nil || len(fields) == 0 {
		return nil
	}
	err := m.typ.Validator.Validate(ctx, e, fields)
	if err == nil || errors.IsKind(err, errors.Validation) {
		return err
	}
	return errors.Wrap(errors.Validation, err, "validation failed").WithTable(m.typ.Table)
}

func (m *Model) autoFill(op Op) map[string]any {
	if m.typ.AutoFill == nil {
		return nil
	}
	return m.typ.AutoFill(op)
}

// sampleProvider describes the physical table of the type's sample shard,
// whatever logical name it is asked for.
type sampleProvider struct {
	pool   *cluster.Pool
	target shard.Target
}

func (p sampleProvider) Describe(ctx context.Context, _ string) (*schema.ColumnMetadata, error) {
	pr, err := p.pool.Provider(p.target.Connection)
	if err != nil {
		return nil, err
	}
	return pr.Describe(ctx, p.target.Table)
}

func shortName(name string) string {
	if i := strings.LastIndexAny(name, "./\\"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
