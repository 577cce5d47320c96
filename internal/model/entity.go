package model

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/strata/internal/errors"
	"github.com/dreamware/strata/internal/schema"
	"github.com/dreamware/strata/internal/shard"
	"github.com/dreamware/strata/internal/storage"
	"github.com/dreamware/strata/internal/tracker"
	"github.com/dreamware/strata/internal/value"
)

// Entity is one record of a Model's type together with its snapshot, the
// last values known to be persisted. A nil snapshot means tracking is
// disabled and Update is refused.
//
// An Entity must not be used from more than one goroutine at a time.
type Entity struct {
	model    *Model
	values   map[string]any
	snapshot map[string]any
}

// Model returns the entity's model.
func (e *Entity) Model() *Model { return e.model }

// Get returns a field value; nil when unset.
func (e *Entity) Get(field string) any { return e.values[field] }

// Set assigns a field value.
func (e *Entity) Set(field string, v any) *Entity {
	e.values[field] = v
	return e
}

// Assign sets every field of values.
func (e *Entity) Assign(values map[string]any) *Entity {
	for f, v := range values {
		e.values[f] = v
	}
	return e
}

// Values returns a copy of the current field values.
func (e *Entity) Values() map[string]any {
	return value.Copy(e.values)
}

// Snapshot returns a copy of the snapshot. ok is false when tracking is disabled.
func (e *Entity) Snapshot() (snapshot map[string]any, ok bool) {
	if e.snapshot == nil {
		return nil, false
	}
	return value.Copy(e.snapshot), true
}

// DisableSnapshot turns change tracking off. Update then fails with a
// Precondition error until the entity is reloaded.
func (e *Entity) DisableSnapshot() {
	e.snapshot = nil
}

// Changes returns the fields that differ from the snapshot, in declared order.
// Like an update, it may restore string values to their typed snapshot form.
func (e *Entity) Changes(ctx context.Context) ([]string, error) {
	if e.snapshot == nil {
		return nil, errors.New(errors.Precondition, "snapshot tracking is disabled").WithTable(e.model.Table())
	}
	d, err := e.model.Descriptor(ctx)
	if err != nil {
		return nil, err
	}
	return tracker.Diff(d.Fields, e.values, e.snapshot), nil
}

// Create inserts the entity.
//
// Steps:
//  1. auto-fill nil fields and validate every field
//  2. resolve the unique shard from the field values
//  3. fire saving and creating
//  4. insert the non-nil fields; read back the generated id when the
//     auto-increment field is nil
//  5. read back fields left to column defaults or set to expressions
//  6. set the snapshot, then fire created and saved
//
// Gateway errors are returned unchanged and leave the snapshot untouched.
func (e *Entity) Create(ctx context.Context) error {
	m := e.model
	d, err := m.Descriptor(ctx)
	if err != nil {
		return err
	}

	for f, v := range m.autoFill(OpCreate) {
		if value.IsNull(e.values[f]) {
			e.values[f] = v
		}
	}
	if err := m.validate(ctx, e, d.Fields); err != nil {
		return err
	}

	target, gw, err := m.unique(e.values)
	if err != nil {
		return err
	}
	if err := m.fire(ctx, e, EventSaving, EventCreating); err != nil {
		return err
	}

	row := make(storage.Row)
	var refetch []string
	for _, f := range d.Fields {
		v := e.values[f]
		if value.IsNull(v) {
			if f != d.AutoIncrement {
				refetch = append(refetch, f)
			}
			continue
		}
		if _, ok := v.(value.Expression); ok {
			refetch = append(refetch, f)
		}
		if row[f], err = encodeField(d, f, v); err != nil {
			return err
		}
	}

	returnID := d.AutoIncrement != "" && value.IsNull(e.values[d.AutoIncrement])
	id, err := gw.Insert(ctx, target.Table, row, returnID)
	if err != nil {
		return err
	}
	if returnID {
		e.values[d.AutoIncrement] = id
	}
	m.logger.Debug("created",
		zap.String("connection", target.Connection),
		zap.String("table", target.Table),
		zap.Int("fields", len(row)))

	if len(refetch) > 0 {
		if where, err := e.primaryKey(d); err != nil {
			m.logger.Debug("skip refetch without primary key", zap.Strings("fields", refetch))
		} else if err := e.refetch(ctx, d, target, gw, where, refetch); err != nil {
			return err
		}
	}

	e.snapshot = value.Copy(e.values)
	return m.fire(ctx, e, EventCreated, EventSaved)
}

// Update writes the fields that changed since the snapshot. An entity without
// changes is left alone: no statement, no events. Changing a persisted primary
// key field is a Precondition error; nothing is written.
//
// Steps:
//  1. diff against the snapshot, validate the changed fields, re-filter
//  2. apply update auto-fill values
//  3. resolve the unique shard, fire saving and updating
//  4. update the changed non-key fields by primary key
//  5. read back fields set to expressions
//  6. set the snapshot, keeping the persisted key, then fire updated and saved
func (e *Entity) Update(ctx context.Context) error {
	m := e.model
	if e.snapshot == nil {
		return errors.New(errors.Precondition, "update with snapshot tracking disabled").WithTable(m.Table())
	}
	d, err := m.Descriptor(ctx)
	if err != nil {
		return err
	}

	changed := tracker.Diff(d.Fields, e.values, e.snapshot)
	if len(changed) == 0 {
		return nil
	}
	for _, f := range d.PrimaryKey {
		if !value.IsNull(e.snapshot[f]) && slices.Contains(changed, f) {
			return errors.New(errors.Precondition, "primary key field cannot be updated").WithTable(d.Table).WithField(f)
		}
	}
	if err := m.validate(ctx, e, changed); err != nil {
		return err
	}
	changed = tracker.Refilter(changed, e.values, e.snapshot)
	if len(changed) == 0 {
		return nil
	}

	for f, v := range m.autoFill(OpUpdate) {
		if !d.HasField(f) {
			continue
		}
		e.values[f] = v
		if !slices.Contains(changed, f) {
			changed = append(changed, f)
		}
	}

	set := tracker.WriteSet(changed, e.values, e.snapshot, d.PrimaryKey)
	if len(set) == 0 {
		return nil
	}
	// The row is addressed by its persisted key; key fields are never rewritten.
	where, err := keyOf(d, e.snapshot)
	if err != nil {
		if where, err = e.primaryKey(d); err != nil {
			return err
		}
	}

	target, gw, err := m.unique(e.values)
	if err != nil {
		return err
	}
	if err := m.fire(ctx, e, EventSaving, EventUpdating); err != nil {
		return err
	}

	row, err := encodeRow(d, set)
	if err != nil {
		return err
	}
	n, err := gw.Update(ctx, target.Table, row, where)
	if err != nil {
		return err
	}
	m.logger.Debug("updated",
		zap.String("connection", target.Connection),
		zap.String("table", target.Table),
		zap.Strings("fields", changed),
		zap.Int64("affected", n))

	var refetch []string
	for f, v := range set {
		if _, ok := v.(value.Expression); ok {
			refetch = append(refetch, f)
		}
	}
	if err := e.refetch(ctx, d, target, gw, where, refetch); err != nil {
		return err
	}

	e.snapshot = value.Copy(e.values)
	for f, v := range where {
		e.snapshot[f] = v
	}
	return m.fire(ctx, e, EventUpdated, EventSaved)
}

// Delete removes the entity's row by primary key. The snapshot is untouched.
func (e *Entity) Delete(ctx context.Context) error {
	m := e.model
	d, err := m.Descriptor(ctx)
	if err != nil {
		return err
	}
	where, err := e.primaryKey(d)
	if err != nil {
		return err
	}

	target, gw, err := m.unique(e.values)
	if err != nil {
		return err
	}
	if err := m.fire(ctx, e, EventDeleting); err != nil {
		return err
	}

	n, err := gw.Delete(ctx, target.Table, where)
	if err != nil {
		return err
	}
	m.logger.Debug("deleted",
		zap.String("connection", target.Connection),
		zap.String("table", target.Table),
		zap.Int64("affected", n))

	return m.fire(ctx, e, EventDeleted)
}

func (e *Entity) primaryKey(d *schema.Descriptor) (storage.Row, error) {
	return keyOf(d, e.values)
}

func keyOf(d *schema.Descriptor, values map[string]any) (storage.Row, error) {
	where := make(storage.Row, len(d.PrimaryKey))
	for _, f := range d.PrimaryKey {
		v := values[f]
		if value.IsNull(v) {
			return nil, errors.New(errors.Precondition, "primary key is not set").WithTable(d.Table).WithField(f)
		}
		where[f] = v
	}
	return where, nil
}

// refetch reads fields whose stored value is only known to the backend. A
// missing row is a NotFound error.
func (e *Entity) refetch(ctx context.Context, d *schema.Descriptor, target shard.Target, gw storage.Gateway, where storage.Row, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	rows, err := gw.Fetch(ctx, storage.Query{Table: target.Table, Columns: fields, Where: where, Limit: 1})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errors.New(errors.NotFound, "row not found on read back").
			WithTable(target.Table).WithConnection(target.Connection)
	}
	for f, v := range decodeRow(d, rows[0], e.model.logger) {
		e.values[f] = v
	}
	return nil
}
