package model

import (
	"context"

	"go.uber.org/zap"
)

// Event names a lifecycle point of an entity write.
type Event string

// Lifecycle events, in firing order per operation:
//
//	create: saving, creating, <insert>, created, saved
//	update: saving, updating, <update>, updated, saved
//	delete: deleting, <delete>, deleted
const (
	EventSaving   Event = "saving"
	EventCreating Event = "creating"
	EventCreated  Event = "created"
	EventUpdating Event = "updating"
	EventUpdated  Event = "updated"
	EventSaved    Event = "saved"
	EventDeleting Event = "deleting"
	EventDeleted  Event = "deleted"
)

// IsBefore reports whether the event fires before the write. An error from a
// before-event observer aborts the operation.
func (e Event) IsBefore() bool {
	switch e {
	case EventSaving, EventCreating, EventUpdating, EventDeleting:
		return true
	}
	return false
}

// Observer is notified of lifecycle events. Observers run synchronously on the
// caller's goroutine in registration order.
type Observer interface {
	Observe(ctx context.Context, event Event, e *Entity) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event Event, e *Entity) error

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, event Event, e *Entity) error {
	return f(ctx, event, e)
}

// Validator checks an entity before it is written. fields lists the fields
// about to be written: every field on create, the changed ones on update. A
// validator may normalize values in place; changed fields are re-checked
// against the snapshot afterwards.
type Validator interface {
	Validate(ctx context.Context, e *Entity, fields []string) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, e *Entity, fields []string) error

// Validate implements Validator.
func (f ValidatorFunc) Validate(ctx context.Context, e *Entity, fields []string) error {
	return f(ctx, e, fields)
}

// Op identifies the write an auto-fill applies to.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
)

// AutoFiller supplies automatic field values such as timestamps. On create
// they fill nil fields only; on update they overwrite.
type AutoFiller func(op Op) map[string]any

// LogObserver logs every lifecycle event at debug level.
func LogObserver(l *zap.Logger) Observer {
	return ObserverFunc(func(_ context.Context, event Event, e *Entity) error {
		l.Debug("entity event",
			zap.String("event", string(event)),
			zap.String("entity", e.model.Name()),
			zap.Any("fields", e.Values()))
		return nil
	})
}
