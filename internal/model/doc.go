// Package model implements active-record entities on top of the storage
// gateways: a Model binds an entity Type to its shards, an Entity carries one
// record's values and the snapshot of what was last persisted.
//
// # Writes
//
// Create, Update and Delete follow the same three phases:
//
//  1. resolve: pick the unique shard from the entity's fields
//  2. hooks: fire the before events; an observer error aborts the write
//  3. write: issue one gateway statement, refresh the snapshot, fire the
//     after events
//
// Update only writes what changed. Diffing is strict except that a string
// equal to the string form of a typed snapshot value is not a change, since
// drivers commonly return integers as text. JSON documents are compared
// element by element against a private copy held in the snapshot. An update
// with no changes issues no statement and fires no events. Persisted primary
// key fields cannot be changed.
//
// # Bulk statements
//
// InsertBySQL, UpdateBySQL and DeleteBySQL take a SQL fragment with named
// binds. The insert targets one shard; updates and deletes fan out over the
// shards the bind's shard-key value routes to, or over every shard when the
// bind holds no shard key. Fan-out is sequential and not transactional.
//
// # Usage
//
//	orders, err := model.New(model.Type{
//	    Definition: schema.Definition{Name: "Order", JSONFields: []string{"meta"}},
//	    Shards:     shardMap,
//	}, pool, model.WithLogger(logger))
//
//	o := orders.New().Set("user_id", 1).Set("status", "new")
//	if err := o.Create(ctx); err != nil {
//	    return err
//	}
//	o.Set("status", "paid")
//	err = o.Update(ctx)
//
// A Model is safe for concurrent use. An Entity is not.
package model
