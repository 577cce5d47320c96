// Package storage defines the gateway contract the persistence engine writes
// through, with a database/sql implementation and an in-memory one.
//
// # Overview
//
// A Gateway is one named connection. The engine hands it bare table and column
// names plus values; the gateway quotes identifiers for its dialect, binds
// every value, and reports affected-row counts and generated ids.
//
//	┌─────────────────────────────────────┐
//	│        model (Entity, Model)        │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│   Gateway  (+ Pinger, Provider)     │
//	└─────────────────────────────────────┘
//	        │                    │
//	        ▼                    ▼
//	┌──────────────┐     ┌───────────────┐
//	│  SQLGateway  │     │ MemoryGateway │
//	│ sqlite/mysql │     │  (tests)      │
//	│   postgres   │     └───────────────┘
//	└──────────────┘
//
// # Raw statements
//
// Execute accepts SQL text with two conveniences:
//   - [name] is rewritten to the dialect's quoted identifier ("name", `name`)
//   - :name is replaced by a placeholder bound to bind["name"]; list values
//     expand to placeholder lists for IN (...)
//
// Text inside quotes and the :: cast operator are left alone.
//
// # Expressions
//
// A value.Expression field value is written into the statement instead of
// being bound, so Update can set "count" = "count" + 1 or a column to NOW().
//
// # Metadata
//
// Both gateways implement schema.Provider. SQLGateway introspects with
// PRAGMA table_info (sqlite), DESCRIBE (mysql) or information_schema
// (postgres). An unknown table is always an errors.TableNotFound error.
//
// # Thread Safety
//
// Gateways are safe for concurrent use. SQLGateway relies on the pooling of
// database/sql; an insert that returns an id pins one connection for the
// insert and the id query.
package storage
