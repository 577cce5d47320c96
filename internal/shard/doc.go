// Package shard decides which physical (connection, table) targets own an
// entity's rows.
//
// # Overview
//
// Every entity type has one static Map. A Map names the shard-key field,
// the targets for each key value, and a default target list for operations
// that carry no shard key. A type without a shard key lives in exactly one
// default target.
//
// # Resolution
//
// Three questions are answered by a Resolver:
//
//	UniqueShard(keyContext)  single-entity create/update/delete → one Target
//	MultipleShards(values)   bulk statement with a bound shard key → Groups
//	AllShards()              bulk statement without a shard key → Groups
//
// Groups preserve declaration order and contain every (connection, table)
// pair at most once. AllShards is a deliberate full-scan policy: statements
// without the shard key touch every physical partition.
//
// A value without an entry is an error for UniqueShard and MultipleShards;
// there is no silent fallback to the default target.
//
// # Hash Placement
//
// Maps with Buckets > 0 place a key value into bucket fnv32a(value) % Buckets
// and look the bucket number up instead of the raw value:
//
//	Map{Key: "user_id", Buckets: 2}
//	"0" → [dbA:user]
//	"1" → [dbB:user]
//
// # Configuration
//
// LoadYAML and LoadFile read maps from YAML, one document keyed by entity
// type name. Entry order inside targets is kept, which fixes the fan-out
// order of bulk statements:
//
//	order:
//	  key: user_id
//	  targets:
//	    default: [db:order]
//	    "1": [dbA:order]
//	    "2": {connection: dbB, table: order}
//
// # Thread Safety
//
// Resolvers are immutable after NewResolver. The Registry guards its name
// index with an RWMutex.
package shard
