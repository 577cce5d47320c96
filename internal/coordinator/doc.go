// Package coordinator runs the multi-connection side of the engine: statements
// that fan out over many shards, and the health of the connections those
// shards live on.
//
// # Architecture
//
//	┌───────────────────────────────────────┐
//	│              COORDINATOR              │
//	├───────────────────────────────────────┤
//	│  FanOut                               │
//	│   - groups from shard.Resolver        │
//	│   - one Execute per (conn, table)     │
//	│   - sequential, counts summed         │
//	│                                       │
//	│  HealthMonitor                        │
//	│   - pings every pool connection       │
//	│   - unhealthy after N failures        │
//	│   - callback on transition            │
//	└───────────────────────────────────────┘
//	                   │
//	                   ▼
//	          cluster.Pool → storage.Gateway
//
// # Consistency
//
// Fan-out statements are not transactional across shards. When a target fails
// after others succeeded, nothing is rolled back: the returned error has kind
// errors.PartialFanOut and its Affected field holds the rows already changed.
// Callers that need all-or-nothing semantics must make the statement
// idempotent and retry.
//
// # Logging
//
// Every fan-out run gets a random op_id (a UUID) that appears on each of its
// log lines, so the per-shard lines of one bulk operation can be correlated.
package coordinator
