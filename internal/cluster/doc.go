// Package cluster holds the set of database connections shards live on.
//
// Shard targets name a connection and a table. The Pool resolves the
// connection name to its storage.Gateway; it is built from configuration with
// OpenAll, or assembled by hand with Add (tests use in-memory gateways).
//
// # Example
//
//	pool, err := cluster.OpenAll([]cluster.ConnectionInfo{
//	    {Name: "dbA", Driver: "mysql", DSN: "app:secret@tcp(10.0.0.1)/shop"},
//	    {Name: "dbB", Driver: "mysql", DSN: "app:secret@tcp(10.0.0.2)/shop"},
//	}, storage.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	gw, err := pool.Gateway("dbA")
package cluster
