package shard

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// Target is one physical shard: a table on a named connection.
type Target struct {
	Connection string `yaml:"connection" json:"connection"`
	Table      string `yaml:"table" json:"table"`
}

// String renders the target as "connection:table".
func (t Target) String() string {
	return t.Connection + ":" + t.Table
}

// ParseTarget parses "connection:table".
func ParseTarget(s string) (Target, error) {
	conn, table, ok := strings.Cut(s, ":")
	if !ok || conn == "" || table == "" {
		return Target{}, fmt.Errorf("invalid shard target %q, want connection:table", s)
	}
	return Target{Connection: conn, Table: table}, nil
}

// Entry maps one shard-key value to its targets.
type Entry struct {
	Value   string
	Targets []Target
}

// Map is the static shard layout of one entity type.
//
// Resolution model:
//
//	┌───────────────────────────────────────────┐
//	│ Map{Key: "user_id", Buckets: 0}           │
//	├───────────────────────────────────────────┤
//	│ "1"     → [dbA:order]                     │
//	│ "2"     → [dbB:order]                     │
//	│ default → [db:order]                      │
//	└───────────────────────────────────────────┘
//
//	user_id=2   → "2"       → dbB:order
//	no user_id  → default   → db:order
//
// With Buckets > 0 the key value is first hashed into a bucket number and the
// bucket number ("0" ... "Buckets-1") is the lookup key.
type Map struct {
	// Key is the shard-key field. Empty means the type is not sharded and
	// always lives in Default.
	Key string

	// Buckets enables hash placement when greater than zero.
	Buckets int

	// Default receives operations whose key context has no shard key.
	Default []Target

	// Entries are kept in declaration order; fan-out follows it.
	Entries []Entry
}

// Single returns the map of an unsharded type living in one table.
func Single(connection, table string) Map {
	return Map{Default: []Target{{Connection: connection, Table: table}}}
}

// bucketOf hashes a key value into one of n buckets with FNV-1a, the same
// placement the cluster uses for key ownership.
func bucketOf(key string, n int) string {
	h := fnv.New32a()
	h.Write([]byte(key))
	return strconv.Itoa(int(h.Sum32() % uint32(n)))
}

// Group lists the tables touched on one connection.
type Group struct {
	Connection string
	Tables     []string
}

// Groups is an ordered connection → tables mapping.
type Groups []Group

// Len returns the number of (connection, table) targets.
func (g Groups) Len() int {
	n := 0
	for _, grp := range g {
		n += len(grp.Tables)
	}
	return n
}

// Targets flattens the groups in order.
func (g Groups) Targets() []Target {
	out := make([]Target, 0, g.Len())
	for _, grp := range g {
		for _, table := range grp.Tables {
			out = append(out, Target{Connection: grp.Connection, Table: table})
		}
	}
	return out
}

// AsMap returns the groups as a plain map.
func (g Groups) AsMap() map[string][]string {
	out := make(map[string][]string, len(g))
	for _, grp := range g {
		out[grp.Connection] = append([]string(nil), grp.Tables...)
	}
	return out
}

// grouper accumulates targets into Groups, dropping duplicates and keeping
// first-seen order.
type grouper struct {
	groups Groups
	index  map[string]int
	seen   map[Target]bool
}

func newGrouper() *grouper {
	return &grouper{index: make(map[string]int), seen: make(map[Target]bool)}
}

func (g *grouper) add(targets ...Target) {
	for _, t := range targets {
		if g.seen[t] {
			continue
		}
		g.seen[t] = true

		i, ok := g.index[t.Connection]
		if !ok {
			i = len(g.groups)
			g.index[t.Connection] = i
			g.groups = append(g.groups, Group{Connection: t.Connection})
		}
		g.groups[i].Tables = append(g.groups[i].Tables, t.Table)
	}
}

func (g *grouper) result() Groups {
	return g.groups
}
