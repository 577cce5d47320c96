package shard

import (
	"fmt"
	"hash/fnv"
	"testing"
)

// TestParseTarget tests parsing of connection:table strings
func TestParseTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    Target
		wantErr bool
	}{
		{in: "db:order", want: Target{Connection: "db", Table: "order"}},
		{in: "dbA:order_1", want: Target{Connection: "dbA", Table: "order_1"}},
		{in: "db", wantErr: true},
		{in: ":order", wantErr: true},
		{in: "db:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTarget(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
			if got.String() != tt.in {
				t.Errorf("Expected String() %q, got %q", tt.in, got.String())
			}
		})
	}
}

// TestBucketOf tests FNV-1a bucket placement
func TestBucketOf(t *testing.T) {
	t.Run("matches fnv32a modulo", func(t *testing.T) {
		for _, key := range []string{"1", "42", "user:123", ""} {
			h := fnv.New32a()
			h.Write([]byte(key))
			want := fmt.Sprint(h.Sum32() % 8)

			if got := bucketOf(key, 8); got != want {
				t.Errorf("bucketOf(%q) = %s, want %s", key, got, want)
			}
		}
	})

	t.Run("deterministic and in range", func(t *testing.T) {
		counts := make(map[string]int)
		for i := 0; i < 1000; i++ {
			key := fmt.Sprintf("key-%d", i)
			b := bucketOf(key, 4)
			if b != bucketOf(key, 4) {
				t.Fatalf("bucketOf(%q) is not deterministic", key)
			}
			counts[b]++
		}
		if len(counts) != 4 {
			t.Errorf("Expected keys in 4 buckets, got %v", counts)
		}
	})
}

// TestGroups tests grouping and flattening of targets
func TestGroups(t *testing.T) {
	g := newGrouper()
	g.add(
		Target{"dbA", "t1"},
		Target{"dbB", "t1"},
		Target{"dbA", "t2"},
		Target{"dbA", "t1"}, // duplicate
	)
	groups := g.result()

	if groups.Len() != 3 {
		t.Fatalf("Expected 3 targets, got %d", groups.Len())
	}
	if len(groups) != 2 || groups[0].Connection != "dbA" || groups[1].Connection != "dbB" {
		t.Fatalf("Expected groups in first-seen order, got %+v", groups)
	}

	want := []Target{{"dbA", "t1"}, {"dbA", "t2"}, {"dbB", "t1"}}
	got := groups.Targets()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Target %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	m := groups.AsMap()
	if len(m["dbA"]) != 2 || len(m["dbB"]) != 1 {
		t.Errorf("Unexpected map form %v", m)
	}
}
