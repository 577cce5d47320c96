// Package tracker computes which fields of an entity differ from its last
// persisted snapshot.
//
// Comparison is strict (see value.Identical) with one coercion: drivers may
// hand integers back as strings, so a current string that equals the string
// cast of a non-string snapshot value is not a change. The current value is
// then restored to the snapshot's typed original so later writes and
// comparisons see the original representation.
package tracker

import (
	"golang.org/x/exp/slices"

	"github.com/dreamware/strata/internal/value"
)

// Diff returns the fields, in declared order, whose current value differs from
// snapshot. It mutates current when the coercion rule fires.
//
// Rules per field:
//   - current nil, snapshot non-nil: changed (explicit clear)
//   - current non-nil, snapshot missing or nil: changed (new value)
//   - both non-nil and not identical: changed, unless current is a string, the
//     snapshot is not, and the snapshot's string cast equals current
//
// An empty result means no write is required.
//
// Example:
//
//	current := map[string]any{"count": "5"}
//	changed := tracker.Diff([]string{"count"}, current, map[string]any{"count": 5})
//	// changed == nil, current["count"] == 5
func Diff(fields []string, current, snapshot map[string]any) []string {
	var changed []string
	for _, field := range fields {
		cur := current[field]
		old, had := snapshot[field]
		had = had && !value.IsNull(old)

		switch {
		case value.IsNull(cur):
			if had {
				changed = append(changed, field)
			}
		case !had:
			changed = append(changed, field)
		case !value.Identical(cur, old):
			if coerces(cur, old) {
				current[field] = old
				continue
			}
			changed = append(changed, field)
		}
	}
	return changed
}

// coerces reports whether a string current value is the string cast of a
// non-string snapshot value.
func coerces(cur, old any) bool {
	s, ok := cur.(string)
	if !ok || value.IsString(old) {
		return false
	}
	cast, ok := value.String(old)
	return ok && cast == s
}

// Refilter drops fields whose current value is identical to a non-nil
// snapshot value. Validators may normalize a value back to its persisted form,
// so the changed set must be re-checked after validation.
func Refilter(changed []string, current, snapshot map[string]any) []string {
	kept := changed[:0:0]
	for _, field := range changed {
		old, had := snapshot[field]
		if had && !value.IsNull(old) && value.Identical(old, current[field]) {
			continue
		}
		kept = append(kept, field)
	}
	return kept
}

// WriteSet returns the values an update statement has to carry: nil for
// cleared fields, the current value for new or changed ones. Fields listed in
// skip (the primary key) are never included.
func WriteSet(fields []string, current, snapshot map[string]any, skip []string) map[string]any {
	set := make(map[string]any)
	for _, field := range fields {
		if slices.Contains(skip, field) {
			continue
		}
		cur := current[field]
		old, had := snapshot[field]
		had = had && !value.IsNull(old)

		if value.IsNull(cur) {
			if had {
				set[field] = nil
			}
			continue
		}
		if !had || !value.Identical(cur, old) {
			set[field] = cur
		}
	}
	return set
}
