// Package schema describes the physical layout of the tables entities persist
// to, and caches that description for the lifetime of the process.
//
// A Provider (usually a storage gateway) introspects one table. The Registry
// holds one Descriptor per entity type, built lazily on first use from the
// type's declared overrides, the provider's metadata, and the primary-key
// naming conventions. Entries are never refreshed implicitly; call Invalidate
// after a schema change.
package schema

import (
	"context"
	"strings"

	"github.com/dreamware/strata/internal/errors"
)

// ColumnMetadata is what a Provider reports about a table.
type ColumnMetadata struct {
	// Attributes lists every column in table order.
	Attributes []string

	// PrimaryKey lists the declared key columns in key order.
	PrimaryKey []string

	// AutoIncrement is the column the backend fills on insert, or "".
	AutoIncrement string

	// IntTypes lists the integer-family columns.
	IntTypes []string
}

// Clone returns a deep copy so cached metadata cannot be mutated by callers.
func (m *ColumnMetadata) Clone() *ColumnMetadata {
	if m == nil {
		return nil
	}
	return &ColumnMetadata{
		Attributes:    append([]string(nil), m.Attributes...),
		PrimaryKey:    append([]string(nil), m.PrimaryKey...),
		AutoIncrement: m.AutoIncrement,
		IntTypes:      append([]string(nil), m.IntTypes...),
	}
}

// Provider introspects a table. Unknown tables must be reported with an error
// of kind errors.TableNotFound, never as empty metadata.
type Provider interface {
	Describe(ctx context.Context, table string) (*ColumnMetadata, error)
}

// IsIntType reports whether a declared column type is integer-family
// (INT, BIGINT, TINYINT, INTEGER, int4 ...).
func IsIntType(declared string) bool {
	return strings.Contains(strings.ToLower(declared), "int")
}

// TableNotFound builds the error providers return for an unknown table.
func TableNotFound(table string) error {
	return errors.Newf(errors.TableNotFound, "table %q does not exist", table).WithTable(table)
}
