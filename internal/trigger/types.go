// Package trigger implements the change-data-capture trigger engine:
// one-shot initialization of a user table's coordination tables,
// followed by a long-running monitor that polls SQL Server's native
// change tracking feature, leases rows to this instance, and delivers
// batches to a user-supplied Executor.
package trigger

import (
	"context"
	"strconv"
	"time"
)

// Operation identifies the kind of row-level change that produced a
// SqlChange.
type Operation int

// The operations SQL Server's change tracking can report.
const (
	Insert Operation = iota
	Update
	Delete
)

// String renders the operation the way it appears in log output.
func (o Operation) String() string {
	switch o {
	case Insert:
		return "Insert"
	case Update:
		return "Update"
	case Delete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// decodeOperation translates a raw SYS_CHANGE_OPERATION value into an
// Operation. Any value other than I, U, or D is a fatal decode error
// for the batch that contains it.
func decodeOperation(raw string) (Operation, error) {
	switch raw {
	case "I":
		return Insert, nil
	case "U":
		return Update, nil
	case "D":
		return Delete, nil
	default:
		return 0, &DecodeError{Reason: "unrecognized SYS_CHANGE_OPERATION value " + raw}
	}
}

// SqlChange is a single row-level change handed to the user's
// Executor. Item is the deserialized row; for Delete operations it
// carries only the primary-key columns, since the underlying row no
// longer exists.
type SqlChange[T any] struct {
	Operation Operation
	Item      T
}

// Executor is the host function-invocation framework, reduced to the
// single capability this engine relies on: attempt to process a batch
// of changes, honoring cancellation if the batch is taking too long.
type Executor[T any] interface {
	// TryExecute invokes the user's handler with the given changes.
	// succeeded indicates whether the batch was fully processed;
	// err carries diagnostic detail for logging. Implementations must
	// return promptly once ctx is canceled.
	TryExecute(ctx context.Context, changes []SqlChange[T]) (succeeded bool, err error)
}

// ColumnType is precise enough to render the DDL for a single column:
// base SQL type, plus the length/precision/scale variable types need.
type ColumnType struct {
	Name string

	// SQLType is the catalog-reported base type, e.g. "int",
	// "varchar", "numeric".
	SQLType string

	// HasLength is true for varchar|nvarchar|nchar|char|binary|varbinary.
	// Length of -1 means "(max)".
	HasLength bool
	Length    int64

	// HasPrecision is true for numeric|decimal.
	HasPrecision bool
	Precision    int64
	Scale        int64
}

// Render reproduces the column's declared type the way it must appear
// in generated DDL: base type alone, with a length suffix for the
// variable-length types, or a precision/scale suffix for numeric types.
func (c ColumnType) Render() string {
	switch {
	case c.HasLength:
		if c.Length == -1 {
			return c.SQLType + "(max)"
		}
		return c.SQLType + "(" + strconv.FormatInt(c.Length, 10) + ")"
	case c.HasPrecision:
		return c.SQLType + "(" + strconv.FormatInt(c.Precision, 10) + "," +
			strconv.FormatInt(c.Scale, 10) + ")"
	default:
		return c.SQLType
	}
}

// Column pairs a ColumnType with whether it participates in the user
// table's primary key.
type Column struct {
	ColumnType
	IsPrimaryKey bool
}

// TableSchema is the result of resolving a user table's identity and
// shape during initialization. It is canonical for the lifetime of a
// ChangeMonitor session.
type TableSchema struct {
	UserTableID   int64
	UserTableName string

	// PKColumns is the ordered list of primary-key columns, in their
	// declared order.
	PKColumns []ColumnType

	// Columns is PKColumns followed by the remaining non-key columns,
	// in catalog order.
	Columns []ColumnType

	WorkerTableName string
}

// workerRow mirrors a single row of the Worker_<fn>_<table> table.
type workerRow struct {
	pk                  []string // string representation of each pk value, in PKColumns order
	changeVersion       int64
	attemptCount        int32
	leaseExpirationTime *time.Time
}

// changeRow is a single candidate row produced by joining CHANGES
// against the worker and user tables, before it has been leased.
type changeRow struct {
	pk            []string
	changeVersion int64
	operation     string // raw SYS_CHANGE_OPERATION
	values        map[string]string
}
