package trigger

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// ConfigurationError is returned when Start is called with an invalid
// or incomplete configuration. The monitor never starts.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid trigger configuration: %s", e.Reason)
}

// TableNotFound is returned when the configured table name does not
// resolve to an object in the database.
type TableNotFound struct {
	TableName string
}

func (e *TableNotFound) Error() string {
	return fmt.Sprintf("table %q could not be found", e.TableName)
}

// NoPrimaryKey is returned when the resolved table has no primary key.
type NoPrimaryKey struct {
	TableName string
}

func (e *NoPrimaryKey) Error() string {
	return fmt.Sprintf("table %q has no primary key", e.TableName)
}

// ChangeTrackingNotEnabled is returned when
// CHANGE_TRACKING_MIN_VALID_VERSION returns NULL for the resolved
// table, meaning change tracking was never enabled on it.
type ChangeTrackingNotEnabled struct {
	TableName string
}

func (e *ChangeTrackingNotEnabled) Error() string {
	return fmt.Sprintf("change tracking is not enabled on table %q", e.TableName)
}

// DecodeError is returned when a batch row cannot be turned into a
// SqlChange[T]: an unrecognized SYS_CHANGE_OPERATION, or a failure
// deserializing the row payload into the caller's type.
type DecodeError struct {
	Reason string
	cause  error
}

func (e *DecodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("could not decode batch row: %s: %v", e.Reason, e.cause)
	}
	return fmt.Sprintf("could not decode batch row: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.cause }

// StuckHandlerError marks a batch that was abandoned because the
// executor failed to return within MaxLeaseRenewalCount renewals.
type StuckHandlerError struct {
	Renewals int
}

func (e *StuckHandlerError) Error() string {
	return fmt.Sprintf("executor did not return after %d lease renewals", e.Renewals)
}

// IsCancellation reports whether err is (or wraps) a context
// cancellation. Cancellation is never logged as an error; callers use
// this to distinguish it from genuine failures.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
