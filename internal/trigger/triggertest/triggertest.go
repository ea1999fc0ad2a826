// Package triggertest provides an in-memory fake of the SQL Server
// surface the trigger package depends on, for tests that exercise
// query construction and result handling without a live database.
package triggertest

import (
	"context"
	"database/sql"
	"math/rand"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"

	"github.com/sqltrigger/engine/internal/trigger"
)

// NewMockPool returns a *sql.DB backed by sqlmock, plus the mock
// controller used to script expectations and a cleanup function.
func NewMockPool() (*sql.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		panic(err)
	}
	return db, mock, func() { _ = db.Close() }
}

// FakeResult is one scripted return value for FakeExecutor.TryExecute.
type FakeResult struct {
	Succeeded bool
	Err       error
}

// FakeExecutor is a trivial trigger.Executor for tests: it records
// every batch it is given and returns a scripted (succeeded, err) pair
// for each call in order, repeating the final entry once exhausted.
type FakeExecutor[T any] struct {
	Batches [][]trigger.SqlChange[T]
	Results []FakeResult
}

// TryExecute implements trigger.Executor[T].
func (f *FakeExecutor[T]) TryExecute(ctx context.Context, changes []trigger.SqlChange[T]) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.Batches = append(f.Batches, changes)
	if len(f.Results) == 0 {
		return true, nil
	}
	idx := len(f.Batches) - 1
	if idx >= len(f.Results) {
		idx = len(f.Results) - 1
	}
	r := f.Results[idx]
	return r.Succeeded, r.Err
}

// errChaos is returned by a Chaos-wrapped Executor when it injects a
// simulated failure.
var errChaos = errors.New("chaos")

// Chaos wraps an Executor so that TryExecute fails with some
// probability instead of delegating, for tests that exercise the
// monitor's handling of an unreliable handler. prob <= 0 returns the
// delegate unchanged.
func Chaos[T any](delegate trigger.Executor[T], prob float32) trigger.Executor[T] {
	if prob <= 0 {
		return delegate
	}
	return &chaosExecutor[T]{delegate: delegate, prob: prob}
}

type chaosExecutor[T any] struct {
	delegate trigger.Executor[T]
	prob     float32
}

func (e *chaosExecutor[T]) TryExecute(ctx context.Context, changes []trigger.SqlChange[T]) (bool, error) {
	if rand.Float32() < e.prob {
		return false, errChaos
	}
	return e.delegate.TryExecute(ctx, changes)
}
