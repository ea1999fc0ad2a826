package trigger

import (
	"context"
	"database/sql"
	"sort"

	"github.com/pkg/errors"

	"github.com/sqltrigger/engine/internal/trigger/triggermetrics"
)

// recomputeLastSyncVersion picks the version to advance the
// low-water mark to once a batch has been handled. The batch
// is size-capped, so there may be further changes at the largest
// version we haven't seen yet. If the batch spans two or more
// distinct versions, it is safe to advance only to the second-largest;
// otherwise the sole version is returned, relying on the advance
// step's "no unprocessed candidates" check to keep this safe even when
// the batch is entirely at one version and full.
func recomputeLastSyncVersion(rows []changeRow) int64 {
	seen := make(map[int64]struct{}, len(rows))
	for _, r := range rows {
		seen[r.changeVersion] = struct{}{}
	}
	versions := make([]int64, 0, len(seen))
	for v := range seen {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	if len(versions) >= 2 {
		return versions[len(versions)-2]
	}
	return versions[0]
}

// release runs after a successful handler execution: it marks the
// batch's worker rows as released and advances the
// global sync version if every competing worker has drained its share
// of it. Failures here are logged only; the lease will expire
// naturally and another worker will reprocess.
func (m *ChangeMonitor[T]) release(ctx context.Context, rows []changeRow) error {
	newLastSync := recomputeLastSyncVersion(rows)

	tx, err := m.pool.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return errors.Wrap(err, "could not begin release transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for i, r := range rows {
		args := pkArgs(m.schema.PKColumns, r.pk, i)
		args = append(args, sql.Named("changeVersion_"+itoaIndex(i), r.changeVersion))
		if _, err := tx.ExecContext(ctx, releaseQuery(m.schema.WorkerTableName, m.schema.PKColumns, i), args...); err != nil {
			return errors.Wrap(err, "could not release batch row")
		}
	}

	var currentLastSync int64
	row := tx.QueryRowContext(ctx, readLastSyncVersionQuery(reservedSchema),
		sql.Named("p1", m.userFunctionID), sql.Named("p2", m.schema.UserTableID))
	if err := row.Scan(&currentLastSync); err != nil {
		return errors.Wrap(err, "could not read current last sync version")
	}

	var unprocessed int64
	row = tx.QueryRowContext(ctx, unprocessedCandidatesQuery(m.cfg, m.schema),
		sql.Named("p1", currentLastSync), sql.Named("p2", newLastSync))
	if err := row.Scan(&unprocessed); err != nil {
		return errors.Wrap(err, "could not count unprocessed candidates")
	}

	if unprocessed == 0 && currentLastSync < newLastSync {
		if _, err := tx.ExecContext(ctx, advanceLastSyncVersionQuery(reservedSchema),
			sql.Named("p1", m.userFunctionID), sql.Named("p2", m.schema.UserTableID), sql.Named("p3", newLastSync),
		); err != nil {
			return errors.Wrap(err, "could not advance last sync version")
		}
		if _, err := tx.ExecContext(ctx, deleteRetiredWorkerRowsQuery(m.schema.WorkerTableName),
			sql.Named("p1", newLastSync),
		); err != nil {
			return errors.Wrap(err, "could not delete retired worker rows")
		}
		triggermetrics.LastSyncVersion.WithLabelValues(m.schema.UserTableName).Set(float64(newLastSync))
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit release transaction")
	}
	return nil
}
