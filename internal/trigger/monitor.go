package trigger

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sqltrigger/engine/internal/trigger/triggermetrics"
)

// monitorState is the two-valued state of a ChangeMonitor. It is
// mutated only under the batch cell's mutex, or in
// single-loop contexts where the renewal loop is known to be
// quiescent; the renewal loop reads it under the mutex, before and
// again after renewing.
type monitorState int32

const (
	checkingForChanges monitorState = iota
	processingChanges
)

// ChangeMonitor is the long-running state machine that drives one
// user table: it polls for changes, leases rows to this instance,
// invokes the executor, renews leases while the executor runs, and
// advances the shared low-water-mark once every competing worker has
// drained.
//
// A ChangeMonitor is returned already running; callers stop it with
// Stop or Close.
type ChangeMonitor[T any] struct {
	pool           *sql.DB
	schema         *TableSchema
	userFunctionID string
	executor       Executor[T]
	log            *logrus.Entry
	cfg            Config

	state monitorState // accessed via atomic

	cell *batchCell

	stopPolling context.CancelFunc
	wg          sync.WaitGroup
}

func newChangeMonitor[T any](
	pool *sql.DB,
	schema *TableSchema,
	userFunctionID string,
	executor Executor[T],
	log *logrus.Entry,
	cfg Config,
) *ChangeMonitor[T] {
	return &ChangeMonitor[T]{
		pool:           pool,
		schema:         schema,
		userFunctionID: userFunctionID,
		executor:       executor,
		log:            log,
		cfg:            cfg,
		cell:           newBatchCell(),
	}
}

func (m *ChangeMonitor[T]) loadState() monitorState {
	return monitorState(atomic.LoadInt32((*int32)(&m.state)))
}

func (m *ChangeMonitor[T]) storeState(s monitorState) {
	atomic.StoreInt32((*int32)(&m.state), int32(s))
}

// run launches the polling loop, which in turn launches the
// lease-renewal loop and chains its cancellation to the polling
// token's own cleanup.
func (m *ChangeMonitor[T]) run(ctx context.Context) {
	pollCtx, cancel := context.WithCancel(ctx)
	m.stopPolling = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runChangeConsumption(pollCtx)
	}()
}

// Stop cancels the polling loop (which chains to the renewal loop)
// and returns immediately, without waiting for either loop to exit or
// for any in-flight handler invocation to finish.
func (m *ChangeMonitor[T]) Stop() {
	if m.stopPolling != nil {
		m.stopPolling()
	}
}

// Close stops the monitor and blocks until both loops have exited,
// for callers that want a synchronous teardown rather than a
// fire-and-forget Stop.
func (m *ChangeMonitor[T]) Close() {
	m.Stop()
	m.wg.Wait()
}

// runChangeConsumption is the polling loop: it launches the
// lease-renewal loop and then ticks acquire/process/release cycles
// until ctx is done.
func (m *ChangeMonitor[T]) runChangeConsumption(ctx context.Context) {
	renewCtx, stopRenewal := context.WithCancel(ctx)
	defer stopRenewal()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runLeaseRenewal(renewCtx)
	}()

	ticker := time.NewTicker(m.cfg.pollingInterval())
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if m.loadState() == checkingForChanges {
			m.tick(ctx)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick runs one full acquire -> process -> release cycle. A new tick
// never begins before the previous one's release or clear completes,
// since this function only returns once that has happened.
func (m *ChangeMonitor[T]) tick(ctx context.Context) {
	start := time.Now()
	rows, err := m.acquireChanges(ctx)
	triggermetrics.PollDurations.WithLabelValues(m.schema.UserTableName).Observe(time.Since(start).Seconds())

	if err != nil {
		if IsCancellation(err) {
			return
		}
		triggermetrics.LeaseAcquireErrors.WithLabelValues(m.schema.UserTableName).Inc()
		m.log.WithError(err).Warn("error acquiring changes; batch cleared, will retry next tick")
		return
	}
	if len(rows) == 0 {
		return
	}

	triggermetrics.BatchRows.WithLabelValues(m.schema.UserTableName).Add(float64(len(rows)))

	execCtx := m.cell.set(ctx, rows)
	m.cell.withLock(func() { m.storeState(processingChanges) })

	succeeded, execErr := m.processChanges(execCtx, rows)

	switch {
	case execErr != nil && IsCancellation(execErr):
		// Either the outer context was cancelled, or the lease
		// renewal loop cancelled the executor token because the
		// handler was stuck. Either way, the batch is abandoned here;
		// its leases expire naturally.
		m.log.WithField("rows", len(rows)).Warn("executor cancelled; batch abandoned")
	case execErr != nil:
		m.log.WithError(execErr).Warn("batch decode or executor error; batch cleared")
	case !succeeded:
		m.log.WithField("rows", len(rows)).Info("handler reported failure; batch cleared")
	default:
		var releaseErr error
		m.cell.withLock(func() { releaseErr = m.release(ctx, rows) })
		if releaseErr != nil {
			triggermetrics.ReleaseErrors.WithLabelValues(m.schema.UserTableName).Inc()
			m.log.WithError(releaseErr).Warn("could not release batch; leases will expire naturally")
		}
	}

	m.cell.withLock(func() {
		m.cell.clearLocked()
		m.storeState(checkingForChanges)
	})
}

// acquireChanges runs a single RepeatableRead transaction that
// advances the floor if trailing, selects eligible candidates, and
// acquires leases on them.
func (m *ChangeMonitor[T]) acquireChanges(ctx context.Context) ([]changeRow, error) {
	tx, err := m.pool.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, errors.Wrap(err, "could not begin acquire-changes transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := m.advanceFloorIfTrailing(ctx, tx); err != nil {
		return nil, err
	}

	rows, err := m.selectCandidates(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, tx.Commit()
	}

	leaseExpiration := time.Now().Add(m.cfg.leaseInterval())
	for i, r := range rows {
		args := pkArgs(m.schema.PKColumns, r.pk, i)
		args = append(args,
			sql.Named("changeVersion_"+itoaIndex(i), r.changeVersion),
			sql.Named("leaseExpiration_"+itoaIndex(i), leaseExpiration),
		)
		if _, err := tx.ExecContext(ctx, upsertLeaseQuery(m.schema.WorkerTableName, m.schema.PKColumns, i), args...); err != nil {
			return nil, errors.Wrap(err, "could not acquire lease")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "could not commit acquire-changes transaction")
	}
	return rows, nil
}

// advanceFloorIfTrailing brings LastSyncVersion up to
// CHANGE_TRACKING_MIN_VALID_VERSION if it has fallen behind the
// retention window.
func (m *ChangeMonitor[T]) advanceFloorIfTrailing(ctx context.Context, tx *sql.Tx) error {
	var lastSync int64
	row := tx.QueryRowContext(ctx, readLastSyncVersionQuery(reservedSchema),
		sql.Named("p1", m.userFunctionID), sql.Named("p2", m.schema.UserTableID))
	if err := row.Scan(&lastSync); err != nil {
		return errors.Wrap(err, "could not read last sync version")
	}

	var minValid sql.NullInt64
	row = tx.QueryRowContext(ctx, minValidVersionQuery, sql.Named("p1", m.schema.UserTableID))
	if err := row.Scan(&minValid); err != nil {
		return errors.Wrap(err, "could not query change tracking minimum valid version")
	}
	if !minValid.Valid {
		return &ChangeTrackingNotEnabled{TableName: m.schema.UserTableName}
	}

	if lastSync < minValid.Int64 {
		if _, err := tx.ExecContext(ctx, advanceLastSyncVersionQuery(reservedSchema),
			sql.Named("p1", m.userFunctionID), sql.Named("p2", m.schema.UserTableID), sql.Named("p3", minValid.Int64),
		); err != nil {
			return errors.Wrap(err, "could not advance trailing last sync version")
		}
	}
	return nil
}

// selectCandidates reads the current low-water mark and returns the
// deduplicated, eligible candidate rows above it.
func (m *ChangeMonitor[T]) selectCandidates(ctx context.Context, tx *sql.Tx) ([]changeRow, error) {
	var lastSync int64
	row := tx.QueryRowContext(ctx, readLastSyncVersionQuery(reservedSchema),
		sql.Named("p1", m.userFunctionID), sql.Named("p2", m.schema.UserTableID))
	if err := row.Scan(&lastSync); err != nil {
		return nil, errors.Wrap(err, "could not read last sync version")
	}

	rows, err := tx.QueryContext(ctx, candidateSelectQuery(m.cfg, m.schema), sql.Named("p1", lastSync))
	if err != nil {
		return nil, errors.Wrap(err, "could not select candidates")
	}
	defer rows.Close()

	pkCount := len(m.schema.PKColumns)
	nonKeyCols := m.schema.Columns[pkCount:]

	var ret []changeRow
	for rows.Next() {
		dest := make([]any, 0, pkCount+2+len(nonKeyCols))
		pkVals := make([]sql.NullString, pkCount)
		for i := range pkVals {
			dest = append(dest, &pkVals[i])
		}
		var changeVersion int64
		var operation string
		dest = append(dest, &changeVersion, &operation)

		nonKeyVals := make([]sql.NullString, len(nonKeyCols))
		for i := range nonKeyVals {
			dest = append(dest, &nonKeyVals[i])
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(err, "could not scan candidate row")
		}

		pk := make([]string, pkCount)
		for i, v := range pkVals {
			pk[i] = v.String
		}
		values := make(map[string]string, len(nonKeyCols))
		for i, c := range nonKeyCols {
			if nonKeyVals[i].Valid {
				values[c.Name] = nonKeyVals[i].String
			}
		}
		for i, c := range m.schema.PKColumns {
			values[c.Name] = pk[i]
		}

		ret = append(ret, changeRow{
			pk:            pk,
			changeVersion: changeVersion,
			operation:     operation,
			values:        values,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return dedupeByPK(ret), nil
}

// processChanges decodes each row's operation, deserializes its
// payload, and invokes the executor.
func (m *ChangeMonitor[T]) processChanges(ctx context.Context, rows []changeRow) (bool, error) {
	changes := make([]SqlChange[T], 0, len(rows))
	for _, r := range rows {
		op, err := decodeOperation(r.operation)
		if err != nil {
			return false, err
		}

		var item T
		if op == Delete {
			pkOnly := make(map[string]string, len(m.schema.PKColumns))
			for i, c := range m.schema.PKColumns {
				pkOnly[c.Name] = r.pk[i]
			}
			if err := decodeInto(pkOnly, &item); err != nil {
				return false, &DecodeError{Reason: "delete payload", cause: err}
			}
		} else {
			if err := decodeInto(r.values, &item); err != nil {
				return false, &DecodeError{Reason: "insert/update payload", cause: err}
			}
		}

		changes = append(changes, SqlChange[T]{Operation: op, Item: item})
	}

	return m.executor.TryExecute(ctx, changes)
}

// runLeaseRenewal is the lease-renewal loop: it ticks at half the
// lease interval, refreshing the in-flight batch's leases so the
// executor has time to finish.
func (m *ChangeMonitor[T]) runLeaseRenewal(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.renewalInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.renewTick(ctx)
	}
}

func (m *ChangeMonitor[T]) renewTick(ctx context.Context) {
	m.cell.withLock(func() {
		if m.loadState() != processingChanges {
			return
		}

		rows := m.cell.snapshotLocked()
		leaseExpiration := time.Now().Add(m.cfg.leaseInterval())
		renewErr := m.renewLeases(ctx, rows, leaseExpiration)
		if renewErr != nil && !IsCancellation(renewErr) {
			m.log.WithError(renewErr).Warn("could not renew leases")
		}

		if m.loadState() != processingChanges {
			return
		}
		m.cell.renewalCount++
		triggermetrics.LeaseRenewals.WithLabelValues(m.schema.UserTableName).Inc()

		if m.cell.renewalCount == m.cfg.MaxLeaseRenewalCount && ctx.Err() == nil {
			triggermetrics.StuckHandlerCancellations.WithLabelValues(m.schema.UserTableName).Inc()
			m.log.WithField("renewals", m.cell.renewalCount).Warn("handler appears stuck; cancelling executor")
			if m.cell.executorStop != nil {
				m.cell.executorStop()
			}
		}
	})
}

// renewLeases refreshes LeaseExpirationTime for every row in the
// current batch. There is no surrounding transaction: a concurrent
// cleanup deleting a just-processed row must not cause renewal to
// roll back.
func (m *ChangeMonitor[T]) renewLeases(ctx context.Context, rows []changeRow, expiration time.Time) error {
	for i, r := range rows {
		args := pkArgs(m.schema.PKColumns, r.pk, i)
		args = append(args, sql.Named("leaseExpiration_"+itoaIndex(i), expiration))
		if _, err := m.pool.ExecContext(ctx, renewLeaseQuery(m.schema.WorkerTableName, m.schema.PKColumns, i), args...); err != nil {
			return errors.Wrap(err, "could not renew lease")
		}
	}
	return nil
}
