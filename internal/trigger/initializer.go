package trigger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Start bootstraps a ChangeMonitor for userTableName: it resolves the
// table's identity and schema, creates the shared coordination tables
// if they do not already exist, seeds the global sync-state row, and
// starts the monitor's two loops.
//
// Start is idempotent: re-running it for the same (userFunctionID,
// userTableName) pair against a database that already has the
// coordination tables in place is a no-op with respect to DDL, and
// does not disturb any monitor already running elsewhere against the
// same tables.
func Start[T any](
	ctx context.Context,
	pool *sql.DB,
	userTableName string,
	userFunctionID string,
	executor Executor[T],
	logger *logrus.Logger,
	cfg Config,
) (*ChangeMonitor[T], error) {
	if pool == nil || userTableName == "" {
		return nil, &ConfigurationError{Reason: "connection pool and userTableName are required"}
	}
	if executor == nil {
		return nil, &ConfigurationError{Reason: "executor is required"}
	}
	if logger == nil {
		return nil, &ConfigurationError{Reason: "logger is required"}
	}
	if _, err := validateUserFunctionID(userFunctionID); err != nil {
		return nil, err
	}
	if err := cfg.Preflight(); err != nil {
		return nil, err
	}

	entry := logrus.NewEntry(logger).WithFields(logrus.Fields{
		"userFunctionId": userFunctionID,
		"userTable":      userTableName,
	})
	entry.Debug("resolving user table schema")

	schema, err := resolveSchema(ctx, pool, userTableName)
	if err != nil {
		return nil, err
	}
	schema.WorkerTableName = workerTableName(userFunctionID, schema.UserTableID)

	entry = entry.WithField("workerTable", schema.WorkerTableName)
	entry.Debug("bootstrapping coordination tables")

	if err := bootstrap(ctx, pool, schema, userFunctionID); err != nil {
		return nil, err
	}

	entry.Info("trigger initialized")

	m := newChangeMonitor(pool, schema, userFunctionID, executor, entry, cfg)
	m.run(ctx)
	return m, nil
}

// bootstrap creates the schema, global-state table, and worker table
// if they don't already exist, and seeds the global-state row, all in
// a single RepeatableRead transaction.
func bootstrap(ctx context.Context, pool *sql.DB, schema *TableSchema, userFunctionID string) error {
	tx, err := pool.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return errors.Wrap(err, "could not begin bootstrap transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(createSchemaTemplate, reservedSchema)); err != nil {
		return errors.Wrap(err, "could not create reserved schema")
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(createGlobalStateTemplate, reservedSchema)); err != nil {
		return errors.Wrap(err, "could not create global state table")
	}

	var minValid sql.NullInt64
	row := tx.QueryRowContext(ctx, minValidVersionQuery, sql.Named("p1", schema.UserTableID))
	if err := row.Scan(&minValid); err != nil {
		return errors.Wrap(err, "could not query change tracking minimum valid version")
	}
	if !minValid.Valid {
		return &ChangeTrackingNotEnabled{TableName: schema.UserTableName}
	}

	seedSQL := fmt.Sprintf(seedGlobalStateTemplate, reservedSchema)
	if _, err := tx.ExecContext(ctx, seedSQL,
		sql.Named("p1", userFunctionID),
		sql.Named("p2", schema.UserTableID),
		sql.Named("p3", minValid.Int64),
	); err != nil {
		return errors.Wrap(err, "could not seed global state row")
	}

	if _, err := tx.ExecContext(ctx, createWorkerTableDDL(schema.WorkerTableName, schema.PKColumns)); err != nil {
		return errors.Wrap(err, "could not create worker table")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit bootstrap transaction")
	}
	return nil
}
