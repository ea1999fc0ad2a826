package trigger

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// pkParamNames returns the `@{col}_{index}` parameter names for a
// batch position. No pk value is ever interpolated into query text;
// every occurrence is bound through one of these names.
func pkParamNames(pkCols []ColumnType, index int) []string {
	names := make([]string, len(pkCols))
	for i, c := range pkCols {
		names[i] = fmt.Sprintf("%s_%d", c.Name, index)
	}
	return names
}

// pkEquals renders "col1 = @col1_0 AND col2 = @col2_0" for the given
// batch position.
func pkEquals(pkCols []ColumnType, index int) string {
	parts := make([]string, len(pkCols))
	for i, c := range pkCols {
		parts[i] = fmt.Sprintf("%s = @%s_%d", c.Name, c.Name, index)
	}
	return strings.Join(parts, " AND ")
}

// pkColumnList renders "col1, col2" for DDL and SELECT clauses.
func pkColumnList(pkCols []ColumnType) string {
	names := make([]string, len(pkCols))
	for i, c := range pkCols {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}

const createSchemaTemplate = `
IF NOT EXISTS (SELECT 1 FROM sys.schemas WHERE name = '%[1]s')
EXEC('CREATE SCHEMA %[1]s')`

const createGlobalStateTemplate = `
IF OBJECT_ID('%[1]s.GlobalState', 'U') IS NULL
CREATE TABLE %[1]s.GlobalState (
  UserFunctionID uniqueidentifier NOT NULL,
  UserTableID    int NOT NULL,
  LastSyncVersion bigint NOT NULL,
  CONSTRAINT PK_GlobalState PRIMARY KEY (UserFunctionID, UserTableID)
)`

const seedGlobalStateTemplate = `
IF NOT EXISTS (
  SELECT 1 FROM %[1]s.GlobalState WHERE UserFunctionID = @p1 AND UserTableID = @p2
)
INSERT INTO %[1]s.GlobalState (UserFunctionID, UserTableID, LastSyncVersion)
VALUES (@p1, @p2, @p3)`

const minValidVersionQuery = `SELECT CHANGE_TRACKING_MIN_VALID_VERSION(@p1)`

// createWorkerTableDDL renders the CREATE TABLE statement for a
// worker table with the given pk columns.
func createWorkerTableDDL(workerTable string, pkCols []ColumnType) string {
	var b strings.Builder
	fmt.Fprintf(&b, "IF OBJECT_ID('%s', 'U') IS NULL\nCREATE TABLE %s (\n", workerTable, workerTable)
	for _, c := range pkCols {
		fmt.Fprintf(&b, "  %s %s NOT NULL,\n", c.Name, c.Render())
	}
	b.WriteString("  ChangeVersion bigint NOT NULL,\n")
	b.WriteString("  AttemptCount int NOT NULL,\n")
	b.WriteString("  LeaseExpirationTime datetime2 NULL,\n")
	fmt.Fprintf(&b, "  CONSTRAINT PK_%s PRIMARY KEY (%s)\n)", sanitizeConstraintName(workerTable), pkColumnList(pkCols))
	return b.String()
}

func sanitizeConstraintName(workerTable string) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return r.Replace(workerTable)
}

// candidateSelectTemplate selects the top BatchSize candidates from
// CHANGES, left-joined to the worker table, ordered by
// SYS_CHANGE_VERSION ascending, filtered by the eligibility predicate.
//
// %[1] = TOP n literal (numeric, not user input)
// %[2] = user table, fully qualified
// %[3] = worker table, fully qualified
// %[4] = pk join predicate against the worker table, "c.col = w.col AND ..."
// %[5] = pk select list from the CHANGES pseudo-table, aliased "c"
// %[6] = non-pk column select list from the user table, aliased "u"
// %[7] = MaxAttemptCount literal (numeric)
// %[8] = pk join predicate against the user table, "c.col = u.col AND ..."
const candidateSelectTemplate = `
SELECT TOP %[1]d %[5]s, c.SYS_CHANGE_VERSION, c.SYS_CHANGE_OPERATION %[6]s
FROM CHANGETABLE(CHANGES %[2]s, @p1) AS c
LEFT OUTER JOIN %[3]s AS w WITH (NOLOCK) ON %[4]s
LEFT OUTER JOIN %[2]s AS u WITH (NOLOCK) ON %[8]s
WHERE (
    w.ChangeVersion IS NULL
    OR (w.ChangeVersion < c.SYS_CHANGE_VERSION AND w.LeaseExpirationTime IS NULL)
    OR (w.LeaseExpirationTime IS NOT NULL AND w.LeaseExpirationTime < SYSUTCDATETIME())
  )
  AND (w.AttemptCount IS NULL OR w.AttemptCount < %[7]d)
ORDER BY c.SYS_CHANGE_VERSION ASC`

func candidateSelectQuery(cfg Config, schema *TableSchema) string {
	pkSelect := make([]string, len(schema.PKColumns))
	workerJoin := make([]string, len(schema.PKColumns))
	userJoin := make([]string, len(schema.PKColumns))
	for i, c := range schema.PKColumns {
		pkSelect[i] = "c." + c.Name
		workerJoin[i] = fmt.Sprintf("c.%s = w.%s", c.Name, c.Name)
		userJoin[i] = fmt.Sprintf("c.%s = u.%s", c.Name, c.Name)
	}
	nonKeySelect := ""
	for _, c := range schema.Columns[len(schema.PKColumns):] {
		nonKeySelect += ", u." + c.Name
	}
	return fmt.Sprintf(candidateSelectTemplate,
		cfg.BatchSize,
		schema.UserTableName,
		schema.WorkerTableName,
		strings.Join(workerJoin, " AND "),
		strings.Join(pkSelect, ", "),
		nonKeySelect,
		cfg.MaxAttemptCount,
		strings.Join(userJoin, " AND "),
	)
}

// upsertLeaseTemplate acquires or refreshes a lease for a single pk.
// Executed once per selected row, each invocation bound with its own
// @{col}_{index} parameter set plus
// @changeVersion_{i}/@leaseExpiration_{i}.
//
// %[1] = worker table
// %[2] = pk equality predicate for this row's index
// %[3] = pk column list
// %[4] = pk value placeholder list (same names as %[2]'s right side)
// %[5] = index, used to namespace @changeVersion_{i}/@leaseExpiration_{i}
const upsertLeaseTemplate = `
UPDATE %[1]s WITH (TABLOCKX, HOLDLOCK)
SET ChangeVersion = @changeVersion_%[5]d,
    AttemptCount = AttemptCount + 1,
    LeaseExpirationTime = @leaseExpiration_%[5]d
WHERE %[2]s;
IF @@ROWCOUNT = 0
INSERT INTO %[1]s (%[3]s, ChangeVersion, AttemptCount, LeaseExpirationTime)
VALUES (%[4]s, @changeVersion_%[5]d, 1, @leaseExpiration_%[5]d)`

func upsertLeaseQuery(workerTable string, pkCols []ColumnType, index int) string {
	paramNames := pkParamNames(pkCols, index)
	placeholders := make([]string, len(paramNames))
	for i, n := range paramNames {
		placeholders[i] = "@" + n
	}
	return fmt.Sprintf(upsertLeaseTemplate,
		workerTable,
		pkEquals(pkCols, index),
		pkColumnList(pkCols),
		strings.Join(placeholders, ", "),
		index,
	)
}

// renewLeaseTemplate refreshes LeaseExpirationTime for a single batch
// row. Run outside any surrounding transaction: each renewal commits
// independently so a slow handler doesn't hold a long-lived tx open.
const renewLeaseTemplate = `
UPDATE %[1]s WITH (TABLOCKX, HOLDLOCK)
SET LeaseExpirationTime = @leaseExpiration_%[3]d
WHERE %[2]s`

func renewLeaseQuery(workerTable string, pkCols []ColumnType, index int) string {
	return fmt.Sprintf(renewLeaseTemplate, workerTable, pkEquals(pkCols, index), index)
}

// releaseTemplate marks a batch row's lease as released, provided its
// ChangeVersion hasn't moved past the version we just processed.
const releaseTemplate = `
UPDATE %[1]s WITH (TABLOCKX, HOLDLOCK)
SET ChangeVersion = @changeVersion_%[3]d,
    AttemptCount = 0,
    LeaseExpirationTime = NULL
WHERE %[2]s AND ChangeVersion <= @changeVersion_%[3]d`

func releaseQuery(workerTable string, pkCols []ColumnType, index int) string {
	return fmt.Sprintf(releaseTemplate, workerTable, pkEquals(pkCols, index), index)
}

// unprocessedCandidatesTemplate counts candidates at or below
// newLastSyncVersion that still qualify under the same eligibility
// predicate used during polling. A nonzero count means some change at
// or below that version still needs to be leased, so the low-water
// mark cannot advance yet. Rows under a lease that has not expired do
// not match the predicate and are not counted.
//
// %[1] = user table
// %[2] = worker table
// %[3] = pk join predicate
// %[4] = MaxAttemptCount literal
const unprocessedCandidatesTemplate = `
SELECT COUNT(*)
FROM CHANGETABLE(CHANGES %[1]s, @p1) AS c
LEFT OUTER JOIN %[2]s AS w WITH (NOLOCK) ON %[3]s
WHERE c.SYS_CHANGE_VERSION <= @p2
  AND (
    w.ChangeVersion IS NULL
    OR (w.ChangeVersion < c.SYS_CHANGE_VERSION AND w.LeaseExpirationTime IS NULL)
    OR (w.LeaseExpirationTime IS NOT NULL AND w.LeaseExpirationTime < SYSUTCDATETIME())
  )
  AND (w.AttemptCount IS NULL OR w.AttemptCount < %[4]d)`

func unprocessedCandidatesQuery(cfg Config, schema *TableSchema) string {
	joinParts := make([]string, len(schema.PKColumns))
	for i, c := range schema.PKColumns {
		joinParts[i] = fmt.Sprintf("c.%s = w.%s", c.Name, c.Name)
	}
	return fmt.Sprintf(unprocessedCandidatesTemplate,
		schema.UserTableName,
		schema.WorkerTableName,
		strings.Join(joinParts, " AND "),
		cfg.MaxAttemptCount,
	)
}

const readLastSyncVersionTemplate = `
SELECT LastSyncVersion FROM %[1]s.GlobalState
WHERE UserFunctionID = @p1 AND UserTableID = @p2`

const advanceLastSyncVersionTemplate = `
UPDATE %[1]s.GlobalState SET LastSyncVersion = @p3
WHERE UserFunctionID = @p1 AND UserTableID = @p2`

const deleteRetiredWorkerRowsTemplate = `
DELETE FROM %[1]s WITH (TABLOCKX, HOLDLOCK) WHERE ChangeVersion <= @p1`

func readLastSyncVersionQuery(schema string) string {
	return fmt.Sprintf(readLastSyncVersionTemplate, schema)
}

func advanceLastSyncVersionQuery(schema string) string {
	return fmt.Sprintf(advanceLastSyncVersionTemplate, schema)
}

func deleteRetiredWorkerRowsQuery(workerTable string) string {
	return fmt.Sprintf(deleteRetiredWorkerRowsTemplate, workerTable)
}

// itoaIndex renders a batch position for use in @{name}_{index}
// parameter names.
func itoaIndex(i int) string { return strconv.Itoa(i) }

// pkArgs builds the @{col}_{index} bound parameters for a single
// batch row's primary key.
func pkArgs(pkCols []ColumnType, pkValues []string, index int) []any {
	names := pkParamNames(pkCols, index)
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = sql.Named(n, pkValues[i])
	}
	return args
}
