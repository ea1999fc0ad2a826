package trigger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// reservedSchema is the fixed schema name this engine reserves for its
// own coordination tables.
const reservedSchema = "az_func"

// lengthTypes are the SQL Server types whose declared type is rendered
// with a length (or "(max)").
var lengthTypes = map[string]bool{
	"varchar": true, "nvarchar": true, "nchar": true, "char": true,
	"binary": true, "varbinary": true,
}

// precisionTypes are the SQL Server types rendered with
// (precision,scale).
var precisionTypes = map[string]bool{
	"numeric": true, "decimal": true,
}

// nationalTypes report max_length in bytes, twice the character count;
// the rendered length must be in characters.
var nationalTypes = map[string]bool{"nvarchar": true, "nchar": true}

// resolveUserTableID looks up the object id for tableName.
func resolveUserTableID(ctx context.Context, db querier, tableName string) (int64, error) {
	var id sql.NullInt64
	row := db.QueryRowContext(ctx, `SELECT OBJECT_ID(@p1, 'U')`, sql.Named("p1", tableName))
	if err := row.Scan(&id); err != nil {
		return 0, errors.Wrap(err, "could not resolve table object id")
	}
	if !id.Valid {
		return 0, &TableNotFound{TableName: tableName}
	}
	return id.Int64, nil
}

const pkColumnsQuery = `
SELECT c.name, t.name, c.max_length, c.precision, c.scale
FROM sys.indexes i
JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
JOIN sys.types t ON t.user_type_id = c.user_type_id
WHERE i.object_id = @p1 AND i.is_primary_key = 1
ORDER BY ic.key_ordinal`

const nonKeyColumnsQuery = `
SELECT c.name, t.name, c.max_length, c.precision, c.scale
FROM sys.columns c
JOIN sys.types t ON t.user_type_id = c.user_type_id
WHERE c.object_id = @p1
AND c.column_id NOT IN (
  SELECT ic.column_id FROM sys.index_columns ic
  JOIN sys.indexes i ON i.object_id = ic.object_id AND i.index_id = ic.index_id
  WHERE i.object_id = @p1 AND i.is_primary_key = 1
)
ORDER BY c.column_id`

func scanColumns(rows *sql.Rows) ([]ColumnType, error) {
	defer rows.Close()
	var ret []ColumnType
	for rows.Next() {
		var name, sqlType string
		var maxLength, precision, scale sql.NullInt64
		if err := rows.Scan(&name, &sqlType, &maxLength, &precision, &scale); err != nil {
			return nil, errors.Wrap(err, "could not scan column metadata")
		}
		ct := ColumnType{Name: name, SQLType: sqlType}
		switch {
		case lengthTypes[sqlType]:
			ct.HasLength = true
			ct.Length = maxLength.Int64
			if ct.Length != -1 && nationalTypes[sqlType] {
				ct.Length /= 2
			}
		case precisionTypes[sqlType]:
			ct.HasPrecision = true
			ct.Precision = precision.Int64
			ct.Scale = scale.Int64
		}
		ret = append(ret, ct)
	}
	return ret, errors.WithStack(rows.Err())
}

// readPrimaryKeyColumns returns the user table's primary-key columns,
// in their declared key order.
func readPrimaryKeyColumns(
	ctx context.Context, db querier, userTableID int64, userTableName string,
) ([]ColumnType, error) {
	rows, err := db.QueryContext(ctx, pkColumnsQuery, sql.Named("p1", userTableID))
	if err != nil {
		return nil, errors.Wrap(err, "could not query primary key columns")
	}
	cols, err := scanColumns(rows)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, &NoPrimaryKey{TableName: userTableName}
	}
	return cols, nil
}

// readNonKeyColumns returns the user table's columns outside its
// primary key, in catalog column order.
func readNonKeyColumns(ctx context.Context, db querier, userTableID int64) ([]ColumnType, error) {
	rows, err := db.QueryContext(ctx, nonKeyColumnsQuery, sql.Named("p1", userTableID))
	if err != nil {
		return nil, errors.Wrap(err, "could not query non-key columns")
	}
	return scanColumns(rows)
}

// workerTableName computes `<schema>.Worker_<userFunctionId>_<userTableId>`.
// userFunctionID is rendered without hyphens so it is a safe,
// catalog-trusted SQL identifier fragment.
func workerTableName(userFunctionID string, userTableID int64) string {
	compact := strings.ReplaceAll(userFunctionID, "-", "")
	return fmt.Sprintf("%s.Worker_%s_%d", reservedSchema, compact, userTableID)
}

// querier is satisfied by *sql.DB, *sql.Tx, and *sql.Conn: anything
// that can run a parameterized query or row query.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// resolveSchema resolves the user table's identity and its columns,
// pk-first.
func resolveSchema(ctx context.Context, db querier, userTableName string) (*TableSchema, error) {
	userTableID, err := resolveUserTableID(ctx, db, userTableName)
	if err != nil {
		return nil, err
	}

	pkCols, err := readPrimaryKeyColumns(ctx, db, userTableID, userTableName)
	if err != nil {
		return nil, err
	}

	nonKeyCols, err := readNonKeyColumns(ctx, db, userTableID)
	if err != nil {
		return nil, err
	}

	cols := make([]ColumnType, 0, len(pkCols)+len(nonKeyCols))
	cols = append(cols, pkCols...)
	cols = append(cols, nonKeyCols...)

	log.WithFields(log.Fields{
		"userTable":  userTableName,
		"pkColumns":  len(pkCols),
		"allColumns": len(cols),
	}).Debug("resolved user table schema")

	return &TableSchema{
		UserTableID:   userTableID,
		UserTableName: userTableName,
		PKColumns:     pkCols,
		Columns:       cols,
	}, nil
}
