package trigger

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return db, mock, func() { _ = db.Close() }
}

func TestResolveUserTableIDNotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT OBJECT_ID\(@p1, 'U'\)`).
		WillReturnRows(sqlmock.NewRows([]string{""}).AddRow(nil))

	_, err := resolveUserTableID(context.Background(), db, "dbo.Missing")
	var notFound *TableNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "dbo.Missing", notFound.TableName)
}

func TestResolveUserTableIDFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT OBJECT_ID\(@p1, 'U'\)`).
		WillReturnRows(sqlmock.NewRows([]string{""}).AddRow(101))

	id, err := resolveUserTableID(context.Background(), db, "dbo.Orders")
	require.NoError(t, err)
	assert.Equal(t, int64(101), id)
}

func TestReadPrimaryKeyColumnsNoneFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	mock.ExpectQuery(`FROM sys\.indexes`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "name", "max_length", "precision", "scale"}))

	_, err := readPrimaryKeyColumns(context.Background(), db, 101, "dbo.Orders")
	var noPK *NoPrimaryKey
	require.ErrorAs(t, err, &noPK)
	assert.Equal(t, "dbo.Orders", noPK.TableName)
}

func TestScanColumnsRendersLengthAndPrecision(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	mock.ExpectQuery(`FROM sys\.indexes`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "name", "max_length", "precision", "scale"}).
			AddRow("OrderID", "int", nil, nil, nil).
			AddRow("Label", "nvarchar", int64(100), nil, nil).
			AddRow("Amount", "decimal", nil, int64(18), int64(2)))

	cols, err := readPrimaryKeyColumns(context.Background(), db, 101, "dbo.Orders")
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, "int", cols[0].Render())
	assert.Equal(t, "nvarchar(50)", cols[1].Render()) // national type: byte length halved
	assert.Equal(t, "decimal(18,2)", cols[2].Render())
}

func TestResolveSchema(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT OBJECT_ID\(@p1, 'U'\)`).
		WillReturnRows(sqlmock.NewRows([]string{""}).AddRow(101))
	mock.ExpectQuery(`FROM sys\.indexes`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "name", "max_length", "precision", "scale"}).
			AddRow("OrderID", "int", nil, nil, nil))
	mock.ExpectQuery(`FROM sys\.columns`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "name", "max_length", "precision", "scale"}).
			AddRow("Status", "varchar", int64(20), nil, nil))

	schema, err := resolveSchema(context.Background(), db, "dbo.Orders")
	require.NoError(t, err)
	assert.Equal(t, int64(101), schema.UserTableID)
	require.Len(t, schema.PKColumns, 1)
	require.Len(t, schema.Columns, 2)
	assert.Equal(t, "OrderID", schema.Columns[0].Name)
	assert.Equal(t, "Status", schema.Columns[1].Name)
}

func TestWorkerTableName(t *testing.T) {
	name := workerTableName("11111111-2222-3333-4444-555555555555", 101)
	assert.Equal(t, "az_func.Worker_11111111222233334444555555555555_101", name)
}
