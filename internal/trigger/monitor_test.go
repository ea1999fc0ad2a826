package trigger

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqltrigger/engine/internal/trigger/triggertest"
)

type orderRow struct {
	OrderID string `json:"OrderID"`
	Status  string `json:"Status"`
}

func newTestMonitor(t *testing.T, executor Executor[orderRow]) *ChangeMonitor[orderRow] {
	t.Helper()
	schema := &TableSchema{
		UserTableID:     101,
		UserTableName:   "dbo.Orders",
		PKColumns:       []ColumnType{{Name: "OrderID", SQLType: "int"}},
		Columns:         []ColumnType{{Name: "OrderID", SQLType: "int"}, {Name: "Status", SQLType: "varchar"}},
		WorkerTableName: "az_func.Worker_abc_101",
	}
	log := logrus.NewEntry(logrus.New())
	return newChangeMonitor[orderRow](nil, schema, "11111111-2222-3333-4444-555555555555", executor, log, DefaultConfig())
}

func TestProcessChangesInsertAndUpdate(t *testing.T) {
	exec := &triggertest.FakeExecutor[orderRow]{}
	m := newTestMonitor(t, exec)

	rows := []changeRow{
		{pk: []string{"1"}, changeVersion: 10, operation: "I", values: map[string]string{"OrderID": "1", "Status": "new"}},
		{pk: []string{"2"}, changeVersion: 11, operation: "U", values: map[string]string{"OrderID": "2", "Status": "shipped"}},
	}

	succeeded, err := m.processChanges(context.Background(), rows)
	require.NoError(t, err)
	assert.True(t, succeeded)
	require.Len(t, exec.Batches, 1)
	changes := exec.Batches[0]
	require.Len(t, changes, 2)
	assert.Equal(t, Insert, changes[0].Operation)
	assert.Equal(t, "new", changes[0].Item.Status)
	assert.Equal(t, Update, changes[1].Operation)
	assert.Equal(t, "shipped", changes[1].Item.Status)
}

func TestProcessChangesDeletePayloadIsPKOnly(t *testing.T) {
	exec := &triggertest.FakeExecutor[orderRow]{}
	m := newTestMonitor(t, exec)

	rows := []changeRow{
		{pk: []string{"7"}, changeVersion: 12, operation: "D", values: map[string]string{"OrderID": "7", "Status": "shipped"}},
	}

	_, err := m.processChanges(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, exec.Batches, 1)
	item := exec.Batches[0][0].Item
	assert.Equal(t, "7", item.OrderID)
	assert.Equal(t, "", item.Status) // deleted row carries no non-key data
}

func TestProcessChangesUnrecognizedOperation(t *testing.T) {
	exec := &triggertest.FakeExecutor[orderRow]{}
	m := newTestMonitor(t, exec)

	rows := []changeRow{{pk: []string{"1"}, operation: "Z"}}
	_, err := m.processChanges(context.Background(), rows)
	require.Error(t, err)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Empty(t, exec.Batches)
}

func TestProcessChangesPropagatesHandlerFailure(t *testing.T) {
	exec := &triggertest.FakeExecutor[orderRow]{
		Results: []triggertest.FakeResult{{Succeeded: false}},
	}
	m := newTestMonitor(t, exec)

	rows := []changeRow{{pk: []string{"1"}, operation: "I", values: map[string]string{"OrderID": "1"}}}
	succeeded, err := m.processChanges(context.Background(), rows)
	require.NoError(t, err)
	assert.False(t, succeeded)
}

func TestRenewTickCancelsExecutorAtMaxRenewals(t *testing.T) {
	exec := &triggertest.FakeExecutor[orderRow]{}
	m := newTestMonitor(t, exec)
	m.cfg.MaxLeaseRenewalCount = 1
	m.pool = nil // renewLeases below returns early since there are no rows

	execCtx := m.cell.set(context.Background(), nil)
	m.storeState(processingChanges)

	m.cell.withLock(func() {
		m.cell.renewalCount = 0
	})

	// renewLeases with zero rows performs no I/O, so renewTick's
	// cancellation-at-threshold logic can be exercised without a pool.
	m.renewTick(context.Background())

	assert.Error(t, execCtx.Err())
}
