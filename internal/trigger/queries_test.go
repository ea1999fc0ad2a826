package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func twoColPK() []ColumnType {
	return []ColumnType{
		{Name: "TenantID", SQLType: "int"},
		{Name: "OrderID", SQLType: "int"},
	}
}

func TestPkParamNames(t *testing.T) {
	names := pkParamNames(twoColPK(), 3)
	assert.Equal(t, []string{"TenantID_3", "OrderID_3"}, names)
}

func TestPkEquals(t *testing.T) {
	got := pkEquals(twoColPK(), 0)
	assert.Equal(t, "TenantID = @TenantID_0 AND OrderID = @OrderID_0", got)
}

func TestPkColumnList(t *testing.T) {
	assert.Equal(t, "TenantID, OrderID", pkColumnList(twoColPK()))
}

func TestCreateWorkerTableDDL(t *testing.T) {
	ddl := createWorkerTableDDL("az_func.Worker_abc_1", twoColPK())
	assert.Contains(t, ddl, "CREATE TABLE az_func.Worker_abc_1")
	assert.Contains(t, ddl, "TenantID int NOT NULL")
	assert.Contains(t, ddl, "ChangeVersion bigint NOT NULL")
	assert.Contains(t, ddl, "PRIMARY KEY (TenantID, OrderID)")
}

func TestSanitizeConstraintName(t *testing.T) {
	assert.Equal(t, "az_func_Worker_abc_1", sanitizeConstraintName("az_func.Worker-abc.1"))
}

func TestCandidateSelectQuery(t *testing.T) {
	schema := &TableSchema{
		UserTableName:   "dbo.Orders",
		WorkerTableName: "az_func.Worker_abc_1",
		PKColumns:       twoColPK(),
		Columns:         append(twoColPK(), ColumnType{Name: "Status", SQLType: "varchar", HasLength: true, Length: 20}),
	}
	cfg := Config{BatchSize: 10, MaxAttemptCount: 5}

	q := candidateSelectQuery(cfg, schema)
	assert.Contains(t, q, "TOP 10")
	assert.Contains(t, q, "CHANGETABLE(CHANGES dbo.Orders, @p1)")
	assert.Contains(t, q, "c.TenantID = w.TenantID AND c.OrderID = w.OrderID")
	assert.Contains(t, q, "c.TenantID = u.TenantID AND c.OrderID = u.OrderID")
	assert.Contains(t, q, ", u.Status")
	assert.Contains(t, q, "AttemptCount < 5")
}

func TestUpsertLeaseQuery(t *testing.T) {
	q := upsertLeaseQuery("az_func.Worker_abc_1", twoColPK(), 2)
	assert.Contains(t, q, "UPDATE az_func.Worker_abc_1")
	assert.Contains(t, q, "@changeVersion_2")
	assert.Contains(t, q, "@leaseExpiration_2")
	assert.Contains(t, q, "INSERT INTO az_func.Worker_abc_1 (TenantID, OrderID, ChangeVersion, AttemptCount, LeaseExpirationTime)")
	assert.Contains(t, q, "VALUES (@TenantID_2, @OrderID_2, @changeVersion_2, 1, @leaseExpiration_2)")
}

func TestReleaseQuery(t *testing.T) {
	q := releaseQuery("az_func.Worker_abc_1", twoColPK(), 0)
	assert.Contains(t, q, "AttemptCount = 0")
	assert.Contains(t, q, "LeaseExpirationTime = NULL")
	assert.Contains(t, q, "ChangeVersion <= @changeVersion_0")
}

func TestPkArgsBindsEveryColumn(t *testing.T) {
	args := pkArgs(twoColPK(), []string{"1", "2"}, 0)
	assert.Len(t, args, 2)
}
