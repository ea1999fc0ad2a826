package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeByPKKeepsHigherVersion(t *testing.T) {
	rows := []changeRow{
		{pk: []string{"1"}, changeVersion: 5},
		{pk: []string{"2"}, changeVersion: 6},
		{pk: []string{"1"}, changeVersion: 9},
	}
	out := dedupeByPK(rows)
	assert.Len(t, out, 2)
	for _, r := range out {
		if r.pk[0] == "1" {
			assert.Equal(t, int64(9), r.changeVersion)
		}
	}
}

func TestDedupeByPKNoDuplicatesIsNoOp(t *testing.T) {
	rows := []changeRow{
		{pk: []string{"1"}, changeVersion: 5},
		{pk: []string{"2"}, changeVersion: 6},
	}
	out := dedupeByPK(rows)
	assert.Equal(t, rows, out)
}

func TestDedupeByPKCompositeKey(t *testing.T) {
	rows := []changeRow{
		{pk: []string{"1", "a"}, changeVersion: 1},
		{pk: []string{"1", "b"}, changeVersion: 2},
	}
	out := dedupeByPK(rows)
	assert.Len(t, out, 2)
}
