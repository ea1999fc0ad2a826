package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecomputeLastSyncVersionSingleVersion(t *testing.T) {
	rows := []changeRow{
		{changeVersion: 7},
		{changeVersion: 7},
	}
	assert.Equal(t, int64(7), recomputeLastSyncVersion(rows))
}

func TestRecomputeLastSyncVersionMultipleVersions(t *testing.T) {
	rows := []changeRow{
		{changeVersion: 5},
		{changeVersion: 9},
		{changeVersion: 9},
		{changeVersion: 12}, // largest, excluded: there may be unseen rows at version 12
	}
	assert.Equal(t, int64(9), recomputeLastSyncVersion(rows))
}

func TestRecomputeLastSyncVersionSingleRow(t *testing.T) {
	rows := []changeRow{{changeVersion: 42}}
	assert.Equal(t, int64(42), recomputeLastSyncVersion(rows))
}
