package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sprout/pkg/models"
)

func TestCandidatePool(t *testing.T) {
	pool := NewCandidatePool([]models.Parent{
		{ID: "p1", Name: "Blue Dream", MatchKey: "blue dream||"},
	})
	require.Equal(t, 1, pool.Len())

	pool.Add(models.Parent{ID: "p2", Name: "OG Kush", MatchKey: "og kush||"})
	assert.Equal(t, 2, pool.Len())

	pool.Add(models.Parent{ID: "p1", Name: "Blue Dream Renamed", MatchKey: "blue dream||"})
	require.Equal(t, 2, pool.Len())
	assert.Equal(t, "Blue Dream Renamed", pool.Parents()[0].Name)
	assert.Equal(t, "OG Kush", pool.Parents()[1].Name)
}

func TestIsConflict(t *testing.T) {
	assert.True(t, IsConflict(ErrDuplicate))
	assert.True(t, IsConflict(ErrConflict))
	assert.False(t, IsConflict(ErrNotFound))
	assert.False(t, IsConflict(nil))
}
