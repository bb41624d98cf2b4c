package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sprout/pkg/models"
)

func f(v float64) *float64 { return &v }

func TestMatcher_Score(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	blueDream := models.Parent{ID: "p1", Name: "Blue Dream", BrandName: "Zion Cultivar", Category: "flower"}

	t.Run("identical after normalization", func(t *testing.T) {
		score := m.Score(models.RawListing{Name: "Blue Dream 3.5g", Brand: "Zion Cultivar", Category: "Flower"}, blueDream)
		assert.Equal(t, 100.0, score.Total)
		assert.True(t, score.BrandCompared)
	})

	t.Run("misspelled name and brand", func(t *testing.T) {
		score := m.Score(models.RawListing{Name: "Bleu Dreem", Brand: "Zion Cultivators"}, blueDream)
		assert.InDelta(t, 80.0, score.Name, 0.01)
		assert.InDelta(t, 81.25, score.Brand, 0.01)
		assert.InDelta(t, 80.375, score.Total, 0.01)
		assert.GreaterOrEqual(t, score.Total, 60.0)
		assert.LessOrEqual(t, score.Total, 90.0)
	})

	t.Run("missing brand redistributes weight to name", func(t *testing.T) {
		score := m.Score(models.RawListing{Name: "Blue Dream"}, blueDream)
		assert.False(t, score.BrandCompared)
		assert.Equal(t, 100.0, score.Total)
	})

	t.Run("unrelated name", func(t *testing.T) {
		score := m.Score(models.RawListing{Name: "XYZ Unknown Strain"}, blueDream)
		assert.Less(t, score.Total, 60.0)
	})

	t.Run("word order does not matter", func(t *testing.T) {
		score := m.Score(models.RawListing{Name: "Dream Blue", Brand: "Zion Cultivar LLC"}, blueDream)
		assert.Equal(t, 100.0, score.Total)
	})
}

func TestMatcher_Excluded(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	parent := models.Parent{Name: "Blue Dream", Category: "Flower"}

	assert.True(t, m.Excluded(models.RawListing{Name: "Blue Dream", Category: "Cartridge"}, parent))
	assert.False(t, m.Excluded(models.RawListing{Name: "Blue Dream", Category: "flowers"}, parent))
	assert.False(t, m.Excluded(models.RawListing{Name: "Blue Dream"}, parent))
	assert.False(t, m.Excluded(models.RawListing{Name: "Blue Dream", Category: "vape"}, models.Parent{Name: "Blue Dream"}))
}

func TestMatcher_Candidates(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	now := time.Now()

	t.Run("excludes other categories and sorts descending", func(t *testing.T) {
		pool := []models.Parent{
			{ID: "og", Name: "OG Kush", Category: "flower"},
			{ID: "cart", Name: "Blue Dream", Category: "vape"},
			{ID: "bd", Name: "Blue Dream", Category: "flower"},
			{ID: "bdh", Name: "Blue Dream Haze", Category: "flower"},
		}

		candidates := m.Candidates(models.RawListing{Name: "Blue Dream", Category: "flower"}, pool)
		require.Len(t, candidates, 3)
		assert.Equal(t, "bd", candidates[0].Parent.ID)
		assert.Equal(t, "bdh", candidates[1].Parent.ID)
		assert.Equal(t, "og", candidates[2].Parent.ID)
	})

	t.Run("ties broken by thc delta then recency", func(t *testing.T) {
		pool := []models.Parent{
			{ID: "far", Name: "Blue Dream", THCPercent: f(30), UpdatedAt: now},
			{ID: "unknown", Name: "Blue Dream", UpdatedAt: now.Add(time.Hour)},
			{ID: "near-old", Name: "Blue Dream", THCPercent: f(21), UpdatedAt: now.Add(-time.Hour)},
			{ID: "near-new", Name: "Blue Dream", THCPercent: f(21), UpdatedAt: now},
		}

		candidates := m.Candidates(models.RawListing{Name: "Blue Dream", THC: f(20)}, pool)
		require.Len(t, candidates, 4)
		ids := []string{candidates[0].Parent.ID, candidates[1].Parent.ID, candidates[2].Parent.ID, candidates[3].Parent.ID}
		assert.Equal(t, []string{"near-new", "near-old", "far", "unknown"}, ids)
	})

	t.Run("empty pool", func(t *testing.T) {
		assert.Empty(t, m.Candidates(models.RawListing{Name: "Blue Dream"}, nil))
	})
}
