package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiff(t *testing.T) {
	price := 36.0
	thc := 21.5
	original := EditableFields{Name: "Bleu Dreem", Brand: "Zion Cultivators", Price: &price, THC: &thc}

	t.Run("no changes", func(t *testing.T) {
		assert.Empty(t, Diff(original, original.Clone()))
	})

	t.Run("name only", func(t *testing.T) {
		edited := original.Clone()
		edited.Name = "Blue Dream"

		corrections := Diff(original, edited)
		assert.Equal(t, []Correction{{Field: CorrectionFieldName, OldValue: "Bleu Dreem", NewValue: "Blue Dream"}}, corrections)
	})

	t.Run("numeric fields compare by value", func(t *testing.T) {
		edited := original.Clone()
		newTHC := 22.0
		edited.THC = &newTHC
		edited.CBD = nil

		corrections := Diff(original, edited)
		assert.Equal(t, []Correction{{Field: CorrectionFieldTHC, OldValue: "21.5", NewValue: "22"}}, corrections)
	})
}

func TestScraperFlag_CloneIsDeep(t *testing.T) {
	price := 10.0
	flag := ScraperFlag{
		Working:      EditableFields{Name: "a", Price: &price},
		TagSnapshots: map[IssueTag]EditableFields{IssueTagWeightInName: {Name: "a 1g"}},
		IssueTags:    []IssueTag{IssueTagWeightInName},
	}

	clone := flag.Clone()
	*clone.Working.Price = 99
	clone.IssueTags[0] = IssueTagWrongCategory
	delete(clone.TagSnapshots, IssueTagWeightInName)

	assert.Equal(t, 10.0, *flag.Working.Price)
	assert.Equal(t, IssueTagWeightInName, flag.IssueTags[0])
	assert.Len(t, flag.TagSnapshots, 1)
}

func TestIssueTag_Valid(t *testing.T) {
	assert.True(t, IssueTagMissingFields.Valid())
	assert.False(t, IssueTag("needs-love").Valid())
}
