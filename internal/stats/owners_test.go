package stats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itersight/internal/classify"
	"itersight/internal/domain"
)

func TestOwnerBreakdownBuckets(t *testing.T) {
	rules := classify.Default()
	stories := []domain.Story{
		mkStory(1, "Completed", "m1", "g-obs", "PRODUCT FEATURE"),
		mkStory(2, "In Review", "m1", "g-obs", "BUG"),
		mkStory(3, "Backlog", "m1", "g-obs", "FOUNDATIONAL"),
		mkStory(4, "Completed", "m1", "g-obs", "CHORE"),
		mkStory(5, "Backlog", "", ""),
	}
	rows := OwnerBreakdown(context.Background(), stories, rules, testResolver())
	require.Len(t, rows, 2)

	var ada OwnerRow
	for _, r := range rows {
		if r.OwnerID == "m1" {
			ada = r
		}
	}
	assert.Equal(t, "Ada", ada.OwnerName)
	assert.Equal(t, "g-obs", ada.TeamID)
	assert.Equal(t, classify.TeamObservability, ada.TeamName)

	// Exactly one exclusive bucket per story.
	assert.Len(t, ada.FeatureWork, 1)
	assert.Len(t, ada.DefectWork, 1)
	assert.Len(t, ada.FoundationalWork, 1)
	assert.Len(t, ada.Other, 1)
	exclusive := len(ada.FeatureWork) + len(ada.DefectWork) + len(ada.FoundationalWork) + len(ada.Other)
	assert.Equal(t, 4, exclusive)

	// Completed overlaps the exclusive buckets.
	assert.Len(t, ada.Completed, 2)
}

func TestOwnerBreakdownUnassignedSentinel(t *testing.T) {
	rules := classify.Default()
	rows := OwnerBreakdown(context.Background(), []domain.Story{mkStory(9, "", "", "")}, rules, testResolver())
	require.Len(t, rows, 1)
	assert.Equal(t, classify.OwnerUnassigned, rows[0].OwnerID)
	assert.Len(t, rows[0].Other, 1)
}

func TestSortOwnerRows(t *testing.T) {
	rows := []OwnerRow{
		{OwnerName: "Grace", TeamName: "Integrations", DefectWork: make([]domain.Story, 3)},
		{OwnerName: "Ada", TeamName: "Observability", DefectWork: make([]domain.Story, 1)},
		{OwnerName: "Linus", TeamName: "Observability", DefectWork: make([]domain.Story, 1)},
	}

	SortOwnerRows(rows, SortByDefectWork, true)
	assert.Equal(t, "Grace", rows[0].OwnerName)
	// Equal bucket sizes tie-break ascending by name.
	assert.Equal(t, "Ada", rows[1].OwnerName)
	assert.Equal(t, "Linus", rows[2].OwnerName)

	SortOwnerRows(rows, SortByTeam, false)
	// Observability ranks before Integrations.
	assert.Equal(t, "Observability", rows[0].TeamName)
	assert.Equal(t, "Ada", rows[0].OwnerName)
	assert.Equal(t, "Integrations", rows[2].TeamName)

	SortOwnerRows(rows, SortByOwner, false)
	assert.Equal(t, []string{"Ada", "Grace", "Linus"}, []string{rows[0].OwnerName, rows[1].OwnerName, rows[2].OwnerName})
}
