package stats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itersight/internal/classify"
	"itersight/internal/domain"
	"itersight/internal/lookup"
)

func mkStory(id int64, state string, owner, group string, labels ...string) domain.Story {
	s := domain.Story{ID: id, Name: "story"}
	if state != "" {
		s.WorkflowState = &domain.WorkflowState{ID: 1, Name: state}
	}
	if owner != "" {
		s.OwnerIDs = []string{owner}
	}
	if group != "" {
		s.GroupID = &group
	}
	for _, l := range labels {
		s.Labels = append(s.Labels, domain.Label{Name: l})
	}
	return s
}

func testResolver() lookup.Resolver {
	return lookup.Static{
		Members: map[string]string{
			"m1": "Ada",
			"m2": "Grace",
		},
		Groups: map[string]string{
			"g-obs":      "Observability",
			"g-obs-core": "Observability - Core",
			"g-int":      "Integrations",
		},
	}
}

func TestCategoryCountsPartition(t *testing.T) {
	stories := []domain.Story{
		mkStory(1, "Done", "", "", "BUG", "PRODUCT FEATURE"),
		mkStory(2, "Done", "", "", "BUG"),
		mkStory(3, "Done", "", ""),
		mkStory(4, "Done", "", "", "nonsense"),
	}
	counts := CategoryCounts(stories)

	total := 0
	byCat := map[string]int{}
	for _, c := range counts {
		total += c.Count
		byCat[c.Category] = c.Count
	}
	// No story lost or double-counted across the axis.
	assert.Equal(t, len(stories), total)
	// Multi-label story lands only in its highest-priority category.
	assert.Equal(t, 1, byCat["PRODUCT FEATURE"])
	assert.Equal(t, 1, byCat["BUG"])
	assert.Equal(t, 2, byCat[classify.CategoryOther])
	// Zero categories retained so axes stay stable.
	assert.Len(t, counts, len(classify.Categories()))
	assert.Equal(t, 0, byCat["SECURITY"])
}

func TestPercentZeroWhole(t *testing.T) {
	assert.Equal(t, 0, Percent(0, 0))
	assert.Equal(t, 0, Percent(5, 0))
	assert.Equal(t, 50, Percent(1, 2))
	assert.Equal(t, 33, Percent(1, 3))
	assert.Equal(t, 67, Percent(2, 3))
}

func TestMetricsFor(t *testing.T) {
	rules := classify.Default()
	stories := []domain.Story{
		mkStory(1, "Completed", "", ""),
		mkStory(2, "In Development", "", ""),
		mkStory(3, "Backlog", "", ""),
		mkStory(4, "", "", ""),
	}
	m := MetricsFor(stories, rules)
	assert.Equal(t, 4, m.Total)
	assert.Equal(t, 1, m.Completed)
	assert.Equal(t, 1, m.InMotion)
	assert.Equal(t, 2, m.NotStarted)
	assert.Equal(t, 25, m.CompletedPercent)
	assert.Equal(t, 50, m.NotStartedPercent)

	empty := MetricsFor(nil, rules)
	assert.Equal(t, 0, empty.CompletedPercent)
}

func TestStatusByOwnerSentinelAndSums(t *testing.T) {
	rules := classify.Default()
	stories := []domain.Story{
		mkStory(1, "Completed", "m1", ""),
		mkStory(2, "In Review", "m1", ""),
		mkStory(3, "Backlog", "", ""),
	}
	out := StatusByOwner(stories, rules)
	require.Len(t, out, 2)
	for _, d := range out {
		assert.Equal(t, d.Total, d.Completed+d.InMotion+d.NotStarted, "status triple must sum to total for %s", d.Key)
	}
	assert.Equal(t, "m1", out[0].Key)
	assert.Equal(t, 2, out[0].Total)
	assert.Equal(t, classify.OwnerUnassigned, out[1].Key)
	assert.Equal(t, 1, out[1].NotStarted)
}

func TestStatusByCategoryOmitsEmpty(t *testing.T) {
	rules := classify.Default()
	stories := []domain.Story{
		mkStory(1, "Completed", "", "", "BUG"),
		mkStory(2, "Backlog", "", "", "BUG"),
	}
	out := StatusByCategory(stories, rules)
	require.Len(t, out, 1)
	assert.Equal(t, "BUG", out[0].Key)
	assert.Equal(t, 2, out[0].Total)
	assert.Equal(t, 1, out[0].Completed)
}

func TestTeamBreakdownMergesObservabilityVariants(t *testing.T) {
	rules := classify.Default()
	stories := []domain.Story{
		mkStory(1, "Completed", "", "g-obs", "BUG"),
		mkStory(2, "In Review", "", "g-obs-core", "PRODUCT FEATURE"),
		mkStory(3, "Backlog", "", "g-int"),
		mkStory(4, "Backlog", "", ""),
	}
	out := TeamBreakdown(context.Background(), stories, rules, testResolver())
	require.Len(t, out, 3)

	// Priority order: Observability (1) before Integrations (2), unassigned last.
	assert.Equal(t, classify.TeamObservability, out[0].Name)
	assert.Equal(t, "Integrations", out[1].Name)
	assert.Equal(t, classify.TeamUnassigned, out[2].Name)

	obs := out[0]
	assert.ElementsMatch(t, []string{"g-obs", "g-obs-core"}, obs.RawIDs)
	assert.Equal(t, 2, obs.Status.Total)
	assert.Equal(t, 1, obs.Status.Completed)
	assert.Equal(t, 1, obs.Categories["BUG"])
	assert.Equal(t, 1, obs.Categories["PRODUCT FEATURE"])
}

func TestTeamBreakdownUnknownGroupStillCounted(t *testing.T) {
	rules := classify.Default()
	stories := []domain.Story{mkStory(1, "Completed", "", "g-mystery")}
	out := TeamBreakdown(context.Background(), stories, rules, testResolver())
	require.Len(t, out, 1)
	assert.Equal(t, lookup.UnknownName, out[0].Name)
	assert.Equal(t, 1, out[0].Status.Total)
}
