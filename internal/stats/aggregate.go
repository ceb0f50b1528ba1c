// Package stats computes the chart-ready breakdowns of a story snapshot.
// Everything here is pure: no I/O, no shared state, safe to call
// concurrently on the same snapshot.
package stats

import (
	"context"
	"math"
	"sort"

	"itersight/internal/classify"
	"itersight/internal/domain"
	"itersight/internal/lookup"
)

// StatusCounts is the completion triple for one bucket. The three counts
// always sum to Total.
type StatusCounts struct {
	Completed  int `json:"completed"`
	InMotion   int `json:"in_motion"`
	NotStarted int `json:"not_started"`
	Total      int `json:"total"`
}

func (c *StatusCounts) add(s classify.Status) {
	switch s {
	case classify.StatusCompleted:
		c.Completed++
	case classify.StatusInMotion:
		c.InMotion++
	default:
		c.NotStarted++
	}
	c.Total++
}

// CategoryCount is one bar of the category axis.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// DimensionStatus crosses one dimension value with the status axis.
type DimensionStatus struct {
	Key string `json:"key"`
	StatusCounts
}

// Percent computes round(100*part/whole); zero out of zero is 0, never NaN.
func Percent(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(whole)))
}

// CategoryCounts buckets every story into exactly one category via the label
// priority table. All vocabulary categories are retained at zero so chart
// axes stay stable; counts across the axis sum to len(stories).
func CategoryCounts(stories []domain.Story) []CategoryCount {
	byCat := make(map[string]int)
	for _, s := range stories {
		byCat[classify.CategoryOf(s)]++
	}
	cats := classify.Categories()
	out := make([]CategoryCount, 0, len(cats))
	for _, c := range cats {
		out = append(out, CategoryCount{Category: c, Count: byCat[c]})
	}
	return out
}

// MetricsFor classifies all stories and derives the overall percentage block.
func MetricsFor(stories []domain.Story, rules classify.RuleSet) domain.Metrics {
	var c StatusCounts
	for _, s := range stories {
		c.add(rules.StatusOf(s))
	}
	return domain.Metrics{
		Total:             c.Total,
		Completed:         c.Completed,
		InMotion:          c.InMotion,
		NotStarted:        c.NotStarted,
		CompletedPercent:  Percent(c.Completed, c.Total),
		InMotionPercent:   Percent(c.InMotion, c.Total),
		NotStartedPercent: Percent(c.NotStarted, c.Total),
	}
}

// StatusByCategory partitions on category, then classifies within each
// partition. Categories with no stories are omitted; present ones keep the
// fixed vocabulary order.
func StatusByCategory(stories []domain.Story, rules classify.RuleSet) []DimensionStatus {
	byCat := make(map[string]*StatusCounts)
	for _, s := range stories {
		key := classify.CategoryOf(s)
		c, ok := byCat[key]
		if !ok {
			c = &StatusCounts{}
			byCat[key] = c
		}
		c.add(rules.StatusOf(s))
	}
	var out []DimensionStatus
	for _, cat := range classify.Categories() {
		if c, ok := byCat[cat]; ok {
			out = append(out, DimensionStatus{Key: cat, StatusCounts: *c})
		}
	}
	return out
}

// StatusByOwner keys on the primary owner id, sentinel "unassigned" when the
// owner list is empty. Keys sort ascending for a deterministic order.
func StatusByOwner(stories []domain.Story, rules classify.RuleSet) []DimensionStatus {
	byOwner := make(map[string]*StatusCounts)
	for _, s := range stories {
		key := s.PrimaryOwner()
		if key == "" {
			key = classify.OwnerUnassigned
		}
		c, ok := byOwner[key]
		if !ok {
			c = &StatusCounts{}
			byOwner[key] = c
		}
		c.add(rules.StatusOf(s))
	}
	keys := make([]string, 0, len(byOwner))
	for k := range byOwner {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]DimensionStatus, 0, len(keys))
	for _, k := range keys {
		out = append(out, DimensionStatus{Key: k, StatusCounts: *byOwner[k]})
	}
	return out
}

// TeamBucket is one canonical team's slice of the snapshot. RawIDs keeps
// every underlying group id that merged into the bucket so a click on the
// chart can be reversed into a story filter.
type TeamBucket struct {
	Name       string         `json:"name"`
	RawIDs     []string       `json:"raw_ids"`
	Status     StatusCounts   `json:"status"`
	Categories map[string]int `json:"categories"`
}

// TeamBreakdown groups stories by raw group id, resolves display names,
// merges observability variants into one canonical bucket, and sorts by the
// fixed team priority. Stories without a group land in "unassigned".
func TeamBreakdown(ctx context.Context, stories []domain.Story, rules classify.RuleSet, resolver lookup.Resolver) []TeamBucket {
	buckets := make(map[string]*TeamBucket)
	for _, s := range stories {
		rawID := classify.TeamUnassigned
		name := classify.TeamUnassigned
		if s.GroupID != nil && *s.GroupID != "" {
			rawID = *s.GroupID
			name = classify.CanonicalTeamName(resolver.ResolveGroup(ctx, rawID).DisplayName)
		}
		b, ok := buckets[name]
		if !ok {
			b = &TeamBucket{Name: name, Categories: make(map[string]int)}
			buckets[name] = b
		}
		if !contains(b.RawIDs, rawID) {
			b.RawIDs = append(b.RawIDs, rawID)
		}
		b.Status.add(rules.StatusOf(s))
		b.Categories[classify.CategoryOf(s)]++
	}
	names := make([]string, 0, len(buckets))
	for n := range buckets {
		names = append(names, n)
	}
	classify.SortTeamNames(names)
	out := make([]TeamBucket, 0, len(names))
	for _, n := range names {
		b := buckets[n]
		sort.Strings(b.RawIDs)
		out = append(out, *b)
	}
	return out
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}
