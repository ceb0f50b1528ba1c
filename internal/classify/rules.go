package classify

import (
	"sort"
	"strings"
	"unicode"

	"itersight/internal/domain"
)

// Status is the three-way completion classification of a story.
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusInMotion   Status = "in_motion"
	StatusNotStarted Status = "not_started"
)

// CategoryOther is the sentinel for stories carrying no vocabulary label.
const CategoryOther = "OTHER"

// OwnerUnassigned is the sentinel owner key for stories with no owners.
const OwnerUnassigned = "unassigned"

// TeamObservability is the canonical name all observability variants merge into.
const TeamObservability = "Observability"

// TeamUnassigned is the sentinel team key for stories with no group.
const TeamUnassigned = "unassigned"

// RuleSet holds the workflow-state membership tables. Any state name in
// neither set classifies as not started, so classification is total.
type RuleSet struct {
	CompletedStates map[string]bool
	InMotionStates  map[string]bool
}

// Default returns the fixed rule set for the tracker's workflow vocabulary.
func Default() RuleSet {
	return RuleSet{
		CompletedStates: stateSet("Completed", "Done", "Accepted", "Shipped"),
		InMotionStates:  stateSet("In Development", "In Progress", "In Review", "Ready for Review", "Ready for Deploy", "Started"),
	}
}

func stateSet(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// StatusOf classifies a story from its workflow state name. A missing
// workflow state defaults to not started rather than erroring.
func (r RuleSet) StatusOf(s domain.Story) Status {
	name := s.StateName()
	switch {
	case r.CompletedStates[name]:
		return StatusCompleted
	case r.InMotionStates[name]:
		return StatusInMotion
	default:
		return StatusNotStarted
	}
}

// categoryRanks is the fixed label vocabulary. Higher rank wins when a story
// carries several vocabulary labels. Ranks are unique so selection is
// deterministic regardless of label order.
var categoryRanks = map[string]int{
	"TECH DEBT":       1,
	"CHORE":           2,
	"BUG":             3,
	"SECURITY":        4,
	"FOUNDATIONAL":    5,
	"RESEARCH":        6,
	"PRODUCT FEATURE": 7,
}

// Categories returns the vocabulary category names in ascending rank order,
// with CategoryOther appended last. Chart axes key off this fixed order.
func Categories() []string {
	names := make([]string, 0, len(categoryRanks)+1)
	for name := range categoryRanks {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return categoryRanks[names[i]] < categoryRanks[names[j]] })
	return append(names, CategoryOther)
}

// CategoryOf picks the single category for a story: the highest-ranked
// vocabulary label it carries, or CategoryOther when none qualify. Matching
// is case-insensitive and independent of label order.
func CategoryOf(s domain.Story) string {
	best := ""
	bestRank := 0
	for _, l := range s.Labels {
		name := strings.ToUpper(strings.TrimSpace(l.Name))
		rank, ok := categoryRanks[name]
		if !ok {
			continue
		}
		if rank > bestRank {
			best = name
			bestRank = rank
		}
	}
	if best == "" {
		return CategoryOther
	}
	return best
}

// teamRanks orders known teams for display. Unknown teams sort after known
// ones, the unassigned bucket always last.
var teamRanks = []struct {
	match string
	rank  int
}{
	{"metrics", 0},
	{"observability", 1},
	{"integrations", 2},
	{"api", 3},
	{"sdk", 3},
	{"developer onboarding", 4},
	{"agent reliability", 5},
}

// TeamRank returns the sort rank for a team display name. Rank tokens match
// whole words only, so "Capital Markets" does not hit "api".
func TeamRank(name string) int {
	lowered := strings.ToLower(strings.TrimSpace(name))
	if lowered == TeamUnassigned || lowered == "" {
		return 1000
	}
	words := strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	padded := " " + strings.Join(words, " ") + " "
	for _, t := range teamRanks {
		if strings.Contains(padded, " "+t.match+" ") {
			return t.rank
		}
	}
	return 100
}

// CanonicalTeamName collapses known team-name variants into one canonical
// spelling. Currently only the observability family merges.
func CanonicalTeamName(name string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(name)), "observability") {
		return TeamObservability
	}
	return name
}

// SortTeamNames orders team display names by rank, alphabetical on ties.
func SortTeamNames(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		ri, rj := TeamRank(names[i]), TeamRank(names[j])
		if ri != rj {
			return ri < rj
		}
		return names[i] < names[j]
	})
}
