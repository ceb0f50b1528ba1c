package stats

import (
	"context"
	"sort"

	"itersight/internal/classify"
	"itersight/internal/domain"
	"itersight/internal/lookup"
)

// OwnerRow partitions one owner's stories into four mutually exclusive work
// buckets plus an independent, overlapping completed bucket. The story lists
// back both the counts and drill-down display.
type OwnerRow struct {
	OwnerID          string         `json:"owner_id"`
	OwnerName        string         `json:"owner_name"`
	TeamID           string         `json:"team_id,omitempty"`
	TeamName         string         `json:"team_name,omitempty"`
	FeatureWork      []domain.Story `json:"feature_work"`
	DefectWork       []domain.Story `json:"defect_work"`
	FoundationalWork []domain.Story `json:"foundational_work"`
	Other            []domain.Story `json:"other"`
	Completed        []domain.Story `json:"completed"`
}

// OwnerBreakdown builds one row per primary owner. The owning team is taken
// from the first story seen for that owner carrying a group id.
func OwnerBreakdown(ctx context.Context, stories []domain.Story, rules classify.RuleSet, resolver lookup.Resolver) []OwnerRow {
	rows := make(map[string]*OwnerRow)
	var order []string
	for _, s := range stories {
		ownerID := s.PrimaryOwner()
		if ownerID == "" {
			ownerID = classify.OwnerUnassigned
		}
		row, ok := rows[ownerID]
		if !ok {
			row = &OwnerRow{OwnerID: ownerID, OwnerName: ownerID}
			if ownerID != classify.OwnerUnassigned {
				row.OwnerName = resolver.ResolveMember(ctx, ownerID).DisplayName
			}
			rows[ownerID] = row
			order = append(order, ownerID)
		}
		if row.TeamID == "" && s.GroupID != nil && *s.GroupID != "" {
			row.TeamID = *s.GroupID
			row.TeamName = classify.CanonicalTeamName(resolver.ResolveGroup(ctx, row.TeamID).DisplayName)
		}
		switch classify.CategoryOf(s) {
		case "PRODUCT FEATURE":
			row.FeatureWork = append(row.FeatureWork, s)
		case "BUG":
			row.DefectWork = append(row.DefectWork, s)
		case "FOUNDATIONAL":
			row.FoundationalWork = append(row.FoundationalWork, s)
		default:
			row.Other = append(row.Other, s)
		}
		if rules.StatusOf(s) == classify.StatusCompleted {
			row.Completed = append(row.Completed, s)
		}
	}
	out := make([]OwnerRow, 0, len(order))
	for _, id := range order {
		out = append(out, *rows[id])
	}
	SortOwnerRows(out, SortByOwner, false)
	return out
}

// SortKey selects the owner-row ordering column.
type SortKey string

const (
	SortByOwner        SortKey = "owner"
	SortByTeam         SortKey = "team"
	SortByFeatureWork  SortKey = "feature_work"
	SortByDefectWork   SortKey = "defect_work"
	SortByFoundational SortKey = "foundational_work"
	SortByOther        SortKey = "other"
	SortByCompleted    SortKey = "completed"
)

// SortOwnerRows orders rows by the given key with an ascending owner-name
// tie-break regardless of direction. Team ordering uses the team priority
// function, not plain alphabetical.
func SortOwnerRows(rows []OwnerRow, by SortKey, desc bool) {
	cmp := func(a, b OwnerRow) int {
		switch by {
		case SortByTeam:
			if ra, rb := classify.TeamRank(a.TeamName), classify.TeamRank(b.TeamName); ra != rb {
				return ra - rb
			}
			return compareStrings(a.TeamName, b.TeamName)
		case SortByFeatureWork:
			return len(a.FeatureWork) - len(b.FeatureWork)
		case SortByDefectWork:
			return len(a.DefectWork) - len(b.DefectWork)
		case SortByFoundational:
			return len(a.FoundationalWork) - len(b.FoundationalWork)
		case SortByOther:
			return len(a.Other) - len(b.Other)
		case SortByCompleted:
			return len(a.Completed) - len(b.Completed)
		default:
			return compareStrings(a.OwnerName, b.OwnerName)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		c := cmp(rows[i], rows[j])
		if desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		return rows[i].OwnerName < rows[j].OwnerName
	})
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
