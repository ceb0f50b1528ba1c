// Package narrative turns iteration metrics into report prose.
package narrative

import (
	"context"
	"fmt"
	"strings"

	"itersight/internal/domain"
)

// Generator produces the prose sections of a progress report. Implementations
// must be safe for sequential reuse across generations.
type Generator interface {
	// TeamSummary narrates one team's slice of the iteration.
	TeamSummary(ctx context.Context, teamName string, stories []domain.Story, metrics domain.Metrics) (string, error)
	// OverallSummary narrates the whole iteration given the per-team sections.
	OverallSummary(ctx context.Context, iteration domain.Iteration, teamSections []string, metrics domain.Metrics) (string, error)
}

// Template is a deterministic generator used when no LLM is configured and as
// the fixture generator in tests.
type Template struct{}

func (Template) TeamSummary(_ context.Context, teamName string, stories []domain.Story, metrics domain.Metrics) (string, error) {
	return fmt.Sprintf("%s worked %d stories this iteration: %d completed (%d%%), %d in motion, %d not started.",
		teamName, metrics.Total, metrics.Completed, metrics.CompletedPercent, metrics.InMotion, metrics.NotStarted), nil
}

func (Template) OverallSummary(_ context.Context, iteration domain.Iteration, teamSections []string, metrics domain.Metrics) (string, error) {
	var b strings.Builder
	title := iteration.Name
	if title == "" {
		title = fmt.Sprintf("Iteration %d", iteration.ID)
	}
	fmt.Fprintf(&b, "%s: %d of %d stories completed (%d%%).", title, metrics.Completed, metrics.Total, metrics.CompletedPercent)
	for _, section := range teamSections {
		b.WriteString("\n\n")
		b.WriteString(section)
	}
	return b.String(), nil
}
