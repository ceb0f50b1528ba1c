package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"itersight/internal/db"
	"itersight/internal/domain"
	"itersight/internal/events"
	"itersight/internal/lookup"
	"itersight/internal/migrate"
	"itersight/internal/narrative"
	"itersight/internal/repo"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	resolver := lookup.Static{
		Members: map[string]string{"m1": "Ada"},
		Groups:  map[string]string{"g-obs": "Observability", "g-int": "Integrations"},
	}
	eng := NewEngine(repo.Repo{DB: conn}, events.Writer{DB: conn}, narrative.Template{}, resolver)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return eng
}

func strp(s string) *string { return &s }

func testStories() []domain.Story {
	return []domain.Story{
		{ID: 1, Name: "trace sampling", WorkflowState: &domain.WorkflowState{Name: "Done"}, GroupID: strp("g-obs"), OwnerIDs: []string{"m1"}},
		{ID: 2, Name: "alerting rules", WorkflowState: &domain.WorkflowState{Name: "In Progress"}, GroupID: strp("g-obs")},
		{ID: 3, Name: "webhook retries", WorkflowState: &domain.WorkflowState{Name: "Unstarted"}, GroupID: strp("g-int")},
	}
}

// decodeFrames splits the buffer into marker-prefixed JSON lines.
func decodeFrames(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(buf.String(), "\n") {
		if !strings.HasPrefix(line, Marker) {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, Marker)), &m); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestEngineRunStagesAndPersistence(t *testing.T) {
	eng := testEngine(t)
	var buf bytes.Buffer

	rep, err := eng.Run(context.Background(), GenerateRequest{
		Iteration: domain.Iteration{ID: 42, Name: "Sprint 42"},
		Stories:   testStories(),
	}, NewFrameWriter(&buf))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	frames := decodeFrames(t, &buf)
	var stages []string
	for _, f := range frames {
		if s, ok := f["stage"].(string); ok {
			stages = append(stages, s)
		}
	}
	want := []string{
		StagePreparing, StageGeneratingTeams,
		StageGeneratingTeam, StageGeneratingTeam,
		StageGeneratingSummary, StageCalculating, StageStoring,
	}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stage[%d] = %q, want %q", i, stages[i], want[i])
		}
	}

	last := frames[len(frames)-1]
	if _, ok := last["report"]; !ok {
		t.Fatalf("last frame is not the success frame: %v", last)
	}
	if last["generated_at"] != "2026-03-01T12:00:00Z" {
		t.Fatalf("generated_at = %v", last["generated_at"])
	}

	// team frames arrive in priority order: Observability before Integrations
	if frames[2]["teamName"] != "Observability" || frames[3]["teamName"] != "Integrations" {
		t.Fatalf("team order: %v then %v", frames[2]["teamName"], frames[3]["teamName"])
	}

	stored, err := eng.Repo.ListReports(context.Background(), 42, 0)
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(stored) != 1 || stored[0].ID != rep.ID {
		t.Fatalf("stored = %+v", stored)
	}
	if stored[0].Metrics.Total != 3 || stored[0].Metrics.Completed != 1 {
		t.Fatalf("stored metrics = %+v", stored[0].Metrics)
	}
	if len(stored[0].TeamMetrics) != 2 {
		t.Fatalf("team metrics = %+v", stored[0].TeamMetrics)
	}
}

func TestEngineRunSelectedTeams(t *testing.T) {
	eng := testEngine(t)
	var buf bytes.Buffer

	_, err := eng.Run(context.Background(), GenerateRequest{
		Iteration:     domain.Iteration{ID: 7},
		Stories:       testStories(),
		SelectedTeams: []string{"Observability - Core"},
	}, NewFrameWriter(&buf))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, f := range decodeFrames(t, &buf) {
		if f["teamName"] == "Integrations" {
			t.Fatalf("unselected team was narrated: %v", f)
		}
	}
}

// goneWriter accepts the first write and fails the rest, like a client that
// read one frame and hung up.
type goneWriter struct {
	writes int
}

func (w *goneWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes > 1 {
		return 0, errors.New("client gone")
	}
	return len(p), nil
}

func TestEngineRunPersistsWhenClientStopsReading(t *testing.T) {
	eng := testEngine(t)

	rep, err := eng.Run(context.Background(), GenerateRequest{
		Iteration: domain.Iteration{ID: 42, Name: "Sprint 42"},
		Stories:   testStories(),
	}, NewFrameWriter(&goneWriter{}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	stored, err := eng.Repo.ListReports(context.Background(), 42, 0)
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(stored) != 1 || stored[0].ID != rep.ID {
		t.Fatalf("report not persisted for a gone client: %+v", stored)
	}
}

func TestEngineRunEmptyGroupIDIsUnassigned(t *testing.T) {
	eng := testEngine(t)
	var buf bytes.Buffer

	stories := []domain.Story{
		{ID: 1, Name: "stray work", WorkflowState: &domain.WorkflowState{Name: "Done"}, GroupID: strp("")},
	}
	_, err := eng.Run(context.Background(), GenerateRequest{
		Iteration: domain.Iteration{ID: 11},
		Stories:   stories,
	}, NewFrameWriter(&buf))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var teams []string
	for _, f := range decodeFrames(t, &buf) {
		if name, ok := f["teamName"].(string); ok {
			teams = append(teams, name)
		}
	}
	if len(teams) != 1 || teams[0] != "unassigned" {
		t.Fatalf("teams narrated = %v, want only unassigned", teams)
	}
}

type failingGenerator struct{}

func (failingGenerator) TeamSummary(context.Context, string, []domain.Story, domain.Metrics) (string, error) {
	return "", errors.New("model unavailable")
}

func (failingGenerator) OverallSummary(context.Context, domain.Iteration, []string, domain.Metrics) (string, error) {
	return "", errors.New("model unavailable")
}

func TestEngineRunFailureFrame(t *testing.T) {
	eng := testEngine(t)
	eng.Generator = failingGenerator{}
	var buf bytes.Buffer

	_, err := eng.Run(context.Background(), GenerateRequest{
		Iteration: domain.Iteration{ID: 9},
		Stories:   testStories(),
	}, NewFrameWriter(&buf))
	if err == nil {
		t.Fatal("expected error")
	}

	frames := decodeFrames(t, &buf)
	last := frames[len(frames)-1]
	if last["error"] == nil {
		t.Fatalf("last frame is not a failure frame: %v", last)
	}
	if last["details"] != "model unavailable" {
		t.Fatalf("details = %v", last["details"])
	}

	stored, err := eng.Repo.ListReports(context.Background(), 9, 0)
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("failed run persisted a report: %+v", stored)
	}
}

func TestEngineAcquireGuard(t *testing.T) {
	eng := testEngine(t)
	if err := eng.Acquire(5); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := eng.Acquire(5); !errors.Is(err, ErrGenerationInFlight) {
		t.Fatalf("second acquire err = %v", err)
	}
	if err := eng.Acquire(6); err != nil {
		t.Fatalf("other iteration acquire: %v", err)
	}
	eng.Release(5)
	if err := eng.Acquire(5); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}
