package report

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"itersight/internal/classify"
	"itersight/internal/domain"
	"itersight/internal/events"
	"itersight/internal/lookup"
	"itersight/internal/narrative"
	"itersight/internal/repo"
	"itersight/internal/stats"
)

// ErrGenerationInFlight is returned when a generation is already running for
// the requested iteration. One generation per iteration at a time.
var ErrGenerationInFlight = errors.New("report generation already in flight for iteration")

// GenerateRequest is the full payload for one report generation.
type GenerateRequest struct {
	Iteration     domain.Iteration
	Stories       []domain.Story
	SelectedTeams []string
}

// Engine runs the report generation pipeline: per-team narration, overall
// summary, metrics, persistence. Frames are streamed through a FrameWriter
// as stages complete.
type Engine struct {
	Repo      repo.Repo
	Events    events.Writer
	Generator narrative.Generator
	Resolver  lookup.Resolver
	Rules     classify.RuleSet
	Logger    *log.Logger
	Now       func() time.Time

	mu       sync.Mutex
	inFlight map[int64]bool
}

// NewEngine wires an engine with its collaborators.
func NewEngine(r repo.Repo, ev events.Writer, gen narrative.Generator, res lookup.Resolver) *Engine {
	return &Engine{
		Repo:      r,
		Events:    ev,
		Generator: gen,
		Resolver:  res,
		Rules:     classify.Default(),
		Now:       time.Now,
		inFlight:  map[int64]bool{},
	}
}

func (e *Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Acquire claims the per-iteration slot. Callers must Release after Run so
// the guard can be checked before the response stream starts.
func (e *Engine) Acquire(iterationID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[iterationID] {
		return ErrGenerationInFlight
	}
	e.inFlight[iterationID] = true
	return nil
}

// Release frees the per-iteration slot claimed by Acquire.
func (e *Engine) Release(iterationID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, iterationID)
}

// Run executes the pipeline and streams frames to fw. The caller must hold
// the iteration slot via Acquire. Frame writes are best effort: a client
// that stops reading does not stop the pipeline, and the report is persisted
// regardless, so a caller can poll history for a result that arrives after
// it went away. Callers wanting that behavior over HTTP must hand Run a
// context detached from the request.
func (e *Engine) Run(ctx context.Context, req GenerateRequest, fw *FrameWriter) (domain.Report, error) {
	iterID := req.Iteration.ID

	e.progress(fw, ProgressFrame{Stage: StagePreparing})

	buckets := stats.TeamBreakdown(ctx, req.Stories, e.Rules, e.Resolver)
	byTeam := e.storiesByTeam(ctx, req.Stories)
	buckets = filterBuckets(buckets, req.SelectedTeams)

	e.progress(fw, ProgressFrame{Stage: StageGeneratingTeams})

	teamMetrics := make([]domain.TeamMetrics, 0, len(buckets))
	teamSections := make([]string, 0, len(buckets))
	for i, bucket := range buckets {
		if err := ctx.Err(); err != nil {
			return e.fail(ctx, fw, iterID, "generation cancelled", err)
		}
		e.progress(fw, ProgressFrame{
			Stage:    StageGeneratingTeam,
			TeamName: bucket.Name,
			Current:  i + 1,
			Total:    len(buckets),
		})

		tm := teamMetricsFor(bucket)
		teamMetrics = append(teamMetrics, tm)

		section, err := e.Generator.TeamSummary(ctx, bucket.Name, byTeam[bucket.Name], tm.Metrics)
		if err != nil {
			return e.fail(ctx, fw, iterID, fmt.Sprintf("narrating team %s failed", bucket.Name), err)
		}
		teamSections = append(teamSections, section)
	}

	metrics := stats.MetricsFor(req.Stories, e.Rules)

	e.progress(fw, ProgressFrame{Stage: StageGeneratingSummary})
	prose, err := e.Generator.OverallSummary(ctx, req.Iteration, teamSections, metrics)
	if err != nil {
		return e.fail(ctx, fw, iterID, "narrating summary failed", err)
	}

	e.progress(fw, ProgressFrame{Stage: StageCalculating})
	e.progress(fw, ProgressFrame{Stage: StageStoring})

	rep := domain.Report{
		ID:          uuid.NewString(),
		IterationID: iterID,
		Report:      prose,
		Metrics:     metrics,
		TeamMetrics: teamMetrics,
		GeneratedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertReport(ctx, rep); err != nil {
		return e.fail(ctx, fw, iterID, "storing report failed", err)
	}
	if err := e.Events.Append(ctx, "report.completed", iterID, "report", rep.ID, events.EventPayload{"teams": len(teamMetrics)}); err != nil {
		e.logger().Printf("event append failed: %v", err)
	}

	if err := fw.Success(SuccessFrame{
		Report:      rep.Report,
		Metrics:     rep.Metrics,
		TeamMetrics: rep.TeamMetrics,
		GeneratedAt: rep.GeneratedAt,
	}); err != nil {
		// Report is already stored; the client finds it via history.
		e.logger().Printf("writing success frame: %v", err)
	}
	return rep, nil
}

func (e *Engine) progress(fw *FrameWriter, f ProgressFrame) {
	if err := fw.Progress(f); err != nil {
		e.logger().Printf("writing progress frame: %v", err)
	}
}

// fail writes the terminal failure frame and records the failure event. The
// returned error carries the underlying cause for the caller's log.
func (e *Engine) fail(ctx context.Context, fw *FrameWriter, iterationID int64, msg string, cause error) (domain.Report, error) {
	frame := FailureFrame{Error: msg}
	if cause != nil {
		frame.Details = cause.Error()
	}
	if werr := fw.Failure(frame); werr != nil {
		e.logger().Printf("writing failure frame: %v", werr)
	}
	// The audit entry must survive the cancellation that caused the failure.
	if eerr := e.Events.Append(context.WithoutCancel(ctx), "report.failed", iterationID, "report", "", events.EventPayload{"error": msg}); eerr != nil {
		e.logger().Printf("event append failed: %v", eerr)
	}
	if cause != nil {
		return domain.Report{}, fmt.Errorf("%s: %w", msg, cause)
	}
	return domain.Report{}, errors.New(msg)
}

// storiesByTeam partitions stories by canonical team name so each team's
// narrative sees only its own stories.
func (e *Engine) storiesByTeam(ctx context.Context, stories []domain.Story) map[string][]domain.Story {
	out := map[string][]domain.Story{}
	for _, s := range stories {
		name := classify.TeamUnassigned
		if s.GroupID != nil && *s.GroupID != "" {
			name = classify.CanonicalTeamName(e.Resolver.ResolveGroup(ctx, *s.GroupID).DisplayName)
		}
		out[name] = append(out[name], s)
	}
	return out
}

func teamMetricsFor(bucket stats.TeamBucket) domain.TeamMetrics {
	st := bucket.Status
	return domain.TeamMetrics{
		TeamID:   strings.Join(bucket.RawIDs, ","),
		TeamName: bucket.Name,
		Metrics: domain.Metrics{
			Total:             st.Total,
			Completed:         st.Completed,
			InMotion:          st.InMotion,
			NotStarted:        st.NotStarted,
			CompletedPercent:  stats.Percent(st.Completed, st.Total),
			InMotionPercent:   stats.Percent(st.InMotion, st.Total),
			NotStartedPercent: stats.Percent(st.NotStarted, st.Total),
		},
		StatusBreakdown: map[string]int{
			string(classify.StatusCompleted):  st.Completed,
			string(classify.StatusInMotion):   st.InMotion,
			string(classify.StatusNotStarted): st.NotStarted,
		},
	}
}

// filterBuckets keeps only the selected canonical team names. An empty
// selection keeps everything.
func filterBuckets(buckets []stats.TeamBucket, selected []string) []stats.TeamBucket {
	if len(selected) == 0 {
		return buckets
	}
	want := map[string]bool{}
	for _, name := range selected {
		want[classify.CanonicalTeamName(name)] = true
	}
	out := buckets[:0:0]
	for _, b := range buckets {
		if want[b.Name] {
			out = append(out, b)
		}
	}
	return out
}
