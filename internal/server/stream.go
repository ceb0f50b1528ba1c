package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"itersight/internal/domain"
	"itersight/internal/report"
)

type generateBody struct {
	Stories       []domain.Story `json:"stories,omitempty"`
	SelectedTeams []string       `json:"selected_teams,omitempty"`
}

// registerReportStream mounts the generation endpoint as a raw chi route.
// The response is a chunked stream of marker-prefixed JSON frames, which the
// typed API layer cannot produce.
func registerReportStream(router chi.Router, basePath string, cfg Config) {
	router.Post(basePath+"/iterations/{iteration_id}/report", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		iterID, err := strconv.ParseInt(chi.URLParam(r, "iteration_id"), 10, 64)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid iteration id", nil))
			return
		}

		var body generateBody
		if r.Body != nil {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err.Error() != "EOF" {
				respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid request body", nil))
				return
			}
		}

		if err := cfg.Engine.Acquire(iterID); err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		defer cfg.Engine.Release(iterID)

		iteration, err := cfg.Tracker.Iteration(ctx, iterID)
		if err != nil {
			// Snapshot payloads stay usable when the tracker is unreachable.
			iteration = domain.Iteration{ID: iterID}
		}
		stories := body.Stories
		if len(stories) == 0 {
			stories, err = cfg.Tracker.IterationStories(ctx, iterID)
			if err != nil {
				respondStatusError(w, handleError(err))
				return
			}
		}

		if p, ok := principalFromContext(ctx); ok {
			cfg.Auth.logger().Printf("report generation for iteration %d requested by %s", iterID, p.Subject)
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)

		req := report.GenerateRequest{
			Iteration:     iteration,
			Stories:       stories,
			SelectedTeams: body.SelectedTeams,
		}
		// Generation is fire-and-forget once started: a client that closes
		// the stream must not cancel the pipeline, and the stored report
		// stays reachable through history.
		genCtx := context.WithoutCancel(ctx)
		if _, err := cfg.Engine.Run(genCtx, req, report.NewFrameWriter(w)); err != nil {
			// Terminal failure frame already streamed; nothing left to send.
			if cfg.Logger != nil {
				cfg.Logger.Printf("report generation for iteration %d: %v", iterID, err)
			}
		}
	})
}
