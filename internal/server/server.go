// Package server exposes the iteration-insight HTTP API: aggregation stats,
// report generation streaming, and report history.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"itersight/internal/classify"
	"itersight/internal/domain"
	"itersight/internal/lookup"
	"itersight/internal/repo"
	"itersight/internal/report"
	"itersight/internal/stats"
	"itersight/internal/tracker"
)

// TrackerSource supplies iteration data to the stats and report endpoints.
// Satisfied by *tracker.Client; tests substitute a fixture.
type TrackerSource interface {
	Iteration(ctx context.Context, id int64) (domain.Iteration, error)
	IterationStories(ctx context.Context, id int64) ([]domain.Story, error)
}

// Config for the HTTP API handler.
type Config struct {
	Repo         repo.Repo
	Engine       *report.Engine
	Tracker      TrackerSource
	Resolver     lookup.Resolver
	Rules        classify.RuleSet
	BasePath     string
	Auth         AuthConfig
	HistoryLimit int
	Logger       *log.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"report not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Itersight API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Tracker == nil {
		return nil, errors.New("tracker source required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("report engine required")
	}
	if cfg.Resolver == nil {
		cfg.Resolver = lookup.Static{}
	}
	if len(cfg.Rules.CompletedStates) == 0 && len(cfg.Rules.InMotionStates) == 0 {
		cfg.Rules = classify.Default()
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Itersight API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerStats(group, cfg)
	registerOwners(group, cfg)
	registerReportHistory(group, cfg)
	registerReportStream(router, basePath, cfg)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, report.ErrGenerationInFlight) {
		return newAPIError(http.StatusConflict, "generation_in_flight", err.Error(), nil)
	}
	var te *tracker.APIError
	if errors.As(err, &te) {
		return newAPIError(http.StatusBadGateway, "tracker_error", err.Error(), map[string]any{"tracker_status": te.StatusCode})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusBadGateway:
		return "tracker_error"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type IterationPath struct {
	IterationID int64 `path:"iteration_id"`
}

type statsBody struct {
	IterationID int64                   `json:"iteration_id"`
	Dimension   string                  `json:"dimension"`
	Metrics     domain.Metrics          `json:"metrics"`
	Buckets     []stats.DimensionStatus `json:"buckets,omitempty"`
	Teams       []stats.TeamBucket      `json:"teams,omitempty"`
	Categories  []stats.CategoryCount   `json:"categories,omitempty"`
}

func registerStats(api huma.API, cfg Config) {
	type statsInput struct {
		IterationPath
		Dimension string `query:"dimension" enum:"category,owner,team" default:"category"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "iteration-stats",
		Method:      http.MethodGet,
		Path:        "/iterations/{iteration_id}/stats",
		Summary:     "Iteration status breakdown along one dimension",
	}, func(ctx context.Context, input *statsInput) (*struct {
		Body statsBody `json:"body"`
	}, error) {
		stories, err := cfg.Tracker.IterationStories(ctx, input.IterationID)
		if err != nil {
			return nil, handleError(err)
		}
		resolver := lookup.NewCache(cfg.Resolver)
		body := statsBody{
			IterationID: input.IterationID,
			Dimension:   input.Dimension,
			Metrics:     stats.MetricsFor(stories, cfg.Rules),
		}
		switch input.Dimension {
		case "owner":
			body.Buckets = stats.StatusByOwner(stories, cfg.Rules)
		case "team":
			body.Teams = stats.TeamBreakdown(ctx, stories, cfg.Rules, resolver)
		default:
			body.Buckets = stats.StatusByCategory(stories, cfg.Rules)
			body.Categories = stats.CategoryCounts(stories)
		}
		return &struct {
			Body statsBody `json:"body"`
		}{Body: body}, nil
	})
}

func registerOwners(api huma.API, cfg Config) {
	type ownersInput struct {
		IterationPath
		Sort string `query:"sort" enum:"owner,team,feature_work,defect_work,foundational_work,other,completed" default:"owner"`
		Desc bool   `query:"desc"`
	}
	type ownersBody struct {
		IterationID int64            `json:"iteration_id"`
		Owners      []stats.OwnerRow `json:"owners"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "iteration-owner-breakdown",
		Method:      http.MethodGet,
		Path:        "/iterations/{iteration_id}/stats/owners",
		Summary:     "Per-owner work-type breakdown",
	}, func(ctx context.Context, input *ownersInput) (*struct {
		Body ownersBody `json:"body"`
	}, error) {
		stories, err := cfg.Tracker.IterationStories(ctx, input.IterationID)
		if err != nil {
			return nil, handleError(err)
		}
		resolver := lookup.NewCache(cfg.Resolver)
		rows := stats.OwnerBreakdown(ctx, stories, cfg.Rules, resolver)
		stats.SortOwnerRows(rows, stats.SortKey(input.Sort), input.Desc)
		return &struct {
			Body ownersBody `json:"body"`
		}{Body: ownersBody{IterationID: input.IterationID, Owners: rows}}, nil
	})
}

func registerReportHistory(api huma.API, cfg Config) {
	type historyInput struct {
		IterationPath
		Limit int `query:"limit" minimum:"0"`
	}
	type historyBody struct {
		IterationID int64           `json:"iteration_id"`
		Reports     []domain.Report `json:"reports"`
		TotalCount  int             `json:"total_count"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "iteration-report-history",
		Method:      http.MethodGet,
		Path:        "/iterations/{iteration_id}/reports",
		Summary:     "Most recent generated reports, newest first",
	}, func(ctx context.Context, input *historyInput) (*struct {
		Body historyBody `json:"body"`
	}, error) {
		limit := input.Limit
		if limit == 0 {
			limit = cfg.HistoryLimit
		}
		reports, err := cfg.Repo.ListReports(ctx, input.IterationID, limit)
		if err != nil {
			return nil, handleError(err)
		}
		total, err := cfg.Repo.CountReports(ctx, input.IterationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body historyBody `json:"body"`
		}{Body: historyBody{IterationID: input.IterationID, Reports: reports, TotalCount: total}}, nil
	})
}
