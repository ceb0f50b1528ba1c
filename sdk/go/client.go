// Package itersightsdk is a Go client for the Itersight HTTP API.
package itersightsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Itersight HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
	Logger      *log.Logger
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// WorkflowState is the tracker state a story sits in.
type WorkflowState struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Label on a story.
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Story is the snapshot shape accepted by the generation endpoint (partial).
type Story struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	WorkflowState *WorkflowState `json:"workflow_state,omitempty"`
	OwnerIDs      []string       `json:"owner_ids,omitempty"`
	GroupID       *string        `json:"group_id,omitempty"`
	Labels        []Label        `json:"labels,omitempty"`
}

// Metrics is the count/percentage block attached to a report.
type Metrics struct {
	Total             int `json:"total"`
	Completed         int `json:"completed"`
	InMotion          int `json:"in_motion"`
	NotStarted        int `json:"not_started"`
	CompletedPercent  int `json:"completed_percent"`
	InMotionPercent   int `json:"in_motion_percent"`
	NotStartedPercent int `json:"not_started_percent"`
}

// TeamMetrics is the per-team slice of a report's metrics.
type TeamMetrics struct {
	TeamID          string         `json:"team_id"`
	TeamName        string         `json:"team_name"`
	Metrics         Metrics        `json:"metrics"`
	StatusBreakdown map[string]int `json:"status_breakdown,omitempty"`
}

// Report is one stored generation result.
type Report struct {
	ID          string        `json:"id"`
	IterationID int64         `json:"iteration_id"`
	Report      string        `json:"report"`
	Metrics     Metrics       `json:"metrics"`
	TeamMetrics []TeamMetrics `json:"team_metrics"`
	GeneratedAt string        `json:"generated_at"`
}

// ReportHistory wraps the history listing.
type ReportHistory struct {
	IterationID int64    `json:"iteration_id"`
	Reports     []Report `json:"reports"`
	TotalCount  int      `json:"total_count"`
}

// StatusBucket is one key of a dimension breakdown.
type StatusBucket struct {
	Key        string `json:"key"`
	Completed  int    `json:"completed"`
	InMotion   int    `json:"in_motion"`
	NotStarted int    `json:"not_started"`
	Total      int    `json:"total"`
}

// TeamBucket is one canonical team of the team breakdown.
type TeamBucket struct {
	Name       string         `json:"name"`
	RawIDs     []string       `json:"raw_ids"`
	Status     StatusBucket   `json:"status"`
	Categories map[string]int `json:"categories"`
}

// IterationStats is the stats endpoint response.
type IterationStats struct {
	IterationID int64          `json:"iteration_id"`
	Dimension   string         `json:"dimension"`
	Metrics     Metrics        `json:"metrics"`
	Buckets     []StatusBucket `json:"buckets,omitempty"`
	Teams       []TeamBucket   `json:"teams,omitempty"`
}

// OwnerRow is one owner of the owner breakdown.
type OwnerRow struct {
	OwnerID          string  `json:"owner_id"`
	OwnerName        string  `json:"owner_name"`
	TeamID           string  `json:"team_id,omitempty"`
	TeamName         string  `json:"team_name,omitempty"`
	FeatureWork      []Story `json:"feature_work"`
	DefectWork       []Story `json:"defect_work"`
	FoundationalWork []Story `json:"foundational_work"`
	Other            []Story `json:"other"`
	Completed        []Story `json:"completed"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Stats returns the status breakdown along one dimension (category, owner, team).
func (c *Client) Stats(ctx context.Context, iterationID int64, dimension string) (IterationStats, error) {
	var resp IterationStats
	endpoint := fmt.Sprintf("iterations/%d/stats", iterationID)
	if dimension != "" {
		endpoint += "?dimension=" + dimension
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// OwnerBreakdown returns per-owner work-type rows.
func (c *Client) OwnerBreakdown(ctx context.Context, iterationID int64, sort string, desc bool) ([]OwnerRow, error) {
	var resp struct {
		Owners []OwnerRow `json:"owners"`
	}
	endpoint := fmt.Sprintf("iterations/%d/stats/owners", iterationID)
	if sort != "" {
		endpoint += fmt.Sprintf("?sort=%s&desc=%t", sort, desc)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Owners, err
}

// GetReportHistory returns the most recent reports for an iteration, newest
// first. limit 0 uses the server default.
func (c *Client) GetReportHistory(ctx context.Context, iterationID int64, limit int) (ReportHistory, error) {
	var resp ReportHistory
	endpoint := fmt.Sprintf("iterations/%d/reports", iterationID)
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Health checks the API.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
