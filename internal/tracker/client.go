// Package tracker is a minimal read client for the external issue tracker.
// Only the paths the aggregation and report engines need are covered.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"itersight/internal/domain"
)

// Client talks to the tracker's HTTP API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		Timeout: 30 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tracker error: status=%d body=%s", e.StatusCode, e.Body)
}

// Iteration fetches a single iteration.
func (c *Client) Iteration(ctx context.Context, id int64) (domain.Iteration, error) {
	var resp domain.Iteration
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("iterations/%d", id), nil, &resp)
	return resp, err
}

// IterationStories fetches every story currently in an iteration.
func (c *Client) IterationStories(ctx context.Context, id int64) ([]domain.Story, error) {
	var resp []domain.Story
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("iterations/%d/stories", id), nil, &resp)
	return resp, err
}

type memberDTO struct {
	ID      string `json:"id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type groupDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Member fetches one member by id.
func (c *Client) Member(ctx context.Context, id string) (domain.Member, error) {
	var dto memberDTO
	if err := c.do(ctx, http.MethodGet, "members/"+url.PathEscape(id), nil, &dto); err != nil {
		return domain.Member{}, err
	}
	return domain.Member{ID: dto.ID, DisplayName: dto.Profile.Name}, nil
}

// Group fetches one group (team) by id.
func (c *Client) Group(ctx context.Context, id string) (domain.Group, error) {
	var dto groupDTO
	if err := c.do(ctx, http.MethodGet, "groups/"+url.PathEscape(id), nil, &dto); err != nil {
		return domain.Group{}, err
	}
	return domain.Group{ID: dto.ID, DisplayName: dto.Name}, nil
}

// Members lists all members of the workspace.
func (c *Client) Members(ctx context.Context) ([]domain.Member, error) {
	var dtos []memberDTO
	if err := c.do(ctx, http.MethodGet, "members", nil, &dtos); err != nil {
		return nil, err
	}
	res := make([]domain.Member, 0, len(dtos))
	for _, d := range dtos {
		res = append(res, domain.Member{ID: d.ID, DisplayName: d.Profile.Name})
	}
	return res, nil
}

// Groups lists all groups of the workspace.
func (c *Client) Groups(ctx context.Context) ([]domain.Group, error) {
	var dtos []groupDTO
	if err := c.do(ctx, http.MethodGet, "groups", nil, &dtos); err != nil {
		return nil, err
	}
	res := make([]domain.Group, 0, len(dtos))
	for _, d := range dtos {
		res = append(res, domain.Group{ID: d.ID, DisplayName: d.Name})
	}
	return res, nil
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
	if c.Token != "" {
		req.Header.Set("Shortcut-Token", c.Token)
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
