package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"itersight/internal/domain"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	maxRetries     = 3
	initialDelay   = time.Second
)

// Chat generates report prose through an OpenAI-compatible chat completions
// endpoint. The zero value is not usable; construct with NewChat.
type Chat struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

// NewChat returns a chat-backed generator. baseURL and model fall back to
// OpenAI defaults when empty.
func NewChat(baseURL, model, apiKey string) *Chat {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	return &Chat{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *Chat) TeamSummary(ctx context.Context, teamName string, stories []domain.Story, metrics domain.Metrics) (string, error) {
	var names []string
	for _, s := range stories {
		names = append(names, s.Name)
	}
	prompt := fmt.Sprintf(
		"Write a short paragraph (2-3 sentences) summarizing team %q in this iteration. "+
			"Counts: %d total, %d completed (%d%%), %d in motion, %d not started. "+
			"Stories: %s. Be factual, no bullet points.",
		teamName, metrics.Total, metrics.Completed, metrics.CompletedPercent,
		metrics.InMotion, metrics.NotStarted, strings.Join(names, "; "))
	return c.complete(ctx, prompt)
}

func (c *Chat) OverallSummary(ctx context.Context, iteration domain.Iteration, teamSections []string, metrics domain.Metrics) (string, error) {
	prompt := fmt.Sprintf(
		"Write an executive summary for iteration %q. "+
			"Counts: %d total, %d completed (%d%%), %d in motion, %d not started. "+
			"Per-team sections follow; synthesize, do not repeat them verbatim.\n\n%s",
		iteration.Name, metrics.Total, metrics.Completed, metrics.CompletedPercent,
		metrics.InMotion, metrics.NotStarted, strings.Join(teamSections, "\n\n"))
	return c.complete(ctx, prompt)
}

func (c *Chat) complete(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a concise engineering-program reporter."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.2,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	var lastErr error
	delay := initialDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		text, retryable, err := c.doComplete(ctx, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", fmt.Errorf("chat completion failed after %d retries: %w", maxRetries, lastErr)
}

func (c *Chat) doComplete(ctx context.Context, payload []byte) (text string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, err
	}

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		var parsed chatResponse
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil {
			return "", retryable, fmt.Errorf("chat API error (%d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", retryable, fmt.Errorf("chat API returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false, fmt.Errorf("parse chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", false, fmt.Errorf("chat response contained no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), false, nil
}
