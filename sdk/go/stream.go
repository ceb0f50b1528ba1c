package itersightsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
)

// frameMarker prefixes every payload line of the generation stream. Lines
// without it are keep-alives.
const frameMarker = "data: "

// ErrStreamEnded reports a generation stream that closed without a terminal
// success or failure frame.
var ErrStreamEnded = errors.New("stream ended without result")

// Progress is one progress frame, forwarded verbatim to the caller.
type Progress struct {
	Stage    string `json:"stage"`
	TeamName string `json:"teamName,omitempty"`
	Current  int    `json:"current,omitempty"`
	Total    int    `json:"total,omitempty"`
}

// GenerateResult is the terminal payload of a successful generation.
type GenerateResult struct {
	Report      string        `json:"report"`
	Metrics     Metrics       `json:"metrics"`
	TeamMetrics []TeamMetrics `json:"team_metrics"`
	GeneratedAt string        `json:"generated_at"`
}

// GenerationError is the terminal failure frame surfaced as an error.
type GenerationError struct {
	Message string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (e *GenerationError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("generation failed: %s (%s)", e.Message, e.Details)
	}
	return "generation failed: " + e.Message
}

// GenerateOptions is the generation request payload. An empty Stories slice
// lets the server pull the snapshot from the tracker itself.
type GenerateOptions struct {
	Stories       []Story  `json:"stories,omitempty"`
	SelectedTeams []string `json:"selected_teams,omitempty"`
}

// GenerateReport requests a report generation and decodes the progress
// stream. onProgress may be nil. The call blocks until a terminal frame
// arrives, the stream ends, or ctx is done; once the request is sent the
// server-side computation keeps running even if ctx cancels the read, and a
// late result can still be fetched via GetReportHistory.
func (c *Client) GenerateReport(ctx context.Context, iterationID int64, opts GenerateOptions, onProgress func(Progress)) (GenerateResult, error) {
	payload, err := json.Marshal(opts)
	if err != nil {
		return GenerateResult{}, err
	}
	url := fmt.Sprintf("%s/iterations/%d/report", c.base(), iterationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return GenerateResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}

	// No client timeout here: generation legitimately takes a while and ctx
	// owns cancellation.
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return GenerateResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return GenerateResult{}, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	return c.readFrames(resp.Body, onProgress)
}

func (c *Client) readFrames(body io.Reader, onProgress func(Progress)) (GenerateResult, error) {
	var lb lineBuffer
	chunk := make([]byte, 4096)
	for {
		n, readErr := body.Read(chunk)
		if n > 0 {
			for _, line := range lb.split(chunk[:n]) {
				result, done, err := c.handleLine(line, onProgress)
				if done {
					return result, err
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				// A final frame may arrive without a trailing newline.
				if rest := lb.rest(); rest != "" {
					result, done, err := c.handleLine(rest, onProgress)
					if done {
						return result, err
					}
				}
				return GenerateResult{}, ErrStreamEnded
			}
			return GenerateResult{}, readErr
		}
	}
}

// handleLine decodes one complete line. done is true only for terminal
// frames; malformed or unmarked lines are skipped.
func (c *Client) handleLine(line string, onProgress func(Progress)) (GenerateResult, bool, error) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, frameMarker) {
		return GenerateResult{}, false, nil
	}
	raw := strings.TrimPrefix(line, frameMarker)

	var peek struct {
		Error  *string `json:"error"`
		Report *string `json:"report"`
		Stage  *string `json:"stage"`
	}
	if err := json.Unmarshal([]byte(raw), &peek); err != nil {
		c.logger().Printf("skipping malformed frame: %v", err)
		return GenerateResult{}, false, nil
	}
	switch {
	case peek.Error != nil:
		var fail GenerationError
		if err := json.Unmarshal([]byte(raw), &fail); err != nil {
			fail = GenerationError{Message: *peek.Error}
		}
		return GenerateResult{}, true, &fail
	case peek.Report != nil:
		var result GenerateResult
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return GenerateResult{}, true, fmt.Errorf("decode result frame: %w", err)
		}
		return result, true, nil
	case peek.Stage != nil:
		if onProgress != nil {
			var p Progress
			if err := json.Unmarshal([]byte(raw), &p); err == nil {
				onProgress(p)
			}
		}
	}
	return GenerateResult{}, false, nil
}

func (c *Client) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// lineBuffer owns the partial-line state across chunks. Frame boundaries do
// not align with chunk boundaries.
type lineBuffer struct {
	pending []byte
}

// split appends p and returns every complete line, keeping any trailing
// partial line buffered.
func (b *lineBuffer) split(p []byte) []string {
	b.pending = append(b.pending, p...)
	var lines []string
	for {
		i := bytes.IndexByte(b.pending, '\n')
		if i < 0 {
			return lines
		}
		lines = append(lines, string(b.pending[:i]))
		b.pending = b.pending[i+1:]
	}
}

func (b *lineBuffer) rest() string {
	return string(b.pending)
}
