// Package report runs the multi-stage report generation pipeline and defines
// the frame protocol streamed to clients while it runs.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"itersight/internal/domain"
)

// Marker prefixes every frame line on the wire. Lines without it are
// keep-alives and carry no payload.
const Marker = "data: "

// Generation stage names, emitted in pipeline order.
const (
	StagePreparing         = "preparing"
	StageGeneratingTeams   = "generating_teams"
	StageGeneratingTeam    = "generating_team"
	StageGeneratingSummary = "generating_summary"
	StageCalculating       = "calculating"
	StageStoring           = "storing"
)

// ProgressFrame reports pipeline position. TeamName, Current and Total are
// set only on per-team stages.
type ProgressFrame struct {
	Stage    string `json:"stage"`
	TeamName string `json:"teamName,omitempty"`
	Current  int    `json:"current,omitempty"`
	Total    int    `json:"total,omitempty"`
}

// SuccessFrame is the terminal frame of a successful generation.
type SuccessFrame struct {
	Report      string               `json:"report"`
	Metrics     domain.Metrics       `json:"metrics"`
	TeamMetrics []domain.TeamMetrics `json:"team_metrics"`
	GeneratedAt string               `json:"generated_at"`
}

// FailureFrame is the terminal frame of a failed generation.
type FailureFrame struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// FrameWriter encodes frames onto an output stream, flushing after each so
// chunked transports deliver them promptly. The first write failure latches:
// later frames are dropped so a gone client cannot stall the pipeline.
type FrameWriter struct {
	w       io.Writer
	flusher http.Flusher
	err     error
}

// NewFrameWriter wraps w. If w also implements http.Flusher each frame is
// flushed as it is written.
func NewFrameWriter(w io.Writer) *FrameWriter {
	fw := &FrameWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		fw.flusher = f
	}
	return fw
}

func (fw *FrameWriter) write(v any) error {
	if fw.err != nil {
		return fw.err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if _, err := fmt.Fprintf(fw.w, "%s%s\n", Marker, payload); err != nil {
		fw.err = err
		return err
	}
	if fw.flusher != nil {
		fw.flusher.Flush()
	}
	return nil
}

// Progress writes a progress frame.
func (fw *FrameWriter) Progress(f ProgressFrame) error { return fw.write(f) }

// Success writes the terminal success frame.
func (fw *FrameWriter) Success(f SuccessFrame) error { return fw.write(f) }

// Failure writes the terminal failure frame.
func (fw *FrameWriter) Failure(f FailureFrame) error { return fw.write(f) }
