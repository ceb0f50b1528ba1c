package itersightsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func frameLine(v string) string { return frameMarker + v + "\n" }

func streamHandler(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprint(w, line)
			flusher.Flush()
		}
	}
}

func TestGenerateReportProgressThenResult(t *testing.T) {
	srv := httptest.NewServer(streamHandler(
		frameLine(`{"stage":"generating_team","teamName":"Observability","current":1,"total":2}`),
		frameLine(`{"stage":"generating_team","teamName":"Integrations","current":2,"total":2}`),
		frameLine(`{"report":"all good","metrics":{"total":3,"completed":1},"team_metrics":[],"generated_at":"2026-03-01T12:00:00Z"}`),
	))
	defer srv.Close()

	var progress []Progress
	result, err := New(srv.URL).GenerateReport(context.Background(), 42, GenerateOptions{}, func(p Progress) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(progress) != 2 {
		t.Fatalf("progress callbacks = %d, want 2", len(progress))
	}
	if progress[0].Current != 1 || progress[1].Current != 2 || progress[1].TeamName != "Integrations" {
		t.Fatalf("progress = %+v", progress)
	}
	if result.Report != "all good" || result.Metrics.Total != 3 || result.GeneratedAt != "2026-03-01T12:00:00Z" {
		t.Fatalf("result = %+v", result)
	}
}

func TestGenerateReportFrameSplitAcrossChunks(t *testing.T) {
	full := frameLine(`{"stage":"preparing"}`) +
		frameLine(`{"report":"done","metrics":{},"team_metrics":[],"generated_at":"2026-03-01T12:00:00Z"}`)
	// cut mid-frame so the buffer has to carry the partial line over
	cut := len(full) / 2
	srv := httptest.NewServer(streamHandler(full[:cut], full[cut:]))
	defer srv.Close()

	var progress int
	result, err := New(srv.URL).GenerateReport(context.Background(), 42, GenerateOptions{}, func(Progress) {
		progress++
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if progress != 1 {
		t.Fatalf("progress callbacks = %d", progress)
	}
	if result.Report != "done" {
		t.Fatalf("result = %+v", result)
	}
}

func TestGenerateReportStreamEndsWithoutResult(t *testing.T) {
	srv := httptest.NewServer(streamHandler(
		frameLine(`{"stage":"preparing"}`),
		frameLine(`{"stage":"generating_teams"}`),
	))
	defer srv.Close()

	_, err := New(srv.URL).GenerateReport(context.Background(), 42, GenerateOptions{}, nil)
	if !errors.Is(err, ErrStreamEnded) {
		t.Fatalf("err = %v, want ErrStreamEnded", err)
	}
}

func TestGenerateReportErrorFrameStopsProcessing(t *testing.T) {
	srv := httptest.NewServer(streamHandler(
		frameLine(`{"error":"model unavailable","details":"upstream 503"}`),
		frameLine(`{"report":"should never be seen","metrics":{},"team_metrics":[],"generated_at":"x"}`),
	))
	defer srv.Close()

	_, err := New(srv.URL).GenerateReport(context.Background(), 42, GenerateOptions{}, nil)
	var ge *GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("err = %v, want GenerationError", err)
	}
	if ge.Message != "model unavailable" || ge.Details != "upstream 503" {
		t.Fatalf("generation error = %+v", ge)
	}
}

func TestGenerateReportSkipsMalformedAndUnmarkedLines(t *testing.T) {
	srv := httptest.NewServer(streamHandler(
		": keep-alive\n",
		frameLine(`{not json`),
		frameLine(`{"stage":"calculating"}`),
		frameLine(`{"report":"ok","metrics":{},"team_metrics":[],"generated_at":"2026-03-01T12:00:00Z"}`),
	))
	defer srv.Close()

	var progress int
	result, err := New(srv.URL).GenerateReport(context.Background(), 42, GenerateOptions{}, func(Progress) {
		progress++
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if progress != 1 {
		t.Fatalf("progress callbacks = %d", progress)
	}
	if result.Report != "ok" {
		t.Fatalf("result = %+v", result)
	}
}

func TestGenerateReportNon2xxAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"generation_in_flight"}}`, http.StatusConflict)
	}))
	defer srv.Close()

	_, err := New(srv.URL).GenerateReport(context.Background(), 42, GenerateOptions{}, nil)
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if ae.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d", ae.StatusCode)
	}
}

func TestGenerateReportContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprint(w, frameLine(`{"stage":"preparing"}`))
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := New(srv.URL).GenerateReport(ctx, 42, GenerateOptions{}, nil)
	if err == nil {
		t.Fatal("expected error after context timeout")
	}
	if errors.Is(err, ErrStreamEnded) {
		t.Fatalf("err = %v, want a context error", err)
	}
}

func TestGetReportHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/iterations/42/reports" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "2" {
			t.Errorf("limit = %s", r.URL.Query().Get("limit"))
		}
		fmt.Fprint(w, `{"iteration_id":42,"reports":[{"id":"b","generated_at":"2026-03-01T02:00:00Z"},{"id":"a","generated_at":"2026-03-01T01:00:00Z"}],"total_count":5}`)
	}))
	defer srv.Close()

	history, err := New(srv.URL).GetReportHistory(context.Background(), 42, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if history.TotalCount != 5 || len(history.Reports) != 2 {
		t.Fatalf("history = %+v", history)
	}
	if history.Reports[0].ID != "b" || history.Reports[1].ID != "a" {
		t.Fatalf("order = %+v", history.Reports)
	}
}
