package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"itersight/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// InsertReport stores a generated report. Reports are immutable once written.
func (r Repo) InsertReport(ctx context.Context, rep domain.Report) error {
	metrics, err := json.Marshal(rep.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	teamMetrics, err := json.Marshal(rep.TeamMetrics)
	if err != nil {
		return fmt.Errorf("marshal team metrics: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO reports(id,iteration_id,report,metrics_json,team_metrics_json,generated_at) VALUES (?,?,?,?,?,?)`,
		rep.ID, rep.IterationID, rep.Report, string(metrics), string(teamMetrics), rep.GeneratedAt)
	return err
}

// ListReports returns up to limit reports for an iteration, newest first.
// limit <= 0 means no limit.
func (r Repo) ListReports(ctx context.Context, iterationID int64, limit int) ([]domain.Report, error) {
	query := `SELECT id,iteration_id,report,metrics_json,team_metrics_json,generated_at FROM reports WHERE iteration_id=? ORDER BY generated_at DESC, id DESC`
	args := []any{iterationID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

// GetReport fetches a single report by id.
func (r Repo) GetReport(ctx context.Context, id string) (domain.Report, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,iteration_id,report,metrics_json,team_metrics_json,generated_at FROM reports WHERE id=?`, id)
	rep, err := scanReport(row)
	if err == sql.ErrNoRows {
		return domain.Report{}, ErrNotFound
	}
	return rep, err
}

// CountReports returns how many reports exist for an iteration.
func (r Repo) CountReports(ctx context.Context, iterationID int64) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE iteration_id=?`, iterationID).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (domain.Report, error) {
	var rep domain.Report
	var metrics, teamMetrics string
	if err := row.Scan(&rep.ID, &rep.IterationID, &rep.Report, &metrics, &teamMetrics, &rep.GeneratedAt); err != nil {
		return rep, err
	}
	if err := json.Unmarshal([]byte(metrics), &rep.Metrics); err != nil {
		return rep, fmt.Errorf("unmarshal metrics for report %s: %w", rep.ID, err)
	}
	if err := json.Unmarshal([]byte(teamMetrics), &rep.TeamMetrics); err != nil {
		return rep, fmt.Errorf("unmarshal team metrics for report %s: %w", rep.ID, err)
	}
	return rep, nil
}

// LatestEvents returns the newest events, optionally filtered by iteration.
func (r Repo) LatestEvents(ctx context.Context, limit int, iterationID int64) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(iteration_id,0),entity_kind,COALESCE(entity_id,''),payload_json FROM events`
	var args []any
	if iterationID != 0 {
		query += ` WHERE iteration_id=?`
		args = append(args, iterationID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.IterationID, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
