package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"visionscraper/internal/domain"
)

func (d *Database) SaveRun(ctx context.Context, run *domain.Run) (int64, error) {
	if run == nil {
		return 0, errors.New("run is nil")
	}

	target := strings.TrimSpace(run.Target)
	if target == "" {
		return 0, errors.New("run target is empty")
	}

	query := `insert into runs
		(target, stage, image_size, mime_type, analysis, caption, submission, error, started_at, finished_at)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := d.db.ExecContext(ctx, query,
		target,
		string(run.Stage),
		run.ImageSize,
		run.MIMEType,
		nullableJSON(run.Analysis),
		run.Caption,
		nullableJSON(run.Submission),
		run.Err,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert ID: %w", err)
	}

	return id, nil
}

// LastRun returns the most recent run, or nil when the journal is empty.
func (d *Database) LastRun(ctx context.Context) (*domain.Run, error) {
	runs, err := d.LastRuns(ctx, 1)
	if err != nil {
		return nil, err
	}

	if len(runs) == 0 {
		return nil, nil //nolint:nilnil // Empty journal is not an error.
	}

	return &runs[0], nil
}

func (d *Database) LastRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `select target, stage, image_size, mime_type, analysis, caption, submission, error, started_at, finished_at
		from runs order by id desc limit ?`

	rows, err := d.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"limit", limit,
				"operation", "LastRuns")
		}
	}()

	var runs []domain.Run
	for rows.Next() {
		var (
			r                     domain.Run
			stage                 string
			analysis, submission  sql.NullString
			startedAt, finishedAt string
		)

		if err = rows.Scan(
			&r.Target,
			&stage,
			&r.ImageSize,
			&r.MIMEType,
			&analysis,
			&r.Caption,
			&submission,
			&r.Err,
			&startedAt,
			&finishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		r.Stage = domain.Stage(stage)
		if analysis.Valid {
			r.Analysis = json.RawMessage(analysis.String)
		}
		if submission.Valid {
			r.Submission = json.RawMessage(submission.String)
		}

		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if r.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}

		runs = append(runs, r)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return runs, nil
}

func nullableJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}

	return sql.NullString{String: string(raw), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
