package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

// RunRepo handles persistence for Run records. Runs are append-only.
type RunRepo struct{}

// InsertTx appends a run within an existing transaction and returns its row id.
func (r *RunRepo) InsertTx(ctx context.Context, tx *sql.Tx, run domain.Run) (int64, error) {
	const q = `INSERT INTO runs
	(run_id, config_id, task_id, passed, progress, turns, duration_ms, tokens_used, fail_reason, score, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		run.RunID, run.ConfigID, run.TaskID, boolInt(run.Passed), run.Progress,
		run.Turns, run.DurationMS, run.TokensUsed, string(run.FailReason), run.Score, run.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

// GetByID retrieves a run by its row id.
func (r *RunRepo) GetByID(ctx context.Context, db *sql.DB, id int64) (*domain.Run, error) {
	const q = runSelect + ` WHERE id = ?`
	run, err := scanRun(db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, domain.ErrRunNotFound
	}
	return run, nil
}

// Recent returns the most recent runs across all tasks, newest first.
func (r *RunRepo) Recent(ctx context.Context, db *sql.DB, limit int) ([]domain.Run, error) {
	const q = runSelect + ` ORDER BY created_at DESC, id DESC LIMIT ?`
	return queryRuns(ctx, db, q, limit)
}

// HistoryForTask returns the most recent runs for one task, newest first.
func (r *RunRepo) HistoryForTask(ctx context.Context, db *sql.DB, taskID string, limit int) ([]domain.Run, error) {
	const q = runSelect + ` WHERE task_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	return queryRuns(ctx, db, q, taskID, limit)
}

const runSelect = `SELECT id, run_id, config_id, task_id, passed, progress, turns, duration_ms, tokens_used, fail_reason, score, created_at FROM runs`

func queryRuns(ctx context.Context, db *sql.DB, q string, args ...any) ([]domain.Run, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var r domain.Run
	var passed int
	var reason string
	err := row.Scan(&r.ID, &r.RunID, &r.ConfigID, &r.TaskID, &passed, &r.Progress,
		&r.Turns, &r.DurationMS, &r.TokensUsed, &reason, &r.Score, &r.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Passed = passed != 0
	r.FailReason = domain.FailReason(reason)
	return &r, nil
}
