package store

import (
	"context"
	"database/sql"
	"fmt"
)

// TaskStats summarizes run outcomes for one task.
type TaskStats struct {
	TaskID    string
	TotalRuns int
	PassCount int
	PassRate  float64
	BestScore int
	AvgTurns  float64
	LastRunAt int64
}

// Stats is the aggregate view backing the stats CLI command.
type Stats struct {
	TotalRuns     int
	TotalPasses   int
	OverallRate   float64
	UniqueTasks   int
	UniqueConfigs int
	ByTask        []TaskStats
}

// Stats aggregates run outcomes across all tasks.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var out Stats

	err := s.DB.QueryRowContext(ctx, `SELECT
	COUNT(*),
	COALESCE(SUM(passed), 0),
	COUNT(DISTINCT task_id)
FROM runs`).Scan(&out.TotalRuns, &out.TotalPasses, &out.UniqueTasks)
	if err != nil {
		return Stats{}, fmt.Errorf("aggregate runs: %w", err)
	}

	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM configs`).Scan(&out.UniqueConfigs); err != nil {
		return Stats{}, fmt.Errorf("count configs: %w", err)
	}

	if out.TotalRuns > 0 {
		out.OverallRate = float64(out.TotalPasses) / float64(out.TotalRuns)
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT
	task_id,
	COUNT(*),
	COALESCE(SUM(passed), 0),
	COALESCE(MAX(score), 0),
	COALESCE(AVG(turns), 0),
	COALESCE(MAX(created_at), 0)
FROM runs GROUP BY task_id ORDER BY task_id`)
	if err != nil {
		return Stats{}, fmt.Errorf("per-task stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t TaskStats
		if err := rows.Scan(&t.TaskID, &t.TotalRuns, &t.PassCount, &t.BestScore, &t.AvgTurns, &t.LastRunAt); err != nil {
			return Stats{}, fmt.Errorf("scan task stats: %w", err)
		}
		if t.TotalRuns > 0 {
			t.PassRate = float64(t.PassCount) / float64(t.TotalRuns)
		}
		out.ByTask = append(out.ByTask, t)
	}
	if err := rows.Err(); err != nil && err != sql.ErrNoRows {
		return Stats{}, err
	}
	return out, nil
}
