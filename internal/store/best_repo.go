package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

// BestConfigRepo handles the per-scope best-config pointer.
type BestConfigRepo struct{}

// GetTx reads the best record for a scope within a transaction.
// Returns nil when the scope has no best yet.
func (r *BestConfigRepo) GetTx(ctx context.Context, tx *sql.Tx, scope string) (*domain.BestConfigRecord, error) {
	const q = `SELECT scope, config_id, run_id, score, pass_count, total_runs, updated_at
FROM best_configs WHERE scope = ?`
	return scanBest(tx.QueryRowContext(ctx, q, scope))
}

// Get reads the best record for a scope outside a transaction.
func (r *BestConfigRepo) Get(ctx context.Context, db *sql.DB, scope string) (*domain.BestConfigRecord, error) {
	const q = `SELECT scope, config_id, run_id, score, pass_count, total_runs, updated_at
FROM best_configs WHERE scope = ?`
	return scanBest(db.QueryRowContext(ctx, q, scope))
}

// UpdateIfBetterTx applies one run's outcome to the scope's best record:
// counts are always accumulated, and the pointer moves only when the run's
// score strictly exceeds the stored best. Returns true when the pointer moved.
// Must run inside a transaction so concurrent writers cannot lose updates.
func (r *BestConfigRepo) UpdateIfBetterTx(ctx context.Context, tx *sql.Tx, scope string, run domain.Run) (bool, error) {
	now := time.Now().Unix()

	existing, err := r.GetTx(ctx, tx, scope)
	if err != nil {
		return false, err
	}

	if existing == nil {
		const q = `INSERT INTO best_configs (scope, config_id, run_id, score, pass_count, total_runs, updated_at)
VALUES (?, ?, ?, ?, ?, 1, ?)`
		if _, err := tx.ExecContext(ctx, q, scope, run.ConfigID, run.ID, run.Score, boolInt(run.Passed), now); err != nil {
			return false, fmt.Errorf("insert best config: %w", err)
		}
		return true, nil
	}

	if run.Score > existing.Score {
		const q = `UPDATE best_configs SET config_id = ?, run_id = ?, score = ?,
	pass_count = pass_count + ?, total_runs = total_runs + 1, updated_at = ?
WHERE scope = ?`
		if _, err := tx.ExecContext(ctx, q, run.ConfigID, run.ID, run.Score, boolInt(run.Passed), now, scope); err != nil {
			return false, fmt.Errorf("update best config: %w", err)
		}
		return true, nil
	}

	const q = `UPDATE best_configs SET pass_count = pass_count + ?, total_runs = total_runs + 1, updated_at = ?
WHERE scope = ?`
	if _, err := tx.ExecContext(ctx, q, boolInt(run.Passed), now, scope); err != nil {
		return false, fmt.Errorf("update best counts: %w", err)
	}
	return false, nil
}

func scanBest(row rowScanner) (*domain.BestConfigRecord, error) {
	var b domain.BestConfigRecord
	err := row.Scan(&b.Scope, &b.ConfigID, &b.RunID, &b.Score, &b.PassCount, &b.TotalRuns, &b.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan best config: %w", err)
	}
	return &b, nil
}
