package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

// ChangeRepo handles the append-only evolution audit log. Entries are
// never deleted; rejected proposals are stored with their reject reason.
type ChangeRepo struct{}

// AppendTx appends an evolution change within an existing transaction
// and returns its row id.
func (r *ChangeRepo) AppendTx(ctx context.Context, tx *sql.Tx, ch domain.EvolutionChange) (int64, error) {
	delta, err := json.Marshal(ch.Delta)
	if err != nil {
		return 0, fmt.Errorf("marshal delta: %w", err)
	}

	var observed any
	if ch.ObservedSet {
		observed = ch.ObservedDelta
	}

	const q = `INSERT INTO evolution_changes
	(scope, from_config_id, to_config_id, delta_json, reasoning, accepted, reject_reason, observed_delta, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		ch.Scope, ch.FromConfigID, ch.ToConfigID, string(delta), ch.Reasoning,
		boolInt(ch.Accepted), ch.RejectReason, observed, ch.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("append change: %w", err)
	}
	return res.LastInsertId()
}

// SetObserved fills in the observed score delta for a change after the
// following run has been measured.
func (r *ChangeRepo) SetObserved(ctx context.Context, db *sql.DB, changeID int64, delta int) error {
	res, err := db.ExecContext(ctx,
		`UPDATE evolution_changes SET observed_delta = ? WHERE id = ?`, delta, changeID)
	if err != nil {
		return fmt.Errorf("set observed delta: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrStoreWrite
	}
	return nil
}

// RecentForScope returns the most recent changes for a scope, newest first.
func (r *ChangeRepo) RecentForScope(ctx context.Context, db *sql.DB, scope string, limit int) ([]domain.EvolutionChange, error) {
	const q = `SELECT id, scope, from_config_id, to_config_id, delta_json, reasoning, accepted, reject_reason, observed_delta, created_at
FROM evolution_changes WHERE scope = ? ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := db.QueryContext(ctx, q, scope, limit)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	var changes []domain.EvolutionChange
	for rows.Next() {
		var ch domain.EvolutionChange
		var delta string
		var accepted int
		var observed sql.NullInt64
		if err := rows.Scan(&ch.ID, &ch.Scope, &ch.FromConfigID, &ch.ToConfigID, &delta,
			&ch.Reasoning, &accepted, &ch.RejectReason, &observed, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		if err := json.Unmarshal([]byte(delta), &ch.Delta); err != nil {
			return nil, fmt.Errorf("unmarshal delta: %w", err)
		}
		ch.Accepted = accepted != 0
		if observed.Valid {
			ch.ObservedDelta = int(observed.Int64)
			ch.ObservedSet = true
		}
		changes = append(changes, ch)
	}
	return changes, rows.Err()
}

// RejectionStreak counts the consecutive most-recent rejected proposals
// for a scope, stopping at the first accepted one.
func (r *ChangeRepo) RejectionStreak(ctx context.Context, db *sql.DB, scope string) (int, error) {
	changes, err := r.RecentForScope(ctx, db, scope, 50)
	if err != nil {
		return 0, err
	}
	streak := 0
	for _, ch := range changes {
		if ch.Accepted {
			break
		}
		streak++
	}
	return streak, nil
}
