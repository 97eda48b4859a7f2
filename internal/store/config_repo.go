package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

// HashParams returns the content hash used for configuration deduplication:
// the first 16 hex chars of the SHA-256 of the canonical parameter JSON.
func HashParams(p domain.ConfigParams) string {
	data, _ := json.Marshal(p)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// NextVersion bumps the patch component of a semantic version string.
// Malformed versions restart at 1.0.0.
func NextVersion(v string) string {
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return "1.0.0"
	}
	patch, err := strconv.Atoi(parts[2])
	if err != nil {
		return "1.0.0"
	}
	return fmt.Sprintf("%s.%s.%d", parts[0], parts[1], patch+1)
}

// ConfigRepo handles persistence for Configuration records.
type ConfigRepo struct{}

// InsertTx inserts a new configuration within an existing transaction and
// returns its row id.
func (r *ConfigRepo) InsertTx(ctx context.Context, tx *sql.Tx, cfg domain.Configuration) (int64, error) {
	params, err := json.Marshal(cfg.Params)
	if err != nil {
		return 0, fmt.Errorf("marshal params: %w", err)
	}

	const q = `INSERT INTO configs (scope, version, params_json, hash, is_current, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		cfg.Scope, cfg.Version, string(params), cfg.Hash, boolInt(cfg.Current), cfg.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert config: %w", err)
	}
	return res.LastInsertId()
}

// GetByHashTx looks a configuration up by (scope, hash) within a
// transaction. Returns nil when no row matches.
func (r *ConfigRepo) GetByHashTx(ctx context.Context, tx *sql.Tx, scope, hash string) (*domain.Configuration, error) {
	const q = configSelect + ` WHERE scope = ? AND hash = ?`
	return scanConfig(tx.QueryRowContext(ctx, q, scope, hash))
}

// GetByID retrieves a configuration by its row id.
func (r *ConfigRepo) GetByID(ctx context.Context, db *sql.DB, id int64) (*domain.Configuration, error) {
	const q = configSelect + ` WHERE id = ?`
	cfg, err := scanConfig(db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, domain.ErrConfigNotFound
	}
	return cfg, nil
}

// CurrentTx returns the current configuration for a scope within a
// transaction, or nil when the scope has none.
func (r *ConfigRepo) CurrentTx(ctx context.Context, tx *sql.Tx, scope string) (*domain.Configuration, error) {
	const q = configSelect + ` WHERE scope = ? AND is_current = 1`
	return scanConfig(tx.QueryRowContext(ctx, q, scope))
}

// SetCurrentTx flips the current flag for a scope to the given config.
// Both updates run inside the caller's transaction, so exactly one
// configuration holds the flag per scope at commit.
func (r *ConfigRepo) SetCurrentTx(ctx context.Context, tx *sql.Tx, scope string, configID int64) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE configs SET is_current = 0 WHERE scope = ? AND is_current = 1`, scope); err != nil {
		return fmt.Errorf("clear current: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE configs SET is_current = 1 WHERE id = ? AND scope = ?`, configID, scope)
	if err != nil {
		return fmt.Errorf("set current: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrConfigNotFound
	}
	return nil
}

// CountTx returns the number of configurations for a scope.
func (r *ConfigRepo) CountTx(ctx context.Context, tx *sql.Tx, scope string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM configs WHERE scope = ?`, scope).Scan(&n)
	return n, err
}

const configSelect = `SELECT id, scope, version, params_json, hash, is_current, created_at FROM configs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (*domain.Configuration, error) {
	var c domain.Configuration
	var params string
	var current int
	err := row.Scan(&c.ID, &c.Scope, &c.Version, &params, &c.Hash, &current, &c.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan config: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &c.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	c.Current = current != 0
	return &c, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
