package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

// Store is the single write path to the persisted tables. It composes the
// repos and wraps every multi-statement operation in a transaction so that
// dedup-check-then-insert and best-pointer updates are atomic under
// concurrent writers.
type Store struct {
	DB      *sql.DB
	Configs *ConfigRepo
	Runs    *RunRepo
	Best    *BestConfigRepo
	Changes *ChangeRepo
}

// Open opens (or creates) the store at the given path.
func Open(path string) (*Store, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreInit.Code, "open store", err)
	}
	return &Store{
		DB:      db,
		Configs: &ConfigRepo{},
		Runs:    &RunRepo{},
		Best:    &BestConfigRepo{},
		Changes: &ChangeRepo{},
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// CurrentConfig returns the current configuration for a scope. When the
// scope has none, the global scope's current parameters (or the engine
// defaults) seed a new scope-local configuration, which is marked current
// and returned. The whole resolution is one transaction.
func (s *Store) CurrentConfig(ctx context.Context, scope string) (*domain.Configuration, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cfg, err := s.Configs.CurrentTx(ctx, tx, scope)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, tx.Commit()
	}

	params := domain.DefaultParams()
	if scope != domain.GlobalScope {
		global, err := s.Configs.CurrentTx(ctx, tx, domain.GlobalScope)
		if err != nil {
			return nil, err
		}
		if global != nil {
			params = global.Params
		}
	}

	seeded := domain.Configuration{
		Scope:     scope,
		Version:   "1.0.0",
		Params:    params,
		Hash:      HashParams(params),
		Current:   true,
		CreatedAt: time.Now().Unix(),
	}
	id, err := s.Configs.InsertTx(ctx, tx, seeded)
	if err != nil {
		return nil, err
	}
	seeded.ID = id

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &seeded, nil
}

// SaveConfig persists a new configuration derived from parent with the
// given parameters. If an identical parameter set (by content hash) already
// exists in the scope, the existing configuration is returned and the table
// does not grow. Check and insert share one transaction.
func (s *Store) SaveConfig(ctx context.Context, parent *domain.Configuration, params domain.ConfigParams) (*domain.Configuration, error) {
	hash := HashParams(params)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.Configs.GetByHashTx(ctx, tx, parent.Scope, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, tx.Commit()
	}

	cfg := domain.Configuration{
		Scope:     parent.Scope,
		Version:   NextVersion(parent.Version),
		Params:    params,
		Hash:      hash,
		Current:   false,
		CreatedAt: time.Now().Unix(),
	}
	id, err := s.Configs.InsertTx(ctx, tx, cfg)
	if err != nil {
		return nil, err
	}
	cfg.ID = id

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetCurrent atomically moves the scope's current pointer to the given
// configuration.
func (s *Store) SetCurrent(ctx context.Context, scope string, configID int64) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.Configs.SetCurrentTx(ctx, tx, scope, configID); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveRun appends a run record and returns it with its row id assigned.
func (s *Store) SaveRun(ctx context.Context, run domain.Run) (*domain.Run, error) {
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().Unix()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id, err := s.Runs.InsertTx(ctx, tx, run)
	if err != nil {
		return nil, err
	}
	run.ID = id

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &run, nil
}

// BestFor returns the best-config record for a scope, or nil when the
// scope has no recorded runs yet.
func (s *Store) BestFor(ctx context.Context, scope string) (*domain.BestConfigRecord, error) {
	return s.Best.Get(ctx, s.DB, scope)
}

// UpdateBestIfBetter folds one persisted run into the scope's best record.
// Returns true when the best pointer moved.
func (s *Store) UpdateBestIfBetter(ctx context.Context, scope string, run domain.Run) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	improved, err := s.Best.UpdateIfBetterTx(ctx, tx, scope, run)
	if err != nil {
		return false, err
	}
	return improved, tx.Commit()
}

// AppendChange appends an evolution audit entry and returns its row id.
func (s *Store) AppendChange(ctx context.Context, ch domain.EvolutionChange) (int64, error) {
	if ch.CreatedAt == 0 {
		ch.CreatedAt = time.Now().Unix()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id, err := s.Changes.AppendTx(ctx, tx, ch)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}
