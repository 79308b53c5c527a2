package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duelbot/internal/config"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id BIGINT NOT NULL,
			guild_id BIGINT NOT NULL,
			level INT NOT NULL DEFAULT 1 CHECK (level BETWEEN 1 AND 99),
			experience BIGINT NOT NULL DEFAULT 0 CHECK (experience >= 0),
			wins INT NOT NULL DEFAULT 0,
			losses INT NOT NULL DEFAULT 0,
			draws INT NOT NULL DEFAULT 0,
			win_streak INT NOT NULL DEFAULT 0,
			best_win_streak INT NOT NULL DEFAULT 0,
			total_damage_dealt BIGINT NOT NULL DEFAULT 0,
			total_damage_taken BIGINT NOT NULL DEFAULT 0,
			duels_played INT NOT NULL DEFAULT 0,
			duels_today INT NOT NULL DEFAULT 0,
			last_duel_at TIMESTAMPTZ,
			is_outlaw BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, guild_id)
		)`,
		`CREATE TABLE IF NOT EXISTS duels (
			id BIGSERIAL PRIMARY KEY,
			guild_id BIGINT NOT NULL,
			mode VARCHAR(16) NOT NULL DEFAULT 'turn',
			status VARCHAR(16) NOT NULL DEFAULT 'pending',
			challenger_id BIGINT NOT NULL,
			challenged_id BIGINT NOT NULL,
			challenger_hp INT NOT NULL,
			challenger_max_hp INT NOT NULL,
			challenger_attack INT NOT NULL,
			challenger_defense INT NOT NULL,
			challenged_hp INT NOT NULL,
			challenged_max_hp INT NOT NULL,
			challenged_attack INT NOT NULL,
			challenged_defense INT NOT NULL,
			winner_id BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ,
			settled_at TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS duel_moves (
			id BIGSERIAL PRIMARY KEY,
			duel_id BIGINT NOT NULL REFERENCES duels(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL,
			kind VARCHAR(16) NOT NULL,
			damage INT NOT NULL DEFAULT 0,
			healing INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS outcome_events (
			event_id UUID PRIMARY KEY,
			duel_id BIGINT NOT NULL,
			guild_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			outcome VARCHAR(8) NOT NULL,
			xp_gained BIGINT NOT NULL,
			level INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_duels_open_challenger ON duels(guild_id, challenger_id) WHERE status IN ('pending', 'active')`,
		`CREATE INDEX IF NOT EXISTS idx_duels_open_challenged ON duels(guild_id, challenged_id) WHERE status IN ('pending', 'active')`,
		`CREATE INDEX IF NOT EXISTS idx_duels_pending_created ON duels(created_at) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_duel_moves_duel ON duel_moves(duel_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_users_ranking ON users(guild_id, wins DESC, win_streak DESC, level DESC) WHERE duels_played > 0`,
		`CREATE INDEX IF NOT EXISTS idx_outcome_events_user ON outcome_events(guild_id, user_id, created_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// inTx runs fn in a transaction, committing when it returns nil
func (r *Repository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(ctx); rerr != nil && !errors.Is(rerr, pgx.ErrTxClosed) {
			r.logger.Warn("transaction rollback failed", "error", rerr)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
