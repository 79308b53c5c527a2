package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/duelbot/internal/domain"
)

const progressColumns = `user_id, guild_id, level, experience, wins, losses, draws,
	win_streak, best_win_streak, total_damage_dealt, total_damage_taken,
	duels_played, duels_today, last_duel_at, is_outlaw, created_at, updated_at`

func scanProgress(row pgx.Row) (*domain.UserProgress, error) {
	var p domain.UserProgress
	err := row.Scan(
		&p.UserID, &p.GuildID, &p.Level, &p.Experience, &p.Wins, &p.Losses, &p.Draws,
		&p.WinStreak, &p.BestWinStreak, &p.TotalDamageDealt, &p.TotalDamageTaken,
		&p.DuelsPlayed, &p.DuelsToday, &p.LastDuelAt, &p.IsOutlaw, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning progress: %w", err)
	}
	return &p, nil
}

// ensureUser creates the default record if it does not exist yet
func ensureUser(ctx context.Context, tx pgx.Tx, key domain.UserKey) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (user_id, guild_id) VALUES ($1, $2)
		ON CONFLICT (user_id, guild_id) DO NOTHING
	`, key.UserID, key.GuildID)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

func saveProgress(ctx context.Context, tx pgx.Tx, p *domain.UserProgress, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE users SET
			level = $3, experience = $4, wins = $5, losses = $6, draws = $7,
			win_streak = $8, best_win_streak = $9,
			total_damage_dealt = $10, total_damage_taken = $11,
			duels_played = $12, duels_today = $13, last_duel_at = $14,
			is_outlaw = $15, updated_at = $16
		WHERE user_id = $1 AND guild_id = $2
	`,
		p.UserID, p.GuildID,
		p.Level, p.Experience, p.Wins, p.Losses, p.Draws,
		p.WinStreak, p.BestWinStreak,
		p.TotalDamageDealt, p.TotalDamageTaken,
		p.DuelsPlayed, p.DuelsToday, p.LastDuelAt,
		p.IsOutlaw, now,
	)
	if err != nil {
		return fmt.Errorf("saving user %d: %w", p.UserID, err)
	}
	return nil
}

// GetProgress retrieves a user's record
func (r *Repository) GetProgress(ctx context.Context, key domain.UserKey) (*domain.UserProgress, error) {
	query := `SELECT ` + progressColumns + ` FROM users WHERE user_id = $1 AND guild_id = $2`
	return scanProgress(r.pool.QueryRow(ctx, query, key.UserID, key.GuildID))
}

// GetOrCreateProgress retrieves a user's record, creating the default
// one on first use
func (r *Repository) GetOrCreateProgress(ctx context.Context, key domain.UserKey) (*domain.UserProgress, error) {
	query := `
		WITH ins AS (
			INSERT INTO users (user_id, guild_id) VALUES ($1, $2)
			ON CONFLICT (user_id, guild_id) DO NOTHING
			RETURNING ` + progressColumns + `
		)
		SELECT ` + progressColumns + ` FROM ins
		UNION ALL
		SELECT ` + progressColumns + ` FROM users WHERE user_id = $1 AND guild_id = $2
		LIMIT 1
	`
	p, err := scanProgress(r.pool.QueryRow(ctx, query, key.UserID, key.GuildID))
	if errors.Is(err, domain.ErrUserNotFound) {
		// a concurrent insert committed after this statement's snapshot
		return r.GetProgress(ctx, key)
	}
	return p, err
}

// UpdateProgress locks a user's row, lets fn change it and saves it
func (r *Repository) UpdateProgress(ctx context.Context, key domain.UserKey, fn func(p *domain.UserProgress) error) (*domain.UserProgress, error) {
	var saved *domain.UserProgress
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if err := ensureUser(ctx, tx, key); err != nil {
			return err
		}
		p, err := scanProgress(tx.QueryRow(ctx,
			`SELECT `+progressColumns+` FROM users WHERE user_id = $1 AND guild_id = $2 FOR UPDATE`,
			key.UserID, key.GuildID,
		))
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		p.UpdatedAt = time.Now()
		if err := saveProgress(ctx, tx, p, p.UpdatedAt); err != nil {
			return err
		}
		saved = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// SettleDuel applies fn to a completed duel in one transaction. The duel
// row is locked first, then both user rows in user id order.
func (r *Repository) SettleDuel(ctx context.Context, duelID int64, settledAt time.Time, fn domain.SettleFunc) (*domain.Duel, error) {
	var settled *domain.Duel
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		d, err := scanDuel(tx.QueryRow(ctx, `SELECT `+duelColumns+` FROM duels WHERE id = $1 FOR UPDATE`, duelID))
		if err != nil {
			return err
		}
		if d.SettledAt != nil {
			return domain.ErrAlreadySettled
		}
		if d.Status != domain.DuelStatusCompleted {
			return domain.ErrWrongState
		}

		cKey := domain.UserKey{UserID: d.Challenger.UserID, GuildID: d.GuildID}
		dKey := domain.UserKey{UserID: d.Challenged.UserID, GuildID: d.GuildID}
		for _, key := range []domain.UserKey{cKey, dKey} {
			if err := ensureUser(ctx, tx, key); err != nil {
				return err
			}
		}

		rows, err := tx.Query(ctx, `
			SELECT `+progressColumns+` FROM users
			WHERE guild_id = $1 AND user_id = ANY($2)
			ORDER BY user_id
			FOR UPDATE
		`, d.GuildID, []int64{cKey.UserID, dKey.UserID})
		if err != nil {
			return fmt.Errorf("locking users: %w", err)
		}
		records := make(map[int64]domain.UserProgress, 2)
		for rows.Next() {
			p, err := scanProgress(rows)
			if err != nil {
				rows.Close()
				return err
			}
			records[p.UserID] = *p
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("reading users: %w", err)
		}

		moves, err := listMoves(ctx, tx, duelID)
		if err != nil {
			return err
		}

		next, err := fn(d, records[cKey.UserID], records[dKey.UserID], moves)
		if err != nil {
			return fmt.Errorf("computing settlement: %w", err)
		}
		for i := range next {
			if err := saveProgress(ctx, tx, &next[i], settledAt); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `UPDATE duels SET settled_at = $2 WHERE id = $1`, duelID, settledAt); err != nil {
			return fmt.Errorf("marking duel settled: %w", err)
		}
		at := settledAt
		d.SettledAt = &at
		settled = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

// TopProgress returns ranked records of users who have dueled. A zero
// limit returns all of them.
func (r *Repository) TopProgress(ctx context.Context, guildID int64, limit int) ([]domain.UserProgress, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+progressColumns+` FROM users
		WHERE guild_id = $1 AND duels_played > 0
		ORDER BY wins DESC, win_streak DESC, level DESC, user_id
		LIMIT NULLIF($2, 0)
	`, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying leaderboard: %w", err)
	}
	defer rows.Close()

	var out []domain.UserProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ListGuilds returns every guild with user records
func (r *Repository) ListGuilds(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT guild_id FROM users ORDER BY guild_id`)
	if err != nil {
		return nil, fmt.Errorf("listing guilds: %w", err)
	}
	guilds, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scanning guilds: %w", err)
	}
	return guilds, nil
}

// RecordOutcome stores an outcome event once. It reports false when the
// event was seen before.
func (r *Repository) RecordOutcome(ctx context.Context, e domain.DuelOutcomeEvent) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO outcome_events (event_id, duel_id, guild_id, user_id, outcome, xp_gained, level, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`, e.EventID, e.DuelID, e.GuildID, e.UserID, e.Outcome, e.XPGained, e.Level, e.Timestamp)
	if err != nil {
		return false, fmt.Errorf("recording outcome: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
