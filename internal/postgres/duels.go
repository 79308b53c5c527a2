package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/duelbot/internal/domain"
)

const duelColumns = `id, guild_id, mode, status,
	challenger_id, challenger_hp, challenger_max_hp, challenger_attack, challenger_defense,
	challenged_id, challenged_hp, challenged_max_hp, challenged_attack, challenged_defense,
	winner_id, created_at, started_at, ended_at, settled_at, version`

func scanDuel(row pgx.Row) (*domain.Duel, error) {
	var (
		d            domain.Duel
		mode, status string
	)
	err := row.Scan(
		&d.ID, &d.GuildID, &mode, &status,
		&d.Challenger.UserID, &d.Challenger.HP, &d.Challenger.MaxHP, &d.Challenger.Attack, &d.Challenger.Defense,
		&d.Challenged.UserID, &d.Challenged.HP, &d.Challenged.MaxHP, &d.Challenged.Attack, &d.Challenged.Defense,
		&d.WinnerID, &d.CreatedAt, &d.StartedAt, &d.EndedAt, &d.SettledAt, &d.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDuelNotFound
		}
		return nil, fmt.Errorf("scanning duel: %w", err)
	}
	d.Mode = domain.DuelMode(mode)
	d.Status = domain.DuelStatus(status)
	return &d, nil
}

// participantLockKeys returns the advisory lock keys for a duel's two
// participants, in a stable order so concurrent challenges cannot
// deadlock
func participantLockKeys(guildID, a, b int64) []string {
	keys := []string{
		fmt.Sprintf("duel:%d:%d", guildID, a),
		fmt.Sprintf("duel:%d:%d", guildID, b),
	}
	sort.Strings(keys)
	return keys
}

// CreateDuel inserts a duel after checking, under per-participant
// advisory locks, that neither side has an open duel in the guild
func (r *Repository) CreateDuel(ctx context.Context, d *domain.Duel) (*domain.Duel, error) {
	var created *domain.Duel
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		for _, key := range participantLockKeys(d.GuildID, d.Challenger.UserID, d.Challenged.UserID) {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
				return fmt.Errorf("locking participant: %w", err)
			}
		}

		var busy bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM duels
				WHERE guild_id = $1
				  AND status IN ('pending', 'active')
				  AND (challenger_id = ANY($2) OR challenged_id = ANY($2))
			)
		`, d.GuildID, []int64{d.Challenger.UserID, d.Challenged.UserID}).Scan(&busy)
		if err != nil {
			return fmt.Errorf("checking open duels: %w", err)
		}
		if busy {
			return domain.ErrDuelInProgress
		}

		query := `
			INSERT INTO duels (guild_id, mode, status,
				challenger_id, challenger_hp, challenger_max_hp, challenger_attack, challenger_defense,
				challenged_id, challenged_hp, challenged_max_hp, challenged_attack, challenged_defense,
				created_at, started_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1)
			RETURNING ` + duelColumns
		created, err = scanDuel(tx.QueryRow(ctx, query,
			d.GuildID, string(d.Mode), string(d.Status),
			d.Challenger.UserID, d.Challenger.HP, d.Challenger.MaxHP, d.Challenger.Attack, d.Challenger.Defense,
			d.Challenged.UserID, d.Challenged.HP, d.Challenged.MaxHP, d.Challenged.Attack, d.Challenged.Defense,
			d.CreatedAt, d.StartedAt,
		))
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetDuel retrieves a duel by ID
func (r *Repository) GetDuel(ctx context.Context, id int64) (*domain.Duel, error) {
	return scanDuel(r.pool.QueryRow(ctx, `SELECT `+duelColumns+` FROM duels WHERE id = $1`, id))
}

// ActiveDuelFor returns the user's pending or active duel in the guild
func (r *Repository) ActiveDuelFor(ctx context.Context, guildID, userID int64) (*domain.Duel, error) {
	query := `
		SELECT ` + duelColumns + ` FROM duels
		WHERE guild_id = $1
		  AND status IN ('pending', 'active')
		  AND (challenger_id = $2 OR challenged_id = $2)
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanDuel(r.pool.QueryRow(ctx, query, guildID, userID))
}

// UpdateDuel applies a patch guarded by the duel's version and appends
// moves in the same transaction
func (r *Repository) UpdateDuel(ctx context.Context, id int64, patch domain.DuelPatch, moves []domain.DuelMove) (*domain.Duel, error) {
	var updated *domain.Duel
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE duels SET
				status = COALESCE($3, status),
				challenger_hp = COALESCE($4, challenger_hp),
				challenged_hp = COALESCE($5, challenged_hp),
				winner_id = COALESCE($6, winner_id),
				started_at = COALESCE($7, started_at),
				ended_at = COALESCE($8, ended_at),
				version = version + 1
			WHERE id = $1 AND version = $2 AND status IN ('pending', 'active')
			RETURNING ` + duelColumns
		var err error
		updated, err = scanDuel(tx.QueryRow(ctx, query,
			id, patch.ExpectVersion,
			statusArg(patch.Status), patch.ChallengerHP, patch.ChallengedHP,
			patch.WinnerID, patch.StartedAt, patch.EndedAt,
		))
		if errors.Is(err, domain.ErrDuelNotFound) {
			return r.classifyMissedUpdate(ctx, tx, id)
		}
		if err != nil {
			return err
		}

		if len(moves) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, m := range moves {
			batch.Queue(`
				INSERT INTO duel_moves (duel_id, user_id, kind, damage, healing, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, id, m.UserID, string(m.Kind), m.Damage, m.Healing, m.CreatedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("appending moves: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// classifyMissedUpdate explains why a guarded update matched no row
func (r *Repository) classifyMissedUpdate(ctx context.Context, tx pgx.Tx, id int64) error {
	current, err := scanDuel(tx.QueryRow(ctx, `SELECT `+duelColumns+` FROM duels WHERE id = $1`, id))
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		return domain.ErrWrongState
	}
	return domain.ErrStaleDuel
}

// ListMoves returns a duel's move log in order
func (r *Repository) ListMoves(ctx context.Context, duelID int64) ([]domain.DuelMove, error) {
	return listMoves(ctx, r.pool, duelID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listMoves(ctx context.Context, q querier, duelID int64) ([]domain.DuelMove, error) {
	rows, err := q.Query(ctx, `
		SELECT id, duel_id, user_id, kind, damage, healing, created_at
		FROM duel_moves
		WHERE duel_id = $1
		ORDER BY id
	`, duelID)
	if err != nil {
		return nil, fmt.Errorf("listing moves: %w", err)
	}
	defer rows.Close()

	var moves []domain.DuelMove
	for rows.Next() {
		var (
			m    domain.DuelMove
			kind string
		)
		if err := rows.Scan(&m.ID, &m.DuelID, &m.UserID, &kind, &m.Damage, &m.Healing, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning move: %w", err)
		}
		m.Kind = domain.MoveKind(kind)
		moves = append(moves, m)
	}
	return moves, rows.Err()
}

// StalePending returns ids of pending duels created before cutoff
func (r *Repository) StalePending(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM duels
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale duels: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scanning stale duels: %w", err)
	}
	return ids, nil
}

func statusArg(s *domain.DuelStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
