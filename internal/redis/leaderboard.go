package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/duelbot/internal/config"
	"github.com/duelbot/internal/domain"
)

// NewClient connects to Redis and verifies the connection
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// Rankings keeps one sorted set per guild, scored by domain.RankScore
type Rankings struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRankings creates the Redis ranking cache
func NewRankings(client *redis.Client, logger *slog.Logger) *Rankings {
	return &Rankings{
		client: client,
		logger: logger,
	}
}

// rankingKey returns the Redis key for a guild's sorted set
func rankingKey(guildID int64) string {
	return fmt.Sprintf("duel:leaderboard:%d", guildID)
}

func member(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// SetRank sets a user's ranking score
func (r *Rankings) SetRank(ctx context.Context, guildID, userID, score int64) error {
	err := r.client.ZAdd(ctx, rankingKey(guildID), redis.Z{
		Score:  float64(score),
		Member: member(userID),
	}).Err()
	if err != nil {
		return fmt.Errorf("setting rank: %w", err)
	}
	return nil
}

// TopN returns the best n users of a guild. Equal scores are ordered by
// user id ascending, the same order the store uses.
func (r *Rankings) TopN(ctx context.Context, guildID int64, n int) ([]domain.LeaderboardEntry, error) {
	key := rankingKey(guildID)
	results, err := r.client.ZRevRangeWithScores(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}

	// Redis orders ties by member, so pull every member sharing the last
	// score before cutting at n.
	var tied []redis.Z
	if n > 0 && len(results) == n {
		boundary := formatScore(results[n-1].Score)
		tied, err = r.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: boundary, Max: boundary}).Result()
		if err != nil {
			return nil, fmt.Errorf("getting tied scores: %w", err)
		}
	}
	return rankedEntries(results, tied, n)
}

// Rank returns one user's position in the guild
func (r *Rankings) Rank(ctx context.Context, guildID, userID int64) (*domain.LeaderboardEntry, error) {
	key := rankingKey(guildID)

	score, err := r.client.ZScore(ctx, key, member(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting score: %w", err)
	}

	s := formatScore(score)
	pipe := r.client.Pipeline()
	aboveCmd := pipe.ZCount(ctx, key, "("+s, "+inf")
	tiedCmd := pipe.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: s, Max: s})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("getting rank: %w", err)
	}

	ahead, err := tiedAhead(tiedCmd.Val(), userID)
	if err != nil {
		return nil, err
	}
	entry := domain.EntryFromScore(aboveCmd.Val()+ahead+1, userID, int64(score))
	return &entry, nil
}

// Exists reports whether the guild has been cached
func (r *Rankings) Exists(ctx context.Context, guildID int64) (bool, error) {
	n, err := r.client.Exists(ctx, rankingKey(guildID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking existence: %w", err)
	}
	return n > 0, nil
}

// Replace swaps the guild ranking for scores in one transaction
func (r *Rankings) Replace(ctx context.Context, guildID int64, scores map[int64]int64) error {
	key := rankingKey(guildID)
	members := make([]redis.Z, 0, len(scores))
	for userID, score := range scores {
		members = append(members, redis.Z{Score: float64(score), Member: member(userID)})
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) > 0 {
			pipe.ZAdd(ctx, key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replacing rankings: %w", err)
	}
	r.logger.Debug("rankings replaced", "guild_id", guildID, "entries", len(members))
	return nil
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

func parseMember(raw interface{}) (int64, error) {
	str, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected member type %T", raw)
	}
	userID, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing member %q: %w", str, err)
	}
	return userID, nil
}

// rankedEntries merges a top-n range with every member tied at its last
// score, orders by score desc then user id asc and keeps n entries
func rankedEntries(top, tied []redis.Z, n int) ([]domain.LeaderboardEntry, error) {
	type row struct {
		userID int64
		score  int64
	}

	rows := make([]row, 0, len(top)+len(tied))
	add := func(z redis.Z) error {
		userID, err := parseMember(z.Member)
		if err != nil {
			return err
		}
		rows = append(rows, row{userID: userID, score: int64(z.Score)})
		return nil
	}
	for _, z := range top {
		if len(tied) > 0 && z.Score == tied[0].Score {
			continue
		}
		if err := add(z); err != nil {
			return nil, err
		}
	}
	for _, z := range tied {
		if err := add(z); err != nil {
			return nil, err
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		return rows[i].userID < rows[j].userID
	})
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}

	entries := make([]domain.LeaderboardEntry, len(rows))
	for i, r := range rows {
		entries[i] = domain.EntryFromScore(int64(i)+1, r.userID, r.score)
	}
	return entries, nil
}

// tiedAhead counts members sharing a score that sort before userID
func tiedAhead(members []string, userID int64) (int64, error) {
	var ahead int64
	for _, m := range members {
		id, err := parseMember(m)
		if err != nil {
			return 0, err
		}
		if id < userID {
			ahead++
		}
	}
	return ahead, nil
}
