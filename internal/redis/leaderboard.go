// Package redis mirrors the per-period rankings onto sorted sets so
// leaderboard reads never touch PostgreSQL. The mirror is a cache: it is
// fully rewritten after every rank rebuild and can always be recovered
// from the score store.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/runscore/internal/config"
	"github.com/runscore/internal/domain"
	"github.com/runscore/internal/period"
)

// Mirror provides Redis-based leaderboard reads and the nickname cache.
type Mirror struct {
	client *redis.Client
	logger *slog.Logger
}

// NewMirror creates a leaderboard mirror on a new Redis client.
func NewMirror(cfg *config.RedisConfig, logger *slog.Logger) (*Mirror, error) {
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

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Mirror{client: client, logger: logger}, nil
}

// NewMirrorWithClient wraps an existing client. Used by tests with miniredis.
func NewMirrorWithClient(client *redis.Client, logger *slog.Logger) *Mirror {
	return &Mirror{client: client, logger: logger}
}

// Close closes the Redis connection
func (m *Mirror) Close() error {
	return m.client.Close()
}

// rankingKey returns the sorted-set key for one period and dimension.
func (m *Mirror) rankingKey(periodStart time.Time, dim domain.RankingDimension) string {
	return fmt.Sprintf("rankings:%s:%s", period.Key(periodStart), dim)
}

// userInfoKey returns the key for the cached user directory entry.
func (m *Mirror) userInfoKey(userID string) string {
	return fmt.Sprintf("user:%s:info", userID)
}

// metricFor picks the sorted-set score for a dimension.
func metricFor(rec *domain.ScoreRecord, dim domain.RankingDimension) float64 {
	switch dim {
	case domain.RankDistance:
		return rec.TotalDistance
	case domain.RankSpeed:
		return rec.AvgSpeed
	default:
		return rec.TotalScore
	}
}

// ReplacePeriod rewrites all three dimension sets for a period from the
// freshly ranked population. The speed set only holds records that carry a
// speed rank; the others hold everyone.
func (m *Mirror) ReplacePeriod(ctx context.Context, periodStart time.Time, records []domain.ScoreRecord) error {
	pipe := m.client.TxPipeline()

	for _, dim := range []domain.RankingDimension{domain.RankOverall, domain.RankDistance, domain.RankSpeed} {
		key := m.rankingKey(periodStart, dim)
		pipe.Del(ctx, key)

		members := make([]redis.Z, 0, len(records))
		for i := range records {
			rec := &records[i]
			if dim == domain.RankSpeed && rec.SpeedRank == nil {
				continue
			}
			members = append(members, redis.Z{
				Score:  metricFor(rec, dim),
				Member: rec.UserID,
			})
		}
		if len(members) > 0 {
			pipe.ZAdd(ctx, key, members...)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replacing period rankings: %w", err)
	}

	m.logger.Debug("ranking mirror replaced",
		"period", period.Key(periodStart),
		"records", len(records),
	)
	return nil
}

// DeletePeriod drops all ranking sets of a period.
func (m *Mirror) DeletePeriod(ctx context.Context, periodStart time.Time) error {
	pipe := m.client.Pipeline()
	for _, dim := range []domain.RankingDimension{domain.RankOverall, domain.RankDistance, domain.RankSpeed} {
		pipe.Del(ctx, m.rankingKey(periodStart, dim))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting period rankings: %w", err)
	}
	return nil
}

// TopN returns the first n leaderboard rows for a dimension, ranked
// competition-style: equal metric values share a rank and the next
// distinct value skips accordingly.
func (m *Mirror) TopN(ctx context.Context, periodStart time.Time, dim domain.RankingDimension, n int) ([]domain.RankingEntry, error) {
	key := m.rankingKey(periodStart, dim)
	results, err := m.client.ZRevRangeWithScores(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}

	entries := make([]domain.RankingEntry, len(results))
	rank := 0
	for i, result := range results {
		if i == 0 || result.Score != results[i-1].Score {
			rank = i + 1
		}
		entry := domain.RankingEntry{
			Rank:   rank,
			UserID: result.Member.(string),
		}
		switch dim {
		case domain.RankDistance:
			entry.TotalDistance = result.Score
		case domain.RankSpeed:
			entry.AvgSpeed = result.Score
		default:
			entry.TotalScore = result.Score
		}
		entries[i] = entry
	}
	return entries, nil
}

// Count returns the population size of one dimension's ranking set.
func (m *Mirror) Count(ctx context.Context, periodStart time.Time, dim domain.RankingDimension) (int64, error) {
	count, err := m.client.ZCard(ctx, m.rankingKey(periodStart, dim)).Result()
	if err != nil {
		return 0, fmt.Errorf("getting ranking count: %w", err)
	}
	return count, nil
}

// SetUserInfo caches a user directory entry for leaderboard display.
func (m *Mirror) SetUserInfo(ctx context.Context, user domain.UserInfo) error {
	key := m.userInfoKey(user.ID)
	err := m.client.HSet(ctx, key, "nickname", user.Nickname, "email", user.Email).Err()
	if err != nil {
		return fmt.Errorf("setting user info: %w", err)
	}
	return nil
}

// GetUserInfo retrieves a cached user directory entry.
func (m *Mirror) GetUserInfo(ctx context.Context, userID string) (*domain.UserInfo, error) {
	result, err := m.client.HGetAll(ctx, m.userInfoKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting user info: %w", err)
	}
	if len(result) == 0 {
		return nil, domain.ErrUserNotFound
	}
	return &domain.UserInfo{
		ID:       userID,
		Nickname: result["nickname"],
		Email:    result["email"],
	}, nil
}
