// Package score orchestrates the lifecycle of persisted score records:
// aggregation, the breakdown formula, the upsert keyed by (user, period)
// and the population-wide rank rebuild that follows every write.
package score

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/runscore/internal/aggregate"
	"github.com/runscore/internal/config"
	"github.com/runscore/internal/domain"
	"github.com/runscore/internal/period"
	"github.com/runscore/internal/rank"
	"github.com/runscore/internal/scoring"
)

// Store is the persistence surface the service needs beyond what the
// aggregator and rank engine already consume.
type Store interface {
	InsertSession(ctx context.Context, s *domain.Session) error
	FindLatestActiveSession(ctx context.Context, userID string) (*domain.Session, error)
	DeactivateSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]domain.Session, error)

	FindScore(ctx context.Context, userID string, periodStart time.Time) (*domain.ScoreRecord, error)
	UpsertScore(ctx context.Context, rec *domain.ScoreRecord) error
	CountGreaterThan(ctx context.Context, periodStart time.Time, dim domain.RankingDimension, value float64) (int, error)
	ScoreHistory(ctx context.Context, userID string, limit, offset int) ([]domain.ScoreRecord, int, error)

	GetUser(ctx context.Context, userID string) (*domain.UserInfo, error)
}

// RankingMirror receives the ranked population after every rebuild and
// serves leaderboard reads.
type RankingMirror interface {
	ReplacePeriod(ctx context.Context, periodStart time.Time, records []domain.ScoreRecord) error
	DeletePeriod(ctx context.Context, periodStart time.Time) error
	TopN(ctx context.Context, periodStart time.Time, dim domain.RankingDimension, n int) ([]domain.RankingEntry, error)
	Count(ctx context.Context, periodStart time.Time, dim domain.RankingDimension) (int64, error)
	GetUserInfo(ctx context.Context, userID string) (*domain.UserInfo, error)
	SetUserInfo(ctx context.Context, user domain.UserInfo) error
}

// Broadcaster pushes refreshed rankings to live subscribers.
type Broadcaster interface {
	BroadcastRankingUpdate(periodKey string, entries []domain.RankingEntry, totalUsers int64)
}

// Service provides the scoring business logic.
type Service struct {
	store      Store
	aggregator *aggregate.Aggregator
	engine     *rank.Engine
	mirror     RankingMirror
	hub        Broadcaster
	config     *config.RankingConfig
	logger     *slog.Logger

	additive       scoring.Additive
	multiplicative scoring.Multiplicative

	// upsertLocks serializes calculations per (user, period) key. Two
	// concurrent calls for the same key are a caller error; the lock turns
	// that error into last-writer-wins instead of interleaved writes.
	mu          sync.Mutex
	upsertLocks map[string]*sync.Mutex
}

// NewService creates the scoring service.
func NewService(
	store Store,
	aggregator *aggregate.Aggregator,
	engine *rank.Engine,
	mirror RankingMirror,
	cfg *config.RankingConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:       store,
		aggregator:  aggregator,
		engine:      engine,
		mirror:      mirror,
		config:      cfg,
		logger:      logger,
		upsertLocks: make(map[string]*sync.Mutex),
	}
}

// SetHub attaches the websocket hub for ranking broadcasts.
func (s *Service) SetHub(hub Broadcaster) {
	s.hub = hub
}

func (s *Service) upsertLock(userID string, periodStart time.Time) *sync.Mutex {
	key := userID + "/" + period.Key(periodStart)
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.upsertLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.upsertLocks[key] = lock
	}
	return lock
}

// LogSession validates and stores a running session, tags it with its
// immutable week, derives both per-session scores and recalculates the
// week's score record.
func (s *Service) LogSession(ctx context.Context, submission domain.SessionSubmission) (*domain.Session, *domain.ScoreRecord, error) {
	if err := submission.Validate(); err != nil {
		return nil, nil, err
	}

	session := submission.ToSession()
	session.ID = uuid.NewString()
	session.PeriodStart = period.WeekStart(session.Date)
	session.RunningScore = s.additive.Score(&session)
	session.TotalScore = s.multiplicative.Score(&session)

	if err := s.store.InsertSession(ctx, &session); err != nil {
		return nil, nil, fmt.Errorf("logging session: %w", err)
	}

	record, err := s.CalculateAndStore(ctx, session.UserID, &session.PeriodStart)
	if err != nil {
		return nil, nil, fmt.Errorf("scoring session %s: %w", session.ID, err)
	}

	s.logger.Info("session logged",
		"session_id", session.ID,
		"user_id", session.UserID,
		"period", period.Key(session.PeriodStart),
		"running_score", session.RunningScore,
	)
	return &session, record, nil
}

// RemoveSession soft-deletes a session and recalculates the affected
// week. When the user's last session of the week disappears the record is
// zeroed rather than left stale, keeping the runCount==0 invariant.
func (s *Service) RemoveSession(ctx context.Context, sessionID string) (*domain.ScoreRecord, error) {
	session, err := s.store.DeactivateSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	record, err := s.calculate(ctx, session.UserID, session.PeriodStart, true)
	if err != nil {
		return nil, fmt.Errorf("rescoring after removal of %s: %w", sessionID, err)
	}
	return record, nil
}

// CalculateAndStore derives and persists the score record for one (user,
// period) pair, then rebuilds the whole period's rankings. With a nil
// periodStart the week of the user's most recent active session is used;
// domain.ErrNoActivity when there is none. The call is idempotent: absent
// new sessions, repeating it yields an identical record.
func (s *Service) CalculateAndStore(ctx context.Context, userID string, periodStart *time.Time) (*domain.ScoreRecord, error) {
	start, err := s.resolvePeriod(ctx, userID, periodStart)
	if err != nil {
		return nil, err
	}
	return s.calculate(ctx, userID, start, false)
}

// calculate is the shared upsert path. With allowEmpty a period without
// sessions overwrites the record with zeroed statistics instead of
// failing; only session removal takes that path.
func (s *Service) calculate(ctx context.Context, userID string, start time.Time, allowEmpty bool) (*domain.ScoreRecord, error) {
	lock := s.upsertLock(userID, start)
	lock.Lock()
	defer lock.Unlock()

	agg, err := s.aggregator.Aggregate(ctx, userID, start)
	if err != nil {
		if !allowEmpty || !errors.Is(err, domain.ErrNoSessions) {
			return nil, err
		}
		agg = &domain.PeriodAggregate{UserID: userID, PeriodStart: start}
	}

	record := &domain.ScoreRecord{
		UserID:        userID,
		PeriodStart:   start,
		PeriodEnd:     period.WeekEnd(start),
		TotalDistance: agg.TotalDistance,
		TotalDuration: agg.TotalDuration,
		AvgSpeed:      agg.ThroughputSpeed,
		RunCount:      agg.RunCount,
	}
	record.Breakdown, record.TotalScore = scoring.Breakdown(agg)

	if err := s.store.UpsertScore(ctx, record); err != nil {
		return nil, fmt.Errorf("storing score for user %s: %w", userID, err)
	}

	if err := s.rebuildPeriod(ctx, start); err != nil {
		return nil, err
	}

	// Return the post-rank record.
	updated, err := s.store.FindScore(ctx, userID, start)
	if err != nil {
		return nil, fmt.Errorf("reloading score for user %s: %w", userID, err)
	}
	return updated, nil
}

// resolvePeriod picks the effective week for a calculation.
func (s *Service) resolvePeriod(ctx context.Context, userID string, periodStart *time.Time) (time.Time, error) {
	if periodStart != nil {
		return period.WeekStart(*periodStart), nil
	}
	latest, err := s.store.FindLatestActiveSession(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	return latest.PeriodStart, nil
}

// rebuildPeriod runs the rank engine and refreshes the mirror and any
// live subscribers from the result.
func (s *Service) rebuildPeriod(ctx context.Context, periodStart time.Time) error {
	ranked, err := s.engine.Rebuild(ctx, periodStart)
	if err != nil {
		return err
	}
	if ranked == nil {
		// Nothing to rank; clear any stale mirror state for the period.
		if err := s.mirror.DeletePeriod(ctx, periodStart); err != nil {
			s.logger.Warn("failed to clear ranking mirror", "period", period.Key(periodStart), "error", err)
		}
		return nil
	}

	if err := s.mirror.ReplacePeriod(ctx, periodStart, ranked); err != nil {
		// The mirror is a cache; postgres already holds the truth.
		s.logger.Warn("failed to refresh ranking mirror", "period", period.Key(periodStart), "error", err)
	}

	if s.hub != nil {
		limit := s.config.DefaultLimit
		if limit > len(ranked) {
			limit = len(ranked)
		}
		entries := make([]domain.RankingEntry, 0, limit)
		for i := 0; i < limit; i++ {
			rec := &ranked[i]
			entries = append(entries, domain.RankingEntry{
				Rank:          *rec.OverallRank,
				UserID:        rec.UserID,
				TotalScore:    rec.TotalScore,
				TotalDistance: rec.TotalDistance,
				AvgSpeed:      rec.AvgSpeed,
				RunCount:      rec.RunCount,
			})
		}
		s.hub.BroadcastRankingUpdate(period.Key(periodStart), entries, int64(len(ranked)))
	}
	return nil
}

// RebuildPeriod recomputes one period's rankings and mirror without
// touching any score record. Used by the sync worker and on startup.
func (s *Service) RebuildPeriod(ctx context.Context, periodStart time.Time) error {
	return s.rebuildPeriod(ctx, period.WeekStart(periodStart))
}

// WeeklyScore returns the stored score record for a user and week,
// defaulting to the current week.
func (s *Service) WeeklyScore(ctx context.Context, userID string, periodStart *time.Time) (*domain.ScoreRecord, error) {
	start := period.WeekStart(time.Now())
	if periodStart != nil {
		start = period.WeekStart(*periodStart)
	}
	return s.store.FindScore(ctx, userID, start)
}

// ScoreHistory returns a page of the user's past score records.
func (s *Service) ScoreHistory(ctx context.Context, userID string, page, limit int) ([]domain.ScoreRecord, int, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}
	return s.store.ScoreHistory(ctx, userID, limit, (page-1)*limit)
}

// LiveRanks computes a user's current competition ranks directly from the
// store: one plus the number of strictly better records per dimension.
// The speed rank stays nil for single-session users.
func (s *Service) LiveRanks(ctx context.Context, userID string, periodStart *time.Time) (*domain.ScoreRecord, error) {
	record, err := s.WeeklyScore(ctx, userID, periodStart)
	if err != nil {
		return nil, err
	}

	overall, err := s.store.CountGreaterThan(ctx, record.PeriodStart, domain.RankOverall, record.TotalScore)
	if err != nil {
		return nil, err
	}
	distance, err := s.store.CountGreaterThan(ctx, record.PeriodStart, domain.RankDistance, record.TotalDistance)
	if err != nil {
		return nil, err
	}

	overallRank, distanceRank := overall+1, distance+1
	record.OverallRank = &overallRank
	record.DistanceRank = &distanceRank
	record.SpeedRank = nil
	if record.RunCount >= 2 {
		speed, err := s.store.CountGreaterThan(ctx, record.PeriodStart, domain.RankSpeed, record.AvgSpeed)
		if err != nil {
			return nil, err
		}
		speedRank := speed + 1
		record.SpeedRank = &speedRank
	}
	return record, nil
}

// Rankings serves a leaderboard page for one dimension of a week from the
// mirror, decorating entries with cached nicknames.
func (s *Service) Rankings(ctx context.Context, periodStart *time.Time, dim domain.RankingDimension, limit int) ([]domain.RankingEntry, error) {
	start := period.WeekStart(time.Now())
	if periodStart != nil {
		start = period.WeekStart(*periodStart)
	}
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}

	entries, err := s.mirror.TopN(ctx, start, dim, limit)
	if err != nil {
		return nil, fmt.Errorf("reading rankings for %s: %w", period.Key(start), err)
	}

	for i := range entries {
		entries[i].Nickname = s.nickname(ctx, entries[i].UserID)
	}
	return entries, nil
}

// nickname resolves a display name, preferring the redis cache and
// falling back to the directory. Failures degrade to an empty name.
func (s *Service) nickname(ctx context.Context, userID string) string {
	if info, err := s.mirror.GetUserInfo(ctx, userID); err == nil {
		return info.Nickname
	}
	info, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return ""
	}
	if err := s.mirror.SetUserInfo(ctx, *info); err != nil {
		s.logger.Warn("failed to cache user info", "user_id", userID, "error", err)
	}
	return info.Nickname
}

// Sessions returns a page of the user's active sessions, newest first.
func (s *Service) Sessions(ctx context.Context, userID string, page, limit int) ([]domain.Session, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}
	return s.store.ListSessions(ctx, userID, limit, (page-1)*limit)
}
