// Package rank assigns competition ranks across the score records of one
// period. Ranking is a global rewrite: every call recomputes and persists
// all three rank fields for the whole population, O(n²) in period size,
// which is acceptable at hundreds of users per week.
package rank

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/runscore/internal/domain"
	"github.com/runscore/internal/period"
)

// minSpeedRunCount excludes single-session users from the speed
// leaderboard so one-off sprints cannot dominate it. The filter applies to
// the speed dimension only.
const minSpeedRunCount = 2

// ScoreStore is the score access the engine needs.
type ScoreStore interface {
	FindAllActiveScores(ctx context.Context, periodStart time.Time) ([]domain.ScoreRecord, error)
	UpdateRanks(ctx context.Context, rec *domain.ScoreRecord) error
}

// Engine recomputes period rankings.
type Engine struct {
	store  ScoreStore
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a rank engine over the given score store.
func NewEngine(store ScoreStore, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// periodLock returns the mutex guarding one period's rebuild pass.
func (e *Engine) periodLock(periodStart time.Time) *sync.Mutex {
	key := period.Key(periodStart)
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[key] = lock
	}
	return lock
}

// Rebuild recomputes overall, distance and speed ranks for every active
// score record of the period and persists them, returning the population
// ordered by overall rank. Concurrent rebuilds of the same period are
// serialized; a store failure mid-pass returns an error and the caller is
// expected to retry the whole pass rather than trust partial ranks.
func (e *Engine) Rebuild(ctx context.Context, periodStart time.Time) ([]domain.ScoreRecord, error) {
	lock := e.periodLock(periodStart)
	lock.Lock()
	defer lock.Unlock()

	records, err := e.store.FindAllActiveScores(ctx, periodStart)
	if err != nil {
		return nil, fmt.Errorf("rebuilding ranks for %s: %w", period.Key(periodStart), err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	assignRanks(records, func(r *domain.ScoreRecord) float64 { return r.TotalScore },
		func(r *domain.ScoreRecord, rank *int) { r.OverallRank = rank }, nil)
	assignRanks(records, func(r *domain.ScoreRecord) float64 { return r.TotalDistance },
		func(r *domain.ScoreRecord, rank *int) { r.DistanceRank = rank }, nil)
	assignRanks(records, func(r *domain.ScoreRecord) float64 { return r.AvgSpeed },
		func(r *domain.ScoreRecord, rank *int) { r.SpeedRank = rank },
		func(r *domain.ScoreRecord) bool { return r.RunCount >= minSpeedRunCount })

	for i := range records {
		if err := e.store.UpdateRanks(ctx, &records[i]); err != nil {
			return nil, fmt.Errorf("persisting ranks for %s: %w", period.Key(periodStart), err)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return *records[i].OverallRank < *records[j].OverallRank
	})

	e.logger.Debug("ranks rebuilt",
		"period", period.Key(periodStart),
		"population", len(records),
	)
	return records, nil
}

// assignRanks writes standard competition ranks for one metric: a record's
// rank is 1 plus the number of eligible records with a strictly greater
// value, so ties share a rank and the next distinct value skips. Records
// failing the eligible predicate get a nil rank and do not count against
// the others.
func assignRanks(records []domain.ScoreRecord, metric func(*domain.ScoreRecord) float64, set func(*domain.ScoreRecord, *int), eligible func(*domain.ScoreRecord) bool) {
	idx := make([]int, 0, len(records))
	for i := range records {
		if eligible != nil && !eligible(&records[i]) {
			set(&records[i], nil)
			continue
		}
		idx = append(idx, i)
	}

	for _, i := range idx {
		rank := 1
		for _, j := range idx {
			if metric(&records[j]) > metric(&records[i]) {
				rank++
			}
		}
		r := rank
		set(&records[i], &r)
	}
}
