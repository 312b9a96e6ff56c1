// Package aggregate reduces a user's sessions within one period into the
// statistics the scoring and ranking layers consume.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/runscore/internal/domain"
	"github.com/runscore/internal/scoring"
)

// SessionStore is the read-only session access the aggregator needs.
// Sessions are matched by their stored period tag, not by date range.
type SessionStore interface {
	FindActiveSessions(ctx context.Context, userID string, periodStart time.Time) ([]domain.Session, error)
}

// Aggregator computes per-user per-period statistics.
type Aggregator struct {
	sessions SessionStore
	additive scoring.Additive
}

// New creates an aggregator over the given session store.
func New(sessions SessionStore) *Aggregator {
	return &Aggregator{sessions: sessions}
}

// Aggregate reduces the user's active sessions tagged with periodStart.
// Returns domain.ErrNoSessions when the user has no session carrying that
// exact tag; callers resolve which period to use before calling, they do
// not probe empty periods.
func (a *Aggregator) Aggregate(ctx context.Context, userID string, periodStart time.Time) (*domain.PeriodAggregate, error) {
	sessions, err := a.sessions.FindActiveSessions(ctx, userID, periodStart)
	if err != nil {
		return nil, fmt.Errorf("aggregating user %s: %w", userID, err)
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("user %s period %s: %w", userID, periodStart.Format("2006-01-02"), domain.ErrNoSessions)
	}

	agg := &domain.PeriodAggregate{
		UserID:      userID,
		PeriodStart: periodStart,
		RunCount:    len(sessions),
	}

	var speedSum float64
	for i := range sessions {
		s := &sessions[i]
		agg.TotalDistance += s.Distance
		agg.TotalDuration += s.Duration
		speedSum += s.Speed()
		agg.RawScore += a.additive.Score(s)
	}

	// Weighted whole-period speed; distinct from the per-session mean below.
	if agg.TotalDistance > 0 {
		agg.ThroughputSpeed = (agg.TotalDistance / agg.TotalDuration) * 60
	}
	agg.MeanSessionSpeed = speedSum / float64(agg.RunCount)

	return agg, nil
}
