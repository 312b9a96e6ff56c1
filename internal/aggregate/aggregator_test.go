package aggregate

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/runscore/internal/domain"
)

type fakeSessionStore struct {
	sessions []domain.Session
	err      error
}

func (f *fakeSessionStore) FindActiveSessions(_ context.Context, userID string, periodStart time.Time) ([]domain.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Session
	for _, s := range f.sessions {
		if s.UserID == userID && s.PeriodStart.Equal(periodStart) {
			out = append(out, s)
		}
	}
	return out, nil
}

var week = time.Date(2026, 8, 23, 0, 0, 0, 0, time.Local)

func run(distance, duration float64) domain.Session {
	return domain.Session{
		UserID:      "u-1",
		Distance:    distance,
		Duration:    duration,
		Type:        domain.RunTypeEasy,
		Weather:     domain.WeatherSunny,
		Feeling:     domain.FeelingGood,
		PeriodStart: week,
		IsActive:    true,
	}
}

func TestAggregateTwoSessions(t *testing.T) {
	store := &fakeSessionStore{sessions: []domain.Session{
		run(5, 30),  // speed 10
		run(10, 50), // speed 12
	}}

	agg, err := New(store).Aggregate(context.Background(), "u-1", week)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	if agg.TotalDistance != 15 {
		t.Errorf("TotalDistance = %v, want 15", agg.TotalDistance)
	}
	if agg.TotalDuration != 80 {
		t.Errorf("TotalDuration = %v, want 80", agg.TotalDuration)
	}
	if agg.RunCount != 2 {
		t.Errorf("RunCount = %v, want 2", agg.RunCount)
	}
	if math.Abs(agg.ThroughputSpeed-11.25) > 1e-9 {
		t.Errorf("ThroughputSpeed = %v, want 11.25", agg.ThroughputSpeed)
	}
	// Mean of per-session speeds (10 and 12) is 11, not 11.25: the two
	// speed semantics must not collapse into one another.
	if math.Abs(agg.MeanSessionSpeed-11) > 1e-9 {
		t.Errorf("MeanSessionSpeed = %v, want 11", agg.MeanSessionSpeed)
	}
	// additive: (5*10+10*5+5+3+4) + (10*10+12*5+5+3+4) = 112 + 172 = 284
	if math.Abs(agg.RawScore-284) > 1e-9 {
		t.Errorf("RawScore = %v, want 284", agg.RawScore)
	}
}

func TestAggregateNoSessions(t *testing.T) {
	store := &fakeSessionStore{}
	_, err := New(store).Aggregate(context.Background(), "u-1", week)
	if !errors.Is(err, domain.ErrNoSessions) {
		t.Fatalf("err = %v, want ErrNoSessions", err)
	}
	if !domain.IsRecoverable(err) {
		t.Fatal("ErrNoSessions must be recoverable")
	}
}

func TestAggregateIgnoresOtherPeriods(t *testing.T) {
	other := run(42, 120)
	other.PeriodStart = week.AddDate(0, 0, -7)
	store := &fakeSessionStore{sessions: []domain.Session{run(5, 30), other}}

	agg, err := New(store).Aggregate(context.Background(), "u-1", week)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if agg.RunCount != 1 || agg.TotalDistance != 5 {
		t.Fatalf("sessions from other periods leaked in: %+v", agg)
	}
}

func TestAggregateStoreFailure(t *testing.T) {
	store := &fakeSessionStore{err: domain.ErrStoreUnavailable}
	_, err := New(store).Aggregate(context.Background(), "u-1", week)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}
