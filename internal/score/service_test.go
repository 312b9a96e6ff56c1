package score

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/runscore/internal/aggregate"
	"github.com/runscore/internal/config"
	"github.com/runscore/internal/domain"
	"github.com/runscore/internal/period"
	"github.com/runscore/internal/rank"
)

var week = time.Date(2026, 8, 23, 0, 0, 0, 0, time.Local) // a Sunday

// fakeStore is an in-memory stand-in for the postgres repository. It
// satisfies the session store, score store and service store interfaces.
type fakeStore struct {
	sessions map[string]domain.Session
	scores   map[string]domain.ScoreRecord
	users    map[string]domain.UserInfo
	failAll  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]domain.Session),
		scores:   make(map[string]domain.ScoreRecord),
		users:    make(map[string]domain.UserInfo),
	}
}

func scoreKey(userID string, periodStart time.Time) string {
	return userID + "/" + period.Key(periodStart)
}

func (f *fakeStore) InsertSession(_ context.Context, s *domain.Session) error {
	if f.failAll {
		return domain.ErrStoreUnavailable
	}
	f.sessions[s.ID] = *s
	return nil
}

func (f *fakeStore) FindActiveSessions(_ context.Context, userID string, periodStart time.Time) ([]domain.Session, error) {
	if f.failAll {
		return nil, domain.ErrStoreUnavailable
	}
	var out []domain.Session
	for _, s := range f.sessions {
		if s.UserID == userID && s.IsActive && s.PeriodStart.Equal(periodStart) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) FindLatestActiveSession(_ context.Context, userID string) (*domain.Session, error) {
	var latest *domain.Session
	for id := range f.sessions {
		s := f.sessions[id]
		if s.UserID != userID || !s.IsActive {
			continue
		}
		if latest == nil || s.Date.After(latest.Date) {
			latest = &s
		}
	}
	if latest == nil {
		return nil, domain.ErrNoActivity
	}
	return latest, nil
}

func (f *fakeStore) DeactivateSession(_ context.Context, sessionID string) (*domain.Session, error) {
	s, ok := f.sessions[sessionID]
	if !ok || !s.IsActive {
		return nil, domain.ErrSessionNotFound
	}
	s.IsActive = false
	f.sessions[sessionID] = s
	return &s, nil
}

func (f *fakeStore) ListSessions(_ context.Context, userID string, limit, offset int) ([]domain.Session, error) {
	var out []domain.Session
	for _, s := range f.sessions {
		if s.UserID == userID && s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) FindScore(_ context.Context, userID string, periodStart time.Time) (*domain.ScoreRecord, error) {
	rec, ok := f.scores[scoreKey(userID, periodStart)]
	if !ok {
		return nil, domain.ErrScoreNotFound
	}
	return &rec, nil
}

func (f *fakeStore) UpsertScore(_ context.Context, rec *domain.ScoreRecord) error {
	if f.failAll {
		return domain.ErrStoreUnavailable
	}
	key := scoreKey(rec.UserID, rec.PeriodStart)
	stored := *rec
	stored.IsActive = true
	if prev, ok := f.scores[key]; ok {
		// Rank columns are owned by UpdateRanks.
		stored.OverallRank = prev.OverallRank
		stored.DistanceRank = prev.DistanceRank
		stored.SpeedRank = prev.SpeedRank
	}
	f.scores[key] = stored
	return nil
}

func (f *fakeStore) FindAllActiveScores(_ context.Context, periodStart time.Time) ([]domain.ScoreRecord, error) {
	var out []domain.ScoreRecord
	for _, rec := range f.scores {
		if rec.IsActive && rec.PeriodStart.Equal(periodStart) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateRanks(_ context.Context, rec *domain.ScoreRecord) error {
	key := scoreKey(rec.UserID, rec.PeriodStart)
	stored, ok := f.scores[key]
	if !ok {
		return domain.ErrScoreNotFound
	}
	stored.OverallRank = rec.OverallRank
	stored.DistanceRank = rec.DistanceRank
	stored.SpeedRank = rec.SpeedRank
	f.scores[key] = stored
	return nil
}

func (f *fakeStore) CountGreaterThan(_ context.Context, periodStart time.Time, dim domain.RankingDimension, value float64) (int, error) {
	count := 0
	for _, rec := range f.scores {
		if !rec.IsActive || !rec.PeriodStart.Equal(periodStart) {
			continue
		}
		var metric float64
		switch dim {
		case domain.RankDistance:
			metric = rec.TotalDistance
		case domain.RankSpeed:
			if rec.RunCount < 2 {
				continue
			}
			metric = rec.AvgSpeed
		default:
			metric = rec.TotalScore
		}
		if metric > value {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) ScoreHistory(_ context.Context, userID string, limit, offset int) ([]domain.ScoreRecord, int, error) {
	var out []domain.ScoreRecord
	for _, rec := range f.scores {
		if rec.UserID == userID && rec.IsActive {
			out = append(out, rec)
		}
	}
	return out, len(out), nil
}

func (f *fakeStore) GetUser(_ context.Context, userID string) (*domain.UserInfo, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

type fakeMirror struct {
	replaced map[string][]domain.ScoreRecord
	users    map[string]domain.UserInfo
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{
		replaced: make(map[string][]domain.ScoreRecord),
		users:    make(map[string]domain.UserInfo),
	}
}

func (f *fakeMirror) ReplacePeriod(_ context.Context, periodStart time.Time, records []domain.ScoreRecord) error {
	f.replaced[period.Key(periodStart)] = records
	return nil
}

func (f *fakeMirror) DeletePeriod(_ context.Context, periodStart time.Time) error {
	delete(f.replaced, period.Key(periodStart))
	return nil
}

func (f *fakeMirror) TopN(_ context.Context, periodStart time.Time, dim domain.RankingDimension, n int) ([]domain.RankingEntry, error) {
	records := f.replaced[period.Key(periodStart)]
	entries := make([]domain.RankingEntry, 0, n)
	for i := range records {
		if i >= n {
			break
		}
		entries = append(entries, domain.RankingEntry{
			Rank:       *records[i].OverallRank,
			UserID:     records[i].UserID,
			TotalScore: records[i].TotalScore,
		})
	}
	return entries, nil
}

func (f *fakeMirror) Count(_ context.Context, periodStart time.Time, _ domain.RankingDimension) (int64, error) {
	return int64(len(f.replaced[period.Key(periodStart)])), nil
}

func (f *fakeMirror) GetUserInfo(_ context.Context, userID string) (*domain.UserInfo, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (f *fakeMirror) SetUserInfo(_ context.Context, user domain.UserInfo) error {
	f.users[user.ID] = user
	return nil
}

type fakeHub struct {
	periodKeys []string
	lastTotal  int64
}

func (f *fakeHub) BroadcastRankingUpdate(periodKey string, _ []domain.RankingEntry, total int64) {
	f.periodKeys = append(f.periodKeys, periodKey)
	f.lastTotal = total
}

func newService(store *fakeStore, mirror *fakeMirror) *Service {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := &config.RankingConfig{DefaultLimit: 10, MaxLimit: 100}
	return NewService(
		store,
		aggregate.New(store),
		rank.NewEngine(store, logger),
		mirror,
		cfg,
		logger,
	)
}

func submission(userID string, distance, duration float64, date time.Time) domain.SessionSubmission {
	return domain.SessionSubmission{
		UserID:   userID,
		Distance: distance,
		Duration: duration,
		Date:     &date,
	}
}

func TestLogSessionDerivesScoresAndPeriod(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, newFakeMirror())

	date := week.AddDate(0, 0, 3) // Wednesday of the tagged week
	session, record, err := svc.LogSession(context.Background(), submission("u-1", 5, 30, date))
	if err != nil {
		t.Fatalf("LogSession: %v", err)
	}

	if !session.PeriodStart.Equal(week) {
		t.Errorf("PeriodStart = %v, want %v", session.PeriodStart, week)
	}
	// additive: 50 + 50 + 5 + 3 + 4 = 112 (easy/sunny/good defaults)
	if math.Abs(session.RunningScore-112) > 1e-9 {
		t.Errorf("RunningScore = %v, want 112", session.RunningScore)
	}
	// multiplicative: base 103 * 1.0 * 1.0
	if math.Abs(session.TotalScore-103) > 1e-9 {
		t.Errorf("TotalScore = %v, want 103", session.TotalScore)
	}

	// breakdown: 50 + 50 + 2 = 102
	if record.TotalScore != 102 {
		t.Errorf("record.TotalScore = %v, want 102", record.TotalScore)
	}
	if record.OverallRank == nil || *record.OverallRank != 1 {
		t.Errorf("OverallRank = %v, want 1", record.OverallRank)
	}
}

func TestCalculateAndStoreAggregatesWeek(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, newFakeMirror())
	ctx := context.Background()

	if _, _, err := svc.LogSession(ctx, submission("u-1", 5, 30, week)); err != nil {
		t.Fatalf("LogSession: %v", err)
	}
	if _, _, err := svc.LogSession(ctx, submission("u-1", 10, 50, week.AddDate(0, 0, 2))); err != nil {
		t.Fatalf("LogSession: %v", err)
	}

	record, err := svc.CalculateAndStore(ctx, "u-1", &week)
	if err != nil {
		t.Fatalf("CalculateAndStore: %v", err)
	}

	if record.TotalDistance != 15 || record.TotalDuration != 80 || record.RunCount != 2 {
		t.Fatalf("unexpected aggregate: %+v", record)
	}
	if math.Abs(record.AvgSpeed-11.25) > 1e-9 {
		t.Errorf("AvgSpeed = %v, want 11.25", record.AvgSpeed)
	}
	// 150 + 56.25 + 4 + 0 = 210.25
	if record.TotalScore != 210.25 {
		t.Errorf("TotalScore = %v, want 210.25", record.TotalScore)
	}
	if !record.PeriodEnd.Equal(week.AddDate(0, 0, 6)) {
		t.Errorf("PeriodEnd = %v, want weekStart+6d", record.PeriodEnd)
	}
}

func TestCalculateAndStoreIdempotent(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, newFakeMirror())
	ctx := context.Background()

	if _, _, err := svc.LogSession(ctx, submission("u-1", 5, 30, week)); err != nil {
		t.Fatalf("LogSession: %v", err)
	}

	first, err := svc.CalculateAndStore(ctx, "u-1", &week)
	if err != nil {
		t.Fatalf("first CalculateAndStore: %v", err)
	}
	second, err := svc.CalculateAndStore(ctx, "u-1", &week)
	if err != nil {
		t.Fatalf("second CalculateAndStore: %v", err)
	}

	// Identical output modulo the write timestamp.
	second.LastUpdated = first.LastUpdated
	if *first.OverallRank != *second.OverallRank ||
		first.TotalScore != second.TotalScore ||
		first.TotalDistance != second.TotalDistance ||
		first.TotalDuration != second.TotalDuration ||
		first.AvgSpeed != second.AvgSpeed ||
		first.RunCount != second.RunCount ||
		first.Breakdown != second.Breakdown {
		t.Fatalf("repeat calculation differs:\nfirst  %+v\nsecond %+v", first, second)
	}
}

func TestCalculateAndStoreResolvesPeriodFromLatestSession(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, newFakeMirror())
	ctx := context.Background()

	older := week.AddDate(0, 0, -7)
	if _, _, err := svc.LogSession(ctx, submission("u-1", 3, 20, older)); err != nil {
		t.Fatalf("LogSession: %v", err)
	}
	if _, _, err := svc.LogSession(ctx, submission("u-1", 5, 30, week.AddDate(0, 0, 1))); err != nil {
		t.Fatalf("LogSession: %v", err)
	}

	record, err := svc.CalculateAndStore(ctx, "u-1", nil)
	if err != nil {
		t.Fatalf("CalculateAndStore: %v", err)
	}
	if !record.PeriodStart.Equal(week) {
		t.Fatalf("resolved period %v, want latest session's week %v", record.PeriodStart, week)
	}
}

func TestCalculateAndStoreNoActivity(t *testing.T) {
	svc := newService(newFakeStore(), newFakeMirror())
	_, err := svc.CalculateAndStore(context.Background(), "nobody", nil)
	if !errors.Is(err, domain.ErrNoActivity) {
		t.Fatalf("err = %v, want ErrNoActivity", err)
	}
}

func TestCalculateAndStoreEmptyPeriod(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, newFakeMirror())
	ctx := context.Background()

	if _, _, err := svc.LogSession(ctx, submission("u-1", 5, 30, week)); err != nil {
		t.Fatalf("LogSession: %v", err)
	}

	empty := week.AddDate(0, 0, 7)
	_, err := svc.CalculateAndStore(ctx, "u-1", &empty)
	if !errors.Is(err, domain.ErrNoSessions) {
		t.Fatalf("err = %v, want ErrNoSessions", err)
	}
}

func TestRanksSpanPopulationOnEveryWrite(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, newFakeMirror())
	ctx := context.Background()

	if _, _, err := svc.LogSession(ctx, submission("a", 5, 30, week)); err != nil {
		t.Fatalf("LogSession: %v", err)
	}
	// Second user outruns the first; the first user's persisted rank must
	// move without any further call on their behalf.
	if _, _, err := svc.LogSession(ctx, submission("b", 20, 100, week)); err != nil {
		t.Fatalf("LogSession: %v", err)
	}

	a, err := store.FindScore(ctx, "a", week)
	if err != nil {
		t.Fatalf("FindScore: %v", err)
	}
	b, err := store.FindScore(ctx, "b", week)
	if err != nil {
		t.Fatalf("FindScore: %v", err)
	}
	if b.OverallRank == nil || *b.OverallRank != 1 {
		t.Errorf("b.OverallRank = %v, want 1", b.OverallRank)
	}
	if a.OverallRank == nil || *a.OverallRank != 2 {
		t.Errorf("a.OverallRank = %v, want 2", a.OverallRank)
	}
}

func TestRemoveSessionZeroesEmptyWeek(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, newFakeMirror())
	ctx := context.Background()

	session, _, err := svc.LogSession(ctx, submission("u-1", 5, 30, week))
	if err != nil {
		t.Fatalf("LogSession: %v", err)
	}

	record, err := svc.RemoveSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("RemoveSession: %v", err)
	}
	if record.RunCount != 0 || record.TotalScore != 0 || record.AvgSpeed != 0 {
		t.Fatalf("record not zeroed after last session removed: %+v", record)
	}
}

func TestLiveRanksSpeedExclusion(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, newFakeMirror())
	ctx := context.Background()

	if _, _, err := svc.LogSession(ctx, submission("solo", 5, 20, week)); err != nil {
		t.Fatalf("LogSession: %v", err)
	}
	if _, _, err := svc.LogSession(ctx, submission("pair", 5, 30, week)); err != nil {
		t.Fatalf("LogSession: %v", err)
	}
	if _, _, err := svc.LogSession(ctx, submission("pair", 6, 35, week.AddDate(0, 0, 1))); err != nil {
		t.Fatalf("LogSession: %v", err)
	}

	solo, err := svc.LiveRanks(ctx, "solo", &week)
	if err != nil {
		t.Fatalf("LiveRanks: %v", err)
	}
	if solo.SpeedRank != nil {
		t.Errorf("solo.SpeedRank = %d, want nil for a single-session user", *solo.SpeedRank)
	}
	if solo.OverallRank == nil {
		t.Error("solo must still have an overall rank")
	}

	pair, err := svc.LiveRanks(ctx, "pair", &week)
	if err != nil {
		t.Fatalf("LiveRanks: %v", err)
	}
	if pair.SpeedRank == nil || *pair.SpeedRank != 1 {
		t.Errorf("pair.SpeedRank = %v, want 1", pair.SpeedRank)
	}
}

func TestRankingsDecoratesNicknames(t *testing.T) {
	store := newFakeStore()
	mirror := newFakeMirror()
	svc := newService(store, mirror)
	ctx := context.Background()

	store.users["u-1"] = domain.UserInfo{ID: "u-1", Nickname: "vitus"}
	if _, _, err := svc.LogSession(ctx, submission("u-1", 5, 30, week)); err != nil {
		t.Fatalf("LogSession: %v", err)
	}

	entries, err := svc.Rankings(ctx, &week, domain.RankOverall, 10)
	if err != nil {
		t.Fatalf("Rankings: %v", err)
	}
	if len(entries) != 1 || entries[0].Nickname != "vitus" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	// The directory hit is cached in the mirror for the next read.
	if _, ok := mirror.users["u-1"]; !ok {
		t.Error("nickname not cached after directory lookup")
	}
}

func TestBroadcastOnRebuild(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, newFakeMirror())
	hub := &fakeHub{}
	svc.SetHub(hub)
	ctx := context.Background()

	if _, _, err := svc.LogSession(ctx, submission("u-1", 5, 30, week)); err != nil {
		t.Fatalf("LogSession: %v", err)
	}

	if len(hub.periodKeys) == 0 {
		t.Fatal("no ranking broadcast after calculation")
	}
	if hub.periodKeys[len(hub.periodKeys)-1] != period.Key(week) {
		t.Fatalf("broadcast period = %s, want %s", hub.periodKeys[0], period.Key(week))
	}
	if hub.lastTotal != 1 {
		t.Fatalf("broadcast total = %d, want 1", hub.lastTotal)
	}
}
