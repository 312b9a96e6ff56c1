package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/runscore/internal/config"
	"github.com/runscore/internal/domain"
)

// Querier is the minimal pgx surface the repository uses. Both
// *pgxpool.Pool and pgxmock pools satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL-based access to sessions, score records
// and the user directory. "Active" filtering lives here and nowhere else:
// every Find* query already excludes soft-deleted rows, so callers never
// repeat the predicate.
type Repository struct {
	db     Querier
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a repository backed by a new connection pool.
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		db:     pool,
		pool:   pool,
		logger: logger,
	}, nil
}

// NewRepositoryWithDB creates a repository on an existing querier. Used by
// tests with pgxmock.
func NewRepositoryWithDB(db Querier, logger *slog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Close closes the database connection pool
func (r *Repository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// storeErr tags an underlying database failure so callers can match
// domain.ErrStoreUnavailable without losing the pgx chain.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) PRIMARY KEY,
			nickname VARCHAR(64) NOT NULL,
			email VARCHAR(255),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			distance DOUBLE PRECISION NOT NULL,
			duration DOUBLE PRECISION NOT NULL,
			date TIMESTAMP NOT NULL,
			run_type VARCHAR(20) NOT NULL DEFAULT 'easy',
			weather VARCHAR(20) NOT NULL DEFAULT 'sunny',
			feeling VARCHAR(20) NOT NULL DEFAULT 'good',
			period_start TIMESTAMP NOT NULL,
			running_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			notes VARCHAR(500),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS scores (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			period_start TIMESTAMP NOT NULL,
			period_end TIMESTAMP NOT NULL,
			total_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_distance DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_duration DOUBLE PRECISION NOT NULL DEFAULT 0,
			avg_speed DOUBLE PRECISION NOT NULL DEFAULT 0,
			run_count INT NOT NULL DEFAULT 0,
			distance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			speed_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			consistency_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			improvement_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			overall_rank INT,
			distance_rank INT,
			speed_rank INT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			last_updated TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, period_start)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_period ON sessions(user_id, period_start)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_date ON sessions(user_id, date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_period_score ON scores(period_start, total_score DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_period_distance ON scores(period_start, total_distance DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_period_speed ON scores(period_start, avg_speed DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.db.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// InsertSession stores a new session with its immutable period tag and
// precomputed per-session scores.
func (r *Repository) InsertSession(ctx context.Context, s *domain.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, distance, duration, date, run_type, weather, feeling,
			period_start, running_score, total_score, notes, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, TRUE, $13, $13)
	`
	now := time.Now()
	_, err := r.db.Exec(ctx, query,
		s.ID, s.UserID, s.Distance, s.Duration, s.Date,
		string(s.Type), string(s.Weather), string(s.Feeling),
		s.PeriodStart, s.RunningScore, s.TotalScore, s.Notes, now,
	)
	if err != nil {
		return storeErr("inserting session", err)
	}
	return nil
}

const sessionColumns = `id, user_id, distance, duration, date, run_type, weather, feeling,
		period_start, running_score, total_score, is_active`

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.ID, &s.UserID, &s.Distance, &s.Duration, &s.Date,
		&s.Type, &s.Weather, &s.Feeling,
		&s.PeriodStart, &s.RunningScore, &s.TotalScore, &s.IsActive,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// FindActiveSessions returns the user's active sessions whose stored period
// tag equals periodStart. Matching is by equality on the tag, never by date
// range.
func (r *Repository) FindActiveSessions(ctx context.Context, userID string, periodStart time.Time) ([]domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND period_start = $2 AND is_active = TRUE
		ORDER BY date ASC
	`
	rows, err := r.db.Query(ctx, query, userID, periodStart)
	if err != nil {
		return nil, storeErr("finding sessions", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, storeErr("scanning session", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, nil
}

// FindLatestActiveSession returns the user's most recent active session by
// run date, or domain.ErrNoActivity when none exists.
func (r *Repository) FindLatestActiveSession(ctx context.Context, userID string) (*domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY date DESC
		LIMIT 1
	`
	s, err := scanSession(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNoActivity)
		}
		return nil, storeErr("finding latest session", err)
	}
	return s, nil
}

// DeactivateSession soft-deletes a session. Rows are never removed; the
// flag is the only deletion mechanism.
func (r *Repository) DeactivateSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		UPDATE sessions
		SET is_active = FALSE, updated_at = $2
		WHERE id = $1 AND is_active = TRUE
		RETURNING ` + sessionColumns + `
	`
	s, err := scanSession(r.db.QueryRow(ctx, query, sessionID, time.Now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, storeErr("deactivating session", err)
	}
	return s, nil
}

// ListSessions returns a page of the user's active sessions, newest first.
func (r *Repository) ListSessions(ctx context.Context, userID string, limit, offset int) ([]domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY date DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, storeErr("listing sessions", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, storeErr("scanning session", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, nil
}

const scoreColumns = `user_id, period_start, period_end, total_score, total_distance,
		total_duration, avg_speed, run_count,
		distance_score, speed_score, consistency_score, improvement_score,
		overall_rank, distance_rank, speed_rank, is_active, last_updated`

func scanScore(row pgx.Row) (*domain.ScoreRecord, error) {
	var rec domain.ScoreRecord
	err := row.Scan(
		&rec.UserID, &rec.PeriodStart, &rec.PeriodEnd, &rec.TotalScore, &rec.TotalDistance,
		&rec.TotalDuration, &rec.AvgSpeed, &rec.RunCount,
		&rec.Breakdown.DistanceScore, &rec.Breakdown.SpeedScore,
		&rec.Breakdown.ConsistencyScore, &rec.Breakdown.ImprovementScore,
		&rec.OverallRank, &rec.DistanceRank, &rec.SpeedRank, &rec.IsActive, &rec.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindScore returns the score record for a (user, period) pair, or
// domain.ErrScoreNotFound.
func (r *Repository) FindScore(ctx context.Context, userID string, periodStart time.Time) (*domain.ScoreRecord, error) {
	query := `
		SELECT ` + scoreColumns + `
		FROM scores
		WHERE user_id = $1 AND period_start = $2
	`
	rec, err := scanScore(r.db.QueryRow(ctx, query, userID, periodStart))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrScoreNotFound
		}
		return nil, storeErr("finding score", err)
	}
	return rec, nil
}

// UpsertScore writes a score record's statistic and breakdown fields,
// creating the row on first calculation for the (user, period) pair and
// fully overwriting it afterwards. Rank fields are left to UpdateRanks.
func (r *Repository) UpsertScore(ctx context.Context, rec *domain.ScoreRecord) error {
	query := `
		INSERT INTO scores (user_id, period_start, period_end, total_score, total_distance,
			total_duration, avg_speed, run_count,
			distance_score, speed_score, consistency_score, improvement_score,
			is_active, last_updated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, TRUE, $13, $13, $13)
		ON CONFLICT (user_id, period_start)
		DO UPDATE SET
			period_end = $3,
			total_score = $4,
			total_distance = $5,
			total_duration = $6,
			avg_speed = $7,
			run_count = $8,
			distance_score = $9,
			speed_score = $10,
			consistency_score = $11,
			improvement_score = $12,
			is_active = TRUE,
			last_updated = $13,
			updated_at = $13
	`
	now := time.Now()
	_, err := r.db.Exec(ctx, query,
		rec.UserID, rec.PeriodStart, rec.PeriodEnd, rec.TotalScore, rec.TotalDistance,
		rec.TotalDuration, rec.AvgSpeed, rec.RunCount,
		rec.Breakdown.DistanceScore, rec.Breakdown.SpeedScore,
		rec.Breakdown.ConsistencyScore, rec.Breakdown.ImprovementScore,
		now,
	)
	if err != nil {
		return storeErr("upserting score", err)
	}
	rec.IsActive = true
	rec.LastUpdated = now
	return nil
}

// FindAllActiveScores returns every active score record for a period,
// ordered by total score descending.
func (r *Repository) FindAllActiveScores(ctx context.Context, periodStart time.Time) ([]domain.ScoreRecord, error) {
	query := `
		SELECT ` + scoreColumns + `
		FROM scores
		WHERE period_start = $1 AND is_active = TRUE
		ORDER BY total_score DESC
	`
	rows, err := r.db.Query(ctx, query, periodStart)
	if err != nil {
		return nil, storeErr("finding period scores", err)
	}
	defer rows.Close()

	var records []domain.ScoreRecord
	for rows.Next() {
		rec, err := scanScore(rows)
		if err != nil {
			return nil, storeErr("scanning score", err)
		}
		records = append(records, *rec)
	}
	return records, nil
}

// rankColumns whitelists the metric columns CountGreaterThan may compare
// against; anything else would splice into SQL.
var rankColumns = map[domain.RankingDimension]string{
	domain.RankOverall:  "total_score",
	domain.RankDistance: "total_distance",
	domain.RankSpeed:    "avg_speed",
}

// CountGreaterThan counts the active records of a period whose metric is
// strictly greater than value. Adding one gives the standard competition
// rank for that value.
func (r *Repository) CountGreaterThan(ctx context.Context, periodStart time.Time, dimension domain.RankingDimension, value float64) (int, error) {
	column, ok := rankColumns[dimension]
	if !ok {
		return 0, fmt.Errorf("%w: unknown ranking dimension %q", domain.ErrInvalidRequest, dimension)
	}

	// Single-session users never compete on speed, so they must not be
	// counted as ahead of anyone in that dimension either.
	eligibility := ""
	if dimension == domain.RankSpeed {
		eligibility = " AND run_count >= 2"
	}
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM scores
		WHERE period_start = $1 AND is_active = TRUE AND %s > $2%s
	`, column, eligibility)

	var count int
	if err := r.db.QueryRow(ctx, query, periodStart, value).Scan(&count); err != nil {
		return 0, storeErr("counting greater scores", err)
	}
	return count, nil
}

// UpdateRanks persists the three rank fields for one record of a period.
func (r *Repository) UpdateRanks(ctx context.Context, rec *domain.ScoreRecord) error {
	query := `
		UPDATE scores
		SET overall_rank = $3, distance_rank = $4, speed_rank = $5, updated_at = $6
		WHERE user_id = $1 AND period_start = $2
	`
	tag, err := r.db.Exec(ctx, query,
		rec.UserID, rec.PeriodStart,
		rec.OverallRank, rec.DistanceRank, rec.SpeedRank, time.Now(),
	)
	if err != nil {
		return storeErr("updating ranks", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s period %s: %w", rec.UserID, rec.PeriodStart.Format("2006-01-02"), domain.ErrScoreNotFound)
	}
	return nil
}

// ScoreHistory returns a page of the user's active score records, most
// recent period first, along with the total count for pagination.
func (r *Repository) ScoreHistory(ctx context.Context, userID string, limit, offset int) ([]domain.ScoreRecord, int, error) {
	query := `
		SELECT ` + scoreColumns + `
		FROM scores
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY period_start DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, storeErr("listing score history", err)
	}
	defer rows.Close()

	var records []domain.ScoreRecord
	for rows.Next() {
		rec, err := scanScore(rows)
		if err != nil {
			return nil, 0, storeErr("scanning score", err)
		}
		records = append(records, *rec)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM scores WHERE user_id = $1 AND is_active = TRUE`
	if err := r.db.QueryRow(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, storeErr("counting score history", err)
	}
	return records, total, nil
}

// UpsertUser creates or updates a user-directory entry.
func (r *Repository) UpsertUser(ctx context.Context, user domain.UserInfo) error {
	query := `
		INSERT INTO users (id, nickname, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (id)
		DO UPDATE SET nickname = $2, email = $3, updated_at = $4
	`
	_, err := r.db.Exec(ctx, query, user.ID, user.Nickname, user.Email, time.Now())
	if err != nil {
		return storeErr("upserting user", err)
	}
	return nil
}

// GetUser resolves a user ID to its directory entry, for display only.
func (r *Repository) GetUser(ctx context.Context, userID string) (*domain.UserInfo, error) {
	query := `SELECT id, nickname, email FROM users WHERE id = $1`
	var u domain.UserInfo
	var email *string
	if err := r.db.QueryRow(ctx, query, userID).Scan(&u.ID, &u.Nickname, &email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, storeErr("getting user", err)
	}
	if email != nil {
		u.Email = *email
	}
	return &u, nil
}
