package domain

import "time"

// RankingDimension selects which metric a ranking is ordered by
type RankingDimension string

const (
	RankOverall  RankingDimension = "overall"
	RankDistance RankingDimension = "distance"
	RankSpeed    RankingDimension = "speed"
)

// PeriodAggregate holds the reduced statistics for one user within one
// period. It is transient: derived from sessions on every calculation,
// never stored.
//
// The two speed fields are deliberately distinct and not interchangeable:
// ThroughputSpeed is total distance over total time for the whole period,
// MeanSessionSpeed is the unweighted mean of per-session speeds. The score
// record and the speed rankings use ThroughputSpeed; MeanSessionSpeed is
// only reported back in the aggregate payload.
type PeriodAggregate struct {
	UserID           string    `json:"user_id"`
	PeriodStart      time.Time `json:"period_start"`
	TotalDistance    float64   `json:"total_distance"`
	TotalDuration    float64   `json:"total_duration"`
	RunCount         int       `json:"run_count"`
	ThroughputSpeed  float64   `json:"throughput_speed"`
	MeanSessionSpeed float64   `json:"mean_session_speed"`
	RawScore         float64   `json:"raw_score"` // sum of per-session additive scores
}

// ScoreBreakdown is the persisted sub-score decomposition of a score record.
// ImprovementScore is reserved; no prior-period comparison exists yet.
type ScoreBreakdown struct {
	DistanceScore    float64 `json:"distance_score"`
	SpeedScore       float64 `json:"speed_score"`
	ConsistencyScore float64 `json:"consistency_score"`
	ImprovementScore float64 `json:"improvement_score"`
}

// ScoreRecord is the durable, rank-bearing entity for one (user, period)
// pair. It is created on the first calculation for the pair and overwritten
// in place on every subsequent one. Records are never physically deleted;
// IsActive=false is the only removal signal. Rank fields are nil until the
// rank engine has run for the period, and nil for the speed dimension when
// the record is excluded from the speed population.
type ScoreRecord struct {
	UserID        string         `json:"user_id"`
	PeriodStart   time.Time      `json:"period_start"`
	PeriodEnd     time.Time      `json:"period_end"`
	TotalScore    float64        `json:"total_score"`
	TotalDistance float64        `json:"total_distance"`
	TotalDuration float64        `json:"total_duration"`
	AvgSpeed      float64        `json:"avg_speed"` // period throughput speed
	RunCount      int            `json:"run_count"`
	Breakdown     ScoreBreakdown `json:"score_breakdown"`
	OverallRank   *int           `json:"overall_rank"`
	DistanceRank  *int           `json:"distance_rank"`
	SpeedRank     *int           `json:"speed_rank"`
	IsActive      bool           `json:"is_active"`
	LastUpdated   time.Time      `json:"last_updated"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// RankingEntry is one row of a leaderboard as served to clients.
type RankingEntry struct {
	Rank          int     `json:"rank"`
	UserID        string  `json:"user_id"`
	Nickname      string  `json:"nickname,omitempty"`
	TotalScore    float64 `json:"total_score,omitempty"`
	TotalDistance float64 `json:"total_distance,omitempty"`
	AvgSpeed      float64 `json:"avg_speed,omitempty"`
	RunCount      int     `json:"run_count,omitempty"`
}

// CalculateRequest asks for a score calculation for a user, optionally
// pinned to an explicit week.
type CalculateRequest struct {
	UserID      string     `json:"user_id"`
	PeriodStart *time.Time `json:"period_start,omitempty"`
}
