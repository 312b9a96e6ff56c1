package scoring

import (
	"math"

	"github.com/runscore/internal/domain"
)

// Strategy derives a score from a single session. Three inconsistent
// formulas coexist in this system on purpose; callers select one by name
// instead of relying on which code path happens to run. The period-level
// Breakdown formula is the canonical score for persisted records and
// cross-user ranking.
type Strategy interface {
	Name() string
	Score(s *domain.Session) float64
}

// Additive is the original per-session formula: a weighted sum of distance,
// speed and the three categorical weights, kept at full float precision.
// It feeds the session's runningScore and the aggregate raw score sum.
type Additive struct{}

func (Additive) Name() string { return "additive" }

func (Additive) Score(s *domain.Session) float64 {
	return s.Distance*10 +
		s.Speed()*5 +
		TypeWeight(s.Type)*5 +
		WeatherWeight(s.Weather)*3 +
		FeelingWeight(s.Feeling)*2
}

// Multiplicative is the enhanced per-session formula: a base of distance,
// speed and duration scaled by the combined weather+feeling and run-type
// multipliers, rounded to two decimals.
type Multiplicative struct{}

func (Multiplicative) Name() string { return "multiplicative" }

func (Multiplicative) Score(s *domain.Session) float64 {
	base := s.Distance*10 + s.Speed()*5 + s.Duration*0.1
	return Round2(base * WeatherFeelingMultiplier(s.Weather, s.Feeling) * TypeMultiplier(s.Type))
}

// Breakdown computes the persisted period-level score from an aggregate:
// distance, speed and consistency sub-scores plus a reserved improvement
// term. This is the authoritative score stored on a ScoreRecord and is
// intentionally independent of the additive per-session sum.
func Breakdown(agg *domain.PeriodAggregate) (domain.ScoreBreakdown, float64) {
	b := domain.ScoreBreakdown{
		DistanceScore:    Round2(agg.TotalDistance * 10),
		SpeedScore:       Round2(agg.ThroughputSpeed * 5),
		ConsistencyScore: Round2(float64(agg.RunCount) * 2),
		ImprovementScore: 0, // no prior-period comparison yet
	}
	total := Round2(b.DistanceScore + b.SpeedScore + b.ConsistencyScore + b.ImprovementScore)
	return b, total
}

// Round2 rounds to two decimal places.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}
