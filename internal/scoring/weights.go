package scoring

import "github.com/runscore/internal/domain"

// Linear weight tables used by the additive formula. Unknown keys fall back
// to the table's neutral default.
var typeWeights = map[domain.RunType]float64{
	domain.RunTypeEasy:     1,
	domain.RunTypeTempo:    2,
	domain.RunTypeInterval: 3,
	domain.RunTypeLong:     2,
	domain.RunTypeRace:     4,
}

var weatherWeights = map[domain.Weather]float64{
	domain.WeatherSunny:  1,
	domain.WeatherCloudy: 1,
	domain.WeatherRainy:  2,
	domain.WeatherWindy:  2,
}

var feelingWeights = map[domain.Feeling]float64{
	domain.FeelingExcellent: 3,
	domain.FeelingGood:      2,
	domain.FeelingAverage:   1,
	domain.FeelingPoor:      0,
}

// Type multipliers used by the multiplicative formula.
var typeMultipliers = map[domain.RunType]float64{
	domain.RunTypeEasy:     1.0,
	domain.RunTypeTempo:    1.2,
	domain.RunTypeInterval: 1.5,
	domain.RunTypeLong:     1.3,
	domain.RunTypeRace:     2.0,
}

// Combined weather+feeling multipliers. Running through bad conditions with
// a good mental state is rewarded disproportionately; this table is a
// product factor, not a sum of the linear weights above.
var weatherFeelingMultipliers = map[domain.Weather]map[domain.Feeling]float64{
	domain.WeatherSunny: {
		domain.FeelingExcellent: 1.2,
		domain.FeelingGood:      1.0,
		domain.FeelingAverage:   0.9,
		domain.FeelingPoor:      0.7,
	},
	domain.WeatherCloudy: {
		domain.FeelingExcellent: 1.1,
		domain.FeelingGood:      0.95,
		domain.FeelingAverage:   0.85,
		domain.FeelingPoor:      0.7,
	},
	domain.WeatherRainy: {
		domain.FeelingExcellent: 1.5,
		domain.FeelingGood:      1.3,
		domain.FeelingAverage:   1.1,
		domain.FeelingPoor:      0.8,
	},
	domain.WeatherWindy: {
		domain.FeelingExcellent: 1.3,
		domain.FeelingGood:      1.1,
		domain.FeelingAverage:   0.9,
		domain.FeelingPoor:      0.7,
	},
}

// TypeWeight returns the linear weight for a run type (default 1).
func TypeWeight(t domain.RunType) float64 {
	if w, ok := typeWeights[t]; ok {
		return w
	}
	return 1
}

// WeatherWeight returns the linear weight for a weather condition (default 1).
func WeatherWeight(w domain.Weather) float64 {
	if v, ok := weatherWeights[w]; ok {
		return v
	}
	return 1
}

// FeelingWeight returns the linear weight for a feeling (default 2).
func FeelingWeight(f domain.Feeling) float64 {
	if w, ok := feelingWeights[f]; ok {
		return w
	}
	return 2
}

// TypeMultiplier returns the multiplicative factor for a run type (default 1.0).
func TypeMultiplier(t domain.RunType) float64 {
	if m, ok := typeMultipliers[t]; ok {
		return m
	}
	return 1.0
}

// WeatherFeelingMultiplier returns the combined weather+feeling factor
// (default 1.0 for unknown combinations).
func WeatherFeelingMultiplier(w domain.Weather, f domain.Feeling) float64 {
	if row, ok := weatherFeelingMultipliers[w]; ok {
		if m, ok := row[f]; ok {
			return m
		}
	}
	return 1.0
}
