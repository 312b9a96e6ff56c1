package domain

import (
	"fmt"
	"time"
)

// RunType categorizes a running session
type RunType string

const (
	RunTypeEasy     RunType = "easy"
	RunTypeTempo    RunType = "tempo"
	RunTypeInterval RunType = "interval"
	RunTypeLong     RunType = "long"
	RunTypeRace     RunType = "race"
)

// Weather describes the conditions a session was run in
type Weather string

const (
	WeatherSunny  Weather = "sunny"
	WeatherCloudy Weather = "cloudy"
	WeatherRainy  Weather = "rainy"
	WeatherWindy  Weather = "windy"
)

// Feeling describes how the run felt
type Feeling string

const (
	FeelingExcellent Feeling = "excellent"
	FeelingGood      Feeling = "good"
	FeelingAverage   Feeling = "average"
	FeelingPoor      Feeling = "poor"
)

// Session is one logged running activity. It is owned by the run-logging
// subsystem; the scoring core only ever reads it. PeriodStart is the week
// tag assigned at creation time and never changes afterwards, even if the
// week-boundary rule does.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Distance     float64   `json:"distance"` // km
	Duration     float64   `json:"duration"` // minutes
	Date         time.Time `json:"date"`
	Type         RunType   `json:"type"`
	Weather      Weather   `json:"weather"`
	Feeling      Feeling   `json:"feeling"`
	PeriodStart  time.Time `json:"period_start"`
	RunningScore float64   `json:"running_score"`
	TotalScore   float64   `json:"total_score"`
	Notes        string    `json:"notes,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Speed returns the session's average speed in km/h. Distance and duration
// are validated at the input layer; a non-positive value here is a
// programming error, not a recoverable condition.
func (s *Session) Speed() float64 {
	if s.Distance <= 0 || s.Duration <= 0 {
		panic(fmt.Sprintf("session %s: non-positive distance/duration reached scoring (distance=%f duration=%f)", s.ID, s.Distance, s.Duration))
	}
	return s.Distance / (s.Duration / 60)
}

// Pace returns the session's pace in minutes per km.
func (s *Session) Pace() float64 {
	if s.Distance <= 0 || s.Duration <= 0 {
		panic(fmt.Sprintf("session %s: non-positive distance/duration reached scoring (distance=%f duration=%f)", s.ID, s.Distance, s.Duration))
	}
	return s.Duration / s.Distance
}

// SessionSubmission is a request to log a running session.
type SessionSubmission struct {
	UserID   string     `json:"user_id"`
	Distance float64    `json:"distance"`
	Duration float64    `json:"duration"`
	Date     *time.Time `json:"date,omitempty"`
	Type     RunType    `json:"type,omitempty"`
	Weather  Weather    `json:"weather,omitempty"`
	Feeling  Feeling    `json:"feeling,omitempty"`
	Notes    string     `json:"notes,omitempty"`
}

// Validate checks the submission's invariants. This is the input layer's
// responsibility; records past this point are assumed well-formed.
func (s *SessionSubmission) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidSession)
	}
	if s.Distance <= 0 || s.Distance > 1000 {
		return fmt.Errorf("%w: distance must be in (0, 1000] km, got %f", ErrInvalidSession, s.Distance)
	}
	if s.Duration <= 0 || s.Duration > 1440 {
		return fmt.Errorf("%w: duration must be in (0, 1440] minutes, got %f", ErrInvalidSession, s.Duration)
	}
	if s.Type != "" && !validRunType(s.Type) {
		return fmt.Errorf("%w: unknown run type %q", ErrInvalidSession, s.Type)
	}
	if s.Weather != "" && !validWeather(s.Weather) {
		return fmt.Errorf("%w: unknown weather %q", ErrInvalidSession, s.Weather)
	}
	if s.Feeling != "" && !validFeeling(s.Feeling) {
		return fmt.Errorf("%w: unknown feeling %q", ErrInvalidSession, s.Feeling)
	}
	return nil
}

// ToSession converts a submission to a session with defaults applied.
// Period tagging and score derivation are left to the caller.
func (s *SessionSubmission) ToSession() Session {
	session := Session{
		UserID:   s.UserID,
		Distance: s.Distance,
		Duration: s.Duration,
		Type:     s.Type,
		Weather:  s.Weather,
		Feeling:  s.Feeling,
		Notes:    s.Notes,
		IsActive: true,
	}

	// Apply defaults
	if s.Date != nil {
		session.Date = *s.Date
	} else {
		session.Date = time.Now()
	}
	if session.Type == "" {
		session.Type = RunTypeEasy
	}
	if session.Weather == "" {
		session.Weather = WeatherSunny
	}
	if session.Feeling == "" {
		session.Feeling = FeelingGood
	}

	return session
}

func validRunType(t RunType) bool {
	switch t {
	case RunTypeEasy, RunTypeTempo, RunTypeInterval, RunTypeLong, RunTypeRace:
		return true
	}
	return false
}

func validWeather(w Weather) bool {
	switch w {
	case WeatherSunny, WeatherCloudy, WeatherRainy, WeatherWindy:
		return true
	}
	return false
}

func validFeeling(f Feeling) bool {
	switch f {
	case FeelingExcellent, FeelingGood, FeelingAverage, FeelingPoor:
		return true
	}
	return false
}

// UserInfo is a lightweight user record resolved from the user directory,
// used for display only.
type UserInfo struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Email    string `json:"email,omitempty"`
}
