package domain

import "errors"

// Domain errors
var (
	// ErrNoSessions means aggregation was requested for a period in which
	// the user has no active sessions. Recoverable: nothing to score yet.
	ErrNoSessions = errors.New("no sessions in period")

	// ErrNoActivity means a score calculation was requested without an
	// explicit period and the user has never logged a session.
	ErrNoActivity = errors.New("user has no running activity")

	// ErrStoreUnavailable wraps an underlying store failure. The core does
	// not retry; the caller decides.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidSession is returned by input-layer validation. A session
	// that violates its invariants after validation is a programming error
	// and panics instead.
	ErrInvalidSession = errors.New("invalid session data")

	ErrSessionNotFound = errors.New("session not found")
	ErrScoreNotFound   = errors.New("score record not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInternalError   = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrScoreNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

// IsRecoverable reports whether the caller can treat the error as an empty
// result rather than a failure.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrNoSessions) || errors.Is(err, ErrNoActivity)
}
