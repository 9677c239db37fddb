package model

import (
	"context"
	"errors"
)

// Error kinds surfaced by the engine. Callers match with errors.Is; wrapped
// messages carry the detail.
var (
	// ErrInvalidArgument marks a malformed transaction or feedback payload,
	// rejected at the boundary.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoEligibleCandidate means the guardrails removed every PSP.
	ErrNoEligibleCandidate = errors.New("no eligible candidate")

	// ErrCandidateUnavailable means the historical store could not serve a
	// cold segment. The condition is transient; callers may retry.
	ErrCandidateUnavailable = errors.New("candidate data unavailable")

	// ErrPredictorUnavailable means the predictor is off, not ready, or
	// timed out. The router recovers it with the deterministic fallback and
	// never surfaces it.
	ErrPredictorUnavailable = errors.New("predictor unavailable")

	// ErrInternal marks an unexpected failure, surfaced with an opaque id
	// for operator correlation.
	ErrInternal = errors.New("internal error")
)

// ErrorKind maps an error onto its taxonomy label, used for metrics and
// transport status mapping.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrNoEligibleCandidate):
		return "no_eligible_candidate"
	case errors.Is(err, ErrCandidateUnavailable):
		return "candidate_unavailable"
	case errors.Is(err, ErrPredictorUnavailable):
		return "predictor_unavailable"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	default:
		return "internal"
	}
}
