package matcher

import (
	"gate-service/internal/domain/access"
)

const (
	DefaultHighThreshold = 0.75
	DefaultLowThreshold  = 0.50
)

// Policy turns a match result into a decision and sets result.Matched.
type Policy interface {
	Decide(result *access.MatchResult) access.Decision
}

// SingleThreshold accepts at or above High and rejects everything else.
type SingleThreshold struct {
	High float64
}

func (p SingleThreshold) Decide(r *access.MatchResult) access.Decision {
	r.Matched = r.Candidates > 0 && r.BestScore >= p.High
	if r.Matched {
		return access.DecisionAccept
	}
	return access.DecisionReject
}

// ThreeWay buckets scores into accept (>= High), uncertain ([Low, High)) and
// reject (< Low). An empty candidate set means the probe should be enrolled.
type ThreeWay struct {
	High float64
	Low  float64
}

func (p ThreeWay) Decide(r *access.MatchResult) access.Decision {
	r.Matched = false
	switch {
	case r.Candidates == 0:
		return access.DecisionEnroll
	case r.BestScore >= p.High:
		r.Matched = true
		return access.DecisionAccept
	case r.BestScore >= p.Low:
		return access.DecisionUncertain
	default:
		return access.DecisionReject
	}
}
