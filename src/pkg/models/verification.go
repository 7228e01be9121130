package models

import "time"

// Check is the outcome of a single smoke check
type Check struct {
	Name       string  `json:"name"`
	Passed     bool    `json:"passed"`
	Detail     string  `json:"detail"`
	StatusCode int     `json:"statusCode,omitempty"`
	DurationMs float64 `json:"durationMs"`
}

// VerificationResult aggregates every check of one verify call
type VerificationResult struct {
	BaseURL    string    `json:"baseUrl"`
	Passed     bool      `json:"passed"`
	Checks     []Check   `json:"checks"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Failures returns the checks that did not pass
func (v *VerificationResult) Failures() []Check {
	var failed []Check
	for _, c := range v.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// BurstResult summarizes a concurrent request batch against one path
type BurstResult struct {
	Path          string  `json:"path"`
	Requests      int     `json:"requests"`
	Errors        int     `json:"errors"`
	MinResponseMs float64 `json:"minResponseMs"`
	AvgResponseMs float64 `json:"avgResponseMs"`
	MaxResponseMs float64 `json:"maxResponseMs"`
}
