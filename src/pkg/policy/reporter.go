package policy

import (
	"fmt"
	"strings"

	"github.com/gh-nvat/bluegreen/src/pkg/config"
)

// Report summarizes an evaluation for operators
type Report struct {
	TotalPolicies     int
	PassedPolicies    int
	FailedPolicies    int
	ErroredPolicies   int
	BlockingFailures  int
	WarningFailures   int
	RecommendFailures int
	Details           []Detail
}

// Detail represents a single policy line in the report
type Detail struct {
	Name       string
	Status     string
	Level      string
	Overridden bool
	Error      string
	Violations []string
}

// Reporter generates policy evaluation reports
type Reporter struct{}

// NewReporter creates a new policy reporter
func NewReporter() *Reporter {
	return &Reporter{}
}

// GenerateReport generates a policy report from evaluation results
func (r *Reporter) GenerateReport(result *config.EvaluationResult) *Report {
	report := &Report{
		TotalPolicies:   result.TotalPolicies,
		PassedPolicies:  result.PassedPolicies,
		FailedPolicies:  result.FailedPolicies,
		ErroredPolicies: result.ErroredPolicies,
		Details:         make([]Detail, 0, len(result.PolicyResults)),
	}

	for _, pr := range result.PolicyResults {
		if pr.Status == POLICY_STATUS_FAIL && !pr.Overridden {
			switch pr.Level {
			case POLICY_LEVEL_BLOCK:
				report.BlockingFailures++
			case POLICY_LEVEL_WARNING:
				report.WarningFailures++
			case POLICY_LEVEL_RECOMMEND:
				report.RecommendFailures++
			}
		}

		report.Details = append(report.Details, Detail{
			Name:       pr.PolicyName,
			Status:     pr.Status,
			Level:      pr.Level,
			Overridden: pr.Overridden,
			Error:      pr.Error,
			Violations: pr.Violations,
		})
	}

	return report
}

// Lines renders the report as operator output, one policy per line
func (rep *Report) Lines() []string {
	lines := []string{fmt.Sprintf("🛡️  Preflight policies: %d/%d passed", rep.PassedPolicies, rep.TotalPolicies)}
	for _, d := range rep.Details {
		if d.Status == POLICY_STATUS_PASS {
			continue
		}
		icon := "⚠️ "
		switch {
		case d.Overridden:
			icon = "⏭️ "
		case d.Level == POLICY_LEVEL_BLOCK:
			icon = "❌"
		case d.Level == POLICY_LEVEL_RECOMMEND:
			icon = "💡"
		}
		line := fmt.Sprintf("   %s %s [%s]", icon, d.Name, d.Level)
		if d.Overridden {
			line += " (overridden)"
		}
		if d.Error != "" {
			line += ": " + d.Error
		} else if len(d.Violations) > 0 {
			line += ": " + strings.Join(d.Violations, "; ")
		}
		lines = append(lines, line)
	}
	return lines
}
