package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gh-nvat/bluegreen/src/pkg/config"
	"github.com/open-policy-agent/opa/rego"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "policy")

const (
	POLICY_STATUS_PASS  = "PASS"
	POLICY_STATUS_FAIL  = "FAIL"
	POLICY_STATUS_ERROR = "ERROR"

	POLICY_LEVEL_DISABLED  = "DISABLED"
	POLICY_LEVEL_RECOMMEND = "RECOMMEND"
	POLICY_LEVEL_WARNING   = "WARNING"
	POLICY_LEVEL_BLOCK     = "BLOCK"

	DENY_QUERY = "data.deployment.deny"
)

// Plan is the input document handed to every preflight policy
type Plan struct {
	Group            string    `json:"group"`
	Color            string    `json:"color"`
	Version          string    `json:"version"`
	Commit           string    `json:"commit"`
	Branch           string    `json:"branch"`
	Dirty            bool      `json:"dirty"`
	SkipTests        bool      `json:"skipTests"`
	SkipVerification bool      `json:"skipVerification"`
	AutoSwitch       bool      `json:"autoSwitch"`
	Force            bool      `json:"force"`
	Time             time.Time `json:"time"`
}

// PolicyEvaluator defines the interface for policy evaluation operations
type PolicyEvaluator interface {
	// Validate checks that every configured policy file exists
	Validate(cfg config.PolicyConfig) error
	// Evaluate evaluates all policies against the deployment plan
	Evaluate(ctx context.Context, plan Plan, cfg config.PolicyConfig) (*config.EvaluationResult, error)
	// Enforce determines if the evaluation result should block the deployment
	Enforce(result *config.EvaluationResult, overrides map[string]bool) *config.EnforcementResult
	// ApplyOverrides applies policy overrides to the evaluation result
	ApplyOverrides(result *config.EvaluationResult, overrides map[string]bool)
}

// Evaluator handles policy evaluation
type Evaluator struct {
	now func() time.Time
}

// Ensure Evaluator implements PolicyEvaluator
var _ PolicyEvaluator = (*Evaluator)(nil)

// NewEvaluator creates a new policy evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{now: time.Now}
}

// Validate checks that every configured policy file exists
func (e *Evaluator) Validate(cfg config.PolicyConfig) error {
	for id, policy := range cfg.Policies {
		policyPath := filepath.Join(cfg.Dir, policy.FilePath)
		if !strings.HasSuffix(policyPath, ".rego") && !strings.HasSuffix(policyPath, ".opa") {
			return fmt.Errorf("policy %s: unsupported file extension (must be .rego or .opa)", id)
		}
		if _, err := os.Stat(policyPath); os.IsNotExist(err) {
			return fmt.Errorf("policy %s: file not found: %s", id, policyPath)
		}
	}
	return nil
}

// Evaluate evaluates all policies against the deployment plan
func (e *Evaluator) Evaluate(ctx context.Context, plan Plan, cfg config.PolicyConfig) (*config.EvaluationResult, error) {
	result := &config.EvaluationResult{
		TotalPolicies: len(cfg.Policies),
		PolicyResults: make([]config.PolicyResult, 0, len(cfg.Policies)),
	}

	input, err := planInput(plan)
	if err != nil {
		return nil, fmt.Errorf("failed to encode deployment plan: %w", err)
	}

	// stable order for reports
	ids := make([]string, 0, len(cfg.Policies))
	for id := range cfg.Policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		policyResult := e.evaluatePolicy(ctx, id, cfg.Policies[id], input, cfg.Dir)
		result.PolicyResults = append(result.PolicyResults, policyResult)

		switch policyResult.Status {
		case POLICY_STATUS_PASS:
			result.PassedPolicies++
		case POLICY_STATUS_FAIL:
			result.FailedPolicies++
		case POLICY_STATUS_ERROR:
			result.ErroredPolicies++
		}
	}

	return result, nil
}

// planInput round-trips the plan through JSON so rego sees the json field names
func planInput(plan Plan) (map[string]interface{}, error) {
	data, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}
	var input map[string]interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}
	return input, nil
}

// evaluatePolicy evaluates a single policy against the plan
func (e *Evaluator) evaluatePolicy(ctx context.Context, id string, policy config.PolicyRule, input map[string]interface{}, policiesPath string) config.PolicyResult {
	result := config.PolicyResult{
		PolicyID:   id,
		PolicyName: policy.Name,
		Status:     POLICY_STATUS_PASS,
		Violations: []string{},
	}

	result.Level = e.determineEnforcementLevel(policy.Enforcement)
	if result.Level == POLICY_LEVEL_DISABLED {
		return result
	}

	policyPath := filepath.Join(policiesPath, policy.FilePath)
	policyContent, err := os.ReadFile(policyPath)
	if err != nil {
		result.Status = POLICY_STATUS_ERROR
		result.Error = fmt.Sprintf("Failed to read policy file: %v", err)
		return result
	}

	violations, err := evaluateWithOPA(ctx, filepath.Base(policyPath), policyContent, input)
	if err != nil {
		result.Status = POLICY_STATUS_ERROR
		result.Error = fmt.Sprintf("Policy evaluation failed: %v", err)
		return result
	}
	result.Violations = append(result.Violations, violations...)

	if len(result.Violations) > 0 {
		result.Status = POLICY_STATUS_FAIL
	}
	logger.WithField("policy", id).WithField("status", result.Status).Debug("Policy evaluated")

	return result
}

// evaluateWithOPA runs the deny query of one module
func evaluateWithOPA(ctx context.Context, name string, policyContent []byte, input map[string]interface{}) ([]string, error) {
	query, err := rego.New(
		rego.Query(DENY_QUERY),
		rego.Module(name, string(policyContent)),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare OPA query: %w", err)
	}

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	var violations []string
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		if denySet, ok := results[0].Expressions[0].Value.([]interface{}); ok {
			for _, v := range denySet {
				if msg, ok := v.(string); ok {
					violations = append(violations, msg)
				}
			}
		}
	}
	sort.Strings(violations)

	return violations, nil
}

// determineEnforcementLevel determines the current enforcement level based on time
func (e *Evaluator) determineEnforcementLevel(enforcement config.EnforcementConfig) string {
	now := e.now()

	if enforcement.InEffectAfter != nil && now.Before(*enforcement.InEffectAfter) {
		return POLICY_LEVEL_DISABLED
	}
	if enforcement.IsBlockingAfter != nil && !now.Before(*enforcement.IsBlockingAfter) {
		return POLICY_LEVEL_BLOCK
	}
	if enforcement.IsWarningAfter != nil && !now.Before(*enforcement.IsWarningAfter) {
		return POLICY_LEVEL_WARNING
	}
	if enforcement.InEffectAfter != nil {
		return POLICY_LEVEL_RECOMMEND
	}

	return POLICY_LEVEL_DISABLED
}

// Overrides turns policy ids passed on the command line into an override set
func Overrides(ids []string) map[string]bool {
	overrides := make(map[string]bool, len(ids))
	for _, id := range ids {
		overrides[strings.TrimSpace(id)] = true
	}
	return overrides
}

// Enforce determines the enforcement action based on results and overrides
func (e *Evaluator) Enforce(result *config.EvaluationResult, overrides map[string]bool) *config.EnforcementResult {
	enforcement := &config.EnforcementResult{}

	blockingCount := 0
	warningCount := 0

	for _, pr := range result.PolicyResults {
		// an unreadable or broken blocking policy blocks as well
		if pr.Status == POLICY_STATUS_PASS || overrides[pr.PolicyID] {
			continue
		}

		switch pr.Level {
		case POLICY_LEVEL_BLOCK:
			blockingCount++
			enforcement.ShouldBlock = true
		case POLICY_LEVEL_WARNING:
			warningCount++
			enforcement.ShouldWarn = true
		}
	}

	if blockingCount > 0 {
		enforcement.Summary = fmt.Sprintf("%d blocking policy failure(s)", blockingCount)
	} else if warningCount > 0 {
		enforcement.Summary = fmt.Sprintf("%d warning policy failure(s)", warningCount)
	} else {
		enforcement.Summary = "All checks passed"
	}

	return enforcement
}

// ApplyOverrides applies overrides to policy results
func (e *Evaluator) ApplyOverrides(result *config.EvaluationResult, overrides map[string]bool) {
	for i := range result.PolicyResults {
		if overrides[result.PolicyResults[i].PolicyID] {
			result.PolicyResults[i].Overridden = true
		}
	}
}
