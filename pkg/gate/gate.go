// Package gate implements the quality gate: a pure pass/fail decision over a
// precomputed quality check and configured thresholds. The gate fails closed;
// missing data is never treated as a pass.
package gate

import (
	"fmt"

	"github.com/shiprail/rollout/pkg/deploy"
)

// ReasonNoQualityData is reported when a check is required but unavailable.
const ReasonNoQualityData = "no-quality-data"

// Result is the outcome of a gate evaluation.
type Result struct {
	Passed  bool     `json:"passed"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// Evaluate decides pass/fail for a quality check against thresholds. It is
// deterministic and side-effect free. A nil check fails when the config
// requires one; blockers force a failure regardless of the numeric score.
func Evaluate(check *deploy.QualityCheck, thresholds deploy.QualityThresholds) Result {
	if check == nil {
		if thresholds.RequireCheck {
			return Result{Passed: false, Reasons: []string{ReasonNoQualityData}}
		}
		return Result{Passed: true}
	}

	result := Result{Score: check.Score}

	for _, blocker := range check.Blockers {
		result.Reasons = append(result.Reasons, fmt.Sprintf("blocker:%s", blocker))
	}
	if check.Score < thresholds.MinScore {
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("score %.1f below threshold %.1f", check.Score, thresholds.MinScore))
	}

	result.Passed = len(result.Reasons) == 0
	return result
}

// MeetsThreshold reports whether a check satisfies a minimum score with no
// blockers. Used by canary promotion, which applies the step threshold
// rather than the pre-deploy gate threshold.
func MeetsThreshold(check *deploy.QualityCheck, minScore float64) bool {
	if check == nil {
		return minScore <= 0
	}
	return len(check.Blockers) == 0 && check.Score >= minScore
}
