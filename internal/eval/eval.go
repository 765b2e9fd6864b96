// Package eval implements variance-aware evaluation (C9): a strict judge
// JSON contract, bootstrap confidence-interval aggregation, and the
// promotion gate decision, grounded on the kernel's eval plugin.
package eval

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/decapodlabs/decapod/internal/artifacts"
	"github.com/decapodlabs/decapod/internal/interlock"
)

// JudgeVerdict is the strict contract a judge invocation must satisfy.
type JudgeVerdict struct {
	Success        bool    `json:"success"`
	Explanation    string  `json:"explanation"`
	FailureReason  *string `json:"failure_reason,omitempty"`
	ReachedCaptcha bool    `json:"reached_captcha"`
	ImpossibleTask bool    `json:"impossible_task"`
}

// ValidateJudgeJSON parses and validates a judge's raw output against the
// contract: well-formed JSON with a non-empty explanation.
func ValidateJudgeJSON(raw []byte) (JudgeVerdict, error) {
	var v JudgeVerdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return JudgeVerdict{}, interlock.Validation(
			"EVAL_JUDGE_JSON_CONTRACT_ERROR",
			"malformed judge JSON: "+err.Error(),
		)
	}
	if v.Explanation == "" {
		return JudgeVerdict{}, interlock.Validation(
			"EVAL_JUDGE_JSON_CONTRACT_ERROR",
			"explanation must be non-empty",
		)
	}
	return v, nil
}

// CheckJudgeTimeout reports EVAL_JUDGE_TIMEOUT if elapsed exceeds budget.
func CheckJudgeTimeout(elapsed, budget time.Duration) error {
	if elapsed > budget {
		return interlock.Validation(
			"EVAL_JUDGE_TIMEOUT",
			fmt.Sprintf("judge execution exceeded timeout (%dms > %dms)", elapsed.Milliseconds(), budget.Milliseconds()),
		)
	}
	return nil
}

// xorshift64 is the kernel's deterministic PRNG step for bootstrap resampling.
func xorshift64(x uint64) uint64 {
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	return x
}

// BootstrapDeltaCI computes the (2.5, 97.5) percentile confidence interval
// of candidate-minus-baseline mean score, resampling with replacement for
// `iterations` rounds from a PRNG seeded from max(seed, 1).
func BootstrapDeltaCI(baseline, candidate []float64, iterations int, seed uint64) (low, high float64) {
	nb, nc := len(baseline), len(candidate)
	if nb == 0 || nc == 0 || iterations == 0 {
		return 0, 0
	}

	state := seed
	if state == 0 {
		state = 1
	}
	samples := make([]float64, 0, iterations)

	for i := 0; i < iterations; i++ {
		var bSum, cSum float64
		for j := 0; j < nb; j++ {
			state = xorshift64(state)
			bSum += baseline[state%uint64(nb)]
		}
		for j := 0; j < nc; j++ {
			state = xorshift64(state)
			cSum += candidate[state%uint64(nc)]
		}
		samples = append(samples, (cSum/float64(nc))-(bSum/float64(nb)))
	}

	sort.Float64s(samples)
	lowIdx := int(math.Floor(float64(iterations) * 0.025))
	highIdx := int(math.Ceil(float64(iterations) * 0.975))
	if highIdx > iterations-1 {
		highIdx = iterations - 1
	}
	if lowIdx > highIdx {
		lowIdx = highIdx
	}
	return samples[lowIdx], samples[highIdx]
}

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// EvaluateGateDecision applies spec §4.7's promotion gate predicate,
// returning a typed EVAL_GATE_FAILED error naming the unmet condition.
func EvaluateGateDecision(agg artifacts.EvalAggregate, req artifacts.GateRequirement) error {
	if agg.Baseline.N < req.MinRuns {
		return interlock.Validation("EVAL_GATE_FAILED", fmt.Sprintf("baseline_n %d below min_runs %d", agg.Baseline.N, req.MinRuns))
	}
	if agg.Candidate.N < req.MinRuns {
		return interlock.Validation("EVAL_GATE_FAILED", fmt.Sprintf("candidate_n %d below min_runs %d", agg.Candidate.N, req.MinRuns))
	}
	if agg.BootstrapIterations <= 0 {
		return interlock.Validation("EVAL_GATE_FAILED", "bootstrap_iterations must be > 0")
	}
	if agg.Baseline.JudgeTimeoutFailures > 0 || agg.Candidate.JudgeTimeoutFailures > 0 {
		return interlock.Validation("EVAL_GATE_FAILED", "judge_timeout_failures must be 0")
	}
	if agg.CIHigh < -req.MaxRegression {
		return interlock.Validation("EVAL_GATE_FAILED", fmt.Sprintf("ci_high %.4f below -max_regression %.4f", agg.CIHigh, -req.MaxRegression))
	}
	return nil
}
