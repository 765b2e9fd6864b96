package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/decapodlabs/decapod/internal/artifacts"
	"github.com/decapodlabs/decapod/internal/eval"
	"github.com/decapodlabs/decapod/internal/formatter"
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Judge-verdict validation and gated eval comparisons",
}

var evalValidateJudgeCmd = &cobra.Command{
	Use:   "validate-judge <file>",
	Short: "Validate a judge verdict document against the JSON contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		verdict, err := eval.ValidateJudgeJSON(raw)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return formatter.WriteEnvelope(os.Stdout, verdict, nil)
		}
		fmt.Printf("success=%v reached_captcha=%v impossible_task=%v\n", verdict.Success, verdict.ReachedCaptcha, verdict.ImpossibleTask)
		return nil
	},
}

var (
	evalJudgeBudgetSecs  float64
	evalJudgeElapsedSecs float64
)

var evalJudgeTimeoutCmd = &cobra.Command{
	Use:   "judge-timeout",
	Short: "Check a recorded judge call's elapsed time against its budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		elapsed := time.Duration(evalJudgeElapsedSecs * float64(time.Second))
		budget := time.Duration(evalJudgeBudgetSecs * float64(time.Second))
		if err := eval.CheckJudgeTimeout(elapsed, budget); err != nil {
			return err
		}
		if jsonOutput() {
			return formatter.WriteEnvelope(os.Stdout, map[string]bool{"within_budget": true}, nil)
		}
		fmt.Println("within budget")
		return nil
	},
}

var (
	evalBootstrapBaseline  string
	evalBootstrapCandidate string
	evalBootstrapIters     int
	evalBootstrapSeed      int64
)

var evalBootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Compute a bootstrap confidence interval over baseline/candidate deltas",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseline, err := parseFloats(evalBootstrapBaseline)
		if err != nil {
			return fmt.Errorf("parsing --baseline: %w", err)
		}
		candidate, err := parseFloats(evalBootstrapCandidate)
		if err != nil {
			return fmt.Errorf("parsing --candidate: %w", err)
		}
		low, high := eval.BootstrapDeltaCI(baseline, candidate, evalBootstrapIters, uint64(evalBootstrapSeed))
		if jsonOutput() {
			return formatter.WriteEnvelope(os.Stdout, map[string]float64{"ci_low": low, "ci_high": high}, nil)
		}
		fmt.Printf("ci_low=%.4f ci_high=%.4f\n", low, high)
		return nil
	},
}

var (
	evalGateMinRuns       int
	evalGateMaxRegression float64
)

var evalGateCmd = &cobra.Command{
	Use:   "gate <aggregate.json>",
	Short: "Decide whether a recorded eval aggregate passes the promotion gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		var agg artifacts.EvalAggregate
		if err := json.Unmarshal(raw, &agg); err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}
		req := artifacts.GateRequirement{
			AggregatePath: args[0],
			MinRuns:       evalGateMinRuns,
			MaxRegression: evalGateMaxRegression,
		}
		decisionErr := eval.EvaluateGateDecision(agg, req)
		passes := artifacts.EvalGatePasses(agg, req)

		if jsonOutput() {
			result := map[string]interface{}{"passes": passes}
			return formatter.WriteEnvelope(os.Stdout, result, decisionErr)
		}
		if decisionErr != nil {
			return decisionErr
		}
		fmt.Println("gate passes")
		return nil
	},
}

func parseFloats(csv string) ([]float64, error) {
	parts := splitCSV(csv)
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func init() {
	evalJudgeTimeoutCmd.Flags().Float64Var(&evalJudgeElapsedSecs, "elapsed-seconds", 0, "Observed judge call duration")
	evalJudgeTimeoutCmd.Flags().Float64Var(&evalJudgeBudgetSecs, "budget-seconds", 30, "Allowed judge call duration")

	evalBootstrapCmd.Flags().StringVar(&evalBootstrapBaseline, "baseline", "", "Comma-separated baseline scores")
	evalBootstrapCmd.Flags().StringVar(&evalBootstrapCandidate, "candidate", "", "Comma-separated candidate scores")
	evalBootstrapCmd.Flags().IntVar(&evalBootstrapIters, "iterations", 400, "Bootstrap resample iterations")
	evalBootstrapCmd.Flags().Int64Var(&evalBootstrapSeed, "seed", 1, "Deterministic PRNG seed")

	evalGateCmd.Flags().IntVar(&evalGateMinRuns, "min-runs", 5, "Minimum runs required per variant")
	evalGateCmd.Flags().Float64Var(&evalGateMaxRegression, "max-regression", 0.0, "Maximum tolerated regression")

	evalCmd.AddCommand(evalValidateJudgeCmd, evalJudgeTimeoutCmd, evalBootstrapCmd, evalGateCmd)
	rootCmd.AddCommand(evalCmd)
}
