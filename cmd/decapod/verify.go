package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/decapodlabs/decapod/internal/broker"
	"github.com/decapodlabs/decapod/internal/formatter"
	"github.com/decapodlabs/decapod/internal/verify"
)

var (
	verifyStale        bool
	verifyCapture      bool
	verifyCaptureFiles []string
)

var verifyCmd = &cobra.Command{
	Use:   "verify [task-id]",
	Short: "Re-run and re-check done tasks' recorded proofs",
	Long: `Without a task id, re-verifies every task with status=done. With one,
verifies only that task. --stale instead lists done tasks whose last
verification has aged past its verification_policy_days without
re-running anything. --capture <task-id> records a fresh baseline
(proof_plan + verification_artifacts) for a done task instead of replaying
an existing one — run it once after marking a task done, before the first
"decapod verify <task-id>".`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		storeRoot, projectRoot, err := resolveStoreRoot()
		if err != nil {
			return err
		}

		if verifyCapture {
			if len(args) != 1 {
				return fmt.Errorf("--capture requires exactly one task id")
			}
			if routed, err := broker.MaybeRouteMutation(cmd.Context(), storeRoot, os.Args[1:]); routed {
				return err
			}
			artifacts, err := verify.Capture(cmd.Context(), storeRoot, projectRoot, args[0], verifyCaptureFiles)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return formatter.WriteEnvelope(os.Stdout, artifacts, nil)
			}
			fmt.Printf("captured verification baseline for %s\n", args[0])
			return nil
		}

		if verifyStale {
			stale, err := verify.Stale(cmd.Context(), storeRoot)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return formatter.WriteEnvelope(os.Stdout, stale, nil)
			}
			t := formatter.NewTable(os.Stdout, "TASK_ID", "LAST_VERIFIED_AT", "POLICY_DAYS")
			for _, s := range stale {
				t.AddRow(s.TaskID, s.LastVerifiedAt, fmt.Sprintf("%d", s.VerificationPolicyDays))
			}
			return t.Render()
		}

		if routed, err := broker.MaybeRouteMutation(cmd.Context(), storeRoot, os.Args[1:]); routed {
			return err
		}

		singleID := ""
		if len(args) == 1 {
			singleID = args[0]
		}
		report, err := verify.Run(cmd.Context(), storeRoot, projectRoot, singleID)
		if err != nil {
			return err
		}

		if jsonOutput() {
			if err := formatter.WriteEnvelope(os.Stdout, report, nil); err != nil {
				return err
			}
		} else {
			t := formatter.NewTable(os.Stdout, "TASK_ID", "STATUS", "NOTES")
			for _, r := range report.Results {
				t.AddRow(r.TaskID, formatter.Status(r.Status), r.Notes)
			}
			if err := t.Render(); err != nil {
				return err
			}
			fmt.Printf("\n%d total, %d passed, %d failed, %d unknown, %d stale\n",
				report.Summary.Total, report.Summary.Passed, report.Summary.Failed, report.Summary.Unknown, report.Summary.Stale)
		}
		if report.Summary.Failed > 0 {
			return fmt.Errorf("verify found %d failed task(s)", report.Summary.Failed)
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyStale, "stale", false, "List stale done tasks instead of re-verifying")
	verifyCmd.Flags().BoolVar(&verifyCapture, "capture", false, "Record a fresh verification baseline for a done task")
	verifyCmd.Flags().StringArrayVar(&verifyCaptureFiles, "file", nil, "File artifact to hash into the baseline (repeatable, used with --capture)")
	rootCmd.AddCommand(verifyCmd)
}
