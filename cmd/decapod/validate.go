package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/decapodlabs/decapod/internal/formatter"
	"github.com/decapodlabs/decapod/internal/validate"
)

var validateSkipWorkspace bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run structural/integrity gates over .decapod/",
	Long: `Runs the full post-hoc validation suite (C8): store layout, the git
whitelist, the workspace/session gate, event log integrity, workunit
proof results and capsule lineage, context capsule hashes, the capsule policy contract,
knowledge promotions, skill cards, internalization manifests, and the
eval gate — never halting on the first failure so the whole report is
visible in one pass.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		storeRoot, projectRoot, err := resolveStoreRoot()
		if err != nil {
			return err
		}

		report := validate.Run(cmd.Context(), validate.Options{
			ProjectRoot:       projectRoot,
			StoreRoot:         storeRoot,
			SkipWorkspace:     validateSkipWorkspace,
			ProtectedBranches: protectedBranches(),
		})

		if jsonOutput() {
			if err := formatter.WriteEnvelope(os.Stdout, report, nil); err != nil {
				return err
			}
		} else {
			t := formatter.NewTable(os.Stdout, "GATE", "PASSED", "MESSAGE")
			for _, g := range report.Gates {
				t.AddRow(g.Code, formatter.PassFail(g.Passed), g.Message)
			}
			if err := t.Render(); err != nil {
				return err
			}
		}
		if !report.Passed {
			return fmt.Errorf("validate failed: one or more gates did not pass")
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateSkipWorkspace, "skip-workspace", false, "Skip the protected-branch session gate")
	rootCmd.AddCommand(validateCmd)
}
