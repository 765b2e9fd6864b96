package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/decapodlabs/decapod/internal/broker"
	"github.com/decapodlabs/decapod/internal/formatter"
	"github.com/decapodlabs/decapod/internal/proof"
	"github.com/decapodlabs/decapod/internal/rpi"
)

var proofCmd = &cobra.Command{
	Use:   "proof",
	Short: "Run the configured proof registry",
}

var proofRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute every proof in proofs.toml and append an audit event",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeRoot, projectRoot, err := resolveStoreRoot()
		if err != nil {
			return err
		}
		if routed, err := broker.MaybeRouteMutation(cmd.Context(), storeRoot, os.Args[1:]); routed {
			return err
		}

		actor := os.Getenv("DECAPOD_AGENT_ID")
		if actor == "" {
			actor = "cli"
		}

		summary, err := proof.Run(cmd.Context(), storeRoot, projectRoot, rpi.GenerateRunID(), actor)
		if err != nil {
			return err
		}

		if jsonOutput() {
			return formatter.WriteEnvelope(os.Stdout, summary, nil)
		}

		t := formatter.NewTable(os.Stdout, "NAME", "PASSED", "REQUIRED", "DURATION_MS")
		for _, r := range summary.Results {
			t.AddRow(r.Name, formatter.PassFail(r.Passed), boolStr(r.Required), fmt.Sprintf("%d", r.DurationMs))
		}
		if err := t.Render(); err != nil {
			return err
		}
		fmt.Printf("\n%d/%d passed, %d failed, %d skipped\n", summary.Passed, summary.Total, summary.Failed, summary.Skipped)
		if !summary.AllPassed {
			return fmt.Errorf("one or more required proofs failed")
		}
		return nil
	},
}

func boolStr(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func init() {
	proofCmd.AddCommand(proofRunCmd)
	rootCmd.AddCommand(proofCmd)
}
