package main

import "github.com/spf13/cobra"

var governCmd = &cobra.Command{
	Use:   "govern",
	Short: "Plan, workunit, task, and context-capsule governance",
	Long: `Governance state machine (C6): a plan moves DRAFT -> ANNOTATING ->
APPROVED -> EXECUTING -> DONE, and each unit of work tracked against it
(a workunit) moves DRAFT -> ACTIVE -> VERIFIED -> PUBLISHED, each
transition gated on the guards named in the governance component design.

Subcommands:
  plan      Plan lifecycle: init, show, patch, ensure-execute-ready
  workunit  Workunit manifests: init, show, advance
  task      Todo store: add, list, done
  capsule   Deterministic, policy-bound context capsule queries`,
}

func init() {
	rootCmd.AddCommand(governCmd)
}
