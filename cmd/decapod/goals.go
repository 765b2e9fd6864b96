package main

import "github.com/spf13/cobra"

var goalsCmd = &cobra.Command{
	Use:   "goals",
	Short: "Fitness goal measurement and drift",
	Long: `Track, measure, and compare project fitness goals (C12): each goal
in GOALS.yaml runs as a bounded subprocess and its pass/fail (or
continuous metric) rolls up into a weighted score snapshot.

Measurement:
  measure   Run goal checks and produce a snapshot
  drift     Compare the latest two snapshots for regressions`,
}

var (
	goalsFile    string // --file, default "GOALS.yaml"
	goalsJSON    bool   // --json
	goalsTimeout int    // --timeout in seconds, default 30
)

const goalsSnapshotDir = ".decapod/generated/goals/snapshots"

func init() {
	goalsCmd.PersistentFlags().StringVar(&goalsFile, "file", "GOALS.yaml", "Path to goals file")
	goalsCmd.PersistentFlags().BoolVar(&goalsJSON, "json", false, "Output as JSON")
	goalsCmd.PersistentFlags().IntVar(&goalsTimeout, "timeout", 30, "Check timeout in seconds")
	rootCmd.AddCommand(goalsCmd)
}
