package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/decapodlabs/decapod/internal/goals"
)

var goalsDriftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Compare snapshots for regressions",
	RunE: func(cmd *cobra.Command, args []string) error {
		gf, err := goals.LoadGoals(goalsFile)
		if err != nil {
			return fmt.Errorf("loading goals: %w", err)
		}

		timeout := time.Duration(goalsTimeout) * time.Second

		latest, err := goals.LoadLatestSnapshot(goalsSnapshotDir)
		if err != nil {
			snap := goals.Measure(gf, timeout)
			if _, saveErr := goals.SaveSnapshot(snap, goalsSnapshotDir); saveErr != nil {
				fmt.Fprintf(os.Stderr, "warning: could not save snapshot: %v\n", saveErr)
			}
			fmt.Println("no baseline snapshot found; created initial snapshot")
			fmt.Printf("Score: %.1f%% (%d/%d passing)\n", snap.Summary.Score, snap.Summary.Passing, snap.Summary.Total)
			return nil
		}

		current := goals.Measure(gf, timeout)
		if _, saveErr := goals.SaveSnapshot(current, goalsSnapshotDir); saveErr != nil {
			fmt.Fprintf(os.Stderr, "warning: could not save snapshot: %v\n", saveErr)
		}

		drifts := goals.ComputeDrift(latest, current)

		if goalsJSON || jsonOutput() {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(drifts)
		}

		regressions, improvements := 0, 0
		for _, d := range drifts {
			switch d.Delta {
			case "regressed":
				regressions++
			case "improved":
				improvements++
			}
		}

		fmt.Printf("Drift: %d regressions, %d improvements, %d unchanged\n\n",
			regressions, improvements, len(drifts)-regressions-improvements)

		if regressions > 0 || improvements > 0 {
			fmt.Printf("%-30s %-10s %-6s   %-6s\n", "GOAL", "DELTA", "BEFORE", "AFTER")
			fmt.Printf("%-30s %-10s %-6s   %-6s\n", "----", "-----", "------", "-----")
			for _, d := range drifts {
				if d.Delta == "unchanged" {
					continue
				}
				id := d.GoalID
				if len(id) > 30 {
					id = id[:27] + "..."
				}
				fmt.Printf("%-30s %-10s %-6s -> %-6s\n", id, d.Delta, d.Before, d.After)
			}
			fmt.Println()
		}

		fmt.Printf("Baseline: %.1f%% -> Current: %.1f%%\n", latest.Summary.Score, current.Summary.Score)
		return nil
	},
}

func init() {
	goalsCmd.AddCommand(goalsDriftCmd)
}
