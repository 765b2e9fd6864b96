package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/decapodlabs/decapod/internal/broker"
	"github.com/decapodlabs/decapod/internal/capsule"
	"github.com/decapodlabs/decapod/internal/formatter"
)

var capsuleCmd = &cobra.Command{
	Use:   "capsule",
	Short: "Deterministic, policy-bound context capsule queries",
}

var (
	capsuleTopic      string
	capsuleScope      string
	capsuleTier       string
	capsuleLimit      int
	capsuleTaskID     string
	capsuleWorkunitID string
	capsuleWrite      bool
)

var capsuleQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Resolve policy for --scope and assemble a context capsule",
	Long: `Resolves the requested scope and risk tier against the capsule
policy contract (generated default, or a repo-owned override), clamps
the requested limit to the tier's max_limit, and assembles a
deterministic, content-addressed capsule over the scope's sources.
With --write, the capsule is also persisted under
.decapod/generated/context/<task-id>.json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		storeRoot, projectRoot, err := resolveStoreRoot()
		if err != nil {
			return err
		}
		if capsuleWrite {
			if routed, err := broker.MaybeRouteMutation(cmd.Context(), storeRoot, os.Args[1:]); routed {
				return err
			}
		}

		resolved, err := capsule.Resolve(cmd.Context(), capsule.ResolveRequest{
			ProjectRoot:    projectRoot,
			RequestedScope: capsuleScope,
			RequestedTier:  capsuleTier,
			RequestedLimit: capsuleLimit,
			Write:          capsuleWrite,
		})
		if err != nil {
			return err
		}

		c, err := capsule.Query(cmd.Context(), capsule.QueryRequest{
			ProjectRoot:    projectRoot,
			Topic:          capsuleTopic,
			Scope:          capsuleScope,
			RequestedTier:  resolved.Binding.RiskTier,
			RequestedLimit: resolved.EffectiveLimit,
			TaskID:         capsuleTaskID,
			WorkunitID:     capsuleWorkunitID,
			Write:          capsuleWrite,
		})
		if err != nil {
			return err
		}
		c.Policy = resolved.Binding

		if capsuleWrite {
			if capsuleTaskID == "" {
				return fmt.Errorf("--write requires --task-id")
			}
			if _, err := capsule.Persist(projectRoot, capsuleTaskID, c); err != nil {
				return err
			}
		}

		if jsonOutput() {
			return formatter.WriteEnvelope(os.Stdout, c, nil)
		}
		body, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}

func init() {
	capsuleQueryCmd.Flags().StringVar(&capsuleTopic, "topic", "", "Free-text topic label carried in the capsule")
	capsuleQueryCmd.Flags().StringVar(&capsuleScope, "scope", "", "Scope to read: core|interfaces|plugins")
	capsuleQueryCmd.Flags().StringVar(&capsuleTier, "tier", "", "Risk tier (default: policy contract default)")
	capsuleQueryCmd.Flags().IntVar(&capsuleLimit, "limit", 1, "Requested source/snippet limit, clamped to the tier's max")
	capsuleQueryCmd.Flags().StringVar(&capsuleTaskID, "task-id", "", "Task id this capsule is scoped to")
	capsuleQueryCmd.Flags().StringVar(&capsuleWorkunitID, "workunit-id", "", "Workunit id this capsule is scoped to")
	capsuleQueryCmd.Flags().BoolVar(&capsuleWrite, "write", false, "Persist the capsule under generated/context/<task-id>.json")

	capsuleCmd.AddCommand(capsuleQueryCmd)
	governCmd.AddCommand(capsuleCmd)
}
