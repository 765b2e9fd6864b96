package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/decapodlabs/decapod/internal/broker"
	"github.com/decapodlabs/decapod/internal/formatter"
	"github.com/decapodlabs/decapod/internal/governance"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan lifecycle: init, show, patch, ensure-execute-ready",
}

var (
	planTitle           string
	planIntent          string
	planForbiddenPaths  string
	planFileTouchBudget int
)

var planInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Seed a fresh DRAFT plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeRoot, _, err := resolveStoreRoot()
		if err != nil {
			return err
		}
		if routed, err := broker.MaybeRouteMutation(cmd.Context(), storeRoot, os.Args[1:]); routed {
			return err
		}

		plan, err := governance.InitPlan(governance.InitPlanInput{
			StoreRoot: storeRoot,
			Title:     planTitle,
			Intent:    planIntent,
			Constraints: governance.ScopeConstraints{
				ForbiddenPaths:  splitCSV(planForbiddenPaths),
				FileTouchBudget: planFileTouchBudget,
			},
		})
		if err != nil {
			return err
		}
		return printPlan(plan)
	},
}

var planShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeRoot, _, err := resolveStoreRoot()
		if err != nil {
			return err
		}
		plan, err := governance.LoadPlan(storeRoot)
		if err != nil {
			return err
		}
		return printPlan(plan)
	},
}

var (
	planPatchState          string
	planPatchTitle          string
	planPatchIntent         string
	planPatchTodoIDs        string
	planPatchProofHooks     string
	planPatchUnknowns       string
	planPatchHumanQuestions string
)

var planPatchCmd = &cobra.Command{
	Use:   "patch",
	Short: "Apply a partial update to the current plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeRoot, _, err := resolveStoreRoot()
		if err != nil {
			return err
		}
		if routed, err := broker.MaybeRouteMutation(cmd.Context(), storeRoot, os.Args[1:]); routed {
			return err
		}

		patch := governance.PlanPatch{}
		if cmd.Flags().Changed("title") {
			patch.Title = &planPatchTitle
		}
		if cmd.Flags().Changed("intent") {
			patch.Intent = &planPatchIntent
		}
		if cmd.Flags().Changed("state") {
			st := governance.PlanState(planPatchState)
			patch.State = &st
		}
		if cmd.Flags().Changed("todo-ids") {
			patch.TodoIDs = splitCSV(planPatchTodoIDs)
			if patch.TodoIDs == nil {
				patch.TodoIDs = []string{}
			}
		}
		if cmd.Flags().Changed("proof-hooks") {
			patch.ProofHooks = splitCSV(planPatchProofHooks)
			if patch.ProofHooks == nil {
				patch.ProofHooks = []string{}
			}
		}
		if cmd.Flags().Changed("unknowns") {
			patch.Unknowns = splitCSV(planPatchUnknowns)
			if patch.Unknowns == nil {
				patch.Unknowns = []string{}
			}
		}
		if cmd.Flags().Changed("human-questions") {
			patch.HumanQuestions = splitCSV(planPatchHumanQuestions)
			if patch.HumanQuestions == nil {
				patch.HumanQuestions = []string{}
			}
		}

		plan, err := governance.PatchPlan(storeRoot, patch)
		if err != nil {
			return err
		}
		return printPlan(plan)
	},
}

var ensureExecuteTodoID string

var planEnsureExecuteReadyCmd = &cobra.Command{
	Use:   "ensure-execute-ready",
	Short: "Check the pre-execution gate: APPROVED, fully specified, in-scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeRoot, projectRoot, err := resolveStoreRoot()
		if err != nil {
			return err
		}
		plan, err := governance.EnsureExecuteReady(cmd.Context(), governance.ExecuteCheckInput{
			ProjectRoot: projectRoot,
			StoreRoot:   storeRoot,
			TodoID:      ensureExecuteTodoID,
		})
		if err != nil {
			return err
		}
		return printPlan(plan)
	},
}

func printPlan(plan governance.GovernedPlan) error {
	if jsonOutput() {
		return formatter.WriteEnvelope(os.Stdout, plan, nil)
	}
	body, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func init() {
	planInitCmd.Flags().StringVar(&planTitle, "title", "", "Plan title")
	planInitCmd.Flags().StringVar(&planIntent, "intent", "", "Plan intent")
	planInitCmd.Flags().StringVar(&planForbiddenPaths, "forbidden-paths", "", "Comma-separated forbidden path prefixes")
	planInitCmd.Flags().IntVar(&planFileTouchBudget, "file-touch-budget", 0, "Max files an execution may touch (0 = unbounded)")

	planPatchCmd.Flags().StringVar(&planPatchTitle, "title", "", "New title")
	planPatchCmd.Flags().StringVar(&planPatchIntent, "intent", "", "New intent")
	planPatchCmd.Flags().StringVar(&planPatchState, "state", "", "New state: DRAFT|ANNOTATING|APPROVED|EXECUTING|DONE")
	planPatchCmd.Flags().StringVar(&planPatchTodoIDs, "todo-ids", "", "Comma-separated candidate todo ids")
	planPatchCmd.Flags().StringVar(&planPatchProofHooks, "proof-hooks", "", "Comma-separated proof hook names")
	planPatchCmd.Flags().StringVar(&planPatchUnknowns, "unknowns", "", "Comma-separated open unknowns")
	planPatchCmd.Flags().StringVar(&planPatchHumanQuestions, "human-questions", "", "Comma-separated open human questions")

	planEnsureExecuteReadyCmd.Flags().StringVar(&ensureExecuteTodoID, "todo-id", "", "Todo id to check (default: plan's first todo_id)")

	planCmd.AddCommand(planInitCmd, planShowCmd, planPatchCmd, planEnsureExecuteReadyCmd)
	governCmd.AddCommand(planCmd)
}
