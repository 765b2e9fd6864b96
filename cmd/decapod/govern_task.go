package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/decapodlabs/decapod/internal/broker"
	"github.com/decapodlabs/decapod/internal/formatter"
	"github.com/decapodlabs/decapod/internal/governance"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Todo store: add, list, done",
	Long: `The todo store (data/todo.db) is what plan.todo_ids and a workunit's
task_id reference, and what verify's staleness scan walks looking for
tasks marked done without a recorded, still-fresh proof.`,
}

var taskAddCmd = &cobra.Command{
	Use:   "add <id> <title>",
	Short: "Add a new open task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		storeRoot, _, err := resolveStoreRoot()
		if err != nil {
			return err
		}
		if routed, err := broker.MaybeRouteMutation(cmd.Context(), storeRoot, os.Args[1:]); routed {
			return err
		}
		if err := governance.CreateTask(cmd.Context(), storeRoot, args[0], args[1]); err != nil {
			return err
		}
		if jsonOutput() {
			return formatter.WriteEnvelope(os.Stdout, map[string]string{"id": args[0], "status": "open"}, nil)
		}
		fmt.Printf("task %s added\n", args[0])
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every task",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeRoot, _, err := resolveStoreRoot()
		if err != nil {
			return err
		}
		tasks, err := governance.ListTasks(cmd.Context(), storeRoot)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return formatter.WriteEnvelope(os.Stdout, tasks, nil)
		}
		t := formatter.NewTable(os.Stdout, "ID", "STATUS", "TITLE")
		for _, task := range tasks {
			t.AddRow(task.ID, formatter.Status(task.Status), task.Title)
		}
		return t.Render()
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		storeRoot, _, err := resolveStoreRoot()
		if err != nil {
			return err
		}
		if routed, err := broker.MaybeRouteMutation(cmd.Context(), storeRoot, os.Args[1:]); routed {
			return err
		}
		if err := governance.SetTaskStatus(cmd.Context(), storeRoot, args[0], "done"); err != nil {
			return err
		}
		if jsonOutput() {
			return formatter.WriteEnvelope(os.Stdout, map[string]string{"id": args[0], "status": "done"}, nil)
		}
		fmt.Printf("task %s marked done — run `decapod verify --capture %s` to record a baseline proof\n", args[0], args[0])
		return nil
	},
}

func init() {
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskDoneCmd)
	governCmd.AddCommand(taskCmd)
}
