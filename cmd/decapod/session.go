package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/decapodlabs/decapod/internal/broker"
	"github.com/decapodlabs/decapod/internal/formatter"
	"github.com/decapodlabs/decapod/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Acquire/close a mutation lease on a protected branch",
	Long: `A session is a lease that lets one agent mutate a protected branch
(main/master by default) without every command requiring its own human
approval; it has no expiry and lasts until it is closed. Acquire prints the session's
password exactly once — it is never recoverable from the on-disk
record afterward.`,
}

var sessionAgentID string
var sessionUseWorktree bool

var sessionAcquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Acquire a new session",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeRoot, projectRoot, err := resolveStoreRoot()
		if err != nil {
			return err
		}
		if routed, err := broker.MaybeRouteMutation(cmd.Context(), storeRoot, os.Args[1:]); routed {
			return err
		}

		agentID := sessionAgentID
		if agentID == "" {
			agentID = os.Getenv("DECAPOD_AGENT_ID")
		}

		s, password, err := session.Acquire(cmd.Context(), session.AcquireInput{
			StoreRoot:   storeRoot,
			ProjectRoot: projectRoot,
			AgentID:     agentID,
			UseWorktree: sessionUseWorktree,
			GitTimeout:  gitTimeout(),
		})
		if err != nil {
			return err
		}

		if jsonOutput() {
			return formatter.WriteEnvelope(os.Stdout, map[string]string{
				"id":       s.ID,
				"branch":   s.Branch,
				"password": password,
			}, nil)
		}
		fmt.Printf("session %s acquired on branch %q\n", s.ID, s.Branch)
		fmt.Printf("password (record this now, it will not be shown again): %s\n", password)
		fmt.Println("export DECAPOD_SESSION_PASSWORD=" + password)
		return nil
	},
}

var sessionCloseCmd = &cobra.Command{
	Use:   "close <session-id>",
	Short: "Close an acquired session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		storeRoot, projectRoot, err := resolveStoreRoot()
		if err != nil {
			return err
		}
		if routed, err := broker.MaybeRouteMutation(cmd.Context(), storeRoot, os.Args[1:]); routed {
			return err
		}

		if err := session.Close(storeRoot, projectRoot, args[0], gitTimeout()); err != nil {
			return err
		}
		if jsonOutput() {
			return formatter.WriteEnvelope(os.Stdout, map[string]string{"id": args[0], "status": "closed"}, nil)
		}
		fmt.Printf("session %s closed\n", args[0])
		return nil
	},
}

func init() {
	sessionAcquireCmd.Flags().StringVar(&sessionAgentID, "agent-id", "", "Agent identity (default: DECAPOD_AGENT_ID)")
	sessionAcquireCmd.Flags().BoolVar(&sessionUseWorktree, "worktree", false, "Bind the session to a dedicated sibling git worktree")
	sessionCmd.AddCommand(sessionAcquireCmd, sessionCloseCmd)
	rootCmd.AddCommand(sessionCmd)
}
