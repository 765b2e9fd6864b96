package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/decapodlabs/decapod/internal/broker"
	"github.com/decapodlabs/decapod/internal/formatter"
	"github.com/decapodlabs/decapod/internal/internalize"
)

var internalizeCmd = &cobra.Command{
	Use:   "internalize",
	Short: "Create/inspect/attach distilled knowledge artifacts",
}

var (
	internalizeBaseModelID string
	internalizeProfile     string
	internalizeTTLSeconds  int64
	internalizeScopes      string
)

var internalizeCreateCmd = &cobra.Command{
	Use:   "create <source-path>",
	Short: "Distill a source document into an internalization manifest + adapter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		storeRoot, _, err := resolveStoreRoot()
		if err != nil {
			return err
		}
		if routed, err := broker.MaybeRouteMutation(cmd.Context(), storeRoot, os.Args[1:]); routed {
			return err
		}

		manifest, id, err := internalize.Create(internalize.CreateInput{
			StoreRoot:   storeRoot,
			SourcePath:  args[0],
			BaseModelID: internalizeBaseModelID,
			Profile:     internalizeProfile,
			TTLSeconds:  internalizeTTLSeconds,
			Scopes:      splitCSV(internalizeScopes),
		})
		if err != nil {
			return err
		}
		if jsonOutput() {
			return formatter.WriteEnvelope(os.Stdout, map[string]interface{}{"id": id, "manifest": manifest}, nil)
		}
		fmt.Printf("internalization %s created (expires %s)\n", id, manifest.ExpiresAt)
		return nil
	},
}

var internalizeInspectCmd = &cobra.Command{
	Use:   "inspect <id>",
	Short: "Check an internalization's adapter hash and expiry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		storeRoot, _, err := resolveStoreRoot()
		if err != nil {
			return err
		}
		manifest, integrity, err := internalize.Inspect(storeRoot, args[0])
		if err != nil {
			return err
		}
		if jsonOutput() {
			return formatter.WriteEnvelope(os.Stdout, map[string]interface{}{"manifest": manifest, "integrity": integrity}, nil)
		}
		fmt.Printf("adapter_hash_valid=%v expired=%v\n", integrity.AdapterHashValid, integrity.Expired)
		return nil
	},
}

var internalizeAttachSessionID string

var internalizeAttachCmd = &cobra.Command{
	Use:   "attach <id>",
	Short: "Attach a valid, unexpired internalization to a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		storeRoot, _, err := resolveStoreRoot()
		if err != nil {
			return err
		}
		if routed, err := broker.MaybeRouteMutation(cmd.Context(), storeRoot, os.Args[1:]); routed {
			return err
		}

		manifest, err := internalize.Attach(storeRoot, args[0], internalizeAttachSessionID)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return formatter.WriteEnvelope(os.Stdout, manifest, nil)
		}
		fmt.Printf("internalization %s attached\n", args[0])
		return nil
	},
}

func init() {
	internalizeCreateCmd.Flags().StringVar(&internalizeBaseModelID, "base-model-id", "", "Base model identifier")
	internalizeCreateCmd.Flags().StringVar(&internalizeProfile, "profile", "noop", `Distillation profile ("noop" is the only builtin)`)
	internalizeCreateCmd.Flags().Int64Var(&internalizeTTLSeconds, "ttl-seconds", 86400, "Manifest time-to-live")
	internalizeCreateCmd.Flags().StringVar(&internalizeScopes, "scopes", "", "Comma-separated allowed scopes")

	internalizeAttachCmd.Flags().StringVar(&internalizeAttachSessionID, "session-id", "", "Session id to attach to")

	internalizeCmd.AddCommand(internalizeCreateCmd, internalizeInspectCmd, internalizeAttachCmd)
	rootCmd.AddCommand(internalizeCmd)
}
