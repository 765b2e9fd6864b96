package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/decapodlabs/decapod/internal/capsule"
	"github.com/decapodlabs/decapod/internal/formatter"
	"github.com/decapodlabs/decapod/internal/governance"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold the .decapod store for this repo",
	Long: `Creates the .decapod directory layout (data/, governance/, generated/),
the default proofs.toml, and the generated context-capsule policy
contract. Safe to re-run; existing files are left untouched, except that
--force rewrites proofs.toml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		storeRoot, projectRoot, err := resolveStoreRoot()
		if err != nil {
			return err
		}

		dirs := []string{
			filepath.Join(storeRoot, "data"),
			filepath.Join(storeRoot, "governance", "workunits"),
			filepath.Join(storeRoot, "generated", "context"),
			filepath.Join(storeRoot, "generated", "specs"),
			filepath.Join(storeRoot, "generated", "policy"),
			filepath.Join(storeRoot, "generated", "artifacts", "internalizations"),
			filepath.Join(storeRoot, "generated", "sessions"),
		}
		for _, d := range dirs {
			if err := os.MkdirAll(d, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", d, err)
			}
		}

		proofsPath := filepath.Join(storeRoot, "proofs.toml")
		if initForce || !exists(proofsPath) {
			if err := os.WriteFile(proofsPath, []byte(defaultProofsTOML), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", proofsPath, err)
			}
		}

		if err := capsule.EnsureGeneratedPolicyContract(projectRoot); err != nil {
			return err
		}
		if err := governance.EnsureSchema(cmd.Context(), storeRoot); err != nil {
			return err
		}

		if jsonOutput() {
			return formatter.WriteEnvelope(os.Stdout, map[string]string{"store_root": storeRoot}, nil)
		}
		fmt.Printf("initialized decapod store at %s\n", storeRoot)
		return nil
	},
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

const defaultProofsTOML = `# proofs.toml declares the checks "decapod proof run" executes; results are reported in this order.
[[proof]]
name = "build"
command = "go"
args = ["build", "./..."]
description = "the module compiles"
required = true

[[proof]]
name = "test"
command = "go"
args = ["test", "./..."]
description = "the test suite passes"
required = true
`

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing proofs.toml")
	rootCmd.AddCommand(initCmd)
}
