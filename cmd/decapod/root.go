package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/decapodlabs/decapod/internal/config"
	"github.com/decapodlabs/decapod/internal/rpi"
)

var (
	// Global flags
	formatFlag  string
	storeFlag   string
	verboseFlag bool
	cfgFile     string

	// cfg is the resolved configuration for this invocation, populated in
	// PersistentPreRun once flags have been parsed.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "decapod",
	Short: "Repo-native governance kernel for multi-agent software work",
	Long: `decapod is a daemonless, repo-native governance system for multi-agent
software work: plans and workunits progress through an explicit state
machine, every mutation is funneled through a single per-repo group
broker, and every claim of "done" is backed by a recorded, replayable
proof.

State lives under .decapod/ as SQLite databases and append-only JSONL
event logs — there is no server to start or stop.

Core Commands:
  session       Acquire/close a mutation lease on a protected branch
  govern        Plan, workunit, and context-capsule governance
  proof         Run the configured proof registry
  validate      Run structural/integrity gates over .decapod/
  verify        Re-run and re-check done tasks' recorded proofs
  eval          Judge-verdict validation and gated eval comparisons
  internalize   Create/inspect/attach distilled knowledge artifacts
  goals         Fitness goal measurement and drift
  capabilities  Report supported interlock error codes`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		syncConfigFlagToEnv()
		loaded, err := config.Load(&config.Config{
			Format:  formatFlag,
			Store:   storeFlag,
			Verbose: verboseFlag,
		})
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "", "Output format: text or json (default from config)")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "Store root to bind to: repo or user (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose diagnostic output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: .decapod/config.yaml or ~/.config/decapod/config.yaml)")
}

func syncConfigFlagToEnv() {
	path := strings.TrimSpace(cfgFile)
	if path == "" {
		return
	}
	_ = os.Setenv("DECAPOD_CONFIG", path)
}

// jsonOutput reports whether this invocation should emit machine-readable
// JSON rather than the text/table default.
func jsonOutput() bool {
	return cfg != nil && cfg.Format == "json"
}

func gitTimeout() time.Duration {
	if cfg == nil || cfg.GitTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(cfg.GitTimeoutSeconds) * time.Second
}

func protectedBranches() []string {
	if cfg != nil && len(cfg.ProtectedBranches) > 0 {
		return cfg.ProtectedBranches
	}
	return []string{"main", "master"}
}

// resolveProjectRoot returns the repo root when cwd sits inside a git
// worktree, falling back to cwd itself otherwise (e.g. a scratch directory
// used only for the user-level store).
func resolveProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determining working directory: %w", err)
	}
	root, err := rpi.GetRepoRoot(cwd, gitTimeout())
	if err != nil {
		return cwd, nil
	}
	return root, nil
}

// resolveStoreRoot returns the .decapod directory this invocation binds
// to: the project-root-relative store by default, or a fixed per-user
// store under the home directory when --store user is given.
func resolveStoreRoot() (storeRoot, projectRoot string, err error) {
	projectRoot, err = resolveProjectRoot()
	if err != nil {
		return "", "", err
	}

	store := "repo"
	if cfg != nil && cfg.Store != "" {
		store = cfg.Store
	}

	if store == "user" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", fmt.Errorf("determining home directory: %w", err)
		}
		return filepath.Join(home, ".decapod"), projectRoot, nil
	}
	return filepath.Join(projectRoot, ".decapod"), projectRoot, nil
}

// verbosePrintf prints only when verbose mode is enabled, to stderr so it
// never pollutes --format json stdout.
func verbosePrintf(format string, args ...interface{}) {
	if cfg != nil && cfg.Verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
