// Package config provides configuration management for decapod.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (DECAPOD_*)
// 3. Repo config (.decapod/config.yaml in cwd)
// 4. Home config (~/.config/decapod/config.yaml)
// 5. Defaults
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all decapod configuration.
type Config struct {
	// Format controls the default output format: "text" or "json".
	Format string `yaml:"format" json:"format"`

	// Store selects which store root commands bind to by default:
	// "repo" (.decapod under the project root) or "user" (~/.decapod).
	Store string `yaml:"store" json:"store"`

	// Verbose enables verbose diagnostic output.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// GitTimeoutSeconds bounds the git subprocesses behind repo-root lookup
	// and session open/close. The git calls made by plan scope enforcement,
	// validate, capsule resolution and goal measurement do not use it.
	GitTimeoutSeconds int `yaml:"git_timeout_seconds" json:"git_timeout_seconds"`

	// ProtectedBranches overrides the default {main, master} set the
	// Workspace gate refuses direct mutation on without an active session.
	ProtectedBranches []string `yaml:"protected_branches" json:"protected_branches"`

	// ProtectedBranchesSet tracks whether ProtectedBranches was explicitly
	// configured, distinguishing "not set" from "set to this exact list".
	ProtectedBranchesSet bool `yaml:"-" json:"-"`
}

// Default config values (used in resolution and validation).
const (
	defaultFormat            = "text"
	defaultStore             = "repo"
	defaultGitTimeoutSeconds = 5
)

var defaultProtectedBranches = []string{"main", "master"}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Format:            defaultFormat,
		Store:             defaultStore,
		Verbose:           false,
		GitTimeoutSeconds: defaultGitTimeoutSeconds,
		ProtectedBranches: append([]string(nil), defaultProtectedBranches...),
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > env > repo > home > defaults
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	// Load home config
	homeConfig, _ := loadFromPath(homeConfigPath())
	if homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	// Load repo config
	repoConfig, _ := loadFromPath(repoConfigPath())
	if repoConfig != nil {
		cfg = merge(cfg, repoConfig)
	}

	// Apply environment variables
	cfg = applyEnv(cfg)

	// Apply flag overrides
	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "decapod", "config.yaml")
}

// repoConfigPath returns the repo config path.
func repoConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("DECAPOD_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".decapod", "config.yaml")
}

// loadFromPath loads config from a YAML file.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.ProtectedBranches) > 0 {
		cfg.ProtectedBranchesSet = true
	}

	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("DECAPOD_FORMAT"); v != "" {
		cfg.Format = v
	}
	if v := os.Getenv("DECAPOD_STORE"); v != "" {
		cfg.Store = v
	}
	if v := os.Getenv("DECAPOD_VERBOSE"); v == "true" || v == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv("DECAPOD_GIT_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.GitTimeoutSeconds = secs
		}
	}
	if v := strings.TrimSpace(os.Getenv("DECAPOD_PROTECTED_BRANCHES")); v != "" {
		cfg.ProtectedBranches = splitCommaList(v)
		cfg.ProtectedBranchesSet = true
	}
	return cfg
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// merge merges src into dst, with src values taking precedence.
// For booleans we rely on OR semantics (teacher's "once true, stays true"
// shape is wrong for a value that can be forced back to false, but no
// decapod boolean field needs that today).
func merge(dst, src *Config) *Config {
	if src.Format != "" {
		dst.Format = src.Format
	}
	if src.Store != "" {
		dst.Store = src.Store
	}
	if src.Verbose {
		dst.Verbose = true
	}
	if src.GitTimeoutSeconds != 0 {
		dst.GitTimeoutSeconds = src.GitTimeoutSeconds
	}
	if src.ProtectedBranchesSet {
		dst.ProtectedBranches = src.ProtectedBranches
		dst.ProtectedBranchesSet = true
	}
	return dst
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceHome    Source = "~/.config/decapod/config.yaml"
	SourceProject Source = ".decapod/config.yaml"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)

// getEnvString returns the value and whether the env var was set.
func getEnvString(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

// getEnvBool returns the boolean value and whether it was truthy.
func getEnvBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "true" || v == "1" {
		return true, true
	}
	return false, false
}

// resolveStringField resolves a string through the precedence chain.
// Returns the resolved value and its source.
func resolveStringField(home, project, env, flag, def string) resolved {
	// Start with default
	result := resolved{Value: def, Source: SourceDefault}

	// Home config overrides default
	if home != "" {
		result = resolved{Value: home, Source: SourceHome}
	}

	// Repo config overrides home
	if project != "" {
		result = resolved{Value: project, Source: SourceProject}
	}

	// Environment overrides repo
	if env != "" {
		result = resolved{Value: env, Source: SourceEnv}
	}

	// Flag overrides everything (if set)
	if flag != "" {
		result = resolved{Value: flag, Source: SourceFlag}
	}

	return result
}

// ResolvedConfig shows config values together with the source each one
// came from.
type ResolvedConfig struct {
	Format  resolved `json:"format"`
	Store   resolved `json:"store"`
	Verbose resolved `json:"verbose"`
}

type resolved struct {
	Value  interface{} `json:"value"`
	Source Source      `json:"source"`
}

// Resolve returns configuration with source tracking.
// Uses precedence chain: flags > env > repo > home > defaults.
func Resolve(flagFormat, flagStore string, flagVerbose bool) *ResolvedConfig {
	// Load configs once
	homeConfig, _ := loadFromPath(homeConfigPath())
	repoConfig, _ := loadFromPath(repoConfigPath())

	var homeFormat, homeStore string
	var homeVerbose bool
	if homeConfig != nil {
		homeFormat = homeConfig.Format
		homeStore = homeConfig.Store
		homeVerbose = homeConfig.Verbose
	}

	var repoFormat, repoStore string
	var repoVerbose bool
	if repoConfig != nil {
		repoFormat = repoConfig.Format
		repoStore = repoConfig.Store
		repoVerbose = repoConfig.Verbose
	}

	// Get environment values
	envFormat, _ := getEnvString("DECAPOD_FORMAT")
	envStore, _ := getEnvString("DECAPOD_STORE")
	envVerbose, envVerboseSet := getEnvBool("DECAPOD_VERBOSE")

	// Resolve string fields through precedence chain
	rc := &ResolvedConfig{
		Format:  resolveStringField(homeFormat, repoFormat, envFormat, flagFormat, defaultFormat),
		Store:   resolveStringField(homeStore, repoStore, envStore, flagStore, defaultStore),
		Verbose: resolved{Value: false, Source: SourceDefault},
	}

	// Resolve verbose (boolean with OR semantics through chain)
	if homeVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceHome}
	}
	if repoVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceProject}
	}
	if envVerboseSet && envVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceEnv}
	}
	if flagVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceFlag}
	}

	return rc
}
