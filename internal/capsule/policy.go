// Package capsule implements risk-tier policy resolution and deterministic
// context capsule assembly (C5), grounded on the kernel's capsule policy
// contract: a risk tier gates which scopes a capsule query may read and
// whether it may persist (--write) a result.
package capsule

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/decapodlabs/decapod/internal/canon"
	"github.com/decapodlabs/decapod/internal/interlock"
)

const (
	GeneratedPolicyRelPath = ".decapod/generated/policy/context_capsule_policy.json"
	OverridePolicyRelPath  = ".decapod/policy/context_capsule_policy.json"
	PolicySchemaVersion    = "1.0.0"
)

// RiskTierRule is one tier's scope/limit/write allowances.
type RiskTierRule struct {
	AllowedScopes []string `json:"allowed_scopes"`
	MaxLimit      int      `json:"max_limit"`
	AllowWrite    bool     `json:"allow_write"`
}

// PolicyContract is the on-disk capsule policy document.
type PolicyContract struct {
	SchemaVersion        string                  `json:"schema_version"`
	PolicyVersion        string                  `json:"policy_version"`
	RepoRevisionBinding   string                 `json:"repo_revision_binding"`
	DefaultRiskTier       string                 `json:"default_risk_tier"`
	Tiers                 map[string]RiskTierRule `json:"tiers"`
}

// PolicyBinding is the lineage record attached to a resolved capsule.
type PolicyBinding struct {
	RiskTier     string `json:"risk_tier"`
	PolicyHash   string `json:"policy_hash"`
	PolicyVersion string `json:"policy_version"`
	PolicyPath   string `json:"policy_path"`
	RepoRevision string `json:"repo_revision"`
}

// ResolvedPolicy is the outcome of resolving a capsule request against the
// policy contract.
type ResolvedPolicy struct {
	Binding       PolicyBinding
	EffectiveLimit int
}

// DefaultPolicyContract returns the kernel's built-in default tiers.
func DefaultPolicyContract() PolicyContract {
	return PolicyContract{
		SchemaVersion:       PolicySchemaVersion,
		PolicyVersion:       "jit-capsule-policy-v1",
		RepoRevisionBinding: "HEAD",
		DefaultRiskTier:     "medium",
		Tiers: map[string]RiskTierRule{
			"low":      {AllowedScopes: []string{"interfaces"}, MaxLimit: 4, AllowWrite: false},
			"medium":   {AllowedScopes: []string{"core", "interfaces"}, MaxLimit: 6, AllowWrite: true},
			"high":     {AllowedScopes: []string{"core", "interfaces", "plugins"}, MaxLimit: 12, AllowWrite: true},
			"critical": {AllowedScopes: []string{"core", "interfaces", "plugins"}, MaxLimit: 20, AllowWrite: true},
		},
	}
}

// EnsureGeneratedPolicyContract writes the default policy contract to the
// generated path if nothing exists there yet.
func EnsureGeneratedPolicyContract(projectRoot string) error {
	path := filepath.Join(projectRoot, GeneratedPolicyRelPath)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return interlock.IO("CAPSULE_POLICY_MKDIR_FAILED", "could not create policy directory", err)
	}
	body, err := canon.PrettyJSON(DefaultPolicyContract())
	if err != nil {
		return interlock.Validation("CAPSULE_POLICY_ENCODE_FAILED", err.Error())
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return interlock.IO("CAPSULE_POLICY_WRITE_FAILED", "could not write default policy", err)
	}
	return nil
}

func resolvePolicyPath(projectRoot string) (string, bool) {
	for _, rel := range []string{OverridePolicyRelPath, GeneratedPolicyRelPath} {
		p := filepath.Join(projectRoot, rel)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// LoadPolicyContract loads the override contract first, the generated
// contract second; it is an error if neither exists.
func LoadPolicyContract(projectRoot string) (PolicyContract, string, error) {
	path, ok := resolvePolicyPath(projectRoot)
	if !ok {
		return PolicyContract{}, "", interlock.Validation(
			"CAPSULE_POLICY_MISSING",
			"expected "+OverridePolicyRelPath+" or "+GeneratedPolicyRelPath,
		)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return PolicyContract{}, "", interlock.IO("CAPSULE_POLICY_READ_FAILED", "could not read policy contract", err)
	}
	var contract PolicyContract
	if err := json.Unmarshal(raw, &contract); err != nil {
		return PolicyContract{}, "", interlock.Validation("CAPSULE_POLICY_INVALID", err.Error())
	}
	if contract.SchemaVersion != PolicySchemaVersion {
		return PolicyContract{}, "", interlock.Validation(
			"CAPSULE_POLICY_SCHEMA_MISMATCH",
			"actual="+contract.SchemaVersion+" expected="+PolicySchemaVersion,
		)
	}
	return contract, path, nil
}

func resolveRepoRevision(ctx context.Context, projectRoot, binding string) (string, error) {
	if !strings.EqualFold(binding, "HEAD") {
		return "", interlock.Validation("CAPSULE_POLICY_UNSUPPORTED_BINDING", binding)
	}
	revCmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	revCmd.Dir = projectRoot
	out, err := revCmd.Output()
	if err == nil {
		rev := strings.TrimSpace(string(out))
		if rev == "" {
			return "", interlock.Validation("CAPSULE_POLICY_REPO_REVISION_UNRESOLVED", "")
		}
		return rev, nil
	}

	cmd := exec.CommandContext(ctx, "git", "symbolic-ref", "--short", "HEAD")
	cmd.Dir = projectRoot
	branchOut, branchErr := cmd.Output()
	if branchErr == nil {
		branch := strings.TrimSpace(string(branchOut))
		if branch != "" {
			return "UNBORN:" + branch, nil
		}
	}
	return "", interlock.Validation("CAPSULE_POLICY_REPO_REVISION_UNRESOLVED", "")
}

var validScopes = map[string]bool{"core": true, "interfaces": true, "plugins": true}

// ResolveRequest is the input to Resolve.
type ResolveRequest struct {
	ProjectRoot     string
	RequestedScope  string
	RequestedTier   string // may be empty to take the contract default
	RequestedLimit  int
	Write           bool
}

// Resolve implements the full §4.6 resolution algorithm: scope validation,
// policy load, tier lookup, scope/write enforcement, hash + repo revision
// binding, and effective limit clamping.
func Resolve(ctx context.Context, req ResolveRequest) (ResolvedPolicy, error) {
	if !validScopes[req.RequestedScope] {
		return ResolvedPolicy{}, interlock.Validation(
			"CAPSULE_SCOPE_INVALID",
			"invalid scope '"+req.RequestedScope+"': expected one of core|interfaces|plugins",
		)
	}

	contract, policyPath, err := LoadPolicyContract(req.ProjectRoot)
	if err != nil {
		return ResolvedPolicy{}, err
	}

	tier := strings.ToLower(strings.TrimSpace(req.RequestedTier))
	if tier == "" {
		tier = contract.DefaultRiskTier
	}
	rule, ok := contract.Tiers[tier]
	if !ok {
		return ResolvedPolicy{}, interlock.Validation("CAPSULE_RISK_TIER_UNKNOWN", tier)
	}

	if !containsStr(rule.AllowedScopes, req.RequestedScope) {
		return ResolvedPolicy{}, interlock.Validation(
			"CAPSULE_SCOPE_DENIED",
			"scope="+req.RequestedScope+" risk_tier="+tier,
		)
	}
	if req.Write && !rule.AllowWrite {
		return ResolvedPolicy{}, interlock.Validation("CAPSULE_WRITE_DENIED", "risk_tier="+tier)
	}

	policyBytes, err := os.ReadFile(policyPath)
	if err != nil {
		return ResolvedPolicy{}, interlock.IO("CAPSULE_POLICY_READ_FAILED", "could not read policy file for hashing", err)
	}
	policyHash := canon.HashBytes(policyBytes)

	repoRevision, err := resolveRepoRevision(ctx, req.ProjectRoot, contract.RepoRevisionBinding)
	if err != nil {
		return ResolvedPolicy{}, err
	}

	effectiveLimit := req.RequestedLimit
	maxLimit := rule.MaxLimit
	if maxLimit < 1 {
		maxLimit = 1
	}
	if effectiveLimit < 1 {
		effectiveLimit = 1
	}
	if effectiveLimit > maxLimit {
		effectiveLimit = maxLimit
	}

	relPolicyPath, err := filepath.Rel(req.ProjectRoot, policyPath)
	if err != nil {
		relPolicyPath = policyPath
	}

	return ResolvedPolicy{
		Binding: PolicyBinding{
			RiskTier:      tier,
			PolicyHash:    policyHash,
			PolicyVersion: contract.PolicyVersion,
			PolicyPath:    relPolicyPath,
			RepoRevision:  repoRevision,
		},
		EffectiveLimit: effectiveLimit,
	}, nil
}

func containsStr(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
