// Package validate runs the ordered battery of structural, integrity, and
// lineage invariants (C8), grounded on the teacher's GateChecker pattern:
// each check is an independent, named gate with a stable code and a
// pass/fail result, run in a fixed order and aggregated into one report.
package validate

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/decapodlabs/decapod/internal/artifacts"
	"github.com/decapodlabs/decapod/internal/capsule"
	"github.com/decapodlabs/decapod/internal/eventlog"
	"github.com/decapodlabs/decapod/internal/governance"
	"github.com/decapodlabs/decapod/internal/session"
)

// GateResult is one named gate's outcome.
type GateResult struct {
	Code    string `json:"code"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// Report aggregates every gate run for one validate invocation.
type Report struct {
	Passed bool         `json:"passed"`
	Gates  []GateResult `json:"gates"`
}

// Options configures which gates run.
type Options struct {
	ProjectRoot      string
	StoreRoot        string
	SkipWorkspace    bool
	ProtectedBranches []string
}

var requiredStoreSubdirs = []string{"data", "governance", "generated"}

var generatedWhitelist = []string{
	".decapod/generated/context/",
	".decapod/generated/specs/",
	".decapod/generated/policy/",
}

// Run executes every gate in order and aggregates the results. Run never
// returns an error itself — each invariant failure is reported as a
// failing gate so callers see the whole picture in one pass.
func Run(ctx context.Context, opts Options) Report {
	checks := []func(context.Context, Options) GateResult{
		checkStructural,
		checkGitWhitelist,
		checkWorkspace,
		checkEventLogIntegrity,
		checkWorkunitManifests,
		checkContextCapsules,
		checkCapsulePolicyContract,
		checkKnowledgePromotions,
		checkSkillCards,
		checkInternalizations,
		checkEvalGate,
	}

	report := Report{Passed: true}
	for _, check := range checks {
		result := check(ctx, opts)
		report.Gates = append(report.Gates, result)
		if !result.Passed {
			report.Passed = false
		}
	}
	return report
}

func ok(code, message string) GateResult  { return GateResult{Code: code, Passed: true, Message: message} }
func fail(code, message string) GateResult { return GateResult{Code: code, Passed: false, Message: message} }

func checkStructural(_ context.Context, opts Options) GateResult {
	base := filepath.Join(opts.ProjectRoot, ".decapod")
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		return fail("STRUCTURE_MISSING", ".decapod directory does not exist")
	}
	for _, sub := range requiredStoreSubdirs {
		p := filepath.Join(base, sub)
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			return fail("STRUCTURE_MISSING", "missing required subdirectory: "+sub)
		}
	}
	return ok("STRUCTURE_OK", "required .decapod subdirectories present")
}

func checkGitWhitelist(_ context.Context, opts Options) GateResult {
	cmd := exec.Command("git", "ls-files", ".decapod/generated")
	cmd.Dir = opts.ProjectRoot
	out, err := cmd.Output()
	if err != nil {
		// Not a git repo, or nothing tracked under generated/: vacuously fine.
		return ok("GIT_WHITELIST_OK", "no tracked files under .decapod/generated")
	}
	var offenders []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		allowed := false
		for _, prefix := range generatedWhitelist {
			if strings.HasPrefix(line, prefix) {
				allowed = true
				break
			}
		}
		if !allowed {
			offenders = append(offenders, line)
		}
	}
	if len(offenders) > 0 {
		return fail("STORE_BOUNDARY_VIOLATION", "tracked files outside generated whitelist: "+strings.Join(offenders, ", "))
	}
	return ok("GIT_WHITELIST_OK", "all tracked generated/ files match the whitelist")
}

func checkWorkspace(_ context.Context, opts Options) GateResult {
	if opts.SkipWorkspace || os.Getenv("DECAPOD_VALIDATE_SKIP_GIT_GATES") == "1" {
		return ok("WORKSPACE_SKIPPED", "workspace protection gate skipped")
	}
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = opts.ProjectRoot
	out, err := cmd.Output()
	if err != nil {
		return ok("WORKSPACE_OK", "not a git repository; workspace gate not applicable")
	}
	branch := strings.TrimSpace(string(out))
	for _, protected := range opts.ProtectedBranches {
		if branch == protected {
			if active, _ := session.ActiveExists(opts.StoreRoot); active {
				return ok("WORKSPACE_OK", "current branch '"+branch+"' is protected and a session is active")
			}
			return fail("WORKSPACE_REQUIRED", "current branch '"+branch+"' is protected; acquire a session or switch branches")
		}
	}
	return ok("WORKSPACE_OK", "current branch '"+branch+"' is not protected")
}

func checkEventLogIntegrity(_ context.Context, opts Options) GateResult {
	dataDir := filepath.Join(opts.StoreRoot, "data")
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return ok("EVENT_LOG_OK", "no data directory to check")
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		log := eventlog.Open(filepath.Join(dataDir, e.Name()))
		events, err := log.ReadAll()
		if err != nil {
			return fail("EVENT_LOG_PARSE_FAILED", e.Name()+": "+err.Error())
		}
		if err := eventlog.CheckUniqueEventIDs(events); err != nil {
			return fail("EVENT_LOG_DUPLICATE_ID", e.Name()+": "+err.Error())
		}
	}
	return ok("EVENT_LOG_OK", "every event log parses with unique event IDs")
}

func checkWorkunitManifests(_ context.Context, opts Options) GateResult {
	dir := filepath.Join(opts.StoreRoot, "governance", "workunits")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ok("WORKUNIT_MANIFESTS_OK", "no workunit manifests to check")
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		taskID := strings.TrimSuffix(e.Name(), ".json")
		m, err := governance.LoadManifest(opts.StoreRoot, taskID)
		if err != nil {
			return fail("WORKUNIT_MANIFEST_INVALID", e.Name()+": "+err.Error())
		}
		if m.Status != governance.WorkunitVerified && m.Status != governance.WorkunitPublished {
			continue
		}
		passed := make(map[string]bool, len(m.ProofResults))
		for _, r := range m.ProofResults {
			if r.Status == "pass" {
				passed[r.Gate] = true
			}
		}
		for _, gate := range m.ProofPlan {
			if !passed[gate] {
				return fail("WORKUNIT_PROOF_PLAN_INCOMPLETE", taskID+": gate "+gate+" has no passing result")
			}
		}
		suffix := filepath.ToSlash(filepath.Join(".decapod", "generated", "context", taskID+".json"))
		hasLineage := false
		for _, ref := range m.StateRefs {
			if strings.HasSuffix(filepath.ToSlash(ref), suffix) {
				hasLineage = true
				break
			}
		}
		if !hasLineage {
			return fail("WORKUNIT_CAPSULE_POLICY_LINEAGE_MISSING", taskID)
		}
	}
	return ok("WORKUNIT_MANIFESTS_OK", "every verified/published workunit has complete gates and capsule lineage")
}

func checkContextCapsules(_ context.Context, opts Options) GateResult {
	dir := filepath.Join(opts.StoreRoot, "generated", "context")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ok("CONTEXT_CAPSULES_OK", "no context capsules to check")
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fail("CONTEXT_CAPSULE_READ_FAILED", e.Name())
		}
		var c capsule.Capsule
		if err := json.Unmarshal(raw, &c); err != nil {
			return fail("CONTEXT_CAPSULE_INVALID", e.Name())
		}
		recomputed, err := capsule.RecomputeHash(c)
		if err != nil || recomputed != c.CapsuleHash {
			return fail("CONTEXT_CAPSULE_HASH_MISMATCH", e.Name())
		}
	}
	return ok("CONTEXT_CAPSULES_OK", "every capsule's recomputed hash matches capsule_hash")
}

func checkCapsulePolicyContract(_ context.Context, opts Options) GateResult {
	contract, _, err := capsule.LoadPolicyContract(opts.ProjectRoot)
	if err != nil {
		return ok("CAPSULE_POLICY_CONTRACT_OK", "no policy contract present")
	}
	if contract.SchemaVersion != capsule.PolicySchemaVersion {
		return fail("CAPSULE_POLICY_SCHEMA_MISMATCH", contract.SchemaVersion)
	}
	tierNames := make([]string, 0, len(contract.Tiers))
	for name := range contract.Tiers {
		tierNames = append(tierNames, name)
	}
	sort.Strings(tierNames)
	for _, name := range tierNames {
		rule := contract.Tiers[name]
		if len(rule.AllowedScopes) == 0 {
			return fail("CAPSULE_POLICY_TIER_INVALID", name+": allowed_scopes is empty")
		}
		if rule.MaxLimit < 1 {
			return fail("CAPSULE_POLICY_TIER_INVALID", name+": max_limit must be >= 1")
		}
	}
	return ok("CAPSULE_POLICY_CONTRACT_OK", "policy contract schema and tiers are well-formed")
}

func checkKnowledgePromotions(_ context.Context, opts Options) GateResult {
	path := filepath.Join(opts.StoreRoot, "data", "knowledge.promotions.jsonl")
	raw, err := os.ReadFile(path)
	if err != nil {
		return ok("KNOWLEDGE_PROMOTIONS_OK", "no knowledge promotions to check")
	}
	for i, line := range strings.Split(strings.TrimRight(string(raw), "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lineNum := strconv.Itoa(i + 1)
		var p artifacts.KnowledgePromotion
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			return fail("KNOWLEDGE_PROMOTION_INVALID", "line "+lineNum)
		}
		if p.TargetClass != "procedural" {
			return fail("KNOWLEDGE_PROMOTION_TARGET_CLASS_INVALID", "line "+lineNum)
		}
		if len(p.EvidenceRefs) == 0 {
			return fail("KNOWLEDGE_PROMOTION_EVIDENCE_MISSING", "line "+lineNum)
		}
	}
	return ok("KNOWLEDGE_PROMOTIONS_OK", "every knowledge promotion has complete schema")
}

func checkSkillCards(_ context.Context, opts Options) GateResult {
	dir := filepath.Join(opts.StoreRoot, "generated", "skills")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ok("SKILL_CARDS_OK", "no skill cards to check")
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		card, err := artifacts.LoadSkillCard(filepath.Join(dir, e.Name()))
		if err != nil {
			return fail("SKILL_CARD_INVALID", e.Name())
		}
		recomputed, err := artifacts.RecomputeCardHash(card)
		if err != nil || recomputed != card.CardHash {
			return fail("SKILL_CARD_HASH_MISMATCH", e.Name())
		}
	}
	return ok("SKILL_CARDS_OK", "every skill card's recomputed hash matches card_hash")
}

func checkInternalizations(_ context.Context, opts Options) GateResult {
	dir := filepath.Join(opts.StoreRoot, "generated", "artifacts", "internalizations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ok("INTERNALIZATIONS_OK", "no internalizations to check")
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		manifestPath := filepath.Join(dir, e.Name(), "manifest.json")
		manifest, err := artifacts.LoadInternalizationManifest(manifestPath)
		if err != nil {
			continue
		}
		if manifest.DeterminismClass == artifacts.BestEffort && manifest.ReplayRecipe.Mode == artifacts.ReplayModeReplayable {
			return fail("INTERNALIZATION_DETERMINISM_CLASS_INCONSISTENT", e.Name())
		}
	}
	return ok("INTERNALIZATIONS_OK", "every internalization's determinism class is consistent with its replay mode")
}

func checkEvalGate(_ context.Context, opts Options) GateResult {
	reqPath := filepath.Join(opts.StoreRoot, "data", "eval", "gate.required.json")
	raw, err := os.ReadFile(reqPath)
	if err != nil {
		return ok("EVAL_GATE_NOT_REQUIRED", "no eval gate requirement configured")
	}
	var req artifacts.GateRequirement
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail("EVAL_GATE_REQUIREMENT_INVALID", reqPath)
	}
	aggRaw, err := os.ReadFile(filepath.Join(opts.StoreRoot, req.AggregatePath))
	if err != nil {
		return fail("EVAL_AGGREGATE_MISSING", req.AggregatePath)
	}
	var agg artifacts.EvalAggregate
	if err := json.Unmarshal(aggRaw, &agg); err != nil {
		return fail("EVAL_AGGREGATE_INVALID", req.AggregatePath)
	}
	if !artifacts.EvalGatePasses(agg, req) {
		return fail("EVAL_GATE_FAILED", req.AggregatePath)
	}
	return ok("EVAL_GATE_OK", "required eval aggregate passes its gate")
}
