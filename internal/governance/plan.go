// Package governance implements the plan/workunit state machine (C6):
// plan lifecycle guards grounded on the kernel's plan governance module,
// and workunit manifest transitions grounded on spec §4.3's guard table.
package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/decapodlabs/decapod/internal/interlock"
)

// PlanState is one of the five states a plan progresses through.
type PlanState string

const (
	PlanDraft      PlanState = "DRAFT"
	PlanAnnotating PlanState = "ANNOTATING"
	PlanApproved   PlanState = "APPROVED"
	PlanExecuting  PlanState = "EXECUTING"
	PlanDone       PlanState = "DONE"
)

// ScopeConstraints bounds how much of the tree a plan's execution may touch.
type ScopeConstraints struct {
	ForbiddenPaths  []string `json:"forbidden_paths,omitempty"`
	FileTouchBudget int      `json:"file_touch_budget,omitempty"`
}

// GovernedPlan is the on-disk plan manifest at governance/plan.json.
type GovernedPlan struct {
	SchemaVersion   string           `json:"schema_version"`
	Title           string           `json:"title"`
	Intent          string           `json:"intent"`
	State           PlanState        `json:"state"`
	TodoIDs         []string         `json:"todo_ids"`
	ProofHooks      []string         `json:"proof_hooks"`
	Unknowns        []string         `json:"unknowns"`
	HumanQuestions  []string         `json:"human_questions"`
	Constraints     ScopeConstraints `json:"constraints"`
	UpdatedAt       string           `json:"updated_at"`
}

const planSchemaVersion = "1.0.0"

const PlanRelPath = "governance/plan.json"

func planPath(storeRoot string) string {
	return filepath.Join(storeRoot, PlanRelPath)
}

// InitPlanInput seeds a new plan in DRAFT state.
type InitPlanInput struct {
	StoreRoot   string
	Title       string
	Intent      string
	Constraints ScopeConstraints
}

// InitPlan writes a fresh DRAFT plan, failing if one already exists.
func InitPlan(in InitPlanInput) (GovernedPlan, error) {
	path := planPath(in.StoreRoot)
	if _, err := os.Stat(path); err == nil {
		return GovernedPlan{}, interlock.Validation("PLAN_ALREADY_EXISTS", path)
	}
	plan := GovernedPlan{
		SchemaVersion: planSchemaVersion,
		Title:         in.Title,
		Intent:        in.Intent,
		State:         PlanDraft,
		Constraints:   in.Constraints,
		UpdatedAt:     nowEpochZ(),
	}
	if err := SavePlan(in.StoreRoot, plan); err != nil {
		return GovernedPlan{}, err
	}
	return plan, nil
}

// LoadPlan reads the plan manifest, typed NOT_FOUND if absent.
func LoadPlan(storeRoot string) (GovernedPlan, error) {
	raw, err := os.ReadFile(planPath(storeRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return GovernedPlan{}, interlock.NotFound("PLAN_NOT_FOUND", planPath(storeRoot))
		}
		return GovernedPlan{}, interlock.IO("PLAN_READ_FAILED", "could not read plan", err)
	}
	var plan GovernedPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return GovernedPlan{}, interlock.Validation("PLAN_INVALID", err.Error())
	}
	return plan, nil
}

// SavePlan writes the plan manifest, creating governance/ if needed.
func SavePlan(storeRoot string, plan GovernedPlan) error {
	path := planPath(storeRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return interlock.IO("PLAN_MKDIR_FAILED", "could not create governance directory", err)
	}
	raw, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return interlock.Validation("PLAN_ENCODE_FAILED", err.Error())
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return interlock.IO("PLAN_WRITE_FAILED", "could not write plan", err)
	}
	return nil
}

// PlanPatch applies only the fields that are non-nil; UpdatedAt always
// refreshes regardless of which fields were supplied.
type PlanPatch struct {
	Title          *string
	Intent         *string
	State          *PlanState
	TodoIDs        []string
	ProofHooks     []string
	Unknowns       []string
	HumanQuestions []string
	Constraints    *ScopeConstraints
}

// PatchPlan loads the current plan, applies patch, and saves the result.
func PatchPlan(storeRoot string, patch PlanPatch) (GovernedPlan, error) {
	plan, err := LoadPlan(storeRoot)
	if err != nil {
		return GovernedPlan{}, err
	}
	if patch.Title != nil {
		plan.Title = *patch.Title
	}
	if patch.Intent != nil {
		plan.Intent = *patch.Intent
	}
	if patch.State != nil {
		plan.State = *patch.State
	}
	if patch.TodoIDs != nil {
		plan.TodoIDs = patch.TodoIDs
	}
	if patch.ProofHooks != nil {
		plan.ProofHooks = patch.ProofHooks
	}
	if patch.Unknowns != nil {
		plan.Unknowns = patch.Unknowns
	}
	if patch.HumanQuestions != nil {
		plan.HumanQuestions = patch.HumanQuestions
	}
	if patch.Constraints != nil {
		plan.Constraints = *patch.Constraints
	}
	plan.UpdatedAt = nowEpochZ()
	if err := SavePlan(storeRoot, plan); err != nil {
		return GovernedPlan{}, err
	}
	return plan, nil
}

func nowEpochZ() string {
	return fmt.Sprintf("%dZ", time.Now().Unix())
}

// markerError formats a typed readiness marker, optionally carrying a JSON
// payload describing what blocked it.
func markerError(marker, message string, payload interface{}) error {
	if payload == nil {
		return interlock.ValidationWithRemediation(marker, message, "")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return interlock.Validation(marker, message)
	}
	return interlock.Validation(marker, fmt.Sprintf("%s payload=%s", message, string(body)))
}

// ExecuteCheckInput is the input to EnsureExecuteReady.
type ExecuteCheckInput struct {
	ProjectRoot string
	StoreRoot   string
	TodoID      string
}

// EnsureExecuteReady implements the kernel's pre-execution gate: a plan
// must be APPROVED, fully specified (intent, no unresolved unknowns or
// open human questions), reference at least one existing todo, and stay
// within its declared scope constraints.
func EnsureExecuteReady(ctx context.Context, in ExecuteCheckInput) (GovernedPlan, error) {
	plan, err := LoadPlan(in.StoreRoot)
	if err != nil {
		if ie, ok := err.(*interlock.Error); ok && ie.Kind == interlock.KindNotFound {
			return GovernedPlan{}, markerError("NEEDS_PLAN_APPROVAL", "no plan exists", nil)
		}
		return GovernedPlan{}, err
	}

	if plan.State != PlanApproved {
		return GovernedPlan{}, markerError("NEEDS_PLAN_APPROVAL", "plan is not approved", map[string]string{
			"current_state": string(plan.State),
		})
	}

	if strings.TrimSpace(plan.Intent) == "" {
		return GovernedPlan{}, markerError("NEEDS_HUMAN_INPUT", "plan intent is empty", nil)
	}
	if len(plan.Unknowns) > 0 {
		return GovernedPlan{}, markerError("NEEDS_HUMAN_INPUT", "plan has unresolved unknowns", map[string][]string{
			"questions": plan.Unknowns,
		})
	}
	if len(plan.HumanQuestions) > 0 {
		return GovernedPlan{}, markerError("NEEDS_HUMAN_INPUT", "plan has open human questions", map[string][]string{
			"questions": plan.HumanQuestions,
		})
	}
	if len(plan.TodoIDs) == 0 {
		return GovernedPlan{}, markerError("NEEDS_HUMAN_INPUT", "plan has no candidate todo_ids", nil)
	}

	todoID := in.TodoID
	if todoID == "" {
		todoID = plan.TodoIDs[0]
	}
	exists, err := TaskExists(ctx, in.StoreRoot, todoID)
	if err != nil {
		return GovernedPlan{}, err
	}
	if !exists {
		return GovernedPlan{}, markerError("NEEDS_HUMAN_INPUT", "referenced todo does not exist", map[string]string{
			"todo_id": todoID,
		})
	}

	if err := enforceScopeConstraints(in.ProjectRoot, plan.Constraints); err != nil {
		return GovernedPlan{}, err
	}

	return plan, nil
}

// enforceScopeConstraints reads `git status --short` to enumerate touched
// files and checks them against the plan's declared budget/forbidden set.
// A no-op when neither constraint is set.
func enforceScopeConstraints(projectRoot string, constraints ScopeConstraints) error {
	if constraints.FileTouchBudget <= 0 && len(constraints.ForbiddenPaths) == 0 {
		return nil
	}

	cmd := exec.Command("git", "status", "--short", "--untracked-files=no")
	cmd.Dir = projectRoot
	out, err := cmd.Output()
	if err != nil {
		return interlock.IO("SCOPE_GIT_STATUS_FAILED", "could not read git status", err)
	}

	var touched []string
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		touched = append(touched, fields[len(fields)-1])
	}
	sort.Strings(touched)

	if constraints.FileTouchBudget > 0 && len(touched) > constraints.FileTouchBudget {
		return markerError("SCOPE_VIOLATION", "touched files exceed budget", map[string]interface{}{
			"touched_files":     touched,
			"file_touch_budget": constraints.FileTouchBudget,
		})
	}

	if len(constraints.ForbiddenPaths) > 0 {
		var hits []string
		for _, f := range touched {
			for _, prefix := range constraints.ForbiddenPaths {
				if strings.HasPrefix(f, prefix) {
					hits = append(hits, f)
					break
				}
			}
		}
		if len(hits) > 0 {
			return markerError("SCOPE_VIOLATION", "touched files match forbidden prefixes", map[string]interface{}{
				"forbidden_hits": hits,
			})
		}
	}

	return nil
}
