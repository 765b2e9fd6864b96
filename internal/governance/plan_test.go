package governance

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func initGitRepo(t *testing.T, dir string) {
	t.Helper()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if err := cmd.Run(); err != nil {
			t.Fatalf("git %v: %v", args, err)
		}
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
}

func TestInitPlanRejectsDuplicate(t *testing.T) {
	dir := t.TempDir()
	if _, err := InitPlan(InitPlanInput{StoreRoot: dir, Title: "t", Intent: "i"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := InitPlan(InitPlanInput{StoreRoot: dir, Title: "t2", Intent: "i2"}); err == nil {
		t.Fatal("expected PLAN_ALREADY_EXISTS")
	}
}

func TestEnsureExecuteReadyRequiresApproval(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	if err := EnsureSchema(ctx, dir); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if _, err := InitPlan(InitPlanInput{StoreRoot: dir, Title: "t", Intent: "i"}); err != nil {
		t.Fatalf("init: %v", err)
	}

	_, err := EnsureExecuteReady(ctx, ExecuteCheckInput{StoreRoot: dir, ProjectRoot: dir})
	if err == nil {
		t.Fatal("expected NEEDS_PLAN_APPROVAL for a DRAFT plan")
	}
}

func TestEnsureExecuteReadyRequiresTodoExistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	if err := EnsureSchema(ctx, dir); err != nil {
		t.Fatalf("schema: %v", err)
	}
	approved := PlanApproved
	if _, err := InitPlan(InitPlanInput{StoreRoot: dir, Title: "t", Intent: "i"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := PatchPlan(dir, PlanPatch{State: &approved, TodoIDs: []string{"R_001"}}); err != nil {
		t.Fatalf("patch: %v", err)
	}

	_, err := EnsureExecuteReady(ctx, ExecuteCheckInput{StoreRoot: dir, ProjectRoot: dir})
	if err == nil {
		t.Fatal("expected NEEDS_HUMAN_INPUT for a missing todo")
	}
}

func TestEnforceScopeConstraintsDetectsBudgetViolation(t *testing.T) {
	dir := t.TempDir()
	initGitRepo(t, dir)

	for _, name := range []string{"a.txt", "b.txt"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cmd := exec.Command("git", "add", "a.txt", "b.txt")
	cmd.Dir = dir
	if err := cmd.Run(); err != nil {
		t.Fatalf("git add: %v", err)
	}

	err := enforceScopeConstraints(dir, ScopeConstraints{FileTouchBudget: 1})
	if err == nil {
		t.Fatal("expected SCOPE_VIOLATION for touching 2 files against a budget of 1")
	}
}

func TestEnforceScopeConstraintsDetectsForbiddenPrefix(t *testing.T) {
	dir := t.TempDir()
	initGitRepo(t, dir)

	if err := os.WriteFile(filepath.Join(dir, "secrets.env"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd := exec.Command("git", "add", "secrets.env")
	cmd.Dir = dir
	if err := cmd.Run(); err != nil {
		t.Fatalf("git add: %v", err)
	}

	err := enforceScopeConstraints(dir, ScopeConstraints{ForbiddenPaths: []string{"secrets."}})
	if err == nil {
		t.Fatal("expected SCOPE_VIOLATION for a forbidden-prefix match")
	}
}
