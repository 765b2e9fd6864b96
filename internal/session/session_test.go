package session

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func initGitRepo(t *testing.T, dir string) {
	t.Helper()
	for _, args := range [][]string{
		{"init", "-q", "-b", "main"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{{"add", "."}, {"commit", "-q", "-m", "init"}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
}

func TestAcquireAndCheckRoundTrips(t *testing.T) {
	projectRoot := t.TempDir()
	initGitRepo(t, projectRoot)
	storeRoot := filepath.Join(projectRoot, ".decapod")

	s, password, err := Acquire(context.Background(), AcquireInput{
		StoreRoot:   storeRoot,
		ProjectRoot: projectRoot,
		AgentID:     "agent-1",
	})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if password == "" {
		t.Fatal("expected a non-empty plaintext password")
	}

	ok, err := Check(storeRoot, s.ID, password)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !ok {
		t.Fatal("expected correct password to verify")
	}

	ok, err = Check(storeRoot, s.ID, "wrong-password")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ok {
		t.Fatal("expected incorrect password to fail verification")
	}
}

func TestCloseMarksSessionClosed(t *testing.T) {
	projectRoot := t.TempDir()
	initGitRepo(t, projectRoot)
	storeRoot := filepath.Join(projectRoot, ".decapod")

	s, _, err := Acquire(context.Background(), AcquireInput{StoreRoot: storeRoot, ProjectRoot: projectRoot, AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := Close(storeRoot, projectRoot, s.ID, time.Second); err != nil {
		t.Fatalf("close: %v", err)
	}
	reloaded, err := Load(storeRoot, s.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if reloaded.ClosedAt == nil {
		t.Fatal("expected session to be marked closed")
	}

	active, err := ActiveExists(storeRoot)
	if err != nil {
		t.Fatalf("active exists: %v", err)
	}
	if active {
		t.Fatal("expected no active sessions after close")
	}
}

func TestRequireForMutationRefusesProtectedBranchWithoutSession(t *testing.T) {
	projectRoot := t.TempDir()
	initGitRepo(t, projectRoot)
	storeRoot := filepath.Join(projectRoot, ".decapod")

	if err := RequireForMutation(storeRoot, projectRoot, nil, time.Second); err == nil {
		t.Fatal("expected WORKSPACE_REQUIRED on protected branch with no session")
	}

	if _, _, err := Acquire(context.Background(), AcquireInput{StoreRoot: storeRoot, ProjectRoot: projectRoot, AgentID: "agent-1"}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := RequireForMutation(storeRoot, projectRoot, nil, time.Second); err != nil {
		t.Fatalf("expected mutation to be allowed with an active session: %v", err)
	}
}

func TestIsProtectedBranch(t *testing.T) {
	if !IsProtectedBranch("main", nil) {
		t.Fatal("expected default protected set to include main")
	}
	if IsProtectedBranch("feature/x", nil) {
		t.Fatal("expected feature branch to not be protected")
	}
}
