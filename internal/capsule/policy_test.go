package capsule

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func setupRepoWithPolicy(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if out, err := exec.Command("git", "init", "-q", dir).CombinedOutput(); err != nil {
		t.Fatalf("git init: %v: %s", err, out)
	}
	if err := EnsureGeneratedPolicyContract(dir); err != nil {
		t.Fatalf("ensure policy: %v", err)
	}
	return dir
}

func TestResolveDeniesUnknownScope(t *testing.T) {
	dir := setupRepoWithPolicy(t)
	_, err := Resolve(context.Background(), ResolveRequest{
		ProjectRoot:    dir,
		RequestedScope: "methodology",
		RequestedLimit: 5,
	})
	if err == nil {
		t.Fatal("expected invalid scope error")
	}
}

func TestResolveDeniesScopeForLowTier(t *testing.T) {
	dir := setupRepoWithPolicy(t)
	_, err := Resolve(context.Background(), ResolveRequest{
		ProjectRoot:    dir,
		RequestedScope: "plugins",
		RequestedTier:  "low",
		RequestedLimit: 5,
	})
	if err == nil {
		t.Fatal("expected CAPSULE_SCOPE_DENIED")
	}
}

func TestResolveDeniesWriteForLowTier(t *testing.T) {
	dir := setupRepoWithPolicy(t)
	_, err := Resolve(context.Background(), ResolveRequest{
		ProjectRoot:    dir,
		RequestedScope: "interfaces",
		RequestedTier:  "low",
		RequestedLimit: 2,
		Write:          true,
	})
	if err == nil {
		t.Fatal("expected CAPSULE_WRITE_DENIED")
	}
}

func TestResolveClampsLimitToTierMax(t *testing.T) {
	dir := setupRepoWithPolicy(t)
	resolved, err := Resolve(context.Background(), ResolveRequest{
		ProjectRoot:    dir,
		RequestedScope: "interfaces",
		RequestedTier:  "medium",
		RequestedLimit: 9999,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.EffectiveLimit != 6 {
		t.Fatalf("expected limit clamped to 6, got %d", resolved.EffectiveLimit)
	}
}

func TestResolveMissingPolicyFails(t *testing.T) {
	dir := t.TempDir()
	_, err := Resolve(context.Background(), ResolveRequest{
		ProjectRoot:    dir,
		RequestedScope: "interfaces",
		RequestedLimit: 2,
	})
	if err == nil {
		t.Fatal("expected CAPSULE_POLICY_MISSING")
	}
}

func TestQueryIsDeterministic(t *testing.T) {
	dir := setupRepoWithPolicy(t)
	if err := os.MkdirAll(filepath.Join(dir, "interfaces"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "interfaces", "a.md"), []byte("alpha content"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "interfaces", "b.md"), []byte("beta content"), 0o644); err != nil {
		t.Fatal(err)
	}

	req := QueryRequest{
		ProjectRoot:    dir,
		Topic:          "validation liveness",
		Scope:          "interfaces",
		RequestedLimit: 5,
		TaskID:         "R_42",
	}

	c1, err := Query(context.Background(), req)
	if err != nil {
		t.Fatalf("query 1: %v", err)
	}
	c2, err := Query(context.Background(), req)
	if err != nil {
		t.Fatalf("query 2: %v", err)
	}
	if c1.CapsuleHash != c2.CapsuleHash {
		t.Fatalf("expected identical capsule hashes, got %s != %s", c1.CapsuleHash, c2.CapsuleHash)
	}
	if c1.Policy.RiskTier != "medium" {
		t.Fatalf("expected default risk tier medium, got %s", c1.Policy.RiskTier)
	}
	for _, s := range c1.Sources {
		if s.Path[:len("interfaces/")] != "interfaces/" {
			t.Fatalf("scope filter violated, got source path: %s", s.Path)
		}
	}
}

func TestRecomputeHashDetectsTamper(t *testing.T) {
	dir := setupRepoWithPolicy(t)
	c, err := Query(context.Background(), QueryRequest{
		ProjectRoot:    dir,
		Topic:          "t",
		Scope:          "interfaces",
		RequestedLimit: 1,
		TaskID:         "R_1",
	})
	if err != nil {
		t.Fatal(err)
	}
	recomputed, err := RecomputeHash(c)
	if err != nil {
		t.Fatal(err)
	}
	if recomputed != c.CapsuleHash {
		t.Fatal("expected recomputed hash to match before tamper")
	}

	c.CapsuleHash = "wrong"
	recomputed2, err := RecomputeHash(c)
	if err != nil {
		t.Fatal(err)
	}
	if recomputed2 == c.CapsuleHash {
		t.Fatal("expected recomputed hash to differ from tampered stored hash")
	}
}
