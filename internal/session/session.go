// Package session implements session token lifecycle and protected-branch
// enforcement (C10), grounded on the teacher's worktree lifecycle in
// internal/rpi/worktree.go: a session is a lease on a branch (or a
// dedicated worktree) that lets an agent mutate a protected branch without
// every single command needing its own human-in-the-loop approval.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/decapodlabs/decapod/internal/canon"
	"github.com/decapodlabs/decapod/internal/interlock"
	"github.com/decapodlabs/decapod/internal/rpi"
)

// SessionsRelPath is where session records live under the store root.
const SessionsRelPath = "generated/sessions"

// DefaultProtectedBranches are the branch names mutation is refused on
// without an active session.
var DefaultProtectedBranches = []string{"main", "master"}

// Session is one acquired lease, persisted at
// generated/sessions/<id>/session.json. PasswordHash is never the
// plaintext token — only its SHA-256, so the on-disk record can't be
// replayed to forge DECAPOD_SESSION_PASSWORD.
type Session struct {
	ID             string  `json:"id"`
	AgentID        string  `json:"agent_id"`
	PasswordHash   string  `json:"password_hash"`
	Branch         string  `json:"branch"`
	WorktreePath   string  `json:"worktree_path,omitempty"`
	WorktreeRunID  string  `json:"worktree_run_id,omitempty"`
	CreatedAt      string  `json:"created_at"`
	ClosedAt       *string `json:"closed_at,omitempty"`
}

func sessionDir(storeRoot, id string) string {
	return filepath.Join(storeRoot, SessionsRelPath, id)
}

func sessionPath(storeRoot, id string) string {
	return filepath.Join(sessionDir(storeRoot, id), "session.json")
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

func randomToken() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", interlock.IO("SESSION_TOKEN_GENERATE_FAILED", "could not generate session password", err)
	}
	return hex.EncodeToString(b), nil
}

// AcquireInput is the input to Acquire.
type AcquireInput struct {
	StoreRoot     string
	ProjectRoot   string
	AgentID       string
	UseWorktree   bool
	GitTimeout    time.Duration
}

// Acquire creates a new session, returning the record and the plaintext
// password (the only time it is ever visible — the record stores only its
// hash). When UseWorktree is set, a detached sibling git worktree is
// created via rpi.CreateWorktree and bound to the session so the agent's
// mutations never land directly on the current branch.
func Acquire(ctx context.Context, in AcquireInput) (Session, string, error) {
	password, err := randomToken()
	if err != nil {
		return Session{}, "", err
	}

	timeout := in.GitTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	branch, branchErr := rpi.GetCurrentBranch(in.ProjectRoot, timeout)
	if branchErr != nil {
		branch = ""
	}

	s := Session{
		ID:           ulid.Make().String(),
		AgentID:      in.AgentID,
		PasswordHash: canon.HashBytes([]byte(password)),
		Branch:       branch,
		CreatedAt:    nowISO(),
	}

	if in.UseWorktree {
		worktreePath, runID, err := rpi.CreateWorktree(in.ProjectRoot, timeout, nil)
		if err != nil {
			return Session{}, "", interlock.IO("SESSION_WORKTREE_CREATE_FAILED", "could not create session worktree", err)
		}
		s.WorktreePath = worktreePath
		s.WorktreeRunID = runID
	}

	if err := save(in.StoreRoot, s); err != nil {
		return Session{}, "", err
	}
	return s, password, nil
}

func save(storeRoot string, s Session) error {
	dir := sessionDir(storeRoot, s.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return interlock.IO("SESSION_MKDIR_FAILED", "could not create session directory", err)
	}
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return interlock.Validation("SESSION_ENCODE_FAILED", err.Error())
	}
	if err := os.WriteFile(sessionPath(storeRoot, s.ID), append(raw, '\n'), 0o644); err != nil {
		return interlock.IO("SESSION_WRITE_FAILED", "could not write session record", err)
	}
	return nil
}

// Load reads a session record by ID.
func Load(storeRoot, id string) (Session, error) {
	raw, err := os.ReadFile(sessionPath(storeRoot, id))
	if err != nil {
		if os.IsNotExist(err) {
			return Session{}, interlock.NotFound("SESSION_NOT_FOUND", id)
		}
		return Session{}, interlock.IO("SESSION_READ_FAILED", "could not read session record", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, interlock.Validation("SESSION_INVALID", err.Error())
	}
	return s, nil
}

// Check verifies a caller-supplied password against the session's stored
// hash. It never returns the stored hash or plaintext to the caller.
func Check(storeRoot, id, password string) (bool, error) {
	s, err := Load(storeRoot, id)
	if err != nil {
		return false, err
	}
	if s.ClosedAt != nil {
		return false, interlock.Validation("SESSION_CLOSED", id)
	}
	return canon.HashBytes([]byte(password)) == s.PasswordHash, nil
}

// Close marks a session closed and, if it owns a worktree, removes it via
// rpi.RemoveWorktree (merging is the caller's responsibility beforehand —
// Close never force-discards uncommitted work: it refuses with
// SESSION_WORKTREE_DIRTY while the worktree has uncommitted changes).
func Close(storeRoot, projectRoot, id string, gitTimeout time.Duration) error {
	s, err := Load(storeRoot, id)
	if err != nil {
		return err
	}
	if s.ClosedAt != nil {
		return nil
	}

	if s.WorktreePath != "" {
		timeout := gitTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		statusCtx, cancel := context.WithTimeout(context.Background(), timeout)
		statusCmd := exec.CommandContext(statusCtx, "git", "status", "--porcelain")
		statusCmd.Dir = s.WorktreePath
		out, statusErr := statusCmd.Output()
		cancel()
		if statusErr == nil && strings.TrimSpace(string(out)) != "" {
			return interlock.Validation("SESSION_WORKTREE_DIRTY", "session worktree "+s.WorktreePath+" has uncommitted changes")
		}
		if err := rpi.RemoveWorktree(projectRoot, s.WorktreePath, s.WorktreeRunID, timeout); err != nil {
			return interlock.IO("SESSION_WORKTREE_REMOVE_FAILED", "could not remove session worktree", err)
		}
	}

	closed := nowISO()
	s.ClosedAt = &closed
	return save(storeRoot, s)
}

// ActiveExists reports whether any non-closed session record exists under
// the store — the "a session is active" half of the Workspace gate.
func ActiveExists(storeRoot string) (bool, error) {
	dir := filepath.Join(storeRoot, SessionsRelPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, nil
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		s, err := Load(storeRoot, e.Name())
		if err != nil {
			continue
		}
		if s.ClosedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

// IsProtectedBranch reports whether branch matches one of the protected
// names (case-sensitive, exact match — spec names a small fixed set, not a
// glob pattern).
func IsProtectedBranch(branch string, protected []string) bool {
	if len(protected) == 0 {
		protected = DefaultProtectedBranches
	}
	for _, p := range protected {
		if strings.TrimSpace(p) == branch {
			return true
		}
	}
	return false
}

// RequireForMutation implements the Workspace half of the validate battery
// as a preflight a mutating command can call directly: refuse with
// WORKSPACE_REQUIRED when the current branch is protected and no session
// is active, unless skipped via DECAPOD_VALIDATE_SKIP_GIT_GATES.
func RequireForMutation(storeRoot, projectRoot string, protected []string, gitTimeout time.Duration) error {
	if os.Getenv("DECAPOD_VALIDATE_SKIP_GIT_GATES") == "1" {
		return nil
	}
	timeout := gitTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	branch, err := rpi.GetCurrentBranch(projectRoot, timeout)
	if err != nil {
		// Detached HEAD or not a git repo: nothing to protect against.
		return nil
	}
	if !IsProtectedBranch(branch, protected) {
		return nil
	}
	active, err := ActiveExists(storeRoot)
	if err != nil {
		return err
	}
	if !active {
		return interlock.Validation("WORKSPACE_REQUIRED", "branch '"+branch+"' is protected; acquire a session first")
	}
	return nil
}
