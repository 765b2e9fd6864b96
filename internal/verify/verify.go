// Package verify replays a done task's recorded proof plan to detect drift
// between the state it was marked done in and the state of the tree now
// (C7), grounded on the kernel's verification replay protocol.
package verify

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/decapodlabs/decapod/internal/canon"
	"github.com/decapodlabs/decapod/internal/governance"
	"github.com/decapodlabs/decapod/internal/interlock"
	"github.com/decapodlabs/decapod/internal/pool"
)

// ProofPlanResult is one baseline proof gate captured when the task was
// marked done.
type ProofPlanResult struct {
	ProofGate  string `json:"proof_gate"`
	Status     string `json:"status"`
	Command    string `json:"command"`
	OutputHash string `json:"output_hash"`
}

// FileArtifact is a baseline file hash captured alongside the proof plan.
type FileArtifact struct {
	Path  string `json:"path"`
	Hash  string `json:"hash"`
	Size  int64  `json:"size"`
	Mtime *int64 `json:"mtime,omitempty"`
}

// Artifacts is the verification_artifacts blob recorded for a done task.
type Artifacts struct {
	CompletedAt      string            `json:"completed_at"`
	ProofPlanResults []ProofPlanResult `json:"proof_plan_results"`
	FileArtifacts    []FileArtifact    `json:"file_artifacts"`
}

// ProofCheckResult compares a recorded proof gate's baseline hash to a
// freshly recomputed one.
type ProofCheckResult struct {
	Gate               string  `json:"gate"`
	Status             string  `json:"status"`
	ExpectedOutputHash *string `json:"expected_output_hash,omitempty"`
	ActualOutputHash   *string `json:"actual_output_hash,omitempty"`
	Reason             *string `json:"reason,omitempty"`
}

// ArtifactCheckResult compares a recorded file hash to the file on disk.
type ArtifactCheckResult struct {
	Path          string  `json:"path"`
	Status        string  `json:"status"`
	ExpectedHash  *string `json:"expected_hash,omitempty"`
	ActualHash    *string `json:"actual_hash,omitempty"`
	Reason        *string `json:"reason,omitempty"`
}

// TodoResult is one task's verification outcome: "pass", "fail", or
// "unknown" (absent or malformed baseline metadata).
type TodoResult struct {
	TaskID    string                `json:"todo_id"`
	Status    string                `json:"status"`
	Proofs    []ProofCheckResult    `json:"proofs"`
	Artifacts []ArtifactCheckResult `json:"artifacts"`
	Notes     []string              `json:"notes"`
}

// Summary aggregates a verify run across all selected targets.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Unknown int `json:"unknown"`
	Stale   int `json:"stale"`
}

// Report is the full output of a verify run.
type Report struct {
	VerifiedAt string       `json:"verified_at"`
	Summary    Summary      `json:"summary"`
	Results    []TodoResult `json:"results"`
}

// StaleItem names a done task whose last verification has aged past its
// verification_policy_days.
type StaleItem struct {
	TaskID                 string `json:"todo_id"`
	LastVerifiedAt         string `json:"last_verified_at,omitempty"`
	VerificationPolicyDays int    `json:"verification_policy_days"`
}

var ansiEscape = regexp.MustCompile(`\x1B\[[0-9;]*[A-Za-z]`)

func nowEpochZ() string {
	return strconv.FormatInt(time.Now().Unix(), 10) + "Z"
}

func epochSecs(ts string) (int64, bool) {
	trimmed := strings.TrimSuffix(ts, "Z")
	v, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// normalizeValidateOutput strips ANSI escapes, trims each line, drops
// blanks, and replaces every line that mentions an ephemeral
// temp-validate directory with a fixed placeholder so that two validate
// runs in different scratch directories still hash equal.
func normalizeValidateOutput(raw string) string {
	stripped := ansiEscape.ReplaceAllString(raw, "")
	var lines []string
	for _, line := range strings.Split(stripped, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.Contains(line, "decapod_validate_user_") || strings.Contains(line, "decapod_validate_repo_") {
			line = "<tmp_validate_path>"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func normalizeJSONValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, vv := range val {
			out[k] = normalizeJSONValue(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = normalizeJSONValue(e)
		}
		return out
	default:
		return val
	}
}

func sha256Hex(data []byte) string {
	return "sha256:" + canon.HashBytes(data)
}

func hashFile(path string) (hash string, size int64, mtime *int64, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", 0, nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, nil, err
	}
	t := info.ModTime().Unix()
	return sha256Hex(raw), info.Size(), &t, nil
}

// runValidateAndHash re-runs `decapod validate --format json` and returns
// whether it passed plus the SHA-256 of its normalized output.
func runValidateAndHash(ctx context.Context, repoRoot string) (bool, string, error) {
	exe, err := os.Executable()
	if err != nil {
		return false, "", interlock.IO("VERIFY_EXECUTABLE_LOOKUP_FAILED", "could not resolve own executable", err)
	}

	cmd := exec.CommandContext(ctx, exe, "validate", "--format", "json")
	cmd.Dir = repoRoot
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	passed := runErr == nil

	out := stdout.String()
	var generic interface{}
	if json.Unmarshal([]byte(out), &generic) == nil {
		normalized := normalizeJSONValue(generic)
		canonical, encErr := json.Marshal(normalized)
		if encErr != nil {
			return false, "", interlock.Validation("VERIFY_NORMALIZE_FAILED", encErr.Error())
		}
		return passed, sha256Hex(canonical), nil
	}

	merged := out
	if stderr.Len() > 0 {
		merged += "\n" + stderr.String()
	}
	return passed, sha256Hex([]byte(normalizeValidateOutput(merged))), nil
}

func resolveArtifactPath(repoRoot, stored string) string {
	if filepath.IsAbs(stored) {
		return stored
	}
	return filepath.Join(repoRoot, stored)
}

// target is one candidate task pulled from the store's task_verification table.
type target struct {
	TaskID                 string
	Status                 string
	ProofPlan              string
	ArtifactsJSON          string
	LastVerifiedAt         string
	VerificationPolicyDays int
}

func loadTargets(ctx context.Context, storeRoot, singleID string) ([]target, error) {
	var out []target
	dbPath := storeRoot + "/" + governance.TasksDBRelPath
	err := pool.WithRead(ctx, dbPath, func(ctx context.Context, db *sql.DB) error {
		var query string
		var args []interface{}
		if singleID != "" {
			query = `
				SELECT t.id, t.status,
				       COALESCE(v.proof_plan, ''),
				       COALESCE(v.verification_artifacts, ''),
				       COALESCE(v.last_verified_at, ''),
				       COALESCE(v.verification_policy_days, 90)
				FROM tasks t
				LEFT JOIN task_verification v ON v.task_id = t.id
				WHERE t.id = ?`
			args = []interface{}{singleID}
		} else {
			query = `
				SELECT t.id, t.status,
				       COALESCE(v.proof_plan, ''),
				       COALESCE(v.verification_artifacts, ''),
				       COALESCE(v.last_verified_at, ''),
				       COALESCE(v.verification_policy_days, 90)
				FROM tasks t
				LEFT JOIN task_verification v ON v.task_id = t.id
				WHERE t.status = 'done' AND v.proof_plan IS NOT NULL AND v.proof_plan <> ''
				ORDER BY t.updated_at DESC`
		}
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return interlock.Storage("STORAGE_ERROR", "could not query verify targets", err)
		}
		defer rows.Close()
		for rows.Next() {
			var t target
			if err := rows.Scan(&t.TaskID, &t.Status, &t.ProofPlan, &t.ArtifactsJSON, &t.LastVerifiedAt, &t.VerificationPolicyDays); err != nil {
				return interlock.Storage("STORAGE_ERROR", "could not scan verify target", err)
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

func strPtr(s string) *string { return &s }

// isStale reports whether t's last verification has aged past its policy
// window, or was never recorded at all.
func isStale(t target, nowSecs int64) bool {
	last, ok := epochSecs(t.LastVerifiedAt)
	if !ok {
		return true
	}
	return nowSecs-last > int64(t.VerificationPolicyDays)*86400
}

// verifyOneTarget replays a single task's proof plan and file artifacts.
func verifyOneTarget(ctx context.Context, t target, storeRoot, repoRoot string) (TodoResult, error) {
	result := TodoResult{TaskID: t.TaskID, Status: "pass"}

	if t.Status != "done" {
		result.Status = "unknown"
		result.Notes = append(result.Notes, "task is not in done state; only done tasks are verifiable")
		return result, nil
	}

	if strings.TrimSpace(t.ProofPlan) == "" {
		result.Status = "unknown"
		result.Notes = append(result.Notes, "missing verification metadata; capture verification artifacts for this task")
		return result, nil
	}

	var proofPlan []string
	if err := json.Unmarshal([]byte(t.ProofPlan), &proofPlan); err != nil {
		result.Status = "unknown"
		result.Notes = append(result.Notes, "invalid proof_plan format; recapture verification artifacts for this task")
		return result, nil
	}
	if len(proofPlan) != 1 || proofPlan[0] != "validate_passes" {
		result.Status = "unknown"
		result.Notes = append(result.Notes, `unsupported proof_plan; set proof_plan to ["validate_passes"] and capture artifacts`)
		return result, nil
	}

	if strings.TrimSpace(t.ArtifactsJSON) == "" {
		result.Status = "unknown"
		result.Notes = append(result.Notes, "missing verification_artifacts; capture verification artifacts for this task")
		return result, nil
	}
	var artifacts Artifacts
	if err := json.Unmarshal([]byte(t.ArtifactsJSON), &artifacts); err != nil {
		result.Status = "unknown"
		result.Notes = append(result.Notes, "malformed verification_artifacts JSON; recapture verification artifacts for this task")
		return result, nil
	}

	var expectedHash string
	var haveExpected bool
	for _, p := range artifacts.ProofPlanResults {
		if p.ProofGate == "validate_passes" {
			expectedHash = p.OutputHash
			haveExpected = true
			break
		}
	}
	if !haveExpected {
		result.Status = "unknown"
		result.Notes = append(result.Notes, "missing baseline validate_passes output hash; capture verification artifacts for this task")
		return result, nil
	}

	validateOK, actualHash, err := runValidateAndHash(ctx, repoRoot)
	if err != nil {
		return TodoResult{}, err
	}

	switch {
	case !validateOK:
		result.Status = "fail"
		result.Proofs = append(result.Proofs, ProofCheckResult{
			Gate: "validate_passes", Status: "fail",
			ExpectedOutputHash: strPtr(expectedHash), ActualOutputHash: strPtr(actualHash),
			Reason: strPtr("decapod validate did not pass"),
		})
	case actualHash != expectedHash:
		result.Status = "fail"
		result.Proofs = append(result.Proofs, ProofCheckResult{
			Gate: "validate_passes", Status: "fail",
			ExpectedOutputHash: strPtr(expectedHash), ActualOutputHash: strPtr(actualHash),
			Reason: strPtr("validate output hash changed"),
		})
	default:
		result.Proofs = append(result.Proofs, ProofCheckResult{
			Gate: "validate_passes", Status: "pass",
			ExpectedOutputHash: strPtr(expectedHash), ActualOutputHash: strPtr(actualHash),
		})
	}

	if len(artifacts.FileArtifacts) == 0 {
		result.Status = "unknown"
		result.Notes = append(result.Notes, "missing file_artifacts; capture file hash artifacts")
		return result, nil
	}

	for _, expected := range artifacts.FileArtifacts {
		diskPath := resolveArtifactPath(repoRoot, expected.Path)
		if _, statErr := os.Stat(diskPath); statErr != nil {
			result.Status = "fail"
			result.Artifacts = append(result.Artifacts, ArtifactCheckResult{
				Path: expected.Path, Status: "fail",
				ExpectedHash: strPtr(expected.Hash), ActualHash: strPtr("<missing>"),
				Reason: strPtr("artifact missing"),
			})
			continue
		}
		actualHash, _, _, err := hashFile(diskPath)
		if err != nil {
			return TodoResult{}, interlock.IO("VERIFY_ARTIFACT_HASH_FAILED", "could not hash artifact "+expected.Path, err)
		}
		if actualHash != expected.Hash {
			result.Status = "fail"
			result.Artifacts = append(result.Artifacts, ArtifactCheckResult{
				Path: expected.Path, Status: "fail",
				ExpectedHash: strPtr(expected.Hash), ActualHash: strPtr(actualHash),
				Reason: strPtr("hash mismatch"),
			})
		} else {
			result.Artifacts = append(result.Artifacts, ArtifactCheckResult{
				Path: expected.Path, Status: "pass",
				ExpectedHash: strPtr(expected.Hash), ActualHash: strPtr(actualHash),
			})
		}
	}

	return result, nil
}

// Run verifies the given task (singleID) or every verifiable done task if
// singleID is empty, and persists each outcome.
func Run(ctx context.Context, storeRoot, repoRoot, singleID string) (Report, error) {
	targets, err := loadTargets(ctx, storeRoot, singleID)
	if err != nil {
		return Report{}, err
	}

	report := Report{VerifiedAt: nowEpochZ()}
	for _, t := range targets {
		res, err := verifyOneTarget(ctx, t, storeRoot, repoRoot)
		if err != nil {
			return Report{}, err
		}
		report.Results = append(report.Results, res)
		report.Summary.Total++
		switch res.Status {
		case "pass":
			report.Summary.Passed++
		case "fail":
			report.Summary.Failed++
		default:
			report.Summary.Unknown++
		}
		if err := persistResult(ctx, storeRoot, t.TaskID, res.Status, strings.Join(res.Notes, "; ")); err != nil {
			return Report{}, err
		}
	}
	return report, nil
}

// Stale lists, without re-running verification, every done task with a
// recorded proof plan whose last verification has aged past its policy
// window.
func Stale(ctx context.Context, storeRoot string) ([]StaleItem, error) {
	targets, err := loadTargets(ctx, storeRoot, "")
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	var out []StaleItem
	for _, t := range targets {
		if isStale(t, now) {
			out = append(out, StaleItem{
				TaskID:                 t.TaskID,
				LastVerifiedAt:         t.LastVerifiedAt,
				VerificationPolicyDays: t.VerificationPolicyDays,
			})
		}
	}
	return out, nil
}

// Capture runs the baseline proof plan for a done task — currently always
// ["validate_passes"], the only gate verifyOneTarget replays — and persists
// proof_plan plus verification_artifacts so a later `decapod verify <id>`
// has a baseline to replay against. The task must already be status=done.
func Capture(ctx context.Context, storeRoot, repoRoot, taskID string, files []string) (Artifacts, error) {
	targets, err := loadTargets(ctx, storeRoot, taskID)
	if err != nil {
		return Artifacts{}, err
	}
	if len(targets) == 0 {
		return Artifacts{}, interlock.NotFound("TASK_NOT_FOUND", taskID)
	}
	t := targets[0]
	if t.Status != "done" {
		return Artifacts{}, interlock.Validation("VERIFY_CAPTURE_REQUIRES_DONE", "task "+taskID+" is not done; mark it done before capturing verification artifacts")
	}

	validateOK, outputHash, err := runValidateAndHash(ctx, repoRoot)
	if err != nil {
		return Artifacts{}, err
	}
	status := "pass"
	if !validateOK {
		status = "fail"
	}

	artifacts := Artifacts{
		CompletedAt: nowEpochZ(),
		ProofPlanResults: []ProofPlanResult{{
			ProofGate:  "validate_passes",
			Status:     status,
			Command:    "decapod validate --format json",
			OutputHash: outputHash,
		}},
	}
	for _, f := range files {
		diskPath := resolveArtifactPath(repoRoot, f)
		hash, size, mtime, err := hashFile(diskPath)
		if err != nil {
			return Artifacts{}, interlock.IO("VERIFY_ARTIFACT_HASH_FAILED", "could not hash artifact "+f, err)
		}
		artifacts.FileArtifacts = append(artifacts.FileArtifacts, FileArtifact{Path: f, Hash: hash, Size: size, Mtime: mtime})
	}

	proofPlanJSON, err := json.Marshal([]string{"validate_passes"})
	if err != nil {
		return Artifacts{}, interlock.Validation("VERIFY_CAPTURE_ENCODE_FAILED", err.Error())
	}
	artifactsJSON, err := json.Marshal(artifacts)
	if err != nil {
		return Artifacts{}, interlock.Validation("VERIFY_CAPTURE_ENCODE_FAILED", err.Error())
	}
	if err := persistCapture(ctx, storeRoot, taskID, string(proofPlanJSON), string(artifactsJSON)); err != nil {
		return Artifacts{}, err
	}
	return artifacts, nil
}

// persistCapture upserts the task_verification row: insert one if absent,
// otherwise overwrite the baseline on recapture.
func persistCapture(ctx context.Context, storeRoot, taskID, proofPlanJSON, artifactsJSON string) error {
	dbPath := storeRoot + "/" + governance.TasksDBRelPath
	return pool.WithWrite(ctx, dbPath, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO task_verification (task_id, proof_plan, verification_artifacts, verification_policy_days)
			VALUES (?, ?, ?, 90)
			ON CONFLICT(task_id) DO UPDATE SET
				proof_plan = excluded.proof_plan,
				verification_artifacts = excluded.verification_artifacts`,
			taskID, proofPlanJSON, artifactsJSON)
		if err != nil {
			return interlock.Storage("STORAGE_ERROR", "could not persist verification capture", err)
		}
		return nil
	})
}

func persistResult(ctx context.Context, storeRoot, taskID, status, notes string) error {
	dbPath := storeRoot + "/" + governance.TasksDBRelPath
	return pool.WithWrite(ctx, dbPath, func(ctx context.Context, db *sql.DB) error {
		ts := nowEpochZ()
		_, err := db.ExecContext(ctx, `
			UPDATE task_verification
			SET last_verified_at = ?, last_verified_status = ?, last_verified_notes = ?
			WHERE task_id = ?`, ts, status, notes, taskID)
		if err != nil {
			return interlock.Storage("STORAGE_ERROR", "could not persist verify result", err)
		}
		return nil
	})
}
