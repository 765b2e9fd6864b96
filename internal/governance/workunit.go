package governance

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/decapodlabs/decapod/internal/canon"
	"github.com/decapodlabs/decapod/internal/interlock"
)

// WorkunitStatus is one of the four states a workunit progresses through.
type WorkunitStatus string

const (
	WorkunitDraft     WorkunitStatus = "DRAFT"
	WorkunitActive    WorkunitStatus = "ACTIVE"
	WorkunitVerified  WorkunitStatus = "VERIFIED"
	WorkunitPublished WorkunitStatus = "PUBLISHED"
)

// ProofResult is one proof_plan gate's recorded outcome.
type ProofResult struct {
	Gate   string `json:"gate"`
	Status string `json:"status"` // "pass" | "fail"
}

// Manifest is the on-disk workunit manifest at governance/workunits/<task_id>.json.
type Manifest struct {
	TaskID      string         `json:"task_id"`
	IntentRef   string         `json:"intent_ref"`
	SpecRefs    []string       `json:"spec_refs"`
	StateRefs   []string       `json:"state_refs"`
	ProofPlan   []string       `json:"proof_plan"`
	ProofResults []ProofResult `json:"proof_results"`
	Status      WorkunitStatus `json:"status"`
	ManifestHash string        `json:"manifest_hash"`
}

func workunitPath(storeRoot, taskID string) string {
	return filepath.Join(storeRoot, "governance", "workunits", taskID+".json")
}

// dedupSorted sorts and removes duplicates, the normalization spec.md
// requires for spec_refs/state_refs/proof_plan before hashing.
func dedupSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// NewManifest constructs a DRAFT workunit manifest with normalized ref
// lists and its initial content hash.
func NewManifest(taskID, intentRef string, specRefs, stateRefs, proofPlan []string) (Manifest, error) {
	m := Manifest{
		TaskID:    taskID,
		IntentRef: intentRef,
		SpecRefs:  dedupSorted(specRefs),
		StateRefs: dedupSorted(stateRefs),
		ProofPlan: dedupSorted(proofPlan),
		Status:    WorkunitDraft,
	}
	hash, err := canon.HashWithZeroedField(m, "manifest_hash")
	if err != nil {
		return Manifest{}, interlock.Validation("WORKUNIT_HASH_FAILED", err.Error())
	}
	m.ManifestHash = hash
	return m, nil
}

// LoadManifest reads a workunit manifest by task ID.
func LoadManifest(storeRoot, taskID string) (Manifest, error) {
	raw, err := os.ReadFile(workunitPath(storeRoot, taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, interlock.NotFound("WORKUNIT_NOT_FOUND", taskID)
		}
		return Manifest{}, interlock.IO("WORKUNIT_READ_FAILED", "could not read workunit manifest", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, interlock.Validation("WORKUNIT_INVALID", err.Error())
	}
	return m, nil
}

// SaveManifest recomputes the manifest hash and writes it to disk.
func SaveManifest(storeRoot string, m Manifest) (Manifest, error) {
	hash, err := canon.HashWithZeroedField(m, "manifest_hash")
	if err != nil {
		return Manifest{}, interlock.Validation("WORKUNIT_HASH_FAILED", err.Error())
	}
	m.ManifestHash = hash

	path := workunitPath(storeRoot, m.TaskID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Manifest{}, interlock.IO("WORKUNIT_MKDIR_FAILED", "could not create workunits directory", err)
	}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Manifest{}, interlock.Validation("WORKUNIT_ENCODE_FAILED", err.Error())
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return Manifest{}, interlock.IO("WORKUNIT_WRITE_FAILED", "could not write workunit manifest", err)
	}
	return m, nil
}

// capsuleLineagePresent reports whether state_refs contains a path ending
// in the deterministic per-task capsule artifact path (I4 / workunit
// VERIFIED guard).
func capsuleLineagePresent(taskID string, stateRefs []string) bool {
	suffix := filepath.ToSlash(filepath.Join(".decapod", "generated", "context", taskID+".json"))
	for _, ref := range stateRefs {
		if strings.HasSuffix(filepath.ToSlash(ref), suffix) {
			return true
		}
	}
	return false
}

// allGatesPass reports whether every gate in plan has a matching passing
// result in results.
func allGatesPass(plan []string, results []ProofResult) bool {
	passed := make(map[string]bool, len(results))
	for _, r := range results {
		if r.Status == "pass" {
			passed[r.Gate] = true
		}
	}
	for _, gate := range plan {
		if !passed[gate] {
			return false
		}
	}
	return true
}

// Advance validates and applies one state transition per spec §4.3's guard
// table, returning the updated (unsaved) manifest.
func Advance(m Manifest, to WorkunitStatus) (Manifest, error) {
	switch {
	case m.Status == WorkunitDraft && to == WorkunitActive:
		if strings.TrimSpace(m.IntentRef) == "" {
			return Manifest{}, interlock.Validation("WORKUNIT_INTENT_REF_REQUIRED", m.TaskID)
		}
		if len(m.SpecRefs) == 0 {
			return Manifest{}, interlock.Validation("WORKUNIT_SPEC_REF_REQUIRED", m.TaskID)
		}

	case m.Status == WorkunitActive && to == WorkunitVerified:
		if len(m.ProofPlan) == 0 {
			return Manifest{}, interlock.Validation("WORKUNIT_PROOF_PLAN_EMPTY", m.TaskID)
		}
		if !allGatesPass(m.ProofPlan, m.ProofResults) {
			return Manifest{}, interlock.Validation("WORKUNIT_PROOF_PLAN_INCOMPLETE", m.TaskID)
		}
		if !capsuleLineagePresent(m.TaskID, m.StateRefs) {
			return Manifest{}, interlock.Validation("WORKUNIT_CAPSULE_POLICY_LINEAGE_MISSING", m.TaskID)
		}

	case m.Status == WorkunitVerified && to == WorkunitPublished:
		// The full validate gate set (including the eval gate) is run by the
		// workunit advance command as a precondition before Advance is ever
		// called for this transition, since it needs filesystem/store access
		// Advance itself doesn't have. Advance re-checks what it can see in
		// the manifest alone.
		if !allGatesPass(m.ProofPlan, m.ProofResults) {
			return Manifest{}, interlock.Validation("WORKUNIT_PROOF_PLAN_INCOMPLETE", m.TaskID)
		}

	default:
		return Manifest{}, interlock.Validation(
			"WORKUNIT_ILLEGAL_TRANSITION",
			string(m.Status)+" -> "+string(to),
		)
	}

	m.Status = to
	return m, nil
}
