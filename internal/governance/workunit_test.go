package governance

import "testing"

func TestNewManifestNormalizesRefs(t *testing.T) {
	m, err := NewManifest("R_001", "intent.md", []string{"b.md", "a.md", "a.md"}, nil, []string{"validate_passes"})
	if err != nil {
		t.Fatalf("new manifest: %v", err)
	}
	if len(m.SpecRefs) != 2 || m.SpecRefs[0] != "a.md" || m.SpecRefs[1] != "b.md" {
		t.Fatalf("expected sorted deduped spec_refs, got %v", m.SpecRefs)
	}
	if m.ManifestHash == "" {
		t.Fatal("expected non-empty manifest hash")
	}
}

func TestAdvanceDraftToActiveRequiresIntentAndSpecRefs(t *testing.T) {
	m := Manifest{TaskID: "R_1", Status: WorkunitDraft}
	if _, err := Advance(m, WorkunitActive); err == nil {
		t.Fatal("expected WORKUNIT_INTENT_REF_REQUIRED")
	}
	m.IntentRef = "intent.md"
	if _, err := Advance(m, WorkunitActive); err == nil {
		t.Fatal("expected WORKUNIT_SPEC_REF_REQUIRED")
	}
	m.SpecRefs = []string{"a.md"}
	advanced, err := Advance(m, WorkunitActive)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if advanced.Status != WorkunitActive {
		t.Fatalf("expected ACTIVE, got %s", advanced.Status)
	}
}

func TestAdvanceActiveToVerifiedRequiresCapsuleLineage(t *testing.T) {
	m := Manifest{
		TaskID:    "R_001",
		Status:    WorkunitActive,
		ProofPlan: []string{"validate_passes"},
		ProofResults: []ProofResult{
			{Gate: "validate_passes", Status: "pass"},
		},
	}
	if _, err := Advance(m, WorkunitVerified); err == nil {
		t.Fatal("expected WORKUNIT_CAPSULE_POLICY_LINEAGE_MISSING")
	}

	m.StateRefs = []string{".decapod/generated/context/R_001.json"}
	advanced, err := Advance(m, WorkunitVerified)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if advanced.Status != WorkunitVerified {
		t.Fatalf("expected VERIFIED, got %s", advanced.Status)
	}
}

func TestAdvanceActiveToVerifiedRequiresAllGatesPassing(t *testing.T) {
	m := Manifest{
		TaskID:    "R_002",
		Status:    WorkunitActive,
		ProofPlan: []string{"validate_passes", "goals_met"},
		ProofResults: []ProofResult{
			{Gate: "validate_passes", Status: "pass"},
			{Gate: "goals_met", Status: "fail"},
		},
		StateRefs: []string{".decapod/generated/context/R_002.json"},
	}
	if _, err := Advance(m, WorkunitVerified); err == nil {
		t.Fatal("expected WORKUNIT_PROOF_PLAN_INCOMPLETE")
	}
}

func TestAdvanceRejectsIllegalTransition(t *testing.T) {
	m := Manifest{TaskID: "R_003", Status: WorkunitDraft}
	if _, err := Advance(m, WorkunitPublished); err == nil {
		t.Fatal("expected WORKUNIT_ILLEGAL_TRANSITION")
	}
}
