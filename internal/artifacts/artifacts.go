// Package artifacts defines the content-addressed artifact shapes shared
// across internalize, eval, and validate: skill cards, internalization
// manifests, eval aggregates, and knowledge promotion records.
package artifacts

import (
	"encoding/json"
	"os"

	"github.com/decapodlabs/decapod/internal/canon"
	"github.com/decapodlabs/decapod/internal/interlock"
)

// SkillCard is a reusable, hash-addressed procedure description.
type SkillCard struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies"`
	Workflow     []string `json:"workflow"`
	CardHash     string   `json:"card_hash"`
}

// LoadSkillCard reads and parses a skill card from path.
func LoadSkillCard(path string) (SkillCard, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return SkillCard{}, interlock.IO("SKILL_CARD_READ_FAILED", "could not read skill card "+path, err)
	}
	var c SkillCard
	if err := json.Unmarshal(raw, &c); err != nil {
		return SkillCard{}, interlock.Validation("SKILL_CARD_INVALID", path)
	}
	return c, nil
}

// RecomputeCardHash recomputes a skill card's content hash with card_hash zeroed.
func RecomputeCardHash(c SkillCard) (string, error) {
	return canon.HashWithZeroedField(c, "card_hash")
}

// DeterminismClass classifies whether an internalization can be replayed
// byte-for-byte or only approximately.
type DeterminismClass string

const (
	Deterministic DeterminismClass = "deterministic"
	BestEffort    DeterminismClass = "best_effort"
)

// ReplayMode names how an internalization's adapter was produced.
type ReplayMode string

const (
	ReplayModeReplayable ReplayMode = "replayable"
	ReplayModeOneShot    ReplayMode = "one_shot"
)

// ReplayRecipe records how to reproduce an internalization's adapter.
type ReplayRecipe struct {
	Mode ReplayMode        `json:"mode"`
	Command string         `json:"command"`
	Args    []string       `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
}

// CapabilitiesContract bounds what an internalized adapter may do at use time.
type CapabilitiesContract struct {
	AllowedScopes []string `json:"allowed_scopes"`
	AllowCodeGen  bool     `json:"allow_code_gen"`
}

// InternalizationManifest binds a source document to a derived adapter.
type InternalizationManifest struct {
	ID                   string               `json:"id"`
	SourceHash           string               `json:"source_hash"`
	AdapterHash          string               `json:"adapter_hash"`
	BaseModelID          string               `json:"base_model_id"`
	ExtractionMethod     string               `json:"extraction_method"`
	ChunkingParams       map[string]any       `json:"chunking_params,omitempty"`
	CreatedAt            string               `json:"created_at"`
	TTLSeconds           int64                `json:"ttl_seconds"`
	ExpiresAt            *string              `json:"expires_at,omitempty"`
	Provenance           []string             `json:"provenance"`
	ReplayRecipe         ReplayRecipe         `json:"replay_recipe"`
	CapabilitiesContract CapabilitiesContract `json:"capabilities_contract"`
	RiskTier             string               `json:"risk_tier"`
	DeterminismClass     DeterminismClass     `json:"determinism_class"`
}

// LoadInternalizationManifest reads and parses a manifest from path.
func LoadInternalizationManifest(path string) (InternalizationManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return InternalizationManifest{}, interlock.IO("INTERNALIZATION_READ_FAILED", "could not read manifest "+path, err)
	}
	var m InternalizationManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return InternalizationManifest{}, interlock.Validation("INTERNALIZATION_INVALID", path)
	}
	return m, nil
}

// EvalVariantStats is one variant's run outcomes within an eval aggregate.
type EvalVariantStats struct {
	N                   int       `json:"n"`
	Scores              []float64 `json:"scores"`
	JudgeTimeoutFailures int      `json:"judge_timeout_failures"`
}

// EvalAggregate is the persisted result of comparing a baseline and
// candidate variant via bootstrap confidence intervals.
type EvalAggregate struct {
	PlanHash          string           `json:"plan_hash"`
	Baseline          EvalVariantStats `json:"baseline"`
	Candidate         EvalVariantStats `json:"candidate"`
	BootstrapIterations int            `json:"bootstrap_iterations"`
	CILow             float64          `json:"ci_low"`
	CIHigh            float64          `json:"ci_high"`
}

// GateRequirement is the eval/gate.required.json contract.
type GateRequirement struct {
	AggregatePath string  `json:"aggregate_path"`
	MinRuns       int     `json:"min_runs"`
	MaxRegression float64 `json:"max_regression"`
}

// EvalGatePasses implements spec §4.7's gate predicate.
func EvalGatePasses(agg EvalAggregate, req GateRequirement) bool {
	return agg.Baseline.N >= req.MinRuns &&
		agg.Candidate.N >= req.MinRuns &&
		agg.BootstrapIterations > 0 &&
		agg.Baseline.JudgeTimeoutFailures == 0 &&
		agg.Candidate.JudgeTimeoutFailures == 0 &&
		agg.CIHigh >= -req.MaxRegression
}

// KnowledgePromotion is one line of knowledge.promotions.jsonl.
type KnowledgePromotion struct {
	TargetClass  string   `json:"target_class"`
	EvidenceRefs []string `json:"evidence_refs"`
	Summary      string   `json:"summary"`
	CreatedAt    string   `json:"created_at"`
}
