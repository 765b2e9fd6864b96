// Package internalize binds a source document to a derived adapter
// artifact (C9's internalize half): create hashes the source, runs a
// profile to produce an adapter, and records provenance + TTL; attach and
// inspect re-verify integrity without ever trusting a cached result.
package internalize

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/decapodlabs/decapod/internal/artifacts"
	"github.com/decapodlabs/decapod/internal/canon"
	"github.com/decapodlabs/decapod/internal/interlock"
)

const manifestFileName = "manifest.json"
const noopAdapterFileName = "adapter.bin"

func artifactsDir(storeRoot string) string {
	return filepath.Join(storeRoot, "generated", "artifacts", "internalizations")
}

func artifactDir(storeRoot, id string) string {
	return filepath.Join(artifactsDir(storeRoot), id)
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// CreateInput is the input to Create.
type CreateInput struct {
	StoreRoot   string
	SourcePath  string
	BaseModelID string
	Profile     string // only "noop" is supported; any other name fails with INTERNALIZATION_PROFILE_UNSUPPORTED
	TTLSeconds  int64
	Scopes      []string
}

// Create hashes the source document, runs the named profile to produce an
// adapter, hashes the adapter, and writes a new manifest under a fresh
// ULID-keyed artifact directory.
func Create(in CreateInput) (artifacts.InternalizationManifest, string, error) {
	if _, err := os.Stat(in.SourcePath); err != nil {
		return artifacts.InternalizationManifest{}, "", interlock.NotFound("INTERNALIZATION_SOURCE_NOT_FOUND", in.SourcePath)
	}
	sourceBytes, err := os.ReadFile(in.SourcePath)
	if err != nil {
		return artifacts.InternalizationManifest{}, "", interlock.IO("INTERNALIZATION_SOURCE_READ_FAILED", "could not read source document", err)
	}
	sourceHash := canon.HashBytes(sourceBytes)

	id := ulid.Make().String()
	dir := artifactDir(in.StoreRoot, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return artifacts.InternalizationManifest{}, "", interlock.IO("INTERNALIZATION_MKDIR_FAILED", "could not create artifact directory", err)
	}

	profile := in.Profile
	if profile == "" {
		profile = "noop"
	}
	adapterPath := filepath.Join(dir, noopAdapterFileName)
	var chunkingParams map[string]any
	switch profile {
	case "noop":
		if err := os.WriteFile(adapterPath, nil, 0o644); err != nil {
			return artifacts.InternalizationManifest{}, "", interlock.IO("INTERNALIZATION_ADAPTER_WRITE_FAILED", "could not write noop adapter", err)
		}
		chunkingParams = map[string]any{"mode": "noop"}
	default:
		return artifacts.InternalizationManifest{}, "", interlock.Validation("INTERNALIZATION_PROFILE_UNSUPPORTED", profile)
	}

	adapterBytes, err := os.ReadFile(adapterPath)
	if err != nil {
		return artifacts.InternalizationManifest{}, "", interlock.IO("INTERNALIZATION_ADAPTER_READ_FAILED", "could not read adapter for hashing", err)
	}
	adapterHash := canon.HashBytes(adapterBytes)

	now := nowISO()
	var expiresAt *string
	if in.TTLSeconds > 0 {
		exp := time.Now().UTC().Add(time.Duration(in.TTLSeconds) * time.Second).Format("2006-01-02T15:04:05Z")
		expiresAt = &exp
	}

	scopes := in.Scopes
	if len(scopes) == 0 {
		scopes = []string{"qa", "summarization"}
	}
	allowCodeGen := false
	for _, s := range scopes {
		if s == "code-gen" {
			allowCodeGen = true
		}
	}

	replayArgs := []string{"internalize", "create", "--source", in.SourcePath, "--model", in.BaseModelID, "--profile", profile}
	if in.TTLSeconds > 0 {
		replayArgs = append(replayArgs, "--ttl", strconv.FormatInt(in.TTLSeconds, 10))
	}
	for _, s := range scopes {
		replayArgs = append(replayArgs, "--scope", s)
	}

	replayMode := artifacts.ReplayModeReplayable
	if profile != "noop" {
		// Non-builtin profiles may depend on external model state that
		// can't be guaranteed to reproduce byte-for-byte.
		replayMode = artifacts.ReplayModeOneShot
	}

	manifest := artifacts.InternalizationManifest{
		ID:               id,
		SourceHash:       sourceHash,
		AdapterHash:      adapterHash,
		BaseModelID:      in.BaseModelID,
		ExtractionMethod: profile,
		ChunkingParams:   chunkingParams,
		CreatedAt:        now,
		TTLSeconds:       in.TTLSeconds,
		ExpiresAt:        expiresAt,
		Provenance:       []string{"internalize.create:" + sourceHash},
		ReplayRecipe: artifacts.ReplayRecipe{
			Mode:    replayMode,
			Command: "decapod",
			Args:    replayArgs,
		},
		CapabilitiesContract: artifacts.CapabilitiesContract{
			AllowedScopes: scopes,
			AllowCodeGen:  allowCodeGen,
		},
		RiskTier:         "medium",
		DeterminismClass: determinismFor(replayMode),
	}

	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return artifacts.InternalizationManifest{}, "", interlock.Validation("INTERNALIZATION_ENCODE_FAILED", err.Error())
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFileName), append(raw, '\n'), 0o644); err != nil {
		return artifacts.InternalizationManifest{}, "", interlock.IO("INTERNALIZATION_WRITE_FAILED", "could not write manifest", err)
	}

	return manifest, id, nil
}

func determinismFor(mode artifacts.ReplayMode) artifacts.DeterminismClass {
	if mode == artifacts.ReplayModeReplayable {
		return artifacts.Deterministic
	}
	return artifacts.BestEffort
}

// Integrity is the result of re-verifying a manifest's recorded hashes.
type Integrity struct {
	AdapterHashValid bool
	Expired          bool
}

// Inspect loads a manifest and re-verifies its adapter hash and expiry
// without mutating any state.
func Inspect(storeRoot, id string) (artifacts.InternalizationManifest, Integrity, error) {
	dir := artifactDir(storeRoot, id)
	manifestPath := filepath.Join(dir, manifestFileName)
	if _, err := os.Stat(manifestPath); err != nil {
		return artifacts.InternalizationManifest{}, Integrity{}, interlock.NotFound("INTERNALIZATION_NOT_FOUND", id)
	}

	manifest, err := artifacts.LoadInternalizationManifest(manifestPath)
	if err != nil {
		return artifacts.InternalizationManifest{}, Integrity{}, err
	}

	adapterFullPath := filepath.Join(dir, noopAdapterFileName)
	var adapterValid bool
	if raw, err := os.ReadFile(adapterFullPath); err == nil {
		adapterValid = canon.HashBytes(raw) == manifest.AdapterHash
	}

	expired := false
	if manifest.ExpiresAt != nil {
		expired = strings.Compare(nowISO(), *manifest.ExpiresAt) > 0
	}

	return manifest, Integrity{AdapterHashValid: adapterValid, Expired: expired}, nil
}

// Attach verifies an internalization is usable (not expired, adapter
// intact) before a session may bind it.
func Attach(storeRoot, id, sessionID string) (artifacts.InternalizationManifest, error) {
	manifest, integrity, err := Inspect(storeRoot, id)
	if err != nil {
		return artifacts.InternalizationManifest{}, err
	}
	if integrity.Expired {
		expiry := "unknown"
		if manifest.ExpiresAt != nil {
			expiry = *manifest.ExpiresAt
		}
		return artifacts.InternalizationManifest{}, interlock.Validation("INTERNALIZATION_EXPIRED", id+" expired_at="+expiry)
	}
	if !integrity.AdapterHashValid {
		return artifacts.InternalizationManifest{}, interlock.Validation("INTERNALIZATION_ADAPTER_INTEGRITY_FAILED", id)
	}

	dir := filepath.Join(storeRoot, "generated", "sessions", sessionID)
	if err := os.MkdirAll(dir, 0o755); err == nil {
		entry := map[string]any{
			"op":         "internalize.attach",
			"artifact_id": id,
			"session_id": sessionID,
			"timestamp":  nowISO(),
			"adapter_hash": manifest.AdapterHash,
		}
		if raw, encErr := json.MarshalIndent(entry, "", "  "); encErr == nil {
			_ = os.WriteFile(filepath.Join(dir, "internalize_attach_"+id+".json"), append(raw, '\n'), 0o644)
		}
	}

	return manifest, nil
}
