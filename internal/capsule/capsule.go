package capsule

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/decapodlabs/decapod/internal/canon"
	"github.com/decapodlabs/decapod/internal/interlock"
)

// snippetBytes bounds how much of each source file is captured, keeping
// capsules small and their hash computation cheap.
const snippetBytes = 800

// Source identifies one section pulled into a capsule.
type Source struct {
	Path    string `json:"path"`
	Section string `json:"section"`
}

// Snippet is the extracted content bound to a Source.
type Snippet struct {
	SourcePath string `json:"source_path"`
	Text       string `json:"text"`
}

// Capsule is the deterministic, content-addressed bundle returned by a
// capsule query.
type Capsule struct {
	SchemaVersion string        `json:"schema_version"`
	Topic         string        `json:"topic"`
	Scope         string        `json:"scope"`
	TaskID        string        `json:"task_id,omitempty"`
	WorkunitID    string        `json:"workunit_id,omitempty"`
	Sources       []Source      `json:"sources"`
	Snippets      []Snippet     `json:"snippets"`
	Policy        PolicyBinding `json:"policy"`
	CapsuleHash   string        `json:"capsule_hash"`
}

const capsuleSchemaVersion = "1.0.0"

// QueryRequest is the input to Query.
type QueryRequest struct {
	ProjectRoot    string
	Topic          string
	Scope          string
	RequestedTier  string
	RequestedLimit int
	TaskID         string
	WorkunitID     string
	Write          bool
}

// listScopeSources returns every regular file under <projectRoot>/<scope>,
// sorted lexicographically by its path relative to projectRoot. Determinism
// (same inputs -> byte-identical capsule) depends on this ordering being
// stable.
func listScopeSources(projectRoot, scope string) ([]string, error) {
	scopeDir := filepath.Join(projectRoot, scope)
	info, err := os.Stat(scopeDir)
	if err != nil || !info.IsDir() {
		return nil, nil
	}

	var paths []string
	err = filepath.WalkDir(scopeDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(projectRoot, path)
		if relErr != nil {
			return relErr
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, interlock.IO("CAPSULE_SCOPE_WALK_FAILED", "could not enumerate scope sources", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Query assembles a capsule deterministically: resolve policy, enumerate up
// to EffectiveLimit sources in scope, extract bounded snippets, and hash the
// canonical form with capsule_hash zeroed (I1).
func Query(ctx context.Context, req QueryRequest) (Capsule, error) {
	resolved, err := Resolve(ctx, ResolveRequest{
		ProjectRoot:    req.ProjectRoot,
		RequestedScope: req.Scope,
		RequestedTier:  req.RequestedTier,
		RequestedLimit: req.RequestedLimit,
		Write:          req.Write,
	})
	if err != nil {
		return Capsule{}, err
	}

	paths, err := listScopeSources(req.ProjectRoot, req.Scope)
	if err != nil {
		return Capsule{}, err
	}
	if len(paths) > resolved.EffectiveLimit {
		paths = paths[:resolved.EffectiveLimit]
	}

	sources := make([]Source, 0, len(paths))
	snippets := make([]Snippet, 0, len(paths))
	for _, rel := range paths {
		raw, err := os.ReadFile(filepath.Join(req.ProjectRoot, rel))
		if err != nil {
			return Capsule{}, interlock.IO("CAPSULE_SOURCE_READ_FAILED", "could not read source "+rel, err)
		}
		text := string(raw)
		if len(text) > snippetBytes {
			text = text[:snippetBytes]
		}
		sources = append(sources, Source{Path: rel, Section: strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))})
		snippets = append(snippets, Snippet{SourcePath: rel, Text: text})
	}

	c := Capsule{
		SchemaVersion: capsuleSchemaVersion,
		Topic:         req.Topic,
		Scope:         req.Scope,
		TaskID:        req.TaskID,
		WorkunitID:    req.WorkunitID,
		Sources:       sources,
		Snippets:      snippets,
		Policy:        resolved.Binding,
	}

	hash, err := canon.HashWithZeroedField(c, "capsule_hash")
	if err != nil {
		return Capsule{}, interlock.Validation("CAPSULE_HASH_FAILED", err.Error())
	}
	c.CapsuleHash = hash
	return c, nil
}

// ArtifactRelPath returns the deterministic persisted path for a task's
// capsule, relative to the project root.
func ArtifactRelPath(taskID string) string {
	return filepath.ToSlash(filepath.Join(".decapod", "generated", "context", taskID+".json"))
}

// Persist writes the capsule to its deterministic path under
// .decapod/generated/context/<task_id>.json and returns the absolute path.
func Persist(projectRoot string, taskID string, c Capsule) (string, error) {
	if taskID == "" {
		return "", interlock.Validation("CAPSULE_WRITE_REQUIRES_TASK_ID", "")
	}
	relPath := ArtifactRelPath(taskID)
	absPath := filepath.Join(projectRoot, relPath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", interlock.IO("CAPSULE_PERSIST_MKDIR_FAILED", "could not create context directory", err)
	}
	body, err := canon.PrettyJSON(c)
	if err != nil {
		return "", interlock.Validation("CAPSULE_PERSIST_ENCODE_FAILED", err.Error())
	}
	if err := os.WriteFile(absPath, body, 0o644); err != nil {
		return "", interlock.IO("CAPSULE_PERSIST_WRITE_FAILED", "could not write capsule artifact", err)
	}
	return absPath, nil
}

// RecomputeHash recomputes a loaded capsule's content hash, for validate's
// tamper-detection gate.
func RecomputeHash(c Capsule) (string, error) {
	return canon.HashWithZeroedField(c, "capsule_hash")
}
