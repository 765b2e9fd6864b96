package internalize

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateNoopProfileRoundTrips(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "source.md")
	if err := os.WriteFile(source, []byte("# Notes\nSome content."), 0o644); err != nil {
		t.Fatal(err)
	}

	manifest, id, err := Create(CreateInput{
		StoreRoot:   dir,
		SourcePath:  source,
		BaseModelID: "test-model",
		TTLSeconds:  3600,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if manifest.SourceHash == "" || manifest.AdapterHash == "" {
		t.Fatal("expected non-empty source/adapter hashes")
	}
	if manifest.ExpiresAt == nil {
		t.Fatal("expected expiry to be set for nonzero TTL")
	}

	loaded, integrity, err := Inspect(dir, id)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if loaded.SourceHash != manifest.SourceHash {
		t.Fatal("expected loaded manifest to match created manifest")
	}
	if !integrity.AdapterHashValid {
		t.Fatal("expected adapter hash to verify")
	}
	if integrity.Expired {
		t.Fatal("expected not yet expired")
	}
}

func TestCreateRejectsMissingSource(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Create(CreateInput{StoreRoot: dir, SourcePath: filepath.Join(dir, "missing.md")})
	if err == nil {
		t.Fatal("expected INTERNALIZATION_SOURCE_NOT_FOUND")
	}
}

func TestInspectDetectsCorruptedAdapter(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "source.md")
	if err := os.WriteFile(source, []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, id, err := Create(CreateInput{StoreRoot: dir, SourcePath: source})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	adapterPath := filepath.Join(artifactDir(dir, id), noopAdapterFileName)
	if err := os.WriteFile(adapterPath, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, integrity, err := Inspect(dir, id)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if integrity.AdapterHashValid {
		t.Fatal("expected adapter hash mismatch after tampering")
	}
}

func TestAttachRejectsCorruptedAdapter(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "source.md")
	if err := os.WriteFile(source, []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, id, err := Create(CreateInput{StoreRoot: dir, SourcePath: source})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	adapterPath := filepath.Join(artifactDir(dir, id), noopAdapterFileName)
	if err := os.WriteFile(adapterPath, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Attach(dir, id, "sess-1"); err == nil {
		t.Fatal("expected INTERNALIZATION_ADAPTER_INTEGRITY_FAILED")
	}
}
