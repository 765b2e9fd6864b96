// Package canon implements byte-stable canonicalization and content
// addressing for every hashed artifact in the kernel: context capsules,
// skill cards, workunit manifests, eval aggregates, and internalization
// manifests. The contract (I1) is: hash(canonicalize(A with hash field
// zeroed)) == A.hash.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalize re-serializes v (already JSON-marshaled, or any JSON-able
// value) into a byte-stable form: object keys sorted recursively, compact
// separators, no trailing newline. Two calls on semantically equal values
// always produce identical bytes.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canon: unmarshal: %w", err)
	}
	normalized := normalize(generic)
	out, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("canon: re-marshal: %w", err)
	}
	return out, nil
}

// normalize converts a decoded JSON value into a form whose map keys, once
// re-marshaled by encoding/json, are guaranteed sorted — encoding/json
// already sorts map[string]interface{} keys, so normalize's real job is to
// recurse so nested maps get the same treatment and arrays preserve order.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = normalize(val[k])
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	default:
		return val
	}
}

// HashBytes returns the lowercase hex SHA-256 digest of raw.
func HashBytes(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// HashCanonical canonicalizes v and returns its SHA-256 hex digest.
func HashCanonical(v interface{}) (string, error) {
	raw, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashBytes(raw), nil
}

// MerkleRoot computes a deterministic root hash over an ordered set of
// (path, contentHash) pairs: paths are sorted lexicographically, then
// hashed as one SHA-256 stream of path || "\n" || hash || "\n" per entry.
// Used for validate gates that need a single fingerprint over a file set
// without re-reading every file on every check.
func MerkleRoot(entries map[string]string) string {
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte("\n"))
		h.Write([]byte(entries[p]))
		h.Write([]byte("\n"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashWithZeroedField computes the content-address hash of v (any
// JSON-marshalable struct or map) with the named top-level field forced to
// "" before canonicalization — the pattern every hashed artifact uses to
// hash itself without the hash field being part of its own input (I1).
func HashWithZeroedField(v interface{}, fieldJSONName string) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canon: marshal: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", fmt.Errorf("canon: unmarshal: %w", err)
	}
	m[fieldJSONName] = ""
	return HashCanonical(m)
}

// PrettyJSON re-encodes v as sorted-key, indented JSON with LF line endings,
// the canonical on-disk form for every artifact file the kernel writes.
func PrettyJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	normalized := normalize(generic)
	out, err := json.MarshalIndent(normalized, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
