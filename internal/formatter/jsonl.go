package formatter

import (
	"encoding/json"
	"io"

	"github.com/decapodlabs/decapod/internal/interlock"
)

// JSONL writes one JSON object per line, one line per Write call, so each
// record parses on its own.
type JSONL struct {
	enc *json.Encoder
}

// NewJSONL creates a JSONL writer over w.
func NewJSONL(w io.Writer) *JSONL {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONL{enc: enc}
}

// Write encodes v as one JSON line.
func (j *JSONL) Write(v any) error {
	return j.enc.Encode(v)
}

// WriteEnvelope writes a command's --format json reply as one formatted
// JSON document: the interlock.Envelope success/error shape, with data
// (when present) carried in its Result field.
func WriteEnvelope(w io.Writer, data any, err error) error {
	env := interlock.AsEnvelope(err)
	if err == nil {
		env.Result = data
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}
