// Package formatter provides output renderers: Table (human terminal
// output), JSONL and WriteEnvelope (machine output), and Report (markdown
// documents). Commands print text output through Table and their
// --format json reply through WriteEnvelope.
package formatter

import (
	"fmt"
	"io"
	"strings"
)

// Report builds a markdown document section by section — headings,
// paragraphs, bullet lists, and key/value fact blocks.
type Report struct {
	b strings.Builder
}

// NewReport starts an empty report.
func NewReport() *Report { return &Report{} }

// Heading appends a markdown heading at the given level (1 = #, 2 = ##, ...).
func (r *Report) Heading(level int, text string) *Report {
	if level < 1 {
		level = 1
	}
	fmt.Fprintf(&r.b, "%s %s\n\n", strings.Repeat("#", level), text)
	return r
}

// Paragraph appends a plain text block.
func (r *Report) Paragraph(text string) *Report {
	fmt.Fprintf(&r.b, "%s\n\n", text)
	return r
}

// Bullets appends an unordered list.
func (r *Report) Bullets(items []string) *Report {
	for _, item := range items {
		fmt.Fprintf(&r.b, "- %s\n", item)
	}
	if len(items) > 0 {
		r.b.WriteString("\n")
	}
	return r
}

// Facts appends an ordered list of "key: value" lines — for small
// fixed-field summaries (gate pass/fail, CI bounds) that don't warrant a
// full table.
func (r *Report) Facts(pairs [][2]string) *Report {
	for _, p := range pairs {
		fmt.Fprintf(&r.b, "- **%s:** %s\n", p[0], p[1])
	}
	if len(pairs) > 0 {
		r.b.WriteString("\n")
	}
	return r
}

// String returns the accumulated document.
func (r *Report) String() string { return r.b.String() }

// WriteTo implements io.WriterTo.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, r.b.String())
	return int64(n), err
}
