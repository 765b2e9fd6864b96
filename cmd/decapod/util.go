package main

import "strings"

// splitCSV splits a comma-separated flag value into a trimmed, non-empty
// slice, returning nil for an empty/whitespace-only input so callers can
// tell "flag not given" apart from "flag given with zero items".
func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
