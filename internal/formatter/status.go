package formatter

import "github.com/fatih/color"

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
)

// PassFail renders a boolean as a colorized "yes"/"no" for terminal text
// output. Colors are only emitted when stdout is a terminal;
// fatih/color detects this itself via isatty.
func PassFail(b bool) string {
	if b {
		return green.Sprint("yes")
	}
	return red.Sprint("no")
}

// Status colorizes a free-form status word: green for an outcome that
// reads as success, red for failure, yellow for anything in between
// (unknown, stale, skipped, pending).
func Status(s string) string {
	switch s {
	case "pass", "passed", "done", "ok", "committed":
		return green.Sprint(s)
	case "fail", "failed", "error":
		return red.Sprint(s)
	default:
		return yellow.Sprint(s)
	}
}
