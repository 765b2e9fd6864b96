// Command decapod is the daemonless, repo-native governance kernel CLI:
// a single static binary that every group member in a multi-agent session
// invokes directly, coordinating through on-disk state (SQLite + JSONL
// event logs under .decapod/) rather than a long-running server process.
package main

// version is stamped at release time via -ldflags "-X main.version=...".
// It stays "dev" for local/unreleased builds.
var version = "dev"

func main() {
	Execute()
}
