// Package eventlog implements the append-only JSONL event log that is the
// kernel's ledger-as-truth: every subsystem's durable state is a pure
// function of replaying its log from the start (I3).
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/oklog/ulid/v2"

	"github.com/decapodlabs/decapod/internal/interlock"
)

// Event is one line of a subsystem's event log.
type Event struct {
	EventID  string          `json:"event_id"`
	TS       string          `json:"ts"`
	Actor    string          `json:"actor"`
	Op       string          `json:"op"`
	Request  json.RawMessage `json:"request,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

// NewEventID returns a new ULID string, monotonic within a process via the
// default entropy source's time component.
func NewEventID() string {
	return ulid.Make().String()
}

// Log is a handle onto one subsystem's JSONL file on disk.
type Log struct {
	path string
}

// Open returns a Log bound to path. It does not create the file — Append
// does that lazily on first write.
func Open(path string) *Log {
	return &Log{path: path}
}

// Append writes one event as a single JSONL line under an exclusive flock,
// so concurrent appenders (a caller and a re-exec'd child, say) never
// interleave partial lines.
func (l *Log) Append(ev Event) error {
	if l.path == "" {
		return interlock.IO("EVENT_LOG_NO_PATH", "event log has no path set", nil)
	}
	if ev.EventID == "" {
		ev.EventID = NewEventID()
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return interlock.IO("EVENT_LOG_MKDIR_FAILED", "could not create event log directory", err)
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return interlock.IO("EVENT_LOG_OPEN_FAILED", "could not open event log", err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return interlock.IO("EVENT_LOG_LOCK_FAILED", "could not lock event log", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	line, err := json.Marshal(ev)
	if err != nil {
		return interlock.Validation("EVENT_LOG_ENCODE_FAILED", err.Error())
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return interlock.IO("EVENT_LOG_WRITE_FAILED", "could not write event", err)
	}
	return f.Sync()
}

// ReadAll parses every line in the log. A malformed line is reported with
// its 1-indexed line number so validate can pinpoint the parse-site (§8
// boundary behavior: "Malformed JSONL line").
func (l *Log) ReadAll() ([]Event, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, interlock.IO("EVENT_LOG_READ_FAILED", "could not open event log", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, interlock.Validation(
				"EVENT_LOG_PARSE_FAILED",
				fmt.Sprintf("%s:%d: %v", l.path, lineNum, err),
			)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, interlock.IO("EVENT_LOG_SCAN_FAILED", "error scanning event log", err)
	}
	return events, nil
}

// CheckUniqueEventIDs enforces I2 across a set of events (typically all
// subsystem logs concatenated). Returns the first duplicate found, if any.
func CheckUniqueEventIDs(events []Event) error {
	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if _, dup := seen[ev.EventID]; dup {
			return interlock.Validation(
				"EVENT_LOG_DUPLICATE_EVENT_ID",
				fmt.Sprintf("duplicate event_id %q", ev.EventID),
			)
		}
		seen[ev.EventID] = struct{}{}
	}
	return nil
}

// Rebuild is the generic replay contract: fold applies each event in order
// onto state built from zero, so rebuild is a pure function of the log
// (I3). Callers provide a per-subsystem fold function and a zero value.
func Rebuild[S any](events []Event, zero S, fold func(state S, ev Event) (S, error)) (S, error) {
	state := zero
	for _, ev := range events {
		var err error
		state, err = fold(state, ev)
		if err != nil {
			return zero, err
		}
	}
	return state, nil
}
