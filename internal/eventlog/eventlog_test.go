package eventlog

import (
	"path/filepath"
	"testing"
)

func TestAppendAndReadAllRoundTrip(t *testing.T) {
	dir := t.TempDir()
	log := Open(filepath.Join(dir, "todo.events.jsonl"))

	if err := log.Append(Event{Actor: "agent/a", Op: "todo.add"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := log.Append(Event{Actor: "agent/b", Op: "todo.claim"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := log.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventID == "" || events[1].EventID == "" {
		t.Fatal("expected auto-assigned event IDs")
	}
	if events[0].EventID == events[1].EventID {
		t.Fatal("expected distinct event IDs")
	}
}

func TestReadAllOnMissingFileReturnsEmpty(t *testing.T) {
	log := Open(filepath.Join(t.TempDir(), "missing.jsonl"))
	events, err := log.ReadAll()
	if err != nil {
		t.Fatalf("expected no error for missing log, got %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected empty event log, got %d events", len(events))
	}
}

func TestCheckUniqueEventIDsDetectsDuplicate(t *testing.T) {
	events := []Event{{EventID: "A"}, {EventID: "B"}, {EventID: "A"}}
	if err := CheckUniqueEventIDs(events); err == nil {
		t.Fatal("expected duplicate event_id error")
	}
}

func TestRebuildIsPureFunctionOfLog(t *testing.T) {
	events := []Event{
		{EventID: "1", Op: "inc"},
		{EventID: "2", Op: "inc"},
		{EventID: "3", Op: "dec"},
	}
	fold := func(state int, ev Event) (int, error) {
		switch ev.Op {
		case "inc":
			return state + 1, nil
		case "dec":
			return state - 1, nil
		}
		return state, nil
	}

	first, err := Rebuild(events, 0, fold)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Rebuild(events, 0, fold)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("rebuild should be deterministic: %d != %d", first, second)
	}
	if first != 1 {
		t.Fatalf("expected state 1, got %d", first)
	}
}

func TestRebuildEmptyLogReturnsZeroWithoutError(t *testing.T) {
	state, err := Rebuild[int](nil, 0, func(s int, ev Event) (int, error) { return s + 1, nil })
	if err != nil {
		t.Fatal(err)
	}
	if state != 0 {
		t.Fatalf("expected zero state for empty log, got %d", state)
	}
}
