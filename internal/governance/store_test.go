package governance

import (
	"context"
	"testing"

	"github.com/decapodlabs/decapod/internal/interlock"
)

func TestCreateTaskThenListTasks(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	if err := CreateTask(ctx, dir, "T1", "first task"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := CreateTask(ctx, dir, "T2", "second task"); err != nil {
		t.Fatalf("create: %v", err)
	}

	tasks, err := ListTasks(ctx, dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].ID != "T1" || tasks[0].Status != "open" {
		t.Fatalf("unexpected task[0]: %+v", tasks[0])
	}
}

func TestSetTaskStatusTransitionsAndRejectsUnknown(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	if err := CreateTask(ctx, dir, "T1", "a task"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := SetTaskStatus(ctx, dir, "T1", "done"); err != nil {
		t.Fatalf("set status: %v", err)
	}

	tasks, err := ListTasks(ctx, dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if tasks[0].Status != "done" {
		t.Fatalf("expected status done, got %q", tasks[0].Status)
	}

	err = SetTaskStatus(ctx, dir, "missing", "done")
	if err == nil {
		t.Fatal("expected NOT_FOUND for unknown task id")
	}
	derr, ok := err.(*interlock.Error)
	if !ok || derr.Code != "TASK_NOT_FOUND" {
		t.Fatalf("expected TASK_NOT_FOUND, got %v", err)
	}
}

func TestTaskExistsReflectsCreateTask(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	exists, err := TaskExists(ctx, dir, "T1")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("expected task to not exist before creation")
	}

	if err := CreateTask(ctx, dir, "T1", "a task"); err != nil {
		t.Fatalf("create: %v", err)
	}

	exists, err = TaskExists(ctx, dir, "T1")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Fatal("expected task to exist after creation")
	}
}
