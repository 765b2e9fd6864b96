package governance

import (
	"context"
	"database/sql"

	"github.com/decapodlabs/decapod/internal/interlock"
	"github.com/decapodlabs/decapod/internal/pool"
)

// TasksDBRelPath is the todo/task store consulted by plan execution
// readiness checks and verify's staleness scan.
const TasksDBRelPath = "data/todo.db"

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'open',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS task_verification (
	task_id TEXT PRIMARY KEY REFERENCES tasks(id),
	proof_plan TEXT NOT NULL DEFAULT '[]',
	verification_artifacts TEXT NOT NULL DEFAULT '{}',
	last_verified_at TEXT,
	last_verified_status TEXT,
	last_verified_notes TEXT,
	verification_policy_days INTEGER NOT NULL DEFAULT 90
);
`

// EnsureSchema creates the tasks/task_verification tables if absent.
func EnsureSchema(ctx context.Context, storeRoot string) error {
	return pool.WithWrite(ctx, taskDBPath(storeRoot), func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, schema)
		if err != nil {
			return interlock.Storage("STORAGE_ERROR", "could not initialize task store schema", err)
		}
		return nil
	})
}

func taskDBPath(storeRoot string) string {
	return storeRoot + "/" + TasksDBRelPath
}

// TaskExists reports whether a task with id exists in the store's task db,
// used by EnsureExecuteReady to validate a plan's candidate todo_ids.
func TaskExists(ctx context.Context, storeRoot, id string) (bool, error) {
	var exists bool
	err := pool.WithRead(ctx, taskDBPath(storeRoot), func(ctx context.Context, db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id)
		var one int
		scanErr := row.Scan(&one)
		if scanErr == sql.ErrNoRows {
			exists = false
			return nil
		}
		if scanErr != nil {
			return interlock.Storage("STORAGE_ERROR", "could not query task existence", scanErr)
		}
		exists = true
		return nil
	})
	return exists, err
}

// DoneTaskID pairs a done task with whatever verification metadata it has
// recorded, as returned by CollectUnverifiedDoneTasks.
type DoneTaskID struct {
	TaskID                  string
	ProofPlan               string
	VerificationArtifacts   string
	LastVerifiedAt          string
	VerificationPolicyDays  int
}

// CollectUnverifiedDoneTasks returns every task with status='done' whose
// task_verification row is absent or has empty verification_artifacts.
func CollectUnverifiedDoneTasks(ctx context.Context, storeRoot string) ([]DoneTaskID, error) {
	var out []DoneTaskID
	err := pool.WithRead(ctx, taskDBPath(storeRoot), func(ctx context.Context, db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT t.id,
			       COALESCE(v.proof_plan, '[]'),
			       COALESCE(v.verification_artifacts, '{}'),
			       COALESCE(v.last_verified_at, ''),
			       COALESCE(v.verification_policy_days, 90)
			FROM tasks t
			LEFT JOIN task_verification v ON v.task_id = t.id
			WHERE t.status = 'done'
			  AND (v.task_id IS NULL OR COALESCE(v.verification_artifacts, '') IN ('', '{}'))
			ORDER BY t.id
		`)
		if err != nil {
			return interlock.Storage("STORAGE_ERROR", "could not collect done tasks", err)
		}
		defer rows.Close()
		for rows.Next() {
			var d DoneTaskID
			if err := rows.Scan(&d.TaskID, &d.ProofPlan, &d.VerificationArtifacts, &d.LastVerifiedAt, &d.VerificationPolicyDays); err != nil {
				return interlock.Storage("STORAGE_ERROR", "could not scan task row", err)
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	return out, err
}

// CountDoneTasks returns the number of tasks with status='done'.
func CountDoneTasks(ctx context.Context, storeRoot string) (int, error) {
	var count int
	err := pool.WithRead(ctx, taskDBPath(storeRoot), func(ctx context.Context, db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE status = 'done'`)
		if err := row.Scan(&count); err != nil {
			return interlock.Storage("STORAGE_ERROR", "could not count done tasks", err)
		}
		return nil
	})
	return count, err
}

// Task is one row of the tasks table.
type Task struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// CreateTask inserts a new open task, the write half of the todo store
// plan execution readiness checks against via TaskExists.
func CreateTask(ctx context.Context, storeRoot, id, title string) error {
	if err := EnsureSchema(ctx, storeRoot); err != nil {
		return err
	}
	now := nowEpochZ()
	return pool.WithWrite(ctx, taskDBPath(storeRoot), func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO tasks (id, title, status, created_at, updated_at) VALUES (?, ?, 'open', ?, ?)`,
			id, title, now, now)
		if err != nil {
			return interlock.Storage("STORAGE_ERROR", "could not insert task", err)
		}
		return nil
	})
}

// SetTaskStatus transitions a task's status (e.g. to "done"), refreshing
// updated_at. NOT_FOUND if no row matches id.
func SetTaskStatus(ctx context.Context, storeRoot, id, status string) error {
	now := nowEpochZ()
	return pool.WithWrite(ctx, taskDBPath(storeRoot), func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, status, now, id)
		if err != nil {
			return interlock.Storage("STORAGE_ERROR", "could not update task status", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return interlock.Storage("STORAGE_ERROR", "could not confirm task update", err)
		}
		if n == 0 {
			return interlock.NotFound("TASK_NOT_FOUND", id)
		}
		return nil
	})
}

// ListTasks returns every task ordered by id, for reporting commands.
func ListTasks(ctx context.Context, storeRoot string) ([]Task, error) {
	var out []Task
	err := pool.WithRead(ctx, taskDBPath(storeRoot), func(ctx context.Context, db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `SELECT id, title, status, created_at, updated_at FROM tasks ORDER BY id`)
		if err != nil {
			return interlock.Storage("STORAGE_ERROR", "could not list tasks", err)
		}
		defer rows.Close()
		for rows.Next() {
			var t Task
			if err := rows.Scan(&t.ID, &t.Title, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
				return interlock.Storage("STORAGE_ERROR", "could not scan task row", err)
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}
