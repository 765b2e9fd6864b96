// Package pool manages per-database SQLite connections: a write mutex per
// database path plus fresh, short-lived connections for every call. It never
// caches a live connection across calls, since the kernel's mutation path
// re-execs itself as a child process that reopens the same databases —
// a cached connection pool would deadlock on WAL/SHM file handles inherited
// across that fork.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	// WriteBusyTimeout bounds how long a write connection waits on SQLITE_BUSY
	// before the driver itself reports busy back to us.
	WriteBusyTimeout = 5 * time.Second
	// ReadBusyTimeout is identical for read connections.
	ReadBusyTimeout = 5 * time.Second

	maxRetries   = 5
	baseDelay    = 100 * time.Millisecond
	maxDelay     = 5 * time.Second
)

// mutexes holds one *sync.Mutex per database path, created on first use and
// never removed for the lifetime of the process. This is the kernel's one
// deliberate piece of global mutable state (see SPEC_FULL.md); the map is
// append-only so lookups are uncontended after warmup.
var mutexes sync.Map // map[string]*sync.Mutex

func mutexFor(dbPath string) *sync.Mutex {
	if m, ok := mutexes.Load(dbPath); ok {
		return m.(*sync.Mutex)
	}
	m, _ := mutexes.LoadOrStore(dbPath, &sync.Mutex{})
	return m.(*sync.Mutex)
}

func dsn(dbPath string, busyTimeout time.Duration) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", dbPath, busyTimeout.Milliseconds())
}

func isBusyOrLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "sqlite_busy") || strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_locked")
}

// retryOnBusy runs fn up to maxRetries times with bounded exponential
// backoff (base 100ms, cap 5s), retrying only on SQLITE_BUSY/SQLITE_LOCKED.
// Any other error propagates on the first attempt.
func retryOnBusy(fn func() error) error {
	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt < maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isBusyOrLocked(lastErr) {
			return lastErr
		}
		jitter := time.Duration(rand.Int63n(int64(delay) / 2 + 1))
		time.Sleep(delay + jitter)
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return lastErr
}

// WithWrite acquires the per-database write mutex for dbPath, opens a fresh
// connection with a 5s busy timeout, runs fn, and closes the connection
// before releasing the mutex. Busy/locked errors are retried transparently;
// everything else propagates immediately.
func WithWrite(ctx context.Context, dbPath string, fn func(ctx context.Context, db *sql.DB) error) error {
	mu := mutexFor(dbPath)
	mu.Lock()
	defer mu.Unlock()

	return retryOnBusy(func() error {
		db, err := sql.Open("sqlite", dsn(dbPath, WriteBusyTimeout))
		if err != nil {
			return err
		}
		defer db.Close()
		db.SetMaxOpenConns(1)
		return fn(ctx, db)
	})
}

// WithRead opens a fresh read connection (no mutex — WAL mode permits
// unbounded concurrent readers), runs fn, and closes it.
func WithRead(ctx context.Context, dbPath string, fn func(ctx context.Context, db *sql.DB) error) error {
	return retryOnBusy(func() error {
		db, err := sql.Open("sqlite", dsn(dbPath, ReadBusyTimeout))
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(ctx, db)
	})
}

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("pool: not found")

// IsNotFound reports whether err indicates an absent row, unwrapping
// sql.ErrNoRows as well as the package sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
