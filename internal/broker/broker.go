// Package broker implements the group broker (C4): leader election over a
// lock file, a Unix-socket request forwarder, and exactly-once dedup with
// crash-phase markers. It funnels every mutation command through a single
// leader process per repository so that SQLite writes, event-log appends,
// and dedup records compose atomically from the caller's perspective.
package broker

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/decapodlabs/decapod/internal/canon"
	"github.com/decapodlabs/decapod/internal/interlock"
	"github.com/decapodlabs/decapod/internal/pool"
)

const (
	EnvInternal       = "DECAPOD_GROUP_BROKER_INTERNAL"
	EnvDisable        = "DECAPOD_GROUP_BROKER_DISABLE"
	EnvIdleSecs       = "DECAPOD_GROUP_BROKER_IDLE_SECS"
	EnvRequestID      = "DECAPOD_GROUP_BROKER_REQUEST_ID"
	EnvTestHookFile   = "DECAPOD_GROUP_BROKER_TEST_HOOK_FILE"
	EnvTestHaltPhase  = "DECAPOD_GROUP_BROKER_TEST_HALT_PHASE"
	EnvProtocolOverride = "DECAPOD_GROUP_BROKER_PROTOCOL_CLIENT_OVERRIDE"

	// ProtocolVersion is carried on every request and response from the
	// first commit (see SPEC_FULL.md open questions).
	ProtocolVersion = 1

	defaultIdleTimeout = 3 * time.Second
	acceptPollInterval = 25 * time.Millisecond
	socketIOTimeout     = 15 * time.Second
	leaderRetryBudget   = 40
)

// Request is the broker wire request, one JSON line terminated by \n.
type Request struct {
	RequestID       string   `json:"request_id"`
	Argv            []string `json:"argv"`
	PayloadHash     string   `json:"payload_hash"`
	ProtocolVersion int      `json:"protocol_version"`
}

// ResultEnvelope carries the executed subprocess's observable outcome.
type ResultEnvelope struct {
	RequestID   string `json:"request_id"`
	PayloadHash string `json:"payload_hash"`
	ExitCode    int    `json:"exit_code"`
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
}

// Status is the broker's commit outcome for one request.
type Status string

const (
	StatusCommitted    Status = "COMMITTED"
	StatusNotCommitted Status = "NOT_COMMITTED"
	StatusUnknown      Status = "UNKNOWN"
)

// Response is the broker wire response, one JSON line terminated by \n.
type Response struct {
	Status           Status         `json:"status"`
	CommitMarker     string         `json:"commit_marker,omitempty"`
	ResultEnvelope   ResultEnvelope `json:"result_envelope"`
	RetryAfterMsHint *int           `json:"retry_after_ms_hint,omitempty"`
	ProtocolVersion  int            `json:"protocol_version"`
}

// IsInternalInvocation reports whether this process is the leader's
// re-exec'd child executing a request payload.
func IsInternalInvocation() bool {
	return os.Getenv(EnvInternal) == "1"
}

func lockPath(decapodRoot string) string   { return filepath.Join(decapodRoot, "broker.lock") }
func socketPath(decapodRoot string) string { return filepath.Join(decapodRoot, "broker.sock") }

func hashPayload(argv []string) string {
	joined := strings.Join(argv, "\x00")
	return canon.HashBytes([]byte(joined + "\x00"))
}

func jitterMs(maxExclusive int64) time.Duration {
	if maxExclusive <= 1 {
		return 0
	}
	return time.Duration(rand.Int63n(maxExclusive)) * time.Millisecond
}

// MaybeRouteMutation routes argv through the broker unless broker routing
// is disabled or this is already the leader's internal re-exec. It returns
// true if the broker handled (and already printed the output of) the
// command, in which case the caller should exit immediately with that
// status reflected in the returned error (nil on success).
func MaybeRouteMutation(ctx context.Context, decapodRoot string, argv []string) (bool, error) {
	if os.Getenv(EnvDisable) == "1" {
		return false, nil
	}
	if IsInternalInvocation() {
		return false, nil
	}
	if err := os.MkdirAll(decapodRoot, 0o755); err != nil {
		return true, interlock.IO("BROKER_ROOT_MKDIR_FAILED", "could not create store root", err)
	}

	requestID := os.Getenv(EnvRequestID)
	if requestID == "" {
		requestID = ulid.Make().String()
	}
	req := Request{
		RequestID:       requestID,
		Argv:            argv,
		PayloadHash:     hashPayload(argv),
		ProtocolVersion: ProtocolVersion,
	}
	if v, err := strconv.Atoi(os.Getenv(EnvProtocolOverride)); err == nil {
		req.ProtocolVersion = v
	}
	mismatch := interlock.Protocol("BROKER_PROTOCOL_MISMATCH", "client/leader protocol version mismatch", nil)

	sock := socketPath(decapodRoot)
	lock := lockPath(decapodRoot)

	if resp, err := sendRequest(ctx, sock, req); err == nil {
		if resp.ProtocolVersion != req.ProtocolVersion {
			return true, mismatch
		}
		return true, applyResponse(resp)
	}

	for attempt := 0; attempt < leaderRetryBudget; attempt++ {
		lease, err := tryAcquireLock(lock)
		if err != nil {
			return true, err
		}
		if lease != nil {
			resp, runErr := runAsLeader(ctx, decapodRoot, lease, sock, req)
			if runErr != nil {
				return true, runErr
			}
			return true, applyResponse(resp)
		}
		if resp, err := sendRequest(ctx, sock, req); err == nil {
			if resp.ProtocolVersion != req.ProtocolVersion {
				return true, mismatch
			}
			return true, applyResponse(resp)
		}
		time.Sleep(10*time.Millisecond + jitterMs(30))
	}
	return true, interlock.Validation("BROKER_UNKNOWN", "unable to reach or acquire group broker")
}

// --- Leader election -------------------------------------------------------

type lease struct {
	path string
	file *os.File
}

func (l *lease) release() {
	l.file.Close()
	os.Remove(l.path)
}

// tryAcquireLock attempts O_CREATE|O_EXCL on the lock path. On success the
// caller becomes leader. On EEXIST it checks whether the recorded PID is
// still alive; a dead leader's stale lock is reclaimed.
func tryAcquireLock(path string) (*lease, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err == nil {
		fmt.Fprintf(f, "%d", os.Getpid())
		return &lease{path: path, file: f}, nil
	}
	if !os.IsExist(err) {
		return nil, interlock.IO("BROKER_LOCK_OPEN_FAILED", "could not open broker lock", err)
	}

	if stalePID(path) {
		_ = os.Remove(path)
		f2, err2 := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
		if err2 == nil {
			fmt.Fprintf(f2, "%d", os.Getpid())
			return &lease{path: path, file: f2}, nil
		}
	}
	return nil, nil
}

// stalePID reports whether the PID recorded in the lock file at path no
// longer corresponds to a live process.
func stalePID(path string) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) != nil
}

// --- Leadership loop --------------------------------------------------------

func idleTimeout() time.Duration {
	if v := os.Getenv(EnvIdleSecs); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultIdleTimeout
}

// dedupeDBRelPath is the persisted exactly-once record (I7): before
// dispatch, the leader checks this table for an existing row with the
// same request_id and, if that row is COMMITTED, replays its recorded
// response instead of re-running the mutation. Persisted (not in-memory) so a request retried
// across a leader re-election still dedups correctly.
const dedupeDBRelPath = "data/broker_dedupe.db"

const dedupeSchema = `
CREATE TABLE IF NOT EXISTS dedupe (
	request_id TEXT PRIMARY KEY,
	response_json TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);
`

func dedupeDBPath(decapodRoot string) string {
	return filepath.Join(decapodRoot, dedupeDBRelPath)
}

// dedupe is a handle on one repo's broker_dedupe.db.
type dedupe struct {
	decapodRoot string
}

func newDedupe(decapodRoot string) *dedupe {
	return &dedupe{decapodRoot: decapodRoot}
}

func (d *dedupe) ensureSchema(ctx context.Context) error {
	return pool.WithWrite(ctx, dedupeDBPath(d.decapodRoot), func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, dedupeSchema)
		if err != nil {
			return interlock.Storage("STORAGE_ERROR", "could not initialize broker dedup store", err)
		}
		return nil
	})
}

func (d *dedupe) lookup(ctx context.Context, requestID string) (Response, bool) {
	var resp Response
	found := false
	_ = pool.WithRead(ctx, dedupeDBPath(d.decapodRoot), func(ctx context.Context, db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT response_json FROM dedupe WHERE request_id = ?`, requestID)
		var raw string
		if err := row.Scan(&raw); err != nil {
			return nil
		}
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			return nil
		}
		found = true
		return nil
	})
	return resp, found
}

func (d *dedupe) record(ctx context.Context, requestID string, resp Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = pool.WithWrite(ctx, dedupeDBPath(d.decapodRoot), func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT OR REPLACE INTO dedupe (request_id, response_json, recorded_at) VALUES (?, ?, ?)`,
			requestID, string(raw), time.Now().UTC().Format("2006-01-02T15:04:05Z"))
		return err
	})
}

func runAsLeader(ctx context.Context, decapodRoot string, l *lease, sock string, localReq Request) (Response, error) {
	defer l.release()

	os.Remove(sock)
	listener, err := net.Listen("unix", sock)
	if err != nil {
		return Response{}, interlock.IO("BROKER_LISTEN_FAILED", "could not bind broker socket", err)
	}
	defer listener.Close()
	defer os.Remove(sock)

	dedup := newDedupe(decapodRoot)
	if err := dedup.ensureSchema(ctx); err != nil {
		return Response{}, err
	}
	localResp := executeRequestOnce(ctx, localReq, dedup)

	var mu sync.Mutex
	lastActivity := time.Now()
	idle := idleTimeout()

	unixListener := listener.(*net.UnixListener)
	for {
		mu.Lock()
		elapsed := time.Since(lastActivity)
		mu.Unlock()
		if elapsed >= idle {
			break
		}

		unixListener.SetDeadline(time.Now().Add(acceptPollInterval))
		conn, err := unixListener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			time.Sleep(acceptPollInterval)
			continue
		}
		if handleClient(ctx, conn, dedup) == nil {
			mu.Lock()
			lastActivity = time.Now()
			mu.Unlock()
		}
	}

	return localResp, nil
}

func handleClient(ctx context.Context, conn net.Conn, dedup *dedupe) error {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(socketIOTimeout))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	var req Request
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &req); err != nil {
		resp := protocolErrorResponse("BROKER_PROTOCOL_INVALID_REQUEST", err)
		writeResponse(conn, resp)
		return err
	}
	if req.ProtocolVersion != 0 && req.ProtocolVersion != ProtocolVersion {
		resp := Response{
			Status:          StatusUnknown,
			ResultEnvelope:  ResultEnvelope{RequestID: req.RequestID},
			ProtocolVersion: ProtocolVersion,
		}
		writeResponse(conn, resp)
		return interlock.Protocol("BROKER_PROTOCOL_MISMATCH", "client/leader protocol version mismatch", nil)
	}

	resp := executeRequestOnce(ctx, req, dedup)
	return writeResponse(conn, resp)
}

func writeResponse(w io.Writer, resp Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(body, '\n')); err != nil {
		return err
	}
	return nil
}

func protocolErrorResponse(code string, err error) Response {
	return Response{
		Status:          StatusUnknown,
		ResultEnvelope:  ResultEnvelope{Stderr: fmt.Sprintf("%s: %v", code, err)},
		ProtocolVersion: ProtocolVersion,
	}
}

// --- Client-side socket I/O --------------------------------------------------

func sendRequest(ctx context.Context, sock string, req Request) (Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", sock)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(socketIOTimeout))

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, interlock.Validation("BROKER_PROTOCOL_ENCODE_ERROR", err.Error())
	}
	if _, err := conn.Write(append(body, '\n')); err != nil {
		return Response{}, err
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &resp); err != nil {
		return Response{}, interlock.Protocol("BROKER_PROTOCOL_INVALID_RESPONSE", err.Error(), err)
	}
	return resp, nil
}

// --- Dispatch (self re-exec) --------------------------------------------------

// executeRequestOnce checks the dedup record before dispatch (I7): a
// request_id already COMMITTED by this leader (even a prior, now-dead one)
// replays its recorded response instead of re-executing the mutation a
// second time. A recorded NOT_COMMITTED or UNKNOWN response is re-executed.
func executeRequestOnce(ctx context.Context, req Request, dedup *dedupe) Response {
	if cached, ok := dedup.lookup(ctx, req.RequestID); ok && cached.Status == StatusCommitted {
		return cached
	}
	return executeRequest(ctx, req, dedup)
}

func executeRequest(ctx context.Context, req Request, dedup *dedupe) Response {
	markPhase(req.RequestID, "queued")

	exe, err := os.Executable()
	if err != nil {
		return Response{
			Status:          StatusUnknown,
			ResultEnvelope:  ResultEnvelope{RequestID: req.RequestID, PayloadHash: req.PayloadHash},
			ProtocolVersion: ProtocolVersion,
		}
	}

	markPhase(req.RequestID, "pre_exec")
	haltIfRequested("pre_exec")

	cmd := exec.CommandContext(ctx, exe, req.Argv...)
	cmd.Env = append(os.Environ(), EnvInternal+"=1", EnvRequestID+"="+req.RequestID)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	code := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = 1
		}
	}

	envelope := ResultEnvelope{
		RequestID:   req.RequestID,
		PayloadHash: req.PayloadHash,
		ExitCode:    code,
		Stdout:      stdout.String(),
		Stderr:      stderr.String(),
	}

	status := StatusCommitted
	var retryHint *int
	if code != 0 {
		status = StatusNotCommitted
		hint := 5000
		retryHint = &hint
	}

	resp := Response{
		Status:           status,
		CommitMarker:     fmt.Sprintf("%dZ:%s", time.Now().Unix(), ulid.Make().String()),
		ResultEnvelope:   envelope,
		RetryAfterMsHint: retryHint,
		ProtocolVersion:  ProtocolVersion,
	}

	// The subprocess has already run to completion, so whatever it committed
	// to disk is permanent — record the dedup row now, before the
	// post_exec_pre_ack crash-injection point below, so a leader killed at
	// that point still leaves a retry able to replay this response instead
	// of re-dispatching (and re-failing on) an already-committed mutation.
	dedup.record(ctx, req.RequestID, resp)

	markPhase(req.RequestID, "post_exec_pre_ack")
	haltIfRequested("post_exec_pre_ack")

	return resp
}

func applyResponse(resp Response) error {
	if resp.ResultEnvelope.Stdout != "" {
		fmt.Print(resp.ResultEnvelope.Stdout)
	}
	if resp.ResultEnvelope.Stderr != "" {
		fmt.Fprint(os.Stderr, resp.ResultEnvelope.Stderr)
	}

	switch resp.Status {
	case StatusCommitted:
		return nil
	case StatusNotCommitted:
		return interlock.Validation(
			"BROKER_NOT_COMMITTED",
			fmt.Sprintf("request failed (commit_marker=%s)", orNone(resp.CommitMarker)),
		)
	default:
		hint := 5000
		if resp.RetryAfterMsHint != nil {
			hint = *resp.RetryAfterMsHint
		}
		return interlock.Validation(
			"BROKER_UNKNOWN",
			fmt.Sprintf("no final confirmation (retry_after_ms_hint=%d)", hint),
		)
	}
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}

// --- Crash-phase test hooks --------------------------------------------------

// markPhase appends a phase marker line to the test hook file, if configured.
// Production runs leave EnvTestHookFile unset, making this a no-op.
func markPhase(requestID, phase string) {
	path := os.Getenv(EnvTestHookFile)
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s %s\n", requestID, phase)
}

// haltIfRequested simulates a leader crash by exiting immediately once the
// configured phase is reached, for crash-recovery tests (§8 scenario 2).
func haltIfRequested(phase string) {
	if os.Getenv(EnvTestHaltPhase) == phase {
		os.Exit(137)
	}
}
