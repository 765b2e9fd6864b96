// Package proof implements the configurable proof registry (C11):
// .decapod/proofs.toml names executable checks; run executes them
// concurrently, truncates captured stdout, and appends an audit event per
// proof in declaration order.
// Grounded on original_source/src/core/proof.rs.
package proof

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/naoina/toml"

	"github.com/decapodlabs/decapod/internal/eventlog"
	"github.com/decapodlabs/decapod/internal/interlock"
	"github.com/decapodlabs/decapod/internal/worker"
)

const configRelPath = "proofs.toml"
const eventsRelPath = "data/proof.events.jsonl"
const outputTruncateChars = 1000

// Def is one named proof declared in proofs.toml.
type Def struct {
	Name        string   `toml:"name"`
	Command     string   `toml:"command"`
	Args        []string `toml:"args"`
	Description string   `toml:"description"`
	Required    bool     `toml:"required"`
}

// Config is the top-level proofs.toml shape.
type Config struct {
	Proof []Def `toml:"proof"`
}

// rawDef mirrors Def but leaves Required unset when the key is absent, so
// LoadConfig can apply proofs.toml's "required defaults to true" rule
// instead of toml.Unmarshal's zero-value false.
type rawDef struct {
	Name        string   `toml:"name"`
	Command     string   `toml:"command"`
	Args        []string `toml:"args"`
	Description string   `toml:"description"`
	Required    *bool    `toml:"required"`
}

type rawConfig struct {
	Proof []rawDef `toml:"proof"`
}

// Result is one proof's outcome.
type Result struct {
	Name       string `json:"name"`
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	Passed     bool   `json:"passed"`
	Output     string `json:"output"`
	Required   bool   `json:"required"`
}

// Summary aggregates one full proof run.
type Summary struct {
	RunID     string   `json:"run_id"`
	TS        string   `json:"ts"`
	Total     int      `json:"total"`
	Passed    int      `json:"passed"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	AllPassed bool     `json:"all_passed"`
	Results   []Result `json:"results"`
}

func nowEpochZ() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// LoadConfig reads .decapod/proofs.toml. Absence is not an error — it
// means no proofs are configured.
func LoadConfig(storeRoot string) (Config, error) {
	path := filepath.Join(storeRoot, configRelPath)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, interlock.IO("PROOF_CONFIG_READ_FAILED", "could not read proofs.toml", err)
	}
	var raw2 rawConfig
	if err := toml.Unmarshal(raw, &raw2); err != nil {
		return Config{}, interlock.Validation("PROOF_CONFIG_INVALID", err.Error())
	}

	cfg := Config{Proof: make([]Def, 0, len(raw2.Proof))}
	for _, rd := range raw2.Proof {
		required := true
		if rd.Required != nil {
			required = *rd.Required
		}
		cfg.Proof = append(cfg.Proof, Def{
			Name:        rd.Name,
			Command:     rd.Command,
			Args:        rd.Args,
			Description: rd.Description,
			Required:    required,
		})
	}
	return cfg, nil
}

func runSingle(ctx context.Context, def Def, workingDir string) Result {
	start := time.Now()
	cmd := exec.CommandContext(ctx, def.Command, def.Args...)
	cmd.Dir = workingDir
	stdout, err := cmd.Output()

	exitCode := 0
	var stderr []byte
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
		stderr = exitErr.Stderr
	} else if err != nil {
		exitCode = -1
	}

	duration := time.Since(start)
	truncated := string(stdout)
	if len(truncated) > outputTruncateChars {
		truncated = truncated[:outputTruncateChars]
	}

	return Result{
		Name:       def.Name,
		Command:    def.Command,
		ExitCode:   exitCode,
		DurationMs: duration.Milliseconds(),
		Passed:     exitCode == 0,
		Output:     truncated + "\n" + string(stderr),
		Required:   def.Required,
	}
}

// Run executes every configured proof concurrently, appends a proof event
// per result in declaration order, and returns the aggregate summary. A required proof failing
// sets AllPassed=false but never aborts the remaining proofs — every proof
// in the plan always runs so the summary reflects the whole battery.
func Run(ctx context.Context, storeRoot, workingDir, runID, actor string) (Summary, error) {
	cfg, err := LoadConfig(storeRoot)
	if err != nil {
		return Summary{}, err
	}

	ts := nowEpochZ()
	log := eventlog.Open(filepath.Join(storeRoot, eventsRelPath))

	// Each proof is an independent subprocess, so run them concurrently and
	// let the worker pool preserve result order; events are then appended
	// in that same order so the log still reads as "executed in order"
	// even though the commands themselves overlapped in wall-clock time.
	pool := worker.NewPool[Result](0)
	outcomes := pool.ProcessN(len(cfg.Proof), func(i int) (Result, error) {
		return runSingle(ctx, cfg.Proof[i], workingDir), nil
	})

	summary := Summary{RunID: runID, TS: ts}
	for i, def := range cfg.Proof {
		result := outcomes[i].Value
		summary.Results = append(summary.Results, result)
		summary.Total++
		if result.Passed {
			summary.Passed++
		} else if result.Required {
			summary.Failed++
		} else {
			summary.Skipped++
		}

		payload, _ := json.Marshal(map[string]any{
			"run_id":      runID,
			"proof_name":  def.Name,
			"command":     def.Command,
			"exit_code":   result.ExitCode,
			"duration_ms": result.DurationMs,
			"passed":      result.Passed,
			"required":    result.Required,
		})
		if appendErr := log.Append(eventlog.Event{
			TS:      ts,
			Actor:   actor,
			Op:      "proof.run",
			Request: payload,
		}); appendErr != nil {
			return Summary{}, appendErr
		}
	}

	summary.AllPassed = summary.Failed == 0
	return summary, nil
}
