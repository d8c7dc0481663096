// Package sandbox runs submissions locally in a child process, one process
// per test case. It bounds time only; it does not isolate the code.
package sandbox

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/mcdev12/codeduel/go/internal/models"
	"github.com/rs/zerolog/log"
)

//go:embed harness.js
var nodeHarness []byte

const (
	exitRuntimeError = 1
	exitCompileError = 2
	exitNotFunction  = 3
	exitCallTimeout  = 4
)

const (
	MsgCompileError = "SyntaxError: Could not compile user code."
	MsgNotFunction  = "Invalid format. Expected module.exports = function (input) { ... }"
)

type ProcessConfig struct {
	// Command is the interpreter, invoked as
	// `<Command> <harness> <source> <case timeout ms>`.
	Command string
	// Harness is written next to the source. Defaults to the node harness.
	Harness     []byte
	HarnessName string
	// CaseTimeout bounds one call of the submitted function and is enforced
	// by the harness.
	CaseTimeout time.Duration
	// StartupTimeout is added to CaseTimeout for the whole child process, so
	// interpreter startup and module loading do not eat into the call budget.
	StartupTimeout time.Duration
}

func DefaultProcessConfig() ProcessConfig {
	return ProcessConfig{
		Command:        "node",
		Harness:        nodeHarness,
		HarnessName:    "harness.js",
		CaseTimeout:    300 * time.Millisecond,
		StartupTimeout: 2 * time.Second,
	}
}

type ProcessExecutor struct {
	config ProcessConfig
}

func NewProcessExecutor(config ProcessConfig) *ProcessExecutor {
	defaults := DefaultProcessConfig()
	if config.Command == "" {
		config.Command = defaults.Command
	}
	if len(config.Harness) == 0 {
		config.Harness = defaults.Harness
		config.HarnessName = defaults.HarnessName
	}
	if config.HarnessName == "" {
		config.HarnessName = defaults.HarnessName
	}
	if config.CaseTimeout <= 0 {
		config.CaseTimeout = defaults.CaseTimeout
	}
	if config.StartupTimeout <= 0 {
		config.StartupTimeout = defaults.StartupTimeout
	}
	return &ProcessExecutor{config: config}
}

// harnessResult is what the harness prints for a case that ran.
type harnessResult struct {
	Output    json.RawMessage `json:"output"`
	ElapsedMs float64         `json:"elapsed_ms"`
}

type caseOutcome int

const (
	casePassed caseOutcome = iota
	caseFailed
	caseCompileError
	caseNotFunction
)

// Execute runs source against every test case. A case that fails, throws or
// times out counts as not passed; a source that does not compile or does not
// export a function yields an error verdict.
func (e *ProcessExecutor) Execute(ctx context.Context, source string, tests []models.TestCase) (models.Verdict, error) {
	length := utf8.RuneCountInString(source)

	dir, err := os.MkdirTemp("", "codeduel-*")
	if err != nil {
		return models.Verdict{}, fmt.Errorf("failed to create sandbox dir: %w", err)
	}
	defer os.RemoveAll(dir)

	harnessPath := filepath.Join(dir, e.config.HarnessName)
	sourcePath := filepath.Join(dir, "solution.js")
	if err := os.WriteFile(harnessPath, e.config.Harness, 0o600); err != nil {
		return models.Verdict{}, fmt.Errorf("failed to write harness: %w", err)
	}
	if err := os.WriteFile(sourcePath, []byte(source), 0o600); err != nil {
		return models.Verdict{}, fmt.Errorf("failed to write source: %w", err)
	}

	passed := 0
	var elapsed float64
	for i, tc := range tests {
		if err := ctx.Err(); err != nil {
			return models.Verdict{}, err
		}

		outcome, ms, err := e.runCase(ctx, harnessPath, sourcePath, tc)
		if err != nil {
			return models.Verdict{}, fmt.Errorf("test case %d: %w", i, err)
		}
		switch outcome {
		case caseCompileError:
			return models.ErrorVerdict(MsgCompileError, len(tests), length), nil
		case caseNotFunction:
			return models.ErrorVerdict(MsgNotFunction, len(tests), length), nil
		case casePassed:
			passed++
		}
		elapsed += ms
	}

	return models.Verdict{
		PassedCount:     passed,
		TotalCount:      len(tests),
		ExecutionTimeMs: int64(math.Round(elapsed)),
		SourceLength:    length,
	}, nil
}

func (e *ProcessExecutor) runCase(ctx context.Context, harnessPath, sourcePath string, tc models.TestCase) (caseOutcome, float64, error) {
	limit := e.config.StartupTimeout + e.config.CaseTimeout
	caseCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	var stdout, stderr bytes.Buffer
	callMs := strconv.FormatInt(e.config.CaseTimeout.Milliseconds(), 10)
	cmd := exec.CommandContext(caseCtx, e.config.Command, harnessPath, sourcePath, callMs)
	cmd.Dir = filepath.Dir(sourcePath)
	cmd.Stdin = bytes.NewReader(tc.Input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = e.config.CaseTimeout

	err := cmd.Run()
	if caseCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		// hung before or after the call, e.g. a loop at module top level
		log.Debug().Dur("limit", limit).Msg("test case process killed")
		return caseFailed, 0, nil
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		switch exitErr.ExitCode() {
		case exitCompileError:
			return caseCompileError, 0, nil
		case exitNotFunction:
			return caseNotFunction, 0, nil
		case exitCallTimeout:
			log.Debug().Dur("timeout", e.config.CaseTimeout).Msg("test case timed out")
			return caseFailed, 0, nil
		default:
			log.Debug().
				Int("exit_code", exitErr.ExitCode()).
				Str("stderr", truncate(stderr.String(), 512)).
				Msg("test case failed")
			return caseFailed, 0, nil
		}
	default:
		return caseFailed, 0, fmt.Errorf("failed to run %s: %w", e.config.Command, err)
	}

	var result harnessResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		log.Debug().Err(err).Msg("unreadable harness output")
		return caseFailed, 0, nil
	}
	if !JSONEqual(result.Output, tc.ExpectedOutput) {
		return caseFailed, result.ElapsedMs, nil
	}
	return casePassed, result.ElapsedMs, nil
}

// JSONEqual reports whether a and b encode the same JSON value. Object key
// order and whitespace are ignored. An absent value equals nothing.
func JSONEqual(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
