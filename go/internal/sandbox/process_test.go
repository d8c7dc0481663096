package sandbox

import (
	"context"
	"encoding/json"
	"os/exec"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mcdev12/codeduel/go/internal/models"
	"github.com/mcdev12/codeduel/go/internal/puzzles"
)

func TestJSONEqual(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{`[0,1]`, `[0, 1]`, true},
		{`{"a":1,"b":[1,2]}`, `{ "b": [1,2], "a": 1 }`, true},
		{`1`, `1.0`, true},
		{`[1,0]`, `[0,1]`, false},
		{`"1"`, `1`, false},
		{`null`, `null`, true},
		{``, `null`, false},
		{`{`, `{}`, false},
	}
	for _, tt := range tests {
		if got := JSONEqual(json.RawMessage(tt.a), json.RawMessage(tt.b)); got != tt.want {
			t.Errorf("JSONEqual(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

// echoHarness stands in for node: it echoes the input back as the output and
// reacts to a few magic sources. $2 is the call timeout in milliseconds.
const echoHarness = `src=$(cat "$1")
case "$src" in
  compile_error) exit 2 ;;
  not_function) exit 3 ;;
  throws) exit 1 ;;
  call_timeout) exit 4 ;;
  slow) exec sleep 5 ;;
  slow_start) sleep 0.5 ;;
  call_ms) printf '{"output": %s, "elapsed_ms": 0}' "$2"; exit 0 ;;
esac
input=$(cat)
printf '{"output": %s, "elapsed_ms": 1.4}' "$input"
`

func newShellExecutor(t *testing.T) *ProcessExecutor {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	return NewProcessExecutor(ProcessConfig{
		Command:        "sh",
		Harness:        []byte(echoHarness),
		HarnessName:    "harness.sh",
		CaseTimeout:    200 * time.Millisecond,
		StartupTimeout: time.Second,
	})
}

func echoCases() []models.TestCase {
	return []models.TestCase{
		{Input: json.RawMessage(`{"a":1,"b":[1,2]}`), ExpectedOutput: json.RawMessage(`{"b":[1,2],"a":1}`)},
		{Input: json.RawMessage(`[0,1]`), ExpectedOutput: json.RawMessage(`[0,1]`)},
		{Input: json.RawMessage(`[1,2]`), ExpectedOutput: json.RawMessage(`[2,1]`)},
	}
}

func TestProcessExecutorCountsPasses(t *testing.T) {
	e := newShellExecutor(t)

	got, err := e.Execute(context.Background(), "echo", echoCases())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := models.Verdict{PassedCount: 2, TotalCount: 3, ExecutionTimeMs: 4, SourceLength: 4}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("verdict mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessExecutorErrorVerdicts(t *testing.T) {
	e := newShellExecutor(t)

	tests := []struct {
		source  string
		wantErr string
	}{
		{"compile_error", MsgCompileError},
		{"not_function", MsgNotFunction},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			got, err := e.Execute(context.Background(), tt.source, echoCases())
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if got.Error == nil || *got.Error != tt.wantErr || got.PassedCount != 0 || got.TotalCount != 3 {
				t.Fatalf("unexpected verdict: %+v", got)
			}
		})
	}
}

func TestProcessExecutorFailedCasesContinue(t *testing.T) {
	e := newShellExecutor(t)

	for _, source := range []string{"throws", "call_timeout", "slow"} {
		t.Run(source, func(t *testing.T) {
			start := time.Now()
			got, err := e.Execute(context.Background(), source, echoCases()[:2])
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if got.Error != nil || got.PassedCount != 0 || got.TotalCount != 2 {
				t.Fatalf("unexpected verdict: %+v", got)
			}
			if time.Since(start) > 3*time.Second {
				t.Fatalf("per-case timeout not enforced")
			}
		})
	}
}

func TestProcessExecutorStartupOutsideCallBudget(t *testing.T) {
	e := newShellExecutor(t)

	// startup takes longer than CaseTimeout but stays inside the startup allowance
	got, err := e.Execute(context.Background(), "slow_start", echoCases()[:1])
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.PassedCount != 1 || got.TotalCount != 1 {
		t.Fatalf("slow startup counted against the case: %+v", got)
	}
}

func TestProcessExecutorPassesCallTimeout(t *testing.T) {
	e := newShellExecutor(t)

	cases := []models.TestCase{{Input: json.RawMessage(`null`), ExpectedOutput: json.RawMessage(`200`)}}
	got, err := e.Execute(context.Background(), "call_ms", cases)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.PassedCount != 1 {
		t.Fatalf("harness did not receive the call timeout: %+v", got)
	}
}

func TestProcessExecutorCancelled(t *testing.T) {
	e := newShellExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Execute(ctx, "echo", echoCases()); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}

func TestNodeHarnessTwoSum(t *testing.T) {
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node not available")
	}
	e := NewProcessExecutor(DefaultProcessConfig())
	cases := puzzles.DefaultCatalog()[0].TestCases

	const twoSum = `module.exports = function ({ nums, target }) {
  for (let i = 0; i < nums.length; i++) {
    for (let j = i + 1; j < nums.length; j++) {
      if (nums[i] + nums[j] === target) return [i, j];
    }
  }
  return [];
};`

	tests := []struct {
		name       string
		source     string
		wantPassed int
		wantErr    string
	}{
		{"correct", twoSum, 3, ""},
		{"syntax error", "module.exports = function (", 0, MsgCompileError},
		{"not a function", "module.exports = 42", 0, MsgNotFunction},
		{"infinite loop", "module.exports = function () { while (true) {} }", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Execute(context.Background(), tt.source, cases)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if got.PassedCount != tt.wantPassed || got.TotalCount != len(cases) {
				t.Fatalf("passed %d/%d, want %d/%d", got.PassedCount, got.TotalCount, tt.wantPassed, len(cases))
			}
			var gotErr string
			if got.Error != nil {
				gotErr = *got.Error
			}
			if gotErr != tt.wantErr {
				t.Fatalf("error = %q, want %q", gotErr, tt.wantErr)
			}
		})
	}
}
