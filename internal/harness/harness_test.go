package harness

import (
	"context"
	"testing"
	"time"

	"codelab-exec/internal/sandbox"
)

// scriptedRunner replays canned outputs keyed by test input.
type scriptedRunner struct {
	outputs map[string]*sandbox.RunResult
	errs    map[string]error
	delay   time.Duration
	calls   int
}

func (s *scriptedRunner) RunTest(ctx context.Context, input string, timeout time.Duration) (*sandbox.RunResult, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, sandbox.ErrTimeout
		}
	}
	if err, ok := s.errs[input]; ok {
		return nil, err
	}
	if out, ok := s.outputs[input]; ok {
		return out, nil
	}
	return &sandbox.RunResult{Stdout: "", ExitCode: 0}, nil
}

func TestRun_AllPassing(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]*sandbox.RunResult{
		"3,4":  {Stdout: "12\n", ExitCode: 0},
		"5,6":  {Stdout: "30\n", ExitCode: 0},
		"0,10": {Stdout: "0\n", ExitCode: 0},
	}}

	h := New(Config{CaseTimeout: time.Second})
	results := h.Run(context.Background(), runner, []TestCase{
		{Name: "small", InputData: "3,4", ExpectedOutput: "12"},
		{Name: "larger", InputData: "5,6", ExpectedOutput: "30"},
		{Name: "zero", InputData: "0,10", ExpectedOutput: "0"},
	}, time.Minute)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("case %q failed: %q", r.Name, r.Error)
		}
	}
	if !AllPassed(results) {
		t.Error("AllPassed = false for a passing batch")
	}
}

func TestRun_FailureDoesNotStopBatch(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]*sandbox.RunResult{
		"a": {Stdout: "wrong\n", ExitCode: 0},
		"b": {Stdout: "right\n", ExitCode: 0},
	}}

	h := New(Config{CaseTimeout: time.Second})
	results := h.Run(context.Background(), runner, []TestCase{
		{Name: "first", InputData: "a", ExpectedOutput: "right"},
		{Name: "second", InputData: "b", ExpectedOutput: "right"},
	}, time.Minute)

	if results[0].Passed {
		t.Error("first case should fail")
	}
	if !results[1].Passed {
		t.Error("second case should still run and pass")
	}
	if AllPassed(results) {
		t.Error("AllPassed = true with a failure present")
	}
}

func TestRun_StopOnFailure(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]*sandbox.RunResult{
		"a": {Stdout: "wrong\n", ExitCode: 0},
	}}

	h := New(Config{CaseTimeout: time.Second, StopOnFailure: true})
	results := h.Run(context.Background(), runner, []TestCase{
		{Name: "first", InputData: "a", ExpectedOutput: "right"},
		{Name: "second", InputData: "b", ExpectedOutput: ""},
		{Name: "third", InputData: "c", ExpectedOutput: ""},
	}, time.Minute)

	if runner.calls != 1 {
		t.Errorf("runner called %d times, want 1", runner.calls)
	}
	if results[1].Error != "not run" || results[2].Error != "not run" {
		t.Errorf("skipped cases should be marked not run: %+v", results[1:])
	}
}

func TestRun_CaseTimeout(t *testing.T) {
	runner := &scriptedRunner{errs: map[string]error{"slow": sandbox.ErrTimeout}}

	h := New(Config{CaseTimeout: 10 * time.Millisecond})
	results := h.Run(context.Background(), runner, []TestCase{
		{Name: "hangs", InputData: "slow", ExpectedOutput: "never"},
	}, time.Minute)

	if results[0].Passed {
		t.Error("timed out case marked passed")
	}
	if results[0].Error != "timeout" {
		t.Errorf("Error = %q, want timeout", results[0].Error)
	}
}

func TestRun_BudgetExhaustion(t *testing.T) {
	runner := &scriptedRunner{delay: 30 * time.Millisecond}

	h := New(Config{CaseTimeout: time.Second})
	results := h.Run(context.Background(), runner, []TestCase{
		{Name: "one", InputData: "x", ExpectedOutput: ""},
		{Name: "two", InputData: "y", ExpectedOutput: ""},
		{Name: "three", InputData: "z", ExpectedOutput: ""},
	}, 40*time.Millisecond)

	if len(results) != 3 {
		t.Fatalf("got %d results, want one per declared case", len(results))
	}
	last := results[2]
	if last.Error != "not run" && last.Error != "timeout" {
		t.Errorf("case past the budget = %+v, want not run or timeout", last)
	}
}

func TestRun_NonZeroExitCarriesStderr(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]*sandbox.RunResult{
		"x": {
			Stderr:   "Traceback (most recent call last):\n  File \"code.py\", line 1\nZeroDivisionError: division by zero",
			ExitCode: 1,
		},
	}}

	h := New(Config{CaseTimeout: time.Second})
	results := h.Run(context.Background(), runner, []TestCase{
		{Name: "crash", InputData: "x", ExpectedOutput: "1"},
	}, time.Minute)

	if results[0].Passed {
		t.Error("crashing case marked passed")
	}
	if results[0].Error != "ZeroDivisionError: division by zero" {
		t.Errorf("Error = %q, want the exception line", results[0].Error)
	}
}

func TestRun_EmptyBatch(t *testing.T) {
	h := New(Config{CaseTimeout: time.Second})
	results := h.Run(context.Background(), &scriptedRunner{}, nil, time.Minute)

	if len(results) != 0 {
		t.Errorf("got %d results for empty batch", len(results))
	}
	if !AllPassed(results) {
		t.Error("empty batch should count as passed")
	}
}
