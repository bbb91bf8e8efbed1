package harness

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"codelab-exec/internal/sandbox"
)

// TestCase is one declared input/expected-output pair.
type TestCase struct {
	Name           string `json:"name"`
	InputData      string `json:"input_data"`
	ExpectedOutput string `json:"expected_output"`
}

// TestResult is the outcome for one test case. Results are parallel to
// the declared cases: every case gets exactly one entry, in order, even
// when the batch stops early.
type TestResult struct {
	Name         string        `json:"name"`
	Passed       bool          `json:"passed"`
	ActualOutput string        `json:"actual_output"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
}

const (
	errTimeout = "timeout"
	errNotRun  = "not run"
)

// Config controls harness behavior.
type Config struct {
	// CaseTimeout bounds a single test case. The effective bound is the
	// smaller of this and the request's remaining wall budget.
	CaseTimeout time.Duration

	// StopOnFailure stops the batch at the first failing case. Off by
	// default: learners get the complete picture in one round trip.
	StopOnFailure bool
}

// Runner is the slice of a sandbox session the harness needs: one
// stdin-in, stdout-out run per call against the already-provisioned
// workspace.
type Runner interface {
	RunTest(ctx context.Context, input string, timeout time.Duration) (*sandbox.RunResult, error)
}

// Harness drives test cases against a provisioned sandbox session.
type Harness struct {
	cfg Config
}

func New(cfg Config) *Harness {
	if cfg.CaseTimeout <= 0 {
		cfg.CaseTimeout = 5 * time.Second
	}
	return &Harness{cfg: cfg}
}

// Run executes every case in order inside the session's sandbox, feeding
// input on stdin and comparing normalized output. The budget is the
// request's remaining wall time; when it runs out, remaining cases are
// reported as not run rather than left dangling.
func (h *Harness) Run(ctx context.Context, session Runner, cases []TestCase, budget time.Duration) []TestResult {
	results := make([]TestResult, 0, len(cases))
	deadline := time.Now().Add(budget)

	stopped := false
	for _, tc := range cases {
		if stopped {
			results = append(results, TestResult{Name: tc.Name, Error: errNotRun})
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			results = append(results, TestResult{Name: tc.Name, Error: errNotRun})
			stopped = true
			continue
		}

		timeout := h.cfg.CaseTimeout
		if remaining < timeout {
			timeout = remaining
		}

		result := h.runCase(ctx, session, tc, timeout)
		results = append(results, result)

		if !result.Passed && h.cfg.StopOnFailure {
			stopped = true
		}
	}

	return results
}

func (h *Harness) runCase(ctx context.Context, session Runner, tc TestCase, timeout time.Duration) TestResult {
	start := time.Now()
	run, err := session.RunTest(ctx, tc.InputData, timeout)
	elapsed := time.Since(start)

	result := TestResult{
		Name:     tc.Name,
		Duration: elapsed,
	}
	if run != nil {
		result.ActualOutput = run.Stdout
	}

	switch {
	case sandbox.IsTimeout(err):
		result.Error = errTimeout
		return result
	case err != nil:
		result.Error = err.Error()
		return result
	case run.ExitCode != 0:
		result.Error = errorLine(run.Stderr)
		return result
	}

	result.Passed = OutputsMatch(run.Stdout, tc.ExpectedOutput)
	if !result.Passed {
		log.Debug().
			Str("test", tc.Name).
			Str("expected", tc.ExpectedOutput).
			Str("actual", run.Stdout).
			Msg("test case mismatch")
	}
	return result
}

// AllPassed reports whether every result passed. An empty batch counts as
// passed.
func AllPassed(results []TestResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
