package gateway

import (
	"time"

	"codelab-exec/internal/harness"
	"codelab-exec/internal/sandbox"
	"codelab-exec/internal/validator"
)

// aggregate folds the raw pieces of one request into the final envelope.
// Pure: no IO, no clock reads beyond the durations it is handed.
func aggregate(
	requestID string,
	status Status,
	run *sandbox.RunResult,
	violations []validator.Violation,
	testResults []harness.TestResult,
	elapsed time.Duration,
	errs []string,
) Result {
	result := Result{
		RequestID:          requestID,
		Status:             status,
		Errors:             errs,
		TestResults:        testResults,
		AllTestsPassed:     len(testResults) > 0 && harness.AllPassed(testResults),
		SecurityViolations: violations,
		ExecutionTime:      elapsed,
	}

	if run != nil {
		result.Output = run.Stdout
		result.ResourceUsage = run.Usage
		if result.ResourceUsage.WallTime == 0 {
			result.ResourceUsage.WallTime = run.Duration
		}
		if run.Stderr != "" && status != StatusSuccess {
			result.Errors = append(result.Errors, run.Stderr)
		}
	}

	return result
}

// rejection builds the envelope for a request that never reached a
// sandbox: no output, no usage, zero sandboxes created.
func rejection(requestID string, status Status, violations []validator.Violation, elapsed time.Duration, errs ...string) Result {
	return Result{
		RequestID:          requestID,
		Status:             status,
		Errors:             errs,
		SecurityViolations: violations,
		ExecutionTime:      elapsed,
	}
}
