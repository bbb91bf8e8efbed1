package gateway

import (
	"time"

	"codelab-exec/internal/harness"
	"codelab-exec/internal/sandbox"
	"codelab-exec/internal/validator"
)

// Status is the terminal classification of one execution request.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusInputTooLarge    Status = "input_too_large"
	StatusSecurityRejected Status = "security_rejected"
	StatusTimedOut         Status = "timed_out"
	StatusResourceExceeded Status = "resource_exceeded"
	StatusRuntimeError     Status = "runtime_error"
	StatusInfraError       Status = "infra_error"
	StatusBackpressure     Status = "backpressure_rejected"
)

// Request is one submission to execute. Constructed at the API boundary
// and treated as immutable from then on.
type Request struct {
	Code      string                 `json:"code"`
	Language  string                 `json:"language"`
	TestCases []harness.TestCase     `json:"test_cases,omitempty"`
	Limits    sandbox.ResourceLimits `json:"limits,omitempty"`
}

// Result is the complete outcome envelope. The submitted program failing
// is carried here as a status, never raised as an error: learner code
// crashing is an expected outcome, not a system defect.
type Result struct {
	RequestID          string                `json:"request_id"`
	Status             Status                `json:"status"`
	Output             string                `json:"output"`
	Errors             []string              `json:"errors,omitempty"`
	TestResults        []harness.TestResult  `json:"test_results,omitempty"`
	AllTestsPassed     bool                  `json:"all_tests_passed"`
	ResourceUsage      sandbox.ResourceUsage `json:"resource_usage"`
	SecurityViolations []validator.Violation `json:"security_violations,omitempty"`
	ExecutionTime      time.Duration         `json:"execution_time"`
}

// ValidationReport is the outcome of a validate-only call. Nothing is
// ever executed to produce it.
type ValidationReport struct {
	Safe       bool                  `json:"safe"`
	Violations []validator.Violation `json:"violations"`
}
