package api

import (
	"time"

	"codelab-exec/internal/gateway"
	"codelab-exec/internal/harness"
	"codelab-exec/internal/sandbox"
	"codelab-exec/internal/validator"
)

// ExecuteRequest is the API-level request to execute a submission.
type ExecuteRequest struct {
	Code      string             `json:"code"`
	Language  string             `json:"language"`
	TestCases []harness.TestCase `json:"test_cases,omitempty"`
	Limits    LimitsRequest      `json:"limits,omitempty"`
}

// LimitsRequest carries optional per-request resource overrides. Zero
// fields fall back to configured defaults; all fields are clamped to the
// system maxima before use.
type LimitsRequest struct {
	Timeout       Duration `json:"timeout,omitempty"`
	MemoryBytes   int64    `json:"memory_limit_bytes,omitempty"`
	CPUQuota      float64  `json:"cpu_quota,omitempty"`
	PidsLimit     int64    `json:"pids_limit,omitempty"`
	ScratchBytes  int64    `json:"scratch_bytes,omitempty"`
	NetworkAccess bool     `json:"network_access,omitempty"`
}

// ResourceLimits converts the wire form into the internal limits struct.
func (lr LimitsRequest) ResourceLimits() sandbox.ResourceLimits {
	return sandbox.ResourceLimits{
		Timeout:       lr.Timeout.Duration,
		MemoryBytes:   lr.MemoryBytes,
		CPUQuota:      lr.CPUQuota,
		PidsLimit:     lr.PidsLimit,
		ScratchBytes:  lr.ScratchBytes,
		NetworkAccess: lr.NetworkAccess,
	}
}

// Duration wraps time.Duration for JSON marshaling as a string like "10s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// ExecuteResponse is the complete result envelope returned to the caller.
type ExecuteResponse struct {
	RequestID          string                `json:"request_id"`
	Status             string                `json:"status"`
	Output             string                `json:"output"`
	Errors             []string              `json:"errors,omitempty"`
	TestResults        []TestResultResponse  `json:"test_results,omitempty"`
	AllTestsPassed     bool                  `json:"all_tests_passed"`
	ResourceUsage      ResourceUsageResponse `json:"resource_usage"`
	SecurityViolations []validator.Violation `json:"security_violations,omitempty"`
	ExecutionTime      string                `json:"execution_time"`
}

// TestResultResponse is one test case outcome on the wire.
type TestResultResponse struct {
	Name         string `json:"name"`
	Passed       bool   `json:"passed"`
	ActualOutput string `json:"actual_output"`
	Error        string `json:"error,omitempty"`
	Duration     string `json:"duration"`
}

// ResourceUsageResponse reports measured resource consumption.
type ResourceUsageResponse struct {
	CPUTimeMS       int64 `json:"cpu_time_ms"`
	PeakMemoryBytes int64 `json:"peak_memory_bytes"`
	WallTimeMS      int64 `json:"wall_time_ms"`
}

func toExecuteResponse(res gateway.Result) ExecuteResponse {
	testResults := make([]TestResultResponse, 0, len(res.TestResults))
	for _, tr := range res.TestResults {
		testResults = append(testResults, TestResultResponse{
			Name:         tr.Name,
			Passed:       tr.Passed,
			ActualOutput: tr.ActualOutput,
			Error:        tr.Error,
			Duration:     tr.Duration.Round(time.Millisecond).String(),
		})
	}
	return ExecuteResponse{
		RequestID:      res.RequestID,
		Status:         string(res.Status),
		Output:         res.Output,
		Errors:         res.Errors,
		TestResults:    testResults,
		AllTestsPassed: res.AllTestsPassed,
		ResourceUsage: ResourceUsageResponse{
			CPUTimeMS:       res.ResourceUsage.CPUTime.Milliseconds(),
			PeakMemoryBytes: res.ResourceUsage.PeakMemory,
			WallTimeMS:      res.ResourceUsage.WallTime.Milliseconds(),
		},
		SecurityViolations: res.SecurityViolations,
		ExecutionTime:      res.ExecutionTime.Round(time.Millisecond).String(),
	}
}

// ValidateRequest asks for a static scan without execution.
type ValidateRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// ValidateResponse reports scanner findings. Safe means no blocking
// violation; lower-severity findings may still be listed.
type ValidateResponse struct {
	Safe       bool                  `json:"safe"`
	Violations []validator.Violation `json:"violations"`
}

// LanguageInfo describes one supported language.
type LanguageInfo struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// LanguagesResponse lists the supported languages and the limits applied
// when a request sends no overrides.
type LanguagesResponse struct {
	Languages     []LanguageInfo         `json:"languages"`
	DefaultLimits sandbox.ResourceLimits `json:"default_limits"`
	MaxLimits     sandbox.ResourceLimits `json:"max_limits"`
}

// LanguageCheckResponse answers a capability probe for one language.
type LanguageCheckResponse struct {
	Language  string `json:"language"`
	Supported bool   `json:"supported"`
	Image     string `json:"image,omitempty"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Runtime  bool   `json:"runtime"`
	Database bool   `json:"database"`
	InFlight int    `json:"in_flight"`
	Uptime   string `json:"uptime"`
}
