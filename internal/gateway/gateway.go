package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"codelab-exec/internal/harness"
	"codelab-exec/internal/monitor"
	"codelab-exec/internal/sandbox"
	"codelab-exec/internal/validator"
)

// Config wires the gateway's admission control and limit policy.
type Config struct {
	MaxConcurrent   int
	AdmissionPolicy AdmissionPolicy
	QueueWait       time.Duration
	DefaultLimits   sandbox.ResourceLimits
	MaxLimits       sandbox.ResourceLimits
	AllowNetwork    bool // global switch; requests can only opt in when true
}

// Gateway is the single entry point for executions. It sequences
// validation, sandboxing and the test harness, enforces the global
// concurrency cap, and always hands back a complete envelope. It never
// retries a request on its own: infrastructure retries are the caller's
// call, and runtime errors are results, not failures.
type Gateway struct {
	validator *validator.Validator
	orch      *sandbox.Orchestrator
	harness   *harness.Harness
	admit     *admission
	metrics   *monitor.Metrics
	tracer    *monitor.Tracer
	cfg       Config
}

func New(v *validator.Validator, orch *sandbox.Orchestrator, h *harness.Harness, metrics *monitor.Metrics, cfg Config) *Gateway {
	if cfg.DefaultLimits == (sandbox.ResourceLimits{}) {
		cfg.DefaultLimits = sandbox.DefaultLimits()
	}
	if cfg.MaxLimits == (sandbox.ResourceLimits{}) {
		cfg.MaxLimits = sandbox.MaxLimits()
	}
	return &Gateway{
		validator: v,
		orch:      orch,
		harness:   h,
		admit:     newAdmission(cfg.MaxConcurrent, cfg.AdmissionPolicy, cfg.QueueWait),
		metrics:   metrics,
		tracer:    monitor.NewTracer(),
		cfg:       cfg,
	}
}

// InFlight returns the number of currently admitted executions.
func (g *Gateway) InFlight() int {
	return g.admit.inFlight()
}

// ValidateOnly runs the static scanner and nothing else.
func (g *Gateway) ValidateOnly(code, language string) ValidationReport {
	if g.validator.TooLarge(code) {
		return ValidationReport{
			Safe: false,
			Violations: []validator.Violation{{
				PatternID: "input_too_large",
				Severity:  validator.SeverityCritical.String(),
				Message:   fmt.Sprintf("code exceeds %d character limit", g.validator.MaxCodeLength()),
			}},
		}
	}
	violations := g.validator.Validate(code, language)
	return ValidationReport{
		Safe:       !g.validator.Blocks(violations),
		Violations: violations,
	}
}

// Execute runs one request end to end. The request id is freshly
// generated here; callers cannot replay one. Cancelling ctx at any point,
// including mid-provisioning, tears the sandbox down and releases the
// admission slot.
func (g *Gateway) Execute(ctx context.Context, req Request) Result {
	requestID := uuid.New().String()
	start := time.Now()

	logger := log.With().
		Str("request_id", requestID).
		Str("language", req.Language).
		Logger()
	logger.Info().Int("code_len", len(req.Code)).Int("test_cases", len(req.TestCases)).Msg("execution requested")

	ctx, span := g.tracer.StartSpan(ctx, "execute",
		monitor.AttrRequestID.String(requestID),
		monitor.AttrLanguage.String(req.Language),
	)
	defer span.End()

	result := g.execute(ctx, logger, requestID, req, start)

	span.SetAttributes(monitor.AttrStatus.String(string(result.Status)))
	g.record(req.Language, result.Status, time.Since(start))
	return result
}

func (g *Gateway) execute(ctx context.Context, logger zerolog.Logger, requestID string, req Request, start time.Time) Result {
	// Length gate first: constant cost, no pattern scan, no sandbox.
	if g.validator.TooLarge(req.Code) {
		logger.Warn().Msg("submission over size cap")
		return rejection(requestID, StatusInputTooLarge, nil, time.Since(start),
			fmt.Sprintf("code exceeds %d character limit", g.validator.MaxCodeLength()))
	}

	// Static scan. A blocking match means no sandbox is ever created.
	violations := g.validator.Validate(req.Code, req.Language)
	g.countViolations(violations)
	if g.validator.Blocks(violations) {
		logger.Warn().Int("violations", len(violations)).Msg("submission rejected by validator")
		return rejection(requestID, StatusSecurityRejected, violations, time.Since(start),
			"submission rejected: dangerous pattern detected")
	}

	// Admission: the only mutable state requests share.
	if err := g.admit.acquire(ctx); err != nil {
		if g.metrics != nil {
			g.metrics.AdmissionRejected.Inc()
		}
		logger.Warn().Err(err).Msg("request not admitted")
		return rejection(requestID, StatusBackpressure, violations, time.Since(start), err.Error())
	}
	defer g.admit.release()

	limits := req.Limits.Clamp(g.cfg.DefaultLimits, g.cfg.MaxLimits, g.cfg.AllowNetwork)

	if g.orch == nil {
		return rejection(requestID, StatusInfraError, violations, time.Since(start), "no isolation backend available")
	}

	session, err := g.orch.Open(ctx, requestID, req.Language, req.Code, limits, len(req.TestCases) > 0)
	if err != nil {
		logger.Error().Err(err).Msg("sandbox provisioning failed")
		return rejection(requestID, StatusInfraError, violations, time.Since(start), err.Error())
	}
	// Teardown before return, whatever path we take out of here.
	defer session.Close()

	run, runErr := session.RunProgram(ctx)
	status := classify(run, runErr)

	if run != nil {
		violations = append(violations, g.validator.ScanOutput(run.Stdout+run.Stderr)...)
	}

	var testResults []harness.TestResult
	if status == StatusSuccess && len(req.TestCases) > 0 {
		spent := time.Since(start)
		budget := limits.Timeout - spent
		if budget < 0 {
			budget = 0
		}
		testResults = g.harness.Run(ctx, session, req.TestCases, budget)
		g.countTests(testResults)
	}

	var errs []string
	if runErr != nil && !sandbox.IsTimeout(runErr) && !sandbox.IsOOM(runErr) {
		errs = append(errs, runErr.Error())
	}

	result := aggregate(requestID, status, run, violations, testResults, time.Since(start), errs)
	logger.Info().
		Str("status", string(result.Status)).
		Dur("elapsed", result.ExecutionTime).
		Msg("execution finished")
	return result
}

// classify maps a raw run outcome onto the request status. A non-zero
// exit is a runtime error: the learner's program failing is a normal,
// reportable result.
func classify(run *sandbox.RunResult, err error) Status {
	switch {
	case sandbox.IsTimeout(err):
		return StatusTimedOut
	case sandbox.IsOOM(err):
		return StatusResourceExceeded
	case sandbox.IsInfra(err):
		return StatusInfraError
	case err != nil:
		return StatusInfraError
	case run != nil && run.ExitCode != 0:
		return StatusRuntimeError
	default:
		return StatusSuccess
	}
}

func (g *Gateway) record(language string, status Status, elapsed time.Duration) {
	if g.metrics == nil {
		return
	}
	g.metrics.RecordExecution(language, string(status), elapsed.Seconds())
}

func (g *Gateway) countViolations(violations []validator.Violation) {
	if g.metrics == nil {
		return
	}
	for _, v := range violations {
		g.metrics.SecurityViolations.WithLabelValues(v.Severity).Inc()
	}
}

func (g *Gateway) countTests(results []harness.TestResult) {
	if g.metrics == nil {
		return
	}
	for _, r := range results {
		outcome := "failed"
		switch {
		case r.Passed:
			outcome = "passed"
		case r.Error == "not run":
			outcome = "not_run"
		case r.Error == "timeout":
			outcome = "timeout"
		}
		g.metrics.TestCases.WithLabelValues(outcome).Inc()
	}
}

