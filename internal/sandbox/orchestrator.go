package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"codelab-exec/internal/language"
)

// State of a sandbox session. Transitions are linear: failures at any
// point still pass through StateCleanup before the session is terminal.
type State string

const (
	StateCreated          State = "created"
	StateProvisioning     State = "provisioning"
	StateRunning          State = "running"
	StateCompleted        State = "completed"
	StateTimedOut         State = "timed_out"
	StateResourceExceeded State = "resource_exceeded"
	StateRuntimeError     State = "runtime_error"
	StateInfraError       State = "infra_error"
	StateCleanup          State = "cleanup"
	StateTerminal         State = "terminal"
)

// OrchestratorConfig bounds provisioning retries and the reconciliation
// sweep.
type OrchestratorConfig struct {
	ProvisionRetries int           // retries after the first attempt
	RetryBackoff     time.Duration // initial backoff, doubled per retry
	SweepInterval    time.Duration
	SandboxTTL       time.Duration // max sandbox age before the sweep reclaims it

	// Optional counters, so this package stays free of the metrics stack.
	OnProvisionRetry func()
	OnSweepReclaim   func(count int)
}

// Orchestrator owns the sandbox lifecycle: provisioning with bounded
// retries, run supervision and guaranteed teardown. It holds no
// per-request state of its own; each request gets a Session.
type Orchestrator struct {
	runtime   ContainerRuntime
	languages *language.Registry
	cfg       OrchestratorConfig

	sweepOnce   sync.Once
	sweepCancel context.CancelFunc
}

func NewOrchestrator(rt ContainerRuntime, languages *language.Registry, cfg OrchestratorConfig) *Orchestrator {
	if cfg.ProvisionRetries < 0 {
		cfg.ProvisionRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.SandboxTTL <= 0 {
		cfg.SandboxTTL = 5 * time.Minute
	}
	return &Orchestrator{
		runtime:   rt,
		languages: languages,
		cfg:       cfg,
	}
}

// Runtime exposes the backend for health checks.
func (o *Orchestrator) Runtime() ContainerRuntime { return o.runtime }

// StartSweeper launches the background reconciliation sweep. It reclaims
// any sandbox whose age exceeds the TTL, covering the case where the
// process that owned it died before cleanup.
func (o *Orchestrator) StartSweeper() {
	o.sweepOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		o.sweepCancel = cancel
		go o.sweepLoop(ctx)
	})
}

func (o *Orchestrator) sweepLoop(ctx context.Context) {
	// Run once on startup to clear leftovers from a previous process.
	o.sweep(ctx)

	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	reclaimed, err := o.runtime.Sweep(sweepCtx, o.cfg.SandboxTTL)
	if err != nil {
		log.Warn().Err(err).Msg("reconciliation sweep failed")
		return
	}
	if reclaimed > 0 {
		log.Info().Int("count", reclaimed).Msg("reconciliation sweep reclaimed sandboxes")
		if o.cfg.OnSweepReclaim != nil {
			o.cfg.OnSweepReclaim(reclaimed)
		}
	}
}

// Close stops the sweeper and the backend.
func (o *Orchestrator) Close() error {
	if o.sweepCancel != nil {
		o.sweepCancel()
	}
	return o.runtime.Close()
}

// Open provisions a sandbox for one request. Provisioning failures are
// retried with doubling backoff up to the configured bound; exhausting
// them yields an infrastructure error, never a crash. The returned
// session must be closed by the caller whatever happens next.
func (o *Orchestrator) Open(ctx context.Context, requestID, lang, code string, limits ResourceLimits, withDriver bool) (*Session, error) {
	rt, err := o.languages.Get(lang)
	if err != nil {
		return nil, &Error{RequestID: requestID, Op: "get_language", Err: fmt.Errorf("%w: %s", ErrUnsupportedLang, lang)}
	}

	logger := log.With().Str("request_id", requestID).Str("language", lang).Logger()

	codeFile := "code" + rt.FileExtension()
	files := map[string]string{codeFile: code}

	mainArgv := rt.Command("/workspace/" + codeFile)
	testArgv := mainArgv
	if withDriver {
		if source, name, argv, ok := rt.TestDriver("/workspace/" + codeFile); ok {
			files[name] = source
			testArgv = argv
		}
	}

	spec := ProvisionSpec{
		ID:          requestID,
		Image:       rt.Image(),
		Files:       files,
		Limits:      limits,
		ScratchExec: rt.ScratchExec(),
	}

	logger.Debug().Str("state", string(StateProvisioning)).Msg("provisioning sandbox")

	var sb Sandbox
	backoff := o.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		sb, err = o.runtime.Provision(ctx, spec)
		if err == nil {
			break
		}
		if attempt >= o.cfg.ProvisionRetries || ctx.Err() != nil {
			logger.Error().Err(err).Int("attempts", attempt+1).Msg("provisioning failed permanently")
			return nil, &Error{RequestID: requestID, Op: "provision", Err: fmt.Errorf("%w: %v", ErrInfra, err)}
		}

		logger.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("provisioning failed, retrying")
		if o.cfg.OnProvisionRetry != nil {
			o.cfg.OnProvisionRetry()
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, &Error{RequestID: requestID, Op: "provision", Err: ctx.Err()}
		}
		backoff *= 2
	}

	return &Session{
		requestID: requestID,
		sandbox:   sb,
		mainArgv:  mainArgv,
		testArgv:  testArgv,
		limits:    limits,
		state:     StateProvisioning,
		logger:    logger,
	}, nil
}

// Session is one request's hold on a live sandbox.
type Session struct {
	requestID string
	sandbox   Sandbox
	mainArgv  []string
	testArgv  []string
	limits    ResourceLimits
	state     State
	logger    zerolog.Logger

	closeOnce sync.Once
}

func (s *Session) setState(st State) {
	s.state = st
	s.logger.Debug().Str("state", string(st)).Msg("sandbox state")
}

// State returns the last recorded lifecycle state.
func (s *Session) State() State { return s.state }

// RunProgram executes the submission once with no stdin, bounded by the
// request's wall-clock ceiling.
func (s *Session) RunProgram(ctx context.Context) (*RunResult, error) {
	return s.run(ctx, s.mainArgv, "", s.limits.Timeout)
}

// RunTest executes one harness pass with the test input on stdin.
func (s *Session) RunTest(ctx context.Context, input string, timeout time.Duration) (*RunResult, error) {
	return s.run(ctx, s.testArgv, input, timeout)
}

func (s *Session) run(ctx context.Context, argv []string, stdin string, timeout time.Duration) (*RunResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.setState(StateRunning)
	result, err := s.sandbox.Run(runCtx, argv, stdin)

	switch {
	case err == nil && (result == nil || result.ExitCode == 0):
		s.setState(StateCompleted)
	case IsTimeout(err):
		s.setState(StateTimedOut)
	case IsOOM(err):
		s.setState(StateResourceExceeded)
	case IsInfra(err):
		s.setState(StateInfraError)
	default:
		s.setState(StateRuntimeError)
	}

	return result, err
}

// Close destroys the sandbox. Safe to call from any state, any number of
// times; rerunning after Close fails.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.setState(StateCleanup)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.sandbox.Destroy(ctx); err != nil {
			log.Error().Err(err).Str("request_id", s.requestID).Msg("sandbox destroy failed")
		}
		s.setState(StateTerminal)
	})
}
