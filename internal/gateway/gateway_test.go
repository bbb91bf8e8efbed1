package gateway

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codelab-exec/internal/harness"
	"codelab-exec/internal/language"
	"codelab-exec/internal/sandbox"
	"codelab-exec/internal/validator"
)

type fakeSandbox struct {
	id      string
	result  *sandbox.RunResult
	runErr  error
	runTime time.Duration

	destroys *atomic.Int64
	running  *atomic.Int64
	peak     *atomic.Int64
}

func (f *fakeSandbox) ID() string { return f.id }

func (f *fakeSandbox) Run(ctx context.Context, argv []string, stdin string) (*sandbox.RunResult, error) {
	if f.running != nil {
		now := f.running.Add(1)
		for {
			p := f.peak.Load()
			if now <= p || f.peak.CompareAndSwap(p, now) {
				break
			}
		}
		defer f.running.Add(-1)
	}
	if f.runTime > 0 {
		select {
		case <-time.After(f.runTime):
		case <-ctx.Done():
			return nil, sandbox.ErrTimeout
		}
	}
	if f.runErr != nil {
		return nil, f.runErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return &sandbox.RunResult{Stdout: "ok\n", ExitCode: 0}, nil
}

func (f *fakeSandbox) Destroy(ctx context.Context) error {
	if f.destroys != nil {
		f.destroys.Add(1)
	}
	return nil
}

type fakeRuntime struct {
	mu         sync.Mutex
	provisions atomic.Int64
	destroys   atomic.Int64
	running    atomic.Int64
	peak       atomic.Int64

	result  *sandbox.RunResult
	runErr  error
	runTime time.Duration
}

func (f *fakeRuntime) Name() string { return "fake" }

func (f *fakeRuntime) Provision(ctx context.Context, spec sandbox.ProvisionSpec) (sandbox.Sandbox, error) {
	f.provisions.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return &fakeSandbox{
		id:       spec.ID,
		result:   f.result,
		runErr:   f.runErr,
		runTime:  f.runTime,
		destroys: &f.destroys,
		running:  &f.running,
		peak:     &f.peak,
	}, nil
}

func (f *fakeRuntime) Sweep(ctx context.Context, maxAge time.Duration) (int, error) { return 0, nil }
func (f *fakeRuntime) Healthy(ctx context.Context) bool                             { return true }
func (f *fakeRuntime) Close() error                                                 { return nil }

func newTestGateway(rt sandbox.ContainerRuntime, cfg Config) *Gateway {
	v := validator.New(validator.Config{MaxCodeLength: 50000, BlockSeverity: validator.SeverityCritical})
	orch := sandbox.NewOrchestrator(rt, language.NewRegistry(), sandbox.OrchestratorConfig{
		RetryBackoff: time.Millisecond,
	})
	h := harness.New(harness.Config{CaseTimeout: time.Second})
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 10
	}
	return New(v, orch, h, nil, cfg)
}

func TestExecute_Success(t *testing.T) {
	rt := &fakeRuntime{result: &sandbox.RunResult{Stdout: "hello\n", ExitCode: 0}}
	gw := newTestGateway(rt, Config{})

	res := gw.Execute(context.Background(), Request{Code: "print('hello')", Language: "python"})

	if res.Status != StatusSuccess {
		t.Fatalf("status = %s, errors = %v", res.Status, res.Errors)
	}
	if res.Output != "hello\n" {
		t.Errorf("output = %q", res.Output)
	}
	if res.RequestID == "" {
		t.Error("request id missing")
	}
	if rt.destroys.Load() != 1 {
		t.Errorf("destroys = %d, want 1", rt.destroys.Load())
	}
}

func TestExecute_FreshRequestIDs(t *testing.T) {
	rt := &fakeRuntime{}
	gw := newTestGateway(rt, Config{})

	a := gw.Execute(context.Background(), Request{Code: "1", Language: "python"})
	b := gw.Execute(context.Background(), Request{Code: "1", Language: "python"})
	if a.RequestID == b.RequestID {
		t.Error("identical submissions must still get distinct request ids")
	}
}

func TestExecute_SecurityRejectedWithoutSandbox(t *testing.T) {
	rt := &fakeRuntime{}
	gw := newTestGateway(rt, Config{})

	res := gw.Execute(context.Background(), Request{Code: "import os\nos.getcwd()", Language: "python"})

	if res.Status != StatusSecurityRejected {
		t.Fatalf("status = %s, want security_rejected", res.Status)
	}
	if len(res.SecurityViolations) == 0 {
		t.Error("violations missing from rejection")
	}
	if rt.provisions.Load() != 0 {
		t.Errorf("provisions = %d, rejected code must never reach a sandbox", rt.provisions.Load())
	}
}

func TestExecute_InputTooLargeWithoutSandbox(t *testing.T) {
	rt := &fakeRuntime{}
	gw := newTestGateway(rt, Config{})

	res := gw.Execute(context.Background(), Request{
		Code:     strings.Repeat("x = 1\n", 20000),
		Language: "python",
	})

	if res.Status != StatusInputTooLarge {
		t.Fatalf("status = %s, want input_too_large", res.Status)
	}
	if rt.provisions.Load() != 0 {
		t.Error("oversized code must never reach a sandbox")
	}
}

func TestExecute_Timeout(t *testing.T) {
	rt := &fakeRuntime{runErr: sandbox.ErrTimeout}
	gw := newTestGateway(rt, Config{})

	res := gw.Execute(context.Background(), Request{Code: "while True:\n    pass", Language: "python"})

	if res.Status != StatusTimedOut {
		t.Fatalf("status = %s, want timed_out", res.Status)
	}
	if rt.destroys.Load() != 1 {
		t.Error("timed out sandbox must still be destroyed")
	}
}

func TestExecute_OOM(t *testing.T) {
	rt := &fakeRuntime{runErr: sandbox.ErrOOM}
	gw := newTestGateway(rt, Config{})

	res := gw.Execute(context.Background(), Request{Code: "xs = []", Language: "python"})

	if res.Status != StatusResourceExceeded {
		t.Fatalf("status = %s, want resource_exceeded", res.Status)
	}
	if rt.destroys.Load() != 1 {
		t.Error("OOM-killed sandbox must still be destroyed")
	}
}

func TestExecute_RuntimeErrorIsAResult(t *testing.T) {
	rt := &fakeRuntime{result: &sandbox.RunResult{
		Stderr:   "Traceback (most recent call last):\nZeroDivisionError: division by zero",
		ExitCode: 1,
	}}
	gw := newTestGateway(rt, Config{})

	res := gw.Execute(context.Background(), Request{Code: "1/0", Language: "python"})

	if res.Status != StatusRuntimeError {
		t.Fatalf("status = %s, want runtime_error", res.Status)
	}
	if len(res.Errors) == 0 {
		t.Error("stderr should be carried in the envelope")
	}
}

func TestExecute_TestsRun(t *testing.T) {
	rt := &fakeRuntime{result: &sandbox.RunResult{Stdout: "12\n", ExitCode: 0}}
	gw := newTestGateway(rt, Config{})

	res := gw.Execute(context.Background(), Request{
		Code:     "def multiply(a, b):\n    return a * b",
		Language: "python",
		TestCases: []harness.TestCase{
			{Name: "basic", InputData: "3,4", ExpectedOutput: "12"},
		},
	})

	if res.Status != StatusSuccess {
		t.Fatalf("status = %s", res.Status)
	}
	if len(res.TestResults) != 1 {
		t.Fatalf("test results = %d, want 1", len(res.TestResults))
	}
	if !res.AllTestsPassed {
		t.Errorf("AllTestsPassed = false: %+v", res.TestResults)
	}
}

func TestExecute_TestsSkippedWhenMainRunFails(t *testing.T) {
	rt := &fakeRuntime{result: &sandbox.RunResult{Stderr: "SyntaxError", ExitCode: 1}}
	gw := newTestGateway(rt, Config{})

	res := gw.Execute(context.Background(), Request{
		Code:     "def broken(",
		Language: "python",
		TestCases: []harness.TestCase{
			{Name: "basic", InputData: "1", ExpectedOutput: "1"},
		},
	})

	if res.Status != StatusRuntimeError {
		t.Fatalf("status = %s", res.Status)
	}
	if len(res.TestResults) != 0 {
		t.Error("tests must not run when the main run failed")
	}
	if res.AllTestsPassed {
		t.Error("AllTestsPassed must be false without test results")
	}
}

func TestExecute_NoTestsMeansNotAllPassed(t *testing.T) {
	rt := &fakeRuntime{}
	gw := newTestGateway(rt, Config{})

	res := gw.Execute(context.Background(), Request{Code: "print(1)", Language: "python"})
	if res.AllTestsPassed {
		t.Error("AllTestsPassed must be false when no tests were declared")
	}
}

func TestExecute_BackpressureReject(t *testing.T) {
	rt := &fakeRuntime{runTime: 200 * time.Millisecond}
	gw := newTestGateway(rt, Config{
		MaxConcurrent:   1,
		AdmissionPolicy: PolicyReject,
	})

	started := make(chan struct{})
	var slow Result
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(started)
		slow = gw.Execute(context.Background(), Request{Code: "print(1)", Language: "python"})
	}()

	<-started
	time.Sleep(50 * time.Millisecond) // let the first request take the slot

	fast := gw.Execute(context.Background(), Request{Code: "print(2)", Language: "python"})
	if fast.Status != StatusBackpressure {
		t.Fatalf("status = %s, want backpressure_rejected", fast.Status)
	}

	wg.Wait()
	if slow.Status != StatusSuccess {
		t.Errorf("admitted request status = %s", slow.Status)
	}
	if rt.provisions.Load() != 1 {
		t.Errorf("provisions = %d, rejected request must not provision", rt.provisions.Load())
	}
}

func TestExecute_ConcurrencyCap(t *testing.T) {
	rt := &fakeRuntime{runTime: 50 * time.Millisecond}
	gw := newTestGateway(rt, Config{
		MaxConcurrent:   3,
		AdmissionPolicy: PolicyQueue,
		QueueWait:       5 * time.Second,
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := gw.Execute(context.Background(), Request{Code: "print(1)", Language: "python"})
			if res.Status != StatusSuccess {
				t.Errorf("status = %s", res.Status)
			}
		}()
	}
	wg.Wait()

	if peak := rt.peak.Load(); peak > 3 {
		t.Errorf("peak concurrent runs = %d, cap is 3", peak)
	}
	if rt.destroys.Load() != 10 {
		t.Errorf("destroys = %d, want one per execution", rt.destroys.Load())
	}
}

func TestExecute_CleanupReturnsToBaseline(t *testing.T) {
	rt := &fakeRuntime{}
	gw := newTestGateway(rt, Config{})

	for i := 0; i < 5; i++ {
		gw.Execute(context.Background(), Request{Code: "print(1)", Language: "python"})
	}

	if rt.provisions.Load() != rt.destroys.Load() {
		t.Errorf("provisions = %d, destroys = %d, sandboxes leaked",
			rt.provisions.Load(), rt.destroys.Load())
	}
	if gw.InFlight() != 0 {
		t.Errorf("in flight = %d after all executions returned", gw.InFlight())
	}
}

func TestExecute_OutputScan(t *testing.T) {
	rt := &fakeRuntime{result: &sandbox.RunResult{
		Stdout:   "root:x:0:0:root:/root:/bin/bash\n",
		ExitCode: 0,
	}}
	gw := newTestGateway(rt, Config{})

	res := gw.Execute(context.Background(), Request{Code: "print(open('x').read())", Language: "python"})

	found := false
	for _, v := range res.SecurityViolations {
		if v.PatternID == "passwd_leak" {
			found = true
		}
	}
	if !found {
		t.Errorf("passwd leak not flagged in output: %+v", res.SecurityViolations)
	}
}

func TestValidateOnly(t *testing.T) {
	gw := newTestGateway(&fakeRuntime{}, Config{})

	safe := gw.ValidateOnly("print(1+1)", "python")
	if !safe.Safe {
		t.Errorf("safe code reported unsafe: %+v", safe.Violations)
	}

	unsafe := gw.ValidateOnly("import os", "python")
	if unsafe.Safe {
		t.Error("os import reported safe")
	}
	if len(unsafe.Violations) == 0 {
		t.Error("violations missing")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		run  *sandbox.RunResult
		err  error
		want Status
	}{
		{"clean exit", &sandbox.RunResult{ExitCode: 0}, nil, StatusSuccess},
		{"nonzero exit", &sandbox.RunResult{ExitCode: 1}, nil, StatusRuntimeError},
		{"timeout", nil, sandbox.ErrTimeout, StatusTimedOut},
		{"oom", nil, sandbox.ErrOOM, StatusResourceExceeded},
		{"infra", nil, sandbox.ErrInfra, StatusInfraError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.run, tt.err); got != tt.want {
				t.Errorf("classify() = %s, want %s", got, tt.want)
			}
		})
	}
}
