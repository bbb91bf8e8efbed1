package sandbox

import (
	"context"
	"time"
)

// ContainerRuntime is the narrow port to the isolation backend. Everything
// above it (gateway, validator, harness) only sees this interface, so the
// backend can be swapped for a micro-VM or another runtime without touching
// them.
type ContainerRuntime interface {
	// Name identifies the backend ("docker", "containerd").
	Name() string

	// Provision creates a fresh sandbox for one request. The sandbox owns a
	// read-only workspace populated with the given files and is destroyed by
	// Destroy; it is never handed to another request.
	Provision(ctx context.Context, spec ProvisionSpec) (Sandbox, error)

	// Sweep destroys any sandbox older than maxAge and returns how many it
	// reclaimed. Covers orchestrator crashes that skipped normal cleanup.
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)

	// Healthy reports whether the backing runtime is reachable.
	Healthy(ctx context.Context) bool

	Close() error
}

// Sandbox is one ephemeral, capability-stripped execution environment.
type Sandbox interface {
	ID() string

	// Run executes argv inside the sandbox with the given stdin. The caller
	// bounds the run with a context deadline; on expiry the process is sent
	// a termination signal and, after a short grace window, killed.
	Run(ctx context.Context, argv []string, stdin string) (*RunResult, error)

	// Destroy tears the sandbox down: container, network namespace and
	// scratch volume. Idempotent.
	Destroy(ctx context.Context) error
}

// ProvisionSpec describes the sandbox to create.
type ProvisionSpec struct {
	ID          string            // request-scoped identifier
	Image       string            // container image reference
	Files       map[string]string // filename -> contents, mounted read-only at /workspace
	Limits      ResourceLimits
	ScratchExec bool // scratch area mounted without noexec (compiled toolchains)
}

// RunResult is the raw outcome of a single process run inside a sandbox.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	OOM      bool
	Duration time.Duration
	Usage    ResourceUsage
}

// ResourceUsage reports measured consumption for one run.
type ResourceUsage struct {
	CPUTime    time.Duration `json:"cpu_time"`
	PeakMemory int64         `json:"peak_memory_bytes"`
	WallTime   time.Duration `json:"wall_time"`
}
