package sandbox

import (
	"fmt"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// ResourceLimits are the resource ceilings for one request. Every field is
// enforced by the isolation layer, not merely observed: memory through the
// cgroup OOM killer, CPU through CFS quota, wall time by the orchestrator.
type ResourceLimits struct {
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	MemoryBytes   int64         `json:"memory_limit_bytes" yaml:"memory_bytes"`
	CPUQuota      float64       `json:"cpu_quota" yaml:"cpu_quota"` // fractional cores
	PidsLimit     int64         `json:"pids_limit" yaml:"pids_limit"`
	ScratchBytes  int64         `json:"scratch_bytes" yaml:"scratch_bytes"`
	NetworkAccess bool          `json:"network_access" yaml:"network_access"`
}

// DefaultLimits are the per-request ceilings applied when the caller sends
// no overrides.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		Timeout:      10 * time.Second,
		MemoryBytes:  256 << 20, // 256MB
		CPUQuota:     0.5,
		PidsLimit:    50,
		ScratchBytes: 100 << 20, // 100MB tmpfs
	}
}

// MaxLimits are the system-wide hard maxima. No request override may
// exceed them, whatever the caller asks for.
func MaxLimits() ResourceLimits {
	return ResourceLimits{
		Timeout:      60 * time.Second,
		MemoryBytes:  2 << 30, // 2GB
		CPUQuota:     2.0,
		PidsLimit:    500,
		ScratchBytes: 1 << 30, // 1GB
	}
}

// Clamp fills zero fields from defaults and bounds every field by the hard
// maxima. Network access survives only if the policy allows it at all.
func (rl ResourceLimits) Clamp(defaults, maxima ResourceLimits, allowNetwork bool) ResourceLimits {
	out := rl
	if out.Timeout <= 0 {
		out.Timeout = defaults.Timeout
	}
	if out.MemoryBytes <= 0 {
		out.MemoryBytes = defaults.MemoryBytes
	}
	if out.CPUQuota <= 0 {
		out.CPUQuota = defaults.CPUQuota
	}
	if out.PidsLimit <= 0 {
		out.PidsLimit = defaults.PidsLimit
	}
	if out.ScratchBytes <= 0 {
		out.ScratchBytes = defaults.ScratchBytes
	}

	if out.Timeout > maxima.Timeout {
		out.Timeout = maxima.Timeout
	}
	if out.MemoryBytes > maxima.MemoryBytes {
		out.MemoryBytes = maxima.MemoryBytes
	}
	if out.CPUQuota > maxima.CPUQuota {
		out.CPUQuota = maxima.CPUQuota
	}
	if out.PidsLimit > maxima.PidsLimit {
		out.PidsLimit = maxima.PidsLimit
	}
	if out.ScratchBytes > maxima.ScratchBytes {
		out.ScratchBytes = maxima.ScratchBytes
	}
	out.NetworkAccess = out.NetworkAccess && allowNetwork
	return out
}

// Validate rejects limits a clamped request should never carry. Used on
// configured defaults, where a bad value is an operator error rather than
// something to silently fix.
func (rl ResourceLimits) Validate() error {
	if rl.Timeout < time.Second || rl.Timeout > 10*time.Minute {
		return fmt.Errorf("%w: timeout must be 1s-10m, got %s", ErrInvalidRequest, rl.Timeout)
	}
	if rl.MemoryBytes < 16<<20 {
		return fmt.Errorf("%w: memory limit must be >= 16MB, got %d", ErrInvalidRequest, rl.MemoryBytes)
	}
	if rl.CPUQuota <= 0 || rl.CPUQuota > 16 {
		return fmt.Errorf("%w: cpu quota must be in (0,16], got %g", ErrInvalidRequest, rl.CPUQuota)
	}
	if rl.PidsLimit < 5 {
		return fmt.Errorf("%w: pids limit must be >= 5, got %d", ErrInvalidRequest, rl.PidsLimit)
	}
	if rl.ScratchBytes < 1<<20 {
		return fmt.Errorf("%w: scratch size must be >= 1MB, got %d", ErrInvalidRequest, rl.ScratchBytes)
	}
	return nil
}

// ApplyResourceLimits writes the ceilings into an OCI runtime spec
// (containerd backend). CPU uses CFS quota/period for a hard cap; shares
// would only be best-effort scheduling weight.
func ApplyResourceLimits(spec *specs.Spec, limits ResourceLimits, scratchExec bool) {
	if spec.Linux == nil {
		spec.Linux = &specs.Linux{}
	}
	if spec.Linux.Resources == nil {
		spec.Linux.Resources = &specs.LinuxResources{}
	}

	period := uint64(100000) // 100ms in microseconds
	quota := int64(limits.CPUQuota * float64(period))
	if quota < 1000 {
		quota = 1000 // minimum 1ms
	}
	spec.Linux.Resources.CPU = &specs.LinuxCPU{
		Period: &period,
		Quota:  &quota,
	}

	memoryBytes := limits.MemoryBytes
	spec.Linux.Resources.Memory = &specs.LinuxMemory{
		Limit: &memoryBytes,
		Swap:  &memoryBytes, // no swap headroom past the ceiling
	}

	spec.Linux.Resources.Pids = &specs.LinuxPids{
		Limit: limits.PidsLimit,
	}

	opts := []string{"nosuid", "nodev", fmt.Sprintf("size=%d", limits.ScratchBytes), "mode=1777"}
	if !scratchExec {
		opts = append(opts, "noexec")
	}
	spec.Mounts = appendIfNotExists(spec.Mounts, specs.Mount{
		Destination: "/tmp",
		Type:        "tmpfs",
		Source:      "tmpfs",
		Options:     opts,
	})

	spec.Process.Rlimits = []specs.POSIXRlimit{
		{Type: "RLIMIT_NOFILE", Hard: 256, Soft: 256},
		{Type: "RLIMIT_NPROC", Hard: safeUint64(limits.PidsLimit), Soft: safeUint64(limits.PidsLimit)},
		{Type: "RLIMIT_FSIZE", Hard: safeUint64(limits.ScratchBytes), Soft: safeUint64(limits.ScratchBytes)},
		{Type: "RLIMIT_CORE", Hard: 0, Soft: 0},
		{Type: "RLIMIT_STACK", Hard: 8388608, Soft: 8388608},
	}
}

func safeUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func appendIfNotExists(mounts []specs.Mount, m specs.Mount) []specs.Mount {
	for _, existing := range mounts {
		if existing.Destination == m.Destination {
			return mounts
		}
	}
	return append(mounts, m)
}
