package sandbox

import (
	"testing"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

func TestClamp_FillsDefaults(t *testing.T) {
	got := ResourceLimits{}.Clamp(DefaultLimits(), MaxLimits(), false)

	if got.Timeout != 10*time.Second {
		t.Errorf("Timeout = %s, want 10s", got.Timeout)
	}
	if got.MemoryBytes != 256<<20 {
		t.Errorf("MemoryBytes = %d, want 256MB", got.MemoryBytes)
	}
	if got.CPUQuota != 0.5 {
		t.Errorf("CPUQuota = %g, want 0.5", got.CPUQuota)
	}
	if got.PidsLimit != 50 {
		t.Errorf("PidsLimit = %d, want 50", got.PidsLimit)
	}
}

func TestClamp_BoundsToMaxima(t *testing.T) {
	req := ResourceLimits{
		Timeout:      10 * time.Minute,
		MemoryBytes:  32 << 30,
		CPUQuota:     64,
		PidsLimit:    100000,
		ScratchBytes: 50 << 30,
	}
	got := req.Clamp(DefaultLimits(), MaxLimits(), false)
	max := MaxLimits()

	if got.Timeout != max.Timeout {
		t.Errorf("Timeout = %s, want clamped to %s", got.Timeout, max.Timeout)
	}
	if got.MemoryBytes != max.MemoryBytes {
		t.Errorf("MemoryBytes = %d, want clamped to %d", got.MemoryBytes, max.MemoryBytes)
	}
	if got.CPUQuota != max.CPUQuota {
		t.Errorf("CPUQuota = %g, want clamped to %g", got.CPUQuota, max.CPUQuota)
	}
	if got.PidsLimit != max.PidsLimit {
		t.Errorf("PidsLimit = %d, want clamped to %d", got.PidsLimit, max.PidsLimit)
	}
	if got.ScratchBytes != max.ScratchBytes {
		t.Errorf("ScratchBytes = %d, want clamped to %d", got.ScratchBytes, max.ScratchBytes)
	}
}

func TestClamp_KeepsInRangeValues(t *testing.T) {
	req := ResourceLimits{
		Timeout:     30 * time.Second,
		MemoryBytes: 512 << 20,
	}
	got := req.Clamp(DefaultLimits(), MaxLimits(), false)

	if got.Timeout != 30*time.Second {
		t.Errorf("Timeout = %s, want 30s untouched", got.Timeout)
	}
	if got.MemoryBytes != 512<<20 {
		t.Errorf("MemoryBytes = %d, want 512MB untouched", got.MemoryBytes)
	}
}

func TestClamp_NetworkPolicy(t *testing.T) {
	req := ResourceLimits{NetworkAccess: true}

	if got := req.Clamp(DefaultLimits(), MaxLimits(), false); got.NetworkAccess {
		t.Error("network access should be stripped when policy disallows it")
	}
	if got := req.Clamp(DefaultLimits(), MaxLimits(), true); !got.NetworkAccess {
		t.Error("network access should survive when policy allows it")
	}

	off := ResourceLimits{}
	if got := off.Clamp(DefaultLimits(), MaxLimits(), true); got.NetworkAccess {
		t.Error("network access should never be granted unasked")
	}
}

func TestLimitsValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*ResourceLimits)
		wantErr bool
	}{
		{"defaults are valid", func(rl *ResourceLimits) {}, false},
		{"maxima are valid", func(rl *ResourceLimits) { *rl = MaxLimits() }, false},
		{"timeout too small", func(rl *ResourceLimits) { rl.Timeout = 500 * time.Millisecond }, true},
		{"timeout too large", func(rl *ResourceLimits) { rl.Timeout = time.Hour }, true},
		{"memory too small", func(rl *ResourceLimits) { rl.MemoryBytes = 1 << 20 }, true},
		{"cpu quota zero", func(rl *ResourceLimits) { rl.CPUQuota = 0 }, true},
		{"pids too small", func(rl *ResourceLimits) { rl.PidsLimit = 1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := DefaultLimits()
			tt.modify(&rl)
			err := rl.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyResourceLimits(t *testing.T) {
	spec := &specs.Spec{Process: &specs.Process{}}
	limits := ResourceLimits{
		Timeout:      10 * time.Second,
		MemoryBytes:  256 << 20,
		CPUQuota:     0.5,
		PidsLimit:    50,
		ScratchBytes: 100 << 20,
	}

	ApplyResourceLimits(spec, limits, false)

	if spec.Linux.Resources.CPU.Quota == nil || *spec.Linux.Resources.CPU.Quota != 50000 {
		t.Errorf("CPU quota = %v, want 50000us per 100000us period", spec.Linux.Resources.CPU.Quota)
	}
	if *spec.Linux.Resources.Memory.Limit != 256<<20 {
		t.Errorf("memory limit = %d, want 256MB", *spec.Linux.Resources.Memory.Limit)
	}
	if *spec.Linux.Resources.Memory.Swap != 256<<20 {
		t.Error("swap should equal the memory limit (no headroom)")
	}
	if spec.Linux.Resources.Pids.Limit != 50 {
		t.Errorf("pids limit = %d, want 50", spec.Linux.Resources.Pids.Limit)
	}

	var tmp *specs.Mount
	for i := range spec.Mounts {
		if spec.Mounts[i].Destination == "/tmp" {
			tmp = &spec.Mounts[i]
		}
	}
	if tmp == nil {
		t.Fatal("no /tmp tmpfs mount applied")
	}
	if !containsOption(tmp.Options, "noexec") {
		t.Error("scratch mount should carry noexec for interpreted languages")
	}
}

func TestApplyResourceLimits_ScratchExec(t *testing.T) {
	spec := &specs.Spec{Process: &specs.Process{}}
	ApplyResourceLimits(spec, DefaultLimits(), true)

	for _, m := range spec.Mounts {
		if m.Destination == "/tmp" && containsOption(m.Options, "noexec") {
			t.Error("scratch exec languages need an executable /tmp")
		}
	}
}

func TestApplyResourceLimits_MinimumCPUQuota(t *testing.T) {
	spec := &specs.Spec{Process: &specs.Process{}}
	limits := DefaultLimits()
	limits.CPUQuota = 0.000001

	ApplyResourceLimits(spec, limits, false)

	if *spec.Linux.Resources.CPU.Quota < 1000 {
		t.Errorf("quota = %d, want floor of 1000us", *spec.Linux.Resources.CPU.Quota)
	}
}

func containsOption(opts []string, want string) bool {
	for _, o := range opts {
		if o == want {
			return true
		}
	}
	return false
}
