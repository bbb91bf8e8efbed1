package sandbox

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"codelab-exec/pkg/seccomp"
)

func dockerDefaultProfile() ([]byte, error) { return seccomp.DefaultProfileJSON() }
func dockerNetworkProfile() ([]byte, error) { return seccomp.NetworkProfileJSON() }

// usageSampler polls `docker stats` while a run is alive and keeps the
// peak memory and an integrated CPU time. Sampling misses very short
// spikes, but the numbers it reports are measured, not guessed.
type usageSampler struct {
	runtime   *DockerRuntime
	container string
	interval  time.Duration

	mu      sync.Mutex
	peakMem int64
	cpuTime time.Duration
}

func newUsageSampler(rt *DockerRuntime, container string) *usageSampler {
	return &usageSampler{
		runtime:   rt,
		container: container,
		interval:  250 * time.Millisecond,
	}
}

func (u *usageSampler) run(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.sample(ctx)
		}
	}
}

func (u *usageSampler) sample(ctx context.Context) {
	out, err := u.runtime.command(ctx, "stats", "--no-stream", "--format",
		"{{.MemUsage}};{{.CPUPerc}}", u.container).Output()
	if err != nil {
		return
	}

	parts := strings.SplitN(strings.TrimSpace(string(out)), ";", 2)
	if len(parts) != 2 {
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if mem, ok := parseMemUsage(parts[0]); ok && mem > u.peakMem {
		u.peakMem = mem
	}
	if pct, ok := parseCPUPercent(parts[1]); ok {
		u.cpuTime += time.Duration(pct / 100 * float64(u.interval))
	}
}

func (u *usageSampler) snapshot() ResourceUsage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return ResourceUsage{
		CPUTime:    u.cpuTime,
		PeakMemory: u.peakMem,
	}
}

// parseMemUsage reads the used side of docker's "1.23MiB / 256MiB".
func parseMemUsage(s string) (int64, bool) {
	used := strings.TrimSpace(strings.SplitN(s, "/", 2)[0])
	var unit int64
	var suffix string
	switch {
	case strings.HasSuffix(used, "GiB"):
		unit, suffix = 1<<30, "GiB"
	case strings.HasSuffix(used, "MiB"):
		unit, suffix = 1<<20, "MiB"
	case strings.HasSuffix(used, "KiB"):
		unit, suffix = 1<<10, "KiB"
	case strings.HasSuffix(used, "B"):
		unit, suffix = 1, "B"
	default:
		return 0, false
	}
	val, err := strconv.ParseFloat(strings.TrimSuffix(used, suffix), 64)
	if err != nil {
		return 0, false
	}
	return int64(val * float64(unit)), true
}

func parseCPUPercent(s string) (float64, bool) {
	val, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
	if err != nil {
		return 0, false
	}
	return val, true
}
