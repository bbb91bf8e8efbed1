package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	maxStdoutBytes = 1 << 20    // 1MB
	maxStderrBytes = 256 * 1024 // 256KB
)

// DockerRuntime drives sandboxes through the docker CLI. It is the
// portable backend: it needs nothing beyond a reachable Docker daemon and
// works identically on Linux and macOS.
type DockerRuntime struct {
	dockerHost string        // resolved DOCKER_HOST (e.g. from Docker context)
	killGrace  time.Duration // TERM-to-KILL escalation window
}

// NewDockerRuntime verifies the daemon is reachable and returns the
// backend.
func NewDockerRuntime(killGrace time.Duration) (*DockerRuntime, error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return nil, fmt.Errorf("%w: docker not found in PATH", ErrRuntimeDown)
	}
	if killGrace <= 0 {
		killGrace = 2 * time.Second
	}

	d := &DockerRuntime{
		dockerHost: resolveDockerHost(),
		killGrace:  killGrace,
	}
	if err := d.command(context.Background(), "info").Run(); err != nil {
		return nil, fmt.Errorf("%w: docker daemon not reachable: %v", ErrRuntimeDown, err)
	}
	return d, nil
}

func (d *DockerRuntime) Name() string { return "docker" }

// resolveDockerHost figures out the Docker socket. On macOS, Docker
// Desktop uses a context-specific socket that child processes don't
// inherit.
func resolveDockerHost() string {
	if h := os.Getenv("DOCKER_HOST"); h != "" {
		return h
	}

	out, err := exec.Command("docker", "context", "inspect", "--format", "{{.Endpoints.docker.Host}}").Output()
	if err == nil {
		host := strings.TrimSpace(string(out))
		if host != "" {
			log.Debug().Str("docker_host", host).Msg("resolved Docker host from context")
			return host
		}
	}

	return ""
}

func (d *DockerRuntime) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "docker", args...) // #nosec G204 -- args built internally
	if d.dockerHost != "" {
		cmd.Env = append(os.Environ(), "DOCKER_HOST="+d.dockerHost)
	}
	return cmd
}

// Provision writes the workspace to a host temp dir, makes sure the image
// is present, and returns the sandbox handle. No container exists yet;
// containers are created per Run and removed as soon as the run ends, so
// nothing survives the request.
func (d *DockerRuntime) Provision(ctx context.Context, spec ProvisionSpec) (Sandbox, error) {
	hostDir, err := os.MkdirTemp("", "sandbox-"+spec.ID+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	cleanup := func() { _ = os.RemoveAll(hostDir) }

	for name, content := range spec.Files {
		path := filepath.Join(hostDir, name)
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			cleanup()
			return nil, fmt.Errorf("writing %s: %w", name, err)
		}
		// World-readable: the container process runs as nobody.
		if err := os.Chmod(path, 0444); err != nil {
			cleanup()
			return nil, fmt.Errorf("chmod %s: %w", name, err)
		}
	}

	var profileJSON []byte
	var profileErr error
	if spec.Limits.NetworkAccess {
		profileJSON, profileErr = dockerNetworkProfile()
	} else {
		profileJSON, profileErr = dockerDefaultProfile()
	}
	if profileErr != nil {
		cleanup()
		return nil, profileErr
	}
	seccompPath := filepath.Join(hostDir, "seccomp.json")
	if err := os.WriteFile(seccompPath, profileJSON, 0600); err != nil {
		cleanup()
		return nil, fmt.Errorf("writing seccomp profile: %w", err)
	}

	if err := d.ensureImage(ctx, spec.Image); err != nil {
		cleanup()
		return nil, err
	}

	return &dockerSandbox{
		runtime:     d,
		id:          spec.ID,
		hostDir:     hostDir,
		seccompPath: seccompPath,
		image:       spec.Image,
		limits:      spec.Limits,
		scratchExec: spec.ScratchExec,
	}, nil
}

func (d *DockerRuntime) ensureImage(ctx context.Context, ref string) error {
	if err := d.command(ctx, "image", "inspect", ref).Run(); err == nil {
		return nil
	}

	log.Info().Str("ref", ref).Msg("pulling image")
	var stderr bytes.Buffer
	pull := d.command(ctx, "pull", "--quiet", ref)
	pull.Stderr = &stderr
	if err := pull.Run(); err != nil {
		return fmt.Errorf("pulling image %s: %v: %s", ref, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Healthy reports whether the Docker daemon answers.
func (d *DockerRuntime) Healthy(ctx context.Context) bool {
	return d.command(ctx, "info").Run() == nil
}

// Sweep force-removes sandbox containers older than maxAge. Normal
// execution removes its own containers; this catches the ones orphaned by
// a crashed server process.
func (d *DockerRuntime) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	out, err := d.command(ctx, "ps", "-a", "--filter", "name=sandbox-", "--format", "{{.ID}}").Output()
	if err != nil {
		return 0, fmt.Errorf("listing sandbox containers: %w", err)
	}

	var reclaimed int
	for _, id := range strings.Fields(strings.TrimSpace(string(out))) {
		createdOut, err := d.command(ctx, "inspect", "--format", "{{.Created}}", id).Output()
		if err != nil {
			continue
		}
		created, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(createdOut)))
		if err != nil || time.Since(created) < maxAge {
			continue
		}

		log.Warn().Str("container_id", id).Msg("reclaiming orphaned sandbox container")
		if err := d.command(ctx, "rm", "-f", id).Run(); err == nil {
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (d *DockerRuntime) Close() error { return nil }

// dockerSandbox is one request's isolated workspace plus the containers
// created to run in it.
type dockerSandbox struct {
	runtime     *DockerRuntime
	id          string
	hostDir     string
	seccompPath string
	image       string
	limits      ResourceLimits
	scratchExec bool

	runSeq    atomic.Int64
	destroyed atomic.Bool
}

func (s *dockerSandbox) ID() string { return s.id }

func (s *dockerSandbox) Run(ctx context.Context, argv []string, stdin string) (*RunResult, error) {
	if s.destroyed.Load() {
		return nil, fmt.Errorf("%w: sandbox already destroyed", ErrInfra)
	}

	name := fmt.Sprintf("sandbox-%s-r%d", s.id, s.runSeq.Add(1))
	args := s.buildRunArgs(name, argv)

	// Not CommandContext: on deadline we escalate TERM->KILL ourselves
	// instead of letting exec kill the docker CLI and strand the container.
	cmd := exec.Command("docker", args...) // #nosec G204 -- args built internally
	if s.runtime.dockerHost != "" {
		cmd.Env = append(os.Environ(), "DOCKER_HOST="+s.runtime.dockerHost)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting container: %v", ErrInfra, err)
	}

	sampler := newUsageSampler(s.runtime, name)
	samplerCtx, stopSampler := context.WithCancel(context.Background())
	go sampler.run(samplerCtx)

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var runErr error
	var timedOut bool

	select {
	case runErr = <-waitCh:
	case <-ctx.Done():
		timedOut = ctx.Err() == context.DeadlineExceeded
		s.terminate(name)
		runErr = <-waitCh
	}

	stopSampler()
	duration := time.Since(start)

	usage := sampler.snapshot()
	usage.WallTime = duration

	oom := s.inspectOOM(name)
	s.removeContainer(name)

	result := &RunResult{
		Stdout:   truncateOutput(stdoutBuf.String(), maxStdoutBytes),
		Stderr:   truncateOutput(stderrBuf.String(), maxStderrBytes),
		Duration: duration,
		OOM:      oom,
		Usage:    usage,
	}

	if timedOut {
		result.ExitCode = -1
		return result, ErrTimeout
	}
	if ctx.Err() != nil {
		result.ExitCode = -1
		return result, ctx.Err()
	}

	if runErr != nil {
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("%w: docker run: %v", ErrInfra, runErr)
		}
		result.ExitCode = exitErr.ExitCode()
		if oom || result.ExitCode == 137 {
			result.OOM = true
			return result, ErrOOM
		}
	}

	return result, nil
}

func (s *dockerSandbox) buildRunArgs(name string, argv []string) []string {
	network := "none"
	if s.limits.NetworkAccess {
		network = "bridge"
	}

	tmpfsOpts := fmt.Sprintf("rw,nosuid,nodev,size=%d", s.limits.ScratchBytes)
	if !s.scratchExec {
		tmpfsOpts += ",noexec"
	}

	memoryBytes := s.limits.MemoryBytes

	args := []string{
		"run", "-i",
		"--name", name,
		"--network", network,
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--security-opt", "seccomp=" + s.seccompPath,
		"--read-only",
		"--memory", fmt.Sprintf("%d", memoryBytes),
		"--memory-swap", fmt.Sprintf("%d", memoryBytes),
		"--pids-limit", fmt.Sprintf("%d", s.limits.PidsLimit),
		"--cpus", fmt.Sprintf("%.2f", s.limits.CPUQuota),
		"--tmpfs", "/tmp:" + tmpfsOpts,
		"-v", fmt.Sprintf("%s:/workspace:ro", s.hostDir),
		"--workdir", "/workspace",
		"--user", "65534:65534",
		"-e", "HOME=/tmp",
		"-e", "LANG=C.UTF-8",
		"-e", "GOCACHE=/tmp/gocache",
		"-e", "SANDBOX=true",
	}

	args = append(args, s.image)
	args = append(args, argv...)
	return args
}

// terminate escalates: TERM, grace window, then force removal (KILL).
func (s *dockerSandbox) terminate(name string) {
	grace := s.runtime.killGrace

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	_ = s.runtime.command(ctx, "kill", "--signal", "TERM", name).Run()

	stopped := make(chan struct{})
	go func() {
		_ = s.runtime.command(ctx, "wait", name).Run()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(grace):
	}
	cancel()

	killCtx, killCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer killCancel()
	_ = s.runtime.command(killCtx, "rm", "-f", name).Run()
}

func (s *dockerSandbox) inspectOOM(name string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := s.runtime.command(ctx, "inspect", "--format", "{{.State.OOMKilled}}", name).Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "true"
}

func (s *dockerSandbox) removeContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.runtime.command(ctx, "rm", "-f", name).Run(); err != nil {
		log.Warn().Str("container", name).Err(err).Msg("container removal failed")
	}
}

// Destroy removes the workspace. Containers are already removed per run;
// a second call is a no-op.
func (s *dockerSandbox) Destroy(context.Context) error {
	if !s.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	if err := os.RemoveAll(s.hostDir); err != nil {
		return fmt.Errorf("removing workspace: %w", err)
	}
	log.Debug().Str("sandbox_id", s.id).Msg("sandbox destroyed")
	return nil
}

func truncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n... [output truncated]"
}
