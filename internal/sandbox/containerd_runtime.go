package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog/log"
)

// ContainerdRuntime drives sandboxes through the containerd API directly,
// mutating the OCI spec for capabilities, namespaces, rlimits and seccomp.
// Linux only.
type ContainerdRuntime struct {
	client    *Client
	killGrace time.Duration
}

func NewContainerdRuntime(ctx context.Context, socket, namespace string, killGrace time.Duration) (*ContainerdRuntime, error) {
	client, err := NewClient(ctx, socket, namespace)
	if err != nil {
		return nil, err
	}
	if killGrace <= 0 {
		killGrace = 2 * time.Second
	}
	return &ContainerdRuntime{client: client, killGrace: killGrace}, nil
}

func (c *ContainerdRuntime) Name() string { return "containerd" }

func (c *ContainerdRuntime) Healthy(ctx context.Context) bool {
	return c.client.Healthy(ctx)
}

func (c *ContainerdRuntime) Close() error {
	return c.client.Close()
}

func (c *ContainerdRuntime) Provision(ctx context.Context, spec ProvisionSpec) (Sandbox, error) {
	hostDir, err := os.MkdirTemp("", "sandbox-"+spec.ID+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	for name, content := range spec.Files {
		path := filepath.Join(hostDir, name)
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			_ = os.RemoveAll(hostDir)
			return nil, fmt.Errorf("writing %s: %w", name, err)
		}
		if err := os.Chmod(path, 0444); err != nil { // container runs as nobody
			_ = os.RemoveAll(hostDir)
			return nil, fmt.Errorf("chmod %s: %w", name, err)
		}
	}

	image, err := c.client.PullImage(ctx, spec.Image)
	if err != nil {
		_ = os.RemoveAll(hostDir)
		return nil, err
	}

	return &containerdSandbox{
		runtime: c,
		id:      spec.ID,
		hostDir: hostDir,
		image:   image,
		spec:    spec,
	}, nil
}

// Sweep removes sandbox containers whose creation time is past maxAge.
func (c *ContainerdRuntime) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	nsCtx := c.client.WithNamespace(ctx)

	list, err := c.client.Raw().Containers(nsCtx)
	if err != nil {
		return 0, fmt.Errorf("listing containers: %w", err)
	}

	var reclaimed int
	for _, cont := range list {
		if !strings.HasPrefix(cont.ID(), "sandbox-") {
			continue
		}
		info, err := cont.Info(nsCtx)
		if err != nil || time.Since(info.CreatedAt) < maxAge {
			continue
		}

		log.Warn().Str("container_id", cont.ID()).Msg("reclaiming orphaned sandbox container")
		if err := c.removeContainer(ctx, cont); err != nil {
			log.Error().Err(err).Str("container_id", cont.ID()).Msg("orphan cleanup failed")
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}

func (c *ContainerdRuntime) removeContainer(ctx context.Context, container containerd.Container) error {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cleanupCtx = c.client.WithNamespace(cleanupCtx)

	if task, err := container.Task(cleanupCtx, nil); err == nil {
		if status, err := task.Status(cleanupCtx); err == nil && status.Status != containerd.Stopped {
			_ = task.Kill(cleanupCtx, syscall.SIGKILL)

			waitCtx, waitCancel := context.WithTimeout(cleanupCtx, 5*time.Second)
			exitCh, _ := task.Wait(waitCtx)
			if exitCh != nil {
				select {
				case <-exitCh:
				case <-waitCtx.Done():
				}
			}
			waitCancel()
		}
		if _, err := task.Delete(cleanupCtx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
			log.Warn().Err(err).Str("container_id", container.ID()).Msg("task delete failed")
		}
	}

	if err := container.Delete(cleanupCtx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("deleting container %s: %w", container.ID(), err)
	}
	return nil
}

type containerdSandbox struct {
	runtime *ContainerdRuntime
	id      string
	hostDir string
	image   containerd.Image
	spec    ProvisionSpec

	runSeq    atomic.Int64
	destroyed atomic.Bool
}

func (s *containerdSandbox) ID() string { return s.id }

func (s *containerdSandbox) Run(ctx context.Context, argv []string, stdin string) (*RunResult, error) {
	if s.destroyed.Load() {
		return nil, fmt.Errorf("%w: sandbox already destroyed", ErrInfra)
	}

	containerID := fmt.Sprintf("sandbox-%s-r%d", s.id, s.runSeq.Add(1))
	nsCtx := s.runtime.client.WithNamespace(context.Background())

	secProfile := DefaultSecurityProfile()
	if s.spec.Limits.NetworkAccess {
		secProfile = NetworkSecurityProfile()
	}

	container, err := s.runtime.client.Raw().NewContainer(nsCtx, containerID,
		containerd.WithImage(s.image),
		containerd.WithNewSnapshot(containerID+"-snapshot", s.image),
		containerd.WithNewSpec(
			oci.WithImageConfig(s.image),
			oci.WithProcessArgs(argv...),
			oci.WithProcessCwd("/workspace"),
			oci.WithHostname("sandbox"),
			func(_ context.Context, _ oci.Client, _ *containers.Container, sp *specs.Spec) error {
				ApplySecurityProfile(sp, secProfile)
				ApplyResourceLimits(sp, s.spec.Limits, s.spec.ScratchExec)

				sp.Mounts = append(sp.Mounts, specs.Mount{
					Destination: "/workspace",
					Type:        "bind",
					Source:      s.hostDir,
					Options:     []string{"rbind", "ro"},
				})

				sp.Process.Env = []string{
					"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
					"HOME=/tmp",
					"LANG=C.UTF-8",
					"GOCACHE=/tmp/gocache",
					"SANDBOX=true",
				}
				return nil
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: creating container: %v", ErrInfra, err)
	}
	defer func() {
		if cleanErr := s.runtime.removeContainer(context.Background(), container); cleanErr != nil {
			log.Error().Err(cleanErr).Str("container_id", containerID).Msg("container cleanup failed")
		}
	}()

	var stdoutBuf, stderrBuf bytes.Buffer
	task, err := container.NewTask(nsCtx,
		cio.NewCreator(cio.WithStreams(strings.NewReader(stdin), &stdoutBuf, &stderrBuf)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: creating task: %v", ErrInfra, err)
	}
	defer func() {
		if _, err := task.Delete(context.Background(), containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
			log.Warn().Err(err).Str("container_id", containerID).Msg("task delete failed")
		}
	}()

	exitCh, err := task.Wait(nsCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: task wait: %v", ErrInfra, err)
	}

	start := time.Now()
	if err := task.Start(nsCtx); err != nil {
		return nil, fmt.Errorf("%w: task start: %v", ErrInfra, err)
	}

	var exitCode int
	var timedOut bool

	select {
	case status := <-exitCh:
		exitCode = int(status.ExitCode())
	case <-ctx.Done():
		timedOut = ctx.Err() == context.DeadlineExceeded
		_ = task.Kill(nsCtx, syscall.SIGTERM)
		select {
		case <-exitCh:
		case <-time.After(s.runtime.killGrace):
			_ = task.Kill(nsCtx, syscall.SIGKILL)
			<-exitCh
		}
		exitCode = -1
	}

	duration := time.Since(start)

	result := &RunResult{
		Stdout:   truncateOutput(stdoutBuf.String(), maxStdoutBytes),
		Stderr:   truncateOutput(stderrBuf.String(), maxStderrBytes),
		ExitCode: exitCode,
		Duration: duration,
		Usage:    ResourceUsage{WallTime: duration},
	}

	if timedOut {
		return result, ErrTimeout
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if exitCode == 137 {
		result.OOM = true
		return result, ErrOOM
	}
	return result, nil
}

func (s *containerdSandbox) Destroy(context.Context) error {
	if !s.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	if err := os.RemoveAll(s.hostDir); err != nil {
		return fmt.Errorf("removing workspace: %w", err)
	}
	log.Debug().Str("sandbox_id", s.id).Msg("sandbox destroyed")
	return nil
}
