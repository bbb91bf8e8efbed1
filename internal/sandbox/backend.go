package sandbox

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
)

// BackendConfig selects and configures the container runtime.
type BackendConfig struct {
	Backend          string // "auto" (default), "containerd", or "docker"
	ContainerdSocket string
	Namespace        string
	KillGrace        time.Duration
}

// NewContainerRuntime picks the isolation backend: containerd on Linux
// when reachable, Docker otherwise.
func NewContainerRuntime(ctx context.Context, cfg BackendConfig) (ContainerRuntime, error) {
	preference := cfg.Backend
	if preference == "" {
		preference = "auto"
	}

	switch preference {
	case "containerd":
		return NewContainerdRuntime(ctx, cfg.ContainerdSocket, cfg.Namespace, cfg.KillGrace)
	case "docker":
		return NewDockerRuntime(cfg.KillGrace)
	case "auto":
		if runtime.GOOS == "linux" {
			backend, err := NewContainerdRuntime(ctx, cfg.ContainerdSocket, cfg.Namespace, cfg.KillGrace)
			if err == nil {
				log.Info().Msg("using containerd backend")
				return backend, nil
			}
			log.Warn().Err(err).Msg("containerd unavailable, trying Docker")
		}

		backend, err := NewDockerRuntime(cfg.KillGrace)
		if err == nil {
			log.Info().Msg("using Docker backend")
			return backend, nil
		}

		return nil, fmt.Errorf("%w: no isolation backend available", ErrRuntimeDown)
	default:
		return nil, fmt.Errorf("unknown backend %q: must be auto, containerd, or docker", preference)
	}
}
