package seccomp

import (
	"encoding/json"
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// MarshalDocker renders a profile as the JSON Docker accepts for
// --security-opt seccomp=<file>. The OCI field names and action constants
// line up with Docker's format, so this is a plain marshal.
func MarshalDocker(p *specs.LinuxSeccomp) ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling seccomp profile: %w", err)
	}
	return data, nil
}

// DefaultProfileJSON is DefaultProfile rendered for Docker.
func DefaultProfileJSON() ([]byte, error) {
	return MarshalDocker(DefaultProfile())
}

// NetworkProfileJSON is NetworkAllowProfile rendered for Docker.
func NetworkProfileJSON() ([]byte, error) {
	return MarshalDocker(NetworkAllowProfile())
}
