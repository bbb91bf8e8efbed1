package seccomp

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Builder assembles a deny-by-default seccomp profile. Anything not
// explicitly allowed fails with EPERM inside the sandbox.
type Builder struct {
	profile *specs.LinuxSeccomp
}

func NewBuilder() *Builder {
	return &Builder{
		profile: &specs.LinuxSeccomp{
			DefaultAction: specs.ActErrno,
			Architectures: []specs.Arch{
				specs.ArchX86_64,
				specs.ArchAARCH64,
			},
		},
	}
}

// Allow permits the named syscalls.
func (b *Builder) Allow(names ...string) *Builder {
	b.profile.Syscalls = append(b.profile.Syscalls, specs.LinuxSyscall{
		Names:  names,
		Action: specs.ActAllow,
	})
	return b
}

// Deny makes the named syscalls fail with EPERM. Redundant with the
// default action but keeps high-risk calls listed explicitly.
func (b *Builder) Deny(names ...string) *Builder {
	b.profile.Syscalls = append(b.profile.Syscalls, specs.LinuxSyscall{
		Names:  names,
		Action: specs.ActErrno,
	})
	return b
}

// Trap kills the calling thread on the named syscalls, surfacing the
// attempt to the supervisor instead of returning an error the program
// could swallow.
func (b *Builder) Trap(names ...string) *Builder {
	b.profile.Syscalls = append(b.profile.Syscalls, specs.LinuxSyscall{
		Names:  names,
		Action: specs.ActTrap,
	})
	return b
}

func (b *Builder) WithArchitectures(archs ...specs.Arch) *Builder {
	b.profile.Architectures = archs
	return b
}

func (b *Builder) Build() *specs.LinuxSeccomp {
	return b.profile
}
