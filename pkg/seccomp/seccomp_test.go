package seccomp

import (
	"encoding/json"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

func actionFor(p *specs.LinuxSeccomp, name string) (specs.LinuxSeccompAction, bool) {
	for _, sc := range p.Syscalls {
		for _, n := range sc.Names {
			if n == name {
				return sc.Action, true
			}
		}
	}
	return "", false
}

func TestBuilder_DenyByDefault(t *testing.T) {
	p := NewBuilder().Build()

	if p.DefaultAction != specs.ActErrno {
		t.Errorf("default action = %v, want %v", p.DefaultAction, specs.ActErrno)
	}
	if len(p.Syscalls) != 0 {
		t.Errorf("fresh builder has %d syscall rules, want 0", len(p.Syscalls))
	}
}

func TestBuilder_Actions(t *testing.T) {
	p := NewBuilder().
		Allow("read", "write").
		Deny("mount").
		Trap("ptrace").
		Build()

	tests := []struct {
		name   string
		action specs.LinuxSeccompAction
	}{
		{"read", specs.ActAllow},
		{"write", specs.ActAllow},
		{"mount", specs.ActErrno},
		{"ptrace", specs.ActTrap},
	}
	for _, tt := range tests {
		got, ok := actionFor(p, tt.name)
		if !ok {
			t.Errorf("%s: no rule found", tt.name)
			continue
		}
		if got != tt.action {
			t.Errorf("%s: action = %v, want %v", tt.name, got, tt.action)
		}
	}
}

func TestBuilder_DefaultArchitectures(t *testing.T) {
	p := NewBuilder().Build()

	want := map[specs.Arch]bool{specs.ArchX86_64: false, specs.ArchAARCH64: false}
	for _, a := range p.Architectures {
		if _, ok := want[a]; ok {
			want[a] = true
		}
	}
	for a, seen := range want {
		if !seen {
			t.Errorf("architecture %v missing from default set", a)
		}
	}
}

func TestBuilder_WithArchitectures(t *testing.T) {
	p := NewBuilder().WithArchitectures(specs.ArchX86_64).Build()

	if len(p.Architectures) != 1 || p.Architectures[0] != specs.ArchX86_64 {
		t.Errorf("architectures = %v, want [%v]", p.Architectures, specs.ArchX86_64)
	}
}

func TestDefaultProfile_BaselineAllowed(t *testing.T) {
	p := DefaultProfile()

	for _, name := range []string{"read", "write", "openat", "mmap", "futex", "execve", "clone", "exit_group", "getrandom"} {
		action, ok := actionFor(p, name)
		if !ok {
			t.Errorf("%s: not present in profile", name)
			continue
		}
		if action != specs.ActAllow {
			t.Errorf("%s: action = %v, want %v", name, action, specs.ActAllow)
		}
	}
}

func TestDefaultProfile_EscapeSurface(t *testing.T) {
	p := DefaultProfile()

	trapped := []string{"ptrace", "bpf", "userfaultfd", "init_module", "kexec_load", "perf_event_open"}
	for _, name := range trapped {
		action, ok := actionFor(p, name)
		if !ok {
			t.Errorf("%s: not present in profile", name)
			continue
		}
		if action != specs.ActTrap {
			t.Errorf("%s: action = %v, want %v", name, action, specs.ActTrap)
		}
	}

	denied := []string{"mount", "umount2", "pivot_root", "setns", "unshare", "reboot", "iopl"}
	for _, name := range denied {
		action, ok := actionFor(p, name)
		if !ok {
			t.Errorf("%s: not present in profile", name)
			continue
		}
		if action != specs.ActErrno {
			t.Errorf("%s: action = %v, want %v", name, action, specs.ActErrno)
		}
	}
}

func TestDefaultProfile_NoNetwork(t *testing.T) {
	p := DefaultProfile()

	for _, name := range []string{"socket", "connect", "bind", "listen"} {
		if action, ok := actionFor(p, name); ok && action == specs.ActAllow {
			t.Errorf("%s allowed in default profile", name)
		}
	}
}

func TestNetworkAllowProfile(t *testing.T) {
	p := NetworkAllowProfile()

	for _, name := range []string{"socket", "connect", "sendto", "recvfrom", "getsockopt"} {
		action, ok := actionFor(p, name)
		if !ok {
			t.Errorf("%s: not present in network profile", name)
			continue
		}
		if action != specs.ActAllow {
			t.Errorf("%s: action = %v, want %v", name, action, specs.ActAllow)
		}
	}

	// Network access never weakens the escape surface rules.
	if action, _ := actionFor(p, "ptrace"); action != specs.ActTrap {
		t.Errorf("ptrace action = %v, want %v", action, specs.ActTrap)
	}
	if action, _ := actionFor(p, "mount"); action != specs.ActErrno {
		t.Errorf("mount action = %v, want %v", action, specs.ActErrno)
	}
}

func TestMarshalDocker(t *testing.T) {
	data, err := MarshalDocker(DefaultProfile())
	if err != nil {
		t.Fatalf("MarshalDocker: %v", err)
	}

	var decoded struct {
		DefaultAction string `json:"defaultAction"`
		Architectures []string
		Syscalls      []struct {
			Names  []string
			Action string
		}
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshaling rendered profile: %v", err)
	}
	if decoded.DefaultAction != "SCMP_ACT_ERRNO" {
		t.Errorf("defaultAction = %q, want SCMP_ACT_ERRNO", decoded.DefaultAction)
	}
	if len(decoded.Syscalls) == 0 {
		t.Error("rendered profile has no syscall rules")
	}
}

func TestProfileJSONHelpers(t *testing.T) {
	def, err := DefaultProfileJSON()
	if err != nil {
		t.Fatalf("DefaultProfileJSON: %v", err)
	}
	net, err := NetworkProfileJSON()
	if err != nil {
		t.Fatalf("NetworkProfileJSON: %v", err)
	}
	if string(def) == string(net) {
		t.Error("default and network profiles render identically")
	}
}
