package validator

import "regexp"

// Pattern is one entry in a per-language danger table. Entries are data,
// never code: the validator only runs regexp matches over them.
type Pattern struct {
	ID       string
	Message  string
	Regex    *regexp.Regexp
	Severity Severity
}

// tableFor returns the danger table for a language. Unknown languages get
// only the shared table, so the validator stays usable for capability
// probes against languages added later.
func tableFor(lang string) []Pattern {
	switch lang {
	case "python":
		return pythonTable
	case "javascript":
		return javascriptTable
	case "typescript":
		return typescriptTable
	case "bash":
		return bashTable
	case "go":
		return goTable
	default:
		return sharedTable
	}
}

// sharedTable applies to every language: container escape probes, cloud
// metadata endpoints and reverse shells look the same regardless of syntax.
var sharedTable = []Pattern{
	{
		ID:       "container_breakout",
		Message:  "cgroup release_agent container breakout probe",
		Regex:    regexp.MustCompile(`/sys/fs/cgroup|notify_on_release|release_agent`),
		Severity: SeverityCritical,
	},
	{
		ID:       "runtime_socket_access",
		Message:  "access to the container runtime control socket",
		Regex:    regexp.MustCompile(`/var/run/docker|/run/containerd|docker\.sock|containerd\.sock`),
		Severity: SeverityCritical,
	},
	{
		ID:       "proc_self_probe",
		Message:  "probing /proc/self for process internals",
		Regex:    regexp.MustCompile(`/proc/self/(root|exe|fd|ns|maps|environ)`),
		Severity: SeverityHigh,
	},
	{
		ID:       "metadata_service",
		Message:  "cloud metadata service endpoint",
		Regex:    regexp.MustCompile(`169\.254\.169\.254|metadata\.google|metadata\.aws`),
		Severity: SeverityHigh,
	},
	{
		ID:       "reverse_shell",
		Message:  "reverse shell construction",
		Regex:    regexp.MustCompile(`(?i)(nc|ncat|netcat|socat)\s+.*-[elp]|/dev/tcp/|bash\s+-i\s+>&`),
		Severity: SeverityCritical,
	},
	{
		ID:       "crypto_miner",
		Message:  "cryptocurrency mining indicators",
		Regex:    regexp.MustCompile(`(?i)(stratum\+tcp|xmrig|minerd|cryptonight)`),
		Severity: SeverityMedium,
	},
}

var pythonTable = append([]Pattern{
	{
		ID:       "dynamic_eval",
		Message:  "dynamic evaluation of strings (eval/exec/compile)",
		Regex:    regexp.MustCompile(`\beval\s*\(|\bexec\s*\(|\bcompile\s*\(`),
		Severity: SeverityCritical,
	},
	{
		ID:       "dynamic_import",
		Message:  "dynamic import bypass",
		Regex:    regexp.MustCompile(`__import__\s*\(|importlib\.import_module`),
		Severity: SeverityCritical,
	},
	{
		ID:       "os_escape",
		Message:  "direct operating system access",
		Regex:    regexp.MustCompile(`\bimport\s+os\b|\bfrom\s+os\b`),
		Severity: SeverityCritical,
	},
	{
		ID:       "subprocess_escape",
		Message:  "spawning subprocesses",
		Regex:    regexp.MustCompile(`\bimport\s+subprocess\b|\bfrom\s+subprocess\b|\bos\.system\s*\(|\bos\.popen\s*\(`),
		Severity: SeverityCritical,
	},
	{
		ID:       "native_code",
		Message:  "loading native libraries via ctypes",
		Regex:    regexp.MustCompile(`\bimport\s+ctypes\b|ctypes\.CDLL`),
		Severity: SeverityCritical,
	},
	{
		ID:       "raw_socket",
		Message:  "raw socket construction",
		Regex:    regexp.MustCompile(`\bimport\s+socket\b|\bfrom\s+socket\b`),
		Severity: SeverityHigh,
	},
	{
		ID:       "filesystem_walk",
		Message:  "filesystem traversal outside the workspace",
		Regex:    regexp.MustCompile(`\bimport\s+shutil\b|open\s*\(\s*['"]/(etc|proc|sys|root)`),
		Severity: SeverityHigh,
	},
	{
		ID:       "huge_range",
		Message:  "extremely large literal range bound",
		Regex:    regexp.MustCompile(`range\s*\(\s*\d{9,}`),
		Severity: SeverityMedium,
	},
}, sharedTable...)

var javascriptTable = append([]Pattern{
	{
		ID:       "dynamic_eval",
		Message:  "dynamic evaluation of strings (eval/Function constructor)",
		Regex:    regexp.MustCompile(`\beval\s*\(|new\s+Function\s*\(|\bFunction\s*\(\s*['"]`),
		Severity: SeverityCritical,
	},
	{
		ID:       "child_process",
		Message:  "spawning child processes",
		Regex:    regexp.MustCompile(`require\s*\(\s*['"]child_process['"]|from\s+['"]child_process['"]`),
		Severity: SeverityCritical,
	},
	{
		ID:       "fs_access",
		Message:  "direct filesystem module access",
		Regex:    regexp.MustCompile(`require\s*\(\s*['"](fs|fs/promises)['"]`),
		Severity: SeverityCritical,
	},
	{
		ID:       "process_escape",
		Message:  "process-level escape (binding/dlopen)",
		Regex:    regexp.MustCompile(`process\.binding\s*\(|process\.dlopen\s*\(`),
		Severity: SeverityCritical,
	},
	{
		ID:       "net_access",
		Message:  "network module access",
		Regex:    regexp.MustCompile(`require\s*\(\s*['"](net|http|https|dgram)['"]`),
		Severity: SeverityHigh,
	},
	{
		ID:       "prototype_pollution",
		Message:  "prototype pollution marker",
		Regex:    regexp.MustCompile(`__proto__|Object\.setPrototypeOf|constructor\s*\[\s*['"]prototype['"]`),
		Severity: SeverityHigh,
	},
}, sharedTable...)

// typescriptTable inherits the JavaScript table and adds ES-module import
// forms of the same escapes.
var typescriptTable = append([]Pattern{
	{
		ID:       "module_import_escape",
		Message:  "importing a process or filesystem module",
		Regex:    regexp.MustCompile(`import\s+.*\s+from\s+['"](child_process|fs|fs/promises|node:child_process|node:fs)['"]`),
		Severity: SeverityCritical,
	},
	{
		ID:       "module_import_net",
		Message:  "importing a network module",
		Regex:    regexp.MustCompile(`import\s+.*\s+from\s+['"](net|http|https|dgram|node:net|node:http)['"]`),
		Severity: SeverityHigh,
	},
}, javascriptTable...)

var bashTable = append([]Pattern{
	{
		ID:       "destructive_rm",
		Message:  "recursive delete of a root path",
		Regex:    regexp.MustCompile(`rm\s+(-[a-zA-Z]*r[a-zA-Z]*f|-[a-zA-Z]*f[a-zA-Z]*r)\s+/`),
		Severity: SeverityCritical,
	},
	{
		ID:       "fork_bomb",
		Message:  "fork bomb",
		Regex:    regexp.MustCompile(`:\s*\(\s*\)\s*\{\s*:\s*\|`),
		Severity: SeverityCritical,
	},
	{
		ID:       "pipe_to_shell",
		Message:  "piping a download into a shell",
		Regex:    regexp.MustCompile(`(curl|wget)\s+.*\|\s*(sh|bash)`),
		Severity: SeverityCritical,
	},
	{
		ID:       "device_write",
		Message:  "writing to block or memory devices",
		Regex:    regexp.MustCompile(`>\s*/dev/(sd|mem|kmem)|dd\s+.*of=/dev/`),
		Severity: SeverityCritical,
	},
}, sharedTable...)

var goTable = append([]Pattern{
	{
		ID:       "os_exec",
		Message:  "spawning subprocesses via os/exec",
		Regex:    regexp.MustCompile(`"os/exec"`),
		Severity: SeverityCritical,
	},
	{
		ID:       "syscall_access",
		Message:  "raw syscall or unsafe pointer access",
		Regex:    regexp.MustCompile(`"syscall"|"unsafe"`),
		Severity: SeverityCritical,
	},
	{
		ID:       "net_access",
		Message:  "network package access",
		Regex:    regexp.MustCompile(`"net"|"net/http"`),
		Severity: SeverityHigh,
	},
}, sharedTable...)
