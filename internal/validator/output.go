package validator

import "strings"

// outputMarkers are substrings in captured output that indicate a sandbox
// boundary was probed or crossed. Checked post-execution; a match cannot
// block a run that already happened, but it travels with the result and
// raises the severity of the record.
var outputMarkers = []struct {
	id     string
	substr string
	sev    Severity
}{
	{"kernel_leak", "Linux version", SeverityHigh},
	{"passwd_leak", "root:x:0:0", SeverityCritical},
	{"runtime_socket_leak", "docker.sock", SeverityCritical},
	{"runtime_socket_leak", "containerd.sock", SeverityCritical},
	{"metadata_leak", "ami-id", SeverityHigh},
}

// ScanOutput checks captured stdout/stderr for signs of a successful
// escape or information leak.
func (v *Validator) ScanOutput(output string) []Violation {
	var out []Violation
	for _, m := range outputMarkers {
		if strings.Contains(output, m.substr) {
			out = append(out, Violation{
				PatternID: m.id,
				Severity:  m.sev.String(),
				Message:   "suspicious content in execution output",
			})
		}
	}
	return out
}
