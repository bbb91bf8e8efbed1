package harness

import (
	"encoding/json"
	"reflect"
	"strings"
)

// OutputsMatch compares actual program output against the expected value.
// Trailing whitespace is trimmed per line and at the end; when both sides
// parse as JSON they are compared structurally, so key order and number
// formatting differences don't fail a test. Everything else is an exact
// string match.
func OutputsMatch(actual, expected string) bool {
	a := normalize(actual)
	e := normalize(expected)

	if a == e {
		return true
	}

	av, aOK := parseJSON(a)
	ev, eOK := parseJSON(e)
	if aOK && eOK {
		return reflect.DeepEqual(av, ev)
	}

	return false
}

func normalize(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// parseJSON accepts only structured values (objects and arrays). Bare
// scalars like `12` are valid JSON but treating them structurally would
// make "12" equal "12.0", which is not what a string expectation means.
func parseJSON(s string) (any, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return nil, false
	}
	return v, true
}

// errorLine extracts the most useful line of an interpreter error:
// the last non-empty one, where Python and Node put the exception itself.
func errorLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		lines := strings.Split(s, "\n")
		return strings.TrimSpace(lines[len(lines)-1])
	}
	return s
}
