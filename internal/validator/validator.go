package validator

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// Severity levels for detected patterns.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity converts a config string into a Severity. Unknown values
// map to SeverityCritical so a typo fails closed.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// Violation is a statically detected danger pattern in submitted code.
type Violation struct {
	PatternID string `json:"pattern_id"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Line      int    `json:"line,omitempty"`
}

// Validator scans submitted code against per-language danger tables.
// It never executes or compiles anything; every check is a pure match
// over the source text, so the same input always yields the same report.
type Validator struct {
	maxCodeLen    int
	blockSeverity Severity
}

// Config controls validator behavior.
type Config struct {
	MaxCodeLength int
	BlockSeverity Severity
}

// New creates a Validator. A zero MaxCodeLength falls back to 50k chars,
// the platform-wide submission cap.
func New(cfg Config) *Validator {
	if cfg.MaxCodeLength <= 0 {
		cfg.MaxCodeLength = 50000
	}
	return &Validator{
		maxCodeLen:    cfg.MaxCodeLength,
		blockSeverity: cfg.BlockSeverity,
	}
}

// MaxCodeLength returns the configured submission size cap in characters.
func (v *Validator) MaxCodeLength() int {
	return v.maxCodeLen
}

// TooLarge reports whether the code exceeds the size cap. Checked before
// any pattern scanning so oversized submissions are rejected at constant
// cost.
func (v *Validator) TooLarge(code string) bool {
	return len(code) > v.maxCodeLen
}

// Validate scans the code against the table for the given language and
// returns every match. Line numbers are 1-based.
func (v *Validator) Validate(code, lang string) []Violation {
	var violations []Violation

	table := tableFor(lang)
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		for _, p := range table {
			if !p.Regex.MatchString(line) {
				continue
			}
			violations = append(violations, Violation{
				PatternID: p.ID,
				Severity:  p.Severity.String(),
				Message:   p.Message,
				Line:      i + 1,
			})
			log.Warn().
				Str("pattern", p.ID).
				Str("severity", p.Severity.String()).
				Str("language", lang).
				Int("line", i+1).
				Msg("danger pattern matched in submission")
		}
	}

	// Whole-source heuristics that need more context than a single line.
	violations = append(violations, v.loopHeuristics(code, lang)...)

	return violations
}

// Blocks reports whether any violation meets the blocking severity. By
// default only critical matches block; lower severities are advisory and
// travel with the result.
func (v *Validator) Blocks(violations []Violation) bool {
	for _, viol := range violations {
		if ParseSeverity(viol.Severity) >= v.blockSeverity {
			return true
		}
	}
	return false
}

// loopHeuristics flags statically-visible unbounded loops. A `while True`
// (or `while (true)`) with no break anywhere in the source is very likely
// to spin until the wall clock kills it. The match is advisory, not
// blocking: the orchestrator's timeout is the real enforcement.
func (v *Validator) loopHeuristics(code, lang string) []Violation {
	var out []Violation

	hasBreak := strings.Contains(code, "break")

	var loop string
	switch lang {
	case "python":
		if strings.Contains(code, "while True") && !hasBreak {
			loop = "while True"
		}
	case "javascript", "typescript":
		if (strings.Contains(code, "while(true)") || strings.Contains(code, "while (true)")) && !hasBreak {
			loop = "while (true)"
		}
	case "go":
		if strings.Contains(code, "for {") && !hasBreak && !strings.Contains(code, "return") {
			loop = "for {}"
		}
	}

	if loop != "" {
		out = append(out, Violation{
			PatternID: "unbounded_loop",
			Severity:  SeverityHigh.String(),
			Message:   "infinite loop with no statically-visible break: " + loop,
		})
	}

	return out
}
