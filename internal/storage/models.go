package storage

import "time"

// Execution is one audit record. The service itself is stateless: records
// are written for operators and never read back through the API, so code
// is stored only as a hash.
type Execution struct {
	RequestID    string    `json:"request_id" db:"request_id"`
	Language     string    `json:"language" db:"language"`
	CodeHash     string    `json:"code_hash" db:"code_hash"`
	Status       string    `json:"status" db:"status"`
	ExitCode     int       `json:"exit_code" db:"exit_code"`
	DurationMS   int64     `json:"duration_ms" db:"duration_ms"`
	CPUTimeMS    int64     `json:"cpu_time_ms" db:"cpu_time_ms"`
	PeakMemoryMB int64     `json:"peak_memory_mb" db:"peak_memory_mb"`
	Violations   int       `json:"violations" db:"violations"`
	TestsPassed  int       `json:"tests_passed" db:"tests_passed"`
	TestsTotal   int       `json:"tests_total" db:"tests_total"`
	RequestIP    string    `json:"request_ip" db:"request_ip"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
