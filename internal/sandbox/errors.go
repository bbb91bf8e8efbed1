package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrTimeout         = errors.New("execution timed out")
	ErrOOM             = errors.New("memory limit exceeded")
	ErrInfra           = errors.New("sandbox could not be provisioned")
	ErrRuntimeDown     = errors.New("container runtime unavailable")
	ErrInvalidRequest  = errors.New("invalid execution request")
	ErrUnsupportedLang = errors.New("unsupported language")
)

// Error wraps failures with the owning request and the operation that
// failed, so a log line alone is enough to place it.
type Error struct {
	RequestID string
	Op        string
	Err       error
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("sandbox %s: %s: %s", e.RequestID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether the error is a wall-clock timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsOOM reports whether the error is a memory-ceiling kill.
func IsOOM(err error) bool {
	return errors.Is(err, ErrOOM)
}

// IsInfra reports whether the error came from the isolation layer itself,
// as opposed to the submitted program failing on its own.
func IsInfra(err error) bool {
	return errors.Is(err, ErrInfra) || errors.Is(err, ErrRuntimeDown)
}
