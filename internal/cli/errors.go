package cli

import (
	"errors"
	"strconv"

	"github.com/keithlinneman/kprobe/internal/readiness"
)

// Process exit codes.
const (
	ExitOK       = 0
	ExitNotReady = 1
	ExitUsage    = 2
	ExitConfig   = 3
	// ExitFailure is a runtime failure unrelated to readiness, such as a
	// listener that cannot bind.
	ExitFailure = 4
)

// UsageError is a bad invocation: unknown flag, missing or conflicting
// mode, invalid argument value.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

func usageErrorf(msg string) error { return &UsageError{Err: errors.New(msg)} }

// ExitError ends the process with Code. Without Err the command already
// reported its result and nothing more is printed.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "exit status " + strconv.Itoa(e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an Execute error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	var ue *UsageError
	if errors.As(err, &ue) {
		return ExitUsage
	}
	if readiness.IsConfigError(err) {
		return ExitConfig
	}
	return ExitFailure
}
