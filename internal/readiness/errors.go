package readiness

import (
	"errors"
	"fmt"
)

// ConfigError reports a readiness chain that cannot be built. It is a
// startup failure: callers must refuse to serve rather than report ready.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return "readiness misconfigured: " + e.Reason + ": " + e.Err.Error()
	}
	return "readiness misconfigured: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err carries a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// NotReadyError lets error-returning code carry an explicit cause and status
// through ErrorFunc.
type NotReadyError struct {
	Cause  string
	Status int
}

func (e *NotReadyError) Error() string { return e.Cause }

// Outcome converts the error back into the NotReady outcome it describes.
func (e *NotReadyError) Outcome() Outcome { return NotReadyStatus(e.Cause, e.Status) }
