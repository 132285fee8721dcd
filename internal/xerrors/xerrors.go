// Package xerrors adds call-site information to errors. Wrappers keep the
// error chain intact so errors.Is and errors.As see through them; the logger
// reads the captured program counters to render stacks and error links.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxDepth = 64

// stacked carries the full call stack at the point the error was created.
type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }

// wrapped prefixes a message and records a single call site.
type wrapped struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrapped) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }
func (w *wrapped) PC() uintptr   { return w.pc }

// callers skips runtime.Callers, callers itself and skip more frames.
func callers(skip int) []uintptr {
	pcs := make([]uintptr, maxDepth)
	return pcs[:runtime.Callers(2+skip, pcs)]
}

func caller(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(2+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func New(msg string) error {
	return &stacked{err: errors.New(msg), pcs: callers(1)}
}

func Newf(format string, args ...any) error {
	return &stacked{err: fmt.Errorf(format, args...), pcs: callers(1)}
}

// WithStack records the caller's stack on err. nil stays nil.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: callers(1)}
}

// EnsureTrace is WithStack unless err already carries a stack.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return &stacked{err: err, pcs: callers(1)}
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: msg, pc: caller(1)}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: fmt.Sprintf(format, args...), pc: caller(1)}
}
