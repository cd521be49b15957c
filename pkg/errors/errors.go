package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// New returns an error with the supplied message and the current stack.
func New(message string) error {
	return pkgerrors.New(message)
}

// Errorf formats according to a format specifier and records the stack.
func Errorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

// Wrap annotates err with message. Wrap returns nil if err is nil.
func Wrap(err error, message string) error {
	return pkgerrors.Wrap(err, message)
}

// Wrapf annotates err with the format specifier. Wrapf returns nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(err, format, args...)
}

// WithStack annotates err with a stack trace at the point WithStack was called.
func WithStack(err error) error {
	return pkgerrors.WithStack(err)
}

// WithMessage annotates err with a message but no extra stack.
func WithMessage(err error, message string) error {
	return pkgerrors.WithMessage(err, message)
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Cause returns the innermost error that does not wrap another one.
func Cause(err error) error {
	return pkgerrors.Cause(err)
}

// NewWithReport creates an error and forwards it to the registered reporters.
func NewWithReport(message string) error {
	err := pkgerrors.New(message)
	report(err)
	return err
}

// ErrorfAndReport formats an error and forwards it to the registered reporters.
func ErrorfAndReport(format string, args ...interface{}) error {
	err := pkgerrors.Errorf(format, args...)
	report(err)
	return err
}

// WrapAndReport wraps err and forwards it to the registered reporters.
// It returns nil if err is nil.
func WrapAndReport(err error, message string) error {
	if err == nil {
		return nil
	}
	wrapped := pkgerrors.Wrap(err, message)
	report(wrapped)
	return wrapped
}

// WrapfAndReport is WrapAndReport with a format specifier.
func WrapfAndReport(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	wrapped := pkgerrors.Wrapf(err, format, args...)
	report(wrapped)
	return wrapped
}

func WithStackAndReport(err error) error {
	if err == nil {
		return nil
	}
	wrapped := pkgerrors.WithStack(err)
	report(wrapped)
	return wrapped
}

func WithMessageAndReport(err error, message string) error {
	if err == nil {
		return nil
	}
	wrapped := pkgerrors.WithMessage(err, message)
	report(wrapped)
	return wrapped
}

// stack is a raw call stack used by the reporters to group errors by call site.
type stack []uintptr

const maxStackDepth = 32

// callers skips runtime.Callers, callers itself and the reporter frame.
func callers() *stack {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(3, pcs)
	s := stack(pcs[:n])
	return &s
}

// fullStack renders "function file:line" per frame, innermost first.
func (s *stack) fullStack() []string {
	frames := runtime.CallersFrames(*s)
	lines := make([]string, 0, len(*s))
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			lines = append(lines, fmt.Sprintf("%s %s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return lines
}

// callSite picks the frame that identifies where an error was reported.
func callSite(stacks []string, depth int) string {
	if len(stacks) == 0 {
		return ""
	}
	if depth >= len(stacks) {
		return stacks[len(stacks)-1]
	}
	return stacks[depth]
}
