// Package skerr augments errors with a message and the call site at which
// they were wrapped, so that the context of a failure survives the trip up
// the call stack.
//
// Usage:
//
//	if err := doSomething(); err != nil {
//		return skerr.Wrapf(err, "doing something with %s", name)
//	}
package skerr

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// StackTrace identifies a filename and line number.
type StackTrace struct {
	File string
	Line int
}

func (st StackTrace) String() string {
	return fmt.Sprintf("%s:%d", st.File, st.Line)
}

// ErrorWithContext is an error plus the message and call site added when it
// was wrapped.
type ErrorWithContext struct {
	// Wrapped is the original error, or nil for errors created with Fmt.
	Wrapped error
	// CallStack is the chain of call sites that wrapped the error, innermost
	// first.
	CallStack []StackTrace
	// Message is the formatted message given to Fmt or Wrapf, or empty for
	// Wrap.
	Message string
}

// Error implements error.
func (e *ErrorWithContext) Error() string {
	msg := e.Message
	if e.Wrapped != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Wrapped.Error()
	}
	if len(e.CallStack) > 0 {
		msg += " At"
		for _, st := range e.CallStack {
			msg += " " + st.String()
		}
	}
	return msg
}

// Unwrap implements the errors.Unwrap contract.
func (e *ErrorWithContext) Unwrap() error {
	return e.Wrapped
}

func callerStackTrace(depth int) StackTrace {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		return StackTrace{File: "???", Line: 0}
	}
	return StackTrace{File: filepath.Base(file), Line: line}
}

// Fmt creates a new error with a formatted message and the call site.
func Fmt(format string, args ...interface{}) *ErrorWithContext {
	return &ErrorWithContext{
		Message:   fmt.Sprintf(format, args...),
		CallStack: []StackTrace{callerStackTrace(1)},
	}
}

// Wrap adds the call site to err. Returns nil if err is nil, so it is safe to
// wrap a return value unconditionally.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if ctx, ok := err.(*ErrorWithContext); ok {
		ctx.CallStack = append(ctx.CallStack, callerStackTrace(1))
		return ctx
	}
	return &ErrorWithContext{
		Wrapped:   err,
		CallStack: []StackTrace{callerStackTrace(1)},
	}
}

// Wrapf adds a formatted message and the call site to err. Returns nil if err
// is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Wrapped:   err,
		Message:   fmt.Sprintf(format, args...),
		CallStack: []StackTrace{callerStackTrace(1)},
	}
}

// Unwrap returns the innermost error wrapped by err, or err itself if it
// carries no context.
func Unwrap(err error) error {
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
}
