package domain

import (
	"fmt"
	"strings"
)

// NotFoundError reports a missing external tool or file. Fatal; the message
// tells the user how to fix it.
type NotFoundError struct {
	What string
	Hint string
}

func (e *NotFoundError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s not found (%s)", e.What, e.Hint)
	}
	return fmt.Sprintf("%s not found", e.What)
}

// ReadError is a path-qualified read failure.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError is a path-qualified write failure.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// CompileError carries an evaluator diagnostic: the message, the offending
// source text and an optional byte span for caret display. Non-fatal inside
// the watch loop.
type CompileError struct {
	Message string
	Source  string
	Span    *Span
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("pkl compilation failed: %s", e.Message)
}

// Render formats the error with a caret excerpt when a span is available.
func (e *CompileError) Render() string {
	var b strings.Builder
	b.WriteString(e.Error())
	if e.Span == nil || e.Source == "" {
		return b.String()
	}

	offset := 0
	for i, line := range strings.Split(e.Source, "\n") {
		end := offset + len(line)
		if e.Span.Offset >= offset && e.Span.Offset <= end {
			col := e.Span.Offset - offset
			fmt.Fprintf(&b, "\n%4d | %s\n", i+1, line)
			fmt.Fprintf(&b, "     | %s^", strings.Repeat(" ", col))
			break
		}
		offset = end + 1
	}
	return b.String()
}

// ValidationError reports structurally invalid evaluator output. Treated
// like a compile error for propagation, but never retried: re-running the
// evaluator would reproduce it deterministically.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Message)
}

// WatchError is a filesystem-watch subsystem failure. Fatal to start.
type WatchError struct {
	Err error
}

func (e *WatchError) Error() string {
	return fmt.Sprintf("file watching error: %v", e.Err)
}

func (e *WatchError) Unwrap() error { return e.Err }

// LifecycleError reports PID-file contention, timeout or I/O failure.
// Fatal to start and stop.
type LifecycleError struct {
	Message string
	Err     error
}

func (e *LifecycleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("daemon lifecycle error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("daemon lifecycle error: %s", e.Message)
}

func (e *LifecycleError) Unwrap() error { return e.Err }
