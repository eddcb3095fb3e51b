package domain

import "context"

// Evaluator turns a Pkl source file into a compiled configuration fragment.
// Implementation: the pkl CLI invoked as a subprocess.
type Evaluator interface {
	// Evaluate compiles sourcePath and returns the fragment. When
	// profileOverride is non-empty, the first profile is renamed to it
	// after the output has been validated.
	Evaluate(ctx context.Context, sourcePath, profileOverride string) (*Document, error)

	// Close releases evaluator resources (extracted library files).
	Close() error
}

// ProcessManager handles OS process operations.
// Implementation: gopsutil plus a signal-0 liveness probe.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running. A permission-denied
	// probe counts as running.
	IsRunning(pid int) bool

	// Terminate asks a process to exit gracefully (SIGTERM).
	Terminate(pid int) error

	// Info returns name and start time for a running process.
	Info(pid int) (*ProcessInfo, error)

	// CurrentPID returns the current process PID.
	CurrentPID() int
}

// SingletonToken is the cross-process mutual-exclusion mechanism that
// guarantees at most one daemon instance. Implementation: a PID file with
// OS-specific liveness checks behind ProcessManager.
type SingletonToken interface {
	// Claim takes ownership, terminating or reaping a prior holder first.
	Claim() error

	// Release removes the token. Idempotent.
	Release() error
}

// Notifier is the fire-and-forget desktop notification sink. Failures are
// logged by implementations, never returned.
type Notifier interface {
	// Success sends a transient notification.
	Success(title, body string)

	// Error sends a notification that stays until dismissed.
	Error(title, body string)
}
