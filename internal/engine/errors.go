package engine

import "errors"

// Error taxonomy from spec.md §7. Each sentinel is wrapped with context via
// fmt.Errorf("...: %w", ErrX) at the call site so callers can errors.Is
// against the kind without caring about the specific message.
var (
	// ErrConfiguration covers bad options, unknown keys, type mismatches,
	// and unresolved tools. Fatal before any run starts.
	ErrConfiguration = errors.New("configuration error")

	// ErrConnection covers unresolved/ambiguous connections, missing
	// parent outputs, and unsatisfied required inputs. Fatal for the
	// affected step.
	ErrConnection = errors.New("connection error")

	// ErrPreflight covers an existing executing ping or a non-empty final
	// directory without --force. Fatal for the run.
	ErrPreflight = errors.New("preflight error")

	// ErrExecution covers a non-zero exit from a pool member not on the
	// ok-to-fail list. Terminal for the run.
	ErrExecution = errors.New("execution error")

	// ErrIntegrity covers a missing announced output, a hash mismatch on
	// re-check, or a rename failure. Terminal for the run.
	ErrIntegrity = errors.New("integrity error")

	// ErrCancellation covers a caught SIGTERM/SIGINT. Terminal; recorded
	// distinctly from ErrExecution in the annotation.
	ErrCancellation = errors.New("cancellation error")

	// ErrEnvironment covers a missing tool, an unreadable input, or an
	// OS-level failure. Terminal.
	ErrEnvironment = errors.New("environment error")

	// ErrLegacyStepUnsupported marks a step kind whose declare_runs
	// contract predates the current runs(cc) API and is not wired into
	// the registry (spec.md §9 Open Question 3).
	ErrLegacyStepUnsupported = errors.New("legacy step kind is not runnable")
)
