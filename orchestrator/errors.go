package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProvider is returned when the orchestrator has no LLM provider.
	ErrNoProvider = errors.New("orchestrator: no llm provider configured")

	// ErrCancelled reports a run stopped by its context. It is a terminal
	// state, not a failure.
	ErrCancelled = errors.New("orchestrator: run cancelled")
)

// PhaseError is the summary error of an aborted run. Err is the precise
// underlying cause.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("orchestrator: phase %s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// skipped marks a phase that had nothing to do.
type skipped struct{ reason string }

func (s skipped) Error() string { return "skipped: " + s.reason }

func skip(reason string) error { return skipped{reason: reason} }

// abandoned marks a phase that failed without touching the plan. The run
// continues with the next phase.
type abandoned struct{ err error }

func (a abandoned) Error() string { return "abandoned: " + a.err.Error() }

func (a abandoned) Unwrap() error { return a.err }
