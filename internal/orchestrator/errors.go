package orchestrator

import (
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidConcept rejects a submission before any job is created. The
// check is purely syntactic; existence of the concept is decided at lookup.
type ErrInvalidConcept struct {
	error
}

func NewErrInvalidConcept(message string) *ErrInvalidConcept {
	return &ErrInvalidConcept{fmt.Errorf("invalid concept key: %s", message)}
}

type ErrJobNotFound struct {
	error
}

func NewErrJobNotFound(id uuid.UUID) *ErrJobNotFound {
	return &ErrJobNotFound{fmt.Errorf("job %s not found", id)}
}

// ErrNotFailed rejects a retry on a job that is not in the failed state.
type ErrNotFailed struct {
	error
}

func NewErrNotFailed(id uuid.UUID) *ErrNotFailed {
	return &ErrNotFailed{fmt.Errorf("job %s is not failed", id)}
}

// ErrAlreadyTerminal rejects a cancel on a completed or failed job.
type ErrAlreadyTerminal struct {
	error
}

func NewErrAlreadyTerminal(id uuid.UUID) *ErrAlreadyTerminal {
	return &ErrAlreadyTerminal{fmt.Errorf("job %s already reached a terminal state", id)}
}
