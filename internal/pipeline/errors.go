package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ErrConceptNotFound is returned by a ConceptStore when the requested key
// does not exist in the knowledge graph. It terminates a job without retry.
var ErrConceptNotFound = errors.New("concept not found")

// TransientError marks a stage failure as retryable (network, timeout,
// resource-busy).
type TransientError struct {
	error
}

func NewTransientError(err error) *TransientError {
	return &TransientError{err}
}

func Transientf(format string, args ...any) *TransientError {
	return &TransientError{fmt.Errorf(format, args...)}
}

func (e *TransientError) Unwrap() error {
	return e.error
}

// PermanentError marks a stage failure as terminal (invalid input,
// malformed payload). The job fails immediately, attempt counters ignored.
type PermanentError struct {
	error
}

func NewPermanentError(err error) *PermanentError {
	return &PermanentError{err}
}

func Permanentf(format string, args ...any) *PermanentError {
	return &PermanentError{fmt.Errorf(format, args...)}
}

func (e *PermanentError) Unwrap() error {
	return e.error
}

// IsTransient reports whether err should be retried. Deadline and
// cancellation errors count as transient so a stage timeout re-enters the
// retry policy.
func IsTransient(err error) bool {
	var t *TransientError
	if errors.As(err, &t) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsPermanent reports whether err terminates the job without retry.
func IsPermanent(err error) bool {
	var p *PermanentError
	if errors.As(err, &p) {
		return true
	}
	return errors.Is(err, ErrConceptNotFound)
}
