package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eduvid/explainer/internal/pipeline"
)

func TestTransientClassification(t *testing.T) {
	assert.True(t, pipeline.IsTransient(pipeline.Transientf("connection refused")))
	assert.True(t, pipeline.IsTransient(pipeline.NewTransientError(errors.New("timeout"))))
	assert.True(t, pipeline.IsTransient(context.DeadlineExceeded))

	// Wrapped transient errors keep their classification.
	wrapped := fmt.Errorf("render stage: %w", pipeline.Transientf("busy"))
	assert.True(t, pipeline.IsTransient(wrapped))

	assert.False(t, pipeline.IsTransient(pipeline.Permanentf("bad input")))
	assert.False(t, pipeline.IsTransient(errors.New("unclassified")))
}

func TestPermanentClassification(t *testing.T) {
	assert.True(t, pipeline.IsPermanent(pipeline.Permanentf("bad input")))
	assert.True(t, pipeline.IsPermanent(pipeline.NewPermanentError(errors.New("malformed"))))
	assert.True(t, pipeline.IsPermanent(pipeline.ErrConceptNotFound))

	wrapped := fmt.Errorf("lookup stage: %w", pipeline.ErrConceptNotFound)
	assert.True(t, pipeline.IsPermanent(wrapped))

	assert.False(t, pipeline.IsPermanent(pipeline.Transientf("busy")))
	assert.False(t, pipeline.IsPermanent(errors.New("unclassified")))
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	assert.ErrorIs(t, pipeline.NewTransientError(cause), cause)
	assert.ErrorIs(t, pipeline.NewPermanentError(cause), cause)
}
