package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eduvid/explainer/internal/artifact"
	"github.com/eduvid/explainer/internal/config"
	"github.com/eduvid/explainer/internal/pipeline"
	"github.com/eduvid/explainer/internal/store"
	"github.com/eduvid/explainer/internal/store/model"
	"github.com/eduvid/explainer/pkg/metrics"
)

const maxConceptKeyLength = 200

// Adapters bundles the external capabilities the pipeline drives. Each one
// is swappable behind its interface; the orchestrator only relies on the
// transient/permanent classification of their failures.
type Adapters struct {
	Concepts  pipeline.ConceptStore
	Generator pipeline.Generator
	Formatter pipeline.Formatter
	Renderer  pipeline.Renderer
}

// Orchestrator drives per-concept jobs through the pipeline stages. Public
// operations (Submit, Status, Retry, Cancel) never surface stage errors
// directly; failures are recorded on the job and observed through its
// snapshot.
type Orchestrator struct {
	store     store.Store
	artifacts artifact.Store
	adapters  Adapters
	cfg       *config.Config
	wake      chan struct{}
}

func New(s store.Store, artifacts artifact.Store, adapters Adapters, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		store:     s,
		artifacts: artifacts,
		adapters:  adapters,
		cfg:       cfg,
		wake:      make(chan struct{}, 1),
	}
}

// Submit returns the job serving conceptKey, creating one only when no
// active job exists and no completed job is still fresh. Submission is
// idempotent: concurrent submits for the same key converge on a single job.
func (o *Orchestrator) Submit(ctx context.Context, conceptKey, audienceLevel string) (*model.Job, error) {
	key := strings.TrimSpace(conceptKey)
	if err := validateConceptKey(key); err != nil {
		return nil, err
	}

	switch audienceLevel {
	case "":
		audienceLevel = pipeline.AudienceBeginner
	case pipeline.AudienceBeginner, pipeline.AudienceAdvanced:
	default:
		return nil, NewErrInvalidConcept(fmt.Sprintf("unknown audience level %q", audienceLevel))
	}

	if active, err := o.store.Job().FindActiveByConceptKey(ctx, key); err == nil {
		metrics.IncreaseDedupHits("active")
		return active, nil
	} else if !errors.Is(err, store.ErrRecordNotFound) {
		return nil, err
	}

	if completed, err := o.store.Job().FindLatestCompletedByConceptKey(ctx, key); err == nil {
		if o.isFresh(ctx, completed) {
			metrics.IncreaseDedupHits("completed")
			return completed, nil
		}
	} else if !errors.Is(err, store.ErrRecordNotFound) {
		return nil, err
	}

	created, err := o.store.Job().Create(ctx, model.NewJob(key, audienceLevel))
	if err != nil {
		// Lost the race against a concurrent submit for the same key; the
		// partial unique index guarantees the winner is the only active job.
		if errors.Is(err, store.ErrDuplicateKey) {
			if active, ferr := o.store.Job().FindActiveByConceptKey(ctx, key); ferr == nil {
				metrics.IncreaseDedupHits("active")
				return active, nil
			}
			return nil, err
		}
		return nil, err
	}

	metrics.IncreaseJobsSubmitted()
	zap.S().Named("orchestrator").Infow("job created", "job_id", created.ID, "concept_key", key)
	o.notify()
	return created, nil
}

// Status returns a read-only snapshot of the job. It never blocks on
// pipeline progress.
func (o *Orchestrator) Status(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	job, err := o.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}
	return job, nil
}

// Retry re-enters a failed job at the stage that failed, reusing the
// persisted outputs of every earlier stage.
func (o *Orchestrator) Retry(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	job, err := o.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}
	if job.Status != model.JobStatusFailed {
		return nil, NewErrNotFailed(id)
	}

	stage := nextStageFor(job)
	job.ResetAttempts(string(stage))
	job.Status = atRestStatus(stage)

	updated, err := o.store.Job().ResetForRetry(ctx, job)
	if err != nil {
		// The job left the failed state between the read and the update.
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrNotFailed(id)
		}
		return nil, err
	}

	zap.S().Named("orchestrator").Infow("job retried", "job_id", id, "stage", stage)
	o.notify()
	return updated, nil
}

// Cancel flags a job for cancellation. The lease holder applies the
// transition at the start of its next stage step, so no two workers race on
// the job's state.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) error {
	job, err := o.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return NewErrJobNotFound(id)
		}
		return err
	}
	if job.IsTerminal() {
		return NewErrAlreadyTerminal(id)
	}

	if err := o.store.Job().RequestCancel(ctx, id); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return NewErrAlreadyTerminal(id)
		}
		return err
	}
	o.notify()
	return nil
}

// isFresh decides whether a completed job's output may be reused. The
// version-pinned policy compares the graph fingerprint recorded on the job
// against the current one, so content changes invalidate the cache even
// when no time has passed.
func (o *Orchestrator) isFresh(ctx context.Context, job *model.Job) bool {
	switch o.cfg.Pipeline.Freshness {
	case "always-fresh":
		return true
	default:
		if job.VersionFingerprint == "" {
			return false
		}
		concept, err := o.adapters.Concepts.Lookup(ctx, job.ConceptKey)
		if err != nil {
			return false
		}
		return concept.VersionFingerprint == job.VersionFingerprint
	}
}

// notify nudges an idle worker. Lossy by design: a missed signal is
// recovered by the poll ticker.
func (o *Orchestrator) notify() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func validateConceptKey(key string) error {
	if key == "" {
		return NewErrInvalidConcept("empty")
	}
	if len(key) > maxConceptKeyLength {
		return NewErrInvalidConcept("too long")
	}
	if !utf8.ValidString(key) {
		return NewErrInvalidConcept("not valid utf-8")
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return NewErrInvalidConcept("contains control characters")
		}
	}
	return nil
}
