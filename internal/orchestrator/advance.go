package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eduvid/explainer/internal/artifact"
	"github.com/eduvid/explainer/internal/pipeline"
	"github.com/eduvid/explainer/internal/store/model"
	"github.com/eduvid/explainer/pkg/metrics"
)

// nextStageFor derives the stage to execute from the outputs already
// persisted, never from the status label. This is what makes resume safe:
// the set of durable outputs is the single source of truth for progress.
func nextStageFor(job *model.Job) pipeline.Stage {
	outputs := job.Outputs()
	for _, stage := range []pipeline.Stage{pipeline.StageLookup, pipeline.StageGenerate, pipeline.StageFormat, pipeline.StageRender} {
		if _, ok := outputs[string(stage)]; !ok {
			return stage
		}
	}
	return pipeline.StageStore
}

// atRestStatus is the status a job sits in while the given stage has not
// completed yet.
func atRestStatus(stage pipeline.Stage) model.JobStatus {
	switch stage {
	case pipeline.StageLookup:
		return model.JobStatusPending
	case pipeline.StageGenerate:
		return model.JobStatusGenerating
	case pipeline.StageFormat:
		return model.JobStatusFormatting
	case pipeline.StageRender:
		return model.JobStatusRendering
	default:
		return model.JobStatusStoring
	}
}

// statusAfter is the status committed together with the given stage's
// output.
func statusAfter(stage pipeline.Stage) model.JobStatus {
	switch stage {
	case pipeline.StageLookup:
		return model.JobStatusGenerating
	case pipeline.StageGenerate:
		return model.JobStatusFormatting
	case pipeline.StageFormat:
		return model.JobStatusRendering
	case pipeline.StageRender:
		return model.JobStatusStoring
	default:
		return model.JobStatusCompleted
	}
}

// outputRef builds the artifact reference for a stage attempt. References
// are deterministic per (job, stage, attempt) so an interrupted attempt can
// be adopted on resume, and attempt-scoped so a retry never overwrites a
// previous output.
func outputRef(jobID uuid.UUID, stage pipeline.Stage, attempt int) string {
	return fmt.Sprintf("jobs/%s/%s/attempt-%d", jobID, stage, attempt)
}

// finalRef is the stable location the Store stage publishes the video under.
func finalRef(job *model.Job) string {
	return fmt.Sprintf("videos/%s/%s.mp4", slugify(job.ConceptKey), job.ID)
}

func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// advanceLeased runs exactly one stage step for a job the caller holds the
// lease on. Output bytes are durably written to the artifact store before
// the job row advances, and the commit releases the lease.
func (o *Orchestrator) advanceLeased(ctx context.Context, job *model.Job, owner string) {
	logger := zap.S().Named("orchestrator").With("job_id", job.ID, "worker", owner)

	if job.CancelRequested {
		o.failJob(ctx, job, owner, nextStageFor(job), errors.New("cancelled by caller"), model.FailureCancelled)
		return
	}

	stage := nextStageFor(job)
	start := time.Now()
	err := o.executeStage(ctx, job, stage)
	metrics.ObserveStageDuration(string(stage), time.Since(start))

	if err != nil {
		o.handleStageFailure(ctx, job, owner, stage, err)
		return
	}

	job.Status = statusAfter(stage)
	job.NextAttemptAt = time.Now().UTC()
	if _, uerr := o.store.Job().UpdateLeased(ctx, job, owner); uerr != nil {
		// Lost the lease mid-step; the stage output is durable under a
		// deterministic reference, so whoever owns the job next adopts it.
		logger.Warnw("failed to commit stage", "stage", stage, "error", uerr)
		return
	}

	logger.Infow("stage completed", "stage", stage, "status", job.Status)
	if !job.IsTerminal() {
		o.notify()
	}
}

// executeStage performs the stage's work and durably writes its output.
// Before invoking the stage's adapter it probes the artifact store for an
// output left behind by an interrupted attempt and adopts it instead of
// re-invoking.
func (o *Orchestrator) executeStage(ctx context.Context, job *model.Job, stage pipeline.Stage) error {
	stageCtx, cancel := context.WithTimeout(ctx, o.stageTimeout(stage))
	defer cancel()

	if stage == pipeline.StageStore {
		return o.executeStore(stageCtx, job)
	}

	ref := outputRef(job.ID, stage, job.AttemptCount(string(stage)))

	if data, err := o.artifacts.Get(stageCtx, ref); err == nil {
		return o.adoptOutput(job, stage, ref, data)
	} else if !errors.Is(err, artifact.ErrNotFound) {
		return pipeline.NewTransientError(err)
	}

	output, err := o.invokeStage(stageCtx, job, stage)
	if err != nil {
		return err
	}

	if err := o.artifacts.Put(stageCtx, ref, output); err != nil {
		return pipeline.NewTransientError(err)
	}
	metrics.AddArtifactBytesWritten(string(stage), len(output))

	job.RecordOutput(string(stage), ref)
	return nil
}

func (o *Orchestrator) invokeStage(ctx context.Context, job *model.Job, stage pipeline.Stage) ([]byte, error) {
	switch stage {
	case pipeline.StageLookup:
		concept, err := o.adapters.Concepts.Lookup(ctx, job.ConceptKey)
		if err != nil {
			return nil, err
		}
		job.VersionFingerprint = concept.VersionFingerprint
		return json.Marshal(concept)

	case pipeline.StageGenerate:
		var concept pipeline.Concept
		if err := o.loadOutput(ctx, job, pipeline.StageLookup, &concept); err != nil {
			return nil, err
		}
		draft, err := o.adapters.Generator.Generate(ctx, &concept, job.AudienceLevel)
		if err != nil {
			return nil, err
		}
		return json.Marshal(draft)

	case pipeline.StageFormat:
		var draft pipeline.Draft
		if err := o.loadOutput(ctx, job, pipeline.StageGenerate, &draft); err != nil {
			return nil, err
		}
		doc, err := o.adapters.Formatter.Format(&draft)
		if err != nil {
			return nil, err
		}
		return json.Marshal(doc)

	case pipeline.StageRender:
		var doc pipeline.Document
		if err := o.loadOutput(ctx, job, pipeline.StageFormat, &doc); err != nil {
			return nil, err
		}
		return o.adapters.Renderer.Render(ctx, &doc)

	default:
		return nil, pipeline.Permanentf("unknown stage %q", stage)
	}
}

// executeStore publishes the rendered video under its stable reference.
func (o *Orchestrator) executeStore(ctx context.Context, job *model.Job) error {
	ref := finalRef(job)

	exists, err := o.artifacts.Exists(ctx, ref)
	if err != nil {
		return pipeline.NewTransientError(err)
	}
	if !exists {
		renderRef, ok := job.Outputs()[string(pipeline.StageRender)]
		if !ok {
			return pipeline.Permanentf("job has no rendered output")
		}
		video, err := o.artifacts.Get(ctx, renderRef)
		if err != nil {
			return pipeline.NewTransientError(err)
		}
		if err := o.artifacts.Put(ctx, ref, video); err != nil {
			return pipeline.NewTransientError(err)
		}
		metrics.AddArtifactBytesWritten(string(pipeline.StageStore), len(video))
	}

	job.ArtifactRef = ref
	return nil
}

// adoptOutput advances past a stage whose output already exists, without
// re-invoking its adapter.
func (o *Orchestrator) adoptOutput(job *model.Job, stage pipeline.Stage, ref string, data []byte) error {
	if stage == pipeline.StageLookup {
		var concept pipeline.Concept
		if err := json.Unmarshal(data, &concept); err != nil {
			return pipeline.NewPermanentError(err)
		}
		job.VersionFingerprint = concept.VersionFingerprint
	}
	job.RecordOutput(string(stage), ref)
	return nil
}

// loadOutput reads and decodes a prior stage's persisted output.
func (o *Orchestrator) loadOutput(ctx context.Context, job *model.Job, stage pipeline.Stage, v any) error {
	ref, ok := job.Outputs()[string(stage)]
	if !ok {
		return pipeline.Permanentf("missing %s output", stage)
	}
	data, err := o.artifacts.Get(ctx, ref)
	if err != nil {
		return pipeline.NewTransientError(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return pipeline.NewPermanentError(err)
	}
	return nil
}

// handleStageFailure applies the retry policy: transient failures back off
// until the attempt cap, anything else terminates the job.
func (o *Orchestrator) handleStageFailure(ctx context.Context, job *model.Job, owner string, stage pipeline.Stage, err error) {
	logger := zap.S().Named("orchestrator").With("job_id", job.ID, "stage", stage)

	if reason, terminal := classifyFailure(err); terminal {
		o.failJob(ctx, job, owner, stage, err, reason)
		return
	}

	attempts := job.RecordAttempt(string(stage))
	if attempts >= o.cfg.Pipeline.MaxAttempts {
		o.failJob(ctx, job, owner, stage, err, model.FailureRetryExhausted)
		return
	}

	delay := backoffDelay(attempts, o.cfg.Pipeline.BackoffBase, o.cfg.Pipeline.BackoffCap)
	job.NextAttemptAt = time.Now().UTC().Add(delay)
	metrics.IncreaseStageRetries(string(stage))
	logger.Warnw("transient stage failure, will retry", "attempt", attempts, "delay", delay, "error", err)

	if _, uerr := o.store.Job().UpdateLeased(ctx, job, owner); uerr != nil {
		logger.Warnw("failed to persist retry state", "error", uerr)
	}
}

func (o *Orchestrator) failJob(ctx context.Context, job *model.Job, owner string, stage pipeline.Stage, err error, reason string) {
	job.Status = model.JobStatusFailed
	job.LastError = err.Error()
	job.FailureReason = reason
	job.NextAttemptAt = time.Now().UTC()

	metrics.IncreaseStageFailures(string(stage), reason)
	zap.S().Named("orchestrator").Errorw("job failed", "job_id", job.ID, "stage", stage, "reason", reason, "error", err)

	if _, uerr := o.store.Job().UpdateLeased(ctx, job, owner); uerr != nil {
		zap.S().Named("orchestrator").Warnw("failed to persist job failure", "job_id", job.ID, "error", uerr)
	}
}

// classifyFailure maps a stage error to a terminal failure reason, or
// reports it as retryable. Unclassified errors are treated as transient so
// an infrastructure hiccup never terminates a job permanently.
func classifyFailure(err error) (string, bool) {
	switch {
	case errors.Is(err, pipeline.ErrConceptNotFound):
		return model.FailureConceptNotFound, true
	case pipeline.IsPermanent(err):
		return model.FailurePermanent, true
	default:
		return "", false
	}
}

func (o *Orchestrator) stageTimeout(stage pipeline.Stage) time.Duration {
	switch stage {
	case pipeline.StageLookup:
		return o.cfg.Pipeline.LookupTimeout
	case pipeline.StageGenerate:
		return o.cfg.Pipeline.GenerateTimeout
	case pipeline.StageFormat:
		return o.cfg.Pipeline.FormatTimeout
	case pipeline.StageRender:
		return o.cfg.Pipeline.RenderTimeout
	default:
		return o.cfg.Pipeline.StoreTimeout
	}
}
