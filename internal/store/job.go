package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/eduvid/explainer/internal/store/model"
)

// Job is the persistence contract for pipeline jobs. All mutating operations
// on a leased job are guarded by the lease owner so only the current lease
// holder can apply transitions.
type Job interface {
	InitialMigration() error
	Create(ctx context.Context, job *model.Job) (*model.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	FindActiveByConceptKey(ctx context.Context, conceptKey string) (*model.Job, error)
	FindLatestCompletedByConceptKey(ctx context.Context, conceptKey string) (*model.Job, error)
	ListRunnable(ctx context.Context, now time.Time, limit int) (model.JobList, error)
	AcquireLease(ctx context.Context, id uuid.UUID, owner string, now time.Time, ttl time.Duration) (*model.Job, error)
	UpdateLeased(ctx context.Context, job *model.Job, owner string) (*model.Job, error)
	ReleaseLease(ctx context.Context, id uuid.UUID, owner string) error
	RequestCancel(ctx context.Context, id uuid.UUID) error
	ResetForRetry(ctx context.Context, job *model.Job) (*model.Job, error)
	CountByStatus(ctx context.Context) (map[model.JobStatus]int, error)
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) InitialMigration() error {
	if err := s.db.AutoMigrate(&model.Job{}); err != nil {
		return err
	}
	// At most one non-terminal job per concept key. Partial indexes are
	// supported by both postgres and sqlite.
	return s.db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_active_concept_key ON jobs (concept_key) WHERE status NOT IN ('completed','failed')",
	).Error
}

func (s *JobStore) Create(ctx context.Context, job *model.Job) (*model.Job, error) {
	result := s.db.WithContext(ctx).Create(job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating job: %w", result.Error)
	}
	return job, nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var job model.Job
	result := s.db.WithContext(ctx).First(&job, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job: %w", result.Error)
	}
	return &job, nil
}

func (s *JobStore) FindActiveByConceptKey(ctx context.Context, conceptKey string) (*model.Job, error) {
	var job model.Job
	result := s.db.WithContext(ctx).
		Where("concept_key = ? AND status NOT IN ?", conceptKey, model.TerminalStatuses).
		First(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

func (s *JobStore) FindLatestCompletedByConceptKey(ctx context.Context, conceptKey string) (*model.Job, error) {
	var job model.Job
	result := s.db.WithContext(ctx).
		Where("concept_key = ? AND status = ?", conceptKey, model.JobStatusCompleted).
		Order("updated_at DESC").
		First(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

// ListRunnable returns jobs eligible for a stage step: non-terminal, due,
// and not currently leased (or their lease expired).
func (s *JobStore) ListRunnable(ctx context.Context, now time.Time, limit int) (model.JobList, error) {
	var jobs model.JobList
	result := s.db.WithContext(ctx).
		Where("status NOT IN ?", model.TerminalStatuses).
		Where("next_attempt_at <= ?", now).
		Where("lease_owner = '' OR lease_expires_at IS NULL OR lease_expires_at < ?", now).
		Order("next_attempt_at").
		Limit(limit).
		Find(&jobs)
	if result.Error != nil {
		return nil, result.Error
	}
	return jobs, nil
}

// AcquireLease claims a job for a worker with a compare-and-swap update.
// A pending job enters looking_up when first claimed. Returns
// ErrLeaseConflict when the job is already leased, terminal or not yet due.
func (s *JobStore) AcquireLease(ctx context.Context, id uuid.UUID, owner string, now time.Time, ttl time.Duration) (*model.Job, error) {
	result := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ?", id).
		Where("status NOT IN ?", model.TerminalStatuses).
		Where("next_attempt_at <= ?", now).
		Where("lease_owner = '' OR lease_expires_at IS NULL OR lease_expires_at < ?", now).
		Updates(map[string]any{
			"lease_owner":      owner,
			"lease_expires_at": now.Add(ttl),
			"status":           gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END", model.JobStatusPending, model.JobStatusLookingUp),
			"updated_at":       now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrLeaseConflict
	}
	return s.Get(ctx, id)
}

// UpdateLeased persists the outcome of a stage attempt and releases the
// lease in the same write. The update only applies while the caller still
// owns the lease.
func (s *JobStore) UpdateLeased(ctx context.Context, job *model.Job, owner string) (*model.Job, error) {
	result := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND lease_owner = ?", job.ID, owner).
		Updates(map[string]any{
			"status":              job.Status,
			"stage_outputs":       job.StageOutputs,
			"attempts":            job.Attempts,
			"version_fingerprint": job.VersionFingerprint,
			"artifact_ref":        job.ArtifactRef,
			"last_error":          job.LastError,
			"failure_reason":      job.FailureReason,
			"next_attempt_at":     job.NextAttemptAt,
			"lease_owner":         "",
			"lease_expires_at":    nil,
			"updated_at":          time.Now().UTC(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrLeaseConflict
	}
	return s.Get(ctx, job.ID)
}

func (s *JobStore) ReleaseLease(ctx context.Context, id uuid.UUID, owner string) error {
	result := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND lease_owner = ?", id, owner).
		Updates(map[string]any{
			"lease_owner":      "",
			"lease_expires_at": nil,
		})
	return result.Error
}

// RequestCancel flags a non-terminal job for cancellation. The flag is
// observed by the lease holder at the start of its next stage step.
func (s *JobStore) RequestCancel(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status NOT IN ?", id, model.TerminalStatuses).
		Update("cancel_requested", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ResetForRetry re-enters a failed job at its failed stage. The update only
// applies while the job is still failed, so concurrent retries collapse to
// one.
func (s *JobStore) ResetForRetry(ctx context.Context, job *model.Job) (*model.Job, error) {
	result := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", job.ID, model.JobStatusFailed).
		Updates(map[string]any{
			"status":           job.Status,
			"attempts":         job.Attempts,
			"last_error":       "",
			"failure_reason":   "",
			"cancel_requested": false,
			"next_attempt_at":  time.Now().UTC(),
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return s.Get(ctx, job.ID)
}

func (s *JobStore) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	var rows []struct {
		Status model.JobStatus
		Count  int
	}
	result := s.db.WithContext(ctx).Model(&model.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	counts := make(map[model.JobStatus]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
