package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusLookingUp  JobStatus = "looking_up"
	JobStatusGenerating JobStatus = "generating"
	JobStatusFormatting JobStatus = "formatting"
	JobStatusRendering  JobStatus = "rendering"
	JobStatusStoring    JobStatus = "storing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// TerminalStatuses are the statuses a job never leaves on its own. A failed
// job may re-enter the pipeline through an explicit retry.
var TerminalStatuses = []JobStatus{JobStatusCompleted, JobStatusFailed}

// Failure reasons recorded on a failed job.
const (
	FailureConceptNotFound = "concept_not_found"
	FailurePermanent       = "permanent"
	FailureRetryExhausted  = "retry_exhausted"
	FailureCancelled       = "cancelled"
)

// Job is one tracked pipeline execution for a concept key. StageOutputs maps
// a completed stage name to the artifact-store reference of its output;
// entries are append-only, a retried stage writes a new reference.
type Job struct {
	ID                 uuid.UUID `gorm:"primaryKey"`
	ConceptKey         string    `gorm:"index;not null"`
	AudienceLevel      string    `gorm:"not null;default:beginner"`
	Status             JobStatus `gorm:"index;not null"`
	StageOutputs       *JSONField[map[string]string] `gorm:"type:jsonb"`
	Attempts           *JSONField[map[string]int]    `gorm:"type:jsonb"`
	VersionFingerprint string
	ArtifactRef        string
	LastError          string
	FailureReason      string
	CancelRequested    bool   `gorm:"not null;default:false"`
	LeaseOwner         string `gorm:"not null;default:''"`
	LeaseExpiresAt     *time.Time
	NextAttemptAt      time.Time `gorm:"index;not null"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type JobList []Job

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}

func NewJob(conceptKey, audienceLevel string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:            uuid.New(),
		ConceptKey:    conceptKey,
		AudienceLevel: audienceLevel,
		Status:        JobStatusPending,
		StageOutputs:  MakeJSONField(map[string]string{}),
		Attempts:      MakeJSONField(map[string]int{}),
		NextAttemptAt: now,
	}
}

func (j Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Outputs returns the stage-output map, never nil.
func (j Job) Outputs() map[string]string {
	if j.StageOutputs == nil || j.StageOutputs.Data == nil {
		return map[string]string{}
	}
	return j.StageOutputs.Data
}

// AttemptCount returns the number of attempts recorded for a stage.
func (j Job) AttemptCount(stage string) int {
	if j.Attempts == nil || j.Attempts.Data == nil {
		return 0
	}
	return j.Attempts.Data[stage]
}

// RecordOutput registers the output reference for a completed stage.
func (j *Job) RecordOutput(stage, ref string) {
	if j.StageOutputs == nil || j.StageOutputs.Data == nil {
		j.StageOutputs = MakeJSONField(map[string]string{})
	}
	j.StageOutputs.Data[stage] = ref
}

// RecordAttempt increments and returns the attempt counter for a stage.
func (j *Job) RecordAttempt(stage string) int {
	if j.Attempts == nil || j.Attempts.Data == nil {
		j.Attempts = MakeJSONField(map[string]int{})
	}
	j.Attempts.Data[stage]++
	return j.Attempts.Data[stage]
}

// ResetAttempts zeroes the attempt counter for a stage.
func (j *Job) ResetAttempts(stage string) {
	if j.Attempts == nil || j.Attempts.Data == nil {
		j.Attempts = MakeJSONField(map[string]int{})
	}
	j.Attempts.Data[stage] = 0
}
