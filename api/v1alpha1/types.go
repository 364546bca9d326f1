package v1alpha1

import (
	"time"

	"github.com/google/uuid"
)

// VideoRequest asks for an explainer video of a single concept.
type VideoRequest struct {
	ConceptKey    string `json:"conceptKey" validate:"required,max=200"`
	AudienceLevel string `json:"audienceLevel,omitempty" validate:"omitempty,oneof=beginner advanced"`
}

// Job is the externally visible snapshot of a pipeline job.
type Job struct {
	Id            uuid.UUID         `json:"id"`
	ConceptKey    string            `json:"conceptKey"`
	AudienceLevel string            `json:"audienceLevel"`
	Status        string            `json:"status"`
	StageOutputs  map[string]string `json:"stageOutputs,omitempty"`
	ArtifactRef   string            `json:"artifactRef,omitempty"`
	LastError     string            `json:"lastError,omitempty"`
	FailureReason string            `json:"failureReason,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// Error is the body of every non-2xx response.
type Error struct {
	Message   string  `json:"message"`
	RequestId *string `json:"requestId,omitempty"`
}
