package mappers

import (
	api "github.com/eduvid/explainer/api/v1alpha1"
	"github.com/eduvid/explainer/internal/store/model"
)

func JobToApi(job *model.Job) api.Job {
	return api.Job{
		Id:            job.ID,
		ConceptKey:    job.ConceptKey,
		AudienceLevel: job.AudienceLevel,
		Status:        string(job.Status),
		StageOutputs:  job.Outputs(),
		ArtifactRef:   job.ArtifactRef,
		LastError:     job.LastError,
		FailureReason: job.FailureReason,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
}
