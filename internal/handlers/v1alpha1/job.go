package v1alpha1

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/eduvid/explainer/api/v1alpha1"
	"github.com/eduvid/explainer/internal/handlers/v1alpha1/mappers"
	"github.com/eduvid/explainer/internal/orchestrator"
)

// CreateVideo submits a concept for rendering. The call is idempotent:
// resubmitting an in-flight or still-fresh concept returns the existing job.
func (h *ServiceHandler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	var request api.VideoRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := h.validate.Struct(request); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.orch.Submit(r.Context(), request.ConceptKey, request.AudienceLevel)
	if err != nil {
		switch err.(type) {
		case *orchestrator.ErrInvalidConcept:
			respondError(w, r, http.StatusBadRequest, err.Error())
		default:
			zap.S().Named("handlers").Errorw("failed to submit video request", "error", err)
			respondError(w, r, http.StatusInternalServerError, "failed to submit video request")
		}
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, mappers.JobToApi(job))
}

func (h *ServiceHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.orch.Status(r.Context(), id)
	if err != nil {
		switch err.(type) {
		case *orchestrator.ErrJobNotFound:
			respondError(w, r, http.StatusNotFound, err.Error())
		default:
			zap.S().Named("handlers").Errorw("failed to get job", "job_id", id, "error", err)
			respondError(w, r, http.StatusInternalServerError, "failed to get job")
		}
		return
	}

	render.JSON(w, r, mappers.JobToApi(job))
}

// RetryJob re-enters a failed job at the stage that failed.
func (h *ServiceHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.orch.Retry(r.Context(), id)
	if err != nil {
		switch err.(type) {
		case *orchestrator.ErrJobNotFound:
			respondError(w, r, http.StatusNotFound, err.Error())
		case *orchestrator.ErrNotFailed:
			respondError(w, r, http.StatusConflict, err.Error())
		default:
			zap.S().Named("handlers").Errorw("failed to retry job", "job_id", id, "error", err)
			respondError(w, r, http.StatusInternalServerError, "failed to retry job")
		}
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, mappers.JobToApi(job))
}

func (h *ServiceHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := h.orch.Cancel(r.Context(), id); err != nil {
		switch err.(type) {
		case *orchestrator.ErrJobNotFound:
			respondError(w, r, http.StatusNotFound, err.Error())
		case *orchestrator.ErrAlreadyTerminal:
			respondError(w, r, http.StatusConflict, err.Error())
		default:
			zap.S().Named("handlers").Errorw("failed to cancel job", "job_id", id, "error", err)
			respondError(w, r, http.StatusInternalServerError, "failed to cancel job")
		}
		return
	}

	render.NoContent(w, r)
}
