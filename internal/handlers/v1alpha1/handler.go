package v1alpha1

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	api "github.com/eduvid/explainer/api/v1alpha1"
	"github.com/eduvid/explainer/internal/orchestrator"
	"github.com/eduvid/explainer/pkg/requestid"
)

type ServiceHandler struct {
	orch     *orchestrator.Orchestrator
	validate *validator.Validate
}

func NewServiceHandler(orch *orchestrator.Orchestrator) *ServiceHandler {
	return &ServiceHandler{
		orch:     orch,
		validate: validator.New(),
	}
}

func (h *ServiceHandler) Routes(router chi.Router) {
	router.Route("/api/v1/videos", func(r chi.Router) {
		r.Post("/", h.CreateVideo)
	})
	router.Route("/api/v1/jobs", func(r chi.Router) {
		r.Get("/{id}", h.GetJob)
		r.Post("/{id}/retry", h.RetryJob)
		r.Delete("/{id}", h.CancelJob)
	})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, api.Error{Message: message, RequestId: requestid.FromContextPtr(r.Context())})
}
