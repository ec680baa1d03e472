package consent

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consentflow/consent-api/internal/handler"
	"github.com/consentflow/consent-api/internal/middleware"
	"github.com/consentflow/consent-api/internal/service/consent"
	"github.com/consentflow/consent-api/pkg/httputil"
)

type Handler struct {
	service *consent.Service
}

func NewHandler(service *consent.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	consents := r.Group("/consents/:id")
	{
		consents.GET("/checklist", h.Checklist)
		consents.POST("/reviews", h.MarkReviewed)
		consents.POST("/validate", h.Validate)
	}
}

type reviewRequest struct {
	Area string `json:"area" binding:"required,max=128"`
}

func (h *Handler) Checklist(c *gin.Context) {
	p, err := handler.Principal(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	id, err := handler.UUIDParam(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	cl, err := h.service.Checklist(c.Request.Context(), p, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, cl)
}

func (h *Handler) MarkReviewed(c *gin.Context) {
	p, err := handler.Principal(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	id, err := handler.UUIDParam(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, middleware.BindError(err))
		return
	}

	cl, err := h.service.MarkReviewed(c.Request.Context(), p, id, req.Area)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, cl)
}

// Validate answers 422 with the unreviewed areas as details when the
// checklist is incomplete.
func (h *Handler) Validate(c *gin.Context) {
	p, err := handler.Principal(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	id, err := handler.UUIDParam(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	validated, err := h.service.Validate(c.Request.Context(), p, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, validated)
}
