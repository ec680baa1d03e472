package audit

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consentflow/consent-api/internal/handler"
	"github.com/consentflow/consent-api/internal/middleware"
	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/service/audit"
	apperrors "github.com/consentflow/consent-api/pkg/errors"
	"github.com/consentflow/consent-api/pkg/httputil"
)

// Handler exposes the audit trail of one entity to administrators.
type Handler struct {
	service *audit.Service
}

func NewHandler(service *audit.Service) *Handler {
	return &Handler{
		service: service,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	logs := r.Group("/audit", middleware.RequireRole(model.RoleAdmin))
	{
		logs.GET("/logs/entity/:type/:id", h.GetEntityLogs)
	}
}

func (h *Handler) GetEntityLogs(c *gin.Context) {
	entityType := c.Param("type")
	entityID, err := handler.UUIDParam(c, "id")
	if err != nil {
		httputil.RespondWithListError(c, err)
		return
	}

	logs, err := h.service.ListForEntity(c.Request.Context(), entityType, entityID)
	if err != nil {
		httputil.RespondWithListError(c, apperrors.Store("list audit logs", err))
		return
	}
	if logs == nil {
		logs = []*model.AuditLog{}
	}
	httputil.RespondWithSuccess(c, http.StatusOK, logs)
}
