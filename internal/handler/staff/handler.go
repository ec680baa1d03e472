package staff

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/handler"
	"github.com/consentflow/consent-api/internal/middleware"
	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/permission"
	"github.com/consentflow/consent-api/internal/service/access"
	"github.com/consentflow/consent-api/internal/service/staff"
	apperrors "github.com/consentflow/consent-api/pkg/errors"
	"github.com/consentflow/consent-api/pkg/httputil"
)

// Handler serves the practice staff pages and the invitations page.
type Handler struct {
	service *staff.Service
}

func NewHandler(service *staff.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	practice := r.Group("/surgeons/:surgeon_id/staff")
	{
		practice.GET("", h.List)
		practice.POST("", h.Invite)
	}

	assignments := r.Group("/staff")
	{
		assignments.GET("", h.ListSelected)
		assignments.PUT("/:id/permissions", h.EditPermissions)
		assignments.DELETE("/:id", h.Revoke)
	}

	invitations := r.Group("/invitations")
	{
		invitations.GET("", h.ListInvitations)
		invitations.POST("/:id/accept", h.Accept)
		invitations.POST("/:id/decline", h.Decline)
	}

	// Responses straight from an invitation notification.
	r.POST("/notifications/:id/accept", h.AcceptNotification)
	r.POST("/notifications/:id/decline", h.DeclineNotification)
}

type inviteRequest struct {
	Email       string   `json:"email" binding:"required,email"`
	StaffRole   string   `json:"staff_role" binding:"required,staff_role"`
	Permissions []string `json:"permissions" binding:"omitempty,dive,permission"`
}

type permissionsRequest struct {
	Permissions []string `json:"permissions" binding:"required,dive,permission"`
}

type listQuery struct {
	ActiveOnly bool   `form:"active_only"`
	StaffRole  string `form:"staff_role" binding:"omitempty,staff_role"`
}

func (h *Handler) Invite(c *gin.Context) {
	p, err := handler.Principal(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	surgeonID, err := handler.UUIDParam(c, "surgeon_id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, middleware.BindError(err))
		return
	}

	a, err := h.service.Invite(c.Request.Context(), p, surgeonID, staff.InviteInput{
		Email:       req.Email,
		StaffRole:   permission.StaffRole(req.StaffRole),
		Permissions: permission.FromStrings(req.Permissions),
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, a)
}

func (h *Handler) List(c *gin.Context) {
	surgeonID, err := handler.UUIDParam(c, "surgeon_id")
	if err != nil {
		httputil.RespondWithListError(c, err)
		return
	}
	h.list(c, surgeonID)
}

// ListSelected lists the staff of the practice the session is scoped to.
func (h *Handler) ListSelected(c *gin.Context) {
	s, err := handler.Session(c)
	if err != nil {
		httputil.RespondWithListError(c, err)
		return
	}
	surgeonID, ok := s.ActiveSurgeonID()
	if !ok {
		httputil.RespondWithListError(c, apperrors.BadRequest("select a surgeon with the "+middleware.HeaderSurgeonID+" header", nil))
		return
	}
	h.list(c, surgeonID)
}

func (h *Handler) list(c *gin.Context, surgeonID uuid.UUID) {
	p, err := handler.Principal(c)
	if err != nil {
		httputil.RespondWithListError(c, err)
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		httputil.RespondWithListError(c, middleware.BindError(err))
		return
	}

	members, err := h.service.ListForSurgeon(c.Request.Context(), p, surgeonID, model.StaffFilter{
		ActiveOnly: q.ActiveOnly,
		StaffRole:  permission.StaffRole(q.StaffRole),
	})
	if err != nil {
		httputil.RespondWithListError(c, err)
		return
	}
	if members == nil {
		members = []*model.StaffMember{}
	}
	httputil.RespondWithSuccess(c, http.StatusOK, members)
}

func (h *Handler) EditPermissions(c *gin.Context) {
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
	var req permissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, middleware.BindError(err))
		return
	}

	a, err := h.service.EditPermissions(c.Request.Context(), p, id, permission.FromStrings(req.Permissions))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, a)
}

func (h *Handler) Revoke(c *gin.Context) {
	h.transition(c, "id", h.service.Revoke)
}

func (h *Handler) ListInvitations(c *gin.Context) {
	p, err := handler.Principal(c)
	if err != nil {
		httputil.RespondWithListError(c, err)
		return
	}

	list, err := h.service.ListForStaff(c.Request.Context(), p)
	if err != nil {
		httputil.RespondWithListError(c, err)
		return
	}
	if list == nil {
		list = []*model.PracticeAssignment{}
	}
	httputil.RespondWithSuccess(c, http.StatusOK, list)
}

func (h *Handler) Accept(c *gin.Context) {
	h.transition(c, "id", h.service.Accept)
}

func (h *Handler) Decline(c *gin.Context) {
	h.transition(c, "id", h.service.Decline)
}

func (h *Handler) AcceptNotification(c *gin.Context) {
	h.transition(c, "id", h.service.AcceptNotification)
}

func (h *Handler) DeclineNotification(c *gin.Context) {
	h.transition(c, "id", h.service.DeclineNotification)
}

type transitionFunc func(ctx context.Context, caller access.Principal, id uuid.UUID) (*model.StaffAssignment, error)

func (h *Handler) transition(c *gin.Context, param string, fn transitionFunc) {
	p, err := handler.Principal(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	id, err := handler.UUIDParam(c, param)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	a, err := fn(c.Request.Context(), p, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, a)
}
