package me

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/handler"
	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/permission"
	"github.com/consentflow/consent-api/pkg/httputil"
)

// Handler exposes the caller's session: assignments and the surgeon the
// request is scoped to.
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/me/assignments", h.Assignments)
}

type sessionView struct {
	UserID          uuid.UUID                   `json:"user_id"`
	Email           string                      `json:"email"`
	Role            model.UserRole              `json:"role"`
	Assignments     []*model.PracticeAssignment `json:"assignments"`
	ActiveSurgeonID *uuid.UUID                  `json:"active_surgeon_id,omitempty"`
	AllSurgeons     bool                        `json:"all_surgeons"`
	Permissions     []permission.Permission     `json:"permissions"`
}

func (h *Handler) Assignments(c *gin.Context) {
	s, err := handler.Session(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	p := s.Principal()

	view := sessionView{
		UserID:      p.UserID,
		Email:       p.Email,
		Role:        p.Role,
		Assignments: s.Assignments(),
		AllSurgeons: s.AllSurgeons(),
		Permissions: []permission.Permission{},
	}
	if view.Assignments == nil {
		view.Assignments = []*model.PracticeAssignment{}
	}
	if id, ok := s.ActiveSurgeonID(); ok {
		view.ActiveSurgeonID = &id
	}
	if a := s.ActiveAssignment(); a.Effective() {
		view.Permissions = append(view.Permissions, a.Permissions...)
	}

	httputil.RespondWithSuccess(c, http.StatusOK, view)
}
