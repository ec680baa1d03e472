package permission

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consentflow/consent-api/internal/permission"
	apperrors "github.com/consentflow/consent-api/pkg/errors"
	"github.com/consentflow/consent-api/pkg/httputil"
)

// Handler serves the permission catalogue the invite and edit forms render.
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/permissions", h.List)
}

type roleCatalogue struct {
	Role        permission.StaffRole `json:"role"`
	Permissions []permission.Info    `json:"permissions"`
}

// List returns every role's vocabulary, or one role's with ?role=.
func (h *Handler) List(c *gin.Context) {
	roles := permission.Roles()
	if raw := c.Query("role"); raw != "" {
		role := permission.StaffRole(raw)
		if !role.Valid() {
			httputil.RespondWithListError(c, apperrors.Validation("unknown staff role", raw))
			return
		}
		roles = []permission.StaffRole{role}
	}

	out := make([]roleCatalogue, 0, len(roles))
	for _, role := range roles {
		out = append(out, roleCatalogue{Role: role, Permissions: permission.Describe(role)})
	}
	httputil.RespondWithSuccess(c, http.StatusOK, out)
}
