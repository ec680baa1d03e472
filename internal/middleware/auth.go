package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/repository"
	"github.com/consentflow/consent-api/internal/service/access"
	"github.com/consentflow/consent-api/pkg/auth"
	apperrors "github.com/consentflow/consent-api/pkg/errors"
	"github.com/consentflow/consent-api/pkg/httputil"
)

const (
	// HeaderSurgeonID selects the practice a staff session acts for. The
	// value "all" selects the unscoped view.
	HeaderSurgeonID = "X-Surgeon-ID"

	ContextPrincipal = "principal"
	ContextSession   = "session"
	ContextUserID    = "user_id"
)

type AuthMiddleware struct {
	jwt   auth.JWTService
	users repository.UserRepository
	eval  *access.Evaluator
}

func NewAuthMiddleware(jwt auth.JWTService, users repository.UserRepository, eval *access.Evaluator) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt, users: users, eval: eval}
}

// Authenticate verifies the bearer token and resolves the caller. The role
// comes from the user record, not from the token.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			httputil.RespondWithError(c, apperrors.Unauthorized(errors.New("missing bearer token")))
			return
		}

		claims, err := m.jwt.ValidateToken(token)
		if err != nil {
			httputil.RespondWithError(c, apperrors.Unauthorized(err))
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			httputil.RespondWithError(c, apperrors.Unauthorized(err))
			return
		}

		user, err := m.users.GetByID(c.Request.Context(), userID)
		if errors.Is(err, repository.ErrNotFound) {
			httputil.RespondWithError(c, apperrors.Unauthorized(errors.New("unknown user")))
			return
		}
		if err != nil {
			httputil.RespondWithError(c, apperrors.Store("load user", err))
			return
		}

		c.Set(ContextPrincipal, access.Principal{UserID: user.ID, Email: user.Email, Role: user.Role})
		c.Set(ContextUserID, user.ID)
		c.Next()
	}
}

// Session loads the caller's assignment set and applies the X-Surgeon-ID
// selection. It must run after Authenticate.
func (m *AuthMiddleware) Session() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			httputil.RespondWithError(c, apperrors.Unauthorized(nil))
			return
		}

		s, err := m.eval.NewSession(c.Request.Context(), p)
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}

		switch raw := strings.TrimSpace(c.GetHeader(HeaderSurgeonID)); raw {
		case "":
		case "all":
			s.SelectAll()
		default:
			id, err := uuid.Parse(raw)
			if err != nil {
				httputil.RespondWithError(c, apperrors.BadRequest("invalid "+HeaderSurgeonID+" header", err))
				return
			}
			if err := s.Select(id); err != nil {
				httputil.RespondWithError(c, err)
				return
			}
		}

		c.Set(ContextSession, s)
		c.Next()
	}
}

// RequireRole rejects callers whose global role is not listed.
func RequireRole(roles ...model.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			httputil.RespondWithError(c, apperrors.Unauthorized(nil))
			return
		}
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		httputil.RespondWithError(c, apperrors.Forbidden("permission denied"))
	}
}

func PrincipalFrom(c *gin.Context) (access.Principal, bool) {
	v, ok := c.Get(ContextPrincipal)
	if !ok {
		return access.Principal{}, false
	}
	p, ok := v.(access.Principal)
	return p, ok
}

func SessionFrom(c *gin.Context) (*access.Session, bool) {
	v, ok := c.Get(ContextSession)
	if !ok {
		return nil, false
	}
	s, ok := v.(*access.Session)
	return s, ok
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
