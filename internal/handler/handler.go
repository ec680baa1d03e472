// Package handler holds helpers shared by the HTTP handlers.
package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/middleware"
	"github.com/consentflow/consent-api/internal/service/access"
	apperrors "github.com/consentflow/consent-api/pkg/errors"
)

// Registrar is implemented by every handler mounted on the API group.
type Registrar interface {
	RegisterRoutes(*gin.RouterGroup)
}

// UUIDParam parses the named path parameter.
func UUIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperrors.BadRequest("invalid "+name, err)
	}
	return id, nil
}

// Principal returns the authenticated caller.
func Principal(c *gin.Context) (access.Principal, error) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return access.Principal{}, apperrors.Unauthorized(nil)
	}
	return p, nil
}

// Session returns the caller's session.
func Session(c *gin.Context) (*access.Session, error) {
	s, ok := middleware.SessionFrom(c)
	if !ok {
		return nil, apperrors.Unauthorized(nil)
	}
	return s, nil
}
