package httputil

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consentflow/consent-api/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"`
	Details []string    `json:"details,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrConflict:
		return http.StatusConflict
	case errors.ErrValidation:
		return http.StatusUnprocessableEntity
	case errors.ErrForbidden:
		return http.StatusForbidden
	case errors.ErrUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrBadRequest:
		return http.StatusBadRequest
	case errors.ErrStore:
		return http.StatusServiceUnavailable
	case errors.ErrRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Status: "success",
		Data:   data,
	})
}

// RespondWithError sends an error response. Internal errors never leak
// their cause.
func RespondWithError(c *gin.Context, err error) {
	status := StatusFor(err)
	resp := Response{
		Status:  "error",
		Code:    errors.CodeOf(err).String(),
		Message: "internal server error",
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) && status != http.StatusInternalServerError {
		resp.Message = appErr.Message
		resp.Details = appErr.Details
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}

// RespondWithListError answers a failed list read. Clients always receive an
// array so they can render an empty page next to the message.
func RespondWithListError(c *gin.Context, err error) {
	status := StatusFor(err)
	resp := Response{
		Status:  "error",
		Code:    errors.CodeOf(err).String(),
		Message: "internal server error",
		Data:    []interface{}{},
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) && status != http.StatusInternalServerError {
		resp.Message = appErr.Message
		resp.Details = appErr.Details
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}
