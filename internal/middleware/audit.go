package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/consentflow/consent-api/internal/service/audit"
)

// AuditContext carries the caller's address and user agent down to audit
// entries written by the services.
func AuditContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := audit.WithRequestInfo(c.Request.Context(), c.ClientIP(), c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
