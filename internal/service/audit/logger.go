package audit

import (
	"context"

	"github.com/google/uuid"

	"github.com/consentflow/consent-api/pkg/logger"
)

// AuditLogger records entries on a best-effort basis. A failed write is
// logged and never reaches the caller.
type AuditLogger struct {
	service *Service
	log     *logger.Logger
}

func NewAuditLogger(service *Service, log *logger.Logger) *AuditLogger {
	if log == nil {
		log = logger.Nop()
	}
	return &AuditLogger{
		service: service,
		log:     log.Named("audit"),
	}
}

func (l *AuditLogger) Record(ctx context.Context, userID uuid.UUID, action, entityType string, entityID uuid.UUID, opts *LogOptions) {
	if l == nil {
		return
	}
	if err := l.service.Log(ctx, userID, action, entityType, entityID, opts); err != nil {
		l.log.Error(err, "failed to write audit log",
			"action", action,
			"entity_type", entityType,
			"entity_id", entityID.String(),
		)
	}
}

// LogSync is Record without swallowing the error.
func (l *AuditLogger) LogSync(ctx context.Context, userID uuid.UUID, action, entityType string, entityID uuid.UUID, opts *LogOptions) error {
	return l.service.Log(ctx, userID, action, entityType, entityID, opts)
}
