package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/consentflow/consent-api/internal/repository"
	"github.com/consentflow/consent-api/pkg/logger"
)

// AuditCleanupWorker deletes audit logs past their retention.
type AuditCleanupWorker struct {
	repo      repository.AuditRepository
	retention time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

func NewAuditCleanupWorker(repo repository.AuditRepository, retention time.Duration, log *logger.Logger) *AuditCleanupWorker {
	return &AuditCleanupWorker{
		repo:      repo,
		retention: retention,
		logger:    log.Named("audit_cleanup"),
		now:       time.Now,
	}
}

func (w *AuditCleanupWorker) Run(ctx context.Context) (int64, error) {
	cutoff := w.now().Add(-w.retention)

	rows, err := w.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}

	w.logger.Info("Cleaned up audit logs", "deleted", rows, "cutoff", cutoff)
	return rows, nil
}
