package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/model"
)

type auditRepository struct {
	s *Store
}

func (r *auditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	return r.s.write(ctx, func(st *state) error {
		v := *log
		st.audit = append(st.audit, &v)
		return nil
	})
}

func (r *auditRepository) ListForEntity(_ context.Context, entityType string, entityID uuid.UUID) ([]*model.AuditLog, error) {
	var out []*model.AuditLog
	err := r.s.read(func(st *state) error {
		for _, l := range newestFirst(st.audit, func(l *model.AuditLog) time.Time { return l.CreatedAt }) {
			if l.EntityType == entityType && l.EntityID == entityID {
				v := *l
				out = append(out, &v)
			}
		}
		return nil
	})
	return out, err
}

func (r *auditRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	var affected int64
	err := r.s.write(ctx, func(st *state) error {
		kept := st.audit[:0]
		for _, l := range st.audit {
			if l.CreatedAt.Before(before) {
				affected++
				continue
			}
			kept = append(kept, l)
		}
		st.audit = kept
		return nil
	})
	return affected, err
}
