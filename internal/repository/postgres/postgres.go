package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/consentflow/consent-api/internal/repository"
)

// Store bundles the repositories sharing one connection pool.
type Store struct {
	base BaseRepository
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{base: NewBaseRepository(db)}
}

func (s *Store) Transactor() repository.Transactor { return NewTransactor(s.base) }

func (s *Store) Users() repository.UserRepository { return NewUserRepository(s.base) }

func (s *Store) Assignments() repository.StaffAssignmentRepository {
	return NewStaffAssignmentRepository(s.base)
}

func (s *Store) Notifications() repository.NotificationRepository {
	return NewNotificationRepository(s.base)
}

func (s *Store) Consents() repository.ConsentRepository { return NewConsentRepository(s.base) }

func (s *Store) Outbox() repository.OutboxRepository { return NewOutboxRepository(s.base) }

func (s *Store) Audit() repository.AuditRepository { return NewAuditRepository(s.base) }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.base.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.base.db.Close()
}
