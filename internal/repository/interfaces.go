package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/model"
)

var (
	// ErrNotFound is returned when a looked up row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional update matched no row or a
	// unique constraint rejected an insert.
	ErrConflict = errors.New("precondition failed")
)

// All repository interfaces in one file
type (
	// Transactor runs fn in a single transaction. Repositories called with the
	// ctx handed to fn join that transaction.
	Transactor interface {
		WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	}

	// UserRepository resolves registered users and surgeon practices
	UserRepository interface {
		GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
		GetByEmail(ctx context.Context, email string) (*model.User, error)
		GetSurgeonProfile(ctx context.Context, id uuid.UUID) (*model.SurgeonProfile, error)
		GetSurgeonProfileByUser(ctx context.Context, userID uuid.UUID) (*model.SurgeonProfile, error)
	}

	// StaffAssignmentRepository handles staff assignments. Every mutating
	// method except Create is a compare-and-set and returns ErrConflict when
	// its precondition no longer holds.
	StaffAssignmentRepository interface {
		Create(ctx context.Context, a *model.StaffAssignment) error
		GetByID(ctx context.Context, id uuid.UUID) (*model.StaffAssignment, error)
		GetByPair(ctx context.Context, staffUserID, surgeonID uuid.UUID) (*model.StaffAssignment, error)
		ListByStaff(ctx context.Context, staffUserID uuid.UUID) ([]*model.PracticeAssignment, error)
		ListBySurgeon(ctx context.Context, surgeonID uuid.UUID, filter model.StaffFilter) ([]*model.StaffMember, error)
		Reactivate(ctx context.Context, a *model.StaffAssignment) error
		Transition(ctx context.Context, id uuid.UUID, from, to model.InvitationStatus, deactivate bool, at time.Time) (*model.StaffAssignment, error)
		Deactivate(ctx context.Context, id uuid.UUID, at time.Time) (*model.StaffAssignment, error)
		UpdatePermissions(ctx context.Context, id uuid.UUID, perms model.PermissionSet, at time.Time) (*model.StaffAssignment, error)
		ListStalePending(ctx context.Context, invitedBefore time.Time, limit int) ([]*model.StaffAssignment, error)
	}

	// NotificationRepository handles persisted notifications. Deletes and
	// read flips only touch rows the given user receives.
	NotificationRepository interface {
		Create(ctx context.Context, n *model.Notification) error
		GetByID(ctx context.Context, id uuid.UUID) (*model.Notification, error)
		List(ctx context.Context, userID uuid.UUID, direction model.Direction, limit int) ([]*model.Notification, error)
		CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
		MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
		MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
		Delete(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
		DeleteAllReceived(ctx context.Context, userID uuid.UUID) (int64, error)
		MarkActionTaken(ctx context.Context, filter model.ActionFilter, at time.Time) (int64, error)
	}

	// ConsentRepository reads consent content and records review progress
	ConsentRepository interface {
		GetByID(ctx context.Context, id uuid.UUID) (*model.PatientConsent, error)
		ListSections(ctx context.Context, surgeonProcedureID uuid.UUID) ([]*model.ConsentSection, error)
		CountAcknowledgments(ctx context.Context, surgeonProcedureID uuid.UUID) (int, error)
		ListChatSessions(ctx context.Context, consentID uuid.UUID) ([]*model.ChatSession, error)
		ListReviewItems(ctx context.Context, consentID uuid.UUID) ([]*model.ConsentReviewItem, error)
		// AddReviewItem reports false when the area was already reviewed.
		AddReviewItem(ctx context.Context, item *model.ConsentReviewItem) (bool, error)
		MarkValid(ctx context.Context, id uuid.UUID, from model.ConsentStatus, reviewedBy uuid.UUID, at time.Time) (*model.PatientConsent, error)
	}

	// OutboxRepository handles outbox events
	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetByID(ctx context.Context, id uuid.UUID) (*model.OutboxEvent, error)
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// AuditRepository handles audit logs
	AuditRepository interface {
		Create(ctx context.Context, log *model.AuditLog) error
		ListForEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*model.AuditLog, error)
		DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// Store bundles the repositories of one backend.
	Store interface {
		Transactor() Transactor
		Users() UserRepository
		Assignments() StaffAssignmentRepository
		Notifications() NotificationRepository
		Consents() ConsentRepository
		Outbox() OutboxRepository
		Audit() AuditRepository
	}
)
