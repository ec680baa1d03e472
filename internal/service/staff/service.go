// Package staff runs the invitation lifecycle of staff assignments: invite,
// accept or decline, revoke and permission edits. Every transition is a
// compare-and-set on the assignment row and commits together with its
// notification bookkeeping.
package staff

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/permission"
	"github.com/consentflow/consent-api/internal/repository"
	"github.com/consentflow/consent-api/internal/service/access"
	"github.com/consentflow/consent-api/internal/service/audit"
	apperrors "github.com/consentflow/consent-api/pkg/errors"
	"github.com/consentflow/consent-api/pkg/logger"
	"github.com/consentflow/consent-api/pkg/metrics"
)

// Notifier records notifications inside a transaction and delivers them
// once it has committed.
type Notifier interface {
	Enqueue(ctx context.Context, n *model.Notification) (*model.Notification, error)
	Flush(ctx context.Context, ns ...*model.Notification)
}

type InviteInput struct {
	Email       string
	StaffRole   permission.StaffRole
	Permissions []permission.Permission
}

type Service struct {
	tx            repository.Transactor
	users         repository.UserRepository
	assignments   repository.StaffAssignmentRepository
	notifications repository.NotificationRepository
	notifier      Notifier
	access        *access.Evaluator
	auditor       *audit.AuditLogger
	log           *logger.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

func NewService(
	tx repository.Transactor,
	users repository.UserRepository,
	assignments repository.StaffAssignmentRepository,
	notifications repository.NotificationRepository,
	notifier Notifier,
	evaluator *access.Evaluator,
	auditor *audit.AuditLogger,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{
		tx:            tx,
		users:         users,
		assignments:   assignments,
		notifications: notifications,
		notifier:      notifier,
		access:        evaluator,
		auditor:       auditor,
		log:           log.Named("staff"),
		metrics:       m,
		now:           time.Now,
	}
}

// Invite creates a pending assignment for the registered user with the given
// email, or reactivates the pair's inactive row, and sends the invitation.
func (s *Service) Invite(ctx context.Context, caller access.Principal, surgeonID uuid.UUID, in InviteInput) (*model.StaffAssignment, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return nil, apperrors.Validation("email is required", "email")
	}
	if err := permission.Validate(in.StaffRole, in.Permissions); err != nil {
		return nil, err
	}
	if err := s.access.Authorize(ctx, caller, surgeonID, permission.ManageStaff); err != nil {
		return nil, err
	}

	surgeon, err := s.surgeon(ctx, surgeonID)
	if err != nil {
		return nil, err
	}
	invitee, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFoundf("no registered user found with that email; they must register first")
	}
	if err != nil {
		return nil, apperrors.Store("look up invitee", err)
	}
	if invitee.Role != model.RoleManager && invitee.Role != model.RoleNurse {
		return nil, apperrors.Validation("only staff accounts can be invited", string(invitee.Role))
	}

	now := s.now().UTC()
	inviter := caller.UserID
	a := &model.StaffAssignment{
		StaffUserID:      invitee.ID,
		SurgeonID:        surgeonID,
		StaffRole:        in.StaffRole,
		Permissions:      model.PermissionSet(in.Permissions),
		InvitedBy:        &inviter,
		InvitationStatus: model.InvitationPending,
		InvitedAt:        now,
		IsActive:         true,
	}
	from := "none"

	var sent *model.Notification
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.assignments.GetByPair(ctx, invitee.ID, surgeonID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			a.ID = uuid.New()
			a.CreatedAt = now
			a.UpdatedAt = now
			err = s.assignments.Create(ctx, a)
		case err != nil:
			return apperrors.Store("look up assignment", err)
		case existing.IsActive:
			return apperrors.Conflict("this staff member already has an active assignment or pending invitation", nil)
		default:
			from = string(existing.InvitationStatus)
			a.ID = existing.ID
			a.CreatedAt = existing.CreatedAt
			err = s.assignments.Reactivate(ctx, a)
		}
		if errors.Is(err, repository.ErrConflict) {
			return apperrors.Conflict("this staff member already has an active assignment or pending invitation", err)
		}
		if err != nil {
			return apperrors.Store("save assignment", err)
		}

		sent, err = s.notifier.Enqueue(ctx, invitationNotice(a, surgeon, caller.UserID))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.settle(ctx, a, from, string(model.InvitationPending), sent)
	s.auditor.Record(ctx, caller.UserID, model.AuditActionInvite, model.AuditEntityStaffAssignment, a.ID, &audit.LogOptions{
		Changes: a,
	})
	return a, nil
}

// Accept moves the caller's pending invitation to accepted.
func (s *Service) Accept(ctx context.Context, caller access.Principal, assignmentID uuid.UUID) (*model.StaffAssignment, error) {
	a, err := s.ownAssignment(ctx, caller, assignmentID)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, caller, a, true, nil)
}

// Decline moves the caller's pending invitation to declined and deactivates it.
func (s *Service) Decline(ctx context.Context, caller access.Principal, assignmentID uuid.UUID) (*model.StaffAssignment, error) {
	a, err := s.ownAssignment(ctx, caller, assignmentID)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, caller, a, false, nil)
}

// AcceptNotification accepts the invitation carried by one of the caller's
// notifications.
func (s *Service) AcceptNotification(ctx context.Context, caller access.Principal, notificationID uuid.UUID) (*model.StaffAssignment, error) {
	a, n, err := s.invitationFor(ctx, caller, notificationID)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, caller, a, true, n)
}

// DeclineNotification declines the invitation carried by one of the caller's
// notifications.
func (s *Service) DeclineNotification(ctx context.Context, caller access.Principal, notificationID uuid.UUID) (*model.StaffAssignment, error) {
	a, n, err := s.invitationFor(ctx, caller, notificationID)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, caller, a, false, n)
}

func (s *Service) respond(ctx context.Context, caller access.Principal, a *model.StaffAssignment, accept bool, source *model.Notification) (*model.StaffAssignment, error) {
	staffName := caller.Email
	if u, err := s.users.GetByID(ctx, caller.UserID); err == nil {
		staffName = u.DisplayName()
	}

	to := model.InvitationDeclined
	action := model.AuditActionDecline
	if accept {
		to = model.InvitationAccepted
		action = model.AuditActionAccept
	}

	// The reply goes to whoever sent the invitation, falling back to the
	// recorded inviter.
	var replyTo *uuid.UUID
	if source != nil && source.SenderID != nil {
		replyTo = source.SenderID
	} else if a.InvitedBy != nil {
		replyTo = a.InvitedBy
	}

	now := s.now().UTC()
	var updated *model.StaffAssignment
	var sent *model.Notification
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.assignments.Transition(ctx, a.ID, model.InvitationPending, to, !accept, now)
		if errors.Is(err, repository.ErrConflict) {
			return apperrors.Conflict("invitation is no longer pending", err)
		}
		if err != nil {
			return apperrors.Store("update assignment", err)
		}

		if _, err := s.notifications.MarkActionTaken(ctx, openInvitation(updated), now); err != nil {
			return apperrors.Store("close invitation notifications", err)
		}

		if replyTo != nil {
			sent, err = s.notifier.Enqueue(ctx, responseNotice(updated, *replyTo, caller.UserID, staffName, accept))
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.settle(ctx, updated, string(model.InvitationPending), string(to), sent)
	s.auditor.Record(ctx, caller.UserID, action, model.AuditEntityStaffAssignment, updated.ID, &audit.LogOptions{
		Changes: map[string]interface{}{"invitation_status": to, "is_active": updated.IsActive},
	})
	return updated, nil
}

// Revoke deactivates an assignment and leaves its status untouched. Revoking
// an inactive assignment succeeds without effect.
func (s *Service) Revoke(ctx context.Context, caller access.Principal, assignmentID uuid.UUID) (*model.StaffAssignment, error) {
	a, err := s.assignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := s.access.Authorize(ctx, caller, a.SurgeonID, permission.ManageStaff); err != nil {
		return nil, err
	}
	if !a.IsActive {
		return a, nil
	}
	surgeon, err := s.surgeon(ctx, a.SurgeonID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	updated := a
	var sent *model.Notification
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		revoked, err := s.assignments.Deactivate(ctx, a.ID, now)
		if errors.Is(err, repository.ErrConflict) {
			// Someone else deactivated it first.
			updated, err = s.assignments.GetByID(ctx, a.ID)
			if err != nil {
				return apperrors.Store("reload assignment", err)
			}
			return nil
		}
		if err != nil {
			return apperrors.Store("revoke assignment", err)
		}
		updated = revoked

		if _, err := s.notifications.MarkActionTaken(ctx, openInvitation(revoked), now); err != nil {
			return apperrors.Store("close invitation notifications", err)
		}
		sent, err = s.notifier.Enqueue(ctx, revokedNotice(revoked, surgeon, caller.UserID))
		return err
	})
	if err != nil {
		return nil, err
	}
	if sent == nil {
		return updated, nil
	}

	s.settle(ctx, updated, string(a.InvitationStatus), "revoked", sent)
	s.auditor.Record(ctx, caller.UserID, model.AuditActionRevoke, model.AuditEntityStaffAssignment, updated.ID, &audit.LogOptions{
		Changes: map[string]interface{}{"is_active": false},
	})
	return updated, nil
}

// EditPermissions replaces the permission set of an active assignment.
func (s *Service) EditPermissions(ctx context.Context, caller access.Principal, assignmentID uuid.UUID, perms []permission.Permission) (*model.StaffAssignment, error) {
	a, err := s.assignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := s.access.Authorize(ctx, caller, a.SurgeonID, permission.ManageStaff); err != nil {
		return nil, err
	}
	if err := permission.Validate(a.StaffRole, perms); err != nil {
		return nil, err
	}
	if !a.IsActive {
		return nil, apperrors.Conflict("assignment is not active", nil)
	}
	surgeon, err := s.surgeon(ctx, a.SurgeonID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var updated *model.StaffAssignment
	var sent *model.Notification
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.assignments.UpdatePermissions(ctx, a.ID, model.PermissionSet(perms), now)
		if errors.Is(err, repository.ErrConflict) {
			return apperrors.Conflict("assignment is not active", err)
		}
		if err != nil {
			return apperrors.Store("update permissions", err)
		}
		sent, err = s.notifier.Enqueue(ctx, permissionsNotice(updated, surgeon, caller.UserID))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Flush(ctx, sent)
	s.access.Invalidate(updated.StaffUserID)
	s.auditor.Record(ctx, caller.UserID, model.AuditActionUpdatePermissions, model.AuditEntityStaffAssignment, updated.ID, &audit.LogOptions{
		Changes: map[string]interface{}{
			"old_permissions": permission.Strings(a.Permissions),
			"new_permissions": permission.Strings(updated.Permissions),
		},
	})
	return updated, nil
}

// ListForSurgeon returns a practice's staff, newest first.
func (s *Service) ListForSurgeon(ctx context.Context, caller access.Principal, surgeonID uuid.UUID, filter model.StaffFilter) ([]*model.StaffMember, error) {
	if err := s.access.Authorize(ctx, caller, surgeonID, permission.ManageStaff); err != nil {
		return nil, err
	}
	out, err := s.assignments.ListBySurgeon(ctx, surgeonID, filter)
	if err != nil {
		return nil, apperrors.Store("list staff", err)
	}
	return out, nil
}

// ListForStaff returns every assignment the caller holds, newest first.
func (s *Service) ListForStaff(ctx context.Context, caller access.Principal) ([]*model.PracticeAssignment, error) {
	out, err := s.assignments.ListByStaff(ctx, caller.UserID)
	if err != nil {
		return nil, apperrors.Store("list invitations", err)
	}
	return out, nil
}

// ExpireStale expires pending invitations sent before now-olderThan and
// tells their inviters. It returns how many were expired.
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := s.assignments.ListStalePending(ctx, s.now().UTC().Add(-olderThan), limit)
	if err != nil {
		return 0, apperrors.Store("list stale invitations", err)
	}

	expired := 0
	for _, a := range stale {
		staffName := a.StaffUserID.String()
		if u, err := s.users.GetByID(ctx, a.StaffUserID); err == nil {
			staffName = u.DisplayName()
		}

		now := s.now().UTC()
		var updated *model.StaffAssignment
		var sent *model.Notification
		err := s.tx.WithTx(ctx, func(ctx context.Context) error {
			var err error
			updated, err = s.assignments.Transition(ctx, a.ID, model.InvitationPending, model.InvitationExpired, true, now)
			if err != nil {
				return err
			}
			if _, err := s.notifications.MarkActionTaken(ctx, openInvitation(updated), now); err != nil {
				return err
			}
			if updated.InvitedBy != nil {
				sent, err = s.notifier.Enqueue(ctx, expiredNotice(updated, staffName))
			}
			return err
		})
		if errors.Is(err, repository.ErrConflict) {
			continue // answered in the meantime
		}
		if err != nil {
			return expired, apperrors.Store("expire invitation", err)
		}

		expired++
		s.settle(ctx, updated, string(model.InvitationPending), string(model.InvitationExpired), sent)
		s.auditor.Record(ctx, uuid.Nil, model.AuditActionExpire, model.AuditEntityStaffAssignment, updated.ID, &audit.LogOptions{
			Changes: map[string]interface{}{"invitation_status": model.InvitationExpired, "is_active": false},
		})
	}
	return expired, nil
}

// settle runs the post-commit side effects of a transition.
func (s *Service) settle(ctx context.Context, a *model.StaffAssignment, from, to string, sent *model.Notification) {
	s.metrics.InvitationTransitions.WithLabelValues(from, to).Inc()
	s.access.Invalidate(a.StaffUserID)
	s.notifier.Flush(ctx, sent)
	s.log.Info("staff assignment transitioned",
		"assignment_id", a.ID.String(),
		"from", from,
		"to", to,
	)
}

func (s *Service) assignment(ctx context.Context, id uuid.UUID) (*model.StaffAssignment, error) {
	a, err := s.assignments.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFoundf("assignment not found")
	}
	if err != nil {
		return nil, apperrors.Store("load assignment", err)
	}
	return a, nil
}

func (s *Service) ownAssignment(ctx context.Context, caller access.Principal, id uuid.UUID) (*model.StaffAssignment, error) {
	a, err := s.assignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.StaffUserID != caller.UserID {
		return nil, apperrors.Forbidden("only the invited staff member can respond to this invitation")
	}
	return a, nil
}

func (s *Service) invitationFor(ctx context.Context, caller access.Principal, notificationID uuid.UUID) (*model.StaffAssignment, *model.Notification, error) {
	n, err := s.notifications.GetByID(ctx, notificationID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && n.UserID != caller.UserID) {
		return nil, nil, apperrors.NotFoundf("notification not found")
	}
	if err != nil {
		return nil, nil, apperrors.Store("load notification", err)
	}
	if n.ActionType == nil || *n.ActionType != model.ActionAcceptInvitation {
		return nil, nil, apperrors.Validation("notification does not carry an invitation")
	}
	if n.ActionTaken {
		return nil, nil, apperrors.Conflict("invitation has already been answered", nil)
	}
	surgeonID, ok := n.ActionData.UUID("surgeon_id")
	if !ok {
		return nil, nil, apperrors.Validation("invitation is missing its surgeon", "surgeon_id")
	}

	a, err := s.assignments.GetByPair(ctx, caller.UserID, surgeonID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, apperrors.NotFoundf("invitation not found")
	}
	if err != nil {
		return nil, nil, apperrors.Store("load assignment", err)
	}
	return a, n, nil
}

func (s *Service) surgeon(ctx context.Context, id uuid.UUID) (*model.SurgeonProfile, error) {
	p, err := s.users.GetSurgeonProfile(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFoundf("surgeon not found")
	}
	if err != nil {
		return nil, apperrors.Store("load surgeon", err)
	}
	return p, nil
}
