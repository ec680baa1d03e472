package staff

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consentflow/consent-api/internal/email"
	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/permission"
	"github.com/consentflow/consent-api/internal/repository"
	"github.com/consentflow/consent-api/internal/repository/memory"
	"github.com/consentflow/consent-api/internal/service/access"
	"github.com/consentflow/consent-api/internal/service/audit"
	"github.com/consentflow/consent-api/internal/service/event"
	"github.com/consentflow/consent-api/internal/service/notification"
	apperrors "github.com/consentflow/consent-api/pkg/errors"
	"github.com/consentflow/consent-api/pkg/logger"
	"github.com/consentflow/consent-api/pkg/messaging"
	"github.com/consentflow/consent-api/pkg/metrics"
)

type env struct {
	store   *memory.Store
	eval    *access.Evaluator
	bus     *notification.Service
	metrics *metrics.Metrics
	svc     *Service

	surgeon  access.Principal
	practice *model.SurgeonProfile
}

type flakyNotifications struct {
	repository.NotificationRepository
	fail bool
}

func (f *flakyNotifications) Create(ctx context.Context, n *model.Notification) error {
	if f.fail {
		return errors.New("connection refused")
	}
	return f.NotificationRepository.Create(ctx, n)
}

func newEnv(t *testing.T) (*env, *flakyNotifications) {
	t.Helper()
	store := memory.NewStore()
	broker := messaging.NewLocalBroker(8)
	t.Cleanup(func() { _ = broker.Close() })
	m := metrics.NewNop()
	flaky := &flakyNotifications{NotificationRepository: store.Notifications()}

	bus := notification.NewService(flaky, store.Users(), event.NewEventService(store.Outbox()), broker,
		email.NewService(email.Config{}), notification.Config{}, logger.Nop(), m)
	eval := access.NewEvaluator(store.Users(), store.Assignments(), time.Minute, time.Minute)
	auditor := audit.NewAuditLogger(audit.NewService(store.Audit()), logger.Nop())

	e := &env{
		store:   store,
		eval:    eval,
		bus:     bus,
		metrics: m,
		svc: NewService(store.Transactor(), store.Users(), store.Assignments(), store.Notifications(),
			bus, eval, auditor, logger.Nop(), m),
	}
	e.surgeon, e.practice = e.newSurgeon("Dr Grey")
	return e, flaky
}

func (e *env) newUser(role model.UserRole, name string) access.Principal {
	u := e.store.AddUser(&model.User{Email: uuid.NewString() + "@example.com", FullName: name, Role: role})
	return access.Principal{UserID: u.ID, Email: u.Email, Role: role}
}

func (e *env) newSurgeon(name string) (access.Principal, *model.SurgeonProfile) {
	p := e.newUser(model.RoleSurgeon, name)
	profile := e.store.AddSurgeon(&model.SurgeonProfile{UserID: p.UserID, FullName: name, PracticeName: name + " Surgery"})
	return p, profile
}

func (e *env) received(t *testing.T, userID uuid.UUID, typ model.NotificationType) []*model.Notification {
	t.Helper()
	all, err := e.bus.List(context.Background(), userID, model.DirectionReceived, 200)
	require.NoError(t, err)
	var out []*model.Notification
	for _, n := range all {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func (e *env) hasPermission(t *testing.T, p access.Principal, surgeonID uuid.UUID, perm permission.Permission) bool {
	t.Helper()
	s, err := e.eval.NewSession(context.Background(), p)
	require.NoError(t, err)
	if s.Select(surgeonID) != nil {
		return false
	}
	return s.HasPermission(perm)
}

func (e *env) inviteNurse(t *testing.T, nurse access.Principal, perms ...permission.Permission) *model.StaffAssignment {
	t.Helper()
	a, err := e.svc.Invite(context.Background(), e.surgeon, e.practice.ID, InviteInput{
		Email:       nurse.Email,
		StaffRole:   permission.RoleNurse,
		Permissions: perms,
	})
	require.NoError(t, err)
	return a
}

func activeRows(t *testing.T, e *env, staffID uuid.UUID) int {
	t.Helper()
	list, err := e.store.Assignments().ListBySurgeon(context.Background(), e.practice.ID, model.StaffFilter{ActiveOnly: true})
	require.NoError(t, err)
	n := 0
	for _, m := range list {
		if m.StaffUserID == staffID {
			n++
		}
	}
	return n
}

func TestInviteThenAccept(t *testing.T) {
	e, _ := newEnv(t)
	ctx := context.Background()
	nurse := e.newUser(model.RoleNurse, "Nurse Joy")

	a := e.inviteNurse(t, nurse, permission.AnswerQuestions)
	assert.Equal(t, model.InvitationPending, a.InvitationStatus)
	assert.True(t, a.IsActive)
	assert.Equal(t, 1, activeRows(t, e, nurse.UserID))

	invites := e.received(t, nurse.UserID, model.NotificationStaffInvitation)
	require.Len(t, invites, 1)
	require.NotNil(t, invites[0].ActionType)
	assert.Equal(t, model.ActionAcceptInvitation, *invites[0].ActionType)
	assert.Equal(t, "Dr Grey has invited you as a nurse for their practice.", invites[0].Message)
	assert.Equal(t, e.practice.ID.String(), invites[0].ActionData.String("surgeon_id"))
	assert.False(t, e.hasPermission(t, nurse, e.practice.ID, permission.AnswerQuestions), "nothing before acceptance")

	accepted, err := e.svc.Accept(ctx, nurse, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationAccepted, accepted.InvitationStatus)
	require.NotNil(t, accepted.AcceptedAt)

	replies := e.received(t, e.surgeon.UserID, model.NotificationInvitationAccepted)
	require.Len(t, replies, 1)
	assert.Equal(t, "Nurse Joy has accepted your staff invitation as nurse.", replies[0].Message)

	assert.True(t, e.hasPermission(t, nurse, e.practice.ID, permission.AnswerQuestions))
	assert.False(t, e.hasPermission(t, nurse, e.practice.ID, permission.ManagePatients))

	invite, err := e.bus.Get(ctx, nurse.UserID, invites[0].ID)
	require.NoError(t, err)
	assert.True(t, invite.ActionTaken)
	assert.True(t, invite.Read)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.InvitationTransitions.WithLabelValues("pending", "accepted")))
}

func TestInviteThenDeclineViaNotification(t *testing.T) {
	e, _ := newEnv(t)
	ctx := context.Background()
	nurse := e.newUser(model.RoleNurse, "Nurse Joy")
	e.inviteNurse(t, nurse, permission.AnswerQuestions)
	invite := e.received(t, nurse.UserID, model.NotificationStaffInvitation)[0]

	declined, err := e.svc.DeclineNotification(ctx, nurse, invite.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationDeclined, declined.InvitationStatus)
	assert.False(t, declined.IsActive)

	assert.Len(t, e.received(t, e.surgeon.UserID, model.NotificationInvitationDeclined), 1)
	for _, perm := range permission.Vocabulary(permission.RoleNurse) {
		assert.False(t, e.hasPermission(t, nurse, e.practice.ID, perm), perm)
	}

	_, err = e.svc.AcceptNotification(ctx, nurse, invite.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict), "already answered")
}

func TestRespondingTwiceIsRejected(t *testing.T) {
	e, _ := newEnv(t)
	ctx := context.Background()
	nurse := e.newUser(model.RoleNurse, "Nurse Joy")
	a := e.inviteNurse(t, nurse, permission.AnswerQuestions)

	_, err := e.svc.Accept(ctx, nurse, a.ID)
	require.NoError(t, err)
	before := len(e.received(t, e.surgeon.UserID, model.NotificationInvitationAccepted)) +
		len(e.received(t, e.surgeon.UserID, model.NotificationInvitationDeclined))

	_, err = e.svc.Accept(ctx, nurse, a.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
	_, err = e.svc.Decline(ctx, nurse, a.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))

	after := len(e.received(t, e.surgeon.UserID, model.NotificationInvitationAccepted)) +
		len(e.received(t, e.surgeon.UserID, model.NotificationInvitationDeclined))
	assert.Equal(t, before, after, "no notification for a rejected transition")

	got, err := e.store.Assignments().GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationAccepted, got.InvitationStatus)
	assert.True(t, got.IsActive)
}

func TestOnlyInviteeMayRespond(t *testing.T) {
	e, _ := newEnv(t)
	nurse := e.newUser(model.RoleNurse, "Nurse Joy")
	other := e.newUser(model.RoleNurse, "Nurse Ratched")
	a := e.inviteNurse(t, nurse)

	_, err := e.svc.Accept(context.Background(), other, a.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden))

	invite := e.received(t, nurse.UserID, model.NotificationStaffInvitation)[0]
	_, err = e.svc.AcceptNotification(context.Background(), other, invite.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestRevokeAcceptedAssignment(t *testing.T) {
	e, _ := newEnv(t)
	ctx := context.Background()
	nurse := e.newUser(model.RoleNurse, "Nurse Joy")
	a := e.inviteNurse(t, nurse, permission.AnswerQuestions, permission.ValidateConsent)
	_, err := e.svc.Accept(ctx, nurse, a.ID)
	require.NoError(t, err)
	require.True(t, e.hasPermission(t, nurse, e.practice.ID, permission.AnswerQuestions))

	revoked, err := e.svc.Revoke(ctx, e.surgeon, a.ID)
	require.NoError(t, err)
	assert.False(t, revoked.IsActive)
	assert.Equal(t, model.InvitationAccepted, revoked.InvitationStatus, "status untouched")

	notices := e.received(t, nurse.UserID, model.NotificationAccessRevoked)
	require.Len(t, notices, 1)
	assert.Equal(t, "Your access to Dr Grey's practice has been revoked.", notices[0].Message)
	for _, perm := range permission.Vocabulary(permission.RoleNurse) {
		assert.False(t, e.hasPermission(t, nurse, e.practice.ID, perm), perm)
	}
}

func TestRevokeInactiveIsNoop(t *testing.T) {
	e, _ := newEnv(t)
	ctx := context.Background()
	nurse := e.newUser(model.RoleNurse, "Nurse Joy")
	a := e.inviteNurse(t, nurse, permission.AnswerQuestions)
	_, err := e.svc.Decline(ctx, nurse, a.ID)
	require.NoError(t, err)

	got, err := e.svc.Revoke(ctx, e.surgeon, a.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, model.InvitationDeclined, got.InvitationStatus)
	assert.Empty(t, e.received(t, nurse.UserID, model.NotificationAccessRevoked))
}

func TestRevokePendingClosesInvitation(t *testing.T) {
	e, _ := newEnv(t)
	ctx := context.Background()
	nurse := e.newUser(model.RoleNurse, "Nurse Joy")
	a := e.inviteNurse(t, nurse)

	_, err := e.svc.Revoke(ctx, e.surgeon, a.ID)
	require.NoError(t, err)

	invite := e.received(t, nurse.UserID, model.NotificationStaffInvitation)[0]
	assert.True(t, invite.ActionTaken)
	_, err = e.svc.Accept(ctx, nurse, a.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
}

func TestRevokeSucceedsWhenNotificationDeliveryFails(t *testing.T) {
	e, flaky := newEnv(t)
	ctx := context.Background()
	nurse := e.newUser(model.RoleNurse, "Nurse Joy")
	a := e.inviteNurse(t, nurse, permission.AnswerQuestions)
	_, err := e.svc.Accept(ctx, nurse, a.ID)
	require.NoError(t, err)

	flaky.fail = true
	revoked, err := e.svc.Revoke(ctx, e.surgeon, a.ID)
	require.NoError(t, err)
	assert.False(t, revoked.IsActive)

	pending, err := e.store.Outbox().GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "compensating notification kept for retry")
	assert.Equal(t, model.EventNotificationDeliver, pending[0].EventType)
}

func TestInviteValidationAndConflicts(t *testing.T) {
	e, _ := newEnv(t)
	ctx := context.Background()
	nurse := e.newUser(model.RoleNurse, "Nurse Joy")

	_, err := e.svc.Invite(ctx, e.surgeon, e.practice.ID, InviteInput{
		Email:       nurse.Email,
		StaffRole:   permission.RoleNurse,
		Permissions: []permission.Permission{permission.ManagePatients},
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation), "manager-only permission for a nurse")
	assert.Zero(t, activeRows(t, e, nurse.UserID))

	_, err = e.svc.Invite(ctx, e.surgeon, e.practice.ID, InviteInput{Email: "nobody@example.com", StaffRole: permission.RoleNurse})
	require.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	assert.Contains(t, err.Error(), "must register first")

	_, err = e.svc.Invite(ctx, e.surgeon, e.practice.ID, InviteInput{Email: "  " + nurse.Email + " ", StaffRole: permission.RoleNurse})
	require.NoError(t, err, "email is trimmed")

	_, err = e.svc.Invite(ctx, e.surgeon, e.practice.ID, InviteInput{Email: nurse.Email, StaffRole: permission.RoleNurse})
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict), "pending invitation already active")
	assert.Equal(t, 1, activeRows(t, e, nurse.UserID))

	otherSurgeon, _ := e.newSurgeon("Dr Shepherd")
	_, err = e.svc.Invite(ctx, otherSurgeon, e.practice.ID, InviteInput{Email: nurse.Email, StaffRole: permission.RoleNurse})
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden))

	_, err = e.svc.Invite(ctx, e.surgeon, e.practice.ID, InviteInput{Email: otherSurgeon.Email, StaffRole: permission.RoleNurse})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation), "surgeons cannot be invited as staff")
}

func TestReinviteReactivatesRow(t *testing.T) {
	e, _ := newEnv(t)
	ctx := context.Background()
	nurse := e.newUser(model.RoleManager, "Manager Mo")
	first, err := e.svc.Invite(ctx, e.surgeon, e.practice.ID, InviteInput{Email: nurse.Email, StaffRole: permission.RoleNurse})
	require.NoError(t, err)
	_, err = e.svc.Decline(ctx, nurse, first.ID)
	require.NoError(t, err)

	second, err := e.svc.Invite(ctx, e.surgeon, e.practice.ID, InviteInput{
		Email:       nurse.Email,
		StaffRole:   permission.RoleManager,
		Permissions: []permission.Permission{permission.ManageStaff},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "reactivated in place")
	assert.Equal(t, model.InvitationPending, second.InvitationStatus)
	assert.Equal(t, permission.RoleManager, second.StaffRole)
	assert.Equal(t, 1, activeRows(t, e, nurse.UserID))

	all, err := e.store.Assignments().ListBySurgeon(ctx, e.practice.ID, model.StaffFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Second invitation is actionable even though the first was closed.
	invites := e.received(t, nurse.UserID, model.NotificationStaffInvitation)
	require.Len(t, invites, 2)
	open := invites[0]
	assert.False(t, open.ActionTaken)
	_, err = e.svc.AcceptNotification(ctx, nurse, open.ID)
	require.NoError(t, err)
	assert.True(t, e.hasPermission(t, nurse, e.practice.ID, permission.ManageStaff))
}

func TestPendingInvitationsFromSeveralSurgeons(t *testing.T) {
	e, _ := newEnv(t)
	ctx := context.Background()
	nurse := e.newUser(model.RoleNurse, "Nurse Joy")
	otherSurgeon, otherPractice := e.newSurgeon("Dr Shepherd")

	e.inviteNurse(t, nurse, permission.AnswerQuestions)
	_, err := e.svc.Invite(ctx, otherSurgeon, otherPractice.ID, InviteInput{Email: nurse.Email, StaffRole: permission.RoleNurse})
	require.NoError(t, err)

	list, err := e.svc.ListForStaff(ctx, nurse)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestManagerWithManageStaff(t *testing.T) {
	e, _ := newEnv(t)
	ctx := context.Background()
	manager := e.newUser(model.RoleManager, "Manager Mo")
	nurse := e.newUser(model.RoleNurse, "Nurse Joy")

	ma, err := e.svc.Invite(ctx, e.surgeon, e.practice.ID, InviteInput{
		Email:       manager.Email,
		StaffRole:   permission.RoleManager,
		Permissions: []permission.Permission{permission.ManageStaff},
	})
	require.NoError(t, err)

	_, err = e.svc.Invite(ctx, manager, e.practice.ID, InviteInput{Email: nurse.Email, StaffRole: permission.RoleNurse})
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden), "pending manager holds nothing")

	_, err = e.svc.Accept(ctx, manager, ma.ID)
	require.NoError(t, err)

	na, err := e.svc.Invite(ctx, manager, e.practice.ID, InviteInput{Email: nurse.Email, StaffRole: permission.RoleNurse})
	require.NoError(t, err)
	_, err = e.svc.Accept(ctx, nurse, na.ID)
	require.NoError(t, err)

	// The reply goes to the manager who sent the invitation.
	assert.Len(t, e.received(t, manager.UserID, model.NotificationInvitationAccepted), 1)

	edited, err := e.svc.EditPermissions(ctx, manager, na.ID, []permission.Permission{permission.ValidateConsent})
	require.NoError(t, err)
	assert.Equal(t, model.PermissionSet{permission.ValidateConsent}, edited.Permissions)
	changes := e.received(t, nurse.UserID, model.NotificationPermissionChange)
	require.Len(t, changes, 1)
	assert.Contains(t, fmt.Sprint(changes[0].Data["new_permissions"]), "validate_consent")
	assert.True(t, e.hasPermission(t, nurse, e.practice.ID, permission.ValidateConsent))

	_, err = e.svc.EditPermissions(ctx, manager, na.ID, []permission.Permission{permission.ManageStaff})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	staffList, err := e.svc.ListForSurgeon(ctx, manager, e.practice.ID, model.StaffFilter{StaffRole: permission.RoleNurse})
	require.NoError(t, err)
	require.Len(t, staffList, 1)
	assert.Equal(t, nurse.Email, staffList[0].StaffEmail)

	_, err = e.svc.Revoke(ctx, manager, ma.ID)
	require.NoError(t, err)
	_, err = e.svc.EditPermissions(ctx, manager, na.ID, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden), "revoked manager lost manage_staff")
	_, err = e.svc.EditPermissions(ctx, e.surgeon, ma.ID, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict), "inactive assignment")
}

func TestExpireStale(t *testing.T) {
	e, _ := newEnv(t)
	ctx := context.Background()
	stale := e.newUser(model.RoleNurse, "Nurse Joy")
	fresh := e.newUser(model.RoleNurse, "Nurse Ratched")

	e.svc.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	old := e.inviteNurse(t, stale)
	e.svc.now = time.Now
	e.inviteNurse(t, fresh)

	n, err := e.svc.ExpireStale(ctx, 24*time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.store.Assignments().GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationExpired, got.InvitationStatus)
	assert.False(t, got.IsActive)
	assert.Len(t, e.received(t, e.surgeon.UserID, model.NotificationInvitationExpired), 1)
	assert.True(t, e.received(t, stale.UserID, model.NotificationStaffInvitation)[0].ActionTaken)

	n, err = e.svc.ExpireStale(ctx, 24*time.Hour, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTransitionsAreAudited(t *testing.T) {
	e, _ := newEnv(t)
	ctx := context.Background()
	nurse := e.newUser(model.RoleNurse, "Nurse Joy")
	a := e.inviteNurse(t, nurse)
	_, err := e.svc.Accept(ctx, nurse, a.ID)
	require.NoError(t, err)

	logs, err := e.store.Audit().ListForEntity(ctx, model.AuditEntityStaffAssignment, a.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	actions := []string{logs[0].Action, logs[1].Action}
	assert.ElementsMatch(t, []string{model.AuditActionInvite, model.AuditActionAccept}, actions)
}
