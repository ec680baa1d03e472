package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/repository"
	"github.com/consentflow/consent-api/internal/repository/memory"
	"github.com/consentflow/consent-api/internal/service/event"
	apperrors "github.com/consentflow/consent-api/pkg/errors"
	"github.com/consentflow/consent-api/pkg/logger"
	"github.com/consentflow/consent-api/pkg/messaging"
	"github.com/consentflow/consent-api/pkg/metrics"
)

type sentEmail struct{ to, subject, body string }

type fakeEmail struct {
	sent []sentEmail
	err  error
}

func (f *fakeEmail) SendNotification(_ context.Context, to, subject, body string) error {
	f.sent = append(f.sent, sentEmail{to, subject, body})
	return f.err
}

type fixture struct {
	store   *memory.Store
	broker  *messaging.LocalBroker
	email   *fakeEmail
	metrics *metrics.Metrics
	svc     *Service
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.NewStore(),
		broker:  messaging.NewLocalBroker(8),
		email:   &fakeEmail{},
		metrics: metrics.NewNop(),
	}
	t.Cleanup(func() { _ = f.broker.Close() })
	f.svc = NewService(
		f.store.Notifications(),
		f.store.Users(),
		event.NewEventService(f.store.Outbox()),
		f.broker,
		f.email,
		cfg,
		logger.Nop(),
		f.metrics,
	)
	return f
}

func (f *fixture) user(t *testing.T, role model.UserRole) *model.User {
	t.Helper()
	return f.store.AddUser(&model.User{Email: uuid.NewString() + "@example.com", Role: role})
}

func note(to uuid.UUID, from *uuid.UUID, typ model.NotificationType) *model.Notification {
	return &model.Notification{UserID: to, SenderID: from, Type: typ, Title: "Title", Message: "Message"}
}

func TestEnqueueValidates(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.svc.Enqueue(context.Background(), &model.Notification{Type: "bogus"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, []string{"user_id", "type", "title"}, appErr.Details)
}

func TestEnqueueRollsBackWithTransaction(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	u := f.user(t, model.RoleNurse)

	var n *model.Notification
	boom := errors.New("boom")
	err := f.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = f.svc.Enqueue(ctx, note(u.ID, nil, model.NotificationAccessRevoked))
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = f.store.Outbox().GetByID(ctx, n.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSendPersistsAndSettlesOutbox(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	surgeon, nurse := f.user(t, model.RoleSurgeon), f.user(t, model.RoleNurse)

	n, err := f.svc.Send(ctx, note(nurse.ID, &surgeon.ID, model.NotificationPermissionChange))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, n.ID)

	got, err := f.svc.Get(ctx, nurse.ID, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationPermissionChange, got.Type)

	_, err = f.svc.Get(ctx, surgeon.ID, n.ID)
	require.NoError(t, err, "sender can read what they sent")
	_, err = f.svc.Get(ctx, uuid.New(), n.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	evt, err := f.store.Outbox().GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusProcessed, evt.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NotificationsSent.WithLabelValues("permission_change")))
}

type failingNotifications struct {
	repository.NotificationRepository
}

func (failingNotifications) Create(context.Context, *model.Notification) error {
	return errors.New("connection reset")
}

func (failingNotifications) List(context.Context, uuid.UUID, model.Direction, int) ([]*model.Notification, error) {
	return nil, errors.New("connection reset")
}

func TestSendSucceedsWhenDeliveryFails(t *testing.T) {
	f := newFixture(t, Config{})
	f.svc.repo = failingNotifications{f.store.Notifications()}
	ctx := context.Background()
	u := f.user(t, model.RoleNurse)

	n, err := f.svc.Send(ctx, note(u.ID, nil, model.NotificationAccessRevoked))
	require.NoError(t, err)

	evt, err := f.store.Outbox().GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusPending, evt.Status, "left for the outbox processor")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NotificationFailures.WithLabelValues("store")))

	// The processor path redelivers from the payload once the store recovers.
	f.svc.repo = f.store.Notifications()
	registry := event.NewRegistry()
	f.svc.Register(registry)
	require.NoError(t, registry.Dispatch(ctx, evt))
	require.NoError(t, registry.Dispatch(ctx, evt), "redelivery is idempotent")

	list, err := f.svc.List(ctx, u.ID, model.DirectionReceived, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, n.ID, list[0].ID)
}

func TestListDirectionsAndLimits(t *testing.T) {
	f := newFixture(t, Config{DefaultLimit: 2, MaxLimit: 3})
	ctx := context.Background()
	a, b := f.user(t, model.RoleSurgeon), f.user(t, model.RoleNurse)

	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		n := note(b.ID, &a.ID, model.NotificationPermissionChange)
		n.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_, err := f.svc.Send(ctx, n)
		require.NoError(t, err)
	}
	reply := note(a.ID, &b.ID, model.NotificationInvitationAccepted)
	reply.CreatedAt = base.Add(time.Hour)
	_, err := f.svc.Send(ctx, reply)
	require.NoError(t, err)

	received, err := f.svc.List(ctx, b.ID, "", 0)
	require.NoError(t, err)
	require.Len(t, received, 2)
	assert.True(t, received[0].CreatedAt.After(received[1].CreatedAt), "newest first")

	received, err = f.svc.List(ctx, b.ID, model.DirectionReceived, 50)
	require.NoError(t, err)
	assert.Len(t, received, 3, "clamped to max")

	sent, err := f.svc.List(ctx, b.ID, model.DirectionSent, 10)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, reply.ID, sent[0].ID)

	all, err := f.svc.List(ctx, b.ID, model.DirectionAll, 3)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, reply.ID, all[0].ID)

	_, err = f.svc.List(ctx, b.ID, "outbox", 10)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestListStoreFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.svc.repo = failingNotifications{f.store.Notifications()}

	list, err := f.svc.List(context.Background(), uuid.New(), model.DirectionReceived, 10)
	assert.Nil(t, list)
	assert.True(t, apperrors.Is(err, apperrors.ErrStore))
}

func TestReadAndDeleteAreRecipientScoped(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	a, b := f.user(t, model.RoleSurgeon), f.user(t, model.RoleNurse)

	toB, err := f.svc.Send(ctx, note(b.ID, &a.ID, model.NotificationPermissionChange))
	require.NoError(t, err)
	toB2, err := f.svc.Send(ctx, note(b.ID, &a.ID, model.NotificationAccessRevoked))
	require.NoError(t, err)
	toA, err := f.svc.Send(ctx, note(a.ID, &b.ID, model.NotificationInvitationAccepted))
	require.NoError(t, err)

	count, err := f.svc.UnreadCount(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	n, err := f.svc.MarkRead(ctx, b.ID, []uuid.UUID{toB.ID, toA.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err = f.svc.UnreadCount(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// b sent toA; the sender side is read only.
	n, err = f.svc.Delete(ctx, b.ID, []uuid.UUID{toA.ID})
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = f.svc.Get(ctx, a.ID, toA.ID)
	require.NoError(t, err)

	_, err = f.svc.Delete(ctx, b.ID, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	n, err = f.svc.MarkAllRead(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = f.svc.ClearAll(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = f.svc.Get(ctx, b.ID, toB2.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	_, err = f.svc.Get(ctx, a.ID, toA.ID)
	assert.NoError(t, err)
}

func TestEmailMirrorForActionableOnly(t *testing.T) {
	f := newFixture(t, Config{EmailActionable: true})
	ctx := context.Background()
	u := f.user(t, model.RoleNurse)

	_, err := f.svc.Send(ctx, note(u.ID, nil, model.NotificationAccessRevoked))
	require.NoError(t, err)
	assert.Empty(t, f.email.sent)

	action := model.ActionAcceptInvitation
	invite := note(u.ID, nil, model.NotificationStaffInvitation)
	invite.ActionType = &action
	_, err = f.svc.Send(ctx, invite)
	require.NoError(t, err)
	require.Len(t, f.email.sent, 1)
	assert.Equal(t, u.Email, f.email.sent[0].to)
	assert.Equal(t, "Title", f.email.sent[0].subject)

	f.email.err = errors.New("smtp down")
	again := note(u.ID, nil, model.NotificationStaffInvitation)
	again.ActionType = &action
	_, err = f.svc.Send(ctx, again)
	require.NoError(t, err, "email failures never fail the send")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NotificationFailures.WithLabelValues("email")))
}

func nextEvent(t *testing.T, sub *Subscription) (Event, bool) {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		return evt, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for realtime event")
		return Event{}, false
	}
}

func TestSubscribeReceivesAndResyncs(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	u := f.user(t, model.RoleNurse)

	sub, err := f.svc.subscribe(ctx, u.ID, func() backoff.BackOff { return &backoff.ZeroBackOff{} })
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ActiveSubscriptions))

	n, err := f.svc.Send(ctx, note(u.ID, nil, model.NotificationAccessRevoked))
	require.NoError(t, err)

	evt, ok := nextEvent(t, sub)
	require.True(t, ok)
	assert.Equal(t, EventNotification, evt.Kind)
	require.NotNil(t, evt.Notification)
	assert.Equal(t, n.ID, evt.Notification.ID)

	f.broker.Drop(Channel(u.ID))
	evt, ok = nextEvent(t, sub)
	require.True(t, ok)
	assert.Equal(t, EventResync, evt.Kind)

	// Still live after reconnecting.
	_, err = f.svc.Send(ctx, note(u.ID, nil, model.NotificationPermissionChange))
	require.NoError(t, err)
	evt, ok = nextEvent(t, sub)
	require.True(t, ok)
	assert.Equal(t, EventNotification, evt.Kind)

	sub.Close()
	sub.Close()
	_, ok = <-sub.Events()
	assert.False(t, ok)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ActiveSubscriptions))
}

func TestSubscribeFailsOnClosedBroker(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.broker.Close())

	_, err := f.svc.Subscribe(context.Background(), uuid.New())
	assert.ErrorIs(t, err, messaging.ErrClosed)
}
