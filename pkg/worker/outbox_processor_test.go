package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/repository/memory"
	"github.com/consentflow/consent-api/pkg/logger"
	"github.com/consentflow/consent-api/pkg/metrics"
)

type fakeDispatcher struct {
	calls int
	err   error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, _ *model.OutboxEvent) error {
	d.calls++
	return d.err
}

func newTestProcessor(t *testing.T, d Dispatcher) (*OutboxProcessor, *memory.Store, *metrics.Metrics) {
	t.Helper()
	store := memory.NewStore()
	m := metrics.NewNop()
	p := NewOutboxProcessor(store.Outbox(), store.Transactor(), d, OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		MaxRetries:    2,
	}, logger.Nop(), m)
	p.sleep = func(time.Duration) {}
	// Retries become due immediately.
	p.now = func() time.Time { return time.Now().UTC().Add(-time.Hour) }
	return p, store, m
}

func enqueue(t *testing.T, store *memory.Store, eventType string) *model.OutboxEvent {
	t.Helper()
	evt := &model.OutboxEvent{EventType: eventType, Payload: json.RawMessage(`{}`)}
	require.NoError(t, store.Outbox().Create(context.Background(), evt))
	return evt
}

func TestProcessOnceDelivers(t *testing.T) {
	d := &fakeDispatcher{}
	p, store, m := newTestProcessor(t, d)
	evt := enqueue(t, store, model.EventNotificationDeliver)

	n, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, d.calls)

	got, err := store.Outbox().GetByID(context.Background(), evt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusProcessed, got.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxEventsProcessed))

	n, err = p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessOnceRetriesThenFails(t *testing.T) {
	d := &fakeDispatcher{err: errors.New("redis unavailable")}
	p, store, m := newTestProcessor(t, d)
	evt := enqueue(t, store, model.EventNotificationDeliver)
	ctx := context.Background()

	_, err := p.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, d.calls)

	got, err := store.Outbox().GetByID(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusRetry, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "redis unavailable", *got.ErrorMessage)

	_, err = p.ProcessOnce(ctx)
	require.NoError(t, err)

	got, err = store.Outbox().GetByID(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusFailed, got.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxEventsFailed))
}

func TestUnknownEventFailsWithoutRetry(t *testing.T) {
	d := &fakeDispatcher{err: fmt.Errorf("%w: bogus", ErrUnknownEvent)}
	p, store, _ := newTestProcessor(t, d)
	evt := enqueue(t, store, "bogus")

	_, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, d.calls)

	got, err := store.Outbox().GetByID(context.Background(), evt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusFailed, got.Status)
}

func TestBackoffIsCapped(t *testing.T) {
	p, _, _ := newTestProcessor(t, &fakeDispatcher{})
	p.config.RetryDelay = time.Minute

	assert.Equal(t, time.Minute, p.backoff(0))
	assert.Equal(t, 4*time.Minute, p.backoff(2))
	assert.Equal(t, time.Hour, p.backoff(20))
}

func TestNewOutboxProcessorRejectsInvalidConfig(t *testing.T) {
	store := memory.NewStore()
	assert.Panics(t, func() {
		NewOutboxProcessor(store.Outbox(), store.Transactor(), &fakeDispatcher{}, OutboxProcessorConfig{}, logger.Nop(), metrics.NewNop())
	})
}

func TestAuditCleanupWorker(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	old := &model.AuditLog{EntityType: model.AuditEntityStaffAssignment, CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &model.AuditLog{EntityType: model.AuditEntityStaffAssignment, CreatedAt: time.Now()}
	require.NoError(t, store.Audit().Create(ctx, old))
	require.NoError(t, store.Audit().Create(ctx, fresh))

	w := NewAuditCleanupWorker(store.Audit(), 24*time.Hour, logger.Nop())
	n, err := w.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// storeWritingDispatcher fails every attempt and, on each attempt, writes to
// the store from another goroutine the way a concurrent API request would.
type storeWritingDispatcher struct {
	store   *memory.Store
	blocked int
}

func (d *storeWritingDispatcher) Dispatch(_ context.Context, _ *model.OutboxEvent) error {
	done := make(chan error, 1)
	go func() {
		done <- d.store.Notifications().Create(context.Background(), &model.Notification{
			ID:     uuid.New(),
			UserID: uuid.New(),
			Type:   model.NotificationPermissionChange,
			Title:  "concurrent write",
		})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		d.blocked++
	}
	return errors.New("redis unavailable")
}

func TestDispatchDoesNotBlockStoreWrites(t *testing.T) {
	store := memory.NewStore()
	d := &storeWritingDispatcher{store: store}
	p := NewOutboxProcessor(store.Outbox(), store.Transactor(), d, OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: 2,
		RetryDelay:    time.Minute,
		MaxRetries:    5,
	}, logger.Nop(), metrics.NewNop())
	p.sleep = func(time.Duration) {}
	for i := 0; i < 3; i++ {
		enqueue(t, store, model.EventNotificationDeliver)
	}

	_, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, d.blocked, "store writes waited on the processor")

	pending, err := store.Outbox().GetPendingEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "every event is scheduled for a later retry")
}

// settlingDispatcher marks the event processed itself, as a second worker
// would, and then reports a failure.
type settlingDispatcher struct {
	store *memory.Store
}

func (d *settlingDispatcher) Dispatch(ctx context.Context, event *model.OutboxEvent) error {
	if err := d.store.Outbox().UpdateStatus(ctx, event.ID, model.OutboxStatusProcessed, nil, nil); err != nil {
		return err
	}
	return errors.New("late failure")
}

func TestSettledEventIsNotOverwritten(t *testing.T) {
	p, store, _ := newTestProcessor(t, nil)
	p.dispatcher = &settlingDispatcher{store: store}
	evt := enqueue(t, store, model.EventNotificationDeliver)

	_, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)

	got, err := store.Outbox().GetByID(context.Background(), evt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusProcessed, got.Status)
	assert.Zero(t, got.RetryCount)
}
