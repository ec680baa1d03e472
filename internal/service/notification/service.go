package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/email"
	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/repository"
	"github.com/consentflow/consent-api/internal/service/event"
	apperrors "github.com/consentflow/consent-api/pkg/errors"
	"github.com/consentflow/consent-api/pkg/logger"
	"github.com/consentflow/consent-api/pkg/messaging"
	"github.com/consentflow/consent-api/pkg/metrics"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 200
)

type Config struct {
	DefaultLimit int
	MaxLimit     int
	// EmailActionable mirrors notifications that carry an action by email.
	EmailActionable bool
}

// Channel is the realtime channel a user's notifications are published on.
func Channel(userID uuid.UUID) string {
	return "notifications:" + userID.String()
}

type Service struct {
	repo     repository.NotificationRepository
	users    repository.UserRepository
	events   *event.EventService
	broker   messaging.Broker
	emailSvc email.Service
	config   Config
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(
	repo repository.NotificationRepository,
	users repository.UserRepository,
	events *event.EventService,
	broker messaging.Broker,
	emailSvc email.Service,
	config Config,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = DefaultListLimit
	}
	if config.MaxLimit < config.DefaultLimit {
		config.MaxLimit = config.DefaultLimit
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{
		repo:     repo,
		users:    users,
		events:   events,
		broker:   broker,
		emailSvc: emailSvc,
		config:   config,
		log:      log.Named("notifications"),
		metrics:  m,
		now:      time.Now,
	}
}

// Register routes outbox delivery events to the service.
func (s *Service) Register(r *event.Registry) {
	r.Register(model.EventNotificationDeliver, s.handleOutboxEvent)
}

// Enqueue validates n and records it for delivery. Called with a
// transactional ctx, the record commits with the caller's writes; nothing is
// visible to the recipient until Deliver or the outbox processor runs.
func (s *Service) Enqueue(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	if err := validate(n); err != nil {
		return nil, err
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	if _, err := s.events.Emit(ctx, model.EventNotificationDeliver, n.ID, n); err != nil {
		s.metrics.NotificationFailures.WithLabelValues("enqueue").Inc()
		return nil, apperrors.Store("enqueue notification", err)
	}
	return n, nil
}

// Send enqueues and immediately delivers n. Only a failure to record the
// notification is returned; delivery problems are left to the outbox.
func (s *Service) Send(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	n, err := s.Enqueue(ctx, n)
	if err != nil {
		return nil, err
	}
	s.Flush(ctx, n)
	return n, nil
}

// Flush delivers notifications enqueued by a committed transaction. Failures
// are logged; the outbox processor retries them.
func (s *Service) Flush(ctx context.Context, ns ...*model.Notification) {
	for _, n := range ns {
		if n == nil {
			continue
		}
		if err := s.Deliver(ctx, n); err != nil {
			s.log.Error(err, "notification delivery deferred to outbox",
				"notification_id", n.ID.String(),
				"type", string(n.Type),
				"user_id", n.UserID.String(),
			)
		}
	}
}

// Deliver persists n for its recipient, pushes a realtime hint and settles
// its outbox record. Delivery is idempotent by notification id.
func (s *Service) Deliver(ctx context.Context, n *model.Notification) error {
	if err := s.deliver(ctx, n); err != nil {
		return err
	}
	if err := s.events.MarkProcessed(ctx, n.ID); err != nil {
		s.metrics.NotificationFailures.WithLabelValues("outbox").Inc()
		// The processor will redeliver; the insert is a no-op the second time.
		s.log.Warn("failed to settle notification outbox event",
			"notification_id", n.ID.String(),
			"error", err.Error(),
		)
	}
	return nil
}

func (s *Service) handleOutboxEvent(ctx context.Context, evt *model.OutboxEvent) error {
	var n model.Notification
	if err := json.Unmarshal(evt.Payload, &n); err != nil {
		return fmt.Errorf("failed to decode notification payload: %w", err)
	}
	return s.deliver(ctx, &n)
}

func (s *Service) deliver(ctx context.Context, n *model.Notification) error {
	if err := s.repo.Create(ctx, n); err != nil {
		s.metrics.NotificationFailures.WithLabelValues("store").Inc()
		return fmt.Errorf("failed to store notification %s: %w", n.ID, err)
	}
	s.metrics.NotificationsSent.WithLabelValues(string(n.Type)).Inc()

	if err := s.broker.Publish(ctx, Channel(n.UserID), Event{Kind: EventNotification, Notification: n}); err != nil {
		s.metrics.NotificationFailures.WithLabelValues("publish").Inc()
		s.log.Warn("failed to publish realtime notification",
			"notification_id", n.ID.String(),
			"user_id", n.UserID.String(),
			"error", err.Error(),
		)
	}

	if s.config.EmailActionable && n.ActionType != nil {
		s.mirrorEmail(ctx, n)
	}
	return nil
}

func (s *Service) mirrorEmail(ctx context.Context, n *model.Notification) {
	user, err := s.users.GetByID(ctx, n.UserID)
	if err == nil {
		err = s.emailSvc.SendNotification(ctx, user.Email, n.Title, n.Message)
	}
	if err != nil {
		s.metrics.NotificationFailures.WithLabelValues("email").Inc()
		s.log.Warn("failed to mirror notification by email",
			"notification_id", n.ID.String(),
			"error", err.Error(),
		)
	}
}

// List returns notifications newest first. limit <= 0 selects the default
// and values above the maximum are clamped.
func (s *Service) List(ctx context.Context, userID uuid.UUID, direction model.Direction, limit int) ([]*model.Notification, error) {
	if direction == "" {
		direction = model.DirectionReceived
	}
	if !direction.Valid() {
		return nil, apperrors.Validation("invalid direction", string(direction))
	}
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}

	out, err := s.repo.List(ctx, userID, direction, limit)
	if err != nil {
		return nil, apperrors.Store("list notifications", err)
	}
	return out, nil
}

// Get returns a notification the user sent or received.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*model.Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFoundf("notification not found")
	}
	if err != nil {
		return nil, apperrors.Store("get notification", err)
	}
	if n.UserID != userID && (n.SenderID == nil || *n.SenderID != userID) {
		return nil, apperrors.NotFoundf("notification not found")
	}
	return n, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, apperrors.Store("count unread notifications", err)
	}
	return n, nil
}

func (s *Service) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, apperrors.Validation("no notification ids given")
	}
	n, err := s.repo.MarkRead(ctx, userID, ids)
	if err != nil {
		return 0, apperrors.Store("mark notifications read", err)
	}
	return n, nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, apperrors.Store("mark notifications read", err)
	}
	return n, nil
}

// Delete removes the given notifications the user received. Ids of sent
// notifications are ignored.
func (s *Service) Delete(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, apperrors.Validation("no notification ids given")
	}
	n, err := s.repo.Delete(ctx, userID, ids)
	if err != nil {
		return 0, apperrors.Store("delete notifications", err)
	}
	return n, nil
}

// ClearAll removes every notification the user received.
func (s *Service) ClearAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.repo.DeleteAllReceived(ctx, userID)
	if err != nil {
		return 0, apperrors.Store("clear notifications", err)
	}
	return n, nil
}

func validate(n *model.Notification) error {
	if n == nil {
		return apperrors.Validation("notification is required")
	}
	var missing []string
	if n.UserID == uuid.Nil {
		missing = append(missing, "user_id")
	}
	if !n.Type.Valid() {
		missing = append(missing, "type")
	}
	if n.Title == "" {
		missing = append(missing, "title")
	}
	if len(missing) > 0 {
		return apperrors.Validation("invalid notification", missing...)
	}
	return nil
}
