package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/repository"
)

type EventService struct {
	outboxRepo repository.OutboxRepository
	now        func() time.Time
}

func NewEventService(outboxRepo repository.OutboxRepository) *EventService {
	return &EventService{outboxRepo: outboxRepo, now: time.Now}
}

// Emit records an outbox event. Called with a transactional ctx the event
// commits or rolls back with the caller's writes. A nil id gets a fresh one.
func (s *EventService) Emit(ctx context.Context, eventType string, id uuid.UUID, payload interface{}) (*model.OutboxEvent, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if id == uuid.Nil {
		id = uuid.New()
	}

	now := s.now().UTC()
	event := &model.OutboxEvent{
		ID:        id,
		EventType: eventType,
		Payload:   payloadJSON,
		Status:    model.OutboxStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.outboxRepo.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to create outbox event: %w", err)
	}
	return event, nil
}

// MarkProcessed settles an event that was handled outside the processor.
func (s *EventService) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	if err := s.outboxRepo.UpdateStatus(ctx, id, model.OutboxStatusProcessed, nil, nil); err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	return nil
}
