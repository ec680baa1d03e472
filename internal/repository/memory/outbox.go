package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/repository"
)

type outboxRepository struct {
	s *Store
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	now := r.s.now()
	event.CreatedAt = now
	event.UpdatedAt = now
	event.Status = model.OutboxStatusPending

	return r.s.write(ctx, func(st *state) error {
		for _, have := range st.outbox {
			if have.ID == event.ID {
				return fmt.Errorf("%w: outbox_events_pkey", repository.ErrConflict)
			}
		}
		st.outbox = append(st.outbox, cloneEvent(event))
		return nil
	})
}

func (r *outboxRepository) GetByID(_ context.Context, id uuid.UUID) (*model.OutboxEvent, error) {
	var out *model.OutboxEvent
	err := r.s.read(func(st *state) error {
		for _, e := range st.outbox {
			if e.ID == id {
				out = cloneEvent(e)
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r *outboxRepository) GetPendingEvents(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	now := r.s.now()
	var out []*model.OutboxEvent
	err := r.s.read(func(st *state) error {
		for _, e := range st.outbox {
			if e.Status != model.OutboxStatusPending && e.Status != model.OutboxStatusRetry {
				continue
			}
			if e.RetryAt != nil && e.RetryAt.After(now) {
				continue
			}
			out = append(out, cloneEvent(e))
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *outboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	now := r.s.now()
	return r.s.write(ctx, func(st *state) error {
		for _, e := range st.outbox {
			if e.ID != id {
				continue
			}
			e.Status = status
			e.ErrorMessage = copyString(errorMessage)
			e.RetryAt = copyTime(retryAt)
			if status == model.OutboxStatusRetry || status == model.OutboxStatusFailed {
				e.RetryCount++
			}
			if status == model.OutboxStatusProcessed {
				e.ProcessedAt = &now
			}
			e.UpdatedAt = now
			return nil
		}
		return repository.ErrNotFound
	})
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	var affected int64
	err := r.s.write(ctx, func(st *state) error {
		kept := st.outbox[:0]
		for _, e := range st.outbox {
			if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
				affected++
				continue
			}
			kept = append(kept, e)
		}
		st.outbox = kept
		return nil
	})
	return affected, err
}

func cloneEvent(e *model.OutboxEvent) *model.OutboxEvent {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	c.ErrorMessage = copyString(e.ErrorMessage)
	c.ProcessedAt = copyTime(e.ProcessedAt)
	c.RetryAt = copyTime(e.RetryAt)
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
