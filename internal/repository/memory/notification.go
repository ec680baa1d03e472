package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/repository"
)

type notificationRepository struct {
	s *Store
}

// Create inserts n unless a notification with the same id already exists.
func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	return r.s.write(ctx, func(st *state) error {
		for _, have := range st.notifications {
			if have.ID == n.ID {
				return nil
			}
		}
		st.notifications = append(st.notifications, cloneNotification(n))
		return nil
	})
}

func (r *notificationRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Notification, error) {
	var out *model.Notification
	err := r.s.read(func(st *state) error {
		for _, n := range st.notifications {
			if n.ID == id {
				out = cloneNotification(n)
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r *notificationRepository) List(_ context.Context, userID uuid.UUID, direction model.Direction, limit int) ([]*model.Notification, error) {
	received := func(n *model.Notification) bool { return n.UserID == userID }
	sent := func(n *model.Notification) bool { return n.SenderID != nil && *n.SenderID == userID }

	var match func(*model.Notification) bool
	switch direction {
	case model.DirectionSent:
		match = sent
	case model.DirectionAll:
		match = func(n *model.Notification) bool { return received(n) || sent(n) }
	default:
		match = received
	}

	var out []*model.Notification
	err := r.s.read(func(st *state) error {
		for _, n := range newestFirst(st.notifications, notificationCreated) {
			if limit > 0 && len(out) >= limit {
				break
			}
			if match(n) {
				out = append(out, cloneNotification(n))
			}
		}
		return nil
	})
	return out, err
}

func (r *notificationRepository) CountUnread(_ context.Context, userID uuid.UUID) (int, error) {
	count := 0
	err := r.s.read(func(st *state) error {
		for _, n := range st.notifications {
			if n.UserID == userID && !n.Read {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (r *notificationRepository) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	want := idSet(ids)
	return r.update(ctx, func(n *model.Notification) bool {
		if n.UserID != userID || n.Read || !want[n.ID] {
			return false
		}
		n.Read = true
		return true
	})
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return r.update(ctx, func(n *model.Notification) bool {
		if n.UserID != userID || n.Read {
			return false
		}
		n.Read = true
		return true
	})
}

func (r *notificationRepository) Delete(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	want := idSet(ids)
	return r.remove(ctx, func(n *model.Notification) bool {
		return n.UserID == userID && want[n.ID]
	})
}

func (r *notificationRepository) DeleteAllReceived(ctx context.Context, userID uuid.UUID) (int64, error) {
	return r.remove(ctx, func(n *model.Notification) bool { return n.UserID == userID })
}

func (r *notificationRepository) MarkActionTaken(ctx context.Context, filter model.ActionFilter, at time.Time) (int64, error) {
	return r.update(ctx, func(n *model.Notification) bool {
		if n.UserID != filter.UserID || n.ActionTaken || n.ActionType == nil || *n.ActionType != filter.ActionType {
			return false
		}
		if !contains(n.ActionData, filter.Contains) {
			return false
		}
		t := at
		n.ActionTaken = true
		n.ActionTakenAt = &t
		n.Read = true
		return true
	})
}

func (r *notificationRepository) update(ctx context.Context, mutate func(*model.Notification) bool) (int64, error) {
	var affected int64
	err := r.s.write(ctx, func(st *state) error {
		for _, n := range st.notifications {
			if mutate(n) {
				affected++
			}
		}
		return nil
	})
	return affected, err
}

func (r *notificationRepository) remove(ctx context.Context, match func(*model.Notification) bool) (int64, error) {
	var affected int64
	err := r.s.write(ctx, func(st *state) error {
		kept := st.notifications[:0]
		for _, n := range st.notifications {
			if match(n) {
				affected++
				continue
			}
			kept = append(kept, n)
		}
		st.notifications = kept
		return nil
	})
	return affected, err
}

// contains reports whether every key of sub is present in m with an equal
// JSON value.
func contains(m, sub model.JSONMap) bool {
	for k, want := range sub {
		have, ok := m[k]
		if !ok {
			return false
		}
		a, errA := json.Marshal(have)
		b, errB := json.Marshal(want)
		if errA != nil || errB != nil || !bytes.Equal(a, b) {
			return false
		}
	}
	return true
}

func idSet(ids []uuid.UUID) map[uuid.UUID]bool {
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func notificationCreated(n *model.Notification) time.Time { return n.CreatedAt }

func cloneNotification(n *model.Notification) *model.Notification {
	c := *n
	c.Data = cloneMap(n.Data)
	c.ActionData = cloneMap(n.ActionData)
	if n.SenderID != nil {
		v := *n.SenderID
		c.SenderID = &v
	}
	if n.ActionType != nil {
		v := *n.ActionType
		c.ActionType = &v
	}
	if n.ActionTakenAt != nil {
		v := *n.ActionTakenAt
		c.ActionTakenAt = &v
	}
	return &c
}

func cloneMap(m model.JSONMap) model.JSONMap {
	if m == nil {
		return nil
	}
	c := make(model.JSONMap, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
