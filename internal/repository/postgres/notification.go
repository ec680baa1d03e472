package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/repository"
)

const notificationColumns = `id, user_id, sender_id, type, title, message, data, read,
		action_type, action_data, action_taken, action_taken_at, created_at`

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

// Create inserts n. Re-inserting an existing id is a no-op so redelivery from
// the outbox never duplicates a message.
func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	query := `
		INSERT INTO notifications (
			id, user_id, sender_id, type, title, message, data, read,
			action_type, action_data, action_taken, action_taken_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.conn(ctx).ExecContext(ctx, query,
		n.ID,
		n.UserID,
		n.SenderID,
		n.Type,
		n.Title,
		n.Message,
		n.Data,
		n.Read,
		n.ActionType,
		n.ActionData,
		n.ActionTaken,
		n.ActionTakenAt,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	var n model.Notification
	if err := sqlx.GetContext(ctx, r.conn(ctx), &n, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &n, nil
}

func (r *notificationRepository) List(ctx context.Context, userID uuid.UUID, direction model.Direction, limit int) ([]*model.Notification, error) {
	var where string
	switch direction {
	case model.DirectionSent:
		where = "sender_id = $1"
	case model.DirectionAll:
		where = "(user_id = $1 OR sender_id = $1)"
	default:
		where = "user_id = $1"
	}

	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE ` + where + `
		ORDER BY created_at DESC
		LIMIT $2
	`
	var rows []*model.Notification
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &rows, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return rows, nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = false`

	var count int
	if err := sqlx.GetContext(ctx, r.conn(ctx), &count, query, userID); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	query := `
		UPDATE notifications
		SET read = true
		WHERE user_id = $1 AND id = ANY($2::uuid[]) AND read = false
	`
	return r.exec(ctx, "mark notifications read", query, userID, pq.Array(ids))
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `UPDATE notifications SET read = true WHERE user_id = $1 AND read = false`
	return r.exec(ctx, "mark all notifications read", query, userID)
}

func (r *notificationRepository) Delete(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	query := `DELETE FROM notifications WHERE user_id = $1 AND id = ANY($2::uuid[])`
	return r.exec(ctx, "delete notifications", query, userID, pq.Array(ids))
}

func (r *notificationRepository) DeleteAllReceived(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `DELETE FROM notifications WHERE user_id = $1`
	return r.exec(ctx, "clear notifications", query, userID)
}

// MarkActionTaken closes every open action of filter.ActionType addressed to
// filter.UserID whose action_data contains filter.Contains.
func (r *notificationRepository) MarkActionTaken(ctx context.Context, filter model.ActionFilter, at time.Time) (int64, error) {
	contains := filter.Contains
	if contains == nil {
		contains = model.JSONMap{}
	}
	query := `
		UPDATE notifications
		SET action_taken = true, action_taken_at = $3, read = true
		WHERE user_id = $1
			AND action_type = $2
			AND action_taken = false
			AND action_data @> $4::jsonb
	`
	return r.exec(ctx, "mark notification action taken", query, filter.UserID, filter.ActionType, at, contains)
}

func (r *notificationRepository) exec(ctx context.Context, op, query string, args ...interface{}) (int64, error) {
	result, err := r.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}
