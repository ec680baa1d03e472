package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consentflow/consent-api/internal/model"
)

var notificationRowColumns = []string{
	"id", "user_id", "sender_id", "type", "title", "message", "data", "read",
	"action_type", "action_data", "action_taken", "action_taken_at", "created_at",
}

func TestNotificationCreateIsIdempotent(t *testing.T) {
	base, mock := newMockBase(t)
	repo := NewNotificationRepository(base)

	mock.ExpectExec("INSERT INTO notifications(.+)ON CONFLICT \\(id\\) DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	action := model.ActionAcceptInvitation
	err := repo.Create(context.Background(), &model.Notification{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		Type:       model.NotificationStaffInvitation,
		Title:      "Staff Invitation",
		ActionType: &action,
		ActionData: model.JSONMap{"surgeon_id": uuid.NewString()},
		CreatedAt:  time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationListDirections(t *testing.T) {
	tests := []struct {
		direction model.Direction
		where     string
	}{
		{model.DirectionReceived, "WHERE user_id = \\$1"},
		{model.DirectionSent, "WHERE sender_id = \\$1"},
		{model.DirectionAll, "WHERE \\(user_id = \\$1 OR sender_id = \\$1\\)"},
	}

	for _, tt := range tests {
		t.Run(string(tt.direction), func(t *testing.T) {
			base, mock := newMockBase(t)
			repo := NewNotificationRepository(base)
			userID := uuid.New()

			rows := sqlmock.NewRows(notificationRowColumns).AddRow(
				uuid.NewString(), userID.String(), nil, "access_revoked", "Access Revoked", "gone",
				[]byte(`{"surgeon_id":"x"}`), false, nil, nil, false, nil, time.Now(),
			)
			mock.ExpectQuery(tt.where + "(.+)ORDER BY created_at DESC").
				WithArgs(userID, 20).
				WillReturnRows(rows)

			got, err := repo.List(context.Background(), userID, tt.direction, 20)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "x", got[0].Data.String("surgeon_id"))
			assert.Nil(t, got[0].ActionType)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestNotificationDeleteScopedToRecipient(t *testing.T) {
	base, mock := newMockBase(t)
	repo := NewNotificationRepository(base)

	userID := uuid.New()
	mock.ExpectExec("DELETE FROM notifications WHERE user_id = \\$1 AND id = ANY\\(\\$2::uuid\\[\\]\\)").
		WithArgs(userID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.Delete(context.Background(), userID, []uuid.UUID{uuid.New(), uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationMarkActionTakenUsesContains(t *testing.T) {
	base, mock := newMockBase(t)
	repo := NewNotificationRepository(base)

	userID, surgeonID := uuid.New(), uuid.New()
	at := time.Now()
	mock.ExpectExec("SET action_taken = true, action_taken_at = \\$3, read = true(.+)action_data @> \\$4::jsonb").
		WithArgs(userID, model.ActionAcceptInvitation, at, `{"surgeon_id":"`+surgeonID.String()+`"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.MarkActionTaken(context.Background(), model.ActionFilter{
		UserID:     userID,
		ActionType: model.ActionAcceptInvitation,
		Contains:   model.JSONMap{"surgeon_id": surgeonID.String()},
	}, at)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationCountUnread(t *testing.T) {
	base, mock := newMockBase(t)
	repo := NewNotificationRepository(base)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM notifications WHERE user_id = \\$1 AND read = false").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountUnread(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
