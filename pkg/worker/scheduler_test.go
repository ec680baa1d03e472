package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/repository/memory"
	"github.com/consentflow/consent-api/pkg/logger"
)

func TestSchedulerRegistration(t *testing.T) {
	s := NewScheduler(logger.Nop(), time.Second)
	ran := 0
	job := func(context.Context) error { ran++; return nil }

	require.NoError(t, s.Add("expire", "@hourly", job))
	assert.Error(t, s.Add("expire", "@daily", job), "duplicate name")
	assert.Error(t, s.Add("broken", "not a spec", job))
	assert.Error(t, s.RunNow(context.Background(), "broken"), "failed registration is not kept")

	require.NoError(t, s.RunNow(context.Background(), "expire"))
	assert.Equal(t, 1, ran)
	assert.Error(t, s.RunNow(context.Background(), "missing"))
}

func TestSchedulerRunSwallowsErrors(t *testing.T) {
	s := NewScheduler(logger.Nop(), 10*time.Millisecond)
	var deadline bool
	s.run("slow", func(ctx context.Context) error {
		_, deadline = ctx.Deadline()
		return errors.New("boom")
	})
	assert.True(t, deadline)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Error(t, s.ctx.Err(), "job context cancelled on stop")
}

func TestAuditCleanup(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.Audit().Create(ctx, &model.AuditLog{ID: uuid.New(), Action: "invite", EntityID: uuid.New(), CreatedAt: now.Add(-48 * time.Hour)}))
	fresh := &model.AuditLog{ID: uuid.New(), Action: "accept", EntityType: model.AuditEntityStaffAssignment, EntityID: uuid.New(), CreatedAt: now}
	require.NoError(t, store.Audit().Create(ctx, fresh))

	w := NewAuditCleanupWorker(store.Audit(), 24*time.Hour, logger.Nop())
	n, err := w.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := store.Audit().ListForEntity(ctx, model.AuditEntityStaffAssignment, fresh.EntityID)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}
