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
	"github.com/consentflow/consent-api/internal/repository"
)

func TestAddReviewItemDuplicateIsNoop(t *testing.T) {
	base, mock := newMockBase(t)
	repo := NewConsentRepository(base)

	item := &model.ConsentReviewItem{
		ID:         uuid.New(),
		ConsentID:  uuid.New(),
		ReviewArea: "quiz",
		ReviewedBy: uuid.New(),
		ReviewedAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO consent_review_items(.+)ON CONFLICT \\(consent_id, review_area\\) DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO consent_review_items").
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.AddReviewItem(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.AddReviewItem(context.Background(), item)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkValidCompareAndSet(t *testing.T) {
	base, mock := newMockBase(t)
	repo := NewConsentRepository(base)

	id, reviewer := uuid.New(), uuid.New()
	at := time.Now()

	mock.ExpectQuery("UPDATE patient_consents(.+)WHERE id = \\$1 AND status = \\$2").
		WithArgs(id, model.ConsentUnderReview, reviewer, at).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.MarkValid(context.Background(), id, model.ConsentUnderReview, reviewer, at)
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSectionsOrdered(t *testing.T) {
	base, mock := newMockBase(t)
	repo := NewConsentRepository(base)

	procID := uuid.New()
	rows := sqlmock.NewRows([]string{"id", "surgeon_procedure_id", "title", "section_type", "sort_order"}).
		AddRow(uuid.NewString(), procID.String(), "Risks", "risks", 1).
		AddRow(uuid.NewString(), procID.String(), "Benefits", "benefits", 2)
	mock.ExpectQuery("FROM consent_sections(.+)ORDER BY sort_order ASC").
		WithArgs(procID).
		WillReturnRows(rows)

	sections, err := repo.ListSections(context.Background(), procID)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, "risks", sections[0].SectionType)
	assert.NoError(t, mock.ExpectationsWereMet())
}
