package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/repository"
)

const consentColumns = `id, patient_id, surgeon_id, surgeon_procedure_id, status,
		patient_completed_at, reviewed_at, reviewed_by, created_at, updated_at`

type consentRepository struct {
	BaseRepository
}

func NewConsentRepository(base BaseRepository) repository.ConsentRepository {
	return &consentRepository{base}
}

func (r *consentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.PatientConsent, error) {
	query := `SELECT ` + consentColumns + ` FROM patient_consents WHERE id = $1`

	var c model.PatientConsent
	if err := sqlx.GetContext(ctx, r.conn(ctx), &c, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get consent: %w", err)
	}
	return &c, nil
}

func (r *consentRepository) ListSections(ctx context.Context, surgeonProcedureID uuid.UUID) ([]*model.ConsentSection, error) {
	query := `
		SELECT id, surgeon_procedure_id, title, section_type, sort_order
		FROM consent_sections
		WHERE surgeon_procedure_id = $1
		ORDER BY sort_order ASC
	`
	var sections []*model.ConsentSection
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &sections, query, surgeonProcedureID); err != nil {
		return nil, fmt.Errorf("failed to list consent sections: %w", err)
	}
	return sections, nil
}

func (r *consentRepository) CountAcknowledgments(ctx context.Context, surgeonProcedureID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM consent_acknowledgments WHERE surgeon_procedure_id = $1`

	var count int
	if err := sqlx.GetContext(ctx, r.conn(ctx), &count, query, surgeonProcedureID); err != nil {
		return 0, fmt.Errorf("failed to count acknowledgments: %w", err)
	}
	return count, nil
}

func (r *consentRepository) ListChatSessions(ctx context.Context, consentID uuid.UUID) ([]*model.ChatSession, error) {
	query := `
		SELECT id, consent_id, section_key, started_at, resolved_at
		FROM consent_chat_sessions
		WHERE consent_id = $1
		ORDER BY started_at ASC
	`
	var sessions []*model.ChatSession
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &sessions, query, consentID); err != nil {
		return nil, fmt.Errorf("failed to list chat sessions: %w", err)
	}
	return sessions, nil
}

func (r *consentRepository) ListReviewItems(ctx context.Context, consentID uuid.UUID) ([]*model.ConsentReviewItem, error) {
	query := `
		SELECT id, consent_id, review_area, reviewed_by, reviewed_at
		FROM consent_review_items
		WHERE consent_id = $1
		ORDER BY reviewed_at ASC
	`
	var items []*model.ConsentReviewItem
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &items, query, consentID); err != nil {
		return nil, fmt.Errorf("failed to list review items: %w", err)
	}
	return items, nil
}

func (r *consentRepository) AddReviewItem(ctx context.Context, item *model.ConsentReviewItem) (bool, error) {
	query := `
		INSERT INTO consent_review_items (id, consent_id, review_area, reviewed_by, reviewed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (consent_id, review_area) DO NOTHING
	`
	result, err := r.conn(ctx).ExecContext(ctx, query,
		item.ID, item.ConsentID, item.ReviewArea, item.ReviewedBy, item.ReviewedAt)
	if err != nil {
		return false, fmt.Errorf("failed to add review item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

func (r *consentRepository) MarkValid(ctx context.Context, id uuid.UUID, from model.ConsentStatus, reviewedBy uuid.UUID, at time.Time) (*model.PatientConsent, error) {
	query := `
		UPDATE patient_consents
		SET status = 'valid', reviewed_at = $4, reviewed_by = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING ` + consentColumns

	var c model.PatientConsent
	if err := sqlx.GetContext(ctx, r.conn(ctx), &c, query, id, from, reviewedBy, at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("failed to validate consent: %w", err)
	}
	return &c, nil
}
