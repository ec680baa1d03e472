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

const assignmentColumns = `id, staff_user_id, surgeon_id, staff_role, permissions, invited_by,
		invitation_status, invited_at, accepted_at, is_active, created_at, updated_at`

const assignmentColumnsSA = `sa.id, sa.staff_user_id, sa.surgeon_id, sa.staff_role, sa.permissions, sa.invited_by,
		sa.invitation_status, sa.invited_at, sa.accepted_at, sa.is_active, sa.created_at, sa.updated_at`

type staffAssignmentRepository struct {
	BaseRepository
}

func NewStaffAssignmentRepository(base BaseRepository) repository.StaffAssignmentRepository {
	return &staffAssignmentRepository{base}
}

func (r *staffAssignmentRepository) Create(ctx context.Context, a *model.StaffAssignment) error {
	query := `
		INSERT INTO staff_assignments (
			id, staff_user_id, surgeon_id, staff_role, permissions, invited_by,
			invitation_status, invited_at, accepted_at, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.conn(ctx).ExecContext(ctx, query,
		a.ID,
		a.StaffUserID,
		a.SurgeonID,
		a.StaffRole,
		a.Permissions,
		a.InvitedBy,
		a.InvitationStatus,
		a.InvitedAt,
		a.AcceptedAt,
		a.IsActive,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create staff assignment: %w", uniqueViolation(err))
	}
	return nil
}

func (r *staffAssignmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.StaffAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM staff_assignments WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *staffAssignmentRepository) GetByPair(ctx context.Context, staffUserID, surgeonID uuid.UUID) (*model.StaffAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM staff_assignments WHERE staff_user_id = $1 AND surgeon_id = $2`
	return r.getOne(ctx, query, staffUserID, surgeonID)
}

func (r *staffAssignmentRepository) getOne(ctx context.Context, query string, args ...interface{}) (*model.StaffAssignment, error) {
	var a model.StaffAssignment
	if err := sqlx.GetContext(ctx, r.conn(ctx), &a, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get staff assignment: %w", err)
	}
	return &a, nil
}

func (r *staffAssignmentRepository) ListByStaff(ctx context.Context, staffUserID uuid.UUID) ([]*model.PracticeAssignment, error) {
	query := `
		SELECT ` + assignmentColumnsSA + `,
			sp.full_name AS surgeon_name, sp.practice_name
		FROM staff_assignments sa
		JOIN surgeon_profiles sp ON sp.id = sa.surgeon_id
		WHERE sa.staff_user_id = $1
		ORDER BY sa.created_at DESC
	`
	var rows []*model.PracticeAssignment
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &rows, query, staffUserID); err != nil {
		return nil, fmt.Errorf("failed to list staff assignments: %w", err)
	}
	return rows, nil
}

func (r *staffAssignmentRepository) ListBySurgeon(ctx context.Context, surgeonID uuid.UUID, filter model.StaffFilter) ([]*model.StaffMember, error) {
	query := `
		SELECT ` + assignmentColumnsSA + `,
			u.email AS staff_email, u.full_name AS staff_name
		FROM staff_assignments sa
		JOIN users u ON u.id = sa.staff_user_id
		WHERE sa.surgeon_id = $1
	`
	args := []interface{}{surgeonID}

	if filter.ActiveOnly {
		query += " AND sa.is_active = true"
	}
	if filter.StaffRole != "" {
		args = append(args, filter.StaffRole)
		query += fmt.Sprintf(" AND sa.staff_role = $%d", len(args))
	}
	query += " ORDER BY sa.created_at DESC"

	var rows []*model.StaffMember
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list practice staff: %w", err)
	}
	return rows, nil
}

func (r *staffAssignmentRepository) Reactivate(ctx context.Context, a *model.StaffAssignment) error {
	query := `
		UPDATE staff_assignments
		SET is_active = true,
			staff_role = $2,
			permissions = $3,
			invitation_status = 'pending',
			invited_by = $4,
			invited_at = $5,
			accepted_at = NULL,
			updated_at = $5
		WHERE id = $1 AND is_active = false
	`
	result, err := r.conn(ctx).ExecContext(ctx, query, a.ID, a.StaffRole, a.Permissions, a.InvitedBy, a.InvitedAt)
	if err != nil {
		return fmt.Errorf("failed to reactivate staff assignment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return repository.ErrConflict
	}

	a.IsActive = true
	a.InvitationStatus = model.InvitationPending
	a.AcceptedAt = nil
	a.UpdatedAt = a.InvitedAt
	return nil
}

func (r *staffAssignmentRepository) Transition(ctx context.Context, id uuid.UUID, from, to model.InvitationStatus, deactivate bool, at time.Time) (*model.StaffAssignment, error) {
	query := `
		UPDATE staff_assignments
		SET invitation_status = $3::text,
			is_active = CASE WHEN $4::boolean THEN false ELSE is_active END,
			accepted_at = CASE WHEN $3::text = 'accepted' THEN $5 ELSE accepted_at END,
			updated_at = $5
		WHERE id = $1 AND invitation_status = $2 AND is_active = true
		RETURNING ` + assignmentColumns
	return r.casReturning(ctx, "transition staff assignment", query, id, from, to, deactivate, at)
}

func (r *staffAssignmentRepository) Deactivate(ctx context.Context, id uuid.UUID, at time.Time) (*model.StaffAssignment, error) {
	query := `
		UPDATE staff_assignments
		SET is_active = false, updated_at = $2
		WHERE id = $1 AND is_active = true
		RETURNING ` + assignmentColumns
	return r.casReturning(ctx, "deactivate staff assignment", query, id, at)
}

func (r *staffAssignmentRepository) UpdatePermissions(ctx context.Context, id uuid.UUID, perms model.PermissionSet, at time.Time) (*model.StaffAssignment, error) {
	query := `
		UPDATE staff_assignments
		SET permissions = $2, updated_at = $3
		WHERE id = $1 AND is_active = true
		RETURNING ` + assignmentColumns
	return r.casReturning(ctx, "update staff permissions", query, id, perms, at)
}

// casReturning runs a conditional UPDATE ... RETURNING; no row means the
// precondition failed.
func (r *staffAssignmentRepository) casReturning(ctx context.Context, op, query string, args ...interface{}) (*model.StaffAssignment, error) {
	var a model.StaffAssignment
	if err := sqlx.GetContext(ctx, r.conn(ctx), &a, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return &a, nil
}

func (r *staffAssignmentRepository) ListStalePending(ctx context.Context, invitedBefore time.Time, limit int) ([]*model.StaffAssignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM staff_assignments
		WHERE invitation_status = 'pending' AND is_active = true AND invited_at < $1
		ORDER BY invited_at ASC
		LIMIT $2
	`
	var rows []*model.StaffAssignment
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &rows, query, invitedBefore, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale invitations: %w", err)
	}
	return rows, nil
}
