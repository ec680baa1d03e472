package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/repository"
)

type userRepository struct {
	BaseRepository
}

func NewUserRepository(base BaseRepository) repository.UserRepository {
	return &userRepository{base}
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	query := `
		SELECT id, email, full_name, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	var user model.User
	if err := sqlx.GetContext(ctx, r.conn(ctx), &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `
		SELECT id, email, full_name, role, created_at, updated_at
		FROM users
		WHERE lower(email) = $1
	`
	var user model.User
	if err := sqlx.GetContext(ctx, r.conn(ctx), &user, query, strings.ToLower(strings.TrimSpace(email))); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &user, nil
}

func (r *userRepository) GetSurgeonProfile(ctx context.Context, id uuid.UUID) (*model.SurgeonProfile, error) {
	query := `
		SELECT id, user_id, full_name, practice_name, created_at, updated_at
		FROM surgeon_profiles
		WHERE id = $1
	`
	return r.getSurgeon(ctx, query, id)
}

func (r *userRepository) GetSurgeonProfileByUser(ctx context.Context, userID uuid.UUID) (*model.SurgeonProfile, error) {
	query := `
		SELECT id, user_id, full_name, practice_name, created_at, updated_at
		FROM surgeon_profiles
		WHERE user_id = $1
	`
	return r.getSurgeon(ctx, query, userID)
}

func (r *userRepository) getSurgeon(ctx context.Context, query string, arg uuid.UUID) (*model.SurgeonProfile, error) {
	var profile model.SurgeonProfile
	if err := sqlx.GetContext(ctx, r.conn(ctx), &profile, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get surgeon profile: %w", err)
	}
	return &profile, nil
}
