package memory

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/repository"
)

type userRepository struct {
	s *Store
}

func (r *userRepository) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	var out *model.User
	err := r.s.read(func(st *state) error {
		for _, u := range st.users {
			if u.ID == id {
				v := *u
				out = &v
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r *userRepository) GetByEmail(_ context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var out *model.User
	err := r.s.read(func(st *state) error {
		for _, u := range st.users {
			if strings.ToLower(u.Email) == email {
				v := *u
				out = &v
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r *userRepository) GetSurgeonProfile(_ context.Context, id uuid.UUID) (*model.SurgeonProfile, error) {
	return r.findSurgeon(func(p *model.SurgeonProfile) bool { return p.ID == id })
}

func (r *userRepository) GetSurgeonProfileByUser(_ context.Context, userID uuid.UUID) (*model.SurgeonProfile, error) {
	return r.findSurgeon(func(p *model.SurgeonProfile) bool { return p.UserID == userID })
}

func (r *userRepository) findSurgeon(match func(*model.SurgeonProfile) bool) (*model.SurgeonProfile, error) {
	var out *model.SurgeonProfile
	err := r.s.read(func(st *state) error {
		for _, p := range st.surgeons {
			if match(p) {
				v := *p
				out = &v
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}
