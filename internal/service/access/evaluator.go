package access

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/permission"
	"github.com/consentflow/consent-api/internal/repository"
	apperrors "github.com/consentflow/consent-api/pkg/errors"
)

const (
	defaultCacheTTL     = 30 * time.Second
	defaultCacheCleanup = time.Minute
)

// Evaluator is the single store backed entry point for authorization checks.
type Evaluator struct {
	users       repository.UserRepository
	assignments repository.StaffAssignmentRepository
	cache       *cache.Cache
}

func NewEvaluator(users repository.UserRepository, assignments repository.StaffAssignmentRepository, ttl, cleanup time.Duration) *Evaluator {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if cleanup <= 0 {
		cleanup = defaultCacheCleanup
	}
	return &Evaluator{
		users:       users,
		assignments: assignments,
		cache:       cache.New(ttl, cleanup),
	}
}

// Authorize checks p against surgeonID's practice. Admins pass; surgeons
// pass for their own practice only; staff need an accepted, active
// assignment granting perm. The assignment is read from the store, never
// from the cache.
func (e *Evaluator) Authorize(ctx context.Context, p Principal, surgeonID uuid.UUID, perm permission.Permission) error {
	return e.AuthorizeAny(ctx, p, surgeonID, perm)
}

// AuthorizeAny passes when p holds at least one of perms.
func (e *Evaluator) AuthorizeAny(ctx context.Context, p Principal, surgeonID uuid.UUID, perms ...permission.Permission) error {
	switch p.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleSurgeon:
		profile, err := e.users.GetSurgeonProfile(ctx, surgeonID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFoundf("surgeon not found")
		}
		if err != nil {
			return apperrors.Store("load surgeon", err)
		}
		if profile.UserID != p.UserID {
			return apperrors.Forbidden("permission denied")
		}
		return nil
	}

	a, err := e.assignments.GetByPair(ctx, p.UserID, surgeonID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.Forbidden("permission denied")
	}
	if err != nil {
		return apperrors.Store("load assignment", err)
	}
	if !HasAnyPermission(p, a, perms...) {
		return apperrors.Forbidden("permission denied")
	}
	return nil
}

// Assignments returns the staff user's assignments joined with their
// practices. Results are cached until Invalidate or the TTL.
func (e *Evaluator) Assignments(ctx context.Context, userID uuid.UUID) ([]*model.PracticeAssignment, error) {
	key := userID.String()
	if v, ok := e.cache.Get(key); ok {
		return clonePractice(v.([]*model.PracticeAssignment)), nil
	}

	list, err := e.assignments.ListByStaff(ctx, userID)
	if err != nil {
		return nil, apperrors.Store("list assignments", err)
	}
	e.cache.Set(key, clonePractice(list), cache.DefaultExpiration)
	return list, nil
}

// Invalidate drops the cached assignment set of each user.
func (e *Evaluator) Invalidate(userIDs ...uuid.UUID) {
	for _, id := range userIDs {
		e.cache.Delete(id.String())
	}
}

// SurgeonProfileFor returns the practice owned by a surgeon user.
func (e *Evaluator) SurgeonProfileFor(ctx context.Context, userID uuid.UUID) (*model.SurgeonProfile, error) {
	profile, err := e.users.GetSurgeonProfileByUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFoundf("surgeon profile not found")
	}
	if err != nil {
		return nil, apperrors.Store("load surgeon profile", err)
	}
	return profile, nil
}

func clonePractice(in []*model.PracticeAssignment) []*model.PracticeAssignment {
	out := make([]*model.PracticeAssignment, len(in))
	for i, pa := range in {
		c := *pa
		c.StaffAssignment = *pa.StaffAssignment.Clone()
		out[i] = &c
	}
	return out
}
