package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/repository"
)

type staffAssignmentRepository struct {
	s *Store
}

func (r *staffAssignmentRepository) Create(ctx context.Context, a *model.StaffAssignment) error {
	return r.s.write(ctx, func(st *state) error {
		for _, have := range st.assignments {
			if have.ID == a.ID {
				return fmt.Errorf("%w: staff_assignments_pkey", repository.ErrConflict)
			}
			if have.StaffUserID == a.StaffUserID && have.SurgeonID == a.SurgeonID {
				return fmt.Errorf("%w: staff_assignments_staff_user_id_surgeon_id_key", repository.ErrConflict)
			}
		}
		st.assignments = append(st.assignments, a.Clone())
		return nil
	})
}

func (r *staffAssignmentRepository) GetByID(_ context.Context, id uuid.UUID) (*model.StaffAssignment, error) {
	return r.find(func(a *model.StaffAssignment) bool { return a.ID == id })
}

func (r *staffAssignmentRepository) GetByPair(_ context.Context, staffUserID, surgeonID uuid.UUID) (*model.StaffAssignment, error) {
	return r.find(func(a *model.StaffAssignment) bool {
		return a.StaffUserID == staffUserID && a.SurgeonID == surgeonID
	})
}

func (r *staffAssignmentRepository) find(match func(*model.StaffAssignment) bool) (*model.StaffAssignment, error) {
	var out *model.StaffAssignment
	err := r.s.read(func(st *state) error {
		for _, a := range st.assignments {
			if match(a) {
				out = a.Clone()
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r *staffAssignmentRepository) ListByStaff(_ context.Context, staffUserID uuid.UUID) ([]*model.PracticeAssignment, error) {
	var out []*model.PracticeAssignment
	err := r.s.read(func(st *state) error {
		for _, a := range newestFirst(st.assignments, assignmentCreated) {
			if a.StaffUserID != staffUserID {
				continue
			}
			p := surgeonByID(st, a.SurgeonID)
			if p == nil {
				continue
			}
			out = append(out, &model.PracticeAssignment{
				StaffAssignment: *a.Clone(),
				SurgeonName:     p.FullName,
				PracticeName:    p.PracticeName,
			})
		}
		return nil
	})
	return out, err
}

func (r *staffAssignmentRepository) ListBySurgeon(_ context.Context, surgeonID uuid.UUID, filter model.StaffFilter) ([]*model.StaffMember, error) {
	var out []*model.StaffMember
	err := r.s.read(func(st *state) error {
		for _, a := range newestFirst(st.assignments, assignmentCreated) {
			if a.SurgeonID != surgeonID {
				continue
			}
			if filter.ActiveOnly && !a.IsActive {
				continue
			}
			if filter.StaffRole != "" && a.StaffRole != filter.StaffRole {
				continue
			}
			u := userByID(st, a.StaffUserID)
			if u == nil {
				continue
			}
			out = append(out, &model.StaffMember{
				StaffAssignment: *a.Clone(),
				StaffEmail:      u.Email,
				StaffName:       u.FullName,
			})
		}
		return nil
	})
	return out, err
}

func (r *staffAssignmentRepository) Reactivate(ctx context.Context, a *model.StaffAssignment) error {
	return r.s.write(ctx, func(st *state) error {
		have := assignmentByID(st, a.ID)
		if have == nil || have.IsActive {
			return repository.ErrConflict
		}
		have.IsActive = true
		have.StaffRole = a.StaffRole
		have.Permissions = append(model.PermissionSet(nil), a.Permissions...)
		have.InvitationStatus = model.InvitationPending
		have.InvitedBy = a.InvitedBy
		have.InvitedAt = a.InvitedAt
		have.AcceptedAt = nil
		have.UpdatedAt = a.InvitedAt

		a.IsActive = true
		a.InvitationStatus = model.InvitationPending
		a.AcceptedAt = nil
		a.UpdatedAt = a.InvitedAt
		return nil
	})
}

func (r *staffAssignmentRepository) Transition(ctx context.Context, id uuid.UUID, from, to model.InvitationStatus, deactivate bool, at time.Time) (*model.StaffAssignment, error) {
	return r.cas(ctx, id, func(a *model.StaffAssignment) bool {
		if !a.IsActive || a.InvitationStatus != from {
			return false
		}
		a.InvitationStatus = to
		if deactivate {
			a.IsActive = false
		}
		if to == model.InvitationAccepted {
			t := at
			a.AcceptedAt = &t
		}
		a.UpdatedAt = at
		return true
	})
}

func (r *staffAssignmentRepository) Deactivate(ctx context.Context, id uuid.UUID, at time.Time) (*model.StaffAssignment, error) {
	return r.cas(ctx, id, func(a *model.StaffAssignment) bool {
		if !a.IsActive {
			return false
		}
		a.IsActive = false
		a.UpdatedAt = at
		return true
	})
}

func (r *staffAssignmentRepository) UpdatePermissions(ctx context.Context, id uuid.UUID, perms model.PermissionSet, at time.Time) (*model.StaffAssignment, error) {
	return r.cas(ctx, id, func(a *model.StaffAssignment) bool {
		if !a.IsActive {
			return false
		}
		a.Permissions = append(model.PermissionSet(nil), perms...)
		a.UpdatedAt = at
		return true
	})
}

// cas applies mutate to the row when it reports the precondition held.
func (r *staffAssignmentRepository) cas(ctx context.Context, id uuid.UUID, mutate func(*model.StaffAssignment) bool) (*model.StaffAssignment, error) {
	var out *model.StaffAssignment
	err := r.s.write(ctx, func(st *state) error {
		a := assignmentByID(st, id)
		if a == nil {
			return repository.ErrConflict
		}
		next := a.Clone()
		if !mutate(next) {
			return repository.ErrConflict
		}
		*a = *next
		out = next.Clone()
		return nil
	})
	return out, err
}

func (r *staffAssignmentRepository) ListStalePending(_ context.Context, invitedBefore time.Time, limit int) ([]*model.StaffAssignment, error) {
	var out []*model.StaffAssignment
	err := r.s.read(func(st *state) error {
		for _, a := range st.assignments {
			if a.Pending() && a.InvitedAt.Before(invitedBefore) {
				out = append(out, a.Clone())
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].InvitedAt.Before(out[j].InvitedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func assignmentCreated(a *model.StaffAssignment) time.Time { return a.CreatedAt }

func assignmentByID(st *state, id uuid.UUID) *model.StaffAssignment {
	for _, a := range st.assignments {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func surgeonByID(st *state, id uuid.UUID) *model.SurgeonProfile {
	for _, p := range st.surgeons {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func userByID(st *state, id uuid.UUID) *model.User {
	for _, u := range st.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}
