package access

import (
	"context"

	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/permission"
	apperrors "github.com/consentflow/consent-api/pkg/errors"
)

// Session carries one caller's identity, assignment set and surgeon
// selection. Its assignment set is advisory; Reload after any mutation that
// could change it.
type Session struct {
	eval        *Evaluator
	principal   Principal
	assignments []*model.PracticeAssignment
	own         *model.SurgeonProfile
	selected    uuid.UUID
	all         bool
}

// NewSession loads the caller's assignments and applies the default
// selection.
func (e *Evaluator) NewSession(ctx context.Context, p Principal) (*Session, error) {
	s := &Session{eval: e, principal: p}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) Principal() Principal { return s.principal }

// Reload refetches the assignment set, bypassing the cache. A selection
// that no longer grants anything is dropped.
func (s *Session) Reload(ctx context.Context) error {
	s.eval.Invalidate(s.principal.UserID)
	return s.load(ctx)
}

func (s *Session) load(ctx context.Context) error {
	switch s.principal.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleSurgeon:
		own, err := s.eval.SurgeonProfileFor(ctx, s.principal.UserID)
		if err != nil {
			return err
		}
		s.own = own
		return nil
	}

	list, err := s.eval.Assignments(ctx, s.principal.UserID)
	if err != nil {
		return err
	}
	s.assignments = list

	if s.selected != uuid.Nil && s.active(s.selected) == nil {
		s.selected = uuid.Nil
	}
	if s.selected == uuid.Nil && !s.all {
		if accepted := s.AcceptedAssignments(); len(accepted) == 1 {
			s.selected = accepted[0].SurgeonID
		}
	}
	return nil
}

// AcceptedAssignments returns the accepted, active assignments.
func (s *Session) AcceptedAssignments() []*model.PracticeAssignment {
	var out []*model.PracticeAssignment
	for _, a := range s.assignments {
		if a.Effective() {
			out = append(out, a)
		}
	}
	return out
}

// Assignments returns every assignment the caller holds, pending ones
// included.
func (s *Session) Assignments() []*model.PracticeAssignment {
	return s.assignments
}

// ActiveSurgeonID returns the surgeon the session is scoped to. Surgeons are
// always scoped to their own practice.
func (s *Session) ActiveSurgeonID() (uuid.UUID, bool) {
	if s.own != nil {
		return s.own.ID, true
	}
	return s.selected, s.selected != uuid.Nil
}

// AllSurgeons reports whether the unscoped view is selected.
func (s *Session) AllSurgeons() bool { return s.all }

// Select scopes the session to surgeonID. Staff need an accepted, active
// assignment there.
func (s *Session) Select(surgeonID uuid.UUID) error {
	switch s.principal.Role {
	case model.RoleAdmin:
	case model.RoleSurgeon:
		if s.own == nil || s.own.ID != surgeonID {
			return apperrors.Forbidden("permission denied")
		}
	default:
		if s.active(surgeonID) == nil {
			return apperrors.Forbidden("no active assignment for this surgeon")
		}
	}
	s.selected = surgeonID
	s.all = false
	return nil
}

// SelectAll switches to the unscoped view. Staff hold no permissions there
// until a concrete surgeon is selected.
func (s *Session) SelectAll() {
	s.selected = uuid.Nil
	s.all = true
}

// ActiveAssignment returns the assignment for the selected surgeon.
func (s *Session) ActiveAssignment() *model.StaffAssignment {
	return s.active(s.selected)
}

func (s *Session) HasPermission(perm permission.Permission) bool {
	return HasPermission(s.principal, s.ActiveAssignment(), perm)
}

func (s *Session) HasAnyPermission(perms ...permission.Permission) bool {
	return HasAnyPermission(s.principal, s.ActiveAssignment(), perms...)
}

func (s *Session) active(surgeonID uuid.UUID) *model.StaffAssignment {
	if surgeonID == uuid.Nil {
		return nil
	}
	for _, a := range s.assignments {
		if a.SurgeonID == surgeonID && a.Effective() {
			return &a.StaffAssignment
		}
	}
	return nil
}
