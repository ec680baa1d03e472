// Package access decides whether a caller may exercise a capability against a
// surgeon's practice. Admins and surgeons are not permission scoped; staff
// are authorized only through an accepted, active assignment whose own
// permission set contains the capability.
package access

import (
	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/permission"
	apperrors "github.com/consentflow/consent-api/pkg/errors"
)

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID uuid.UUID      `json:"user_id"`
	Email  string         `json:"email"`
	Role   model.UserRole `json:"role"`
}

// HasPermission reports whether p may use perm through active, which should be
// the caller's assignment for the selected surgeon (nil when there is none).
func HasPermission(p Principal, active *model.StaffAssignment, perm permission.Permission) bool {
	if p.Role.Unscoped() {
		return true
	}
	return active != nil && active.StaffUserID == p.UserID && active.Grants(perm)
}

// HasAnyPermission is HasPermission over a list.
func HasAnyPermission(p Principal, active *model.StaffAssignment, perms ...permission.Permission) bool {
	for _, perm := range perms {
		if HasPermission(p, active, perm) {
			return true
		}
	}
	return false
}

// ActiveAssignment returns the accepted, active assignment for surgeonID.
func ActiveAssignment(assignments []*model.StaffAssignment, surgeonID uuid.UUID) *model.StaffAssignment {
	if surgeonID == uuid.Nil {
		return nil
	}
	for _, a := range assignments {
		if a.SurgeonID == surgeonID && a.Effective() {
			return a
		}
	}
	return nil
}

// Authorize returns a forbidden error unless p holds perm against surgeonID.
func Authorize(p Principal, assignments []*model.StaffAssignment, surgeonID uuid.UUID, perm permission.Permission) error {
	if HasPermission(p, ActiveAssignment(assignments, surgeonID), perm) {
		return nil
	}
	return apperrors.Forbidden("permission denied")
}
