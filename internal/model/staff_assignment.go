package model

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/consentflow/consent-api/internal/permission"
)

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationExpired  InvitationStatus = "expired"
)

// PermissionSet is stored as a text[] column.
type PermissionSet []permission.Permission

func (s PermissionSet) Value() (driver.Value, error) {
	return pq.StringArray(permission.Strings(s)).Value()
}

func (s *PermissionSet) Scan(src interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return err
	}
	*s = PermissionSet(permission.FromStrings(arr))
	return nil
}

// Contains reports whether p is in the set.
func (s PermissionSet) Contains(p permission.Permission) bool {
	for _, have := range s {
		if have == p {
			return true
		}
	}
	return false
}

// StaffAssignment links a staff user to a surgeon's practice.
type StaffAssignment struct {
	ID               uuid.UUID            `json:"id" db:"id"`
	StaffUserID      uuid.UUID            `json:"staff_user_id" db:"staff_user_id"`
	SurgeonID        uuid.UUID            `json:"surgeon_id" db:"surgeon_id"`
	StaffRole        permission.StaffRole `json:"staff_role" db:"staff_role"`
	Permissions      PermissionSet        `json:"permissions" db:"permissions"`
	InvitedBy        *uuid.UUID           `json:"invited_by,omitempty" db:"invited_by"`
	InvitationStatus InvitationStatus     `json:"invitation_status" db:"invitation_status"`
	InvitedAt        time.Time            `json:"invited_at" db:"invited_at"`
	AcceptedAt       *time.Time           `json:"accepted_at,omitempty" db:"accepted_at"`
	IsActive         bool                 `json:"is_active" db:"is_active"`
	CreatedAt        time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at" db:"updated_at"`
}

// Effective reports whether the assignment currently grants anything.
func (a *StaffAssignment) Effective() bool {
	return a != nil && a.IsActive && a.InvitationStatus == InvitationAccepted
}

// Grants reports whether the assignment authorizes p.
func (a *StaffAssignment) Grants(p permission.Permission) bool {
	return a.Effective() && a.Permissions.Contains(p)
}

// Pending reports whether the invitation still awaits a response.
func (a *StaffAssignment) Pending() bool {
	return a.IsActive && a.InvitationStatus == InvitationPending
}

// Clone returns a deep copy.
func (a *StaffAssignment) Clone() *StaffAssignment {
	if a == nil {
		return nil
	}
	c := *a
	c.Permissions = append(PermissionSet(nil), a.Permissions...)
	if a.InvitedBy != nil {
		v := *a.InvitedBy
		c.InvitedBy = &v
	}
	if a.AcceptedAt != nil {
		v := *a.AcceptedAt
		c.AcceptedAt = &v
	}
	return &c
}

// StaffMember is an assignment joined with the staff user's profile.
type StaffMember struct {
	StaffAssignment
	StaffEmail string `json:"staff_email" db:"staff_email"`
	StaffName  string `json:"staff_name" db:"staff_name"`
}

// PracticeAssignment is an assignment joined with the practice it belongs to.
type PracticeAssignment struct {
	StaffAssignment
	SurgeonName  string `json:"surgeon_name" db:"surgeon_name"`
	PracticeName string `json:"practice_name" db:"practice_name"`
}

// StaffFilter narrows a practice's staff listing.
type StaffFilter struct {
	ActiveOnly bool
	StaffRole  permission.StaffRole
}
