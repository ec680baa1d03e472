package model

import (
	"github.com/google/uuid"
)

// UserRole is a user's single global role, fixed at registration.
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleSurgeon UserRole = "surgeon"
	RoleManager UserRole = "manager"
	RoleNurse   UserRole = "nurse"
)

func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleSurgeon, RoleManager, RoleNurse:
		return true
	}
	return false
}

// Unscoped roles carry every capability without a permission list.
func (r UserRole) Unscoped() bool {
	return r == RoleAdmin || r == RoleSurgeon
}

// User represents a registered user
type User struct {
	Base
	Email    string   `json:"email" db:"email"`
	FullName string   `json:"full_name" db:"full_name"`
	Role     UserRole `json:"role" db:"role"`
}

// DisplayName falls back to the email when no name was given.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Email
}

// SurgeonProfile is the practice against which staff are assigned.
type SurgeonProfile struct {
	Base
	UserID       uuid.UUID `json:"user_id" db:"user_id"`
	FullName     string    `json:"full_name" db:"full_name"`
	PracticeName string    `json:"practice_name" db:"practice_name"`
}

// UserSummary is the subset of a user shown next to assignments.
type UserSummary struct {
	ID       uuid.UUID `json:"id" db:"id"`
	Email    string    `json:"email" db:"email"`
	FullName string    `json:"full_name" db:"full_name"`
}
