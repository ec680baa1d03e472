// Package permission holds the fixed capability vocabularies that can be
// granted to practice staff. It is configuration data: nothing mutates it at
// runtime, and authorization checks use an assignment's own permission set.
package permission

import (
	"sort"

	apperrors "github.com/consentflow/consent-api/pkg/errors"
)

// Permission is an atomic capability tag.
type Permission string

const (
	ManageStaff           Permission = "manage_staff"
	ManagePatients        Permission = "manage_patients"
	ManageLocations       Permission = "manage_locations"
	ViewConsents          Permission = "view_consents"
	PrepareDocuments      Permission = "prepare_documents"
	AnswerQuestions       Permission = "answer_questions"
	ValidateConsent       Permission = "validate_consent"
	HandleConsentSections Permission = "handle_consent_sections"
)

// StaffRole is the role a staff member holds within one practice.
type StaffRole string

const (
	RoleManager StaffRole = "manager"
	RoleNurse   StaffRole = "nurse"
)

// Valid reports whether r is a known staff role.
func (r StaffRole) Valid() bool {
	_, ok := vocabularies[r]
	return ok
}

// Info describes a permission for invitation and edit forms.
type Info struct {
	Permission  Permission `json:"permission"`
	Label       string     `json:"label"`
	Description string     `json:"description"`
}

var vocabularies = map[StaffRole][]Info{
	RoleManager: {
		{ManageStaff, "Manage Staff", "Invite nurses and edit their permissions"},
		{ManagePatients, "Manage Patients", "Add and edit patient records"},
		{ManageLocations, "Manage Locations", "Add and edit practice locations"},
		{ViewConsents, "View Consents", "View patient consent status and details"},
		{PrepareDocuments, "Prepare Documents", "Prepare consent documents for patients"},
		{AnswerQuestions, "Answer Questions", "Respond to patient questions in consent chat"},
		{ValidateConsent, "Validate Consent", "Review and validate completed consents"},
	},
	RoleNurse: {
		{HandleConsentSections, "Handle Consent Sections", "Walk patients through consent sections"},
		{PrepareDocuments, "Prepare Documents", "Prepare consent documents for patients"},
		{ValidateConsent, "Validate Consent", "Review and validate completed consents"},
		{AnswerQuestions, "Answer Questions", "Respond to patient questions in consent chat"},
	},
}

// Roles returns the staff roles in a stable order.
func Roles() []StaffRole {
	return []StaffRole{RoleManager, RoleNurse}
}

// Vocabulary returns the ordered permissions grantable to role. Unknown roles
// yield nil.
func Vocabulary(role StaffRole) []Permission {
	infos := vocabularies[role]
	if infos == nil {
		return nil
	}
	out := make([]Permission, len(infos))
	for i, info := range infos {
		out[i] = info.Permission
	}
	return out
}

// Describe returns the labelled vocabulary for role.
func Describe(role StaffRole) []Info {
	infos := vocabularies[role]
	out := make([]Info, len(infos))
	copy(out, infos)
	return out
}

// Allowed reports whether p belongs to role's vocabulary.
func Allowed(role StaffRole, p Permission) bool {
	for _, info := range vocabularies[role] {
		if info.Permission == p {
			return true
		}
	}
	return false
}

// Validate checks that perms is a duplicate free subset of role's vocabulary.
func Validate(role StaffRole, perms []Permission) error {
	if !role.Valid() {
		return apperrors.Validation("invalid staff role", string(role))
	}

	seen := make(map[Permission]struct{}, len(perms))
	var invalid, dupes []string
	for _, p := range perms {
		if _, ok := seen[p]; ok {
			dupes = append(dupes, string(p))
			continue
		}
		seen[p] = struct{}{}
		if !Allowed(role, p) {
			invalid = append(invalid, string(p))
		}
	}

	if len(invalid) > 0 {
		sort.Strings(invalid)
		return apperrors.Validation("permissions not allowed for role "+string(role), invalid...)
	}
	if len(dupes) > 0 {
		return apperrors.Validation("duplicate permissions", dupes...)
	}
	return nil
}

// Strings converts a permission list to plain strings.
func Strings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

// FromStrings converts plain strings to a permission list.
func FromStrings(ss []string) []Permission {
	out := make([]Permission, len(ss))
	for i, s := range ss {
		out[i] = Permission(s)
	}
	return out
}
