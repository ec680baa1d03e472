package staff

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/permission"
)

func invitationNotice(a *model.StaffAssignment, surgeon *model.SurgeonProfile, from uuid.UUID) *model.Notification {
	action := model.ActionAcceptInvitation
	return &model.Notification{
		UserID:   a.StaffUserID,
		SenderID: &from,
		Type:     model.NotificationStaffInvitation,
		Title:    "Staff Invitation",
		Message:  fmt.Sprintf("%s has invited you as a %s for their practice.", surgeon.FullName, a.StaffRole),
		Data: model.JSONMap{
			"surgeon_id":   surgeon.ID.String(),
			"surgeon_name": surgeon.FullName,
		},
		ActionType: &action,
		ActionData: model.JSONMap{
			"surgeon_id":  surgeon.ID.String(),
			"staff_role":  string(a.StaffRole),
			"permissions": permission.Strings(a.Permissions),
		},
	}
}

func responseNotice(a *model.StaffAssignment, to, from uuid.UUID, staffName string, accepted bool) *model.Notification {
	n := &model.Notification{
		UserID:   to,
		SenderID: &from,
		Data: model.JSONMap{
			"surgeon_id":    a.SurgeonID.String(),
			"staff_user_id": a.StaffUserID.String(),
			"assignment_id": a.ID.String(),
		},
	}
	if accepted {
		n.Type = model.NotificationInvitationAccepted
		n.Title = "Invitation Accepted"
		n.Message = fmt.Sprintf("%s has accepted your staff invitation as %s.", staffName, a.StaffRole)
	} else {
		n.Type = model.NotificationInvitationDeclined
		n.Title = "Invitation Declined"
		n.Message = fmt.Sprintf("%s has declined your staff invitation.", staffName)
	}
	return n
}

func revokedNotice(a *model.StaffAssignment, surgeon *model.SurgeonProfile, from uuid.UUID) *model.Notification {
	return &model.Notification{
		UserID:   a.StaffUserID,
		SenderID: &from,
		Type:     model.NotificationAccessRevoked,
		Title:    "Access Revoked",
		Message:  fmt.Sprintf("Your access to %s's practice has been revoked.", surgeon.FullName),
		Data:     model.JSONMap{"surgeon_id": surgeon.ID.String()},
	}
}

func permissionsNotice(a *model.StaffAssignment, surgeon *model.SurgeonProfile, from uuid.UUID) *model.Notification {
	return &model.Notification{
		UserID:   a.StaffUserID,
		SenderID: &from,
		Type:     model.NotificationPermissionChange,
		Title:    "Permissions Updated",
		Message:  fmt.Sprintf("Your permissions for %s's practice have been updated.", surgeon.FullName),
		Data: model.JSONMap{
			"surgeon_id":      surgeon.ID.String(),
			"new_permissions": permission.Strings(a.Permissions),
		},
	}
}

func expiredNotice(a *model.StaffAssignment, staffName string) *model.Notification {
	return &model.Notification{
		UserID:  *a.InvitedBy,
		Type:    model.NotificationInvitationExpired,
		Title:   "Invitation Expired",
		Message: fmt.Sprintf("Your staff invitation to %s expired without a response.", staffName),
		Data: model.JSONMap{
			"surgeon_id":    a.SurgeonID.String(),
			"staff_user_id": a.StaffUserID.String(),
			"assignment_id": a.ID.String(),
		},
	}
}

// openInvitation selects the unanswered invitation notifications of a pair.
func openInvitation(a *model.StaffAssignment) model.ActionFilter {
	return model.ActionFilter{
		UserID:     a.StaffUserID,
		ActionType: model.ActionAcceptInvitation,
		Contains:   model.JSONMap{"surgeon_id": a.SurgeonID.String()},
	}
}
