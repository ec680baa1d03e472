package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationStaffInvitation    NotificationType = "staff_invitation"
	NotificationInvitationAccepted NotificationType = "invitation_accepted"
	NotificationInvitationDeclined NotificationType = "invitation_declined"
	NotificationInvitationExpired  NotificationType = "invitation_expired"
	NotificationPermissionChange   NotificationType = "permission_change"
	NotificationAccessRevoked      NotificationType = "access_revoked"
	NotificationConsentCompleted   NotificationType = "consent_completed"
	NotificationConsentValidated   NotificationType = "consent_validated"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationStaffInvitation, NotificationInvitationAccepted, NotificationInvitationDeclined,
		NotificationInvitationExpired, NotificationPermissionChange, NotificationAccessRevoked,
		NotificationConsentCompleted, NotificationConsentValidated:
		return true
	}
	return false
}

type ActionType string

const (
	ActionAcceptInvitation ActionType = "accept_invitation"
)

// Notification is a persisted message directed at one recipient.
type Notification struct {
	ID            uuid.UUID        `json:"id" db:"id"`
	UserID        uuid.UUID        `json:"user_id" db:"user_id"`
	SenderID      *uuid.UUID       `json:"sender_id,omitempty" db:"sender_id"`
	Type          NotificationType `json:"type" db:"type"`
	Title         string           `json:"title" db:"title"`
	Message       string           `json:"message" db:"message"`
	Data          JSONMap          `json:"data,omitempty" db:"data"`
	Read          bool             `json:"read" db:"read"`
	ActionType    *ActionType      `json:"action_type,omitempty" db:"action_type"`
	ActionData    JSONMap          `json:"action_data,omitempty" db:"action_data"`
	ActionTaken   bool             `json:"action_taken" db:"action_taken"`
	ActionTakenAt *time.Time       `json:"action_taken_at,omitempty" db:"action_taken_at"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
}

// Actionable reports whether the notification still carries an open decision.
func (n *Notification) Actionable() bool {
	return n.ActionType != nil && !n.ActionTaken
}

// Direction selects which side of the conversation to list.
type Direction string

const (
	DirectionReceived Direction = "received"
	DirectionSent     Direction = "sent"
	DirectionAll      Direction = "all"
)

func (d Direction) Valid() bool {
	return d == DirectionReceived || d == DirectionSent || d == DirectionAll
}

// ActionFilter selects open actionable notifications for one recipient whose
// action data contains every key of Contains.
type ActionFilter struct {
	UserID     uuid.UUID
	ActionType ActionType
	Contains   JSONMap
}
