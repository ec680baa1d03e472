package model

import (
	"time"

	"github.com/google/uuid"
)

type ConsentStatus string

const (
	ConsentAssigned         ConsentStatus = "assigned"
	ConsentNotStarted       ConsentStatus = "not_started"
	ConsentInProgress       ConsentStatus = "in_progress"
	ConsentPatientCompleted ConsentStatus = "patient_completed"
	ConsentUnderReview      ConsentStatus = "under_review"
	ConsentQuizFailed       ConsentStatus = "quiz_failed"
	ConsentCompleted        ConsentStatus = "completed"
	ConsentValid            ConsentStatus = "valid"
	ConsentWithdrawn        ConsentStatus = "withdrawn"
)

// PatientConsent is one patient's consent for one surgeon procedure.
type PatientConsent struct {
	ID                 uuid.UUID     `json:"id" db:"id"`
	PatientID          uuid.UUID     `json:"patient_id" db:"patient_id"`
	SurgeonID          uuid.UUID     `json:"surgeon_id" db:"surgeon_id"`
	SurgeonProcedureID uuid.UUID     `json:"surgeon_procedure_id" db:"surgeon_procedure_id"`
	Status             ConsentStatus `json:"status" db:"status"`
	PatientCompletedAt *time.Time    `json:"patient_completed_at,omitempty" db:"patient_completed_at"`
	ReviewedAt         *time.Time    `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ReviewedBy         *uuid.UUID    `json:"reviewed_by,omitempty" db:"reviewed_by"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at" db:"updated_at"`
}

// ConsentSection is a content section attached to a surgeon procedure.
type ConsentSection struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	SurgeonProcedureID uuid.UUID `json:"surgeon_procedure_id" db:"surgeon_procedure_id"`
	Title              string    `json:"title" db:"title"`
	SectionType        string    `json:"section_type" db:"section_type"`
	SortOrder          int       `json:"sort_order" db:"sort_order"`
}

// ChatSession is a patient Q&A thread recorded against a consent.
type ChatSession struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	ConsentID  uuid.UUID  `json:"consent_id" db:"consent_id"`
	SectionKey string     `json:"section_key" db:"section_key"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// ConsentReviewItem records that one review area of a consent was reviewed.
type ConsentReviewItem struct {
	ID         uuid.UUID `json:"id" db:"id"`
	ConsentID  uuid.UUID `json:"consent_id" db:"consent_id"`
	ReviewArea string    `json:"review_area" db:"review_area"`
	ReviewedBy uuid.UUID `json:"reviewed_by" db:"reviewed_by"`
	ReviewedAt time.Time `json:"reviewed_at" db:"reviewed_at"`
}
