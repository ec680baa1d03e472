// Package consent drives the review checklist of a patient consent and the
// gate that moves it to valid.
package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/permission"
	"github.com/consentflow/consent-api/internal/repository"
	"github.com/consentflow/consent-api/internal/service/access"
	"github.com/consentflow/consent-api/internal/service/audit"
	apperrors "github.com/consentflow/consent-api/pkg/errors"
	"github.com/consentflow/consent-api/pkg/logger"
	"github.com/consentflow/consent-api/pkg/metrics"
)

// Fixed review areas.
const (
	AreaQuiz            = "quiz"
	AreaAcknowledgments = "acknowledgments"
	AreaSignature       = "signature"
)

// Permissions that allow marking an area reviewed.
var reviewerPermissions = []permission.Permission{
	permission.ValidateConsent,
	permission.HandleConsentSections,
	permission.ViewConsents,
}

// SectionArea is the review area of a content section type.
func SectionArea(sectionType string) string { return "section:" + sectionType }

// ChatArea is the review area of a chat session.
func ChatArea(sessionID uuid.UUID) string { return "chat:" + sessionID.String() }

// Notifier records notifications inside a transaction and delivers them
// once it has committed.
type Notifier interface {
	Enqueue(ctx context.Context, n *model.Notification) (*model.Notification, error)
	Flush(ctx context.Context, ns ...*model.Notification)
}

// AreaStatus is one line of the checklist.
type AreaStatus struct {
	Area       string     `json:"area"`
	Reviewed   bool       `json:"reviewed"`
	ReviewedBy *uuid.UUID `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

// Checklist is the review state of a consent at the time it was computed.
type Checklist struct {
	ConsentID   uuid.UUID           `json:"consent_id"`
	Status      model.ConsentStatus `json:"status"`
	Areas       []AreaStatus        `json:"areas"`
	AllReviewed bool                `json:"all_reviewed"`
	Missing     []string            `json:"missing"`
}

type Service struct {
	tx       repository.Transactor
	consents repository.ConsentRepository
	users    repository.UserRepository
	notifier Notifier
	access   *access.Evaluator
	auditor  *audit.AuditLogger
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(
	tx repository.Transactor,
	consents repository.ConsentRepository,
	users repository.UserRepository,
	notifier Notifier,
	evaluator *access.Evaluator,
	auditor *audit.AuditLogger,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{
		tx:       tx,
		consents: consents,
		users:    users,
		notifier: notifier,
		access:   evaluator,
		auditor:  auditor,
		log:      log.Named("consent"),
		metrics:  m,
		now:      time.Now,
	}
}

// RequiredAreas derives the review areas of a consent from its procedure's
// current content. Sections come first in sort order, one area per distinct
// section type. The acknowledgments area is required only when the procedure
// defines at least one acknowledgment, so a procedure without any is never
// blocked on an area the patient cannot complete.
func (s *Service) RequiredAreas(ctx context.Context, c *model.PatientConsent) ([]string, error) {
	sections, err := s.consents.ListSections(ctx, c.SurgeonProcedureID)
	if err != nil {
		return nil, apperrors.Store("list consent sections", err)
	}
	chats, err := s.consents.ListChatSessions(ctx, c.ID)
	if err != nil {
		return nil, apperrors.Store("list chat sessions", err)
	}
	acks, err := s.consents.CountAcknowledgments(ctx, c.SurgeonProcedureID)
	if err != nil {
		return nil, apperrors.Store("count acknowledgments", err)
	}

	seen := make(map[string]struct{}, len(sections))
	areas := make([]string, 0, len(sections)+len(chats)+3)
	for _, sec := range sections {
		area := SectionArea(sec.SectionType)
		if _, ok := seen[area]; ok {
			continue
		}
		seen[area] = struct{}{}
		areas = append(areas, area)
	}
	areas = append(areas, AreaQuiz)
	for _, chat := range chats {
		areas = append(areas, ChatArea(chat.ID))
	}
	if acks > 0 {
		areas = append(areas, AreaAcknowledgments)
	}
	return append(areas, AreaSignature), nil
}

// Checklist reports which required areas of a consent have been reviewed.
func (s *Service) Checklist(ctx context.Context, caller access.Principal, consentID uuid.UUID) (*Checklist, error) {
	c, err := s.consent(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if err := s.access.AuthorizeAny(ctx, caller, c.SurgeonID, reviewerPermissions...); err != nil {
		return nil, err
	}
	return s.checklist(ctx, c)
}

func (s *Service) checklist(ctx context.Context, c *model.PatientConsent) (*Checklist, error) {
	areas, err := s.RequiredAreas(ctx, c)
	if err != nil {
		return nil, err
	}
	items, err := s.consents.ListReviewItems(ctx, c.ID)
	if err != nil {
		return nil, apperrors.Store("list review items", err)
	}
	reviewed := make(map[string]*model.ConsentReviewItem, len(items))
	for _, item := range items {
		reviewed[item.ReviewArea] = item
	}

	out := &Checklist{
		ConsentID: c.ID,
		Status:    c.Status,
		Areas:     make([]AreaStatus, 0, len(areas)),
		Missing:   []string{},
	}
	for _, area := range areas {
		st := AreaStatus{Area: area}
		if item, ok := reviewed[area]; ok {
			by, at := item.ReviewedBy, item.ReviewedAt
			st.Reviewed = true
			st.ReviewedBy = &by
			st.ReviewedAt = &at
		} else {
			out.Missing = append(out.Missing, area)
		}
		out.Areas = append(out.Areas, st)
	}
	out.AllReviewed = len(out.Missing) == 0
	return out, nil
}

// MarkReviewed records that area has been reviewed. Marking an area twice is
// a no-op.
func (s *Service) MarkReviewed(ctx context.Context, caller access.Principal, consentID uuid.UUID, area string) (*Checklist, error) {
	c, err := s.consent(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if err := s.access.AuthorizeAny(ctx, caller, c.SurgeonID, reviewerPermissions...); err != nil {
		return nil, err
	}

	areas, err := s.RequiredAreas(ctx, c)
	if err != nil {
		return nil, err
	}
	if !contains(areas, area) {
		return nil, apperrors.Validation("unknown review area", area)
	}

	inserted, err := s.consents.AddReviewItem(ctx, &model.ConsentReviewItem{
		ID:         uuid.New(),
		ConsentID:  c.ID,
		ReviewArea: area,
		ReviewedBy: caller.UserID,
		ReviewedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, apperrors.Store("mark area reviewed", err)
	}
	if inserted {
		s.auditor.Record(ctx, caller.UserID, model.AuditActionMarkReviewed, model.AuditEntityPatientConsent, c.ID, &audit.LogOptions{
			Changes: map[string]interface{}{"review_area": area},
		})
	}
	return s.checklist(ctx, c)
}

// Validate moves a fully reviewed consent to valid. The completeness check
// runs against the areas required at this moment.
func (s *Service) Validate(ctx context.Context, caller access.Principal, consentID uuid.UUID) (*model.PatientConsent, error) {
	c, err := s.consent(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if err := s.access.Authorize(ctx, caller, c.SurgeonID, permission.ValidateConsent); err != nil {
		s.metrics.ConsentValidations.WithLabelValues("forbidden").Inc()
		return nil, err
	}
	if c.Status == model.ConsentValid || c.Status == model.ConsentWithdrawn {
		s.metrics.ConsentValidations.WithLabelValues("conflict").Inc()
		return nil, apperrors.Conflict(fmt.Sprintf("consent is already %s", c.Status), nil)
	}

	list, err := s.checklist(ctx, c)
	if err != nil {
		return nil, err
	}
	if !list.AllReviewed {
		s.metrics.ConsentValidations.WithLabelValues("incomplete").Inc()
		return nil, apperrors.Validation("all review areas must be reviewed before validation", list.Missing...)
	}

	var notifyTo *uuid.UUID
	if !caller.Role.Unscoped() {
		surgeon, err := s.users.GetSurgeonProfile(ctx, c.SurgeonID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Store("load surgeon", err)
		}
		if surgeon != nil {
			notifyTo = &surgeon.UserID
		}
	}
	validatorName := caller.Email
	if u, err := s.users.GetByID(ctx, caller.UserID); err == nil {
		validatorName = u.DisplayName()
	}

	now := s.now().UTC()
	var updated *model.PatientConsent
	var sent *model.Notification
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.consents.MarkValid(ctx, c.ID, c.Status, caller.UserID, now)
		if errors.Is(err, repository.ErrConflict) {
			return apperrors.Conflict("consent changed while it was being validated", err)
		}
		if err != nil {
			return apperrors.Store("validate consent", err)
		}
		if notifyTo != nil {
			sent, err = s.notifier.Enqueue(ctx, validatedNotice(updated, *notifyTo, caller.UserID, validatorName))
		}
		return err
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrConflict) {
			s.metrics.ConsentValidations.WithLabelValues("conflict").Inc()
		}
		return nil, err
	}

	s.metrics.ConsentValidations.WithLabelValues("valid").Inc()
	s.notifier.Flush(ctx, sent)
	s.log.Info("consent validated",
		"consent_id", updated.ID.String(),
		"previous_status", string(c.Status),
		"validated_by", caller.UserID.String(),
	)
	s.auditor.Record(ctx, caller.UserID, model.AuditActionValidate, model.AuditEntityPatientConsent, updated.ID, &audit.LogOptions{
		Changes: map[string]interface{}{"status": model.ConsentValid, "previous_status": c.Status},
	})
	return updated, nil
}

func validatedNotice(c *model.PatientConsent, to, from uuid.UUID, validatorName string) *model.Notification {
	return &model.Notification{
		UserID:   to,
		SenderID: &from,
		Type:     model.NotificationConsentValidated,
		Title:    "Consent Validated",
		Message:  fmt.Sprintf("%s has validated a patient consent.", validatorName),
		Data: model.JSONMap{
			"consent_id": c.ID.String(),
			"patient_id": c.PatientID.String(),
		},
	}
}

func (s *Service) consent(ctx context.Context, id uuid.UUID) (*model.PatientConsent, error) {
	c, err := s.consents.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFoundf("consent not found")
	}
	if err != nil {
		return nil, apperrors.Store("load consent", err)
	}
	return c, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
