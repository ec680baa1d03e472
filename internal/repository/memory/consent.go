package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/repository"
)

type consentRepository struct {
	s *Store
}

func (r *consentRepository) GetByID(_ context.Context, id uuid.UUID) (*model.PatientConsent, error) {
	var out *model.PatientConsent
	err := r.s.read(func(st *state) error {
		if c := consentByID(st, id); c != nil {
			out = cloneConsent(c)
			return nil
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r *consentRepository) ListSections(_ context.Context, surgeonProcedureID uuid.UUID) ([]*model.ConsentSection, error) {
	var out []*model.ConsentSection
	err := r.s.read(func(st *state) error {
		for _, sec := range st.sections {
			if sec.SurgeonProcedureID == surgeonProcedureID {
				v := *sec
				out = append(out, &v)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, err
}

func (r *consentRepository) CountAcknowledgments(_ context.Context, surgeonProcedureID uuid.UUID) (int, error) {
	var count int
	err := r.s.read(func(st *state) error {
		count = st.acks[surgeonProcedureID]
		return nil
	})
	return count, err
}

func (r *consentRepository) ListChatSessions(_ context.Context, consentID uuid.UUID) ([]*model.ChatSession, error) {
	var out []*model.ChatSession
	err := r.s.read(func(st *state) error {
		for _, cs := range st.chats {
			if cs.ConsentID == consentID {
				v := *cs
				out = append(out, &v)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, err
}

func (r *consentRepository) ListReviewItems(_ context.Context, consentID uuid.UUID) ([]*model.ConsentReviewItem, error) {
	var out []*model.ConsentReviewItem
	err := r.s.read(func(st *state) error {
		for _, item := range st.reviews {
			if item.ConsentID == consentID {
				v := *item
				out = append(out, &v)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReviewedAt.Before(out[j].ReviewedAt) })
	return out, err
}

func (r *consentRepository) AddReviewItem(ctx context.Context, item *model.ConsentReviewItem) (bool, error) {
	inserted := false
	err := r.s.write(ctx, func(st *state) error {
		for _, have := range st.reviews {
			if have.ConsentID == item.ConsentID && have.ReviewArea == item.ReviewArea {
				return nil
			}
		}
		v := *item
		st.reviews = append(st.reviews, &v)
		inserted = true
		return nil
	})
	return inserted, err
}

func (r *consentRepository) MarkValid(ctx context.Context, id uuid.UUID, from model.ConsentStatus, reviewedBy uuid.UUID, at time.Time) (*model.PatientConsent, error) {
	var out *model.PatientConsent
	err := r.s.write(ctx, func(st *state) error {
		c := consentByID(st, id)
		if c == nil || c.Status != from {
			return repository.ErrConflict
		}
		t, by := at, reviewedBy
		c.Status = model.ConsentValid
		c.ReviewedAt = &t
		c.ReviewedBy = &by
		c.UpdatedAt = at
		out = cloneConsent(c)
		return nil
	})
	return out, err
}

func consentByID(st *state, id uuid.UUID) *model.PatientConsent {
	for _, c := range st.consents {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func cloneConsent(c *model.PatientConsent) *model.PatientConsent {
	v := *c
	if c.PatientCompletedAt != nil {
		t := *c.PatientCompletedAt
		v.PatientCompletedAt = &t
	}
	if c.ReviewedAt != nil {
		t := *c.ReviewedAt
		v.ReviewedAt = &t
	}
	if c.ReviewedBy != nil {
		id := *c.ReviewedBy
		v.ReviewedBy = &id
	}
	return &v
}
