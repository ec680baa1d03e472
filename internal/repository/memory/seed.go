package memory

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/model"
)

// Seed is the on-disk fixture format read by LoadSeed.
type Seed struct {
	Users           []*model.User           `json:"users"`
	Surgeons        []*model.SurgeonProfile `json:"surgeons"`
	Consents        []*model.PatientConsent `json:"consents"`
	Sections        []*model.ConsentSection `json:"sections"`
	ChatSessions    []*model.ChatSession    `json:"chat_sessions"`
	Acknowledgments map[uuid.UUID]int       `json:"acknowledgments"`
}

func (s *Store) AddUser(u *model.User) *model.User {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	stamp(&u.Base, s.now())
	s.mu.Lock()
	defer s.mu.Unlock()
	v := *u
	s.st.users = append(s.st.users, &v)
	return u
}

func (s *Store) AddSurgeon(p *model.SurgeonProfile) *model.SurgeonProfile {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	stamp(&p.Base, s.now())
	s.mu.Lock()
	defer s.mu.Unlock()
	v := *p
	s.st.surgeons = append(s.st.surgeons, &v)
	return p
}

func (s *Store) AddConsent(c *model.PatientConsent) *model.PatientConsent {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
		c.UpdatedAt = c.CreatedAt
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.consents = append(s.st.consents, cloneConsent(c))
	return c
}

func (s *Store) AddSection(sec *model.ConsentSection) *model.ConsentSection {
	if sec.ID == uuid.Nil {
		sec.ID = uuid.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := *sec
	s.st.sections = append(s.st.sections, &v)
	return sec
}

func (s *Store) AddChatSession(cs *model.ChatSession) *model.ChatSession {
	if cs.ID == uuid.Nil {
		cs.ID = uuid.New()
	}
	if cs.StartedAt.IsZero() {
		cs.StartedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := *cs
	s.st.chats = append(s.st.chats, &v)
	return cs
}

func (s *Store) SetAcknowledgments(surgeonProcedureID uuid.UUID, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.acks[surgeonProcedureID] = count
}

// LoadSeed reads a JSON Seed from r into the store.
func (s *Store) LoadSeed(r io.Reader) error {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("failed to decode seed: %w", err)
	}
	for _, u := range seed.Users {
		if !u.Role.Valid() {
			return fmt.Errorf("seed user %s: invalid role %q", u.Email, u.Role)
		}
		s.AddUser(u)
	}
	for _, p := range seed.Surgeons {
		s.AddSurgeon(p)
	}
	for _, c := range seed.Consents {
		s.AddConsent(c)
	}
	for _, sec := range seed.Sections {
		s.AddSection(sec)
	}
	for _, cs := range seed.ChatSessions {
		s.AddChatSession(cs)
	}
	for procID, n := range seed.Acknowledgments {
		s.SetAcknowledgments(procID, n)
	}
	return nil
}

// LoadSeedFile is LoadSeed over a file path.
func (s *Store) LoadSeedFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return s.LoadSeed(f)
}

func stamp(b *model.Base, now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
}
