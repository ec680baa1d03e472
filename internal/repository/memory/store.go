// Package memory is an in-process implementation of the repository
// interfaces. It mirrors the Postgres semantics (compare-and-set updates,
// idempotent inserts, newest-first listings) and backs local runs and
// service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/repository"
)

type txKey struct{}

type state struct {
	users         []*model.User
	surgeons      []*model.SurgeonProfile
	assignments   []*model.StaffAssignment
	notifications []*model.Notification
	consents      []*model.PatientConsent
	sections      []*model.ConsentSection
	acks          map[uuid.UUID]int
	chats         []*model.ChatSession
	reviews       []*model.ConsentReviewItem
	outbox        []*model.OutboxEvent
	audit         []*model.AuditLog
}

func newState() *state {
	return &state{acks: make(map[uuid.UUID]int)}
}

func (s *state) clone() *state {
	c := &state{acks: make(map[uuid.UUID]int, len(s.acks))}
	for k, v := range s.acks {
		c.acks[k] = v
	}
	for _, u := range s.users {
		v := *u
		c.users = append(c.users, &v)
	}
	for _, p := range s.surgeons {
		v := *p
		c.surgeons = append(c.surgeons, &v)
	}
	for _, a := range s.assignments {
		c.assignments = append(c.assignments, a.Clone())
	}
	for _, n := range s.notifications {
		c.notifications = append(c.notifications, cloneNotification(n))
	}
	for _, pc := range s.consents {
		c.consents = append(c.consents, cloneConsent(pc))
	}
	for _, sec := range s.sections {
		v := *sec
		c.sections = append(c.sections, &v)
	}
	for _, cs := range s.chats {
		v := *cs
		c.chats = append(c.chats, &v)
	}
	for _, r := range s.reviews {
		v := *r
		c.reviews = append(c.reviews, &v)
	}
	for _, e := range s.outbox {
		c.outbox = append(c.outbox, cloneEvent(e))
	}
	for _, l := range s.audit {
		v := *l
		c.audit = append(c.audit, &v)
	}
	return c
}

// Store holds every table in memory. Transactions are serialized; a failed
// transaction restores the snapshot taken when it began.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state
	now  func() time.Time
}

func NewStore() *Store {
	return &Store{st: newState(), now: func() time.Time { return time.Now().UTC() }}
}

// WithTx implements repository.Transactor.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.st.clone()
	s.mu.RUnlock()

	restore := func() {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
	}

	defer func() {
		if p := recover(); p != nil {
			restore()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		restore()
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// write runs fn under the write lock. Outside a transaction it also waits for
// any running transaction so a rollback cannot discard the write.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if !s.inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) read(fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.st)
}

func (s *Store) Transactor() repository.Transactor { return s }

func (s *Store) Users() repository.UserRepository { return &userRepository{s} }

func (s *Store) Assignments() repository.StaffAssignmentRepository {
	return &staffAssignmentRepository{s}
}

func (s *Store) Notifications() repository.NotificationRepository {
	return &notificationRepository{s}
}

func (s *Store) Consents() repository.ConsentRepository { return &consentRepository{s} }

func (s *Store) Outbox() repository.OutboxRepository { return &outboxRepository{s} }

func (s *Store) Audit() repository.AuditRepository { return &auditRepository{s} }

// newestFirst orders by created time descending. Later insertions win ties.
func newestFirst[T any](items []T, created func(T) time.Time) []T {
	out := make([]T, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		out = append(out, items[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return created(out[i]).After(created(out[j]))
	})
	return out
}
