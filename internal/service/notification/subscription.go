package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/model"
)

type EventKind string

const (
	// EventNotification carries a newly delivered notification.
	EventNotification EventKind = "notification"
	// EventResync follows a reconnect; events may have been missed and the
	// receiver must reload its list and unread count.
	EventResync EventKind = "resync"
)

// Event is a realtime hint. The store stays the source of truth.
type Event struct {
	Kind         EventKind           `json:"kind"`
	Notification *model.Notification `json:"notification,omitempty"`
}

// Subscription is a session scoped handle on a user's realtime channel.
type Subscription struct {
	events    chan Event
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Events is closed once the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close ends the subscription and waits for its goroutine to exit.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *Service) reconnectBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Subscribe opens a realtime subscription for userID. It lives until ctx is
// done or Close is called.
func (s *Service) Subscribe(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return s.subscribe(ctx, userID, s.reconnectBackOff)
}

func (s *Service) subscribe(ctx context.Context, userID uuid.UUID, newBackOff func() backoff.BackOff) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	channel := Channel(userID)

	msgs, err := s.broker.Subscribe(ctx, channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	sub := &Subscription{
		events: make(chan Event, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.metrics.ActiveSubscriptions.Inc()

	go func() {
		defer close(sub.done)
		defer close(sub.events)
		defer s.metrics.ActiveSubscriptions.Dec()

		for {
			s.forward(ctx, msgs, sub.events)
			if ctx.Err() != nil {
				return
			}

			s.log.Warn("realtime subscription dropped, reconnecting", "user_id", userID.String())
			err := backoff.RetryNotify(func() error {
				var err error
				msgs, err = s.broker.Subscribe(ctx, channel)
				return err
			}, backoff.WithContext(newBackOff(), ctx), func(err error, next time.Duration) {
				s.log.Warn("realtime resubscribe failed", "user_id", userID.String(), "retry_in", next.String(), "error", err.Error())
			})
			if err != nil {
				return
			}

			select {
			case sub.events <- Event{Kind: EventResync}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}

// forward relays broker payloads until msgs closes or ctx is done.
func (s *Service) forward(ctx context.Context, msgs <-chan []byte, out chan<- Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-msgs:
			if !ok {
				return
			}
			var evt Event
			if err := json.Unmarshal(raw, &evt); err != nil {
				s.log.Warn("dropping malformed realtime message", "error", err.Error())
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}
}
