package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// LocalBroker fans messages out to subscribers in the same process. It backs
// the memory storage driver where no Redis is available.
type LocalBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[*localSub]struct{}
	closed bool
	buffer int
}

type localSub struct {
	ch   chan []byte
	once sync.Once
}

func (s *localSub) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewLocalBroker returns a broker whose subscribers buffer up to buffer
// messages. A full subscriber drops the message.
func NewLocalBroker(buffer int) *LocalBroker {
	if buffer <= 0 {
		buffer = 64
	}
	return &LocalBroker{
		subs:   make(map[string]map[*localSub]struct{}),
		buffer: buffer,
	}
}

var _ Broker = (*LocalBroker)(nil)

func (b *LocalBroker) Publish(_ context.Context, channel string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs[channel] {
		select {
		case sub.ch <- payload:
		default:
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &localSub{ch: make(chan []byte, b.buffer)}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*localSub]struct{})
	}
	b.subs[channel][sub] = struct{}{}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], sub)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
		b.mu.Unlock()
		sub.close()
	}()

	return sub.ch, nil
}

// Drop closes every subscription on channel as a lost connection would.
func (b *LocalBroker) Drop(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[channel] {
		sub.close()
	}
	delete(b.subs, channel)
}

func (b *LocalBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for sub := range subs {
			sub.close()
		}
	}
	b.subs = nil
	return nil
}
